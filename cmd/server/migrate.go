package main

import (
	"errors"

	"github.com/carreto/dispatch/internal/config"
	"github.com/carreto/dispatch/internal/database"
	"github.com/carreto/dispatch/migrations"
	"github.com/spf13/cobra"
)

func newMigrateCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending SQL migrations to Postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := rt.cfg
			if cfg.StoreDriver == config.StoreDriverMemory {
				return errors.New("migrate needs STORE_DRIVER=postgres")
			}
			ctx := cmd.Context()
			db, err := database.NewPostgres(ctx, cfg.DatabaseURL, 2, 1)
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := database.Migrate(ctx, db.DB, migrations.FS, rt.logger)
			if err != nil {
				return err
			}
			rt.logger.Info("migrations complete", "applied", applied)
			return nil
		},
	}
}
