package main

import (
	"log/slog"

	"github.com/carreto/dispatch/internal/config"
	"github.com/carreto/dispatch/internal/logging"
	"github.com/spf13/cobra"
)

type runtime struct {
	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	rt := &runtime{}

	root := &cobra.Command{
		Use:           "carreto",
		Short:         "Ride dispatch and negotiation engine",
		Long:          `carreto matches freight rides to drivers by bairro, runs the price negotiation, settles platform fees against driver wallets and expires rides nobody takes.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("store") {
				cfg.StoreDriver, _ = cmd.Flags().GetString("store")
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			rt.cfg = cfg
			rt.logger = logging.NewLogger(cfg.LogLevel)
			slog.SetDefault(rt.logger)
			return nil
		},
	}
	root.PersistentFlags().String("store", "", "store driver override: postgres or memory")

	root.AddCommand(
		newServeCmd(rt),
		newSweepCmd(rt),
		newMigrateCmd(rt),
		newSeedCmd(rt),
	)
	return root
}
