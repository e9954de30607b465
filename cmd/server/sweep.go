package main

import (
	"github.com/spf13/cobra"
)

func newSweepCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire every open ride past its timeout once, then exit",
		Long:  `sweep runs one pass of the timeout supervisor. It is meant for a cron job when serve runs with more than one replica, or for recovering after an outage.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, rt.cfg, rt.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			expired, err := a.supervisor.Sweep(ctx)
			rt.logger.Info("sweep finished", "expired", expired)
			return err
		},
	}
}
