package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/zulandar/ember/internal/app"
	"github.com/zulandar/ember/internal/dashboard"
)

func newDashboardCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Start the web dashboard",
		Long:  "Launches a local web dashboard running the burn workflow with live updates.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConsole(cmd, configPath, func(ctx context.Context, e *env, c *app.Console) error {
				ctx, cancel := signalContext(cmd)
				defer cancel()
				if port == 0 {
					port = e.cfg.Dashboard.Port
				}
				c.Start(ctx)
				return dashboard.Start(ctx, dashboard.StartOpts{
					Console: c,
					Port:    port,
					Out:     cmd.OutOrStdout(),
					Logger:  e.logger,
				})
			})
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (default dashboard.port)")
	return cmd
}
