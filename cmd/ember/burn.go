package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/zulandar/ember/internal/app"
	"github.com/zulandar/ember/internal/tui"
)

func newBurnCmd() *cobra.Command {
	var (
		configPath string
		logFile    string
	)

	cmd := &cobra.Command{
		Use:   "burn",
		Short: "Run the interactive burn workflow",
		Long:  "Opens a terminal UI to select beads, watch the drain burn, and review failures, pull requests and the smoke-test checklist.",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Log lines would tear the alternate screen.
			var logs io.Writer = io.Discard
			if logFile != "" {
				f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
				if err != nil {
					return fmt.Errorf("open log file: %w", err)
				}
				defer f.Close()
				logs = f
			}
			cmd.SetErr(logs)

			return withConsole(cmd, configPath, func(ctx context.Context, e *env, c *app.Console) error {
				ctx, cancel := signalContext(cmd)
				defer cancel()
				c.Start(ctx)
				return tui.Run(ctx, c)
			})
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&logFile, "log-file", "", "append logs to this file")
	return cmd
}
