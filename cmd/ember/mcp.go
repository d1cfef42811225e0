package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/zulandar/ember/internal/app"
	"github.com/zulandar/ember/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve drain tools over MCP on stdio",
		Long:  "Runs a Model Context Protocol server on stdin/stdout exposing ready beads, drain control, failure groups and pull request tools.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConsole(cmd, configPath, func(ctx context.Context, e *env, c *app.Console) error {
				c.Start(ctx)
				return mcp.Serve(mcp.NewServer(c, Version))
			})
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}
