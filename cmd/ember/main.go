package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ember",
		Short: "Burn down a dev-dash backlog in drains",
		Long:  "Ember selects ready beads, runs them as a drain on the dev-dash backend, and helps review what came back.",
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newBeadCmd())
	cmd.AddCommand(newJobCmd())
	cmd.AddCommand(newDispatchCmd())
	cmd.AddCommand(newAutoDispatchCmd())
	cmd.AddCommand(newDrainCmd())
	cmd.AddCommand(newReviewCmd())
	cmd.AddCommand(newBurnCmd())
	cmd.AddCommand(newDashboardCmd())
	cmd.AddCommand(newMCPCmd())
	cmd.AddCommand(newHistoryCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ember %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
