package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/ember/internal/app"
)

func newDispatchCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "dispatch <bead-id>",
		Short: "Dispatch a single bead as a job",
		Long:  "Creates one job for the bead outside of any drain, using the bead's instructions as the prompt.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConsole(cmd, configPath, func(ctx context.Context, e *env, c *app.Console) error {
				job, err := c.Dispatch(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Dispatched %s as job %s (%s)\n", args[0], job.ID, job.Status)
				return nil
			})
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newAutoDispatchCmd() *cobra.Command {
	var (
		configPath string
		once       bool
	)

	cmd := &cobra.Command{
		Use:   "autodispatch",
		Short: "Keep one ready bead in flight at a time",
		Long:  "Dispatches the highest-priority ready bead whenever the project has no queued or running job, until interrupted. With --once a single attempt is made.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConsole(cmd, configPath, func(ctx context.Context, e *env, c *app.Console) error {
				out := cmd.OutOrStdout()
				if once {
					job, err := c.Auto.Tick(ctx)
					if err != nil {
						return err
					}
					if job == nil {
						fmt.Fprintln(out, "Nothing to dispatch.")
						return nil
					}
					fmt.Fprintf(out, "Dispatched %s as job %s\n", job.BeadID, job.ID)
					return nil
				}

				ctx, cancel := signalContext(cmd)
				defer cancel()
				c.Start(ctx)
				c.SetAutoDispatch(true)
				fmt.Fprintf(out, "Auto-dispatching %s, press Ctrl-C to stop\n", c.Project)
				<-ctx.Done()
				c.SetAutoDispatch(false)
				if st := c.Auto.Status(); st.LastDispatched != "" {
					fmt.Fprintf(out, "Last dispatched: %s\n", st.LastDispatched)
				}
				return nil
			})
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVar(&once, "once", false, "make one dispatch attempt and exit")
	return cmd
}
