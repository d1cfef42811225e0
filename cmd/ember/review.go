package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/ember/internal/app"
	"github.com/zulandar/ember/internal/failure"
	"github.com/zulandar/ember/internal/models"
	"github.com/zulandar/ember/internal/review"
)

func newReviewCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "review",
		Short: "Review the latest drain",
		Long:  "Prints the latest drain's summary, its failures grouped by category with the suggested action, its pull requests and its smoke-test checklist.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConsole(cmd, configPath, func(ctx context.Context, e *env, c *app.Console) error {
				s, err := fetchSummary(cmd, e)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				printSummary(cmd, s)

				groups := failure.BuildGroups(s.JobsWithStatus(models.JobFailed))
				if len(groups) > 0 {
					fmt.Fprintln(out, "\nFailures:")
					for _, g := range groups {
						fmt.Fprintf(out, "  %s (%d) · %s\n", g.Title, len(g.Jobs), g.Tier.Label())
						for _, j := range g.Jobs {
							fmt.Fprintf(out, "    %s %s\n", j.JobID, truncate(j.Subject, 60))
						}
					}
				}

				prs, err := c.FetchPRStatuses(ctx, s.DrainID)
				if err != nil {
					fmt.Fprintf(out, "\nPull requests unavailable: %v\n", err)
				} else if len(prs) > 0 {
					fmt.Fprintf(out, "\nPull requests (%d ready):\n", len(review.Ready(prs)))
					writePRTable(cmd, prs)
				}

				if items := review.ParseChecklist(s.SmokeTestChecklist); len(items) > 0 {
					fmt.Fprintln(out, "\nSmoke test:")
					printChecklist(cmd, items, review.AlignChecked(s.ChecklistState, len(items)))
				}
				return nil
			})
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}
