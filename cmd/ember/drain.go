package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/ember/internal/api"
	"github.com/zulandar/ember/internal/app"
	"github.com/zulandar/ember/internal/drain"
	"github.com/zulandar/ember/internal/journal"
	"github.com/zulandar/ember/internal/models"
	"github.com/zulandar/ember/internal/review"
)

// errNoDrain is returned when a command needs a drain and none has run.
var errNoDrain = errors.New("no drain has run for this project")

func newDrainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Drain lifecycle commands",
	}

	cmd.AddCommand(newDrainStatusCmd())
	cmd.AddCommand(newDrainPreviewCmd())
	cmd.AddCommand(newDrainStartCmd())
	cmd.AddCommand(newDrainStopCmd())
	cmd.AddCommand(newDrainSummaryCmd())
	cmd.AddCommand(newDrainDetailCmd())
	cmd.AddCommand(newDrainPRsCmd())
	cmd.AddCommand(newDrainMergeCmd())
	cmd.AddCommand(newDrainChecklistCmd())
	return cmd
}

func newDrainStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether a drain is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, configPath)
			if err != nil {
				return err
			}
			defer e.Close()
			project, err := e.project()
			if err != nil {
				return err
			}

			st, err := e.client.DrainStatus(cmd.Context(), project)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !st.Active {
				fmt.Fprintf(out, "No drain running (%d beads ready)\n", st.ReadyCount)
				return nil
			}
			fmt.Fprintln(out, "Drain running")
			fmt.Fprintf(out, "  Started:   %s\n", agoPtr(st.StartedAt))
			fmt.Fprintf(out, "  Scope:     %d beads\n", st.ScopeSize)
			fmt.Fprintf(out, "  Jobs:      %d created\n", st.JobsCreated)
			if st.MaxJobs > 0 {
				fmt.Fprintf(out, "  Max jobs:  %d\n", st.MaxJobs)
			}
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newDrainPreviewCmd() *cobra.Command {
	var (
		configPath string
		maxCount   int
	)

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Show the beads an auto-selected drain would take",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, configPath)
			if err != nil {
				return err
			}
			defer e.Close()
			project, err := e.project()
			if err != nil {
				return err
			}
			if maxCount <= 0 {
				maxCount = e.cfg.Drain.AutoPick
			}

			p, err := e.client.PreviewDrain(cmd.Context(), project, maxCount)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(p.Candidates) == 0 {
				fmt.Fprintln(out, "No beads are ready.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPRI\tSUBJECT")
			for _, c := range p.Candidates {
				fmt.Fprintf(w, "%s\t%s\t%s\n", c.ID, models.PriorityLabel(c.Priority), truncate(c.Subject, 60))
			}
			w.Flush()
			fmt.Fprintf(out, "\n%d of %d ready beads\n", len(p.Candidates), p.Count)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVarP(&maxCount, "max", "m", 0, "maximum beads to preview (default drain.auto_pick)")
	return cmd
}

func newDrainStartCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "start [bead-id...]",
		Short: "Start a drain",
		Long:  "Starts a drain over the given beads. Without arguments the auto-pick selection is used.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConsole(cmd, configPath, func(ctx context.Context, e *env, c *app.Console) error {
				res, err := c.Burn(ctx, args)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Drain started: %d jobs over %d beads\n", len(res.JobsCreated), res.ScopeSize)
				return nil
			})
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newDrainStopCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the running drain",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, configPath)
			if err != nil {
				return err
			}
			defer e.Close()
			project, err := e.project()
			if err != nil {
				return err
			}

			res, err := e.client.StopDrain(cmd.Context(), project)
			e.journal.Record(cmd.Context(), journal.ActionStopDrain, project, err)
			if err != nil {
				return err
			}
			if res.WasDraining {
				fmt.Fprintln(cmd.OutOrStdout(), "Drain stopped")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "No drain was running")
			}
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

// fetchSummary loads the summary of the project's latest drain.
func fetchSummary(cmd *cobra.Command, e *env) (*models.DrainSummary, error) {
	project, err := e.project()
	if err != nil {
		return nil, err
	}
	s, err := e.client.DrainSummary(cmd.Context(), project)
	if api.IsCode(err, "NOT_FOUND") {
		return nil, errNoDrain
	}
	if err != nil {
		return nil, err
	}
	if s == nil || s.DrainID == "" {
		return nil, errNoDrain
	}
	return s, nil
}

// drainIDArg returns args[0] or the latest drain's id.
func drainIDArg(cmd *cobra.Command, e *env, args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	s, err := fetchSummary(cmd, e)
	if err != nil {
		return "", err
	}
	return s.DrainID, nil
}

func newDrainSummaryCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Summarize the latest drain",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, configPath)
			if err != nil {
				return err
			}
			defer e.Close()

			s, err := fetchSummary(cmd, e)
			if err != nil {
				return err
			}
			printSummary(cmd, s)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func printSummary(cmd *cobra.Command, s *models.DrainSummary) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Drain %s: %d completed, %d failed of %d", s.DrainID, s.CompletedJobs, s.FailedJobs, s.TotalJobs)
	if !s.StartedAt.IsZero() && !s.CompletedAt.IsZero() {
		fmt.Fprintf(out, " in %s", drain.FormatElapsed(s.CompletedAt.Sub(s.StartedAt)))
	}
	fmt.Fprintln(out)
	if len(s.Jobs) == 0 {
		return
	}

	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "JOB\tSTATUS\tSUBJECT\tRESULT")
	for _, j := range s.Jobs {
		result := j.PRURL
		if j.Status == models.JobFailed {
			result = orDash(j.FailureTitle)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", j.JobID, j.Status, truncate(j.Subject, 50), orDash(result))
	}
	w.Flush()
}

func newDrainDetailCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "detail [drain-id]",
		Short: "Show a drain and its jobs",
		Long:  "Shows the drain record and every job it created. Defaults to the latest drain.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, configPath)
			if err != nil {
				return err
			}
			defer e.Close()
			project, err := e.project()
			if err != nil {
				return err
			}
			id, err := drainIDArg(cmd, e, args)
			if err != nil {
				return err
			}

			d, err := e.client.DrainDetail(cmd.Context(), project, id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:          %s\n", d.ID)
			fmt.Fprintf(out, "Status:      %s\n", d.Status)
			fmt.Fprintf(out, "Started:     %s\n", ago(d.StartedAt))
			fmt.Fprintf(out, "Completed:   %s\n", agoPtr(d.CompletedAt))
			fmt.Fprintf(out, "Scope:       %d beads\n", d.ScopeSize)
			fmt.Fprintf(out, "Jobs:        %d completed, %d failed of %d\n", d.CompletedJobs, d.FailedJobs, d.TotalJobs)
			if len(d.Jobs) > 0 {
				fmt.Fprintln(out)
				writeJobTable(cmd, d.Jobs)
			}
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newDrainPRsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "prs [drain-id]",
		Short: "Show the pull requests a drain opened",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConsole(cmd, configPath, func(ctx context.Context, e *env, c *app.Console) error {
				id, err := drainIDArg(cmd, e, args)
				if err != nil {
					return err
				}
				prs, err := c.FetchPRStatuses(ctx, id)
				if err != nil {
					return err
				}
				if len(prs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No pull requests.")
					return nil
				}
				writePRTable(cmd, prs)
				return nil
			})
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func writePRTable(cmd *cobra.Command, prs []models.PRStatus) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PR\tSTATUS\tCI\tREVIEW\tTITLE")
	for _, pr := range prs {
		fmt.Fprintf(w, "#%d\t%s\t%s\t%s\t%s\n",
			pr.PRNumber, review.StatusOf(pr).Label(), pr.CIStatus, pr.ReviewStatus, truncate(pr.Title, 50))
	}
	w.Flush()
}

func newDrainMergeCmd() *cobra.Command {
	var (
		configPath string
		ready      bool
	)

	cmd := &cobra.Command{
		Use:   "merge [pr-number...]",
		Short: "Merge pull requests",
		Long:  "Merges the given pull requests of the latest drain one at a time. Only pull requests that are ready to merge are merged. With --ready every ready pull request is merged.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if ready == (len(args) > 0) {
				return fmt.Errorf("give pull request numbers or --ready, not both")
			}
			numbers := make([]int, 0, len(args))
			for _, a := range args {
				n, err := strconv.Atoi(strings.TrimPrefix(a, "#"))
				if err != nil || n <= 0 {
					return fmt.Errorf("invalid pull request number %q", a)
				}
				numbers = append(numbers, n)
			}

			return withConsole(cmd, configPath, func(ctx context.Context, e *env, c *app.Console) error {
				out := cmd.OutOrStdout()
				id, err := drainIDArg(cmd, e, nil)
				if err != nil {
					return err
				}
				prs, err := c.FetchPRStatuses(ctx, id)
				if err != nil {
					return err
				}
				if ready {
					for _, pr := range review.Ready(prs) {
						numbers = append(numbers, pr.PRNumber)
					}
					if len(numbers) == 0 {
						fmt.Fprintln(out, "No pull requests are ready to merge.")
						return nil
					}
				}

				failed := 0
				for _, n := range numbers {
					if err := c.Assistant.MergeOne(ctx, prs, n); err != nil {
						fmt.Fprintf(out, "#%d: %v\n", n, err)
						failed++
						continue
					}
					fmt.Fprintf(out, "#%d: merged\n", n)
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d merges failed", failed, len(numbers))
				}
				return nil
			})
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVar(&ready, "ready", false, "merge every pull request that is ready")
	return cmd
}

func newDrainChecklistCmd() *cobra.Command {
	var (
		configPath string
		toggle     int
	)

	cmd := &cobra.Command{
		Use:   "checklist",
		Short: "Show or tick the latest drain's smoke-test checklist",
		Long:  "Prints the smoke-test checklist of the latest drain. --toggle N flips item N (1-based) and saves the checked state.",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, configPath)
			if err != nil {
				return err
			}
			defer e.Close()

			s, err := fetchSummary(cmd, e)
			if err != nil {
				return err
			}
			items := review.ParseChecklist(s.SmokeTestChecklist)
			if len(items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No checklist for this drain.")
				return nil
			}
			checked := review.AlignChecked(s.ChecklistState, len(items))

			if toggle != 0 {
				if toggle < 1 || toggle > len(items) {
					return fmt.Errorf("item %d out of range 1-%d", toggle, len(items))
				}
				checked[toggle-1] = !checked[toggle-1]
				err := e.client.UpdateChecklist(cmd.Context(), e.cfg.Project, s.DrainID, checked)
				e.journal.Record(cmd.Context(), journal.ActionChecklist, s.DrainID, err)
				if err != nil {
					return err
				}
			}
			printChecklist(cmd, items, checked)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVarP(&toggle, "toggle", "t", 0, "item number to check or uncheck")
	return cmd
}

func printChecklist(cmd *cobra.Command, items []string, checked []bool) {
	out := cmd.OutOrStdout()
	done := 0
	for i, item := range items {
		box := "[ ]"
		if checked[i] {
			box = "[x]"
			done++
		}
		fmt.Fprintf(out, "%2d. %s %s\n", i+1, box, item)
	}
	fmt.Fprintf(out, "%d/%d checked\n", done, len(items))
}
