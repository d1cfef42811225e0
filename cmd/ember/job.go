package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/ember/internal/api"
	"github.com/zulandar/ember/internal/drain"
	"github.com/zulandar/ember/internal/journal"
	"github.com/zulandar/ember/internal/models"
)

func newJobCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Job inspection commands",
	}

	cmd.AddCommand(newJobListCmd())
	cmd.AddCommand(newJobShowCmd())
	cmd.AddCommand(newJobStatsCmd())
	cmd.AddCommand(newJobRetryCmd())
	return cmd
}

func newJobListCmd() *cobra.Command {
	var (
		configPath string
		status     string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the project's jobs",
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

			jobs, err := e.client.ListJobs(cmd.Context(), api.JobFilter{ProjectID: project, Status: models.JobStatus(status)})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(jobs) == 0 {
				fmt.Fprintln(out, "No jobs found.")
				return nil
			}
			writeJobTable(cmd, jobs)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&status, "status", "", "filter by status (queued, running, completed, failed, cancelled)")
	return cmd
}

func writeJobTable(cmd *cobra.Command, jobs []models.Job) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tBEAD\tSTATUS\tPRI\tFAILURE\tCREATED")
	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			j.ID, orDash(j.BeadID), j.Status, j.Priority, orDash(j.FailureCategory()), ago(j.CreatedAt))
	}
	w.Flush()
}

func newJobShowCmd() *cobra.Command {
	var (
		configPath string
		logLines   int
	)

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show job details",
		Long:  "Displays a job with its result, failure analysis and the tail of its output log.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, configPath)
			if err != nil {
				return err
			}
			defer e.Close()

			j, err := e.client.GetJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printJob(cmd, j, logLines)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVarP(&logLines, "lines", "n", 20, "output log lines to show (0 for none)")
	return cmd
}

func printJob(cmd *cobra.Command, j *models.Job, logLines int) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ID:          %s\n", j.ID)
	fmt.Fprintf(out, "Status:      %s\n", j.Status)
	fmt.Fprintf(out, "Bead:        %s\n", orDash(j.BeadID))
	fmt.Fprintf(out, "Drain:       %s\n", orDash(j.DrainID))
	fmt.Fprintf(out, "Worker:      %s\n", orDash(string(j.WorkerType)))
	fmt.Fprintf(out, "Created:     %s\n", ago(j.CreatedAt))
	fmt.Fprintf(out, "Started:     %s\n", agoPtr(j.StartedAt))
	if j.StartedAt != nil && j.CompletedAt != nil {
		fmt.Fprintf(out, "Duration:    %s\n", drain.FormatElapsed(j.CompletedAt.Sub(*j.StartedAt)))
	}
	if j.Error != "" {
		fmt.Fprintf(out, "Error:       %s\n", j.Error)
	}

	if r := j.Result; r != nil {
		fmt.Fprintln(out, "\nResult:")
		if r.PRURL != "" {
			fmt.Fprintf(out, "  PR:        %s\n", r.PRURL)
		}
		if r.BranchName != "" {
			fmt.Fprintf(out, "  Branch:    %s\n", r.BranchName)
		}
		if r.TestResults != nil && r.TestResults.Ran {
			verdict := "failed"
			if r.TestResults.Passed {
				verdict = "passed"
			}
			fmt.Fprintf(out, "  Tests:     %s %s\n", verdict, r.TestResults.Summary)
		}
		if r.DurationMs > 0 {
			fmt.Fprintf(out, "  Run time:  %s\n", drain.FormatElapsed(time.Duration(r.DurationMs)*time.Millisecond))
		}
		if r.Summary != "" {
			fmt.Fprintf(out, "\n%s\n", r.Summary)
		}
	}

	if fa := j.FailureAnalysis; fa != nil {
		fmt.Fprintf(out, "\nFailure: %s (%s)\n", fa.Title, fa.Category)
		if fa.Summary != "" {
			fmt.Fprintln(out, fa.Summary)
		}
		for _, s := range fa.Suggestions {
			fmt.Fprintf(out, "  - %s\n", s)
		}
	}

	if logLines > 0 && j.OutputLog != "" {
		fmt.Fprintln(out, "\nOutput:")
		fmt.Fprintln(out, tailLines(j.OutputLog, logLines))
	}
}

func newJobStatsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show job counts and worker concurrency",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, configPath)
			if err != nil {
				return err
			}
			defer e.Close()

			st, err := e.client.JobStats(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "QUEUED\tRUNNING\tCOMPLETED\tFAILED\tCANCELLED\tSLOTS")
			fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%d\t%d/%d\n",
				st.Queued, st.Running, st.Completed, st.Failed, st.Cancelled,
				st.Concurrency.Running, st.Concurrency.Max)
			w.Flush()
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newJobRetryCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "retry <id>...",
		Short: "Retry failed jobs",
		Long:  "Retries each job in turn. A failed retry is reported and the rest still run.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, configPath)
			if err != nil {
				return err
			}
			defer e.Close()

			out := cmd.OutOrStdout()
			failed := 0
			for _, id := range args {
				j, err := e.client.RetryJob(cmd.Context(), id)
				e.journal.Record(cmd.Context(), journal.ActionRetry, id, err)
				if err != nil {
					fmt.Fprintf(out, "%s: retry failed: %v\n", id, err)
					failed++
					continue
				}
				fmt.Fprintf(out, "%s: retried as %s (%s)\n", id, j.ID, j.Status)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d retries failed", failed, len(args))
			}
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}
