package main

import (
	"fmt"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/ember/internal/api"
	"github.com/zulandar/ember/internal/bead"
	"github.com/zulandar/ember/internal/journal"
	"github.com/zulandar/ember/internal/models"
)

func newBeadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bead",
		Short: "Bead inspection commands",
	}

	cmd.AddCommand(newBeadListCmd())
	cmd.AddCommand(newBeadReadyCmd())
	cmd.AddCommand(newBeadTreeCmd())
	cmd.AddCommand(newBeadShowCmd())
	cmd.AddCommand(newBeadPrioritizeCmd())
	return cmd
}

// fetchBeads loads every bead of the configured project.
func fetchBeads(cmd *cobra.Command, e *env) ([]models.Bead, error) {
	project, err := e.project()
	if err != nil {
		return nil, err
	}
	return e.client.ListBeads(cmd.Context(), project, api.DefaultBeadLimit)
}

func newBeadListCmd() *cobra.Command {
	var (
		configPath string
		status     string
		beadType   string
		area       string
		parent     string
		search     string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List beads",
		Long:  "Lists the project's beads with optional filters, ordered by priority. Output is formatted as a table.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBeadList(cmd, configPath, bead.ListFilters{
				Status:   models.BeadStatus(status),
				Type:     beadType,
				Area:     area,
				ParentID: parent,
				Text:     search,
			})
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&beadType, "type", "", "filter by bead type")
	cmd.Flags().StringVar(&area, "area", "", "filter by functional area")
	cmd.Flags().StringVar(&parent, "parent", "", "filter by parent bead ID")
	cmd.Flags().StringVarP(&search, "search", "s", "", "filter by subject text")
	return cmd
}

func runBeadList(cmd *cobra.Command, configPath string, filters bead.ListFilters) error {
	e, err := openEnv(cmd, configPath)
	if err != nil {
		return err
	}
	defer e.Close()

	beads, err := fetchBeads(cmd, e)
	if err != nil {
		return err
	}
	beads = bead.List(beads, filters)

	out := cmd.OutOrStdout()
	if len(beads) == 0 {
		fmt.Fprintln(out, "No beads found.")
		return nil
	}
	writeBeadTable(cmd, beads)
	return nil
}

func writeBeadTable(cmd *cobra.Command, beads []models.Bead) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSUBJECT\tSTATUS\tPRI\tTYPE\tUPDATED")
	for _, b := range beads {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			b.ID, truncate(b.Subject, 50), b.Status, models.PriorityLabel(b.Priority),
			orDash(b.BeadType), ago(b.UpdatedAt))
	}
	w.Flush()
}

func newBeadReadyCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "ready",
		Short: "List beads ready to burn",
		Long:  "Lists pending beads with instructions whose blockers are all completed, highest priority first.",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, configPath)
			if err != nil {
				return err
			}
			defer e.Close()

			beads, err := fetchBeads(cmd, e)
			if err != nil {
				return err
			}
			ready := bead.Ready(beads)
			sort.SliceStable(ready, func(i, j int) bool { return ready[i].Priority < ready[j].Priority })
			if len(ready) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No beads are ready.")
				return nil
			}
			writeBeadTable(cmd, ready)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newBeadTreeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Show beads as a parent/child tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, configPath)
			if err != nil {
				return err
			}
			defer e.Close()

			beads, err := fetchBeads(cmd, e)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(beads) == 0 {
				fmt.Fprintln(out, "No beads found.")
				return nil
			}
			idx := bead.NewIndex(beads)
			bead.BuildTree(beads).Walk(func(b models.Bead, depth int) {
				mark := " "
				if bead.IsReady(b, idx) {
					mark = "*"
				}
				fmt.Fprintf(out, "%s%s %s %s [%s] %s\n", indent(depth), mark,
					models.PriorityLabel(b.Priority), b.ID, b.Status, b.Subject)
			})
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newBeadShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show bead details",
		Long:  "Displays a bead with its instructions, dependencies, readiness and children.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBeadShow(cmd, configPath, args[0])
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runBeadShow(cmd *cobra.Command, configPath, id string) error {
	e, err := openEnv(cmd, configPath)
	if err != nil {
		return err
	}
	defer e.Close()

	beads, err := fetchBeads(cmd, e)
	if err != nil {
		return err
	}
	idx := bead.NewIndex(beads)
	b, ok := idx[id]
	if !ok {
		return fmt.Errorf("bead %s not found", id)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ID:          %s\n", b.ID)
	fmt.Fprintf(out, "Subject:     %s\n", b.Subject)
	fmt.Fprintf(out, "Status:      %s\n", b.Status)
	fmt.Fprintf(out, "Priority:    %s\n", models.PriorityLabel(b.Priority))
	fmt.Fprintf(out, "Type:        %s\n", orDash(b.BeadType))
	fmt.Fprintf(out, "Area:        %s\n", orDash(b.FunctionalArea))
	fmt.Fprintf(out, "Ready:       %t\n", bead.IsReady(*b, idx))
	if b.Owner != "" {
		fmt.Fprintf(out, "Owner:       %s\n", b.Owner)
	}
	if b.ParentBeadID != "" {
		fmt.Fprintf(out, "Parent:      %s\n", b.ParentBeadID)
	}
	if blockers := bead.Blockers(*b, idx); len(blockers) > 0 {
		fmt.Fprintf(out, "Blocked by:  %v\n", blockers)
	}
	fmt.Fprintf(out, "Updated:     %s\n", ago(b.UpdatedAt))

	if b.Description != "" {
		fmt.Fprintf(out, "\nDescription:\n%s\n", b.Description)
	}
	if b.PreInstructions != "" {
		fmt.Fprintf(out, "\nInstructions:\n%s\n", b.PreInstructions)
	}
	if children := bead.BuildTree(beads).Children(b.ID); len(children) > 0 {
		fmt.Fprintln(out, "\nChildren:")
		for _, c := range children {
			fmt.Fprintf(out, "  %s [%s] %s\n", c.ID, c.Status, c.Subject)
		}
	}
	return nil
}

func newBeadPrioritizeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "prioritize <id> <priority>",
		Short: "Set a bead's priority (0 highest, 4 lowest)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := strconv.Atoi(args[1])
			if err != nil || p < models.PriorityHighest || p > models.PriorityLowest {
				return fmt.Errorf("priority must be %d-%d, got %q", models.PriorityHighest, models.PriorityLowest, args[1])
			}

			e, err := openEnv(cmd, configPath)
			if err != nil {
				return err
			}
			defer e.Close()
			project, err := e.project()
			if err != nil {
				return err
			}

			b, err := e.client.UpdateBead(cmd.Context(), args[0], api.BeadPatch{ProjectID: project, Priority: &p})
			e.journal.Record(cmd.Context(), journal.ActionPrioritize, args[0], err)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", b.ID, models.PriorityLabel(b.Priority))
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}
