// Package mcp exposes the burn workflow of one project as MCP tools over
// stdio, so agents can inspect beads, run drains and act on the review.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/zulandar/ember/internal/app"
	"github.com/zulandar/ember/internal/bead"
	"github.com/zulandar/ember/internal/failure"
	"github.com/zulandar/ember/internal/models"
	"github.com/zulandar/ember/internal/review"
)

// NewServer creates an MCP server driving console.
func NewServer(console *app.Console, version string) *server.MCPServer {
	s := server.NewMCPServer("Ember", version)

	// Beads
	s.AddTool(mcp.NewTool("list_ready_beads",
		mcp.WithDescription("List beads that are ready to burn: pending, with instructions and no unfinished blockers. Highest priority first."),
		mcp.WithNumber("limit", mcp.Description("Maximum number of beads (default: all)")),
	), listReadyBeadsHandler(console))

	// Drains
	s.AddTool(mcp.NewTool("drain_status",
		mcp.WithDescription("Report the workflow phase and the backend's live drain state."),
	), drainStatusHandler(console))

	s.AddTool(mcp.NewTool("preview_drain",
		mcp.WithDescription("Preview which ready beads an auto-picked drain would take."),
		mcp.WithNumber("max_count", mcp.Description("Maximum candidates (default from config)")),
	), previewDrainHandler(console))

	s.AddTool(mcp.NewTool("start_drain",
		mcp.WithDescription("Start a drain over the given beads, or over the auto-pick preview when none are given."),
		mcp.WithString("bead_ids", mcp.Description("Comma-separated bead ids")),
	), startDrainHandler(console))

	s.AddTool(mcp.NewTool("stop_drain",
		mcp.WithDescription("Stop the running drain. Jobs already running finish on their own."),
	), stopDrainHandler(console))

	s.AddTool(mcp.NewTool("drain_summary",
		mcp.WithDescription("Get the summary of the most recent finished drain."),
	), drainSummaryHandler(console))

	// Review
	s.AddTool(mcp.NewTool("failure_groups",
		mcp.WithDescription("Group the failed jobs of the last drain by failure category, with the suggested action for each group."),
	), failureGroupsHandler(console))

	s.AddTool(mcp.NewTool("pr_statuses",
		mcp.WithDescription("List the pull requests of a drain with their display status."),
		mcp.WithString("drain_id", mcp.Description("Drain id (defaults to the drain under review)")),
	), prStatusesHandler(console))

	s.AddTool(mcp.NewTool("retry_job",
		mcp.WithDescription("Retry a failed job."),
		mcp.WithString("job_id", mcp.Description("Job id"), mcp.Required()),
	), retryJobHandler(console))

	s.AddTool(mcp.NewTool("merge_pr",
		mcp.WithDescription("Merge a pull request by number. Only pull requests that are ready to merge are accepted."),
		mcp.WithNumber("pr_number", mcp.Description("Pull request number"), mcp.Required()),
		mcp.WithString("drain_id", mcp.Description("Drain id (defaults to the drain under review)")),
	), mergePRHandler(console))

	return s
}

// Serve starts the MCP server on stdio.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func listReadyBeadsHandler(c *app.Console) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := mcp.ParseInt(request, "limit", 0)
		beads, err := c.Store.Beads.Refresh(ctx)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		ready := bead.Ready(beads)
		sort.SliceStable(ready, func(i, j int) bool { return ready[i].Priority < ready[j].Priority })
		if limit > 0 && len(ready) > limit {
			ready = ready[:limit]
		}
		return jsonResult(map[string]any{"beads": ready, "count": len(ready)})
	}
}

func drainStatusHandler(c *app.Console) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		st, err := c.Store.Drain.Refresh(ctx)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(map[string]any{
			"phase":    c.Drain.Phase(),
			"drain_id": c.Drain.ReviewDrainID(),
			"status":   st,
		})
	}
}

func previewDrainHandler(c *app.Console) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		n := mcp.ParseInt(request, "max_count", 0)
		if n <= 0 {
			p, err := c.Store.Preview.Refresh(ctx)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return jsonResult(p)
		}
		p, err := c.Backend.PreviewDrain(ctx, c.Project, n)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(p)
	}
}

func startDrainHandler(c *app.Console) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var ids []string
		for _, id := range strings.Split(mcp.ParseString(request, "bead_ids", ""), ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
		res, err := c.Burn(ctx, ids)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(res)
	}
}

func stopDrainHandler(c *app.Console) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := c.Drain.Abort(ctx); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText("Drain stopped. Running jobs will finish; call drain_summary once they settle."), nil
	}
}

func drainSummaryHandler(c *app.Console) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		s, err := c.Backend.DrainSummary(ctx, c.Project)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(s)
	}
}

// groupResult is a failure group as reported to agents.
type groupResult struct {
	Category string   `json:"category"`
	Title    string   `json:"title"`
	Action   string   `json:"action"`
	JobIDs   []string `json:"job_ids"`
}

func failureGroupsHandler(c *app.Console) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		s, err := c.Backend.DrainSummary(ctx, c.Project)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if s == nil {
			return mcp.NewToolResultError("no drain summary available"), nil
		}
		failed := c.Remediator.Visible(s.JobsWithStatus(models.JobFailed))
		groups := []groupResult{}
		for _, g := range failure.BuildGroups(failed) {
			groups = append(groups, groupResult{
				Category: g.Category,
				Title:    g.Title,
				Action:   g.Tier.Label(),
				JobIDs:   g.JobIDs(),
			})
		}
		return jsonResult(map[string]any{"drain_id": s.DrainID, "groups": groups})
	}
}

// prResult is a pull request as reported to agents.
type prResult struct {
	Number int                  `json:"number"`
	Title  string               `json:"title"`
	URL    string               `json:"url"`
	JobID  string               `json:"job_id"`
	Status review.DisplayStatus `json:"status"`
	Label  string               `json:"label"`
}

// prDrainID resolves the drain_id argument, falling back to the drain under
// review and then to the latest finished drain.
func prDrainID(ctx context.Context, c *app.Console, request mcp.CallToolRequest) (string, error) {
	drainID := mcp.ParseString(request, "drain_id", "")
	if drainID == "" {
		drainID = c.Drain.ReviewDrainID()
	}
	if drainID == "" {
		s, err := c.Backend.DrainSummary(ctx, c.Project)
		if err != nil {
			return "", err
		}
		if s != nil {
			drainID = s.DrainID
		}
	}
	if drainID == "" {
		return "", errors.New("no drain with pull requests")
	}
	return drainID, nil
}

func prStatusesHandler(c *app.Console) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		drainID, err := prDrainID(ctx, c, request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		prs, err := c.FetchPRStatuses(ctx, drainID)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		out := []prResult{}
		for _, pr := range prs {
			st := review.StatusOf(pr)
			out = append(out, prResult{
				Number: pr.PRNumber,
				Title:  pr.Title,
				URL:    pr.PRURL,
				JobID:  pr.JobID,
				Status: st,
				Label:  st.Label(),
			})
		}
		return jsonResult(map[string]any{"drain_id": drainID, "prs": out})
	}
}

func retryJobHandler(c *app.Console) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		jobID := mcp.ParseString(request, "job_id", "")
		if jobID == "" {
			return mcp.NewToolResultError("job_id is required"), nil
		}
		if err := c.Remediator.RetryOne(ctx, jobID); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Job %s queued for retry", jobID)), nil
	}
}

func mergePRHandler(c *app.Console) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		n := mcp.ParseInt(request, "pr_number", 0)
		if n <= 0 {
			return mcp.NewToolResultError("pr_number must be a positive integer"), nil
		}
		drainID, err := prDrainID(ctx, c, request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := c.MergeOne(ctx, drainID, n); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Merged #%d", n)), nil
	}
}
