package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/zulandar/ember/internal/api"
	"github.com/zulandar/ember/internal/api/apitest"
	"github.com/zulandar/ember/internal/app"
	"github.com/zulandar/ember/internal/config"
	"github.com/zulandar/ember/internal/models"
)

const testConfig = `
project: p1
drain:
  discovery_attempts: 20
  discovery_interval: 5ms
`

func newTestServer(t *testing.T, be *apitest.Backend) (*server.MCPServer, *app.Console) {
	t.Helper()
	cfg, err := config.Parse([]byte(testConfig))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	c, err := app.New(context.Background(), app.Options{
		Config:  cfg,
		Backend: api.NewClient(api.ClientOpts{BaseURL: be.URL()}),
	})
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	t.Cleanup(c.Close)
	return NewServer(c, "test"), c
}

func call(t *testing.T, s *server.MCPServer, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	tool := s.GetTool(name)
	if tool == nil {
		t.Fatalf("tool %s not found", name)
	}
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	result, err := tool.Handler(context.Background(), req)
	if err != nil {
		t.Fatalf("%s handler failed: %v", name, err)
	}
	return result
}

func text(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("empty tool result")
	}
	return result.Content[0].(mcp.TextContent).Text
}

func mustOK(t *testing.T, result *mcp.CallToolResult, v any) {
	t.Helper()
	if result.IsError {
		t.Fatalf("tool returned error: %s", text(t, result))
	}
	if v != nil {
		if err := json.Unmarshal([]byte(text(t, result)), v); err != nil {
			t.Fatalf("unmarshal %q: %v", text(t, result), err)
		}
	}
}

func TestServerInitialization(t *testing.T) {
	s, _ := newTestServer(t, apitest.New(t))
	stdio := server.NewStdioServer(s)

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go stdio.Listen(ctx, inR, outW) //nolint:errcheck

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "test-client", Version: "1.0.0"}
	data, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "initialize",
		"params":  initReq.Params,
	})
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		inW.Write(append(data, '\n'))
	}()

	line, err := bufio.NewReader(outR).ReadBytes('\n')
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	var resp struct {
		ID     int `json:"id"`
		Result struct {
			ServerInfo struct {
				Name    string `json:"name"`
				Version string `json:"version"`
			} `json:"serverInfo"`
		} `json:"result"`
	}
	if err := json.Unmarshal(line, &resp); err != nil {
		t.Fatalf("unmarshal %s: %v", line, err)
	}
	if resp.ID != 1 {
		t.Errorf("id = %d, want 1", resp.ID)
	}
	if resp.Result.ServerInfo.Name != "Ember" || resp.Result.ServerInfo.Version != "test" {
		t.Errorf("server info = %+v", resp.Result.ServerInfo)
	}
}

func TestToolHandlers(t *testing.T) {
	be := apitest.New(t)
	be.AddBeads(
		models.Bead{ID: "A", Subject: "Add login", PreInstructions: "build it", Priority: 1},
		models.Bead{ID: "B", Subject: "Fix footer", PreInstructions: "fix it", Priority: 0},
		models.Bead{ID: "C", Subject: "Add logout", PreInstructions: "build it", Priority: 0, BlockedBy: []string{"A"}},
	)
	s, _ := newTestServer(t, be)

	t.Run("list_ready_beads", func(t *testing.T) {
		var resp struct {
			Beads []models.Bead `json:"beads"`
			Count int           `json:"count"`
		}
		mustOK(t, call(t, s, "list_ready_beads", map[string]any{}), &resp)
		if resp.Count != 2 || resp.Beads[0].ID != "B" || resp.Beads[1].ID != "A" {
			t.Errorf("ready = %+v", resp)
		}
		mustOK(t, call(t, s, "list_ready_beads", map[string]any{"limit": 1.0}), &resp)
		if resp.Count != 1 {
			t.Errorf("limited count = %d, want 1", resp.Count)
		}
	})

	t.Run("preview_drain", func(t *testing.T) {
		var p models.DrainPreview
		mustOK(t, call(t, s, "preview_drain", map[string]any{"max_count": 1.0}), &p)
		if len(p.Candidates) != 1 || p.Count != 2 {
			t.Errorf("preview = %+v", p)
		}
	})

	t.Run("drain_status idle", func(t *testing.T) {
		var st struct {
			Phase  string              `json:"phase"`
			Status *models.DrainStatus `json:"status"`
		}
		mustOK(t, call(t, s, "drain_status", map[string]any{}), &st)
		if st.Phase != "select" || st.Status == nil || st.Status.Active {
			t.Errorf("status = %+v", st)
		}
	})

	var jobs []string
	t.Run("start_drain", func(t *testing.T) {
		var res models.DrainStartResult
		mustOK(t, call(t, s, "start_drain", map[string]any{"bead_ids": "A, B"}), &res)
		if len(res.JobsCreated) != 2 {
			t.Fatalf("jobs created = %v", res.JobsCreated)
		}
		jobs = res.JobsCreated

		again := call(t, s, "start_drain", map[string]any{})
		if !again.IsError {
			t.Error("second start_drain while burning succeeded")
		}
	})
	if len(jobs) != 2 {
		t.FailNow()
	}

	be.CompleteJob(jobs[0], "https://github.com/o/r/pull/7")
	be.FailJob(jobs[1], "test_failure", "Tests failed")

	t.Run("stop_drain", func(t *testing.T) {
		mustOK(t, call(t, s, "stop_drain", map[string]any{}), nil)
		if res := call(t, s, "stop_drain", map[string]any{}); !res.IsError {
			t.Error("stopping twice succeeded")
		}
	})

	var drainID string
	t.Run("drain_summary", func(t *testing.T) {
		var sum models.DrainSummary
		mustOK(t, call(t, s, "drain_summary", map[string]any{}), &sum)
		if sum.CompletedJobs != 1 || sum.FailedJobs != 1 || sum.DrainID == "" {
			t.Errorf("summary = %+v", sum)
		}
		drainID = sum.DrainID
	})

	t.Run("failure_groups", func(t *testing.T) {
		var resp struct {
			Groups []groupResult `json:"groups"`
		}
		mustOK(t, call(t, s, "failure_groups", map[string]any{}), &resp)
		if len(resp.Groups) != 1 {
			t.Fatalf("groups = %+v", resp.Groups)
		}
		g := resp.Groups[0]
		if g.Category != "test_failure" || len(g.JobIDs) != 1 || g.JobIDs[0] != jobs[1] || g.Action == "" {
			t.Errorf("group = %+v", g)
		}
	})

	yes, no := true, false
	be.SetPRs(drainID, []models.PRStatus{
		{
			JobID: jobs[0], PRNumber: 7, PRURL: "https://github.com/o/r/pull/7", Title: "Add login",
			State: models.PROpen, Mergeable: &yes, CIStatus: models.CISuccess,
		},
		{PRNumber: 8, Title: "Fix footer", State: models.PROpen, Mergeable: &yes, CIStatus: models.CISuccess},
		{PRNumber: 9, Title: "Bump deps", State: models.PROpen, Mergeable: &no, CIStatus: models.CISuccess},
	})

	t.Run("pr_statuses", func(t *testing.T) {
		var resp struct {
			DrainID string     `json:"drain_id"`
			PRs     []prResult `json:"prs"`
		}
		mustOK(t, call(t, s, "pr_statuses", map[string]any{"drain_id": drainID}), &resp)
		if len(resp.PRs) != 3 || resp.PRs[0].Status != "ready" || resp.PRs[0].Label != "Ready to merge" {
			t.Fatalf("prs = %+v", resp.PRs)
		}
		if resp.PRs[2].Status != "has_conflicts" {
			t.Errorf("#9 status = %s, want has_conflicts", resp.PRs[2].Status)
		}
		if res := call(t, s, "pr_statuses", map[string]any{"drain_id": "drain-missing"}); !res.IsError {
			t.Error("unknown drain succeeded")
		}
	})

	t.Run("retry_job", func(t *testing.T) {
		mustOK(t, call(t, s, "retry_job", map[string]any{"job_id": jobs[1]}), nil)
		if j, _ := be.Job(jobs[1]); j.Status != models.JobQueued {
			t.Errorf("retried job status = %s", j.Status)
		}
		if res := call(t, s, "retry_job", map[string]any{}); !res.IsError {
			t.Error("retry without job_id succeeded")
		}
	})

	t.Run("merge_pr", func(t *testing.T) {
		mustOK(t, call(t, s, "merge_pr", map[string]any{"pr_number": 7.0, "drain_id": drainID}), nil)

		be.FailMerge(8, "Merge conflict")
		res := call(t, s, "merge_pr", map[string]any{"pr_number": 8.0})
		if !res.IsError || !strings.Contains(text(t, res), "Merge conflict") {
			t.Errorf("failed merge = %+v", res)
		}

		for _, n := range []float64{9, 7, 42} {
			res := call(t, s, "merge_pr", map[string]any{"pr_number": n, "drain_id": drainID})
			if !res.IsError || !strings.Contains(text(t, res), "not ready to merge") {
				t.Errorf("merge of #%v = %+v, want refusal", n, res)
			}
		}
		if res := call(t, s, "merge_pr", map[string]any{"pr_number": 0.0}); !res.IsError {
			t.Error("merge of #0 succeeded")
		}
	})
}
