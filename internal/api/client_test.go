package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/zulandar/ember/internal/api/apitest"
	"github.com/zulandar/ember/internal/models"
)

func newTestClient(t *testing.T, be *apitest.Backend, token string) (*Client, *StaticToken) {
	t.Helper()
	tokens := NewStaticToken(token)
	return NewClient(ClientOpts{BaseURL: be.URL(), Tokens: tokens}), tokens
}

func TestClient_SendsHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Write([]byte(`{"id":"u1","username":"op"}`))
	}))
	defer srv.Close()

	c := NewClient(ClientOpts{BaseURL: srv.URL + "/", Tokens: NewStaticToken("secret")})
	if _, err := c.Me(context.Background()); err != nil {
		t.Fatalf("Me: %v", err)
	}
	if got.Get("Authorization") != "Bearer secret" {
		t.Errorf("Authorization = %q", got.Get("Authorization"))
	}
	if got.Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q", got.Get("Content-Type"))
	}
	if len(got.Get("X-Request-ID")) != 36 {
		t.Errorf("X-Request-ID = %q, want uuid", got.Get("X-Request-ID"))
	}
}

func TestClient_NoTokenNoAuthHeader(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewClient(ClientOpts{BaseURL: srv.URL})
	if _, err := c.ListProjects(context.Background()); err != nil {
		t.Fatalf("ListProjects: %v", err)
	}
	if auth != "" {
		t.Errorf("Authorization = %q, want empty", auth)
	}
}

func TestClient_UnauthorizedInvalidatesToken(t *testing.T) {
	be := apitest.New(t)
	be.Token = "good"
	c, tokens := newTestClient(t, be, "stale")

	_, err := c.ListBeads(context.Background(), "p1", 0)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("error = %v, want ErrUnauthorized", err)
	}
	if tokens.Token() != "" {
		t.Errorf("token = %q, want cleared", tokens.Token())
	}
}

func TestClient_ListBeadsFollowsCursor(t *testing.T) {
	be := apitest.New(t)
	be.PageSize = 2
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		be.AddBeads(models.Bead{ID: id, Subject: id})
	}
	c, _ := newTestClient(t, be, "")

	beads, err := c.ListBeads(context.Background(), "p1", 0)
	if err != nil {
		t.Fatalf("ListBeads: %v", err)
	}
	if len(beads) != 5 || beads[4].ID != "e" {
		t.Fatalf("beads = %+v", beads)
	}
	if n := be.Calls("GET /beads"); n != 3 {
		t.Errorf("GET /beads calls = %d, want 3", n)
	}

	capped, err := c.ListBeads(context.Background(), "p1", 3)
	if err != nil {
		t.Fatalf("ListBeads capped: %v", err)
	}
	if len(capped) != 3 {
		t.Errorf("len = %d, want 3", len(capped))
	}
}

func TestClient_RawResponses(t *testing.T) {
	be := apitest.New(t)
	be.Raw = true
	be.AddBeads(models.Bead{ID: "a", Subject: "A"})
	c, _ := newTestClient(t, be, "")

	beads, err := c.ListBeads(context.Background(), "p1", 0)
	if err != nil {
		t.Fatalf("ListBeads: %v", err)
	}
	if len(beads) != 1 {
		t.Errorf("len = %d, want 1", len(beads))
	}
}

func TestClient_DrainLifecycle(t *testing.T) {
	be := apitest.New(t)
	be.AddBeads(
		models.Bead{ID: "a", Subject: "A", PreInstructions: "do a", Priority: 0},
		models.Bead{ID: "b", Subject: "B", PreInstructions: "do b", Priority: 2},
	)
	c, _ := newTestClient(t, be, "")
	ctx := context.Background()

	preview, err := c.PreviewDrain(ctx, "p1", 10)
	if err != nil {
		t.Fatalf("PreviewDrain: %v", err)
	}
	if preview.Count != 2 || preview.Candidates[0].ID != "a" {
		t.Errorf("preview = %+v", preview)
	}

	res, err := c.StartDrain(ctx, "p1", StartDrainRequest{BeadIDs: []string{"a", "b"}})
	if err != nil {
		t.Fatalf("StartDrain: %v", err)
	}
	if len(res.JobsCreated) != 2 {
		t.Fatalf("JobsCreated = %v", res.JobsCreated)
	}

	_, err = c.StartDrain(ctx, "p1", StartDrainRequest{AutoSelect: true})
	if !IsCode(err, "DRAIN_ACTIVE") {
		t.Errorf("second start error = %v, want DRAIN_ACTIVE", err)
	}

	status, err := c.DrainStatus(ctx, "p1")
	if err != nil {
		t.Fatalf("DrainStatus: %v", err)
	}
	if !status.Active || status.StartedAt == nil || status.JobsCreated != 2 {
		t.Errorf("status = %+v", status)
	}

	be.CompleteJob(res.JobsCreated[0], "https://github.com/o/r/pull/1")
	be.FailJob(res.JobsCreated[1], "compile_error", "Build broke")

	status, err = c.DrainStatus(ctx, "p1")
	if err != nil {
		t.Fatalf("DrainStatus: %v", err)
	}
	if status.Active {
		t.Error("drain should have completed")
	}

	summary, err := c.DrainSummary(ctx, "p1")
	if err != nil {
		t.Fatalf("DrainSummary: %v", err)
	}
	if summary.CompletedJobs != 1 || summary.FailedJobs != 1 {
		t.Errorf("summary = %+v", summary)
	}

	if err := c.UpdateChecklist(ctx, "p1", summary.DrainID, []bool{true, false}); err != nil {
		t.Fatalf("UpdateChecklist: %v", err)
	}
	d, _ := be.Drain(summary.DrainID)
	if len(d.ChecklistState) != 2 || !d.ChecklistState[0] {
		t.Errorf("ChecklistState = %v", d.ChecklistState)
	}

	detail, err := c.DrainDetail(ctx, "p1", summary.DrainID)
	if err != nil {
		t.Fatalf("DrainDetail: %v", err)
	}
	if len(detail.Jobs) != 2 {
		t.Errorf("detail jobs = %d", len(detail.Jobs))
	}
}

func TestClient_StopDrainIdle(t *testing.T) {
	be := apitest.New(t)
	c, _ := newTestClient(t, be, "")
	res, err := c.StopDrain(context.Background(), "p1")
	if err != nil {
		t.Fatalf("StopDrain: %v", err)
	}
	if res.WasDraining {
		t.Error("WasDraining = true, want false")
	}
}

func TestClient_JobsAndRetry(t *testing.T) {
	be := apitest.New(t)
	be.AddBeads(models.Bead{ID: "a", Subject: "A", PreInstructions: "x"})
	c, _ := newTestClient(t, be, "")
	ctx := context.Background()

	prio := 1
	job, err := c.CreateJob(ctx, CreateJobRequest{ProjectID: "p1", BeadID: "a", Prompt: "x", Priority: &prio})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if job.Status != models.JobQueued || job.Priority != 1 {
		t.Errorf("job = %+v", job)
	}

	be.FailJob(job.ID, "oom", "Out of memory")
	failed, err := c.ListJobs(ctx, JobFilter{ProjectID: "p1", Status: models.JobFailed})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(failed) != 1 || failed[0].FailureCategory() != "oom" {
		t.Fatalf("failed = %+v", failed)
	}

	stats, err := c.JobStats(ctx)
	if err != nil {
		t.Fatalf("JobStats: %v", err)
	}
	if stats.Failed != 1 {
		t.Errorf("stats = %+v", stats)
	}

	retried, err := c.RetryJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("RetryJob: %v", err)
	}
	if retried.Status != models.JobQueued {
		t.Errorf("retried status = %s", retried.Status)
	}

	be.FailRetry(job.ID, "Sandbox quota exceeded")
	_, err = c.RetryJob(ctx, job.ID)
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Message != "Sandbox quota exceeded" {
		t.Errorf("error = %v", err)
	}

	got, err := c.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.ID != job.ID {
		t.Errorf("GetJob id = %q", got.ID)
	}
}

func TestClient_UpdateBeadAndMerge(t *testing.T) {
	be := apitest.New(t)
	be.AddBeads(models.Bead{ID: "a", Subject: "A", Priority: 1})
	c, _ := newTestClient(t, be, "")
	ctx := context.Background()

	low := models.PriorityLowest
	b, err := c.UpdateBead(ctx, "a", BeadPatch{ProjectID: "p1", Priority: &low})
	if err != nil {
		t.Fatalf("UpdateBead: %v", err)
	}
	if b.Priority != 4 {
		t.Errorf("Priority = %d, want 4", b.Priority)
	}

	drainID, _ := be.StartDrainAt("p1", time.Now(), "a")
	be.SetPRs(drainID, []models.PRStatus{{JobID: "j", PRNumber: 7, State: models.PROpen}})
	prs, err := c.PRStatuses(ctx, "p1", drainID)
	if err != nil {
		t.Fatalf("PRStatuses: %v", err)
	}
	if len(prs) != 1 || prs[0].PRNumber != 7 {
		t.Fatalf("prs = %+v", prs)
	}

	res, err := c.MergePR(ctx, "p1", 7)
	if err != nil {
		t.Fatalf("MergePR: %v", err)
	}
	if !res.Merged {
		t.Error("Merged = false")
	}

	be.FailMerge(8, "Merge conflict")
	if _, err := c.MergePR(ctx, "p1", 8); err == nil || err.Error() != "Merge conflict" {
		t.Errorf("MergePR(8) error = %v", err)
	}
}

func TestClient_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient(ClientOpts{BaseURL: url})
	_, err := c.Me(context.Background())
	if err == nil {
		t.Fatal("expected transport error")
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		t.Errorf("transport failure should not be *Error: %v", err)
	}
}
