package drain

import (
	"strings"
	"testing"
	"time"

	"github.com/zulandar/ember/internal/models"
)

func TestBurningView_Partitions(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	o := New(&fakeBackend{}, Options{ProjectID: "p1", Initial: active(t0)})
	o.ObserveBeads([]models.Bead{{ID: "b1", Subject: "Bead one"}})

	started := t0.Add(time.Minute)
	early, late := t0.Add(2*time.Minute), t0.Add(3*time.Minute)
	jobs := []models.Job{
		{ID: "r1", DrainID: "d1", BeadID: "b1", Status: models.JobRunning, StartedAt: &started},
		{ID: "c1", DrainID: "d1", Status: models.JobCompleted, CompletedAt: &early, Prompt: "first"},
		{ID: "c2", DrainID: "d1", Status: models.JobCompleted, CompletedAt: &late, Prompt: "second",
			Result: &models.JobResult{PRURL: "https://github.com/acme/app/pull/9"}},
		{ID: "f1", DrainID: "d1", Status: models.JobFailed, Prompt: strings.Repeat("x", 80)},
		{ID: "other", DrainID: "d0", Status: models.JobCompleted},
	}
	for i := 0; i < 7; i++ {
		jobs = append(jobs, models.Job{ID: "q", DrainID: "d1", Status: models.JobQueued})
	}
	o.ObserveJobs(jobs)
	if o.DrainID() != "d1" {
		t.Fatalf("DrainID = %q", o.DrainID())
	}

	v := o.BurningView(t0.Add(5 * time.Minute))
	if v.ElapsedText() != "5m 00s" {
		t.Errorf("elapsed = %s", v.ElapsedText())
	}
	if v.Total != 11 || len(v.Running) != 1 || len(v.Queued) != 7 || len(v.Done) != 2 || len(v.Failed) != 1 {
		t.Fatalf("partition total=%d running=%d queued=%d done=%d failed=%d",
			v.Total, len(v.Running), len(v.Queued), len(v.Done), len(v.Failed))
	}
	if v.QueuedHidden() != 2 {
		t.Errorf("QueuedHidden = %d, want 2", v.QueuedHidden())
	}
	if want := 3.0 / 11.0; v.Progress != want {
		t.Errorf("progress = %v, want %v", v.Progress, want)
	}
	if r := v.Running[0]; r.Subject != "Bead one" || r.Elapsed != 4*time.Minute {
		t.Errorf("running line = %+v", r)
	}
	if v.Done[0].Job.ID != "c2" || v.Done[0].PRNumber != 9 || v.Done[1].Job.ID != "c1" {
		t.Errorf("done order = %s, %s", v.Done[0].Job.ID, v.Done[1].Job.ID)
	}
	if f := v.Failed[0]; f.Category != "unknown" || len(f.Subject) != 60 {
		t.Errorf("failed line = category %q subject len %d", f.Category, len(f.Subject))
	}
}

func TestBurningView_BeforeDiscovery(t *testing.T) {
	o := New(&fakeBackend{}, testOptions())
	o.ObserveBeads(selectBeads)
	o.Toggle("a")
	o.mu.Lock()
	o.phase = PhaseBurning
	o.jobsCreated = map[string]struct{}{"j1": {}}
	o.mu.Unlock()

	o.ObserveJobs([]models.Job{
		{ID: "j1", Status: models.JobQueued},
		{ID: "j2", Status: models.JobRunning},
		{ID: "old", Status: models.JobCompleted},
	})
	v := o.BurningView(time.Now())
	if v.DrainID != "" {
		t.Fatalf("DrainID = %q", v.DrainID)
	}
	if v.Total != 2 || len(v.Queued) != 1 || len(v.Running) != 1 {
		t.Errorf("pre-discovery view total=%d queued=%d running=%d", v.Total, len(v.Queued), len(v.Running))
	}
	if v.Progress != 0 {
		t.Errorf("progress = %v", v.Progress)
	}
}

func TestReviewView(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := t0
	o := New(&fakeBackend{}, Options{ProjectID: "p1", Initial: active(t0), Now: func() time.Time { return now }})
	now = t0.Add(90 * time.Second)
	o.ObserveDrainStatus(inactive)

	v := o.ReviewView()
	if !v.SummaryLoading() || !v.PRsLoading() {
		t.Error("expected loading summary and PRs")
	}
	if v.TotalElapsed != 90*time.Second {
		t.Errorf("TotalElapsed = %v", v.TotalElapsed)
	}

	o.ObserveSummary(&models.DrainSummary{DrainID: "d5", Jobs: []models.DrainSummaryJob{
		{JobID: "j1", Status: models.JobCompleted},
		{JobID: "j2", Status: models.JobFailed},
		{JobID: "j3", Status: models.JobFailed},
	}})
	o.ObservePRStatuses([]models.PRStatus{})
	v = o.ReviewView()
	if v.DrainID != "d5" || len(v.Completed) != 1 || len(v.Failed) != 2 {
		t.Errorf("review view = %+v", v)
	}
	if v.PRsLoading() {
		t.Error("empty PR list reported as loading")
	}
}
