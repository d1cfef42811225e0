package telegraph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/zulandar/ember/internal/failure"
	"github.com/zulandar/ember/internal/models"
)

func testSummary() *models.DrainSummary {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return &models.DrainSummary{
		ProjectID:     "p1",
		DrainID:       "d1",
		StartedAt:     start,
		CompletedAt:   start.Add(4*time.Minute + 5*time.Second),
		TotalJobs:     3,
		CompletedJobs: 1,
		FailedJobs:    2,
		Jobs: []models.DrainSummaryJob{
			{JobID: "j1", Subject: "Fix footer", Status: models.JobCompleted, PRURL: "https://github.com/o/r/pull/7"},
			{JobID: "j2", Subject: "Add login", Status: models.JobFailed, FailureCategory: "compile_error"},
			{JobID: "j3", Subject: "Refactor", Status: models.JobFailed, FailureCategory: "oom"},
		},
	}
}

func TestNewDigest(t *testing.T) {
	s := testSummary()
	d := NewDigest("web", s, failure.BuildGroups(s.JobsWithStatus(models.JobFailed)))
	if d.Outcome != OutcomePartial || d.DrainID != "d1" || d.Elapsed != "4m 05s" {
		t.Errorf("digest = %+v", d)
	}
	if len(d.Shipped) != 1 || d.Shipped[0].PRURL != "https://github.com/o/r/pull/7" || d.Unlisted != 0 {
		t.Errorf("shipped = %+v unlisted = %d", d.Shipped, d.Unlisted)
	}
	if len(d.Failures) != 2 || d.Failures[0].Action != failure.TierRetryable.Label() || d.Failures[0].Urgent {
		t.Errorf("failures = %+v", d.Failures)
	}
	if d.Headline() != "Drain finished for web: 1 completed, 2 failed" {
		t.Errorf("headline = %q", d.Headline())
	}
}

func TestNewDigest_CapsLists(t *testing.T) {
	var jobs []models.DrainSummaryJob
	for i := 0; i < 12; i++ {
		jobs = append(jobs,
			models.DrainSummaryJob{Subject: "done", Status: models.JobCompleted},
			models.DrainSummaryJob{Subject: "job", Status: models.JobFailed, FailureCategory: "mystery"},
		)
	}
	s := &models.DrainSummary{DrainID: "d1", CompletedJobs: 12, FailedJobs: 12, TotalJobs: 24, Jobs: jobs}
	d := NewDigest("web", s, failure.BuildGroups(s.JobsWithStatus(models.JobFailed)))
	if len(d.Shipped) != maxListed || d.Unlisted != 2 {
		t.Errorf("shipped = %d unlisted = %d", len(d.Shipped), d.Unlisted)
	}
	f := d.Failures[0]
	if f.Title != "mystery" || f.Count != 12 || len(f.Subjects) != maxListed || !f.Urgent {
		t.Errorf("failure = %+v", f)
	}
	if d.Elapsed != "" {
		t.Errorf("elapsed = %q without timing", d.Elapsed)
	}
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		completed, failed int
		want              Outcome
		hex               string
	}{
		{3, 0, OutcomeClean, "#36a64f"},
		{0, 0, OutcomeClean, "#36a64f"},
		{1, 1, OutcomePartial, "#ff9800"},
		{0, 2, OutcomeFailed, "#e53935"},
	}
	for _, tt := range tests {
		s := &models.DrainSummary{CompletedJobs: tt.completed, FailedJobs: tt.failed}
		got := outcomeOf(s)
		if got != tt.want || got.Hex() != tt.hex {
			t.Errorf("outcomeOf(%d,%d) = %s %s, want %s %s", tt.completed, tt.failed, got, got.Hex(), tt.want, tt.hex)
		}
	}
}

func TestDrainCompletedMessage(t *testing.T) {
	msg := DrainCompletedMessage("web", testSummary(), nil)
	if msg.Digest == nil || msg.Text != msg.Digest.Headline() {
		t.Errorf("message = %+v", msg)
	}
}

var fastRetry = RetryPolicy{Retries: 3, Initial: time.Millisecond, Max: time.Millisecond}

func TestDeliver(t *testing.T) {
	limited := &RateLimitError{Err: errors.New("429")}
	tests := []struct {
		name      string
		errs      []error
		wantErr   bool
		wantCalls int
	}{
		{"first try", nil, false, 1},
		{"recovers", []error{limited, limited}, false, 3},
		{"exhausted", []error{limited, limited, limited, limited, limited}, true, 4},
		{"permanent", []error{errors.New("forbidden")}, true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Deliver(context.Background(), fastRetry, nil, func() error {
				calls++
				if calls <= len(tt.errs) {
					return tt.errs[calls-1]
				}
				return nil
			})
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
		})
	}
}

func TestDeliver_PlatformWaitAndCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Deliver(ctx, fastRetry, nil, func() error {
		return &RateLimitError{Err: errors.New("429"), Wait: time.Hour}
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}

	w := &platformWait{BackOff: &backoff.ConstantBackOff{Interval: time.Millisecond}, next: time.Second}
	if d := w.NextBackOff(); d != time.Second {
		t.Errorf("first delay = %v, want the platform wait", d)
	}
	if d := w.NextBackOff(); d != time.Millisecond {
		t.Errorf("second delay = %v, want the policy delay", d)
	}
}

func TestNotifier_DrainCompletedOnce(t *testing.T) {
	mock := NewMockAdapter()
	n := NewNotifier(NotifierOpts{Project: "web", Adapters: []Adapter{mock}})
	ctx := context.Background()
	if err := n.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	s := testSummary()
	for i := 0; i < 3; i++ {
		if err := n.DrainCompleted(ctx, s, nil); err != nil {
			t.Fatalf("DrainCompleted: %v", err)
		}
	}
	if mock.SentCount() != 1 {
		t.Errorf("sent = %d, want 1", mock.SentCount())
	}

	other := testSummary()
	other.DrainID = "d2"
	_ = n.DrainCompleted(ctx, other, nil)
	if mock.SentCount() != 2 {
		t.Errorf("sent = %d, want 2", mock.SentCount())
	}
}

func TestNotifier_RetriesAfterFailure(t *testing.T) {
	mock := NewMockAdapter()
	n := NewNotifier(NotifierOpts{Adapters: []Adapter{mock}})
	ctx := context.Background()
	_ = n.Connect(ctx)

	mock.FailSends(errors.New("down"))
	if err := n.DrainCompleted(ctx, testSummary(), nil); err == nil {
		t.Fatal("expected error")
	}
	mock.FailSends(nil)
	if err := n.DrainCompleted(ctx, testSummary(), nil); err != nil {
		t.Fatalf("DrainCompleted: %v", err)
	}
	if mock.SentCount() != 1 {
		t.Errorf("sent = %d, want 1", mock.SentCount())
	}
}

func TestNotifier_Connect(t *testing.T) {
	ctx := context.Background()

	closed := NewMockAdapter()
	_ = closed.Close()
	n := NewNotifier(NotifierOpts{Adapters: []Adapter{closed}})
	if err := n.Connect(ctx); err == nil {
		t.Error("expected error when every adapter fails")
	}
	if n.Enabled() {
		t.Error("enabled without a live adapter")
	}
	if err := n.DrainCompleted(ctx, testSummary(), nil); err != nil {
		t.Errorf("disabled notifier returned %v", err)
	}

	live := NewMockAdapter()
	n = NewNotifier(NotifierOpts{Adapters: []Adapter{closed, live}})
	if err := n.Connect(ctx); err != nil {
		t.Errorf("Connect with one live adapter: %v", err)
	}
	if !n.Enabled() {
		t.Error("not enabled")
	}
	_ = n.Close()
	if !live.Closed() {
		t.Error("adapter not closed")
	}

	if err := NewNotifier(NotifierOpts{}).Connect(ctx); err != nil {
		t.Errorf("empty notifier: %v", err)
	}
}
