package failure

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zulandar/ember/internal/api"
	"github.com/zulandar/ember/internal/inflight"
	"github.com/zulandar/ember/internal/models"
)

// Backend is the subset of the API used for remediation.
type Backend interface {
	RetryJob(ctx context.Context, jobID string) (*models.Job, error)
	UpdateBead(ctx context.Context, beadID string, patch api.BeadPatch) (*models.Bead, error)
}

// Remediator retries and skips failed jobs of one project. Retries of a job
// id never overlap.
type Remediator struct {
	backend   Backend
	projectID string
	logger    *slog.Logger

	retrying inflight.Set[string]

	mu       sync.Mutex
	skipped  map[string]bool
	retryAll bool
}

// NewRemediator returns a Remediator for projectID.
func NewRemediator(backend Backend, projectID string, logger *slog.Logger) *Remediator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Remediator{
		backend:   backend,
		projectID: projectID,
		logger:    logger,
		skipped:   make(map[string]bool),
	}
}

// RetryOne retries a single job. It returns inflight.ErrBusy when a retry
// for the job is still outstanding.
func (r *Remediator) RetryOne(ctx context.Context, jobID string) error {
	return r.retrying.Do(jobID, func() error {
		return r.retry(ctx, jobID)
	})
}

func (r *Remediator) retry(ctx context.Context, jobID string) error {
	if _, err := r.backend.RetryJob(ctx, jobID); err != nil {
		r.logger.Warn("retry failed", "job", jobID, "err", err)
		return fmt.Errorf("failure: retry %s: %w", jobID, err)
	}
	r.logger.Info("retried job", "job", jobID)
	return nil
}

// RetryGroup retries every job of a group, one at a time.
func (r *Remediator) RetryGroup(ctx context.Context, g Group) []inflight.Outcome[string] {
	return r.retryIDs(ctx, g.JobIDs())
}

func (r *Remediator) retryIDs(ctx context.Context, ids []string) []inflight.Outcome[string] {
	return inflight.Sequential(ctx, &r.retrying, ids, r.retry)
}

// RetryAllFailed retries every visible failed job, one at a time. Only one
// retry-all runs at once; a second call returns inflight.ErrBusy.
func (r *Remediator) RetryAllFailed(ctx context.Context, failed []models.DrainSummaryJob) ([]inflight.Outcome[string], error) {
	visible := r.Visible(failed)
	if len(visible) == 0 {
		return nil, nil
	}

	r.mu.Lock()
	if r.retryAll {
		r.mu.Unlock()
		return nil, inflight.ErrBusy
	}
	r.retryAll = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.retryAll = false
		r.mu.Unlock()
	}()

	ids := make([]string, len(visible))
	for i, j := range visible {
		ids[i] = j.JobID
	}
	return r.retryIDs(ctx, ids), nil
}

// Skip hides the job from failure views for this session and moves its
// bead to the lowest priority. The job stays hidden even when the bead
// update fails.
func (r *Remediator) Skip(ctx context.Context, job models.DrainSummaryJob) error {
	r.mu.Lock()
	r.skipped[job.JobID] = true
	r.mu.Unlock()

	if job.BeadID == "" {
		return nil
	}
	lowest := models.PriorityLowest
	_, err := r.backend.UpdateBead(ctx, job.BeadID, api.BeadPatch{ProjectID: r.projectID, Priority: &lowest})
	if err != nil {
		r.logger.Warn("skip: deprioritize failed", "job", job.JobID, "bead", job.BeadID, "err", err)
		return fmt.Errorf("failure: deprioritize bead %s: %w", job.BeadID, err)
	}
	return nil
}

// Skipped reports whether the job was skipped.
func (r *Remediator) Skipped(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.skipped[jobID]
}

// Visible drops skipped jobs.
func (r *Remediator) Visible(failed []models.DrainSummaryJob) []models.DrainSummaryJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.DrainSummaryJob
	for _, j := range failed {
		if !r.skipped[j.JobID] {
			out = append(out, j)
		}
	}
	return out
}

// Retrying reports whether a retry for the job is outstanding.
func (r *Remediator) Retrying(jobID string) bool {
	return r.retrying.Has(jobID)
}

// GroupRetrying reports whether any job of the group is being retried.
func (r *Remediator) GroupRetrying(g Group) bool {
	for _, j := range g.Jobs {
		if r.retrying.Has(j.JobID) {
			return true
		}
	}
	return false
}

// RetryAllPending reports whether a retry-all is running.
func (r *Remediator) RetryAllPending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.retryAll
}

// Reset forgets skipped jobs. Called when a new burn starts.
func (r *Remediator) Reset() {
	r.mu.Lock()
	r.skipped = make(map[string]bool)
	r.mu.Unlock()
}
