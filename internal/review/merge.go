package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/zulandar/ember/internal/inflight"
	"github.com/zulandar/ember/internal/models"
)

// ErrNotReady is returned by MergeOne for a pull request whose display
// status is not ready.
var ErrNotReady = errors.New("review: pull request is not ready to merge")

// Merger merges a pull request by number.
type Merger interface {
	MergePR(ctx context.Context, projectID string, prNumber int) (*models.MergeResult, error)
}

// Assistant merges pull requests of one project. Merges of a PR number
// never overlap.
type Assistant struct {
	merger    Merger
	projectID string
	logger    *slog.Logger
	merging   inflight.Set[int]
}

// NewAssistant returns an Assistant for projectID.
func NewAssistant(merger Merger, projectID string, logger *slog.Logger) *Assistant {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assistant{merger: merger, projectID: projectID, logger: logger}
}

// MergeOne merges pull request prNumber as listed in prs. A number that is
// missing from prs or not ready is refused with ErrNotReady before any
// request is sent. It returns inflight.ErrBusy when a merge of the same
// number is outstanding.
func (a *Assistant) MergeOne(ctx context.Context, prs []models.PRStatus, prNumber int) error {
	pr, ok := Find(prs, prNumber)
	if !ok {
		return fmt.Errorf("%w: #%d (not in drain)", ErrNotReady, prNumber)
	}
	if st := StatusOf(pr); st != StatusReady {
		return fmt.Errorf("%w: #%d (%s)", ErrNotReady, prNumber, st.Label())
	}
	return a.merging.Do(prNumber, func() error {
		return a.merge(ctx, prNumber)
	})
}

func (a *Assistant) merge(ctx context.Context, prNumber int) error {
	res, err := a.merger.MergePR(ctx, a.projectID, prNumber)
	if err != nil {
		a.logger.Warn("merge failed", "pr", prNumber, "err", err)
		return fmt.Errorf("review: merge #%d: %w", prNumber, err)
	}
	if res != nil && !res.Merged {
		msg := res.Message
		if msg == "" {
			msg = "not merged"
		}
		return fmt.Errorf("review: merge #%d: %s", prNumber, msg)
	}
	a.logger.Info("merged pull request", "pr", prNumber)
	return nil
}

// Find returns the status of pull request prNumber.
func Find(prs []models.PRStatus, prNumber int) (models.PRStatus, bool) {
	for _, pr := range prs {
		if pr.PRNumber == prNumber {
			return pr, true
		}
	}
	return models.PRStatus{}, false
}

// MergeReady merges every ready pull request, one at a time. A failed merge
// does not stop the batch.
func (a *Assistant) MergeReady(ctx context.Context, prs []models.PRStatus) []inflight.Outcome[int] {
	ready := Ready(prs)
	numbers := make([]int, len(ready))
	for i, pr := range ready {
		numbers[i] = pr.PRNumber
	}
	return inflight.Sequential(ctx, &a.merging, numbers, a.merge)
}

// Merging reports whether a merge of prNumber is outstanding.
func (a *Assistant) Merging(prNumber int) bool {
	return a.merging.Has(prNumber)
}

// Busy reports whether any merge is outstanding.
func (a *Assistant) Busy() bool {
	return a.merging.Len() > 0
}
