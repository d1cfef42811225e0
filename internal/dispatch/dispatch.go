// Package dispatch turns ready beads into jobs, on demand or on an
// automatic one-at-a-time loop.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zulandar/ember/internal/api"
	"github.com/zulandar/ember/internal/bead"
	"github.com/zulandar/ember/internal/inflight"
	"github.com/zulandar/ember/internal/models"
)

// Creator creates jobs.
type Creator interface {
	CreateJob(ctx context.Context, req api.CreateJobRequest) (*models.Job, error)
}

// Dispatcher creates one job per bead. A bead cannot be dispatched again
// while its previous request is outstanding.
type Dispatcher struct {
	creator     Creator
	projectID   string
	worker      models.WorkerType
	logger      *slog.Logger
	dispatching inflight.Set[string]
}

// NewDispatcher returns a Dispatcher for projectID.
func NewDispatcher(creator Creator, projectID string, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{creator: creator, projectID: projectID, logger: logger}
}

// SetWorkerType pins the sandbox kind of dispatched jobs. Empty lets the
// backend choose.
func (d *Dispatcher) SetWorkerType(w models.WorkerType) {
	d.worker = w
}

// Dispatch creates a job for b with the bead's prompt and priority.
func (d *Dispatcher) Dispatch(ctx context.Context, b models.Bead) (*models.Job, error) {
	var job *models.Job
	err := d.dispatching.Do(b.ID, func() error {
		priority := b.Priority
		j, err := d.creator.CreateJob(ctx, api.CreateJobRequest{
			ProjectID:  d.projectID,
			BeadID:     b.ID,
			Prompt:     bead.Prompt(b),
			WorkerType: d.worker,
			Priority:   &priority,
		})
		if err != nil {
			return err
		}
		job = j
		return nil
	})
	if err != nil {
		d.logger.Warn("dispatch failed", "bead", b.ID, "err", err)
		return nil, fmt.Errorf("dispatch: bead %s: %w", b.ID, err)
	}
	d.logger.Info("dispatched bead", "bead", b.ID, "job", job.ID, "priority", b.Priority)
	return job, nil
}

// Dispatching reports whether a dispatch of beadID is outstanding.
func (d *Dispatcher) Dispatching(beadID string) bool {
	return d.dispatching.Has(beadID)
}

// Busy reports whether any dispatch is outstanding.
func (d *Dispatcher) Busy() bool {
	return d.dispatching.Len() > 0
}
