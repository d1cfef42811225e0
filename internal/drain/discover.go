package drain

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v4"

	"github.com/zulandar/ember/internal/api"
	"github.com/zulandar/ember/internal/models"
)

var errNotMaterialized = errors.New("drain: jobs not yet tagged with drain id")

// discover polls the job list until a job created by Begin carries the new
// drain's id. After the bounded attempts run out, any active job with a
// drain id is accepted instead.
func (o *Orchestrator) discover(ctx context.Context, gen int) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.opts.DiscoveryInterval
	b.MaxInterval = 4 * o.opts.DiscoveryInterval
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(o.opts.DiscoveryAttempts-1)), ctx)

	op := func() error {
		jobs, err := o.backend.ListJobs(ctx, api.JobFilter{ProjectID: o.opts.ProjectID})
		if err != nil {
			return err
		}
		if o.adoptJobs(gen, jobs) {
			return nil
		}
		return errNotMaterialized
	}
	err := backoff.Retry(op, policy)
	if err == nil || ctx.Err() != nil {
		return
	}

	o.mu.Lock()
	if o.generation != gen {
		o.mu.Unlock()
		return
	}
	o.exhausted = true
	o.matchDrain()
	id := o.drainID
	o.unlock()
	o.logger.Debug("drain discovery exhausted", "project", o.opts.ProjectID, "drain", id, "err", err)
}

// adoptJobs feeds a discovery fetch into the snapshot and reports whether
// discovery is done: the drain id is known, or the burn it served is over.
func (o *Orchestrator) adoptJobs(gen int, jobs []models.Job) bool {
	o.mu.Lock()
	if o.generation != gen || o.phase != PhaseBurning {
		o.mu.Unlock()
		return true
	}
	o.jobs = jobs
	o.matchDrain()
	done := o.drainID != ""
	o.unlock()
	return done
}
