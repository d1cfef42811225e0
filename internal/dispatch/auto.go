package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/zulandar/ember/internal/bead"
	"github.com/zulandar/ember/internal/models"
)

// DefaultInterval is how often the auto-dispatch loop looks for work.
const DefaultInterval = 5 * time.Second

// Snapshot supplies the latest known beads and jobs of the project.
type Snapshot interface {
	Beads() []models.Bead
	Jobs() []models.Job
}

// AutoStatus is the auto-dispatch loop state for display.
type AutoStatus struct {
	ReadyCount     int
	Dispatching    bool
	LastDispatched string
	LastErr        error
}

// AutoDispatcher keeps at most one job of the project in flight by
// dispatching the highest-priority ready bead whenever the project is idle.
type AutoDispatcher struct {
	d      *Dispatcher
	snap   Snapshot
	every  time.Duration
	logger *slog.Logger

	mu       sync.Mutex
	lastBead string
	lastJob  string
	lastErr  error
}

// NewAutoDispatcher returns a loop over d fed by snap.
func NewAutoDispatcher(d *Dispatcher, snap Snapshot, every time.Duration, logger *slog.Logger) *AutoDispatcher {
	if every <= 0 {
		every = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AutoDispatcher{d: d, snap: snap, every: every, logger: logger}
}

// Next picks the highest-priority ready bead not being dispatched. It
// returns false while any project job is queued or running.
func (a *AutoDispatcher) Next(beads []models.Bead, jobs []models.Job) (models.Bead, bool) {
	for _, j := range jobs {
		if j.Status.Active() {
			return models.Bead{}, false
		}
	}

	var cands []models.Bead
	for _, b := range bead.Ready(beads) {
		if a.d.Dispatching(b.ID) {
			continue
		}
		cands = append(cands, b)
	}
	if len(cands) == 0 {
		return models.Bead{}, false
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].Priority < cands[j].Priority })
	return cands[0], true
}

// Tick makes one dispatch attempt. It returns a nil job when there is
// nothing to do.
func (a *AutoDispatcher) Tick(ctx context.Context) (*models.Job, error) {
	if a.d.Busy() {
		return nil, nil
	}
	jobs := a.snap.Jobs()

	a.mu.Lock()
	lastJob := a.lastJob
	a.mu.Unlock()
	if lastJob != "" && !containsJob(jobs, lastJob) {
		// The job list predates the last dispatch.
		return nil, nil
	}

	b, ok := a.Next(a.snap.Beads(), jobs)
	if !ok {
		return nil, nil
	}
	job, err := a.d.Dispatch(ctx, b)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastErr = err
	if err != nil {
		return nil, err
	}
	a.lastBead, a.lastJob = b.ID, job.ID
	return job, nil
}

func containsJob(jobs []models.Job, id string) bool {
	for _, j := range jobs {
		if j.ID == id {
			return true
		}
	}
	return false
}

// Run ticks once immediately and then on every interval until ctx is done.
// Dispatch failures are logged and do not stop the loop.
func (a *AutoDispatcher) Run(ctx context.Context) error {
	a.logger.Info("auto-dispatch started", "project", a.d.projectID, "every", a.every)
	ticker := time.NewTicker(a.every)
	defer ticker.Stop()
	for {
		if _, err := a.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn("auto-dispatch tick failed", "err", err)
		}
		select {
		case <-ctx.Done():
			a.logger.Info("auto-dispatch stopped", "project", a.d.projectID)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Status reports the loop state.
func (a *AutoDispatcher) Status() AutoStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return AutoStatus{
		ReadyCount:     len(bead.Ready(a.snap.Beads())),
		Dispatching:    a.d.Busy(),
		LastDispatched: a.lastBead,
		LastErr:        a.lastErr,
	}
}
