// Package app wires the backend client, entity caches and workflow
// components of one project into a Console shared by every surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zulandar/ember/internal/api"
	"github.com/zulandar/ember/internal/bead"
	"github.com/zulandar/ember/internal/cache"
	"github.com/zulandar/ember/internal/config"
	"github.com/zulandar/ember/internal/dispatch"
	"github.com/zulandar/ember/internal/drain"
	"github.com/zulandar/ember/internal/failure"
	"github.com/zulandar/ember/internal/inflight"
	"github.com/zulandar/ember/internal/journal"
	"github.com/zulandar/ember/internal/models"
	"github.com/zulandar/ember/internal/review"
	"github.com/zulandar/ember/internal/telegraph"
)

// ErrNoProject is returned when no project is configured.
var ErrNoProject = errors.New("app: no project configured (set project in ember.yaml or EMBER_PROJECT)")

// ErrNotFound is returned when an action names a bead, job or failure group
// the console does not know.
var ErrNotFound = errors.New("app: not found")

// Options configures a Console.
type Options struct {
	Config  *config.Config
	Backend Backend
	Journal *journal.Journal

	// PRs and Merger replace the backend's pull request endpoints, e.g.
	// with a GitHub-backed source.
	PRs    cache.PRSource
	Merger review.Merger

	Notifier *telegraph.Notifier
	Now      func() time.Time
	Logger   *slog.Logger
}

// Console is the live state of one project: caches polling the backend and
// the burn workflow observing them.
type Console struct {
	Project string
	Backend Backend

	Store      *cache.Store
	Drain      *drain.Orchestrator
	Remediator *failure.Remediator
	Assistant  *review.Assistant
	Checklist  *review.Checklist
	Dispatcher *dispatch.Dispatcher
	Auto       *dispatch.AutoDispatcher
	Notifier   *telegraph.Notifier
	Journal    *journal.Journal

	cfg       *config.Config
	prs       cache.PRSource
	scheduler *cache.Scheduler
	logger    *slog.Logger
	now       func() time.Time

	mu         sync.Mutex
	ctx        context.Context
	unsubs     []func()
	autoCancel context.CancelFunc
	autoDone   chan struct{}
}

// New builds a Console and primes its caches. An unauthorized backend is
// fatal; other priming failures are logged and left to the pollers.
func New(ctx context.Context, opts Options) (*Console, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if cfg.Project == "" {
		return nil, ErrNoProject
	}
	if opts.Backend == nil {
		return nil, errors.New("app: backend is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	project := cfg.Project

	prs := opts.PRs
	if prs == nil {
		prs = opts.Backend
	}
	store := cache.NewStore(opts.Backend, cache.Options{
		ProjectID:    project,
		Polling:      cfg.Polling,
		PreviewCount: cfg.Drain.AutoPick,
		PRs:          prs,
		Logger:       logger,
	})
	be := &tracked{Backend: opts.Backend, store: store, journal: opts.Journal, merger: opts.Merger}

	if err := store.Prime(ctx); err != nil {
		if errors.Is(err, api.ErrUnauthorized) {
			return nil, err
		}
		logger.Warn("initial load incomplete", "project", project, "err", err)
	}
	initial, _ := store.Drain.Get()

	c := &Console{
		Project: project,
		Backend: be,
		Store:   store,
		Drain: drain.New(be, drain.Options{
			ProjectID:         project,
			MaxJobs:           cfg.Drain.MaxJobs,
			DiscoveryAttempts: cfg.Drain.DiscoveryAttempts,
			DiscoveryInterval: cfg.Drain.DiscoveryInterval,
			Initial:           initial,
			Now:               now,
			Logger:            logger,
		}),
		Remediator: failure.NewRemediator(be, project, logger),
		Assistant:  review.NewAssistant(be, project, logger),
		Checklist:  review.NewChecklist(be, project),
		Dispatcher: dispatch.NewDispatcher(be, project, logger),
		Notifier:   opts.Notifier,
		Journal:    opts.Journal,
		cfg:        cfg,
		prs:        prs,
		scheduler:  cache.NewScheduler(cfg.Polling.IdleRecheck, logger),
		logger:     logger,
		now:        now,
		ctx:        ctx,
	}
	c.Auto = dispatch.NewAutoDispatcher(c.Dispatcher, storeSnapshot{store}, cfg.Drain.AutoDispatchEvery, logger)
	c.wire()
	c.observeCached()
	return c, nil
}

// wire feeds cache updates into the orchestrator and phase changes back
// into the caches.
func (c *Console) wire() {
	o, s := c.Drain, c.Store
	c.unsubs = append(c.unsubs,
		s.Beads.Subscribe(o.ObserveBeads),
		s.Jobs.Subscribe(o.ObserveJobs),
		s.Preview.Subscribe(o.ObservePreview),
		s.Drain.Subscribe(o.ObserveDrainStatus),
		s.PRs.Subscribe(o.ObservePRStatuses),
		s.Summary.Subscribe(c.onSummary),
	)
	o.OnPhase(c.onPhase)
}

// observeCached hands the primed values to the orchestrator. The drain
// status is already applied as its initial state.
func (c *Console) observeCached() {
	if v, ok := c.Store.Beads.Get(); ok {
		c.Drain.ObserveBeads(v)
	}
	if v, ok := c.Store.Jobs.Get(); ok {
		c.Drain.ObserveJobs(v)
	}
	if v, ok := c.Store.Preview.Get(); ok {
		c.Drain.ObservePreview(v)
	}
}

func (c *Console) context() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctx
}

func (c *Console) onPhase(from, to drain.Phase) {
	ctx := c.context()
	c.logger.Info("phase changed", "project", c.Project, "from", from, "to", to)
	switch to {
	case drain.PhaseReview:
		c.Store.EnterReview(ctx, c.Drain.ReviewDrainID())
	case drain.PhaseBurning:
		c.Store.LeaveReview()
		c.Store.Invalidate(ctx, cache.KeyJobs)
	case drain.PhaseSelect:
		c.Store.LeaveReview()
		c.Checklist.Reset()
		c.Remediator.Reset()
		c.Store.Invalidate(ctx, cache.KeyBeads, cache.KeyPreview)
	}
}

// onSummary adopts a fresh summary of the reviewed drain: it pins the
// review drain once the summary names it, loads the checklist and announces
// the drain.
func (c *Console) onSummary(s *models.DrainSummary) {
	if !c.Drain.ObserveSummary(s) || s == nil {
		return
	}
	ctx := c.context()
	if s.DrainID != "" && c.Store.ReviewDrain() != s.DrainID && c.Drain.DrainID() == "" {
		c.Store.EnterReview(ctx, s.DrainID)
	}
	c.Checklist.Load(s.DrainID, s.SmokeTestChecklist, s.ChecklistState)

	if c.Notifier != nil && s.DrainID != "" {
		go func() {
			err := c.Notifier.DrainCompleted(ctx, s, c.FailureGroups())
			if err != nil {
				c.Journal.Record(ctx, journal.ActionNotification, s.DrainID, err)
			}
		}()
	}
}

// Start begins background polling. Stop it with Close.
func (c *Console) Start(ctx context.Context) {
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()
	c.Store.Schedule(c.scheduler)
	c.scheduler.Start(ctx)
	c.logger.Info("console started", "project", c.Project)
}

// Close stops polling and auto-dispatch and detaches the subscriptions.
func (c *Console) Close() {
	c.SetAutoDispatch(false)
	c.scheduler.Stop()
	c.mu.Lock()
	unsubs := c.unsubs
	c.unsubs = nil
	c.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
}

// --- workflow actions ---

// Refresh reloads every enabled cache now.
func (c *Console) Refresh(ctx context.Context) {
	c.Store.Invalidate(ctx, cache.KeyBeads, cache.KeyJobs, cache.KeyStats, cache.KeyDrain, cache.KeyPreview)
	if c.Drain.Phase() == drain.PhaseReview {
		c.Store.Invalidate(ctx, cache.KeySummary, cache.KeyPRs)
	}
}

// Burn starts a drain over the beads ids, or over the auto-pick preview when
// ids is empty. A finished review is closed first.
func (c *Console) Burn(ctx context.Context, ids []string) (*models.DrainStartResult, error) {
	if c.Drain.Phase() == drain.PhaseReview {
		c.Drain.NewBurn()
	}
	if c.Drain.Phase() != drain.PhaseSelect {
		return nil, drain.ErrWrongPhase
	}
	if len(ids) == 0 {
		if _, err := c.Store.Preview.Refresh(ctx); err != nil {
			return nil, err
		}
		if err := c.Drain.AutoPick(); err != nil {
			return nil, err
		}
		return c.Drain.Begin(ctx)
	}

	beads, err := c.Store.Beads.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	idx := bead.NewIndex(beads)
	c.Drain.Clear()
	for _, id := range ids {
		if _, ok := idx[id]; !ok {
			c.Drain.Clear()
			return nil, fmt.Errorf("%w: bead %s", ErrNotFound, id)
		}
		if !c.Drain.IsSelected(id) {
			if err := c.Drain.Toggle(id); err != nil {
				return nil, err
			}
		}
	}
	return c.Drain.Begin(ctx)
}

// FailedJobs lists the failed jobs of the reviewed drain that have not
// been skipped.
func (c *Console) FailedJobs() []models.DrainSummaryJob {
	s, _ := c.Store.Summary.Get()
	return c.Remediator.Visible(s.JobsWithStatus(models.JobFailed))
}

// FailureGroups groups the visible failed jobs of the reviewed drain.
func (c *Console) FailureGroups() []failure.Group {
	return failure.BuildGroups(c.FailedJobs())
}

// RetryGroup retries every job of the group with category.
func (c *Console) RetryGroup(ctx context.Context, category string) ([]string, error) {
	for _, g := range c.FailureGroups() {
		if g.Category == category {
			return failedKeys(c.Remediator.RetryGroup(ctx, g)), nil
		}
	}
	return nil, fmt.Errorf("%w: failure group %q", ErrNotFound, category)
}

// RetryAllFailed retries every visible failed job. It returns the ids that
// could not be retried.
func (c *Console) RetryAllFailed(ctx context.Context) ([]string, error) {
	outcomes, err := c.Remediator.RetryAllFailed(ctx, c.FailedJobs())
	if err != nil {
		return nil, err
	}
	return failedKeys(outcomes), nil
}

// Skip hides a failed job and deprioritizes its bead.
func (c *Console) Skip(ctx context.Context, jobID string) error {
	for _, j := range c.FailedJobs() {
		if j.JobID == jobID {
			err := c.Remediator.Skip(ctx, j)
			c.Journal.Record(ctx, journal.ActionSkip, jobID, err)
			return err
		}
	}
	return fmt.Errorf("%w: failed job %s", ErrNotFound, jobID)
}

// FetchPRStatuses asks the configured pull request source for the statuses
// of drainID, bypassing the cache.
func (c *Console) FetchPRStatuses(ctx context.Context, drainID string) ([]models.PRStatus, error) {
	return c.prs.PRStatuses(ctx, c.Project, drainID)
}

// PRStatuses returns the cached pull request statuses of the reviewed drain.
func (c *Console) PRStatuses() []models.PRStatus {
	prs, _ := c.Store.PRs.Get()
	return prs
}

// MergeOne merges pull request n if it is ready. With an empty drainID the
// cached statuses of the reviewed drain decide; otherwise the statuses of
// drainID are fetched first.
func (c *Console) MergeOne(ctx context.Context, drainID string, n int) error {
	prs := c.PRStatuses()
	if drainID != "" {
		var err error
		if prs, err = c.FetchPRStatuses(ctx, drainID); err != nil {
			return err
		}
	}
	return c.Assistant.MergeOne(ctx, prs, n)
}

// MergeReady merges every ready pull request one at a time. It returns the
// PR numbers that failed.
func (c *Console) MergeReady(ctx context.Context) []int {
	return failedKeys(c.Assistant.MergeReady(ctx, c.PRStatuses()))
}

// Dispatch creates a job for the bead with id beadID.
func (c *Console) Dispatch(ctx context.Context, beadID string) (*models.Job, error) {
	beads, _ := c.Store.Beads.Get()
	for _, b := range beads {
		if b.ID == beadID {
			return c.Dispatcher.Dispatch(ctx, b)
		}
	}
	return nil, fmt.Errorf("%w: bead %s", ErrNotFound, beadID)
}

// SetAutoDispatch starts or stops the auto-dispatch loop.
func (c *Console) SetAutoDispatch(on bool) {
	c.mu.Lock()
	if on == (c.autoCancel != nil) {
		c.mu.Unlock()
		return
	}
	if !on {
		cancel, done := c.autoCancel, c.autoDone
		c.autoCancel, c.autoDone = nil, nil
		c.mu.Unlock()
		cancel()
		<-done
		return
	}
	ctx, cancel := context.WithCancel(c.ctx)
	done := make(chan struct{})
	c.autoCancel, c.autoDone = cancel, done
	c.mu.Unlock()

	go func() {
		defer close(done)
		_ = c.Auto.Run(ctx)
	}()
}

// AutoDispatching reports whether the auto-dispatch loop runs.
func (c *Console) AutoDispatching() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.autoCancel != nil
}

func failedKeys[K comparable](outcomes []inflight.Outcome[K]) []K {
	var out []K
	for _, o := range inflight.Failed(outcomes) {
		out = append(out, o.Key)
	}
	return out
}

// storeSnapshot exposes the cached beads and jobs to the auto-dispatcher.
type storeSnapshot struct {
	store *cache.Store
}

func (s storeSnapshot) Beads() []models.Bead {
	v, _ := s.store.Beads.Get()
	return v
}

func (s storeSnapshot) Jobs() []models.Job {
	v, _ := s.store.Jobs.Get()
	return v
}
