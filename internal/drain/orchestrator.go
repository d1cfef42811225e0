package drain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/zulandar/ember/internal/api"
	"github.com/zulandar/ember/internal/bead"
	"github.com/zulandar/ember/internal/models"
)

var (
	// ErrEmptySelection is returned by Begin when nothing is selected.
	ErrEmptySelection = errors.New("drain: nothing selected")
	// ErrWrongPhase is returned when an action is not valid in the current phase.
	ErrWrongPhase = errors.New("drain: action not valid in this phase")
	// ErrPending is returned while a start or stop request is outstanding.
	ErrPending = errors.New("drain: request already in progress")
)

// Backend is the part of the dev-dash API the orchestrator drives.
type Backend interface {
	StartDrain(ctx context.Context, projectID string, req api.StartDrainRequest) (*models.DrainStartResult, error)
	StopDrain(ctx context.Context, projectID string) (*models.StopDrainResult, error)
	ListJobs(ctx context.Context, f api.JobFilter) ([]models.Job, error)
}

// Options configures an Orchestrator.
type Options struct {
	ProjectID string

	// MaxJobs caps the jobs a drain may create. Zero means no cap.
	MaxJobs int

	DiscoveryAttempts int
	DiscoveryInterval time.Duration

	// Initial is the drain status known at startup. An active drain puts
	// the orchestrator straight into burning.
	Initial *models.DrainStatus

	Now    func() time.Time
	Logger *slog.Logger
}

// Orchestrator owns the burn workflow state. Every method is safe for
// concurrent use; mu is the single serialization point.
type Orchestrator struct {
	backend Backend
	opts    Options
	now     func() time.Time
	logger  *slog.Logger

	mu       sync.Mutex
	phase    Phase
	selected []string
	selSet   map[string]struct{}

	beads   []models.Bead
	jobs    []models.Job
	status  *models.DrainStatus
	preview *models.DrainPreview
	summary *models.DrainSummary
	prs     []models.PRStatus

	// prevActive is the last observed drain activity, nil before the first
	// observation.
	prevActive *bool

	drainID     string
	jobsCreated map[string]struct{}
	startedAt   time.Time
	reviewAt    time.Time
	exhausted   bool
	generation  int
	cancelDisc  context.CancelFunc

	starting bool
	stopping bool

	// holdReconnect keeps a stale active status from pulling the workflow
	// back into burning after an abort.
	holdReconnect bool
	lastErr       error

	subs    map[int]func()
	nextSub int
	hooks   []func(from, to Phase)
}

// New returns an orchestrator in the select phase, or in burning when
// opts.Initial reports an active drain.
func New(backend Backend, opts Options) *Orchestrator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DiscoveryAttempts <= 0 {
		opts.DiscoveryAttempts = 5
	}
	if opts.DiscoveryInterval <= 0 {
		opts.DiscoveryInterval = 2 * time.Second
	}
	o := &Orchestrator{
		backend: backend,
		opts:    opts,
		now:     opts.Now,
		logger:  opts.Logger,
		phase:   PhaseSelect,
		selSet:  make(map[string]struct{}),
		subs:    make(map[int]func()),
	}
	if st := opts.Initial; st != nil {
		o.status = st
		active := st.Active
		o.prevActive = &active
		if st.Active {
			o.phase = PhaseBurning
			o.startedAt = o.adoptStart(st)
			o.logger.Info("reconnected to active drain", "project", opts.ProjectID, "started_at", o.startedAt)
		}
	}
	return o
}

// ProjectID is the project the orchestrator drives.
func (o *Orchestrator) ProjectID() string { return o.opts.ProjectID }

func (o *Orchestrator) adoptStart(st *models.DrainStatus) time.Time {
	if st.StartedAt != nil && !st.StartedAt.IsZero() {
		return *st.StartedAt
	}
	return o.now()
}

// Phase returns the current phase.
func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// DrainID is the discovered id of the drain being burned, or "".
func (o *Orchestrator) DrainID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.drainID
}

// ReviewDrainID is the drain under review: the burned drain when known,
// else the summary's drain.
func (o *Orchestrator) ReviewDrainID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.reviewDrainID()
}

func (o *Orchestrator) reviewDrainID() string {
	if o.drainID != "" {
		return o.drainID
	}
	if o.summary != nil {
		return o.summary.DrainID
	}
	return ""
}

// StartedAt is the elapsed-time origin of the current burn.
func (o *Orchestrator) StartedAt() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.startedAt
}

// Err returns the error of the last failed start or stop request.
func (o *Orchestrator) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

// Subscribe registers fn to be called after every state change. The
// returned func removes it.
func (o *Orchestrator) Subscribe(fn func()) func() {
	o.mu.Lock()
	id := o.nextSub
	o.nextSub++
	o.subs[id] = fn
	o.mu.Unlock()
	return func() {
		o.mu.Lock()
		delete(o.subs, id)
		o.mu.Unlock()
	}
}

// OnPhase registers a hook called on every phase transition.
func (o *Orchestrator) OnPhase(fn func(from, to Phase)) {
	o.mu.Lock()
	o.hooks = append(o.hooks, fn)
	o.mu.Unlock()
}

type transition struct{ from, to Phase }

// unlock releases mu, then runs phase hooks for ts and notifies subscribers.
func (o *Orchestrator) unlock(ts ...transition) {
	hooks := slices.Clone(o.hooks)
	subs := make([]func(), 0, len(o.subs))
	for _, fn := range o.subs {
		subs = append(subs, fn)
	}
	o.mu.Unlock()

	for _, t := range ts {
		o.logger.Info("drain phase", "project", o.opts.ProjectID, "from", t.from, "to", t.to)
		for _, h := range hooks {
			h(t.from, t.to)
		}
	}
	for _, fn := range subs {
		fn()
	}
}

// setPhase records a transition; callers hold mu.
func (o *Orchestrator) setPhase(to Phase, ts *[]transition) {
	if o.phase == to {
		return
	}
	*ts = append(*ts, transition{from: o.phase, to: to})
	o.phase = to
	if to == PhaseReview {
		o.reviewAt = o.now()
	}
}

// --- selection ---

func (o *Orchestrator) add(id string) {
	if _, ok := o.selSet[id]; ok {
		return
	}
	o.selSet[id] = struct{}{}
	o.selected = append(o.selected, id)
}

func (o *Orchestrator) replaceSelection(ids []string) {
	o.selected = nil
	o.selSet = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		o.add(id)
	}
}

// Toggle adds or removes id from the selection.
func (o *Orchestrator) Toggle(id string) error {
	o.mu.Lock()
	if o.phase != PhaseSelect {
		o.mu.Unlock()
		return ErrWrongPhase
	}
	if _, ok := o.selSet[id]; ok {
		delete(o.selSet, id)
		for i, s := range o.selected {
			if s == id {
				o.selected = append(o.selected[:i:i], o.selected[i+1:]...)
				break
			}
		}
	} else {
		o.add(id)
	}
	o.unlock()
	return nil
}

// AutoPick replaces the selection with the previewed candidates, in order.
func (o *Orchestrator) AutoPick() error {
	o.mu.Lock()
	if o.phase != PhaseSelect {
		o.mu.Unlock()
		return ErrWrongPhase
	}
	if o.preview != nil {
		ids := make([]string, 0, len(o.preview.Candidates))
		for _, c := range o.preview.Candidates {
			ids = append(ids, c.ID)
		}
		o.replaceSelection(ids)
	}
	o.unlock()
	return nil
}

// SelectAllReady replaces the selection with every ready bead.
func (o *Orchestrator) SelectAllReady() error {
	o.mu.Lock()
	if o.phase != PhaseSelect {
		o.mu.Unlock()
		return ErrWrongPhase
	}
	ready := bead.Ready(o.beads)
	ids := make([]string, len(ready))
	for i, b := range ready {
		ids[i] = b.ID
	}
	o.replaceSelection(ids)
	o.unlock()
	return nil
}

// Clear empties the selection.
func (o *Orchestrator) Clear() {
	o.mu.Lock()
	o.replaceSelection(nil)
	o.unlock()
}

// Selected returns the selection in the order it was built.
func (o *Orchestrator) Selected() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.selected...)
}

// IsSelected reports whether id is selected.
func (o *Orchestrator) IsSelected(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.selSet[id]
	return ok
}

// --- actions ---

// Begin starts a drain over the selection and moves to burning. On error
// the state is unchanged. Drain-id discovery continues in the background.
func (o *Orchestrator) Begin(ctx context.Context) (*models.DrainStartResult, error) {
	o.mu.Lock()
	switch {
	case o.phase != PhaseSelect:
		o.mu.Unlock()
		return nil, ErrWrongPhase
	case o.starting:
		o.mu.Unlock()
		return nil, ErrPending
	case len(o.selected) == 0:
		o.mu.Unlock()
		return nil, ErrEmptySelection
	}
	ids := append([]string(nil), o.selected...)
	o.starting = true
	o.lastErr = nil
	o.unlock()

	res, err := o.backend.StartDrain(ctx, o.opts.ProjectID, api.StartDrainRequest{
		BeadIDs: ids,
		MaxJobs: o.opts.MaxJobs,
	})

	o.mu.Lock()
	o.starting = false
	if err != nil {
		o.lastErr = err
		o.unlock()
		o.logger.Warn("start drain failed", "project", o.opts.ProjectID, "beads", len(ids), "err", err)
		return nil, fmt.Errorf("drain: start: %w", err)
	}

	var ts []transition
	o.generation++
	gen := o.generation
	o.startedAt = o.now()
	o.drainID = ""
	o.exhausted = false
	o.holdReconnect = false
	o.jobsCreated = make(map[string]struct{}, len(res.JobsCreated))
	for _, id := range res.JobsCreated {
		o.jobsCreated[id] = struct{}{}
	}
	o.prevActive = nil
	o.replaceSelection(nil)
	o.setPhase(PhaseBurning, &ts)
	o.matchDrain()
	found := o.drainID != ""

	discCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if o.cancelDisc != nil {
		o.cancelDisc()
	}
	o.cancelDisc = cancel
	o.unlock(ts...)

	o.logger.Info("drain started", "project", o.opts.ProjectID, "scope", res.ScopeSize, "jobs", len(res.JobsCreated))
	if !found {
		go o.discover(discCtx, gen)
	} else {
		cancel()
	}
	return res, nil
}

// Abort stops the running drain. On success the workflow moves to review
// without waiting for the backend to report the drain inactive.
func (o *Orchestrator) Abort(ctx context.Context) error {
	o.mu.Lock()
	switch {
	case o.phase != PhaseBurning:
		o.mu.Unlock()
		return ErrWrongPhase
	case o.stopping:
		o.mu.Unlock()
		return ErrPending
	}
	o.stopping = true
	o.lastErr = nil
	o.unlock()

	res, err := o.backend.StopDrain(ctx, o.opts.ProjectID)

	o.mu.Lock()
	o.stopping = false
	if err != nil {
		o.lastErr = err
		o.unlock()
		o.logger.Warn("stop drain failed", "project", o.opts.ProjectID, "err", err)
		return fmt.Errorf("drain: stop: %w", err)
	}
	var ts []transition
	o.holdReconnect = true
	o.setPhase(PhaseReview, &ts)
	o.unlock(ts...)
	o.logger.Info("drain stopped", "project", o.opts.ProjectID, "was_draining", res != nil && res.WasDraining)
	return nil
}

// NewBurn resets the workflow to an empty select phase.
func (o *Orchestrator) NewBurn() {
	o.mu.Lock()
	var ts []transition
	o.generation++
	if o.cancelDisc != nil {
		o.cancelDisc()
		o.cancelDisc = nil
	}
	o.drainID = ""
	o.jobsCreated = nil
	o.exhausted = false
	o.startedAt = time.Time{}
	o.reviewAt = time.Time{}
	o.summary = nil
	o.prs = nil
	o.lastErr = nil
	o.replaceSelection(nil)
	o.setPhase(PhaseSelect, &ts)
	o.unlock(ts...)
}

// Starting reports whether a start request is outstanding.
func (o *Orchestrator) Starting() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.starting
}

// Stopping reports whether a stop request is outstanding.
func (o *Orchestrator) Stopping() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stopping
}

// --- observations ---

// ObserveBeads adopts a fresh bead list.
func (o *Orchestrator) ObserveBeads(beads []models.Bead) {
	o.mu.Lock()
	o.beads = beads
	o.unlock()
}

// ObserveJobs adopts a fresh job list and retries drain-id discovery.
func (o *Orchestrator) ObserveJobs(jobs []models.Job) {
	o.mu.Lock()
	o.jobs = jobs
	if o.phase == PhaseBurning {
		o.matchDrain()
	}
	o.unlock()
}

// ObservePreview adopts the auto-pick candidate list.
func (o *Orchestrator) ObservePreview(p *models.DrainPreview) {
	o.mu.Lock()
	o.preview = p
	o.unlock()
}

// ObserveSummary adopts the drain summary during review and reports whether
// it was adopted. Summaries outside review, or of a drain other than the
// burned one, are ignored.
func (o *Orchestrator) ObserveSummary(s *models.DrainSummary) bool {
	o.mu.Lock()
	if o.phase != PhaseReview || (s != nil && o.drainID != "" && s.DrainID != "" && s.DrainID != o.drainID) {
		o.mu.Unlock()
		return false
	}
	o.summary = s
	o.unlock()
	return true
}

// ObservePRStatuses adopts pull request statuses during review.
func (o *Orchestrator) ObservePRStatuses(prs []models.PRStatus) {
	o.mu.Lock()
	if o.phase != PhaseReview {
		o.mu.Unlock()
		return
	}
	o.prs = prs
	o.unlock()
}

// ObserveDrainStatus adopts a polled drain status. From select, an active
// drain reconnects into burning. From burning, the falling edge of the
// active flag moves to review.
func (o *Orchestrator) ObserveDrainStatus(st *models.DrainStatus) {
	o.mu.Lock()
	var ts []transition
	o.status = st
	active := st != nil && st.Active

	switch o.phase {
	case PhaseSelect:
		if !active {
			o.holdReconnect = false
		} else if !o.holdReconnect && !o.starting {
			o.generation++
			o.startedAt = o.adoptStart(st)
			o.drainID = ""
			o.jobsCreated = nil
			o.exhausted = false
			o.setPhase(PhaseBurning, &ts)
			o.matchDrain()
		}
	case PhaseBurning:
		wasActive := o.prevActive != nil && *o.prevActive
		if !active && (wasActive || o.drainSettled()) {
			o.setPhase(PhaseReview, &ts)
		}
	case PhaseReview:
		if !active {
			o.holdReconnect = false
		}
	}
	o.prevActive = &active
	o.unlock(ts...)
}

// drainSettled reports whether the discovered drain has jobs and none of
// them is still active. It catches a drain that finished between two status
// polls; callers hold mu.
func (o *Orchestrator) drainSettled() bool {
	if o.drainID == "" {
		return false
	}
	n := 0
	for _, j := range o.jobs {
		if j.DrainID != o.drainID {
			continue
		}
		if j.Status.Active() {
			return false
		}
		n++
	}
	return n > 0
}

// matchDrain resolves the drain id from the job snapshot; callers hold mu.
// Jobs created by Begin are matched first. The looser match on any active
// job carrying a drain id is used once discovery is exhausted, or when no
// created jobs are known.
func (o *Orchestrator) matchDrain() {
	if o.drainID != "" {
		return
	}
	for _, j := range o.jobs {
		if _, ok := o.jobsCreated[j.ID]; ok && j.DrainID != "" {
			o.drainID = j.DrainID
			return
		}
	}
	if len(o.jobsCreated) > 0 && !o.exhausted {
		return
	}
	for _, j := range o.jobs {
		if j.Status.Active() && j.DrainID != "" {
			o.drainID = j.DrainID
			return
		}
	}
}
