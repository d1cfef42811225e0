package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zulandar/ember/internal/api"
	"github.com/zulandar/ember/internal/config"
	"github.com/zulandar/ember/internal/models"
	"github.com/zulandar/ember/internal/review"
)

// Source is the backend surface the entity caches read from.
type Source interface {
	ListBeads(ctx context.Context, projectID string, limit int) ([]models.Bead, error)
	ListJobs(ctx context.Context, f api.JobFilter) ([]models.Job, error)
	JobStats(ctx context.Context) (*models.JobStats, error)
	DrainStatus(ctx context.Context, projectID string) (*models.DrainStatus, error)
	PreviewDrain(ctx context.Context, projectID string, maxCount int) (*models.DrainPreview, error)
	DrainSummary(ctx context.Context, projectID string) (*models.DrainSummary, error)
}

// PRSource reports pull request statuses for a drain.
type PRSource interface {
	PRStatuses(ctx context.Context, projectID, drainID string) ([]models.PRStatus, error)
}

// Key names one entity cache.
type Key string

const (
	KeyBeads   Key = "beads"
	KeyJobs    Key = "jobs"
	KeyStats   Key = "stats"
	KeyDrain   Key = "drain"
	KeyPreview Key = "preview"
	KeySummary Key = "summary"
	KeyPRs     Key = "prs"
)

// Mutation is a backend write whose success invalidates caches.
type Mutation string

const (
	MutStartDrain      Mutation = "start_drain"
	MutStopDrain       Mutation = "stop_drain"
	MutCreateJob       Mutation = "create_job"
	MutRetryJob        Mutation = "retry_job"
	MutPatchBead       Mutation = "patch_bead"
	MutMergePR         Mutation = "merge_pr"
	MutUpdateChecklist Mutation = "update_checklist"
)

var invalidates = map[Mutation][]Key{
	MutStartDrain:      {KeyDrain, KeyJobs, KeyStats, KeyBeads},
	MutStopDrain:       {KeyDrain},
	MutCreateJob:       {KeyJobs, KeyStats, KeyBeads},
	MutRetryJob:        {KeyJobs, KeyStats},
	MutPatchBead:       {KeyBeads},
	MutMergePR:         {KeyPRs},
	MutUpdateChecklist: {KeySummary},
}

// Invalidates lists the caches a successful mutation makes stale.
func Invalidates(m Mutation) []Key {
	return append([]Key(nil), invalidates[m]...)
}

// Options configures a Store.
type Options struct {
	ProjectID    string
	Polling      config.PollingConfig
	PreviewCount int
	BeadLimit    int
	// PRs overrides the backend as the pull request status source.
	PRs    PRSource
	Logger *slog.Logger
}

// Store holds the entity caches of one project.
type Store struct {
	Beads   *Cache[[]models.Bead]
	Jobs    *Cache[[]models.Job]
	Stats   *Cache[*models.JobStats]
	Drain   *Cache[*models.DrainStatus]
	Preview *Cache[*models.DrainPreview]
	Summary *Cache[*models.DrainSummary]
	PRs     *Cache[[]models.PRStatus]

	logger *slog.Logger

	mu          sync.Mutex
	reviewDrain string
}

// NewStore builds the caches with their default policies. Summary and PR
// caches stay disabled until EnterReview.
func NewStore(src Source, opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	prs := opts.PRs
	if prs == nil {
		if p, ok := src.(PRSource); ok {
			prs = p
		}
	}
	poll := opts.Polling
	project := opts.ProjectID
	s := &Store{logger: logger}

	s.Beads = New(string(KeyBeads), func(ctx context.Context) ([]models.Bead, error) {
		return src.ListBeads(ctx, project, opts.BeadLimit)
	}, Every[[]models.Bead](poll.Beads), logger)

	s.Drain = New(string(KeyDrain), func(ctx context.Context) (*models.DrainStatus, error) {
		return src.DrainStatus(ctx, project)
	}, Every[*models.DrainStatus](poll.Drain), logger)

	s.Jobs = New(string(KeyJobs), func(ctx context.Context) ([]models.Job, error) {
		return src.ListJobs(ctx, api.JobFilter{ProjectID: project})
	}, func([]models.Job, bool) time.Duration {
		if s.drainActive() {
			return poll.JobsDraining
		}
		return poll.Jobs
	}, logger)

	s.Stats = New(string(KeyStats), func(ctx context.Context) (*models.JobStats, error) {
		return src.JobStats(ctx)
	}, Every[*models.JobStats](poll.Stats), logger)

	s.Preview = New(string(KeyPreview), func(ctx context.Context) (*models.DrainPreview, error) {
		return src.PreviewDrain(ctx, project, opts.PreviewCount)
	}, Every[*models.DrainPreview](poll.Preview), logger)

	s.Summary = New(string(KeySummary), func(ctx context.Context) (*models.DrainSummary, error) {
		return src.DrainSummary(ctx, project)
	}, func(v *models.DrainSummary, ok bool) time.Duration {
		if ok && v != nil && v.SmokeTestChecklist != "" && s.summaryCurrent(v) {
			return 0
		}
		return poll.Summary
	}, logger)
	s.Summary.Disable()

	s.PRs = New(string(KeyPRs), func(ctx context.Context) ([]models.PRStatus, error) {
		drainID := s.ReviewDrain()
		if drainID == "" || prs == nil {
			return nil, nil
		}
		return prs.PRStatuses(ctx, project, drainID)
	}, func(v []models.PRStatus, ok bool) time.Duration {
		if ok && review.AllSettled(v) {
			return 0
		}
		return poll.PRs
	}, logger)
	s.PRs.Disable()

	return s
}

func (s *Store) drainActive() bool {
	st, ok := s.Drain.Get()
	return ok && st != nil && st.Active
}

func (s *Store) summaryCurrent(v *models.DrainSummary) bool {
	want := s.ReviewDrain()
	return want == "" || v.DrainID == "" || v.DrainID == want
}

// ReviewDrain is the drain whose summary and PRs are being reviewed.
func (s *Store) ReviewDrain() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reviewDrain
}

// EnterReview enables the summary and PR caches for drainID.
func (s *Store) EnterReview(ctx context.Context, drainID string) {
	s.mu.Lock()
	changed := s.reviewDrain != drainID
	s.reviewDrain = drainID
	s.mu.Unlock()
	if changed {
		s.PRs.Reset()
	}
	s.Summary.Enable()
	s.PRs.Enable()
	s.Summary.Invalidate(ctx)
	s.PRs.Invalidate(ctx)
}

// LeaveReview disables and clears the summary and PR caches.
func (s *Store) LeaveReview() {
	s.mu.Lock()
	s.reviewDrain = ""
	s.mu.Unlock()
	s.Summary.Disable()
	s.PRs.Disable()
	s.Summary.Reset()
	s.PRs.Reset()
}

// Pollers returns every cache for scheduling.
func (s *Store) Pollers() []Poller {
	return []Poller{s.Beads, s.Jobs, s.Stats, s.Drain, s.Preview, s.Summary, s.PRs}
}

// Schedule registers every cache with sched.
func (s *Store) Schedule(sched *Scheduler) {
	for _, p := range s.Pollers() {
		sched.Add(p)
	}
}

type invalidator interface {
	Invalidate(ctx context.Context)
}

func (s *Store) byKey(k Key) invalidator {
	switch k {
	case KeyBeads:
		return s.Beads
	case KeyJobs:
		return s.Jobs
	case KeyStats:
		return s.Stats
	case KeyDrain:
		return s.Drain
	case KeyPreview:
		return s.Preview
	case KeySummary:
		return s.Summary
	case KeyPRs:
		return s.PRs
	}
	return nil
}

// Invalidate refreshes the named caches in the background.
func (s *Store) Invalidate(ctx context.Context, keys ...Key) {
	for _, k := range keys {
		if c := s.byKey(k); c != nil {
			c.Invalidate(ctx)
		}
	}
}

// Mutated invalidates every cache a successful mutation could have changed.
func (s *Store) Mutated(ctx context.Context, m Mutation) {
	s.logger.Debug("invalidating caches", "mutation", m, "keys", invalidates[m])
	s.Invalidate(ctx, invalidates[m]...)
}

// Prime refreshes the drain status first, then every other enabled cache
// concurrently. It returns the first error; all caches are still attempted.
func (s *Store) Prime(ctx context.Context) error {
	_, drainErr := s.Drain.Refresh(ctx)

	var g errgroup.Group
	g.Go(func() error { _, err := s.Beads.Refresh(ctx); return err })
	g.Go(func() error { _, err := s.Jobs.Refresh(ctx); return err })
	g.Go(func() error { _, err := s.Stats.Refresh(ctx); return err })
	g.Go(func() error { _, err := s.Preview.Refresh(ctx); return err })
	err := g.Wait()
	if drainErr != nil {
		return drainErr
	}
	return err
}
