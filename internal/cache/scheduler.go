package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Poller is anything the Scheduler can drive.
type Poller interface {
	Name() string
	NextDelay() time.Duration
	Poll(ctx context.Context)
}

// pollSchedule asks its poller for the next delay on every activation.
// Suppressed pollers are re-checked after idle.
type pollSchedule struct {
	poller Poller
	idle   time.Duration
}

func (s pollSchedule) Next(t time.Time) time.Time {
	d := s.poller.NextDelay()
	if d <= 0 {
		d = s.idle
	}
	return t.Add(d)
}

// Scheduler runs pollers on a cron runner, one entry per poller. A poll
// that is still running when its next activation comes due is skipped.
type Scheduler struct {
	cron   *cron.Cron
	idle   time.Duration
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler returns a stopped scheduler.
func NewScheduler(idle time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if idle <= 0 {
		idle = 30 * time.Second
	}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cron.DiscardLogger),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		idle:   idle,
		logger: logger,
		ctx:    context.Background(),
	}
}

// Add registers a poller.
func (s *Scheduler) Add(p Poller) {
	id := s.cron.Schedule(pollSchedule{poller: p, idle: s.idle}, cron.FuncJob(func() {
		p.Poll(s.ctx)
	}))
	s.logger.Debug("poller scheduled", "cache", p.Name(), "entry", id)
}

// Start begins polling. Polls run with a context derived from ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
}

// Stop cancels in-flight polls and waits for them to return.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.cron.Stop().Done()
}
