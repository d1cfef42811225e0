package telegraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zulandar/ember/internal/failure"
	"github.com/zulandar/ember/internal/models"
)

// Notifier fans ember events out to every connected adapter.
type Notifier struct {
	project  string
	adapters []Adapter
	logger   *slog.Logger

	mu       sync.Mutex
	live     []Adapter
	notified map[string]bool
}

// NotifierOpts holds parameters for creating a Notifier.
type NotifierOpts struct {
	Project  string
	Adapters []Adapter
	Logger   *slog.Logger
}

// NewNotifier creates a Notifier. A Notifier without adapters is valid and
// sends nothing.
func NewNotifier(opts NotifierOpts) *Notifier {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		project:  opts.Project,
		adapters: opts.Adapters,
		logger:   logger,
		notified: make(map[string]bool),
	}
}

// Connect connects every adapter. Adapters that fail to connect are logged
// and left out; an error is returned only when all of them fail.
func (n *Notifier) Connect(ctx context.Context) error {
	var live []Adapter
	var errs []error
	for _, a := range n.adapters {
		if err := a.Connect(ctx); err != nil {
			n.logger.Warn("telegraph adapter unavailable", "err", err)
			errs = append(errs, err)
			continue
		}
		live = append(live, a)
	}
	n.mu.Lock()
	n.live = live
	n.mu.Unlock()
	if len(live) == 0 && len(errs) > 0 {
		return fmt.Errorf("telegraph: connect: %w", errors.Join(errs...))
	}
	return nil
}

// Enabled reports whether any adapter is connected.
func (n *Notifier) Enabled() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.live) > 0
}

// Send delivers msg through every connected adapter.
func (n *Notifier) Send(ctx context.Context, msg OutboundMessage) error {
	n.mu.Lock()
	live := append([]Adapter(nil), n.live...)
	n.mu.Unlock()

	var errs []error
	for _, a := range live {
		if err := a.Send(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DrainCompleted posts the completion digest of a drain. Each drain is
// announced at most once; a failed post may be repeated.
func (n *Notifier) DrainCompleted(ctx context.Context, s *models.DrainSummary, groups []failure.Group) error {
	if s == nil || s.DrainID == "" || !n.Enabled() {
		return nil
	}
	n.mu.Lock()
	if n.notified[s.DrainID] {
		n.mu.Unlock()
		return nil
	}
	n.notified[s.DrainID] = true
	n.mu.Unlock()

	if err := n.Send(ctx, DrainCompletedMessage(n.project, s, groups)); err != nil {
		n.mu.Lock()
		delete(n.notified, s.DrainID)
		n.mu.Unlock()
		n.logger.Warn("drain notification failed", "drain", s.DrainID, "err", err)
		return fmt.Errorf("telegraph: drain %s: %w", s.DrainID, err)
	}
	n.logger.Info("drain notification sent", "drain", s.DrainID)
	return nil
}

// Close closes every adapter.
func (n *Notifier) Close() error {
	var errs []error
	for _, a := range n.adapters {
		if err := a.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
