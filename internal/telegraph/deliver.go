package telegraph

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds how often a rate-limited post is repeated.
type RetryPolicy struct {
	Retries int
	Initial time.Duration
	Max     time.Duration
}

// DefaultRetry is the policy adapters use unless told otherwise.
var DefaultRetry = RetryPolicy{Retries: 3, Initial: 2 * time.Second, Max: 30 * time.Second}

// RateLimitError marks a post the platform asked to repeat later. Wait is
// the delay the platform requested, or zero.
type RateLimitError struct {
	Err  error
	Wait time.Duration
}

func (e *RateLimitError) Error() string { return e.Err.Error() }

func (e *RateLimitError) Unwrap() error { return e.Err }

// Deliver runs post until it succeeds, fails with anything other than a
// *RateLimitError, or the policy's retries run out. A platform-requested
// wait replaces the next backoff delay. A zero policy means DefaultRetry.
func Deliver(ctx context.Context, p RetryPolicy, logger *slog.Logger, post func() error) error {
	if p == (RetryPolicy{}) {
		p = DefaultRetry
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.MaxInterval = p.Max
	b.MaxElapsedTime = 0
	wait := &platformWait{BackOff: b}
	policy := backoff.WithContext(backoff.WithMaxRetries(wait, uint64(p.Retries)), ctx)

	op := func() error {
		err := post()
		var rl *RateLimitError
		switch {
		case err == nil:
			return nil
		case errors.As(err, &rl):
			wait.next = rl.Wait
			return err
		default:
			return backoff.Permanent(err)
		}
	}
	notify := func(err error, d time.Duration) {
		if logger != nil {
			logger.Warn("chat post rate limited", "wait", d, "err", err)
		}
	}
	return backoff.RetryNotify(op, policy, notify)
}

// platformWait prefers a delay requested by the platform over its own.
type platformWait struct {
	backoff.BackOff
	next time.Duration
}

func (w *platformWait) NextBackOff() time.Duration {
	d := w.BackOff.NextBackOff()
	if w.next > 0 && d != backoff.Stop {
		d = w.next
	}
	w.next = 0
	return d
}
