// Package inflight tracks operations in progress per key and runs batches
// of them one at a time.
package inflight

import (
	"context"
	"errors"
	"sync"
)

// ErrBusy is returned when an operation for the key is already in flight.
var ErrBusy = errors.New("inflight: already in progress")

// Set is a set of keys with an operation in progress. The zero value is
// ready to use.
type Set[K comparable] struct {
	mu   sync.Mutex
	keys map[K]struct{}
}

// TryAcquire adds k and reports whether it was absent.
func (s *Set[K]) TryAcquire(k K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keys == nil {
		s.keys = make(map[K]struct{})
	}
	if _, ok := s.keys[k]; ok {
		return false
	}
	s.keys[k] = struct{}{}
	return true
}

// Release removes k.
func (s *Set[K]) Release(k K) {
	s.mu.Lock()
	delete(s.keys, k)
	s.mu.Unlock()
}

// Has reports whether k is in flight.
func (s *Set[K]) Has(k K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keys[k]
	return ok
}

// Len is the number of keys in flight.
func (s *Set[K]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

// Do runs fn while holding k. It returns ErrBusy without calling fn when k
// is already held. k is released after fn returns, whatever its result.
func (s *Set[K]) Do(k K, fn func() error) error {
	if !s.TryAcquire(k) {
		return ErrBusy
	}
	defer s.Release(k)
	return fn()
}

// Outcome is the result of one item of a batch.
type Outcome[K comparable] struct {
	Key K
	Err error
}

// Sequential runs fn for each key in order, one at a time, each under Do.
// A failing item never stops the batch. Once ctx is done the remaining
// items are reported with the context error and fn is not called.
func Sequential[K comparable](ctx context.Context, s *Set[K], keys []K, fn func(context.Context, K) error) []Outcome[K] {
	out := make([]Outcome[K], 0, len(keys))
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			out = append(out, Outcome[K]{Key: k, Err: err})
			continue
		}
		err := s.Do(k, func() error { return fn(ctx, k) })
		out = append(out, Outcome[K]{Key: k, Err: err})
	}
	return out
}

// Failed returns the outcomes that carry an error.
func Failed[K comparable](outcomes []Outcome[K]) []Outcome[K] {
	var out []Outcome[K]
	for _, o := range outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}
