// Package cache holds client-side copies of backend entities and refreshes
// them on per-entity polling policies.
package cache

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Fetcher loads the current value of an entity.
type Fetcher[T any] func(ctx context.Context) (T, error)

// Policy returns the delay until the next poll. ok is false until the first
// successful fetch. A zero delay suppresses polling.
type Policy[T any] func(value T, ok bool) time.Duration

// Every polls at a fixed interval.
func Every[T any](d time.Duration) Policy[T] {
	return func(T, bool) time.Duration { return d }
}

// Cache keeps the last good value of one entity. A failed refresh records
// the error but never replaces the value.
type Cache[T any] struct {
	name   string
	fetch  Fetcher[T]
	policy Policy[T]
	logger *slog.Logger
	group  singleflight.Group

	mu      sync.Mutex
	value   T
	ok      bool
	err     error
	updated time.Time
	enabled bool
	gen     uint64
	subs    map[int]func(T)
	nextSub int
}

// New returns an enabled cache.
func New[T any](name string, fetch Fetcher[T], policy Policy[T], logger *slog.Logger) *Cache[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache[T]{
		name:    name,
		fetch:   fetch,
		policy:  policy,
		logger:  logger,
		enabled: true,
		subs:    make(map[int]func(T)),
	}
}

// Name identifies the cache in logs.
func (c *Cache[T]) Name() string { return c.name }

// Get returns the cached value and whether one has been fetched.
func (c *Cache[T]) Get() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value, c.ok
}

// Err returns the error of the most recent refresh, if it failed.
func (c *Cache[T]) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// UpdatedAt is the time of the last successful refresh.
func (c *Cache[T]) UpdatedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updated
}

// Enabled reports whether the cache polls.
func (c *Cache[T]) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// Enable turns polling on.
func (c *Cache[T]) Enable() {
	c.mu.Lock()
	c.enabled = true
	c.mu.Unlock()
}

// Disable turns polling off. The cached value is kept; refreshes already in
// flight are discarded.
func (c *Cache[T]) Disable() {
	c.mu.Lock()
	c.enabled = false
	c.gen++
	c.mu.Unlock()
}

// Reset drops the cached value and error. Refreshes already in flight are
// discarded.
func (c *Cache[T]) Reset() {
	c.mu.Lock()
	var zero T
	c.value, c.ok, c.err, c.updated = zero, false, nil, time.Time{}
	c.gen++
	c.mu.Unlock()
}

// Refresh fetches the entity now. Concurrent refreshes share one fetch.
// On error the previous value is returned alongside the error. A result
// that lands after Disable or Reset is returned to the caller but neither
// stored nor published.
func (c *Cache[T]) Refresh(ctx context.Context) (T, error) {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	v, err, _ := c.group.Do(c.name+"/"+strconv.FormatUint(gen, 10), func() (any, error) {
		return c.fetch(ctx)
	})
	if err != nil {
		c.mu.Lock()
		if c.gen == gen {
			c.err = err
		}
		value := c.value
		c.mu.Unlock()
		c.logger.Debug("cache refresh failed", "cache", c.name, "err", err)
		return value, err
	}

	value := v.(T)
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		c.logger.Debug("cache refresh discarded", "cache", c.name)
		return value, nil
	}
	c.value, c.ok, c.err, c.updated = value, true, nil, time.Now()
	subs := make([]func(T), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(value)
	}
	return value, nil
}

// Invalidate starts a background refresh of an enabled cache.
func (c *Cache[T]) Invalidate(ctx context.Context) {
	if !c.Enabled() {
		return
	}
	ctx = context.WithoutCancel(ctx)
	go c.Refresh(ctx) //nolint:errcheck
}

// Subscribe calls fn with every freshly fetched value. The returned func
// removes the subscription.
func (c *Cache[T]) Subscribe(fn func(T)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// NextDelay is the policy delay for the current value, or zero when the
// cache is disabled.
func (c *Cache[T]) NextDelay() time.Duration {
	c.mu.Lock()
	if !c.enabled {
		c.mu.Unlock()
		return 0
	}
	value, ok := c.value, c.ok
	c.mu.Unlock()
	return c.policy(value, ok)
}

// Poll refreshes the cache if its policy currently asks for polling.
func (c *Cache[T]) Poll(ctx context.Context) {
	if c.NextDelay() <= 0 {
		return
	}
	c.Refresh(ctx) //nolint:errcheck
}
