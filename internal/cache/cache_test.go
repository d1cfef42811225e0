package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRefresh_ErrorKeepsValue(t *testing.T) {
	var fail atomic.Bool
	c := New("n", func(context.Context) (int, error) {
		if fail.Load() {
			return 0, errors.New("boom")
		}
		return 7, nil
	}, Every[int](time.Second), nil)

	if v, ok := c.Get(); ok || v != 0 {
		t.Fatalf("Get before refresh = %d, %v", v, ok)
	}
	if v, err := c.Refresh(context.Background()); err != nil || v != 7 {
		t.Fatalf("Refresh = %d, %v", v, err)
	}
	fail.Store(true)
	v, err := c.Refresh(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if v != 7 {
		t.Errorf("value after failed refresh = %d, want 7", v)
	}
	if got, ok := c.Get(); !ok || got != 7 {
		t.Errorf("Get = %d, %v; want 7, true", got, ok)
	}
	if c.Err() == nil {
		t.Error("Err() = nil after failure")
	}

	fail.Store(false)
	c.Refresh(context.Background()) //nolint:errcheck
	if c.Err() != nil {
		t.Errorf("Err() = %v after recovery", c.Err())
	}
	if c.UpdatedAt().IsZero() {
		t.Error("UpdatedAt not set")
	}
}

func TestRefresh_SharesInFlightFetch(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	c := New("n", func(context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 1, nil
	}, Every[int](time.Second), nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Refresh(context.Background()) //nolint:errcheck
		}()
	}
	waitFor(t, "first fetch", func() bool { return calls.Load() == 1 })
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	if n := calls.Load(); n != 1 {
		t.Errorf("fetch calls = %d, want 1", n)
	}
}

func TestSubscribe(t *testing.T) {
	n := 0
	c := New("n", func(context.Context) (int, error) { n++; return n, nil }, Every[int](time.Second), nil)
	var got []int
	unsub := c.Subscribe(func(v int) { got = append(got, v) })
	c.Refresh(context.Background()) //nolint:errcheck
	c.Refresh(context.Background()) //nolint:errcheck
	unsub()
	c.Refresh(context.Background()) //nolint:errcheck
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("notified = %v, want [1 2]", got)
	}
}

func TestInvalidate(t *testing.T) {
	var calls atomic.Int32
	c := New("n", func(context.Context) (int, error) {
		return int(calls.Add(1)), nil
	}, Every[int](time.Second), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c.Invalidate(ctx)
	waitFor(t, "background refresh", func() bool { _, ok := c.Get(); return ok })

	c.Disable()
	c.Invalidate(context.Background())
	time.Sleep(20 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Errorf("fetch calls = %d, want 1 (disabled cache refreshed)", n)
	}
}

func TestNextDelayAndPoll(t *testing.T) {
	var calls atomic.Int32
	c := New("n", func(context.Context) (int, error) {
		return int(calls.Add(1)), nil
	}, func(v int, ok bool) time.Duration {
		if ok && v >= 2 {
			return 0
		}
		return time.Second
	}, nil)

	if d := c.NextDelay(); d != time.Second {
		t.Errorf("NextDelay before fetch = %v", d)
	}
	c.Poll(context.Background())
	c.Poll(context.Background())
	c.Poll(context.Background())
	if n := calls.Load(); n != 2 {
		t.Errorf("fetch calls = %d, want 2 (polling stops once final)", n)
	}
	if d := c.NextDelay(); d != 0 {
		t.Errorf("NextDelay once final = %v, want 0", d)
	}

	c.Reset()
	c.Disable()
	if d := c.NextDelay(); d != 0 {
		t.Errorf("NextDelay disabled = %v, want 0", d)
	}
	c.Enable()
	if d := c.NextDelay(); d != time.Second {
		t.Errorf("NextDelay after reset = %v, want 1s", d)
	}
}

func TestRefresh_DiscardedAfterReset(t *testing.T) {
	tests := []struct {
		name  string
		clear func(c *Cache[int])
	}{
		{"reset", func(c *Cache[int]) { c.Reset() }},
		{"disable", func(c *Cache[int]) { c.Disable() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entered := make(chan struct{}, 1)
			release := make(chan struct{})
			var calls atomic.Int32
			c := New("summary", func(context.Context) (int, error) {
				n := calls.Add(1)
				if n == 1 {
					entered <- struct{}{}
					<-release
				}
				return int(n), nil
			}, Every[int](time.Second), nil)

			var published atomic.Int32
			c.Subscribe(func(int) { published.Add(1) })

			done := make(chan int)
			go func() {
				v, _ := c.Refresh(context.Background())
				done <- v
			}()
			<-entered
			tt.clear(c)
			close(release)
			if v := <-done; v != 1 {
				t.Errorf("late refresh returned %d, want 1", v)
			}
			if _, ok := c.Get(); ok {
				t.Error("late result stored")
			}
			if published.Load() != 0 {
				t.Error("late result published")
			}

			if v, err := c.Refresh(context.Background()); err != nil || v != 2 {
				t.Fatalf("next Refresh = %d, %v", v, err)
			}
			if got, ok := c.Get(); !ok || got != 2 {
				t.Errorf("Get = %d, %v; want 2, true", got, ok)
			}
			if published.Load() != 1 {
				t.Errorf("published = %d, want 1", published.Load())
			}
		})
	}
}
