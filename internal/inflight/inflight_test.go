package inflight

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestSet_AcquireRelease(t *testing.T) {
	var s Set[string]
	if !s.TryAcquire("a") {
		t.Fatal("first acquire should succeed")
	}
	if s.TryAcquire("a") {
		t.Fatal("second acquire should fail")
	}
	if !s.Has("a") || s.Len() != 1 {
		t.Errorf("Has/Len = %v/%d", s.Has("a"), s.Len())
	}
	s.Release("a")
	if s.Has("a") || s.Len() != 0 {
		t.Error("a should be released")
	}
}

func TestSet_DoBusy(t *testing.T) {
	var s Set[int]
	s.TryAcquire(1)
	called := false
	err := s.Do(1, func() error { called = true; return nil })
	if !errors.Is(err, ErrBusy) {
		t.Errorf("error = %v, want ErrBusy", err)
	}
	if called {
		t.Error("fn should not run while busy")
	}
}

func TestSet_DoReleasesOnError(t *testing.T) {
	var s Set[int]
	boom := errors.New("boom")
	if err := s.Do(1, func() error { return boom }); !errors.Is(err, boom) {
		t.Errorf("error = %v", err)
	}
	if s.Has(1) {
		t.Error("key should be released after failure")
	}
}

func TestSequential_ContinuesPastFailure(t *testing.T) {
	var s Set[string]
	var attempted []string
	var sawInFlight []bool
	fn := func(_ context.Context, k string) error {
		attempted = append(attempted, k)
		sawInFlight = append(sawInFlight, s.Has(k))
		if k == "job-2" {
			return errors.New("retry rejected")
		}
		return nil
	}

	out := Sequential(context.Background(), &s, []string{"job-1", "job-2", "job-3"}, fn)

	if len(attempted) != 3 || attempted[2] != "job-3" {
		t.Fatalf("attempted = %v, want all three", attempted)
	}
	for i, in := range sawInFlight {
		if !in {
			t.Errorf("item %d was not in flight during its request", i)
		}
	}
	if s.Len() != 0 {
		t.Errorf("in-flight set has %d keys after batch", s.Len())
	}
	failed := Failed(out)
	if len(failed) != 1 || failed[0].Key != "job-2" {
		t.Errorf("failed = %+v", failed)
	}
}

func TestSequential_OneAtATime(t *testing.T) {
	var s Set[int]
	var mu sync.Mutex
	active, peak := 0, 0
	fn := func(_ context.Context, _ int) error {
		mu.Lock()
		active++
		if active > peak {
			peak = active
		}
		mu.Unlock()
		mu.Lock()
		active--
		mu.Unlock()
		return nil
	}
	Sequential(context.Background(), &s, []int{1, 2, 3, 4}, fn)
	if peak != 1 {
		t.Errorf("peak concurrency = %d, want 1", peak)
	}
}

func TestSequential_Cancelled(t *testing.T) {
	var s Set[int]
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	out := Sequential(ctx, &s, []int{1, 2, 3}, func(_ context.Context, k int) error {
		calls++
		if k == 1 {
			cancel()
		}
		return nil
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if len(out) != 3 || !errors.Is(out[2].Err, context.Canceled) {
		t.Errorf("out = %+v", out)
	}
}
