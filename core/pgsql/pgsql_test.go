package pgsql

import "testing"

type fakeSleeper struct {
	asleep bool
	resume func()
}

func (s *fakeSleeper) Sleep(resume func()) {
	s.asleep = true
	s.resume = resume
}

func (s *fakeSleeper) Wake() {
	if !s.asleep {
		return
	}
	s.asleep = false
	resume := s.resume
	s.resume = nil
	if resume != nil {
		resume()
	}
}

func TestSubmitNoConnStringErrors(t *testing.T) {
	pool := New(Config{PoolSize: 2}, nil)
	var h Handle
	var s fakeSleeper

	err := pool.Submit(&h, &s, func() {}, "select 1")
	if err != ErrNoConnString {
		t.Fatalf("expected ErrNoConnString, got %v", err)
	}
	if h.State() != StateError {
		t.Errorf("expected StateError, got %v", h.State())
	}
	if s.asleep {
		t.Error("a dial failure should not park the caller")
	}
}

func TestSubmitQueuesBehindSaturatedPool(t *testing.T) {
	pool := New(Config{PoolSize: 1}, nil)
	pool.count = 1 // simulate one session already checked out

	var h1, h2 Handle
	var s1, s2 fakeSleeper

	if err := pool.Submit(&h1, &s1, func() {}, "select 1"); err != ErrQueued {
		t.Fatalf("expected ErrQueued, got %v", err)
	}
	if !s1.asleep {
		t.Error("expected the queued caller to be parked")
	}

	if err := pool.Submit(&h2, &s2, func() {}, "select 2"); err != ErrQueued {
		t.Fatalf("expected ErrQueued, got %v", err)
	}

	if len(pool.waiters) != 2 {
		t.Fatalf("expected 2 waiters, got %d", len(pool.waiters))
	}
	if pool.waiters[0] != &h1 || pool.waiters[1] != &h2 {
		t.Error("expected FIFO waiter order: h1 before h2")
	}
}

func TestWakeNextWaiterPopsFIFOHead(t *testing.T) {
	pool := New(Config{PoolSize: 1}, nil)
	pool.count = 1

	var h1, h2 Handle
	var s1, s2 fakeSleeper
	pool.Submit(&h1, &s1, func() {}, "select 1")
	pool.Submit(&h2, &s2, func() {}, "select 2")

	pool.mu.Lock()
	pool.wakeNextWaiter()
	pool.mu.Unlock()

	if s1.asleep {
		t.Error("expected h1's sleeper to be woken")
	}
	if h1.waiting {
		t.Error("expected h1.waiting cleared after being woken")
	}
	if len(pool.waiters) != 1 || pool.waiters[0] != &h2 {
		t.Error("expected h2 to remain as the sole waiter")
	}
}

func TestRemoveWaiterDropsOnlyTheMatchingHandle(t *testing.T) {
	pool := New(Config{PoolSize: 1}, nil)
	pool.count = 1

	var h1, h2, h3 Handle
	var s1, s2, s3 fakeSleeper
	pool.Submit(&h1, &s1, func() {}, "select 1")
	pool.Submit(&h2, &s2, func() {}, "select 2")
	pool.Submit(&h3, &s3, func() {}, "select 3")

	pool.mu.Lock()
	pool.removeWaiter(&h2)
	pool.mu.Unlock()

	if len(pool.waiters) != 2 {
		t.Fatalf("expected 2 remaining waiters, got %d", len(pool.waiters))
	}
	if pool.waiters[0] != &h1 || pool.waiters[1] != &h3 {
		t.Error("expected h1, h3 to remain in order after removing h2")
	}
}

func TestHandleCleanupIsIdempotent(t *testing.T) {
	pool := New(Config{PoolSize: 1}, nil)
	pool.count = 1

	var h Handle
	var s fakeSleeper
	pool.Submit(&h, &s, func() {}, "select 1")

	h.Cleanup()
	if h.State() != StateComplete {
		t.Errorf("expected StateComplete after Cleanup, got %v", h.State())
	}
	if len(pool.waiters) != 0 {
		t.Errorf("expected Cleanup to remove the handle from the waiter FIFO, got %d waiters", len(pool.waiters))
	}

	// A second Cleanup must be a no-op, not a panic or double-release.
	h.Cleanup()
	if h.State() != StateComplete {
		t.Errorf("expected state to remain StateComplete, got %v", h.State())
	}
}

func TestStatsReportsWaiterCount(t *testing.T) {
	pool := New(Config{PoolSize: 1}, nil)
	pool.count = 1

	var h1, h2 Handle
	var s1, s2 fakeSleeper
	pool.Submit(&h1, &s1, func() {}, "select 1")
	pool.Submit(&h2, &s2, func() {}, "select 2")

	stats := pool.Stats()
	if stats.WaitersQueued != 2 {
		t.Errorf("expected 2 waiters in Stats, got %d", stats.WaitersQueued)
	}
	if stats.SessionsBusy != 1 || stats.SessionsFree != 0 {
		t.Errorf("expected 1 busy, 0 free session, got %+v", stats)
	}
}
