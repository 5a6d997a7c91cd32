package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"market-signal-bot/config"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter() (*RateLimiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)}
	return NewRateLimiter(config.RateLimitConfig{}, WithClock(clock.Now)), clock
}

func TestCallAfterBudgetIsDeniedAndBacksOff(t *testing.T) {
	rl, clock := newTestLimiter()
	const max = 5

	for i := 1; i <= max; i++ {
		if !rl.TryAcquire("alphavantage", max) {
			t.Fatalf("call %d should be allowed", i)
		}
	}

	res := rl.Acquire("alphavantage", max)
	if res.Acquired {
		t.Fatal("call max+1 should be denied")
	}
	if res.WaitTime != 30*time.Second {
		t.Errorf("Expected first backoff 30s, got %v", res.WaitTime)
	}

	clock.Advance(20 * time.Second)
	if rl.TryAcquire("alphavantage", max) {
		t.Error("call during backoff should be denied")
	}
	st := rl.Status("alphavantage")
	if !st.InBackoff {
		t.Error("Expected status to report backoff")
	}

	// Next minute bucket, backoff lapsed
	clock.Advance(41 * time.Second)
	if !rl.TryAcquire("alphavantage", max) {
		t.Error("call after backoff in a fresh window should be allowed")
	}
}

func TestBackoffEscalatesAndCaps(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	// Wide window so every violation lands in the same bucket
	rl := NewRateLimiter(config.RateLimitConfig{Window: time.Hour}, WithClock(clock.Now))
	const max = 1

	rl.TryAcquire("scrape", max)

	expected := []time.Duration{
		30 * time.Second,
		60 * time.Second,
		120 * time.Second,
		240 * time.Second,
		5 * time.Minute,
		5 * time.Minute,
	}
	for i, want := range expected {
		res := rl.Acquire("scrape", max)
		if res.Acquired {
			t.Fatalf("violation %d: expected denial", i)
		}
		if res.WaitTime != want {
			t.Errorf("violation %d: expected backoff %v, got %v", i, want, res.WaitTime)
		}
		clock.Advance(res.WaitTime)
	}

	if st := rl.Status("scrape"); st.Violations != len(expected) {
		t.Errorf("Expected %d violations, got %d", len(expected), st.Violations)
	}
}

func TestSourcesAreIndependent(t *testing.T) {
	rl, _ := newTestLimiter()

	rl.TryAcquire("alphavantage", 1)
	if rl.TryAcquire("alphavantage", 1) {
		t.Error("second alphavantage call should be denied")
	}
	if !rl.TryAcquire("coingecko", 1) {
		t.Error("coingecko budget should be untouched")
	}
}

func TestRecordRateLimitError(t *testing.T) {
	rl, clock := newTestLimiter()

	if d := rl.RecordRateLimitError("alphavantage"); d != 30*time.Second {
		t.Errorf("Expected 30s, got %v", d)
	}
	if rl.TryAcquire("alphavantage", 5) {
		t.Error("Expected denial after upstream limit signal")
	}

	clock.Advance(30 * time.Second)
	if d := rl.RecordRateLimitError("alphavantage"); d != 60*time.Second {
		t.Errorf("Expected escalation to 60s, got %v", d)
	}
	if st := rl.Status("alphavantage"); st.UpstreamHits != 2 {
		t.Errorf("Expected 2 upstream hits, got %d", st.UpstreamHits)
	}

	rl.Reset("alphavantage")
	if !rl.TryAcquire("alphavantage", 5) {
		t.Error("Expected call allowed after reset")
	}
}

// Check-then-increment is serialized, so concurrent callers can never
// overshoot the budget.
func TestConcurrentAcquireNeverExceedsBudget(t *testing.T) {
	rl, _ := newTestLimiter()
	const max = 5

	var allowed int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.TryAcquire("coingecko", max) {
				atomic.AddInt64(&allowed, 1)
			}
		}()
	}
	wg.Wait()

	if allowed != max {
		t.Errorf("Expected exactly %d allowed calls, got %d", max, allowed)
	}
}

func TestSnapshotSorted(t *testing.T) {
	rl, _ := newTestLimiter()
	rl.TryAcquire("scrape", 10)
	rl.TryAcquire("alphavantage", 5)

	snap := rl.Snapshot()
	if len(snap) != 2 || snap[0].Source != "alphavantage" || snap[1].Source != "scrape" {
		t.Errorf("Unexpected snapshot: %+v", snap)
	}
}
