// Package ratelimit tracks per-source call budgets for upstream data providers.
package ratelimit

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"market-signal-bot/config"
	"market-signal-bot/internal/logging"
)

// AcquireResult represents the result of a non-blocking TryAcquire attempt
type AcquireResult struct {
	Acquired bool          // Whether the slot was acquired
	WaitTime time.Duration // Suggested wait before the next attempt
	Reason   string        // Explanation for denial (empty if acquired)
	Count    int           // Calls counted in the current window
}

// WindowStatus is a read-only view of one source's window
type WindowStatus struct {
	Source       string        `json:"source"`
	WindowStart  time.Time     `json:"window_start"`
	Count        int           `json:"count"`
	MaxPerWindow int           `json:"max_per_window"`
	InBackoff    bool          `json:"in_backoff"`
	BackoffUntil time.Time     `json:"backoff_until,omitempty"`
	Remaining    time.Duration `json:"remaining_backoff"`
	Violations   int           `json:"violations"`
	UpstreamHits int           `json:"upstream_limit_hits"`
}

type window struct {
	start        time.Time
	count        int
	max          int
	backoffUntil time.Time
	violations   int
	// consecutive limit signals from the upstream itself
	upstreamErrors int
	upstreamTotal  int
}

// RateLimiter counts calls per source in fixed windows and imposes an
// escalating backoff once a source exceeds its budget.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window

	windowSize  time.Duration
	backoffBase time.Duration
	backoffCap  time.Duration

	now    func() time.Time
	logger *logging.Logger
}

// Option configures a RateLimiter
type Option func(*RateLimiter)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(r *RateLimiter) { r.now = now }
}

// NewRateLimiter creates a limiter. Zero config values fall back to a one
// minute window, 30s backoff base and 5m cap.
func NewRateLimiter(cfg config.RateLimitConfig, opts ...Option) *RateLimiter {
	r := &RateLimiter{
		windows:     make(map[string]*window),
		windowSize:  cfg.Window,
		backoffBase: cfg.BackoffBase,
		backoffCap:  cfg.BackoffCap,
		now:         time.Now,
		logger:      logging.WithComponent("ratelimit"),
	}
	if r.windowSize <= 0 {
		r.windowSize = time.Minute
	}
	if r.backoffBase <= 0 {
		r.backoffBase = 30 * time.Second
	}
	if r.backoffCap <= 0 {
		r.backoffCap = 5 * time.Minute
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// TryAcquire reports whether a call to source may proceed, counting it if so.
func (r *RateLimiter) TryAcquire(source string, maxPerWindow int) bool {
	return r.Acquire(source, maxPerWindow).Acquired
}

// Acquire checks and records a call under one lock
func (r *RateLimiter) Acquire(source string, maxPerWindow int) AcquireResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	w := r.windowFor(source, now)
	w.max = maxPerWindow

	if now.Before(w.backoffUntil) {
		return AcquireResult{
			Acquired: false,
			WaitTime: w.backoffUntil.Sub(now),
			Reason:   "backoff_active",
			Count:    w.count,
		}
	}

	if w.count >= maxPerWindow {
		backoff := r.backoffFor(w.count - maxPerWindow)
		w.count++
		w.violations++
		w.backoffUntil = now.Add(backoff)
		r.logger.Warn("Source over budget, backing off",
			"source", source,
			"count", w.count,
			"max_per_window", maxPerWindow,
			"backoff", backoff)
		return AcquireResult{
			Acquired: false,
			WaitTime: backoff,
			Reason:   fmt.Sprintf("limit_exceeded_%d_per_window", maxPerWindow),
			Count:    w.count,
		}
	}

	w.count++
	w.upstreamErrors = 0
	return AcquireResult{Acquired: true, Count: w.count}
}

// RecordRateLimitError records that the upstream itself refused a call for
// exceeding its quota. Backoff escalates with each consecutive signal and
// never shortens an active one.
func (r *RateLimiter) RecordRateLimitError(source string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	w := r.windowFor(source, now)
	w.upstreamErrors++
	w.upstreamTotal++

	backoff := r.backoffFor(w.upstreamErrors - 1)
	until := now.Add(backoff)
	if until.After(w.backoffUntil) {
		w.backoffUntil = until
	}

	r.logger.Warn("Upstream rate limit signalled",
		"source", source,
		"consecutive", w.upstreamErrors,
		"backoff", backoff)
	return backoff
}

// backoffFor returns base * 2^exp capped at the configured maximum
func (r *RateLimiter) backoffFor(exp int) time.Duration {
	if exp < 0 {
		exp = 0
	}
	backoff := r.backoffBase
	for i := 0; i < exp; i++ {
		backoff *= 2
		if backoff >= r.backoffCap {
			return r.backoffCap
		}
	}
	if backoff > r.backoffCap {
		return r.backoffCap
	}
	return backoff
}

// windowFor returns the source window, rolling the counter on a new bucket.
// Backoff state survives the roll. Callers hold r.mu.
func (r *RateLimiter) windowFor(source string, now time.Time) *window {
	bucket := now.Truncate(r.windowSize)
	w, ok := r.windows[source]
	if !ok {
		w = &window{start: bucket}
		r.windows[source] = w
	}
	if !w.start.Equal(bucket) {
		w.start = bucket
		w.count = 0
	}
	return w
}

// Status returns the current window for source
func (r *RateLimiter) Status(source string) WindowStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	return r.statusLocked(source, r.windowFor(source, now), now)
}

func (r *RateLimiter) statusLocked(source string, w *window, now time.Time) WindowStatus {
	st := WindowStatus{
		Source:       source,
		WindowStart:  w.start,
		Count:        w.count,
		MaxPerWindow: w.max,
		Violations:   w.violations,
		UpstreamHits: w.upstreamTotal,
	}
	if now.Before(w.backoffUntil) {
		st.InBackoff = true
		st.BackoffUntil = w.backoffUntil
		st.Remaining = w.backoffUntil.Sub(now)
	}
	return st
}

// Snapshot returns the status of every source seen so far, sorted by name
func (r *RateLimiter) Snapshot() []WindowStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	out := make([]WindowStatus, 0, len(r.windows))
	for source := range r.windows {
		out = append(out, r.statusLocked(source, r.windowFor(source, now), now))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

// Reset clears all state for source
func (r *RateLimiter) Reset(source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.windows, source)
	r.logger.Info("Rate limit state reset", "source", source)
}
