// Package coalesce collapses bursts of identical requests. A Debouncer runs
// only the last call in a quiet period; a Deduplicator shares one in-flight
// execution between every concurrent caller.
package coalesce

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrSuperseded is returned to a debounced caller whose call was replaced by
// a later one for the same key before it ran.
var ErrSuperseded = errors.New("superseded by a newer request")

type debounced[T any] struct {
	timer  *time.Timer
	done   chan struct{}
	result T
	err    error
}

// Debouncer delays execution per key and discards superseded calls
type Debouncer[T any] struct {
	mu      sync.Mutex
	pending map[string]*debounced[T]
}

// NewDebouncer creates an empty debouncer
func NewDebouncer[T any]() *Debouncer[T] {
	return &Debouncer[T]{pending: make(map[string]*debounced[T])}
}

// Schedule runs op after delay unless another Schedule for key arrives first,
// in which case this call returns ErrSuperseded. If ctx ends before the timer
// fires the pending run is cancelled and ctx.Err() is returned. Once op has
// started it runs to completion.
func (d *Debouncer[T]) Schedule(ctx context.Context, key string, delay time.Duration, op func(context.Context) (T, error)) (T, error) {
	call := &debounced[T]{done: make(chan struct{})}

	d.mu.Lock()
	if prev, ok := d.pending[key]; ok && prev.timer.Stop() {
		prev.err = ErrSuperseded
		close(prev.done)
	}
	d.pending[key] = call
	call.timer = time.AfterFunc(delay, func() {
		d.mu.Lock()
		if d.pending[key] == call {
			delete(d.pending, key)
		}
		d.mu.Unlock()

		call.result, call.err = op(ctx)
		close(call.done)
	})
	d.mu.Unlock()

	select {
	case <-call.done:
		return call.result, call.err
	case <-ctx.Done():
		d.mu.Lock()
		stopped := call.timer.Stop()
		if stopped && d.pending[key] == call {
			delete(d.pending, key)
		}
		d.mu.Unlock()

		if stopped {
			var zero T
			return zero, ctx.Err()
		}
		// Either already running or already superseded
		<-call.done
		return call.result, call.err
	}
}

// Pending reports keys with a timer that has not fired yet
func (d *Debouncer[T]) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
