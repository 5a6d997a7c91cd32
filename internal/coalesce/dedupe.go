package coalesce

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Observer is told when a caller attached to an execution already in flight
type Observer interface {
	RequestCoalesced(key string)
}

// Deduplicator shares one execution of op between concurrent callers of the
// same key. The key is released when op returns, success or failure.
type Deduplicator[T any] struct {
	group    singleflight.Group
	mu       sync.Mutex
	running  map[string]struct{}
	observer Observer
}

// NewDeduplicator creates a deduplicator. observer may be nil.
func NewDeduplicator[T any](observer Observer) *Deduplicator[T] {
	return &Deduplicator[T]{
		running:  make(map[string]struct{}),
		observer: observer,
	}
}

// Run executes op for key or joins the execution already in flight. op gets a
// context detached from cancellation, so a waiter giving up never aborts the
// shared call; that waiter alone returns ctx.Err().
func (d *Deduplicator[T]) Run(ctx context.Context, key string, op func(context.Context) (T, error)) (T, error) {
	detached := context.WithoutCancel(ctx)

	// Only the caller that started the flight runs this closure
	leader := false
	ch := d.group.DoChan(key, func() (interface{}, error) {
		leader = true
		d.mu.Lock()
		d.running[key] = struct{}{}
		d.mu.Unlock()
		defer func() {
			d.mu.Lock()
			delete(d.running, key)
			d.mu.Unlock()
		}()

		return op(detached)
	})

	var zero T
	select {
	case res := <-ch:
		if res.Shared && !leader && d.observer != nil {
			d.observer.RequestCoalesced(key)
		}
		if res.Err != nil {
			return zero, res.Err
		}
		v, _ := res.Val.(T)
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// InFlight reports how many keys are currently executing
func (d *Deduplicator[T]) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.running)
}
