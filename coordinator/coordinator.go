// Package coordinator makes concurrent callers asking for the same key share one
// underlying operation.
package coordinator

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Op is the operation run on behalf of every caller of one key.
type Op[T any] func(ctx context.Context) (T, error)

/*
Coordinator owns the in-flight operations, at most one per key.

- The first caller of a key (the leader) starts the operation with its own context.
- Callers arriving while it runs join it and receive the same result.
- The registration is dropped as soon as the operation settles, success or failure,
  so the next caller starts fresh.

A joiner that gives up (its context is cancelled) leaves without cancelling the shared
operation. If the leader's context is cancelled, every joiner receives that cancellation
and is expected to treat it as "no data", not as a failure: see IsCancellation.
*/
type Coordinator[T any] struct {
	group singleflight.Group

	mu       sync.Mutex
	inflight map[string]struct{}
}

// New creates an empty Coordinator.
func New[T any]() *Coordinator[T] {
	return &Coordinator[T]{inflight: make(map[string]struct{})}
}

/*
Run returns the result of op for key, running op only if no operation for key is in
flight. shared reports whether the result was also delivered to other callers.
*/
func (c *Coordinator[T]) Run(ctx context.Context, key string, op Op[T]) (v T, shared bool, err error) {
	ch := c.group.DoChan(key, func() (any, error) {
		c.mark(key, true)
		defer c.mark(key, false)
		return op(ctx)
	})

	select {
	case res := <-ch:
		if res.Val != nil {
			v = res.Val.(T)
		}
		return v, res.Shared, res.Err
	case <-ctx.Done():
		return v, false, ctx.Err()
	}
}

// InFlight reports whether an operation for key is currently running.
func (c *Coordinator[T]) InFlight(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inflight[key]
	return ok
}

// Len returns the number of keys with an operation in flight.
func (c *Coordinator[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}

func (c *Coordinator[T]) mark(key string, running bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if running {
		c.inflight[key] = struct{}{}
	} else {
		delete(c.inflight, key)
	}
}

/*
IsCancellation reports whether err means "deliberately aborted" rather than "failed".

Only the structured signal counts: an error chain containing context.Canceled.
Error text is never inspected, and a deadline is a timeout, which is a real failure.
*/
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}
