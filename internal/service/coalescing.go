package service

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// call is one in-flight computation that several callers may wait for.
type call[T any] struct {
	done   chan struct{}
	result T
	err    error
}

// requestCoalescer runs at most one fn per key at a time. Callers arriving while fn
// runs share its result. fn runs in its own goroutine, so a caller giving up does
// not stop it.
type requestCoalescer[T any] struct {
	mu       sync.Mutex
	inFlight map[string]*call[T]
	timeout  time.Duration
}

// newRequestCoalescer returns a coalescer whose callers wait at most timeout (0 = until ctx ends).
func newRequestCoalescer[T any](timeout time.Duration) *requestCoalescer[T] {
	return &requestCoalescer[T]{
		inFlight: make(map[string]*call[T]),
		timeout:  timeout,
	}
}

// Do returns the result of fn for key, starting it if no call for key is in flight.
// shared reports whether the caller joined a call started by someone else.
func (rc *requestCoalescer[T]) Do(ctx context.Context, key string, fn func() (T, error)) (result T, shared bool, err error) {
	rc.mu.Lock()
	c, exists := rc.inFlight[key]
	if !exists {
		c = &call[T]{done: make(chan struct{})}
		rc.inFlight[key] = c
		go rc.run(key, c, fn)
	}
	rc.mu.Unlock()

	waitCtx := ctx
	if rc.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, rc.timeout)
		defer cancel()
	}

	select {
	case <-c.done:
		return c.result, exists, c.err
	case <-waitCtx.Done():
		var zero T
		return zero, exists, waitCtx.Err()
	}
}

func (rc *requestCoalescer[T]) run(key string, c *call[T], fn func() (T, error)) {
	defer func() {
		rc.mu.Lock()
		delete(rc.inFlight, key)
		rc.mu.Unlock()
		close(c.done)
	}()
	// A panic in fn becomes the call's error so every waiter gets an answer.
	defer func() {
		if r := recover(); r != nil {
			var zero T
			c.result, c.err = zero, fmt.Errorf("aggregation panic: %v", r)
		}
	}()
	c.result, c.err = fn()
}

// InFlight returns the number of keys with a call in progress.
func (rc *requestCoalescer[T]) InFlight() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.inFlight)
}
