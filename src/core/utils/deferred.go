package utils

import (
	"context"
	"sync"
)

// Deferred is a single-assignment promise used for cross-goroutine
// coordination. It settles exactly once: a second Resolve or Reject
// returns ErrAlreadySettled and leaves the first settlement in place.
type Deferred[T any] struct {
	mu      sync.Mutex
	done    chan struct{}
	settled bool
	value   T
	err     error
}

func NewDeferred[T any]() *Deferred[T] {
	return &Deferred[T]{done: make(chan struct{})}
}

// Resolve settles the deferred with a value.
func (d *Deferred[T]) Resolve(value T) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.settled {
		return ErrAlreadySettled
	}
	d.settled = true
	d.value = value
	close(d.done)
	return nil
}

// Reject settles the deferred with an error.
func (d *Deferred[T]) Reject(err error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.settled {
		return ErrAlreadySettled
	}
	d.settled = true
	d.err = err
	close(d.done)
	return nil
}

// Done is closed once the deferred settles either way.
func (d *Deferred[T]) Done() <-chan struct{} {
	return d.done
}

// Settled reports whether the deferred has been resolved or rejected.
func (d *Deferred[T]) Settled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.settled
}

// Wait blocks until the deferred settles or ctx is canceled.
func (d *Deferred[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-d.done:
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.value, d.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Result returns the settlement without blocking. The second return is
// false when the deferred is still pending.
func (d *Deferred[T]) Result() (T, error, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.settled {
		var zero T
		return zero, nil, false
	}
	return d.value, d.err, true
}
