// Package flight provides a once-resolved future used to share a single
// in-flight operation between concurrent callers.
package flight

import (
	"context"
	"sync"
)

// Future holds the eventual result of one operation. It is resolved at most
// once; later Resolve or Reject calls are ignored.
type Future[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

// New returns an unresolved future.
func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Go runs fn in a new goroutine and settles the returned future with its result.
func Go[T any](fn func() (T, error)) *Future[T] {
	f := New[T]()
	go func() {
		v, err := fn()
		f.Settle(v, err)
	}()
	return f
}

// Resolved returns a future that already holds v.
func Resolved[T any](v T) *Future[T] {
	f := New[T]()
	f.Resolve(v)
	return f
}

// Resolve settles the future with a value.
func (f *Future[T]) Resolve(v T) {
	f.Settle(v, nil)
}

// Reject settles the future with an error.
func (f *Future[T]) Reject(err error) {
	var zero T
	f.Settle(zero, err)
}

// Settle settles the future with a value and an error.
func (f *Future[T]) Settle(v T, err error) {
	f.once.Do(func() {
		f.value = v
		f.err = err
		close(f.done)
	})
}

// Done is closed once the future is settled.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Settled reports whether the future has been resolved or rejected.
func (f *Future[T]) Settled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the future settles or ctx is done. Cancelling ctx only
// abandons the wait; the operation itself continues.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Result returns the settled value without blocking. ok is false while the
// future is still pending.
func (f *Future[T]) Result() (v T, err error, ok bool) {
	if !f.Settled() {
		return v, nil, false
	}
	return f.value, f.err, true
}
