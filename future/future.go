// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package future provides a single assignment asynchronous result.
//
// A [Future] is the read only side which any number of goroutines may
// wait on. A [Promise] is the write side which settles the [Future]
// exactly once, either with a value or with an error.
//
//	f, p := future.New[int]()
//	go func() {
//	    p.Resolve(42)
//	}()
//	v, err := f.Await(ctx)
package future

import (
	"context"
	"errors"
	"sync"
)

// ErrPending is returned by [Future.Result] while the future is not
// yet settled.
var ErrPending = errors.New("future: pending")

// Future is the read only handle of a single assignment result.
type Future[T any] struct {
	done chan struct{}

	// value and err are written once before done is closed.
	value T
	err   error
}

// Promise settles its associated [Future].
type Promise[T any] struct {
	once sync.Once
	f    *Future[T]
}

// New returns a pending [Future] and the [Promise] which settles it.
func New[T any]() (*Future[T], *Promise[T]) {
	f := &Future[T]{
		done: make(chan struct{}),
	}
	return f, &Promise[T]{f: f}
}

// Resolved returns a [Future] which is already resolved with v.
func Resolved[T any](v T) *Future[T] {
	f, p := New[T]()
	p.Resolve(v)
	return f
}

// Rejected returns a [Future] which is already rejected with err.
func Rejected[T any](err error) *Future[T] {
	f, p := New[T]()
	p.Reject(err)
	return f
}

// Future returns the read only handle settled by p.
func (p *Promise[T]) Future() *Future[T] {
	return p.f
}

// Resolve settles the future with v. It reports whether this call
// settled the future. Once settled, Resolve and Reject are no-ops.
func (p *Promise[T]) Resolve(v T) bool {
	return p.settle(v, nil)
}

// Reject settles the future with err. A nil err is replaced with
// [ErrRejected] so a rejected future never looks resolved.
func (p *Promise[T]) Reject(err error) bool {
	if err == nil {
		err = ErrRejected
	}
	var zero T
	return p.settle(zero, err)
}

// ErrRejected stands in for a nil rejection reason.
var ErrRejected = errors.New("future: rejected")

func (p *Promise[T]) settle(v T, err error) bool {
	settled := false
	p.once.Do(func() {
		p.f.value = v
		p.f.err = err
		close(p.f.done)
		settled = true
	})
	return settled
}

// Done returns a channel which is closed once the future is settled.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the future is settled or ctx is done. The
// settled value and error are the same for every caller.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	default:
	}

	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case <-f.done:
		return f.value, f.err
	}
}

// Result returns the settled value and error without blocking.
// [ErrPending] is returned if the future is not settled yet.
func (f *Future[T]) Result() (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	default:
		var zero T
		return zero, ErrPending
	}
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
