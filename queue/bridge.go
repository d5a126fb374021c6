// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package queue

import (
	"context"
	"errors"
	"iter"
	"sync"
)

// ErrClosed is returned when producing into a closed [Bridge] and when
// consuming from a closed [Bridge] whose buffer has been drained.
var ErrClosed = errors.New("queue: bridge closed")

// Bridge is a bounded single producer, single consumer queue. Producers
// block while the buffer is full and consumers block while it is empty.
//
// Closing a Bridge only closes its producer side. Values which were
// already buffered can still be consumed, after which consumers see
// [ErrClosed]. A closed Bridge can not be reopened.
type Bridge[T any] struct {
	items chan T

	// mu guards closing items against in flight sends.
	mu        sync.RWMutex
	closed    chan struct{}
	closeOnce sync.Once
}

// NewBridge returns a [Bridge] which buffers up to capacity values
// ahead of consumption. A capacity below 1 is treated as 1.
func NewBridge[T any](capacity int) *Bridge[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Bridge[T]{
		items:  make(chan T, capacity),
		closed: make(chan struct{}),
	}
}

// Cap returns the number of values the bridge buffers.
func (b *Bridge[T]) Cap() int {
	return cap(b.items)
}

// Len returns the number of values currently buffered.
func (b *Bridge[T]) Len() int {
	return len(b.items)
}

// Enqueue adds v to the bridge. It blocks while the buffer is full and
// returns early with [ErrClosed] once the bridge is closed or with the
// ctx error once ctx is done.
func (b *Bridge[T]) Enqueue(ctx context.Context, v T) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	select {
	case <-b.closed:
		return ErrClosed
	default:
	}

	select {
	case <-b.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case b.items <- v:
		return nil
	}
}

// Close closes the producer side of the bridge. It is safe to call
// Close multiple times.
func (b *Bridge[T]) Close() error {
	b.closeOnce.Do(func() {
		// Unblock pending producers before waiting for them to leave.
		close(b.closed)

		b.mu.Lock()
		defer b.mu.Unlock()
		close(b.items)
	})
	return nil
}

// Closed reports whether Close has been called.
func (b *Bridge[T]) Closed() bool {
	select {
	case <-b.closed:
		return true
	default:
		return false
	}
}

// Next returns the oldest buffered value. Once the bridge is closed and
// drained it returns [ErrClosed].
func (b *Bridge[T]) Next(ctx context.Context) (T, error) {
	select {
	case v, ok := <-b.items:
		if !ok {
			var zero T
			return zero, ErrClosed
		}
		return v, nil
	default:
	}

	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case v, ok := <-b.items:
		if !ok {
			var zero T
			return zero, ErrClosed
		}
		return v, nil
	}
}

// Consume implements the [Consumer] interface.
func (b *Bridge[T]) Consume(ctx context.Context) (T, error) {
	return b.Next(ctx)
}

// All returns an iterator over the values of the bridge in the order they
// were enqueued. Iteration ends once the bridge is closed and drained or
// ctx is done.
func (b *Bridge[T]) All(ctx context.Context) iter.Seq[T] {
	return func(yield func(T) bool) {
		for {
			v, err := b.Next(ctx)
			if err != nil {
				return
			}
			if !yield(v) {
				return
			}
		}
	}
}
