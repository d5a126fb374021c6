// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package fixedpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/z5labs/pullserve/internal/try"

	"github.com/stretchr/testify/assert"
)

func TestWait(t *testing.T) {
	t.Run("will return nil", func(t *testing.T) {
		t.Run("if there are no tasks", func(t *testing.T) {
			err := Wait(context.Background())
			if !assert.Nil(t, err) {
				return
			}
		})

		t.Run("if every task succeeds", func(t *testing.T) {
			var ran atomic.Int32
			task := func(ctx context.Context) error {
				ran.Add(1)
				return nil
			}

			err := Wait(context.Background(), task, task, task)
			if !assert.Nil(t, err) {
				return
			}
			if !assert.Equal(t, int32(3), ran.Load()) {
				return
			}
		})
	})

	t.Run("will cancel the other tasks", func(t *testing.T) {
		t.Run("if a task fails", func(t *testing.T) {
			taskErr := errors.New("failed")
			var cause atomic.Value

			err := Wait(
				context.Background(),
				func(ctx context.Context) error {
					return taskErr
				},
				func(ctx context.Context) error {
					select {
					case <-ctx.Done():
						cause.Store(context.Cause(ctx))
						return nil
					case <-time.After(5 * time.Second):
						return errors.New("never cancelled")
					}
				},
			)
			if !assert.ErrorIs(t, err, taskErr) {
				return
			}
			if !assert.Equal(t, taskErr, cause.Load()) {
				return
			}
		})

		t.Run("if the parent context is cancelled", func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			err := Wait(ctx, func(ctx context.Context) error {
				<-ctx.Done()
				return nil
			})
			if !assert.Nil(t, err) {
				return
			}
		})
	})

	t.Run("will return a PanicError", func(t *testing.T) {
		t.Run("if a task panics", func(t *testing.T) {
			err := Wait(context.Background(), func(ctx context.Context) error {
				panic("boom")
			})

			var perr try.PanicError
			if !assert.ErrorAs(t, err, &perr) {
				return
			}
			if !assert.Equal(t, "boom", perr.Value) {
				return
			}
		})
	})

	t.Run("will join every error", func(t *testing.T) {
		t.Run("if multiple tasks fail", func(t *testing.T) {
			errA := errors.New("a")
			errB := errors.New("b")

			err := Wait(
				context.Background(),
				func(ctx context.Context) error { return errA },
				func(ctx context.Context) error { return errB },
			)
			if !assert.ErrorIs(t, err, errA) {
				return
			}
			if !assert.ErrorIs(t, err, errB) {
				return
			}
		})
	})
}
