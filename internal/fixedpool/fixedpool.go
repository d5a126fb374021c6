// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package fixedpool runs a fixed set of long lived tasks side by side.
package fixedpool

import (
	"context"
	"errors"
	"sync"

	"github.com/z5labs/pullserve/internal/try"
)

// Task is a unit of work run by [Wait].
type Task func(context.Context) error

// Wait runs every task in its own goroutine and returns once all of
// them have returned.
//
// The first task to fail cancels the context shared by the others, using
// its error as the cancellation cause. A panicking task fails with a
// [try.PanicError]. Every failure is joined into the returned error.
func Wait(ctx context.Context, tasks ...Task) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	errs := make([]error, len(tasks))

	var wg sync.WaitGroup
	wg.Add(len(tasks))
	for i, task := range tasks {
		go func() {
			defer wg.Done()

			err := run(ctx, task)
			if err != nil {
				errs[i] = err
				cancel(err)
			}
		}()
	}
	wg.Wait()

	return errors.Join(errs...)
}

func run(ctx context.Context, task Task) (err error) {
	defer try.Recover(&err)

	return task(ctx)
}
