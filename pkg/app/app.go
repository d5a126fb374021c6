// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package app provides wrappers for common [pullserve.App] patterns.
package app

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/z5labs/pullserve"
	"github.com/z5labs/pullserve/internal/try"
)

// Recover wraps app so a panic is returned as a [try.PanicError]
// instead of crashing the process.
func Recover(app pullserve.App) pullserve.App {
	return pullserve.AppFunc(func(ctx context.Context) (err error) {
		defer try.Recover(&err)

		return app.Run(ctx)
	})
}

// WithSignalNotifications cancels the context given to app once any
// of signals is received.
func WithSignalNotifications(app pullserve.App, signals ...os.Signal) pullserve.App {
	return pullserve.AppFunc(func(ctx context.Context) error {
		sigCtx, cancel := signal.NotifyContext(ctx, signals...)
		defer cancel()

		return app.Run(sigCtx)
	})
}

// LifecycleHook is run at a fixed point relative to [pullserve.App.Run].
type LifecycleHook interface {
	Run(context.Context) error
}

// LifecycleHookFunc is a func implementation of [LifecycleHook].
type LifecycleHookFunc func(context.Context) error

// Run implements the [LifecycleHook] interface.
func (f LifecycleHookFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// Lifecycle groups the hooks run around an app.
type Lifecycle struct {
	// PreRun is run before the app. If it fails, the app is not run.
	PreRun LifecycleHook

	// PostRun is always run, even if the app fails or panics. It is
	// given a context which is not cancelled along with the app's.
	PostRun LifecycleHook
}

// WithLifecycleHooks runs the hooks of lifecycle around app.
func WithLifecycleHooks(app pullserve.App, lifecycle Lifecycle) pullserve.App {
	return pullserve.AppFunc(func(ctx context.Context) (err error) {
		if lifecycle.PreRun != nil {
			err = lifecycle.PreRun.Run(ctx)
			if err != nil {
				return err
			}
		}

		defer runPostRunHook(context.WithoutCancel(ctx), lifecycle.PostRun, &err)
		defer try.Recover(&err)

		return app.Run(ctx)
	})
}

func runPostRunHook(ctx context.Context, hook LifecycleHook, err *error) {
	if hook == nil {
		return
	}
	*err = errors.Join(*err, hook.Run(ctx))
}
