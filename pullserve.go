// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package pullserve

import (
	"context"
	"fmt"

	"github.com/z5labs/pullserve/config"
)

// App represents the entry point for user specific code.
type App interface {
	Run(context.Context) error
}

// AppFunc is a func implementation of [App].
type AppFunc func(context.Context) error

// Run implements the [App] interface.
func (f AppFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// AppBuilder builds an [App] from its config.
type AppBuilder[T any] interface {
	Build(ctx context.Context, cfg T) (App, error)
}

// AppBuilderFunc is a func implementation of [AppBuilder].
type AppBuilderFunc[T any] func(context.Context, T) (App, error)

// Build implements the [AppBuilder] interface.
func (f AppBuilderFunc[T]) Build(ctx context.Context, cfg T) (App, error) {
	return f(ctx, cfg)
}

// Run reads every config source, decodes the result into a T, builds
// the [App] with it and runs it until it returns.
//
// Each step fails with its own error type so callers can tell a bad
// config apart from an app which failed while running.
func Run[T any](ctx context.Context, builder AppBuilder[T], srcs ...config.Source) error {
	m, err := config.Read(srcs...)
	if err != nil {
		return ConfigReadError{Cause: err}
	}

	var cfg T
	err = m.Unmarshal(&cfg)
	if err != nil {
		return ConfigUnmarshalError{Cause: err}
	}

	app, err := builder.Build(ctx, cfg)
	if err != nil {
		return AppBuildError{Cause: err}
	}

	err = app.Run(ctx)
	if err != nil {
		return AppRunError{Cause: err}
	}
	return nil
}

// ConfigReadError occurs when a config source can not be read.
type ConfigReadError struct {
	Cause error
}

// Error implements the [error] interface.
func (e ConfigReadError) Error() string {
	return fmt.Sprintf("failed to read config source(s): %s", e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e ConfigReadError) Unwrap() error {
	return e.Cause
}

// ConfigUnmarshalError occurs when the config does not fit the app's
// config type.
type ConfigUnmarshalError struct {
	Cause error
}

// Error implements the [error] interface.
func (e ConfigUnmarshalError) Error() string {
	return fmt.Sprintf("failed to unmarshal config: %s", e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e ConfigUnmarshalError) Unwrap() error {
	return e.Cause
}

// AppBuildError occurs when the [AppBuilder] fails.
type AppBuildError struct {
	Cause error
}

// Error implements the [error] interface.
func (e AppBuildError) Error() string {
	return fmt.Sprintf("failed to build app: %s", e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e AppBuildError) Unwrap() error {
	return e.Cause
}

// AppRunError occurs when the [App] returns an error.
type AppRunError struct {
	Cause error
}

// Error implements the [error] interface.
func (e AppRunError) Error() string {
	return fmt.Sprintf("failed to run app: %s", e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e AppRunError) Unwrap() error {
	return e.Cause
}
