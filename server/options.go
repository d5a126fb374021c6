// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/z5labs/pullserve/engine"
	"github.com/z5labs/pullserve/pkg/noop"
	"github.com/z5labs/pullserve/pkg/otelslog"
)

// ErrorNotifier is told about every request which failed to produce a
// response.
type ErrorNotifier interface {
	NotifyError(context.Context, error)
}

// ErrorNotifierFunc is a func implementation of [ErrorNotifier].
type ErrorNotifierFunc func(context.Context, error)

// NotifyError implements the [ErrorNotifier] interface.
func (f ErrorNotifierFunc) NotifyError(ctx context.Context, err error) {
	f(ctx, err)
}

type options struct {
	engine     engine.Engine
	engineOpts engine.TLSOptions
	capacity   int
	notifier   ErrorNotifier
	onListen   func(Listener)
	logHandler slog.Handler
}

// Option configures a [Server].
type Option func(*options)

// Engine sets the engine which serves requests. The default is
// [engine.Detect].
func Engine(e engine.Engine) Option {
	return func(o *options) {
		o.engine = e
	}
}

// Hostname sets the host to listen on. The default is every interface.
func Hostname(hostname string) Option {
	return func(o *options) {
		o.engineOpts.Hostname = hostname
	}
}

// Port sets the port to listen on. Port 0 picks an ephemeral port.
//
// Default port is 8080.
func Port(port int) Option {
	return func(o *options) {
		o.engineOpts.Port = port
	}
}

// TLS serves HTTPS using the given PEM encoded certificate and key.
// Both must be given.
func TLS(certPEM, keyPEM []byte) Option {
	return func(o *options) {
		o.engineOpts.Cert = certPEM
		o.engineOpts.Key = keyPEM
	}
}

// ReadTimeout is the maximum duration for reading the entire request.
func ReadTimeout(d time.Duration) Option {
	return func(o *options) {
		o.engineOpts.ReadTimeout = d
	}
}

// ReadHeaderTimeout is the maximum duration for reading request headers.
// The default is 2 seconds.
func ReadHeaderTimeout(d time.Duration) Option {
	return func(o *options) {
		o.engineOpts.ReadHeaderTimeout = d
	}
}

// WriteTimeout is the maximum duration before timing out writes of the
// response. It includes the time a request waits to be answered.
func WriteTimeout(d time.Duration) Option {
	return func(o *options) {
		o.engineOpts.WriteTimeout = d
	}
}

// IdleTimeout is the maximum duration to wait for the next request when
// keep-alives are enabled. The default is 120 seconds.
func IdleTimeout(d time.Duration) Option {
	return func(o *options) {
		o.engineOpts.IdleTimeout = d
	}
}

// QueueCapacity sets how many requests may wait to be pulled before the
// engine's handlers block. Values below 1 are treated as 1.
func QueueCapacity(n int) Option {
	return func(o *options) {
		o.capacity = n
	}
}

// Notifier sets where request errors are reported.
func Notifier(n ErrorNotifier) Option {
	return func(o *options) {
		o.notifier = n
	}
}

// OnListen registers a callback invoked once the listener is bound.
func OnListen(f func(Listener)) Option {
	return func(o *options) {
		o.onListen = f
	}
}

// LogHandler configures the underlying slog.Handler.
func LogHandler(h slog.Handler) Option {
	return func(o *options) {
		o.logHandler = otelslog.NewHandler(h)
	}
}

func defaultOptions() *options {
	return &options{
		engineOpts: engine.TLSOptions{
			Options: engine.Options{
				Port: 8080,
			},
		},
		capacity:   1,
		notifier:   noop.ErrorNotifier{},
		logHandler: noop.LogHandler{},
	}
}
