// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package engine adapts an HTTP serving engine which invokes a handler
// once per request.
//
// Handlers do not write responses themselves. Instead they return a
// [future.Future] which the engine waits on and writes once it settles.
// This lets the actual work happen somewhere else and complete in any
// order.
//
// Two engine variants exist. [Native] serves with net/http and is
// available wherever the host can open sockets. [Unavailable] is used on
// hosts without socket support and refuses to serve. [Detect] picks the
// right one for the current build once per process.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/z5labs/pullserve/future"
)

// Response is the value an engine writes back to the client.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.Reader
}

// NewResponse returns a [Response] with an empty header.
func NewResponse(statusCode int, body io.Reader) *Response {
	return &Response{
		StatusCode: statusCode,
		Header:     make(http.Header),
		Body:       body,
	}
}

// TextResponse returns a plain text [Response]. An empty text is
// replaced by the standard status text of statusCode.
func TextResponse(statusCode int, text string) *Response {
	if text == "" {
		text = http.StatusText(statusCode)
	}
	resp := NewResponse(statusCode, strings.NewReader(text))
	resp.Header.Set("Content-Type", "text/plain; charset=utf-8")
	return resp
}

// Handler is invoked once per request.
type Handler interface {
	Handle(*http.Request) *future.Future[*Response]
}

// HandlerFunc is a func implementation of [Handler].
type HandlerFunc func(*http.Request) *future.Future[*Response]

// Handle implements the [Handler] interface.
func (f HandlerFunc) Handle(r *http.Request) *future.Future[*Response] {
	return f(r)
}

// Addr is the resolved address an engine is bound to.
type Addr struct {
	Hostname string
	Port     int
}

// String returns the address in host:port form.
func (a Addr) String() string {
	return net.JoinHostPort(a.Hostname, strconv.Itoa(a.Port))
}

// Options configure how an engine serves plaintext HTTP.
type Options struct {
	Hostname string
	Port     int

	// OnListen is called once the listener is bound.
	OnListen func(Addr)

	// OnError is called when a handler fails to produce a response.
	// The returned response is written to the client instead.
	OnError func(context.Context, error) *Response

	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	LogHandler slog.Handler
}

// TLSOptions configure how an engine serves HTTPS. Cert and Key hold
// PEM encoded data.
type TLSOptions struct {
	Options

	Cert []byte
	Key  []byte
}

// Engine accepts connections and invokes a [Handler] per request.
//
// ServePlain and ServeTLS block until ctx is cancelled and every in
// flight request has completed, or until serving fails. A failure to
// bind is reported as a [BindError] before OnListen is ever called.
type Engine interface {
	Supported() bool
	ServePlain(context.Context, Handler, Options) error
	ServeTLS(context.Context, Handler, TLSOptions) error
}

// ErrIncompleteTLS is returned when only one of a certificate and a key
// is configured.
var ErrIncompleteTLS = errors.New("engine: tls requires both a certificate and a key")

// ErrNoResponse is passed to OnError when a handler settles its future
// without a response.
var ErrNoResponse = errors.New("engine: handler did not produce a response")

// BindError occurs when an engine fails to listen on its address.
type BindError struct {
	Addr  string
	Cause error
}

// Error implements the [error] interface.
func (e BindError) Error() string {
	return fmt.Sprintf("failed to bind %s: %s", e.Addr, e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e BindError) Unwrap() error {
	return e.Cause
}

// Serve runs e over TLS when both opts.Cert and opts.Key are present
// and over plaintext when neither is.
func Serve(ctx context.Context, e Engine, h Handler, opts TLSOptions) error {
	hasCert := len(opts.Cert) > 0
	hasKey := len(opts.Key) > 0

	switch {
	case hasCert && hasKey:
		return e.ServeTLS(ctx, h, opts)
	case hasCert || hasKey:
		return ErrIncompleteTLS
	default:
		return e.ServePlain(ctx, h, opts.Options)
	}
}

// Detect returns the engine supported by the current build. The choice
// is made once per process.
func Detect() Engine {
	return detected()
}

var detected = sync.OnceValue(detect)
