// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package server

import (
	"bytes"
	"context"
	"net/http"

	"github.com/z5labs/pullserve/engine"
	"github.com/z5labs/pullserve/future"
	"github.com/z5labs/pullserve/internal/try"
)

// Response is the value a [Request] is answered with.
type Response = engine.Response

// NewResponse returns a [Response] with an empty header.
func NewResponse(statusCode int, body []byte) *Response {
	return engine.NewResponse(statusCode, bytes.NewReader(body))
}

// TextResponse returns a plain text [Response].
func TextResponse(statusCode int, text string) *Response {
	return engine.TextResponse(statusCode, text)
}

// Request pairs an incoming HTTP request with the promise of its
// response. The engine holds on to the request's connection until the
// response is settled with [Request.Respond] or [Request.Error].
type Request struct {
	raw     *http.Request
	promise *future.Promise[*Response]
}

// NewRequest returns an unanswered [Request] for r. The server creates
// one for every request the engine receives.
func NewRequest(r *http.Request) *Request {
	_, p := future.New[*Response]()
	return &Request{
		raw:     r,
		promise: p,
	}
}

// Request returns the underlying HTTP request.
func (r *Request) Request() *http.Request {
	return r.raw
}

// Context returns the context of the underlying HTTP request. It is
// cancelled if the client goes away.
func (r *Request) Context() context.Context {
	return r.raw.Context()
}

// RemoteAddr returns the network address of the client.
func (r *Request) RemoteAddr() string {
	return r.raw.RemoteAddr
}

// Respond settles the request with resp. It reports false if the
// request was already settled.
func (r *Request) Respond(resp *Response) bool {
	return r.promise.Resolve(resp)
}

// Error settles the request with err. The client receives a generic
// internal server error and err is reported to the server's
// [ErrorNotifier]. It reports false if the request was already settled.
func (r *Request) Error(err error) bool {
	return r.promise.Reject(err)
}

// Responded reports whether the request has been settled.
func (r *Request) Responded() bool {
	return r.promise.Future().Settled()
}

// Response returns the read only future of the response.
func (r *Request) Response() *future.Future[*Response] {
	return r.promise.Future()
}

// ServeWith answers the request using a standard [http.Handler]. A
// panicking handler settles the request with an error instead.
func (r *Request) ServeWith(h http.Handler) (err error) {
	defer func() {
		if err != nil {
			r.Error(err)
		}
	}()
	defer try.Recover(&err)

	rec := newResponseRecorder()
	h.ServeHTTP(rec, r.raw)
	r.Respond(rec.response())
	return nil
}

type responseRecorder struct {
	header      http.Header
	statusCode  int
	wroteHeader bool
	body        bytes.Buffer
}

func newResponseRecorder() *responseRecorder {
	return &responseRecorder{
		header:     make(http.Header),
		statusCode: http.StatusOK,
	}
}

func (rec *responseRecorder) Header() http.Header {
	return rec.header
}

func (rec *responseRecorder) WriteHeader(statusCode int) {
	if rec.wroteHeader {
		return
	}
	rec.wroteHeader = true
	rec.statusCode = statusCode
}

func (rec *responseRecorder) Write(b []byte) (int, error) {
	rec.WriteHeader(http.StatusOK)
	return rec.body.Write(b)
}

func (rec *responseRecorder) response() *Response {
	return &Response{
		StatusCode: rec.statusCode,
		Header:     rec.header.Clone(),
		Body:       &rec.body,
	}
}
