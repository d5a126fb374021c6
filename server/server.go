// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package server turns a push style HTTP engine into a pull style
// stream of requests.
//
// The engine invokes a handler for every incoming request. The handler
// wraps the request in a [Request], queues it and hands the engine a
// future of the response. Consumers pull requests off the queue at their
// own pace and answer each one whenever they are done with it, in any
// order.
//
//	srv, err := server.New(server.Port(8080))
//	if err != nil {
//	    return err
//	}
//	l, err := srv.Listen(ctx)
//	if err != nil {
//	    return err
//	}
//	defer srv.Close(context.Background())
//
//	reqs, err := srv.Requests(ctx)
//	if err != nil {
//	    return err
//	}
//	for req := range reqs {
//	    go req.Respond(server.TextResponse(http.StatusOK, "hello"))
//	}
package server

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/z5labs/pullserve/engine"
	"github.com/z5labs/pullserve/future"
	"github.com/z5labs/pullserve/pkg/slogfield"
	"github.com/z5labs/pullserve/queue"
)

// State is a stage of a [Server]'s lifecycle.
type State int

const (
	// Idle servers have not been asked to listen yet.
	Idle State = iota

	// Listening servers accept and queue requests.
	Listening

	// Closing servers no longer queue requests and are waiting for
	// the engine to finish.
	Closing

	// Closed servers are done. They can not listen again.
	Closed
)

// String implements the [fmt.Stringer] interface.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
}

// ErrInvalidState is returned when an operation is not allowed in the
// server's current [State].
var ErrInvalidState = errors.New("server: invalid state")

// StateError describes which operation was attempted in which [State].
type StateError struct {
	Op    string
	State State
}

// Error implements the [error] interface.
func (e StateError) Error() string {
	return fmt.Sprintf("server: can not %s while %s", e.Op, e.State)
}

// Is reports whether target is [ErrInvalidState].
func (e StateError) Is(target error) bool {
	return target == ErrInvalidState
}

// ErrUnsupported is returned by [New] when the host can not serve HTTP.
var ErrUnsupported = engine.ErrUnsupported

// ErrServerClosed is the cause given to the engine's context when the
// server is closed.
var ErrServerClosed = errors.New("server: closed")

// Supported reports whether the host is able to run a [Server] with the
// default engine.
func Supported() bool {
	return engine.Detect().Supported()
}

// Listener describes the address a [Server] is bound to.
type Listener struct {
	Hostname string
	Port     int
}

// Addr returns the address in host:port form.
func (l Listener) Addr() string {
	return net.JoinHostPort(l.Hostname, strconv.Itoa(l.Port))
}

// Server bridges an [engine.Engine] and a request consumer.
type Server struct {
	log        *slog.Logger
	logHandler slog.Handler
	engine     engine.Engine
	engineOpts engine.TLSOptions
	capacity   int
	notifier   ErrorNotifier
	onListen   func(Listener)

	// signal is handed to the engine and cancelled exactly once when
	// the server is closed.
	signal context.Context
	cancel context.CancelCauseFunc

	mu     sync.Mutex
	state  State
	bridge *queue.Bridge[*Request]
	served *future.Future[struct{}]
	done   chan struct{}
}

// New returns an idle [Server]. It fails with [ErrUnsupported] if the
// configured engine can not serve on this host.
func New(opts ...Option) (*Server, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.engine == nil {
		o.engine = engine.Detect()
	}
	if !o.engine.Supported() {
		return nil, ErrUnsupported
	}
	o.engineOpts.LogHandler = o.logHandler

	signal, cancel := context.WithCancelCause(context.Background())
	s := &Server{
		log:        slog.New(o.logHandler),
		logHandler: o.logHandler,
		engine:     o.engine,
		engineOpts: o.engineOpts,
		capacity:   o.capacity,
		notifier:   o.notifier,
		onListen:   o.onListen,
		signal:     signal,
		cancel:     cancel,
		state:      Idle,
		done:       make(chan struct{}),
	}
	return s, nil
}

// State returns the current lifecycle state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Closed reports whether the server has started or finished closing.
func (s *Server) Closed() bool {
	st := s.State()
	return st == Closing || st == Closed
}

// Done returns a channel which is closed once the server is [Closed].
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Healthy implements the health.Metric interface. A server is only
// healthy while it is listening.
func (s *Server) Healthy(ctx context.Context) bool {
	return s.State() == Listening
}

// Listen starts the engine and returns once it is bound. The engine
// keeps serving in the background until [Server.Close] is called.
//
// ctx only bounds the wait for the engine to bind. If binding fails,
// the server is closed and the bind error is returned.
func (s *Server) Listen(ctx context.Context) (Listener, error) {
	s.mu.Lock()
	if s.state != Idle {
		st := s.state
		s.mu.Unlock()
		return Listener{}, StateError{Op: "listen", State: st}
	}

	bridge := queue.NewBridge[*Request](s.capacity)
	bound, boundP := future.New[Listener]()
	served, servedP := future.New[struct{}]()

	s.bridge = bridge
	s.served = served
	s.state = Listening
	s.mu.Unlock()

	opts := s.engineOpts
	opts.OnListen = func(a engine.Addr) {
		l := Listener{Hostname: a.Hostname, Port: a.Port}
		if !boundP.Resolve(l) {
			return
		}
		if s.onListen != nil {
			s.onListen(l)
		}
	}
	opts.OnError = s.onError

	go s.serve(bridge, opts, boundP, servedP)

	l, err := bound.Await(ctx)
	if err == nil {
		return l, nil
	}
	if ctx.Err() != nil {
		return Listener{}, err
	}

	// the engine stopped before it ever bound
	s.Close(context.Background())
	return Listener{}, err
}

func (s *Server) serve(
	bridge *queue.Bridge[*Request],
	opts engine.TLSOptions,
	boundP *future.Promise[Listener],
	servedP *future.Promise[struct{}],
) {
	err := engine.Serve(s.signal, s.engine, engine.HandlerFunc(s.handle(bridge)), opts)
	if err != nil {
		boundP.Reject(err)
		servedP.Reject(err)
	} else {
		boundP.Reject(ErrServerClosed)
		servedP.Resolve(struct{}{})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Listening {
		// the engine stopped on its own so nothing else will close
		// the bridge and end the consumer's iteration
		s.log.Error("engine stopped serving unexpectedly", slogfield.Error(err))
		bridge.Close()
		s.bridge = nil
		s.cancel(ErrServerClosed)
	}
	s.state = Closed
	close(s.done)
}

func (s *Server) handle(bridge *queue.Bridge[*Request]) func(*http.Request) *future.Future[*Response] {
	return func(r *http.Request) *future.Future[*Response] {
		req := NewRequest(r)

		err := bridge.Enqueue(r.Context(), req)
		if errors.Is(err, queue.ErrClosed) {
			s.log.DebugContext(
				r.Context(),
				"turned away request while closing",
				slogfield.HTTPRequest(r),
				slogfield.StatusCode(http.StatusServiceUnavailable),
			)
			return future.Resolved(TextResponse(http.StatusServiceUnavailable, ""))
		}
		if err != nil {
			s.log.DebugContext(r.Context(), "request abandoned before it was queued", slogfield.HTTPRequest(r), slogfield.Error(err))
			return future.Rejected[*Response](err)
		}
		return req.Response()
	}
}

func (s *Server) onError(ctx context.Context, err error) *Response {
	s.log.ErrorContext(ctx, "failed to produce response", slogfield.Error(err))
	s.notifier.NotifyError(ctx, err)
	return TextResponse(http.StatusInternalServerError, "")
}

// Close stops accepting requests and waits for the engine to finish
// serving the requests it already accepted. Requests which were queued
// before Close can still be pulled and must still be answered.
//
// Close is safe to call multiple times and concurrently. Only the first
// call tears the server down and every call returns nil. ctx only bounds
// how long Close waits.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case Idle:
		s.state = Closed
		s.cancel(ErrServerClosed)
		close(s.done)
		s.mu.Unlock()
		return nil
	case Closing, Closed:
		s.mu.Unlock()
		s.wait(ctx)
		return nil
	}

	s.state = Closing
	bridge := s.bridge
	s.bridge = nil
	served := s.served
	s.mu.Unlock()

	bridge.Close()
	s.cancel(ErrServerClosed)

	_, err := served.Await(ctx)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, http.ErrServerClosed), errors.Is(err, ErrServerClosed):
		s.log.DebugContext(ctx, "engine stopped with an abort error", slogfield.Error(err))
	default:
		s.log.WarnContext(ctx, "engine failed while stopping", slogfield.Error(err))
	}

	s.wait(ctx)
	return nil
}

func (s *Server) wait(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-s.done:
	}
}

// Consumer returns the queue of incoming requests. It fails with
// [ErrInvalidState] before [Server.Listen] and after [Server.Close].
//
// Once the server is closed, the consumer keeps returning requests which
// were already queued and then returns [queue.ErrClosed].
func (s *Server) Consumer() (queue.Consumer[*Request], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bridge == nil {
		return nil, StateError{Op: "consume requests", State: s.state}
	}
	return s.bridge, nil
}

// Requests returns an iterator over incoming requests in the order the
// engine received them. Iteration ends once the server is closed and
// every queued request was yielded, or once ctx is done.
//
// It fails with [ErrInvalidState] before [Server.Listen] and after
// [Server.Close].
func (s *Server) Requests(ctx context.Context) (iter.Seq[*Request], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bridge == nil {
		return nil, StateError{Op: "iterate requests", State: s.state}
	}
	return s.bridge.All(ctx), nil
}

// Next returns the oldest queued request, blocking until one arrives or
// ctx is done. It returns [queue.ErrClosed] once a server which was
// closed while this call was blocked has no more queued requests.
//
// It fails with [ErrInvalidState] before [Server.Listen] and after
// [Server.Close].
func (s *Server) Next(ctx context.Context) (*Request, error) {
	s.mu.Lock()
	b := s.bridge
	st := s.state
	s.mu.Unlock()
	if b == nil {
		return nil, StateError{Op: "receive requests", State: st}
	}
	return b.Next(ctx)
}
