// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package server

import (
	"context"
	"net/http"

	"github.com/z5labs/pullserve/engine"
	"github.com/z5labs/pullserve/internal/fixedpool"
	"github.com/z5labs/pullserve/internal/try"
	"github.com/z5labs/pullserve/pkg/slogfield"
	"github.com/z5labs/pullserve/queue"
)

// ErrNoResponse settles requests which a processor returned from
// without answering.
var ErrNoResponse = engine.ErrNoResponse

// HandlerProcessor answers every request with h.
func HandlerProcessor(h http.Handler) queue.Processor[*Request] {
	return queue.ProcessorFunc[*Request](func(ctx context.Context, req *Request) error {
		return req.ServeWith(h)
	})
}

type runtimeOptions struct {
	maxConcurrency uint
}

// RuntimeOption configures a [Runtime].
type RuntimeOption func(*runtimeOptions)

// MaxConcurrency limits how many requests are processed at once. Zero
// means no limit.
func MaxConcurrency(n uint) RuntimeOption {
	return func(ro *runtimeOptions) {
		ro.maxConcurrency = n
	}
}

// Runtime listens with a [Server] and pulls every request into a
// [queue.Processor] until its context is done.
type Runtime struct {
	srv            *Server
	p              queue.Processor[*Request]
	maxConcurrency uint
}

// NewRuntime returns a [Runtime] which processes requests from srv with p.
func NewRuntime(srv *Server, p queue.Processor[*Request], opts ...RuntimeOption) *Runtime {
	ro := &runtimeOptions{}
	for _, opt := range opts {
		opt(ro)
	}

	return &Runtime{
		srv:            srv,
		p:              p,
		maxConcurrency: ro.maxConcurrency,
	}
}

// Run listens and processes requests until ctx is done or the engine
// stops on its own. Requests queued before shutdown are still processed
// before Run returns.
//
// Requests are processed concurrently and may complete in any order. To
// answer them strictly one at a time in arrival order, drain
// [Server.Consumer] with [queue.Sequential] instead.
func (rt *Runtime) Run(ctx context.Context) error {
	l, err := rt.srv.Listen(ctx)
	if err != nil {
		// ctx may have ended before the engine bound, which leaves the
		// server listening with nobody to drain it
		rt.srv.Close(context.WithoutCancel(ctx))
		return err
	}
	rt.srv.log.InfoContext(ctx, "server is listening", slogfield.String("addr", l.Addr()))

	c, err := rt.srv.Consumer()
	if err != nil {
		return err
	}

	pipe := queue.Pipe(
		c,
		answerAll(rt.p),
		queue.LogHandler(rt.srv.logHandler),
		queue.MaxConcurrentProcessors(rt.maxConcurrency),
	)

	return fixedpool.Wait(
		ctx,
		func(ctx context.Context) error {
			// keep draining after ctx is done so queued requests get answered
			return pipe.Run(context.WithoutCancel(ctx))
		},
		func(ctx context.Context) error {
			select {
			case <-ctx.Done():
			case <-rt.srv.Done():
			}
			return rt.srv.Close(context.WithoutCancel(ctx))
		},
	)
}

func answerAll(p queue.Processor[*Request]) queue.Processor[*Request] {
	return queue.ProcessorFunc[*Request](func(ctx context.Context, req *Request) (err error) {
		defer func() {
			if err != nil {
				req.Error(err)
				return
			}
			req.Error(ErrNoResponse)
		}()
		defer try.Recover(&err)

		return p.Process(ctx, req)
	})
}
