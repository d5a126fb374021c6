// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package queue provides a backpressured producer/consumer bridge along
// with runtimes which drain a [Consumer] into a [Processor].
package queue

import (
	"context"
	"errors"
	"log/slog"

	"github.com/z5labs/pullserve/internal/try"
	"github.com/z5labs/pullserve/pkg/noop"
	"github.com/z5labs/pullserve/pkg/slogfield"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"golang.org/x/sync/errgroup"
)

// Consumer returns the next item to be processed. Returning [ErrClosed]
// tells the runtime there are no more items.
type Consumer[T any] interface {
	Consume(context.Context) (T, error)
}

// ConsumerFunc is a func implementation of [Consumer].
type ConsumerFunc[T any] func(context.Context) (T, error)

// Consume implements the [Consumer] interface.
func (f ConsumerFunc[T]) Consume(ctx context.Context) (T, error) {
	return f(ctx)
}

// Processor handles a single consumed item.
type Processor[T any] interface {
	Process(context.Context, T) error
}

// ProcessorFunc is a func implementation of [Processor].
type ProcessorFunc[T any] func(context.Context, T) error

// Process implements the [Processor] interface.
func (f ProcessorFunc[T]) Process(ctx context.Context, t T) error {
	return f(ctx, t)
}

type sequentialOptions struct {
	commonOptions
}

// SequentialOption configures a [SequentialRuntime].
type SequentialOption interface {
	applySequential(*sequentialOptions)
}

// SequentialRuntime consumes and processes one item at a time.
type SequentialRuntime[T any] struct {
	log *slog.Logger
	c   Consumer[T]
	p   Processor[T]
}

// Sequential returns a runtime which processes items in consumption order.
func Sequential[T any](c Consumer[T], p Processor[T], opts ...SequentialOption) *SequentialRuntime[T] {
	so := &sequentialOptions{
		commonOptions: commonOptions{
			logHandler: noop.LogHandler{},
		},
	}
	for _, opt := range opts {
		opt.applySequential(so)
	}

	return &SequentialRuntime[T]{
		log: slog.New(so.logHandler),
		c:   c,
		p:   p,
	}
}

// Run consumes until ctx is done or the consumer reports [ErrClosed].
func (rt *SequentialRuntime[T]) Run(ctx context.Context) error {
	tracer := otel.Tracer("queue")
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		spanCtx, span := tracer.Start(ctx, "SequentialRuntime.Run")
		item, err := consume(spanCtx, rt.c)
		if errors.Is(err, ErrClosed) {
			span.End()
			return nil
		}
		if err != nil {
			if ctx.Err() == nil {
				rt.log.ErrorContext(spanCtx, "failed to consume", slogfield.Error(err))
			}
			span.End()
			continue
		}

		err = process(spanCtx, rt.p, item.value)
		if err != nil {
			rt.log.ErrorContext(spanCtx, "failed to process", slogfield.Error(err))
		}
		span.End()
	}
}

type pipeOptions struct {
	commonOptions

	maxConcurrentProcessors int
}

// PipeOption configures a [PipeRuntime].
type PipeOption interface {
	applyPipe(*pipeOptions)
}

type pipeOptionFunc func(*pipeOptions)

func (f pipeOptionFunc) applyPipe(po *pipeOptions) {
	f(po)
}

// MaxConcurrentProcessors limits how many items are processed at once.
// Zero means no limit.
func MaxConcurrentProcessors(n uint) PipeOption {
	return pipeOptionFunc(func(po *pipeOptions) {
		if n == 0 {
			return
		}
		po.maxConcurrentProcessors = int(n)
	})
}

// PipeRuntime consumes items on one goroutine and processes them
// concurrently, so items may finish in any order.
type PipeRuntime[T any] struct {
	log *slog.Logger
	c   Consumer[T]
	p   Processor[T]

	propagator              propagation.TextMapPropagator
	maxConcurrentProcessors int
}

// Pipe returns a runtime which processes items concurrently.
func Pipe[T any](c Consumer[T], p Processor[T], opts ...PipeOption) *PipeRuntime[T] {
	po := &pipeOptions{
		commonOptions: commonOptions{
			logHandler: noop.LogHandler{},
		},
		maxConcurrentProcessors: -1,
	}
	for _, opt := range opts {
		opt.applyPipe(po)
	}

	return &PipeRuntime[T]{
		log:                     slog.New(po.logHandler),
		c:                       c,
		p:                       p,
		propagator:              propagation.TraceContext{},
		maxConcurrentProcessors: po.maxConcurrentProcessors,
	}
}

// Run consumes until ctx is done or the consumer reports [ErrClosed].
// It returns once every started processor has returned.
func (rt *PipeRuntime[T]) Run(ctx context.Context) error {
	itemCh := make(chan *item[T])

	g, gctx := errgroup.WithContext(ctx)
	g.Go(rt.consumeItems(gctx, itemCh))
	g.Go(rt.processItems(gctx, itemCh))
	return g.Wait()
}

type item[T any] struct {
	value T

	// the otel context needs to be propagated between goroutines
	carrier propagation.MapCarrier
}

func (rt *PipeRuntime[T]) consumeItems(ctx context.Context, itemCh chan<- *item[T]) func() error {
	return func() error {
		defer close(itemCh)

		tracer := otel.Tracer("queue")
		for {
			spanCtx, span := tracer.Start(ctx, "PipeRuntime.consumeItems")

			select {
			case <-spanCtx.Done():
				span.End()
				return nil
			default:
			}

			item, err := consume(spanCtx, rt.c)
			if errors.Is(err, ErrClosed) {
				rt.log.DebugContext(spanCtx, "consumer has no more items")
				span.End()
				return nil
			}
			if err != nil {
				if ctx.Err() == nil {
					rt.log.ErrorContext(spanCtx, "failed to consume", slogfield.Error(err))
				}
				span.End()
				continue
			}

			item.carrier = make(propagation.MapCarrier)
			rt.propagator.Inject(spanCtx, item.carrier)

			select {
			case <-spanCtx.Done():
				span.End()
				return nil
			case itemCh <- item:
				span.End()
			}
		}
	}
}

func (rt *PipeRuntime[T]) processItems(ctx context.Context, itemCh <-chan *item[T]) func() error {
	return func() error {
		var g errgroup.Group
		g.SetLimit(rt.maxConcurrentProcessors)

		for i := range itemCh {
			propCtx := rt.propagator.Extract(ctx, i.carrier)
			g.Go(rt.processItem(propCtx, i))
		}
		rt.log.DebugContext(ctx, "stopping item processing since item channel was closed")
		return g.Wait()
	}
}

func (rt *PipeRuntime[T]) processItem(ctx context.Context, i *item[T]) func() error {
	return func() error {
		spanCtx, span := otel.Tracer("queue").Start(ctx, "processItem")
		defer span.End()

		err := process(spanCtx, rt.p, i.value)
		if err != nil {
			rt.log.ErrorContext(spanCtx, "failed to process", slogfield.Error(err))
		}
		return nil
	}
}

func consume[T any](ctx context.Context, c Consumer[T]) (i *item[T], err error) {
	spanCtx, span := otel.Tracer("queue").Start(ctx, "consume")
	defer span.End()
	defer try.Recover(&err)

	v, err := c.Consume(spanCtx)
	if err != nil {
		return nil, err
	}
	return &item[T]{value: v}, nil
}

func process[T any](ctx context.Context, p Processor[T], value T) (err error) {
	spanCtx, span := otel.Tracer("queue").Start(ctx, "process")
	defer span.End()
	defer try.Recover(&err)

	return p.Process(spanCtx, value)
}
