// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package otelconfig initializes OpenTelemetry tracer providers.
package otelconfig

import (
	"context"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// TracerProvider is a trace.TracerProvider which must be shut down to
// flush any buffered spans.
type TracerProvider interface {
	trace.TracerProvider

	Shutdown(context.Context) error
}

// Initializer creates a [TracerProvider].
type Initializer interface {
	Init(context.Context) (TracerProvider, error)
}

// Common holds settings shared by every [Initializer].
type Common struct {
	ServiceName    string
	ServiceVersion string
	SampleRatio    float64
}

// Option configures an [Initializer].
type Option func(*Common)

// ServiceName sets the service.name resource attribute.
func ServiceName(name string) Option {
	return func(c *Common) {
		c.ServiceName = name
	}
}

// ServiceVersion sets the service.version resource attribute.
func ServiceVersion(version string) Option {
	return func(c *Common) {
		c.ServiceVersion = version
	}
}

// SampleRatio sets the fraction of new traces which are sampled. Child
// spans follow the decision of their parent. The default samples every
// trace.
func SampleRatio(f float64) Option {
	return func(c *Common) {
		c.SampleRatio = f
	}
}

func newCommon(opts []Option) Common {
	c := Common{
		ServiceName: "pullserve",
		SampleRatio: 1,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func (c Common) resource(ctx context.Context) (*resource.Resource, error) {
	return resource.New(
		ctx,
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			semconv.ServiceName(c.ServiceName),
			semconv.ServiceVersion(c.ServiceVersion),
		),
	)
}

func (c Common) provider(ctx context.Context, exporter sdktrace.SpanExporter) (TracerProvider, error) {
	res, err := c.resource(ctx)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(c.SampleRatio))),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	return tp, nil
}

// Noop never records spans.
var Noop Initializer = noopInitializer{}

type noopInitializer struct{}

type noopProvider struct {
	tracenoop.TracerProvider
}

func (noopProvider) Shutdown(context.Context) error {
	return nil
}

func (noopInitializer) Init(context.Context) (TracerProvider, error) {
	return noopProvider{TracerProvider: tracenoop.NewTracerProvider()}, nil
}

// LocalInitializer writes spans as JSON to an [io.Writer].
type LocalInitializer struct {
	Common

	Out io.Writer
}

// Local returns a [LocalInitializer] writing to out. A nil out writes
// to stdout.
func Local(out io.Writer, opts ...Option) LocalInitializer {
	if out == nil {
		out = os.Stdout
	}
	return LocalInitializer{
		Common: newCommon(opts),
		Out:    out,
	}
}

// Init implements the [Initializer] interface.
func (li LocalInitializer) Init(ctx context.Context) (TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(li.Out))
	if err != nil {
		return nil, err
	}
	return li.provider(ctx, exporter)
}

// OTLPInitializer exports spans to an OTLP collector over gRPC.
type OTLPInitializer struct {
	Common

	// gRPC target string of the collector
	Target string
}

// OTLP returns an [OTLPInitializer] exporting to target.
func OTLP(target string, opts ...Option) OTLPInitializer {
	return OTLPInitializer{
		Common: newCommon(opts),
		Target: target,
	}
}

// Init implements the [Initializer] interface.
func (oi OTLPInitializer) Init(ctx context.Context) (TracerProvider, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// TLS towards the collector is left to a sidecar or service mesh
	conn, err := grpc.DialContext(
		dialCtx,
		oi.Target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, err
	}

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	return oi.provider(ctx, exporter)
}
