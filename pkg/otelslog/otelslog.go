// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package otelslog correlates slog records with the OpenTelemetry span
// found in their context.
package otelslog

import (
	"context"
	"log/slog"

	"github.com/z5labs/pullserve/pkg/slogfield"

	"go.opentelemetry.io/otel/trace"
)

// Handler adds an "otel" group holding the trace id, span id and
// sampling decision to every record logged with a span in its context.
type Handler struct {
	slog slog.Handler
}

// NewHandler wraps h. Wrapping a [*Handler] again returns it unchanged.
func NewHandler(h slog.Handler) *Handler {
	if oh, ok := h.(*Handler); ok {
		return oh
	}
	return &Handler{slog: h}
}

// New is shorthand for slog.New(NewHandler(h)).
func New(h slog.Handler) *slog.Logger {
	return slog.New(NewHandler(h))
}

// Enabled implements the [slog.Handler] interface.
func (h *Handler) Enabled(ctx context.Context, lvl slog.Level) bool {
	return h.slog.Enabled(ctx, lvl)
}

// Handle implements the [slog.Handler] interface.
func (h *Handler) Handle(ctx context.Context, record slog.Record) error {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return h.slog.Handle(ctx, record)
	}

	r := record.Clone()
	r.AddAttrs(
		slog.Group(
			"otel",
			slogfield.String("trace_id", spanCtx.TraceID().String()),
			slogfield.String("span_id", spanCtx.SpanID().String()),
			slogfield.Bool("sampled", spanCtx.IsSampled()),
		),
	)
	return h.slog.Handle(ctx, r)
}

// WithAttrs implements the [slog.Handler] interface.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{slog: h.slog.WithAttrs(attrs)}
}

// WithGroup implements the [slog.Handler] interface.
func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{slog: h.slog.WithGroup(name)}
}
