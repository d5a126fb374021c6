// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package otelslog

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type otelRecord struct {
	Message string `json:"msg"`
	A       string `json:"a"`
	OTel    struct {
		TraceID string `json:"trace_id"`
		SpanID  string `json:"span_id"`
		Sampled bool   `json:"sampled"`
	} `json:"otel"`
}

func TestNewHandler(t *testing.T) {
	t.Run("will not wrap twice", func(t *testing.T) {
		t.Run("if given a *Handler", func(t *testing.T) {
			h := NewHandler(slog.NewJSONHandler(&bytes.Buffer{}, nil))

			if !assert.Same(t, h, NewHandler(h)) {
				return
			}
		})
	})
}

func TestHandler_Handle(t *testing.T) {
	t.Run("will not add the otel group", func(t *testing.T) {
		t.Run("if the span context is invalid", func(t *testing.T) {
			var buf bytes.Buffer
			log := New(slog.NewJSONHandler(&buf, nil))

			log.InfoContext(context.Background(), "test")

			var record otelRecord
			err := json.Unmarshal(buf.Bytes(), &record)
			if !assert.Nil(t, err) {
				return
			}
			if !assert.Equal(t, "test", record.Message) {
				return
			}
			if !assert.Empty(t, record.OTel.TraceID) {
				return
			}
		})
	})

	t.Run("will add trace id and span id", func(t *testing.T) {
		t.Run("if the span context is valid", func(t *testing.T) {
			var buf bytes.Buffer
			log := New(slog.NewJSONHandler(&buf, nil)).With(slog.String("a", "b"))

			tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
			defer tp.Shutdown(context.Background())

			ctx, span := tp.Tracer("otelslog").Start(context.Background(), "test")
			defer span.End()

			log.InfoContext(ctx, "test")

			var record otelRecord
			err := json.Unmarshal(buf.Bytes(), &record)
			if !assert.Nil(t, err) {
				return
			}
			if !assert.Equal(t, "b", record.A) {
				return
			}
			if !assert.Equal(t, span.SpanContext().TraceID().String(), record.OTel.TraceID) {
				return
			}
			if !assert.Equal(t, span.SpanContext().SpanID().String(), record.OTel.SpanID) {
				return
			}
			if !assert.True(t, record.OTel.Sampled) {
				return
			}
		})
	})
}
