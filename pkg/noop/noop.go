// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package noop provides implementations which do nothing.
package noop

import (
	"context"
	"log/slog"
)

// LogHandler is an slog.Handler which discards every record.
type LogHandler struct{}

func (LogHandler) Enabled(_ context.Context, _ slog.Level) bool  { return false }
func (LogHandler) Handle(_ context.Context, _ slog.Record) error { return nil }
func (h LogHandler) WithAttrs(_ []slog.Attr) slog.Handler        { return h }
func (h LogHandler) WithGroup(name string) slog.Handler          { return h }

// ErrorNotifier drops every error it is notified of.
type ErrorNotifier struct{}

// NotifyError implements the server.ErrorNotifier interface.
func (ErrorNotifier) NotifyError(_ context.Context, _ error) {}
