// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package slogfield provides consistently keyed slog.Attr constructors.
package slogfield

import (
	"log/slog"
	"net/http"
	"time"
)

// Any returns an slog.Attr for the supplied value.
func Any(key string, value any) slog.Attr {
	return slog.Any(key, value)
}

// Bool returns an slog.Attr for a bool.
func Bool(key string, value bool) slog.Attr {
	return slog.Bool(key, value)
}

// Duration returns an slog.Attr for a time.Duration.
func Duration(key string, d time.Duration) slog.Attr {
	return slog.Duration(key, d)
}

// Error returns an slog.Attr for a error.
func Error(err error) slog.Attr {
	return slog.Any("error", err)
}

// String returns an slog.Attr for a string.
func String(key, value string) slog.Attr {
	return slog.String(key, value)
}

// Int returns an slog.Attr for a int.
func Int(key string, n int) slog.Attr {
	return slog.Int(key, n)
}

// StatusCode returns an slog.Attr for an HTTP status code.
func StatusCode(code int) slog.Attr {
	return slog.Int("status_code", code)
}

// HTTPRequest groups the parts of r worth logging. Headers and the body
// are left out since they may carry credentials.
func HTTPRequest(r *http.Request) slog.Attr {
	return slog.Group(
		"request",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("remote_addr", r.RemoteAddr),
	)
}
