// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package httphealth exposes health metrics over HTTP.
package httphealth

import (
	"net/http"

	"github.com/z5labs/pullserve/pkg/health"
)

// NewHandler reports m over HTTP. Healthy metrics respond with 200 OK
// and unhealthy ones with 503 Service Unavailable. Only GET and HEAD
// are allowed.
//
// If m already implements [http.Handler] it is returned as is.
func NewHandler(m health.Metric) http.Handler {
	if h, ok := m.(http.Handler); ok {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		status := http.StatusServiceUnavailable
		if m.Healthy(r.Context()) {
			status = http.StatusOK
		}

		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(status)
		if r.Method == http.MethodGet {
			w.Write([]byte(http.StatusText(status)))
		}
	})
}

// Endpoints routes the standard liveness and readiness paths.
type Endpoints struct {
	Liveness  health.Metric
	Readiness health.Metric
}

// Paths served by [Endpoints].
const (
	LivenessPath  = "/health/liveness"
	ReadinessPath = "/health/readiness"
)

// Handler returns an [http.Handler] serving [LivenessPath] and
// [ReadinessPath]. A nil metric is always healthy.
func (e Endpoints) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(LivenessPath, NewHandler(orHealthy(e.Liveness)))
	mux.Handle(ReadinessPath, NewHandler(orHealthy(e.Readiness)))
	return mux
}

func orHealthy(m health.Metric) health.Metric {
	if m != nil {
		return m
	}
	return &health.Binary{}
}
