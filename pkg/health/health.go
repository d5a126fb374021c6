// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package health provides composable health metrics.
package health

import (
	"context"
	"sync"
)

// Metric represents anything that can report its health status.
type Metric interface {
	Healthy(context.Context) bool
}

// MetricFunc is a func implementation of [Metric].
type MetricFunc func(context.Context) bool

// Healthy implements the [Metric] interface.
func (f MetricFunc) Healthy(ctx context.Context) bool {
	return f(ctx)
}

// Binary represents a health.Metric that is either healthy or not.
// The zero value is healthy.
type Binary struct {
	mu        sync.Mutex
	unhealthy bool
}

// Toggle toggles the state of Binary.
func (m *Binary) Toggle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unhealthy = !m.unhealthy
}

// Healthy implements the [Metric] interface.
func (m *Binary) Healthy(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.unhealthy
}

// AndMetric represents multiple Metrics all and'd together.
type AndMetric struct {
	metrics []Metric
}

// And returns a Metric which is healthy only if every metric is healthy.
func And(metrics ...Metric) AndMetric {
	return AndMetric{
		metrics: metrics,
	}
}

// Healthy implements the [Metric] interface.
func (m AndMetric) Healthy(ctx context.Context) bool {
	for _, metric := range m.metrics {
		if !metric.Healthy(ctx) {
			return false
		}
	}
	return true
}
