// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package health

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBinary_Toggle(t *testing.T) {
	t.Run("will make it unhealthy", func(t *testing.T) {
		t.Run("if the current state is healthy", func(t *testing.T) {
			var m Binary
			m.Toggle()
			assert.False(t, m.Healthy(context.Background()))
		})
	})

	t.Run("will make it healthy", func(t *testing.T) {
		t.Run("if the current state is unhealthy", func(t *testing.T) {
			m := Binary{
				unhealthy: true,
			}
			m.Toggle()
			assert.True(t, m.Healthy(context.Background()))
		})
	})
}

func TestAndMetric_Healthy(t *testing.T) {
	t.Run("will be healthy", func(t *testing.T) {
		t.Run("if every metric is healthy", func(t *testing.T) {
			m := And(
				MetricFunc(func(ctx context.Context) bool { return true }),
				&Binary{},
			)
			assert.True(t, m.Healthy(context.Background()))
		})

		t.Run("if there are no metrics", func(t *testing.T) {
			assert.True(t, And().Healthy(context.Background()))
		})
	})

	t.Run("will be unhealthy", func(t *testing.T) {
		t.Run("if any metric is unhealthy", func(t *testing.T) {
			m := And(
				&Binary{},
				MetricFunc(func(ctx context.Context) bool { return false }),
			)
			assert.False(t, m.Healthy(context.Background()))
		})
	})
}
