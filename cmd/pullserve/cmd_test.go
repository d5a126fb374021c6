// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/z5labs/pullserve"
	"github.com/z5labs/pullserve/config"
	"github.com/z5labs/pullserve/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (service.Config, error) {
	var got service.Config
	b := pullserve.AppBuilderFunc[service.Config](func(ctx context.Context, cfg service.Config) (pullserve.App, error) {
		got = cfg
		return pullserve.AppFunc(func(ctx context.Context) error {
			return nil
		}), nil
	})

	cmd := newRootCmd(b)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return got, err
}

func writeConfig(t *testing.T, contents string) string {
	path := filepath.Join(t.TempDir(), "pullserve.yaml")
	err := os.WriteFile(path, []byte(contents), 0o600)
	require.NoError(t, err)
	return path
}

func TestServeCmd(t *testing.T) {
	t.Run("will use the flag defaults", func(t *testing.T) {
		t.Run("if nothing else is configured", func(t *testing.T) {
			t.Chdir(t.TempDir())

			cfg, err := execute(t, "serve")
			if !assert.Nil(t, err) {
				return
			}
			if !assert.Equal(t, 8080, cfg.Server.Port) {
				return
			}
			if !assert.Equal(t, 1, cfg.Server.QueueCapacity) {
				return
			}
			if !assert.Equal(t, 3, cfg.Upstream.MaxRetries) {
				return
			}
			if !assert.Equal(t, slog.LevelInfo, cfg.Logging.Level) {
				return
			}
			if !assert.Equal(t, "none", cfg.OTel.Exporter) {
				return
			}
		})
	})

	t.Run("will layer the config sources", func(t *testing.T) {
		t.Run("if the file, env and flags all set values", func(t *testing.T) {
			path := writeConfig(t, `
server:
  port: 9000
  queue_capacity: 16
  hostname: {{ env "TEST_PULLSERVE_HOST" }}
upstream:
  url: http://file.example.com
logging:
  level: warn
`)
			t.Setenv("TEST_PULLSERVE_HOST", "0.0.0.0")
			t.Setenv("PULLSERVE_UPSTREAM__URL", "http://env.example.com")
			t.Setenv("PULLSERVE_SERVER__QUEUE_CAPACITY", "32")

			cfg, err := execute(t, "serve", "--config", path, "--queue-capacity", "64", "--log-level", "debug")
			if !assert.Nil(t, err) {
				return
			}
			if !assert.Equal(t, "0.0.0.0", cfg.Server.Hostname) {
				return
			}
			if !assert.Equal(t, 9000, cfg.Server.Port) {
				return
			}
			if !assert.Equal(t, "http://env.example.com", cfg.Upstream.URL) {
				return
			}
			if !assert.Equal(t, 64, cfg.Server.QueueCapacity) {
				return
			}
			if !assert.Equal(t, slog.LevelDebug, cfg.Logging.Level) {
				return
			}
		})
	})

	t.Run("will return a ConfigReadError", func(t *testing.T) {
		t.Run("if an explicitly set config file does not exist", func(t *testing.T) {
			_, err := execute(t, "serve", "--config", filepath.Join(t.TempDir(), "missing.yaml"))

			var cerr pullserve.ConfigReadError
			if !assert.ErrorAs(t, err, &cerr) {
				return
			}
			if !assert.ErrorIs(t, err, os.ErrNotExist) {
				return
			}
		})

		t.Run("if the config file is not valid yaml", func(t *testing.T) {
			path := writeConfig(t, "server: [")

			_, err := execute(t, "serve", "--config", path)

			var yerr config.InvalidYamlError
			if !assert.ErrorAs(t, err, &yerr) {
				return
			}
		})
	})

	t.Run("will return a ConfigUnmarshalError", func(t *testing.T) {
		t.Run("if a value can not be coerced", func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv("PULLSERVE_SERVER__PORT", "eighty")

			_, err := execute(t, "serve")

			var uerr pullserve.ConfigUnmarshalError
			if !assert.ErrorAs(t, err, &uerr) {
				return
			}
		})
	})

	t.Run("will return the app error", func(t *testing.T) {
		t.Run("if the app fails to build", func(t *testing.T) {
			buildErr := errors.New("failed to build")
			b := pullserve.AppBuilderFunc[service.Config](func(ctx context.Context, cfg service.Config) (pullserve.App, error) {
				return nil, buildErr
			})

			t.Chdir(t.TempDir())
			cmd := newRootCmd(b)
			cmd.SetArgs([]string{"serve"})
			err := cmd.ExecuteContext(context.Background())
			if !assert.ErrorIs(t, err, buildErr) {
				return
			}
		})
	})
}
