// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/z5labs/pullserve/server"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

type running struct {
	addr   string
	cancel context.CancelFunc
	errCh  chan error
}

func (r running) do(t *testing.T, method, path, body string) (int, string) {
	req, err := http.NewRequest(method, fmt.Sprintf("http://%s%s", r.addr, path), strings.NewReader(body))
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

func (r running) stop(t *testing.T) {
	r.cancel()
	select {
	case err := <-r.errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app never stopped")
	}
}

func start(t *testing.T, cfg Config) running {
	bound := make(chan server.Listener, 1)
	b := Builder{
		Out: io.Discard,
		ServerOptions: []server.Option{
			server.OnListen(func(l server.Listener) {
				bound <- l
			}),
		},
	}

	cfg.Server.Hostname = "127.0.0.1"
	cfg.Server.Port = 0

	ctx, cancel := context.WithCancel(context.Background())
	a, err := b.Build(ctx, cfg)
	if err != nil {
		cancel()
		t.Fatalf("failed to build app: %s", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Run(ctx)
	}()

	select {
	case l := <-bound:
		return running{addr: l.Addr(), cancel: cancel, errCh: errCh}
	case err := <-errCh:
		cancel()
		t.Fatalf("app failed to start: %s", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("app never bound")
	}
	return running{}
}

func TestBuilder_Build(t *testing.T) {
	t.Run("will echo requests", func(t *testing.T) {
		t.Run("if no upstream is configured", func(t *testing.T) {
			r := start(t, Config{})
			defer r.stop(t)

			status, body := r.do(t, http.MethodPost, "/items?limit=1", "hello")
			if !assert.Equal(t, http.StatusOK, status) {
				return
			}
			if !assert.Equal(t, "POST /items?limit=1\nhello", body) {
				return
			}
		})
	})

	t.Run("will answer health checks", func(t *testing.T) {
		t.Run("if the server is listening", func(t *testing.T) {
			r := start(t, Config{})
			defer r.stop(t)

			status, _ := r.do(t, http.MethodGet, "/health/liveness", "")
			if !assert.Equal(t, http.StatusOK, status) {
				return
			}

			status, _ = r.do(t, http.MethodGet, "/health/readiness", "")
			if !assert.Equal(t, http.StatusOK, status) {
				return
			}
		})
	})

	t.Run("will forward requests", func(t *testing.T) {
		t.Run("if an upstream is configured", func(t *testing.T) {
			up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprintf(w, "upstream saw %s", r.URL.Path)
			}))
			defer up.Close()

			var cfg Config
			cfg.Upstream.URL = up.URL + "/v1"

			r := start(t, cfg)
			defer r.stop(t)

			status, body := r.do(t, http.MethodGet, "/things", "")
			if !assert.Equal(t, http.StatusOK, status) {
				return
			}
			if !assert.Equal(t, "upstream saw /v1/things", body) {
				return
			}
		})
	})

	t.Run("will return an error", func(t *testing.T) {
		t.Run("if the otel exporter is unknown", func(t *testing.T) {
			var cfg Config
			cfg.OTel.Exporter = "zipkin"

			_, err := Builder{Out: io.Discard}.Build(context.Background(), cfg)

			var eerr UnknownExporterError
			if !assert.ErrorAs(t, err, &eerr) {
				return
			}
			if !assert.Equal(t, "zipkin", eerr.Exporter) {
				return
			}
		})

		t.Run("if only one of the tls files is set", func(t *testing.T) {
			var cfg Config
			cfg.Server.TLS.CertFile = "cert.pem"

			_, err := Builder{Out: io.Discard}.Build(context.Background(), cfg)
			if !assert.ErrorIs(t, err, errIncompleteTLS) {
				return
			}
		})

		t.Run("if the upstream url is invalid", func(t *testing.T) {
			var cfg Config
			cfg.Upstream.URL = "/relative"

			_, err := Builder{Out: io.Discard}.Build(context.Background(), cfg)
			if !assert.Error(t, err) {
				return
			}
		})
	})
}

func TestZapLevel(t *testing.T) {
	testCases := []struct {
		in       slog.Level
		expected zapcore.Level
	}{
		{in: slog.LevelDebug - 4, expected: zapcore.DebugLevel},
		{in: slog.LevelDebug, expected: zapcore.DebugLevel},
		{in: slog.LevelInfo, expected: zapcore.InfoLevel},
		{in: slog.LevelInfo + 2, expected: zapcore.InfoLevel},
		{in: slog.LevelWarn, expected: zapcore.WarnLevel},
		{in: slog.LevelError, expected: zapcore.ErrorLevel},
		{in: slog.LevelError + 4, expected: zapcore.ErrorLevel},
	}

	for _, tc := range testCases {
		t.Run(tc.in.String(), func(t *testing.T) {
			require.Equal(t, tc.expected, zapLevel(tc.in))
		})
	}
}
