// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package service assembles the pullserve command's app from its config.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/z5labs/pullserve"
	"github.com/z5labs/pullserve/http/httphealth"
	"github.com/z5labs/pullserve/pkg/app"
	"github.com/z5labs/pullserve/pkg/health"
	"github.com/z5labs/pullserve/pkg/otelconfig"
	"github.com/z5labs/pullserve/pkg/otelslog"
	"github.com/z5labs/pullserve/queue"
	"github.com/z5labs/pullserve/server"
	"github.com/z5labs/pullserve/upstream"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is the configuration of the pullserve command.
type Config struct {
	Server struct {
		Hostname          string        `config:"hostname"`
		Port              int           `config:"port"`
		QueueCapacity     int           `config:"queue_capacity"`
		MaxConcurrency    uint          `config:"max_concurrency"`
		ReadTimeout       time.Duration `config:"read_timeout"`
		ReadHeaderTimeout time.Duration `config:"read_header_timeout"`
		WriteTimeout      time.Duration `config:"write_timeout"`
		IdleTimeout       time.Duration `config:"idle_timeout"`

		TLS struct {
			CertFile string `config:"cert_file"`
			KeyFile  string `config:"key_file"`
		} `config:"tls"`
	} `config:"server"`

	Upstream struct {
		URL              string        `config:"url"`
		Timeout          time.Duration `config:"timeout"`
		MaxRetries       int           `config:"max_retries"`
		TripAfter        uint32        `config:"trip_after"`
		OpenStateTimeout time.Duration `config:"open_state_timeout"`
	} `config:"upstream"`

	Logging struct {
		Level  slog.Level `config:"level"`
		Format string     `config:"format"`
	} `config:"logging"`

	OTel struct {
		Exporter    string  `config:"exporter"`
		Target      string  `config:"target"`
		SampleRatio float64 `config:"sample_ratio"`
	} `config:"otel"`
}

// Builder builds the pullserve [pullserve.App].
type Builder struct {
	// Out is where logs and locally exported spans are written.
	// The default is stderr.
	Out io.Writer

	// ServerOptions are applied after the options derived from [Config].
	ServerOptions []server.Option
}

// UnknownExporterError occurs when the configured span exporter is not
// one of none, stdout or otlp.
type UnknownExporterError struct {
	Exporter string
}

// Error implements the [error] interface.
func (e UnknownExporterError) Error() string {
	return fmt.Sprintf("unknown otel exporter: %s", e.Exporter)
}

// Build implements the [pullserve.AppBuilder] interface.
func (b Builder) Build(ctx context.Context, cfg Config) (pullserve.App, error) {
	out := b.Out
	if out == nil {
		out = os.Stderr
	}

	logHandler := newLogHandler(out, cfg)
	log := otelslog.New(logHandler)

	tp, err := initTracing(ctx, out, cfg)
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	zlog := newZapLogger(out, cfg)

	opts, err := serverOptions(cfg, logHandler)
	if err != nil {
		return nil, err
	}
	srv, err := server.New(append(opts, b.ServerOptions...)...)
	if err != nil {
		return nil, err
	}

	backend, readiness, err := newBackend(cfg, zlog)
	if err != nil {
		return nil, err
	}

	endpoints := httphealth.Endpoints{
		Liveness:  &health.Binary{},
		Readiness: health.And(append(readiness, srv)...),
	}
	p := route(endpoints.Handler(), backend)

	rt := server.NewRuntime(srv, p, server.MaxConcurrency(cfg.Server.MaxConcurrency))

	a := app.WithLifecycleHooks(rt, app.Lifecycle{
		PreRun: app.LifecycleHookFunc(func(ctx context.Context) error {
			log.InfoContext(ctx, "starting pullserve")
			return nil
		}),
		PostRun: app.LifecycleHookFunc(func(ctx context.Context) error {
			log.InfoContext(ctx, "stopped pullserve")

			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()

			// zap reports a harmless error when syncing a terminal
			zlog.Sync()
			return tp.Shutdown(shutdownCtx)
		}),
	})
	return a, nil
}

func newLogHandler(out io.Writer, cfg Config) slog.Handler {
	opts := &slog.HandlerOptions{
		AddSource: cfg.Logging.Level <= slog.LevelDebug,
		Level:     cfg.Logging.Level,
	}
	if strings.EqualFold(cfg.Logging.Format, "text") {
		return otelslog.NewHandler(slog.NewTextHandler(out, opts))
	}
	return otelslog.NewHandler(slog.NewJSONHandler(out, opts))
}

func newZapLogger(out io.Writer, cfg Config) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder

	var enc zapcore.Encoder = zapcore.NewJSONEncoder(encCfg)
	if strings.EqualFold(cfg.Logging.Format, "text") {
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(out), zapLevel(cfg.Logging.Level))
	return zap.New(core)
}

func zapLevel(lvl slog.Level) zapcore.Level {
	switch {
	case lvl < slog.LevelInfo:
		return zapcore.DebugLevel
	case lvl < slog.LevelWarn:
		return zapcore.InfoLevel
	case lvl < slog.LevelError:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}

func initTracing(ctx context.Context, out io.Writer, cfg Config) (otelconfig.TracerProvider, error) {
	opts := []otelconfig.Option{
		otelconfig.ServiceName("pullserve"),
	}
	if cfg.OTel.SampleRatio > 0 {
		opts = append(opts, otelconfig.SampleRatio(cfg.OTel.SampleRatio))
	}

	var init otelconfig.Initializer
	switch strings.ToLower(cfg.OTel.Exporter) {
	case "", "none":
		init = otelconfig.Noop
	case "stdout":
		init = otelconfig.Local(out, opts...)
	case "otlp":
		init = otelconfig.OTLP(cfg.OTel.Target, opts...)
	default:
		return nil, UnknownExporterError{Exporter: cfg.OTel.Exporter}
	}
	return init.Init(ctx)
}

func serverOptions(cfg Config, logHandler slog.Handler) ([]server.Option, error) {
	sc := cfg.Server
	opts := []server.Option{
		server.Hostname(sc.Hostname),
		server.Port(sc.Port),
		server.LogHandler(logHandler),
	}
	if sc.QueueCapacity > 0 {
		opts = append(opts, server.QueueCapacity(sc.QueueCapacity))
	}
	if sc.ReadTimeout > 0 {
		opts = append(opts, server.ReadTimeout(sc.ReadTimeout))
	}
	if sc.ReadHeaderTimeout > 0 {
		opts = append(opts, server.ReadHeaderTimeout(sc.ReadHeaderTimeout))
	}
	if sc.WriteTimeout > 0 {
		opts = append(opts, server.WriteTimeout(sc.WriteTimeout))
	}
	if sc.IdleTimeout > 0 {
		opts = append(opts, server.IdleTimeout(sc.IdleTimeout))
	}

	certFile, keyFile := sc.TLS.CertFile, sc.TLS.KeyFile
	if certFile == "" && keyFile == "" {
		return opts, nil
	}
	if certFile == "" || keyFile == "" {
		return nil, errIncompleteTLS
	}

	cert, err := os.ReadFile(certFile)
	if err != nil {
		return nil, err
	}
	key, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, err
	}
	return append(opts, server.TLS(cert, key)), nil
}

var errIncompleteTLS = errors.New("both server.tls.cert_file and server.tls.key_file must be set")

func newBackend(cfg Config, zlog *zap.Logger) (queue.Processor[*server.Request], []health.Metric, error) {
	uc := cfg.Upstream
	if uc.URL == "" {
		return server.HandlerProcessor(http.HandlerFunc(echo)), nil, nil
	}

	opts := []upstream.Option{
		upstream.Logger(zlog),
	}
	if uc.Timeout > 0 {
		opts = append(opts, upstream.Timeout(uc.Timeout))
	}
	if uc.MaxRetries > 0 {
		opts = append(opts, upstream.MaxRetries(uc.MaxRetries))
	}
	if uc.TripAfter > 0 {
		opts = append(opts, upstream.TripAfter(uc.TripAfter))
	}
	if uc.OpenStateTimeout > 0 {
		opts = append(opts, upstream.OpenStateTimeout(uc.OpenStateTimeout))
	}

	p, err := upstream.NewProcessor(uc.URL, opts...)
	if err != nil {
		return nil, nil, err
	}
	return p, []health.Metric{p}, nil
}

// route answers health checks itself and hands everything else to next.
func route(healthHandler http.Handler, next queue.Processor[*server.Request]) queue.Processor[*server.Request] {
	return queue.ProcessorFunc[*server.Request](func(ctx context.Context, req *server.Request) error {
		if strings.HasPrefix(req.Request().URL.Path, "/health/") {
			return req.ServeWith(healthHandler)
		}
		return next.Process(ctx, req)
	})
}

func echo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "%s %s\n", r.Method, r.URL.RequestURI())
	io.Copy(w, r.Body)
}
