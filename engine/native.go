// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package engine

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/z5labs/pullserve/internal/fixedpool"
	"github.com/z5labs/pullserve/internal/try"
	"github.com/z5labs/pullserve/pkg/noop"
	"github.com/z5labs/pullserve/pkg/otelslog"
	"github.com/z5labs/pullserve/pkg/slogfield"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type nativeOptions struct {
	listen        func(network, address string) (net.Listener, error)
	keyPairCache  int
	operationName string
}

// NativeOption configures the [Native] engine.
type NativeOption func(*nativeOptions)

// KeyPairCacheSize sets how many parsed TLS key pairs are kept around
// for reuse across ServeTLS calls. The default is 16.
func KeyPairCacheSize(n int) NativeOption {
	return func(no *nativeOptions) {
		if n < 1 {
			return
		}
		no.keyPairCache = n
	}
}

// OperationName sets the span name used for instrumented requests.
func OperationName(name string) NativeOption {
	return func(no *nativeOptions) {
		no.operationName = name
	}
}

// NativeEngine serves HTTP/1.1 and HTTP/2 using net/http.
type NativeEngine struct {
	listen        func(network, address string) (net.Listener, error)
	keyPairs      *keyPairCache
	operationName string
}

// Native returns an [Engine] backed by net/http.
func Native(opts ...NativeOption) *NativeEngine {
	no := &nativeOptions{
		listen:        net.Listen,
		keyPairCache:  16,
		operationName: "pullserve",
	}
	for _, opt := range opts {
		opt(no)
	}

	return &NativeEngine{
		listen:        no.listen,
		keyPairs:      newKeyPairCache(no.keyPairCache),
		operationName: no.operationName,
	}
}

// Supported implements the [Engine] interface.
func (*NativeEngine) Supported() bool {
	return true
}

// ServePlain implements the [Engine] interface.
func (e *NativeEngine) ServePlain(ctx context.Context, h Handler, opts Options) error {
	ls, err := e.bind(opts)
	if err != nil {
		return err
	}
	return e.serve(ctx, ls, h, opts)
}

// ServeTLS implements the [Engine] interface.
func (e *NativeEngine) ServeTLS(ctx context.Context, h Handler, opts TLSOptions) error {
	cert, err := e.keyPairs.get(opts.Cert, opts.Key)
	if err != nil {
		return err
	}

	ls, err := e.bind(opts.Options)
	if err != nil {
		return err
	}

	ls = tls.NewListener(ls, &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"h2", "http/1.1"},
		MinVersion:   tls.VersionTLS12,
	})
	return e.serve(ctx, ls, h, opts.Options)
}

func (e *NativeEngine) bind(opts Options) (net.Listener, error) {
	addr := net.JoinHostPort(opts.Hostname, strconv.Itoa(opts.Port))
	ls, err := e.listen("tcp", addr)
	if err != nil {
		return nil, BindError{Addr: addr, Cause: err}
	}
	return ls, nil
}

func (e *NativeEngine) serve(ctx context.Context, ls net.Listener, h Handler, opts Options) error {
	logHandler := opts.LogHandler
	if logHandler == nil {
		logHandler = noop.LogHandler{}
	}
	log := otelslog.New(logHandler)

	srv := &http.Server{
		Handler: otelhttp.NewHandler(
			respondWith(h, opts.OnError),
			e.operationName,
			otelhttp.WithMessageEvents(otelhttp.ReadEvents, otelhttp.WriteEvents),
		),
		ReadTimeout:       opts.ReadTimeout,
		ReadHeaderTimeout: durationOr(opts.ReadHeaderTimeout, 2*time.Second),
		WriteTimeout:      opts.WriteTimeout,
		IdleTimeout:       durationOr(opts.IdleTimeout, 120*time.Second),
		MaxHeaderBytes:    intOr(opts.MaxHeaderBytes, 1048576),
		ErrorLog:          slog.NewLogLogger(logHandler, slog.LevelError),
	}

	addr := resolveAddr(ls.Addr())
	log.InfoContext(ctx, "listening for requests", slogfield.String("hostname", addr.Hostname), slogfield.Int("port", addr.Port))
	if opts.OnListen != nil {
		opts.OnListen(addr)
	}

	err := fixedpool.Wait(
		ctx,
		func(ctx context.Context) error {
			return srv.Serve(ls)
		},
		func(ctx context.Context) error {
			<-ctx.Done()

			log.InfoContext(ctx, "shutting down")
			defer log.InfoContext(ctx, "shut down")
			return srv.Shutdown(context.WithoutCancel(ctx))
		},
	)
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func resolveAddr(a net.Addr) Addr {
	tcpAddr, ok := a.(*net.TCPAddr)
	if ok {
		return Addr{Hostname: tcpAddr.IP.String(), Port: tcpAddr.Port}
	}

	host, port, err := net.SplitHostPort(a.String())
	if err != nil {
		return Addr{Hostname: a.String()}
	}
	n, _ := strconv.Atoi(port)
	return Addr{Hostname: host, Port: n}
}

func respondWith(h Handler, onError func(context.Context, error) *Response) http.Handler {
	if onError == nil {
		onError = internalServerError
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		resp, err := await(ctx, h, r)
		if err != nil && ctx.Err() != nil {
			// the client is gone so there is nobody to respond to
			return
		}
		if err != nil {
			resp = onError(ctx, err)
		}
		if resp == nil {
			resp = internalServerError(ctx, err)
		}
		writeResponse(w, resp)
	})
}

func await(ctx context.Context, h Handler, r *http.Request) (resp *Response, err error) {
	defer try.Recover(&err)

	f := h.Handle(r)
	if f == nil {
		return nil, ErrNoResponse
	}

	resp, err = f.Await(ctx)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, ErrNoResponse
	}
	return resp, nil
}

func internalServerError(_ context.Context, _ error) *Response {
	return TextResponse(http.StatusInternalServerError, "")
}

func writeResponse(w http.ResponseWriter, resp *Response) {
	header := w.Header()
	for k, vs := range resp.Header {
		header[k] = append(header[k][:0:0], vs...)
	}

	statusCode := resp.StatusCode
	if statusCode == 0 {
		statusCode = http.StatusOK
	}
	w.WriteHeader(statusCode)

	if resp.Body == nil {
		return
	}
	if c, ok := resp.Body.(io.Closer); ok {
		defer c.Close()
	}
	io.Copy(w, resp.Body)
}

func durationOr(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}

func intOr(n, def int) int {
	if n > 0 {
		return n
	}
	return def
}

var _ Engine = (*NativeEngine)(nil)
