// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package upstream forwards pulled requests to another HTTP service.
//
// Calls are retried with backoff and guarded by a circuit breaker. While
// the circuit is open, requests are answered with 503 Service Unavailable
// without reaching the upstream.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/z5labs/pullserve/server"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Processor is a queue.Processor which answers every [server.Request]
// with the response of the upstream service.
type Processor struct {
	base    *url.URL
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	log     *zap.Logger
}

// InvalidBaseURLError occurs when the upstream base URL can not be used.
type InvalidBaseURLError struct {
	URL   string
	Cause error
}

// Error implements the [error] interface.
func (e InvalidBaseURLError) Error() string {
	return fmt.Sprintf("invalid upstream base url %q: %s", e.URL, e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e InvalidBaseURLError) Unwrap() error {
	return e.Cause
}

var errNotAbsolute = errors.New("must be an absolute http or https url")

// NewProcessor returns a [Processor] forwarding to baseURL. The path and
// query of each request are appended to baseURL.
func NewProcessor(baseURL string, opts ...Option) (*Processor, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, InvalidBaseURLError{URL: baseURL, Cause: err}
	}
	if base.Host == "" || (base.Scheme != "http" && base.Scheme != "https") {
		return nil, InvalidBaseURLError{URL: baseURL, Cause: errNotAbsolute}
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	log := o.logger.Named(o.name)
	cb := newBreaker(o, log)
	p := &Processor{
		base:    base,
		client:  newClient(o, log, cb),
		breaker: cb,
		log:     log,
	}
	return p, nil
}

// Healthy implements the health.Metric interface. The processor is
// unhealthy while its circuit is open.
func (p *Processor) Healthy(ctx context.Context) bool {
	return p.breaker.State() != gobreaker.StateOpen
}

// Process implements the queue.Processor interface.
func (p *Processor) Process(ctx context.Context, req *server.Request) error {
	in := req.Request()

	out, err := http.NewRequestWithContext(req.Context(), in.Method, p.target(in.URL).String(), in.Body)
	if err != nil {
		return err
	}
	out.ContentLength = in.ContentLength
	copyHeader(out.Header, in.Header)
	setForwarded(out.Header, in)

	resp, err := p.client.Do(out)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		p.log.Warn("rejecting request since upstream circuit is open", zap.String("path", in.URL.Path))
		req.Respond(server.TextResponse(http.StatusServiceUnavailable, ""))
		return nil
	}
	if err != nil {
		p.log.Error("failed to call upstream", zap.String("path", in.URL.Path), zap.Error(err))
		req.Respond(server.TextResponse(http.StatusBadGateway, ""))
		return nil
	}

	r := &server.Response{
		StatusCode: resp.StatusCode,
		Header:     make(http.Header, len(resp.Header)),
		Body:       resp.Body,
	}
	copyHeader(r.Header, resp.Header)
	if !req.Respond(r) {
		resp.Body.Close()
	}
	return nil
}

func (p *Processor) target(in *url.URL) *url.URL {
	u := *p.base
	u.Path = singleJoiningSlash(p.base.Path, in.Path)
	u.RawPath = ""
	u.RawQuery = in.RawQuery
	return &u
}

func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}

// hop by hop headers are meaningful for a single connection only
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func copyHeader(dst, src http.Header) {
	for k, vs := range src {
		dst[k] = append([]string(nil), vs...)
	}
	for _, h := range hopHeaders {
		dst.Del(h)
	}
}

func setForwarded(h http.Header, in *http.Request) {
	host, _, err := net.SplitHostPort(in.RemoteAddr)
	if err == nil {
		if prior := h.Values("X-Forwarded-For"); len(prior) > 0 {
			host = strings.Join(prior, ", ") + ", " + host
		}
		h.Set("X-Forwarded-For", host)
	}
	if in.Host != "" {
		h.Set("X-Forwarded-Host", in.Host)
	}
	proto := "http"
	if in.TLS != nil {
		proto = "https"
	}
	h.Set("X-Forwarded-Proto", proto)
}
