// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package upstream

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

type circuitOptions struct {
	maxRequests uint32
	interval    time.Duration
	timeout     time.Duration
	tripCount   uint32
	statusCodes []int
}

type retryOptions struct {
	maxRetries int
	waitMin    time.Duration
	waitMax    time.Duration
}

type options struct {
	name      string
	logger    *zap.Logger
	timeout   time.Duration
	transport http.RoundTripper
	circuit   circuitOptions
	retry     retryOptions
}

// Option configures a [Processor].
type Option func(*options)

// Name is used for the circuit breaker and for naming the logger.
func Name(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// Logger sets the logger used for request attempts and circuit state
// changes.
func Logger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Timeout bounds a single attempt at calling the upstream.
func Timeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// Transport sets the base http.RoundTripper. The default is
// [http.DefaultTransport].
func Transport(rt http.RoundTripper) Option {
	return func(o *options) {
		o.transport = rt
	}
}

// MaxRetries is the number of times a failed attempt is retried.
// The default is 2.
func MaxRetries(n int) Option {
	return func(o *options) {
		o.retry.maxRetries = n
	}
}

// RetryWait bounds the backoff between retries.
// The defaults are 100ms and 5s.
func RetryWait(minWait, maxWait time.Duration) Option {
	return func(o *options) {
		o.retry.waitMin = minWait
		o.retry.waitMax = maxWait
	}
}

// TripAfter is the number of consecutive failures which opens the
// circuit. The default is 5.
func TripAfter(n uint32) Option {
	return func(o *options) {
		o.circuit.tripCount = n
	}
}

// OpenStateTimeout is how long the circuit stays open before letting
// requests through again. The default is 60 seconds.
func OpenStateTimeout(d time.Duration) Option {
	return func(o *options) {
		o.circuit.timeout = d
	}
}

// HalfOpenRequests is the number of requests let through while the
// circuit is half open. The default is 1.
func HalfOpenRequests(n uint32) Option {
	return func(o *options) {
		o.circuit.maxRequests = n
	}
}

// CountResetInterval is how often failure counts are cleared while the
// circuit is closed. Zero never clears them.
func CountResetInterval(d time.Duration) Option {
	return func(o *options) {
		o.circuit.interval = d
	}
}

// FailOnStatusCode registers upstream status codes which count as a
// failure for the circuit breaker. The default is every 5xx status code.
func FailOnStatusCode(codes ...int) Option {
	return func(o *options) {
		o.circuit.statusCodes = append(o.circuit.statusCodes, codes...)
	}
}

func defaultOptions() *options {
	return &options{
		name:      "upstream",
		logger:    zap.NewNop(),
		transport: http.DefaultTransport,
		circuit: circuitOptions{
			maxRequests: 1,
			timeout:     60 * time.Second,
			tripCount:   5,
		},
		retry: retryOptions{
			maxRetries: 2,
			waitMin:    100 * time.Millisecond,
			waitMax:    5 * time.Second,
		},
	}
}

func newBreaker(o *options, log *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        o.name,
		MaxRequests: o.circuit.maxRequests,
		Interval:    o.circuit.interval,
		Timeout:     o.circuit.timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= o.circuit.tripCount
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			switch to {
			case gobreaker.StateOpen:
				log.Error("circuit has been opened")
			case gobreaker.StateHalfOpen:
				log.Warn("circuit is now half open and letting some requests through", zap.Uint32("max_requests_allowed_through", o.circuit.maxRequests))
			case gobreaker.StateClosed:
				log.Info("circuit has been closed")
			}
		},
	})
}

func newClient(o *options, log *zap.Logger, cb *gobreaker.CircuitBreaker) *http.Client {
	c := &http.Client{
		Timeout: o.timeout,
		Transport: &circuitRoundTripper{
			RoundTripper: otelhttp.NewTransport(o.transport),
			cb:           cb,
			failing:      failingStatus(o.circuit.statusCodes),
		},
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	rc := &retryablehttp.Client{
		HTTPClient:   c,
		Logger:       nil,
		RetryWaitMin: o.retry.waitMin,
		RetryWaitMax: o.retry.waitMax,
		RetryMax:     o.retry.maxRetries,
		RequestLogHook: func(_ retryablehttp.Logger, req *http.Request, attempt int) {
			log.Debug("sending http request", zap.String("url", req.URL.String()), zap.Int("request_attempt_count", attempt))
		},
		ResponseLogHook: func(_ retryablehttp.Logger, resp *http.Response) {
			log.Debug("received http response", zap.String("url", resp.Request.URL.String()), zap.Int("http_status_code", resp.StatusCode))
		},
		CheckRetry:   checkRetry,
		Backoff:      retryablehttp.DefaultBackoff,
		ErrorHandler: retryablehttp.PassthroughErrorHandler,
	}
	return rc.StandardClient()
}

func failingStatus(codes []int) func(int) bool {
	if len(codes) == 0 {
		return func(code int) bool {
			return code >= http.StatusInternalServerError
		}
	}

	set := make(map[int]struct{}, len(codes))
	for _, code := range codes {
		set[code] = struct{}{}
	}
	return func(code int) bool {
		_, ok := set[code]
		return ok
	}
}

func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// statusCodeError carries a response which the breaker should count as
// a failure while still handing it back to the caller.
type statusCodeError struct {
	resp *http.Response
}

func (e statusCodeError) Error() string {
	return "upstream responded with " + e.resp.Status
}

type circuitRoundTripper struct {
	http.RoundTripper
	cb      *gobreaker.CircuitBreaker
	failing func(int) bool
}

func (rt *circuitRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	v, err := rt.cb.Execute(func() (interface{}, error) {
		resp, err := rt.RoundTripper.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		if rt.failing(resp.StatusCode) {
			return nil, statusCodeError{resp: resp}
		}
		return resp, nil
	})

	var serr statusCodeError
	if errors.As(err, &serr) {
		return serr.resp, nil
	}
	if err != nil {
		return nil, err
	}
	return v.(*http.Response), nil
}
