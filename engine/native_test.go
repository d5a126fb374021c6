// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package engine

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/z5labs/pullserve/future"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// createTestKeyPair dynamically generates a self-signed PEM encoded
// certificate and key for testing
func createTestKeyPair(t *testing.T) ([]byte, []byte) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName: "localhost",
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	require.NoError(t, err)

	keyDER, err := x509.MarshalECPrivateKey(privateKey)
	require.NoError(t, err)

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM
}

type serving struct {
	addr   Addr
	cancel context.CancelFunc
	errCh  chan error
}

func (s serving) url(scheme, path string) string {
	return fmt.Sprintf("%s://127.0.0.1:%d%s", scheme, s.addr.Port, path)
}

func (s serving) stop(t *testing.T) {
	s.cancel()
	select {
	case err := <-s.errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop serving")
	}
}

func startServing(t *testing.T, serve func(context.Context, Options) error, opts Options) serving {
	ctx, cancel := context.WithCancel(context.Background())

	bound := make(chan Addr, 1)
	opts.Hostname = "127.0.0.1"
	opts.OnListen = func(a Addr) {
		bound <- a
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- serve(ctx, opts)
	}()

	select {
	case a := <-bound:
		return serving{addr: a, cancel: cancel, errCh: errCh}
	case err := <-errCh:
		cancel()
		t.Fatalf("engine failed to start: %s", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("engine never bound")
	}
	return serving{}
}

func readBody(t *testing.T, resp *http.Response) string {
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestNativeEngine_ServePlain(t *testing.T) {
	t.Run("will bind a non-zero port", func(t *testing.T) {
		t.Run("if port 0 is requested", func(t *testing.T) {
			e := Native()
			h := HandlerFunc(func(r *http.Request) *future.Future[*Response] {
				return future.Resolved(TextResponse(http.StatusOK, "hello"))
			})

			s := startServing(t, func(ctx context.Context, opts Options) error {
				return e.ServePlain(ctx, h, opts)
			}, Options{Port: 0})
			defer s.stop(t)

			if !assert.NotZero(t, s.addr.Port) {
				return
			}
			if !assert.Equal(t, "127.0.0.1", s.addr.Hostname) {
				return
			}
		})
	})

	t.Run("will write the resolved response", func(t *testing.T) {
		t.Run("if the handler future resolves later", func(t *testing.T) {
			e := Native()
			h := HandlerFunc(func(r *http.Request) *future.Future[*Response] {
				f, p := future.New[*Response]()
				go func() {
					time.Sleep(10 * time.Millisecond)
					resp := TextResponse(http.StatusCreated, "created "+r.URL.Path)
					resp.Header.Set("X-Test", "yes")
					p.Resolve(resp)
				}()
				return f
			})

			s := startServing(t, func(ctx context.Context, opts Options) error {
				return e.ServePlain(ctx, h, opts)
			}, Options{})
			defer s.stop(t)

			resp, err := http.Get(s.url("http", "/abc"))
			if !assert.Nil(t, err) {
				return
			}
			if !assert.Equal(t, http.StatusCreated, resp.StatusCode) {
				return
			}
			if !assert.Equal(t, "yes", resp.Header.Get("X-Test")) {
				return
			}
			if !assert.Equal(t, "created /abc", readBody(t, resp)) {
				return
			}
		})
	})

	t.Run("will call OnError once", func(t *testing.T) {
		t.Run("if the handler future is rejected", func(t *testing.T) {
			e := Native()

			handlerErr := errors.New("failed to handle")
			h := HandlerFunc(func(r *http.Request) *future.Future[*Response] {
				if r.URL.Path == "/fail" {
					return future.Rejected[*Response](handlerErr)
				}
				return future.Resolved(TextResponse(http.StatusOK, "ok"))
			})

			var calls atomic.Int32
			var gotErr atomic.Value
			s := startServing(t, func(ctx context.Context, opts Options) error {
				return e.ServePlain(ctx, h, opts)
			}, Options{
				OnError: func(ctx context.Context, err error) *Response {
					calls.Add(1)
					gotErr.Store(err)
					return TextResponse(http.StatusInternalServerError, "")
				},
			})
			defer s.stop(t)

			resp, err := http.Get(s.url("http", "/fail"))
			if !assert.Nil(t, err) {
				return
			}
			if !assert.Equal(t, http.StatusInternalServerError, resp.StatusCode) {
				return
			}
			if !assert.Equal(t, "Internal Server Error", readBody(t, resp)) {
				return
			}

			resp, err = http.Get(s.url("http", "/ok"))
			if !assert.Nil(t, err) {
				return
			}
			if !assert.Equal(t, http.StatusOK, resp.StatusCode) {
				return
			}
			readBody(t, resp)

			if !assert.Equal(t, int32(1), calls.Load()) {
				return
			}
			if !assert.ErrorIs(t, gotErr.Load().(error), handlerErr) {
				return
			}
		})

		t.Run("if the handler resolves without a response", func(t *testing.T) {
			e := Native()
			h := HandlerFunc(func(r *http.Request) *future.Future[*Response] {
				return future.Resolved[*Response](nil)
			})

			var gotErr atomic.Value
			s := startServing(t, func(ctx context.Context, opts Options) error {
				return e.ServePlain(ctx, h, opts)
			}, Options{
				OnError: func(ctx context.Context, err error) *Response {
					gotErr.Store(err)
					return TextResponse(http.StatusInternalServerError, "")
				},
			})
			defer s.stop(t)

			resp, err := http.Get(s.url("http", "/"))
			if !assert.Nil(t, err) {
				return
			}
			readBody(t, resp)
			if !assert.Equal(t, http.StatusInternalServerError, resp.StatusCode) {
				return
			}
			if !assert.ErrorIs(t, gotErr.Load().(error), ErrNoResponse) {
				return
			}
		})
	})

	t.Run("will return a BindError", func(t *testing.T) {
		t.Run("if the address is already in use", func(t *testing.T) {
			ls, err := net.Listen("tcp", "127.0.0.1:0")
			if !assert.Nil(t, err) {
				return
			}
			defer ls.Close()

			port := ls.Addr().(*net.TCPAddr).Port

			e := Native()
			err = e.ServePlain(context.Background(), nil, Options{Hostname: "127.0.0.1", Port: port})

			var berr BindError
			if !assert.ErrorAs(t, err, &berr) {
				return
			}
			if !assert.NotEmpty(t, berr.Error()) {
				return
			}
			if !assert.True(t, strings.HasSuffix(berr.Addr, fmt.Sprintf(":%d", port))) {
				return
			}
		})
	})
}

func TestNativeEngine_ServeTLS(t *testing.T) {
	t.Run("will serve https", func(t *testing.T) {
		t.Run("if a valid cert and key are given", func(t *testing.T) {
			certPEM, keyPEM := createTestKeyPair(t)

			e := Native()
			h := HandlerFunc(func(r *http.Request) *future.Future[*Response] {
				return future.Resolved(TextResponse(http.StatusOK, "secure"))
			})

			s := startServing(t, func(ctx context.Context, opts Options) error {
				return e.ServeTLS(ctx, h, TLSOptions{Options: opts, Cert: certPEM, Key: keyPEM})
			}, Options{})
			defer s.stop(t)

			client := &http.Client{
				Transport: &http.Transport{
					TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
				},
			}
			resp, err := client.Get(s.url("https", "/"))
			if !assert.Nil(t, err) {
				return
			}
			if !assert.NotNil(t, resp.TLS) {
				return
			}
			if !assert.Equal(t, "secure", readBody(t, resp)) {
				return
			}
			if !assert.Equal(t, 1, e.keyPairs.len()) {
				return
			}
		})
	})

	t.Run("will return a KeyPairError", func(t *testing.T) {
		t.Run("if the cert and key are not valid PEM", func(t *testing.T) {
			e := Native()

			err := e.ServeTLS(context.Background(), nil, TLSOptions{
				Cert: []byte("not a cert"),
				Key:  []byte("not a key"),
			})

			var kerr KeyPairError
			if !assert.ErrorAs(t, err, &kerr) {
				return
			}
			if !assert.NotEmpty(t, kerr.Error()) {
				return
			}
		})
	})
}

func TestKeyPairCacheSize(t *testing.T) {
	t.Run("will evict older key pairs", func(t *testing.T) {
		t.Run("if more pairs are used than the cache holds", func(t *testing.T) {
			e := Native(KeyPairCacheSize(1))

			certA, keyA := createTestKeyPair(t)
			certB, keyB := createTestKeyPair(t)

			_, err := e.keyPairs.get(certA, keyA)
			require.NoError(t, err)
			_, err = e.keyPairs.get(certB, keyB)
			require.NoError(t, err)

			if !assert.Equal(t, 1, e.keyPairs.len()) {
				return
			}
		})
	})

	t.Run("will keep the default size", func(t *testing.T) {
		t.Run("if the size is not positive", func(t *testing.T) {
			e := Native(KeyPairCacheSize(0))

			certA, keyA := createTestKeyPair(t)
			certB, keyB := createTestKeyPair(t)

			_, err := e.keyPairs.get(certA, keyA)
			require.NoError(t, err)
			_, err = e.keyPairs.get(certB, keyB)
			require.NoError(t, err)

			if !assert.Equal(t, 2, e.keyPairs.len()) {
				return
			}
		})
	})
}

func TestOperationName(t *testing.T) {
	t.Run("will name request spans", func(t *testing.T) {
		t.Run("if an operation name is configured", func(t *testing.T) {
			recorder := tracetest.NewSpanRecorder()
			tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

			prev := otel.GetTracerProvider()
			otel.SetTracerProvider(tp)
			defer otel.SetTracerProvider(prev)

			e := Native(OperationName("checkout"))
			h := HandlerFunc(func(r *http.Request) *future.Future[*Response] {
				return future.Resolved(TextResponse(http.StatusOK, "ok"))
			})

			s := startServing(t, func(ctx context.Context, opts Options) error {
				return e.ServePlain(ctx, h, opts)
			}, Options{})
			defer s.stop(t)

			resp, err := http.Get(s.url("http", "/"))
			require.NoError(t, err)
			readBody(t, resp)

			named := func() bool {
				for _, span := range recorder.Ended() {
					if span.Name() == "checkout" {
						return true
					}
				}
				return false
			}
			if !assert.Eventually(t, named, 5*time.Second, 10*time.Millisecond) {
				return
			}
		})
	})
}

func TestKeyPairCache_Get(t *testing.T) {
	t.Run("will reuse a parsed key pair", func(t *testing.T) {
		t.Run("if the same PEM data is given again", func(t *testing.T) {
			certPEM, keyPEM := createTestKeyPair(t)
			c := newKeyPairCache(2)

			a, err := c.get(certPEM, keyPEM)
			if !assert.Nil(t, err) {
				return
			}
			b, err := c.get(certPEM, keyPEM)
			if !assert.Nil(t, err) {
				return
			}

			if !assert.Equal(t, a.Certificate, b.Certificate) {
				return
			}
			if !assert.Equal(t, 1, c.len()) {
				return
			}
		})
	})
}
