// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package engine

import (
	"crypto/sha256"
	"crypto/tls"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// KeyPairError occurs when a PEM encoded certificate and key can not be
// loaded as a TLS key pair.
type KeyPairError struct {
	Cause error
}

// Error implements the [error] interface.
func (e KeyPairError) Error() string {
	return fmt.Sprintf("failed to load tls key pair: %s", e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e KeyPairError) Unwrap() error {
	return e.Cause
}

type keyPairKey [sha256.Size]byte

// keyPairCache avoids re-parsing the same PEM data every time a server
// is started with it.
type keyPairCache struct {
	pairs *lru.Cache[keyPairKey, tls.Certificate]
}

func newKeyPairCache(size int) *keyPairCache {
	// lru.New only fails for a non-positive size
	pairs, err := lru.New[keyPairKey, tls.Certificate](max(size, 1))
	if err != nil {
		panic(err)
	}
	return &keyPairCache{pairs: pairs}
}

func (c *keyPairCache) get(certPEM, keyPEM []byte) (tls.Certificate, error) {
	h := sha256.New()
	h.Write(certPEM)
	h.Write([]byte{0})
	h.Write(keyPEM)

	var k keyPairKey
	copy(k[:], h.Sum(nil))

	if cert, ok := c.pairs.Get(k); ok {
		return cert, nil
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, KeyPairError{Cause: err}
	}
	c.pairs.Add(k, cert)
	return cert, nil
}

func (c *keyPairCache) len() int {
	return c.pairs.Len()
}
