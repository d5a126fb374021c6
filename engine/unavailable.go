// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package engine

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnsupported is returned by every serve call of an [UnavailableEngine].
var ErrUnsupported = errors.New("engine: native http serving is not supported on this host")

// UnsupportedError explains why an [UnavailableEngine] can not serve.
type UnsupportedError struct {
	Reason error
}

// Error implements the [error] interface.
func (e UnsupportedError) Error() string {
	if e.Reason == nil {
		return ErrUnsupported.Error()
	}
	return fmt.Sprintf("%s: %s", ErrUnsupported, e.Reason)
}

// Is reports whether target is [ErrUnsupported].
func (e UnsupportedError) Is(target error) bool {
	return target == ErrUnsupported
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e UnsupportedError) Unwrap() error {
	return e.Reason
}

// UnavailableEngine stands in for an engine on hosts which can not serve.
type UnavailableEngine struct {
	reason error
}

// Unavailable returns an [Engine] which refuses to serve.
func Unavailable(reason error) UnavailableEngine {
	return UnavailableEngine{reason: reason}
}

// Supported implements the [Engine] interface.
func (UnavailableEngine) Supported() bool {
	return false
}

// ServePlain implements the [Engine] interface.
func (e UnavailableEngine) ServePlain(_ context.Context, _ Handler, _ Options) error {
	return UnsupportedError{Reason: e.reason}
}

// ServeTLS implements the [Engine] interface.
func (e UnavailableEngine) ServeTLS(_ context.Context, _ Handler, _ TLSOptions) error {
	return UnsupportedError{Reason: e.reason}
}

var _ Engine = UnavailableEngine{}
