// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package try provides deferrable helpers for recovering panics and
// closing resources without losing errors.
package try

import (
	"errors"
	"fmt"
	"io"
)

// PanicError wraps a value recovered from a panic.
type PanicError struct {
	Value any
}

// Error implements the [error] interface.
func (e PanicError) Error() string {
	return fmt.Sprintf("recovered from panic: %v", e.Value)
}

// Unwrap returns the recovered value if it is an error.
func (e PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// Recover must be deferred. It converts a panic into a [PanicError]
// which is joined with any error already stored in err.
func Recover(err *error) {
	r := recover()
	if r == nil {
		return
	}

	perr := PanicError{
		Value: r,
	}
	if *err == nil {
		*err = perr
		return
	}
	*err = errors.Join(*err, perr)
}

// CloseError wraps the error returned from closing a resource.
type CloseError struct {
	Cause error
}

// Error implements the [error] interface.
func (e CloseError) Error() string {
	return fmt.Sprintf("failed to close: %s", e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e CloseError) Unwrap() error {
	return e.Cause
}

// Close closes v if it implements [io.Closer] and joins any resulting
// [CloseError] with err.
func Close(err *error, v any) {
	c, ok := v.(io.Closer)
	if !ok {
		return
	}

	cerr := c.Close()
	if cerr == nil {
		return
	}

	cerr = CloseError{Cause: cerr}
	if *err == nil {
		*err = cerr
		return
	}
	*err = errors.Join(*err, cerr)
}
