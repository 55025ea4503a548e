// File: api/errors.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Typed error values for hioload-aio. Configuration and allocation
// failures are returned synchronously at the call site; I/O failures on
// asynchronous requests are held by the completion tracker and surface
// from Wait. Errors never go to the console.

package api

import (
	"errors"
	"fmt"
)

// Sentinel errors. Each terminal failure produced by the library matches
// exactly one of these through errors.Is, regardless of wrapping depth.
var (
	ErrDeviceNotLoaded      = errors.New("no device loaded")
	ErrBackendLoad          = errors.New("backend load failure")
	ErrAllocation           = errors.New("locked buffer allocation failed")
	ErrSizeMismatch         = errors.New("size mismatch")
	ErrValidation           = errors.New("post-transfer validation failed")
	ErrIO                   = errors.New("i/o failure")
	ErrExcessReference      = errors.New("buffer has outstanding references")
	ErrReconfigureWhileBusy = errors.New("reconfiguration attempted with requests outstanding")
	ErrInvalidArgument      = errors.New("invalid argument")
)

// ErrorCode identifies the failure class of a structured *Error.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeDeviceNotLoaded
	ErrCodeBackendLoad
	ErrCodeAllocation
	ErrCodeSizeMismatch
	ErrCodeValidation
	ErrCodeIO
	ErrCodeExcessReference
	ErrCodeReconfigureWhileBusy
	ErrCodeInvalidArgument
)

// sentinel maps a code to its package-level sentinel error.
func (c ErrorCode) sentinel() error {
	switch c {
	case ErrCodeDeviceNotLoaded:
		return ErrDeviceNotLoaded
	case ErrCodeBackendLoad:
		return ErrBackendLoad
	case ErrCodeAllocation:
		return ErrAllocation
	case ErrCodeSizeMismatch:
		return ErrSizeMismatch
	case ErrCodeValidation:
		return ErrValidation
	case ErrCodeIO:
		return ErrIO
	case ErrCodeExcessReference:
		return ErrExcessReference
	case ErrCodeReconfigureWhileBusy:
		return ErrReconfigureWhileBusy
	case ErrCodeInvalidArgument:
		return ErrInvalidArgument
	default:
		return nil
	}
}

// String returns the short name of the code.
func (c ErrorCode) String() string {
	if s := c.sentinel(); s != nil {
		return s.Error()
	}
	return "ok"
}

// Error is a structured error with a failure class, a message, optional
// key/value context (path, offset, token, ...) and an optional cause.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.cause)
	}
	if len(e.Context) == 0 {
		return msg
	}
	return fmt.Sprintf("%s (context: %+v)", msg, e.Context)
}

// Unwrap exposes both the code sentinel and the cause, so that
// errors.Is(err, ErrIO) and errors.Is(err, os-level error) both hold.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if s := e.Code.sentinel(); s != nil {
		out = append(out, s)
	}
	if e.cause != nil {
		out = append(out, e.cause)
	}
	return out
}

// NewError creates a structured error of the given class.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError creates a structured error of the given class caused by err.
func WrapError(code ErrorCode, err error, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// WithContext attaches context information and returns the same error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}
