// Package errors provides structured error types for kmpindex.
//
// Error codes separate the three failure classes the pipeline cares about:
//   - transient external failures (NETWORK_ERROR, TIMEOUT, RATE_LIMITED),
//     which are recorded against a queue row or backoff entry and retried later
//   - integrity failures (INTEGRITY), where an entity that should exist does not
//   - configuration and programmer errors (CONFIG, UNSUPPORTED, INVALID_*),
//     which fail the unit of work loudly
//
// # Usage
//
//	err := errors.New(errors.ErrCodeUnsupported, "request %d has no version", id)
//	if errors.Is(err, errors.ErrCodeUnsupported) {
//	    // ...
//	}
//
//	err := errors.Wrap(errors.ErrCodeNetwork, origErr, "fetch %s", url)
package errors

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"
)

// Code represents a machine-readable error code.
type Code string

// Error codes for different error categories.
const (
	// Input validation errors
	ErrCodeInvalidInput      Code = "INVALID_INPUT"
	ErrCodeInvalidCoordinate Code = "INVALID_COORDINATE"
	ErrCodeInvalidDescriptor Code = "INVALID_DESCRIPTOR"

	// Resource not found errors
	ErrCodeNotFound Code = "NOT_FOUND"

	// Network errors
	ErrCodeNetwork     Code = "NETWORK_ERROR"
	ErrCodeTimeout     Code = "TIMEOUT"
	ErrCodeRateLimited Code = "RATE_LIMITED"

	// Data integrity errors
	ErrCodeIntegrity Code = "INTEGRITY"

	// Configuration and programmer errors
	ErrCodeConfig      Code = "CONFIG"
	ErrCodeUnsupported Code = "UNSUPPORTED"
	ErrCodeInternal    Code = "INTERNAL_ERROR"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Human-readable message
	Cause   error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Is reports whether err has the given error code.
// It unwraps the error chain looking for an *Error with a matching code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error, if available.
// A *RateLimitedError reports RATE_LIMITED. Returns empty string for
// errors without a code.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.Code()
	}
	return ""
}

// IsTransient reports whether err is an environmental failure that is expected
// to clear up on its own: network errors, timeouts and rate limits.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	switch GetCode(err) {
	case ErrCodeNetwork, ErrCodeTimeout, ErrCodeRateLimited:
		return true
	}
	return false
}

// Message returns the error text suitable for persisting next to a failed
// entity. For *Error it omits the code prefix; messages longer than max
// bytes are truncated at a rune boundary.
func Message(err error, max int) string {
	var msg string
	var e *Error
	if errors.As(err, &e) && e.Cause == nil {
		msg = e.Message
	} else {
		msg = err.Error()
	}
	if max > 0 && len(msg) > max {
		i := max
		for i > 0 && !utf8.RuneStart(msg[i]) {
			i--
		}
		msg = msg[:i]
	}
	return msg
}

// RateLimitedError provides additional information for rate-limited responses.
type RateLimitedError struct {
	RetryAfter int // Seconds to wait before retrying
	Message    string
}

// Error implements the error interface.
func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited: retry after %d seconds", e.RetryAfter)
	}
	return "rate limited"
}

// Code returns the error code for this error type.
func (e *RateLimitedError) Code() Code {
	return ErrCodeRateLimited
}
