package asr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
)

// ErrorKind classifies transcription failures.
type ErrorKind string

const (
	KindNetwork           ErrorKind = "network"
	KindAPI               ErrorKind = "api"
	KindAuth              ErrorKind = "auth"
	KindFileTooLarge      ErrorKind = "file_too_large"
	KindDurationTooLong   ErrorKind = "duration_too_long"
	KindUnsupportedFormat ErrorKind = "unsupported_format"
	KindUnknown           ErrorKind = "unknown"
)

// Error is the typed failure every provider and the orchestrator return.
type Error struct {
	Kind       ErrorKind
	Message    string
	StatusCode int
	Details    any
	Cause      error

	retriable bool
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError builds a non-retriable error.
func NewError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Retriable marks e as eligible for the retry policy.
func (e *Error) Retriable() *Error {
	e.retriable = true
	return e
}

// KindOf returns the kind of the first *Error in the chain, or KindUnknown.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRetriable reports whether err may succeed on another attempt.
func IsRetriable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.retriable
	}
	return false
}

// FromStatus classifies a non-2xx HTTP response. 401/403 map to auth, 413
// to file_too_large; >=500 and 429 are retriable api errors.
func FromStatus(status int, message string, details any) *Error {
	e := &Error{Kind: KindAPI, Message: message, StatusCode: status, Details: details}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Kind = KindAuth
	case status == http.StatusRequestEntityTooLarge:
		e.Kind = KindFileTooLarge
	case status == http.StatusUnsupportedMediaType:
		e.Kind = KindUnsupportedFormat
	case status >= 500 || status == http.StatusTooManyRequests:
		e.retriable = true
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

// FromTransport classifies errors raised before any HTTP status was seen.
// Context cancellation is not retried.
func FromTransport(err error) *Error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NewError(KindNetwork, "request aborted", err)
	}
	e := NewError(KindNetwork, "network error", err)
	if errors.Is(err, syscall.ECONNREFUSED) {
		e.Message = "connection refused"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		e.Message = "request timed out"
	}
	return e.Retriable()
}
