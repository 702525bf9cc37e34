// Package apperr defines the error taxonomy shared across components:
// Transient, Upstream, Contract, and Invariant failures, each mapped to an
// HTTP status at the BFF boundary.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for retry and status-mapping purposes.
type Kind int

const (
	// Transient errors are retryable: network failures, timeouts, 5xx responses,
	// stale-cache misses.
	Transient Kind = iota
	// Upstream errors are non-retryable 4xx responses or malformed payloads.
	Upstream
	// Contract errors name an unknown broker, route, or variable.
	Contract
	// Invariant errors are internal consistency violations that are logged and
	// self-healed rather than surfaced as a normal failure.
	Invariant
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Upstream:
		return "upstream"
	case Contract:
		return "contract"
	case Invariant:
		return "invariant"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind and an identifying subject
// (e.g. the offending broker name or variable name for Contract errors).
type Error struct {
	Kind    Kind
	Subject string
	Err     error
}

func (e *Error) Error() string {
	if e.Subject != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Subject, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an *Error of the given kind.
func New(kind Kind, subject string, err error) *Error {
	return &Error{Kind: kind, Subject: subject, Err: err}
}

// Wrapf constructs an *Error with a formatted message.
func Wrapf(kind Kind, subject, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Subject: subject, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, and Upstream
// otherwise — the conservative default for unclassified failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Upstream
}

// HTTPStatus maps a Kind to the status code the BFF should return, per the
// table in spec.md §7.
func HTTPStatus(kind Kind) int {
	switch kind {
	case Contract:
		return http.StatusBadRequest
	case Transient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
