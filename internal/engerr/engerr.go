// Package engerr defines the error taxonomy shared by every engram
// component. Every fallible operation in the core returns an error whose
// kind can be recovered with errors.As, so callers at the RPC/CLI boundary
// can map it to the right status code without re-deriving the kind from
// string matching.
package engerr

import (
	"errors"
	"fmt"
)

// Kind is one of the six error categories the core distinguishes.
type Kind int

const (
	// InvalidInput covers malformed UUIDs, empty content, content over the
	// size limit, and out-of-range FSRS ratings. Never retried.
	InvalidInput Kind = iota
	// NotFound covers references to nodes, connections, or intentions that
	// do not exist.
	NotFound
	// Conflict covers a concurrent mutation detected via row version; the
	// caller may retry.
	Conflict
	// ResourceUnavailable covers an embedder or vector-index call that
	// timed out or is not ready. Callers are expected to degrade locally.
	ResourceUnavailable
	// IntegrityViolation covers a broken invariant from the data model.
	// Fatal until an operator-run repair pass completes.
	IntegrityViolation
	// InternalError covers everything else: disk full, schema mismatch,
	// marshalling failures.
	InternalError
)

func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "invalid_input"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case ResourceUnavailable:
		return "resource_unavailable"
	case IntegrityViolation:
		return "integrity_violation"
	case InternalError:
		return "internal_error"
	default:
		return "unknown"
	}
}

// Error is the concrete error type carried through the core. It wraps an
// optional cause and always has a Kind.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is allows errors.Is(err, engerr.ErrNotFound) style checks against the
// per-Kind sentinel errors defined below, without a type assertion at every
// call site.
func (e *Error) Is(target error) bool {
	sentinel, ok := target.(*sentinelError)
	if !ok {
		return false
	}
	return e.Kind == sentinel.kind
}

type sentinelError struct{ kind Kind }

func (s *sentinelError) Error() string { return s.kind.String() }

// Sentinels for errors.Is comparisons, e.g. errors.Is(err, engerr.ErrNotFound).
var (
	ErrInvalidInput         error = &sentinelError{InvalidInput}
	ErrNotFound             error = &sentinelError{NotFound}
	ErrConflict             error = &sentinelError{Conflict}
	ErrResourceUnavailable  error = &sentinelError{ResourceUnavailable}
	ErrIntegrityViolation   error = &sentinelError{IntegrityViolation}
	ErrInternalError        error = &sentinelError{InternalError}
)

// New constructs an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error of the given kind around an existing cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Invalid is shorthand for New(InvalidInput, ...).
func Invalid(format string, args ...any) *Error {
	return New(InvalidInput, fmt.Sprintf(format, args...))
}

// NotFoundf is shorthand for New(NotFound, ...).
func NotFoundf(format string, args ...any) *Error {
	return New(NotFound, fmt.Sprintf(format, args...))
}

// KindOf extracts the Kind from err, defaulting to InternalError if err is
// not (or does not wrap) an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return InternalError
}

// Retryable reports whether the error kind the caller should retry
// (currently only Conflict).
func Retryable(err error) bool {
	return KindOf(err) == Conflict
}
