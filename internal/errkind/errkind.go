// Package errkind defines the closed set of error kinds surfaced across the
// gateway core (§7 of the specification) and a structured error type that
// carries a kind, a user-safe message, and retryability alongside the usual
// Go error chain. It mirrors the shape of the teacher's toolerrors.ToolError:
// a small struct that still satisfies the standard error interface and
// supports errors.Is/As through Unwrap, so callers can use stdlib error
// inspection without losing kind/retryable metadata across wrapping.
package errkind

import (
	"errors"
	"fmt"
)

// Kind enumerates the error categories surfaced by the core (§7).
type Kind string

const (
	NotFound           Kind = "NOT_FOUND"
	ConcurrencyConflict Kind = "CONCURRENCY_CONFLICT"
	InvalidState       Kind = "INVALID_STATE"
	ValidationError    Kind = "VALIDATION_ERROR"
	Unauthorized       Kind = "UNAUTHORIZED"
	Forbidden          Kind = "FORBIDDEN"
	TokenExchangeFailed Kind = "TOKEN_EXCHANGE_FAILED"
	UpstreamError      Kind = "UPSTREAM_ERROR"
	Timeout            Kind = "TIMEOUT"
	RateLimited        Kind = "RATE_LIMITED"
	Cancelled          Kind = "CANCELLED"
	Internal           Kind = "INTERNAL_ERROR"
)

// defaultRetryable reports the default retryability for a kind. Callers may override
// per-instance via WithRetryable.
func (k Kind) defaultRetryable() bool {
	switch k {
	case ConcurrencyConflict, TokenExchangeFailed, UpstreamError, Timeout, RateLimited:
		return true
	default:
		return false
	}
}

// Error is a structured gateway error. It is returned by core operations so
// callers (the orchestrator's wire layer, the REST control plane) can map it
// to a stable `{kind, message, retryable}` wire shape without string matching.
type Error struct {
	Kind      Kind
	Message   string
	Retryable bool
	// Path is populated for ValidationError: the JSON pointer of the failing field.
	Path string
	// Cause chains to the underlying error for errors.Is/As and logging.
	Cause error
}

// New constructs an Error of the given kind with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Retryable: kind.defaultRetryable()}
}

// Newf formats a message for New.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap wraps cause as an Error of the given kind, preserving cause in the
// error chain.
func Wrap(kind Kind, cause error, message string) *Error {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &Error{Kind: kind, Message: message, Retryable: kind.defaultRetryable(), Cause: cause}
}

// WithPath attaches a JSON pointer identifying the failing field (ValidationError).
func (e *Error) WithPath(path string) *Error {
	e.Path = path
	return e
}

// WithRetryable overrides the default retryability for this instance.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Path)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is reports whether target is an *Error with the same Kind, so callers can
// write `errors.Is(err, errkind.New(errkind.NotFound, ""))`-style kind checks,
// or more idiomatically use KindOf below.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

// KindOf extracts the Kind from err, defaulting to Internal when err does not
// carry one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if err == nil {
		return ""
	}
	return Internal
}

// IsRetryable reports whether err, if it carries a Kind, is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}
