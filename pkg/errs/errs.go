// Package errs defines the typed error taxonomy shared by the core and the
// HTTP layer. The core returns these kinds; the API layer maps them to
// response codes without inspecting messages.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers.
type Kind string

const (
	// KindNotFound means a referenced entity is absent or soft-deleted.
	KindNotFound Kind = "NOT_FOUND"
	// KindConflict means the request would violate an invariant
	// (duplicate fqn, pending proposal exists, version not increasing,
	// stale base contract).
	KindConflict Kind = "CONFLICT"
	// KindValidation means a malformed schema, version, mode, or payload.
	KindValidation Kind = "VALIDATION_ERROR"
	// KindForbidden means the actor lacks scope or is outside the
	// proposal's snapshot set.
	KindForbidden Kind = "FORBIDDEN"
	// KindBrokenContract means diff/classify input could not be parsed.
	KindBrokenContract Kind = "BROKEN_CONTRACT"
	// KindInternal means a store or adapter failure.
	KindInternal Kind = "INTERNAL"
)

// Error carries a kind, a human-readable message, and optional details
// surfaced verbatim in the API error envelope.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *Error) Unwrap() error { return e.cause }

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying cause.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: err}
}

// WithDetails returns a copy of e carrying structured details.
func (e *Error) WithDetails(details map[string]any) *Error {
	clone := *e
	clone.Details = details
	return &clone
}

// KindOf returns the kind of err, or KindInternal for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// NotFound is shorthand for New(KindNotFound, ...).
func NotFound(message string) *Error { return New(KindNotFound, message) }

// Conflict is shorthand for New(KindConflict, ...).
func Conflict(message string) *Error { return New(KindConflict, message) }

// Validation is shorthand for New(KindValidation, ...).
func Validation(message string) *Error { return New(KindValidation, message) }

// Forbidden is shorthand for New(KindForbidden, ...).
func Forbidden(message string) *Error { return New(KindForbidden, message) }
