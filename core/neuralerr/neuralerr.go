// Package neuralerr defines the error taxonomy surfaced at the engine
// boundary. Every boundary error carries a stable kind and a free-form
// context string; stack traces never cross the boundary.
package neuralerr

import (
	"errors"
	"fmt"
)

// Kind classifies a boundary error.
type Kind int

const (
	// KindInternal is the fallback for unclassified failures.
	KindInternal Kind = iota

	// KindNotFound indicates a missing brain, fiber, neuron, or synapse.
	KindNotFound

	// KindInvalid indicates schema or field validation failure on input.
	KindInvalid

	// KindConflict indicates a version or constraint conflict that
	// survived retries.
	KindConflict

	// KindBusy indicates contention beyond the retry budget.
	KindBusy

	// KindUnhealthy indicates the brain's store failed an integrity check
	// and refuses writes until rechecked.
	KindUnhealthy
)

var kindNames = map[Kind]string{
	KindInternal:  "internal",
	KindNotFound:  "not_found",
	KindInvalid:   "invalid",
	KindConflict:  "conflict",
	KindBusy:      "busy",
	KindUnhealthy: "unhealthy",
}

// String returns the stable wire name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Error is a classified boundary error.
type Error struct {
	Kind    Kind
	Op      string
	Context string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Context != "" {
		msg += ": " + e.Context
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches two boundary errors by kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// New creates a classified error with formatted context.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Context: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// NotFound creates a KindNotFound error.
func NotFound(op, format string, args ...any) *Error {
	return New(KindNotFound, op, format, args...)
}

// Invalid creates a KindInvalid error.
func Invalid(op, format string, args ...any) *Error {
	return New(KindInvalid, op, format, args...)
}

// Conflict creates a KindConflict error.
func Conflict(op, format string, args ...any) *Error {
	return New(KindConflict, op, format, args...)
}

// Busy creates a KindBusy error.
func Busy(op, format string, args ...any) *Error {
	return New(KindBusy, op, format, args...)
}

// Internal wraps an unclassified failure.
func Internal(op string, err error) *Error {
	return Wrap(KindInternal, op, err)
}

// KindOf extracts the kind of an error, defaulting to KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether the error carries the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
