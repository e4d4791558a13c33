// Package bridgeerr defines the stable error kinds shared by the task engine,
// repository store, messaging, blob store, and identity components. Handlers
// map kinds to HTTP status codes; everything that is not one of these kinds
// is reported as Internal.
package bridgeerr

import (
	"errors"
	"fmt"
)

// Kind is a stable, documented error code.
type Kind string

const (
	NotFound          Kind = "not_found"
	InvalidTransition Kind = "invalid_transition"
	DependencyUnmet   Kind = "dependency_unmet"
	CycleDetected     Kind = "cycle_detected"
	AlreadyExists     Kind = "already_exists"
	InvalidOperation  Kind = "invalid_operation"
	Busy              Kind = "busy"
	Unauthenticated   Kind = "unauthenticated"
	Forbidden         Kind = "forbidden"
	Internal          Kind = "internal"
)

// Error carries a kind, a human-readable message, and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// E builds an error of the given kind.
func E(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf classifies err. A nil error has no kind; any error that is not a
// *Error is Internal (storage and other unexpected failures).
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// IsKind reports whether err classifies as kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
