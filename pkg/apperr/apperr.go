// Package apperr defines the typed error taxonomy shared by the service
// layer. Every validation failure is one of a small set of kinds which the
// HTTP layer maps onto status codes.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the caller.
type Kind int

const (
	// KindNotFound covers both "does not exist" and "belongs to another
	// tenant"; the two are indistinguishable to the caller on purpose.
	KindNotFound Kind = iota + 1
	// KindConflict is a uniqueness violation.
	KindConflict
	// KindBadRequest is an invalid state transition or invalid input.
	KindBadRequest
	// KindUnauthorized is reserved for the identity layer.
	KindUnauthorized
)

// Error carries a kind and a human-readable message.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// NotFound returns a KindNotFound error.
func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Conflict returns a KindConflict error.
func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// BadRequest returns a KindBadRequest error.
func BadRequest(format string, args ...any) *Error {
	return &Error{Kind: KindBadRequest, Message: fmt.Sprintf(format, args...)}
}

// Unauthorized returns a KindUnauthorized error.
func Unauthorized(format string, args ...any) *Error {
	return &Error{Kind: KindUnauthorized, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind from err, or 0 if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsNotFound reports whether err is a KindNotFound error.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsConflict reports whether err is a KindConflict error.
func IsConflict(err error) bool { return KindOf(err) == KindConflict }

// IsBadRequest reports whether err is a KindBadRequest error.
func IsBadRequest(err error) bool { return KindOf(err) == KindBadRequest }
