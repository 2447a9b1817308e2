// Package apperr carries the error taxonomy shared by the cargo services and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for propagation to callers.
type Kind string

const (
	KindNotFound        Kind = "not_found"
	KindValidation      Kind = "validation"
	KindPayloadTooLarge Kind = "payload_too_large"
	KindConflict        Kind = "conflict"
	KindUnauthorized    Kind = "unauthorized"
	KindStorage         Kind = "storage"
)

// Error is a service failure tagged with a dotted code and a kind.
type Error struct {
	code   string
	reason string
	kind   Kind
	err    error
}

func (e *Error) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *Error) Unwrap() error {
	return e.err
}

// Code returns the "<operation>.<reason>" identifier.
func (e *Error) Code() string {
	return e.code
}

// Reason returns the trailing reason segment of the code.
func (e *Error) Reason() string {
	return e.reason
}

// Kind returns the failure classification.
func (e *Error) Kind() Kind {
	return e.kind
}

// New builds an Error for operation with the given reason.
func New(operation, reason string, kind Kind, cause error) error {
	return &Error{
		code:   fmt.Sprintf("%s.%s", operation, reason),
		reason: reason,
		kind:   kind,
		err:    cause,
	}
}

// NotFound is shorthand for New(..., KindNotFound, ...).
func NotFound(operation, reason string, cause error) error {
	return New(operation, reason, KindNotFound, cause)
}

// Validation is shorthand for New(..., KindValidation, ...).
func Validation(operation, reason string, cause error) error {
	return New(operation, reason, KindValidation, cause)
}

// Storage is shorthand for New(..., KindStorage, ...).
func Storage(operation, reason string, cause error) error {
	return New(operation, reason, KindStorage, cause)
}

// KindOf reports the kind of err, defaulting to KindStorage for untagged errors.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.kind
	}
	return KindStorage
}

// As extracts the *Error wrapped in err.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
