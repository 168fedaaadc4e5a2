package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure for callers and for the HTTP layer.
type ErrorKind int

const (
	// KindUnexpected is any failure not covered by the kinds below.
	KindUnexpected ErrorKind = iota
	// KindInvalidInput marks missing or malformed fields. Never retried.
	KindInvalidInput
	// KindNotFound marks an absent referenced entity.
	KindNotFound
	// KindInvalidState marks an operation not legal for the current status.
	KindInvalidState
	// KindAuthorizationDenied marks a denied agent action. Kept distinct
	// from KindNotFound even when the underlying cause is a missing agent
	// or scope, so audit logging stays uniform.
	KindAuthorizationDenied
)

// Error is a kind-carrying domain error.
type Error struct {
	Kind ErrorKind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

// NewInvalidInput reports missing or malformed caller input.
func NewInvalidInput(format string, args ...any) error {
	return &Error{Kind: KindInvalidInput, msg: fmt.Sprintf(format, args...)}
}

// NewNotFound reports an absent entity.
func NewNotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, msg: fmt.Sprintf(format, args...)}
}

// NewInvalidState reports an operation not legal for the entity's status.
func NewInvalidState(format string, args ...any) error {
	return &Error{Kind: KindInvalidState, msg: fmt.Sprintf(format, args...)}
}

// NewDenied reports an authorization denial.
func NewDenied(format string, args ...any) error {
	return &Error{Kind: KindAuthorizationDenied, msg: fmt.Sprintf(format, args...)}
}

// WrapUnexpected wraps an infrastructure failure with context.
func WrapUnexpected(err error, format string, args ...any) error {
	return &Error{Kind: KindUnexpected, msg: fmt.Sprintf(format, args...), err: err}
}

// KindOf extracts the kind from err, defaulting to KindUnexpected.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnexpected
}

// IsNotFound reports whether err carries KindNotFound.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsInvalidState reports whether err carries KindInvalidState.
func IsInvalidState(err error) bool { return KindOf(err) == KindInvalidState }

// IsInvalidInput reports whether err carries KindInvalidInput.
func IsInvalidInput(err error) bool { return KindOf(err) == KindInvalidInput }

// IsDenied reports whether err carries KindAuthorizationDenied.
func IsDenied(err error) bool { return KindOf(err) == KindAuthorizationDenied }
