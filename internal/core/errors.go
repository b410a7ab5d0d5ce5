package core

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of the error kinds named by the job
// execution subsystem: validation, store, dispatcher, ASR transient, ASR
// permanent, or not-found.
type Kind string

const (
	KindValidation    Kind = "VALIDATION"
	KindStore         Kind = "STORE"
	KindDispatcher    Kind = "DISPATCHER"
	KindASRTransient  Kind = "ASR_TRANSIENT"
	KindASRPermanent  Kind = "ASR_PERMANENT"
	KindNotFound      Kind = "NOT_FOUND"
)

// Error wraps a Kind and the underlying cause so callers can branch on Kind
// with errors.As instead of matching strings.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}

	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New constructs an Error of the given Kind with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of the given Kind wrapping err.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var coreErr *Error

	if errors.As(err, &coreErr) {
		return coreErr.Kind == kind
	}

	return false
}
