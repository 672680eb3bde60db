package types

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindAuth        ErrorKind = "auth"
	KindValidation  ErrorKind = "validation"
	KindNotFound    ErrorKind = "not_found"
	KindPersistence ErrorKind = "persistence"
	KindState       ErrorKind = "state"
	// KindInternal reports a failure of the server itself, such as a recovered handler panic.
	KindInternal    ErrorKind = "internal"
)

var (
	// ErrNotFound is returned by the persisters when a user, room or message does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyDeleted is returned when soft-deleting a message that is already flagged.
	ErrAlreadyDeleted = errors.New("already deleted")
)

// Error is the error type surfaced to clients as an "error" event.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError classifies err: sentinel persistence errors keep their meaning, anything else becomes a
// persistence error with the given message.
func WrapError(err error, format string, args ...interface{}) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	kind := KindPersistence
	switch {
	case errors.Is(err, ErrNotFound):
		kind = KindNotFound
	case errors.Is(err, ErrAlreadyDeleted):
		kind = KindState
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err, KindPersistence for errors that were never classified.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrAlreadyDeleted):
		return KindState
	}
	return KindPersistence
}
