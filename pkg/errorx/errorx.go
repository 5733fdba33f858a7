package errorx

import (
	"errors"
	"fmt"
)

// Sentinel errors for programming-contract violations. They are exported so
// callers can detect them with errors.Is.
var (
	// ErrAlreadyReleased - a connection pair was released more than once.
	ErrAlreadyReleased = errors.New("connection pair already released")
	// ErrNoSession - no session is bound to the calling context.
	ErrNoSession = errors.New("no session bound to context")
	// ErrConnectionDiscarded - the single connection a subsession was bound
	// to has been discarded after a failure.
	ErrConnectionDiscarded = errors.New("bound connection has been discarded")
)

// GENERAL ERROR:

// GeneralError - General App Error.
type GeneralError struct {
	message string
	err     error
}

// NewGeneralError - GeneralError constructor.
func NewGeneralError(msg string, args ...any) *GeneralError {
	return &GeneralError{message: fmt.Sprintf(msg, args...), err: nil}
}

// NewGeneralErrorWrapper - GeneralError constructor for wrapper of another error.
func NewGeneralErrorWrapper(err error, msg string, args ...any) *GeneralError {
	return &GeneralError{message: fmt.Sprintf(msg, args...), err: err}
}

// Error - return the error string.
func (ge *GeneralError) Error() string {
	if ge.err != nil {
		return fmt.Sprintf("%s: %v", ge.message, ge.err)
	}

	return ge.message
}

// Unwrap - return the wrapped error, if any.
func (ge *GeneralError) Unwrap() error {
	return ge.err
}

// DATABASE ERROR

// DatabaseError - error raised by the database or the connection supplier.
type DatabaseError struct {
	message string
	err     error
}

// NewDatabaseError - DatabaseError constructor.
func NewDatabaseError(msg string, args ...any) *DatabaseError {
	return &DatabaseError{message: fmt.Sprintf(msg, args...), err: nil}
}

// NewDatabaseErrorWrapper - DatabaseError constructor for wrapper of another error.
func NewDatabaseErrorWrapper(err error, msg string, args ...any) *DatabaseError {
	return &DatabaseError{message: fmt.Sprintf(msg, args...), err: err}
}

// Error - return the error string.
func (de *DatabaseError) Error() string {
	if de.err != nil {
		return fmt.Sprintf("%s: %v", de.message, de.err)
	}

	return de.message
}

// Unwrap - return the wrapped error, if any.
func (de *DatabaseError) Unwrap() error {
	return de.err
}

// SESSION ERROR

// SessionError - error raised by the session scheduler itself, as opposed to
// the database or the supplier behind it.
type SessionError struct {
	message string
	err     error
}

// NewSessionError - SessionError constructor.
func NewSessionError(msg string, args ...any) *SessionError {
	return &SessionError{message: fmt.Sprintf(msg, args...), err: nil}
}

// NewSessionErrorWrapper - SessionError constructor for wrapper of another error.
func NewSessionErrorWrapper(err error, msg string, args ...any) *SessionError {
	return &SessionError{message: fmt.Sprintf(msg, args...), err: err}
}

// Error - return the error string.
func (se *SessionError) Error() string {
	if se.err != nil {
		return fmt.Sprintf("%s: %v", se.message, se.err)
	}

	return se.message
}

// Unwrap - return the wrapped error, if any.
func (se *SessionError) Unwrap() error {
	return se.err
}
