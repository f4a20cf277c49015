// Package errs defines the error taxonomy shared by the wapplibre core.
//
// Every failure that crosses a component boundary is an *Error carrying one
// of four codes. NotFound, Conflict and Validation are surfaced to the
// caller as the result of the operation and never retried. Transient marks
// I/O failures against a backing store; the propagation worker retries them
// and the write pipeline swallows them for its best-effort steps.
package errs

import (
	"errors"
	"fmt"
)

// Code categorizes core errors.
type Code string

const (
	// CodeNotFound indicates a missing schema, entity or reference.
	CodeNotFound Code = "NOT_FOUND"

	// CodeConflict indicates a duplicate primary key on insert.
	CodeConflict Code = "CONFLICT"

	// CodeValidation indicates a malformed identifier, payload or query.
	CodeValidation Code = "VALIDATION_ERROR"

	// CodeTransient indicates an I/O failure against a backing store.
	CodeTransient Code = "TRANSIENT_STORE_ERROR"
)

// Error is a categorized core error.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NotFound creates a NOT_FOUND error.
func NotFound(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Conflict creates a CONFLICT error.
func Conflict(format string, args ...any) *Error {
	return &Error{Code: CodeConflict, Message: fmt.Sprintf(format, args...)}
}

// Validation creates a VALIDATION_ERROR.
func Validation(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// Transient wraps a backing-store failure of the named operation.
func Transient(op string, err error) *Error {
	return &Error{Code: CodeTransient, Message: op, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain.
// Errors outside the taxonomy are reported as Transient.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeTransient
}

// IsNotFound returns true if err is a NOT_FOUND error.
// Uses errors.As to handle wrapped errors.
func IsNotFound(err error) bool {
	return is(err, CodeNotFound)
}

// IsConflict returns true if err is a CONFLICT error.
func IsConflict(err error) bool {
	return is(err, CodeConflict)
}

// IsValidation returns true if err is a VALIDATION_ERROR.
func IsValidation(err error) bool {
	return is(err, CodeValidation)
}

// IsTransient returns true if err is a TRANSIENT_STORE_ERROR.
func IsTransient(err error) bool {
	return is(err, CodeTransient)
}

func is(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}
