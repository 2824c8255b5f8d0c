// Defines the closed error taxonomy surfaced by the store.

package docstore

import (
	"errors"
	"fmt"
	"strings"
)

// Code classifies a store error.
type Code string

const (
	// CodeFileNotFound is returned when a required file does not exist.
	CodeFileNotFound Code = "FILE_NOT_FOUND"
	// CodeDirectoryNotFound is returned when the root directory is missing.
	CodeDirectoryNotFound Code = "DIRECTORY_NOT_FOUND"
	// CodeIOError is returned when reading or writing a file fails.
	CodeIOError Code = "IO_ERROR"
	// CodeInvalidData is returned when content is not a valid record sequence
	// or a record fails validation.
	CodeInvalidData Code = "INVALID_DATA"
	// CodeRecordNotFound is returned when no record has the requested id.
	CodeRecordNotFound Code = "RECORD_NOT_FOUND"
	// CodeRecordExists is returned when a record with the same id exists.
	CodeRecordExists Code = "RECORD_EXISTS"
	// CodeOperationFailed is returned on precondition violations and lock
	// timeouts. Lock timeouts had no effect and are safe to retry.
	CodeOperationFailed Code = "OPERATION_FAILED"
	// CodeInvalidConfig is returned for bad relation or index declarations.
	CodeInvalidConfig Code = "INVALID_CONFIG"
	// CodeRelationViolation is returned when a RESTRICT relation blocks a
	// delete.
	CodeRelationViolation Code = "RELATION_VIOLATION"
)

// Sentinels for errors.Is. They match any *Error carrying the same code.
var (
	ErrFileNotFound      = &Error{Code: CodeFileNotFound}
	ErrDirectoryNotFound = &Error{Code: CodeDirectoryNotFound}
	ErrIO                = &Error{Code: CodeIOError}
	ErrInvalidData       = &Error{Code: CodeInvalidData}
	ErrRecordNotFound    = &Error{Code: CodeRecordNotFound}
	ErrRecordExists      = &Error{Code: CodeRecordExists}
	ErrOperationFailed   = &Error{Code: CodeOperationFailed}
	ErrInvalidConfig     = &Error{Code: CodeInvalidConfig}
	ErrRelationViolation = &Error{Code: CodeRelationViolation}
)

// Error is the error type returned by every [Store] operation.
type Error struct {
	Code       Code
	Op         string
	Collection string
	ID         string
	Msg        string
	Err        error
}

func newError(code Code, op, collection, id, msg string, err error) *Error {
	return &Error{Code: code, Op: op, Collection: collection, ID: id, Msg: msg, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Code))
	if e.Collection != "" {
		fmt.Fprintf(&b, " collection=%s", e.Collection)
	}
	if e.ID != "" {
		fmt.Fprintf(&b, " id=%s", e.ID)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
