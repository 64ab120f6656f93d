// Package bioerr defines the error taxonomy shared by every BioIndex
// component: schema/locus parsing, the record store, the catalog, the
// builder, and the planner.
package bioerr

import (
	"errors"
	"fmt"
)

// Code identifies a stable, machine-readable error kind.
type Code string

const (
	MalformedSchema Code = "MalformedSchema"
	UnknownIndex    Code = "UnknownIndex"
	InvalidLocus    Code = "InvalidLocus"
	UnknownLocus    Code = "UnknownLocus"
	MissingKey      Code = "MissingKey"
	ArityMismatch   Code = "ArityMismatch"
	BlobReadError   Code = "BlobReadError"
	CorruptShard    Code = "CorruptShard"
	BuildFailed     Code = "BuildFailed"
	DBError         Code = "DBError"
	ExpiredToken    Code = "ExpiredToken"
	InvalidToken    Code = "InvalidToken"
)

// Error wraps an underlying error with a stable Code and operation context.
type Error struct {
	Code   Code
	Op     string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Op, e.Detail)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Op)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an *Error for the given code and operation.
func New(code Code, op, detail string) *Error {
	return &Error{Code: code, Op: op, Detail: detail}
}

// Wrap builds an *Error carrying an underlying cause.
func Wrap(code Code, op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Op: op, Err: err}
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf extracts the Code from err, or "" if err is not a *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HTTPStatus maps a Code to the status the HTTP façade should return:
// user-input errors → 400; UnknownIndex → 404; ExpiredToken/
// InvalidToken → 410; storage errors → 502 (retriable).
func HTTPStatus(code Code) int {
	switch code {
	case MalformedSchema, InvalidLocus, MissingKey, ArityMismatch:
		return 400
	case UnknownIndex, UnknownLocus:
		return 404
	case ExpiredToken, InvalidToken:
		return 410
	case BlobReadError:
		return 502
	case CorruptShard, BuildFailed, DBError:
		return 500
	default:
		return 500
	}
}
