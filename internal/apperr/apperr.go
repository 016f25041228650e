// Package apperr defines the fatal error kinds surfaced to operators.
//
// Per-item problems (a malformed asset inside an otherwise valid document, a
// function with no name) never become an *Error: they are logged and skipped
// where they occur. An *Error always means the whole run stops.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a fatal error.
type Kind string

const (
	IoError           Kind = "IO Error"
	ParseError        Kind = "Parse Error"
	FormatError       Kind = "Format Error"
	InvalidInputError Kind = "Invalid Input"
)

// Error is a fatal error with an optional underlying cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IO wraps a filesystem failure.
func IO(err error, format string, args ...any) *Error {
	return &Error{Kind: IoError, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Parse wraps a source syntax failure.
func Parse(err error, format string, args ...any) *Error {
	return &Error{Kind: ParseError, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Format wraps a malformed interchange document.
func Format(err error, format string, args ...any) *Error {
	return &Error{Kind: FormatError, Msg: fmt.Sprintf(format, args...), Err: err}
}

// InvalidInput reports a bad user-supplied value such as a wrong file extension.
func InvalidInput(format string, args ...any) *Error {
	return &Error{Kind: InvalidInputError, Msg: fmt.Sprintf(format, args...)}
}

// Is reports whether err (or anything it wraps) is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// Cause returns the underlying cause of err if err is an *Error, else nil.
func Cause(err error) error {
	var e *Error
	if !errors.As(err, &e) {
		return nil
	}
	return e.Err
}
