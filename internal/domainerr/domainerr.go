// Package domainerr defines the closed error-kind taxonomy surfaced to
// clients as server_error messages and used to decide connection teardown.
package domainerr

import (
	"errors"
	"fmt"
)

// Kind is one of the eight error categories the server distinguishes.
type Kind string

const (
	Authentication  Kind = "authentication"
	Validation      Kind = "validation"
	SessionNotFound Kind = "session-not-found"
	AudioProcessing Kind = "audio-processing"
	STT             Kind = "stt"
	Agent           Kind = "agent"
	Connection      Kind = "connection"
	Internal        Kind = "internal"
)

// defaultRetriable reports whether a kind is retriable in the absence of a
// more specific classification (e.g. stt errors override this per-instance
// depending on whether the failure was transport or auth/protocol).
var defaultRetriable = map[Kind]bool{
	Authentication:  false,
	Validation:      true,
	SessionNotFound: false,
	AudioProcessing: true,
	STT:             true,
	Agent:           true,
	Connection:      true,
	Internal:        false,
}

// Error is a domain error tagged with a Kind and a retriable flag.
type Error struct {
	Kind      Kind
	Retriable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err under kind using that kind's default retriability.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Retriable: defaultRetriable[kind], Err: err}
}

// Newf is New with a formatted message instead of a wrapped error.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Errorf(format, args...))
}

// WithRetriable overrides the default retriability, for cases like stt
// where the same kind can be transient (transport) or fatal (auth/protocol).
func (e *Error) WithRetriable(retriable bool) *Error {
	e.Retriable = retriable
	return e
}

// As reports whether err is (or wraps) a *Error and, if so, returns it.
func As(err error) (*Error, bool) {
	var de *Error
	ok := errors.As(err, &de)
	return de, ok
}

// ErrorCode returns the string used in the server_error.error_code field.
func (e *Error) ErrorCode() string {
	return string(e.Kind)
}
