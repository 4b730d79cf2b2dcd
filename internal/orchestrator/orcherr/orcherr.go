// Package orcherr defines the engine's stable error-kind vocabulary,
// spec 7, and wraps errors with that kind the way the rest of the corpus
// wraps with fmt.Errorf("...: %w", err).
package orcherr

import "errors"

// Kind is one of the 8 stable string identifiers from spec 7.
type Kind string

const (
	KindStore        Kind = "store-error"
	KindSpool        Kind = "spool-error"
	KindSandbox      Kind = "sandbox-error"
	KindNotFound     Kind = "not-found"
	KindInvalidState Kind = "invalid-state"
	KindTimeout      Kind = "timeout"
	KindRecovery     Kind = "recovery-error"
	KindValidation   Kind = "validation-error"
)

// Error is a stable-kind error carrying a user-facing message, returned
// by the public API as {kind, message}.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a kinded error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a kinded error wrapping cause, preserving errors.Is/As.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error, else "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
