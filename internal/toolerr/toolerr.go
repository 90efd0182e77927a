// Package toolerr defines the failure taxonomy shared by every stage of a tool
// call.
//
// Handlers return *Error values (directly or wrapped with %w). The dispatcher
// recovers the Kind with KindOf for logging and metrics, and renders Error()
// into the uniform error envelope returned to the caller.
package toolerr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	KindValidation          Kind = "validation_error"
	KindCredentialMissing   Kind = "credential_missing"
	KindUnsupportedProvider Kind = "unsupported_provider"
	KindUnsupportedFormat   Kind = "unsupported_format"
	KindSourceNotFound      Kind = "source_not_found"
	KindMissingDimension    Kind = "missing_dimension"
	KindRemoteFailure       Kind = "remote_failure"
	KindUnexpectedResponse  Kind = "unexpected_response_shape"
	KindIOFailure           Kind = "io_failure"
	KindUnknownOperation    Kind = "unknown_operation"
	KindInternal            Kind = "internal_error"
)

// Error is a classified failure with a caller-facing message.
type Error struct {
	Kind    Kind
	Message string
	Status  int
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates an Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind that keeps cause in the chain.
// The cause text is appended to the message.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	msg := fmt.Sprintf(format, args...)
	if cause != nil {
		msg = msg + ": " + cause.Error()
	}
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// KindOf returns the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
