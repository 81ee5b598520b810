// Package apperr defines the error kinds surfaced by the risk scoring pipeline.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	// InvalidInputKind means the caller sent something that is not a record
	// or a list of records. Not retryable without a client fix.
	InvalidInputKind Kind = "invalid_input_kind"
	// MissingFeatureSchema means the loaded bundle exposes no feature list.
	MissingFeatureSchema Kind = "missing_feature_schema"
	// ModelUnavailable means no bundle is loaded or a bundle failed to load.
	ModelUnavailable Kind = "model_unavailable"
	// InferenceError means transform or predict failed on aligned input.
	InferenceError Kind = "inference_error"
	// InvalidScore means a probability outside [0,1] reached a pure function.
	InvalidScore Kind = "invalid_score"
)

// Error is a kinded pipeline error.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap returns an Error of the given kind wrapping err.
func Wrap(err error, kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the human-readable message of the first *Error in err's
// chain, falling back to err.Error().
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// HTTPStatus maps a kind to the status code the API layer should return.
func HTTPStatus(kind Kind) int {
	switch kind {
	case InvalidInputKind, InvalidScore:
		return http.StatusBadRequest
	case ModelUnavailable, MissingFeatureSchema:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
