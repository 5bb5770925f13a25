package domain

import (
	"errors"
	"fmt"
)

// ErrTaskNotFound is returned by stores when no task exists for an id.
var ErrTaskNotFound = errors.New("task not found")

type ErrorKind int

const (
	// ErrorKindTransient failures are expected to succeed on retry
	// (timeouts, rate limits, upstream 5xx).
	ErrorKindTransient ErrorKind = iota
	// ErrorKindPermanent failures will not succeed on retry
	// (invalid payload, unknown kind, upstream 4xx).
	ErrorKindPermanent
)

// Error is a classified failure of one external call attempt.
type Error struct {
	Kind ErrorKind
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Code
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func TransientError(code string, err error) *Error {
	return &Error{Kind: ErrorKindTransient, Code: code, Err: err}
}

func PermanentError(code string, err error) *Error {
	return &Error{Kind: ErrorKindPermanent, Code: code, Err: err}
}

// IsTransient reports whether err should be retried. Unclassified errors
// count as transient so that flaky collaborators get another attempt.
func IsTransient(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == ErrorKindTransient
	}
	return true
}

// ErrorCode extracts the short code of a classified error, or "unknown".
func ErrorCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "unknown"
}
