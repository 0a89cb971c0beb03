// Package apperr defines the error kinds surfaced to HTTP callers.
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies a failure. Each kind maps to one HTTP status and one
// stable reason string.
type Kind int

const (
	Internal Kind = iota
	BadRequest
	RateLimited
	Unauthorized
	AlreadyUsed
	NotFound
	DeliveryFailure
	SignatureInvalid
)

var kindReasons = map[Kind]string{
	Internal:         "internal",
	BadRequest:       "bad_request",
	RateLimited:      "rate_limited",
	Unauthorized:     "unauthorized",
	AlreadyUsed:      "already_used",
	NotFound:         "not_found",
	DeliveryFailure:  "delivery_failure",
	SignatureInvalid: "signature_invalid",
}

var kindStatus = map[Kind]int{
	Internal:         http.StatusInternalServerError,
	BadRequest:       http.StatusBadRequest,
	RateLimited:      http.StatusTooManyRequests,
	Unauthorized:     http.StatusUnauthorized,
	AlreadyUsed:      http.StatusGone,
	NotFound:         http.StatusNotFound,
	DeliveryFailure:  http.StatusInternalServerError,
	SignatureInvalid: http.StatusUnauthorized,
}

func (k Kind) String() string {
	if r, ok := kindReasons[k]; ok {
		return r
	}
	return "internal"
}

// Status returns the HTTP status code for the kind.
func (k Kind) Status() int {
	if s, ok := kindStatus[k]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Error is a classified failure with a caller-safe message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Reason is the machine-readable reason string sent to clients.
func (e *Error) Reason() string { return e.Kind.String() }

// New returns an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap returns an Error of the given kind that wraps err.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf reports the kind of err. Unclassified errors are Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// As extracts an *Error from err, classifying unknown errors as Internal.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(Internal, "internal error", err)
}
