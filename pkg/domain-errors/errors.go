// Package domainerrors provides coded errors that cross service boundaries.
//
// Services return these so the transport layer can translate outcomes into
// HTTP statuses without inspecting error strings. The codes map onto the
// gateway's failure taxonomy:
//
//	CodeUnauthorized: authentication failures (bad credential, missing or
//	consumed challenge, proof mismatch).
//	CodeForbidden: authorization failures (RBAC zone, risk threshold).
//	CodeIntegrity: ledger verification failures (hash mismatch, broken
//	link, bad signature); never silently repaired.
//	CodeUnavailable: storage failures (primary store unreachable).
//	CodeNotFound, CodeBadRequest, CodeInvalidInput, CodeConflict, and
//	CodeInternal are the usual transport-facing set.
package domainerrors

import (
	"errors"
	"net/http"
)

// Code identifies a class of domain error.
type Code string

const (
	CodeBadRequest   Code = "bad_request"
	CodeInvalidInput Code = "invalid_input"
	CodeUnauthorized Code = "unauthorized"
	CodeForbidden    Code = "forbidden"
	CodeNotFound     Code = "not_found"
	CodeConflict     Code = "conflict"
	CodeIntegrity    Code = "integrity_failure"
	CodeUnavailable  Code = "unavailable"
	CodeInternal     Code = "internal_error"
)

// Error is a coded domain error with a human-readable message.
type Error struct {
	Code    Code
	Message string
	// Reasons carries the ordered explanation trail for authorization
	// denials so callers can surface every contributing factor.
	Reasons []string
	wrapped error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.wrapped }

// New constructs a domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap constructs a domain error that preserves an underlying cause for
// errors.Is/errors.As chains.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, wrapped: cause}
}

// WithReasons attaches an explanation trail to the error.
func (e *Error) WithReasons(reasons []string) *Error {
	e.Reasons = reasons
	return e
}

// HasCode reports whether err carries the given domain error code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf extracts the domain code from err, defaulting to CodeInternal for
// uncoded errors so nothing leaks as a 200.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps a domain code to its transport status.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest, CodeInvalidInput:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeIntegrity:
		return http.StatusConflict
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
