// Package errs defines the typed error taxonomy shared by all services.
// Expected failures (validation, conflicts, missing rows) travel as *Error
// values so the HTTP boundary can map them without string matching.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for boundary mapping.
type Kind uint8

const (
	KindInternal Kind = iota
	KindAuthentication
	KindAuthorization
	KindValidation
	KindConflict
	KindNotFound
	KindRateLimited
	KindExternal
)

// String returns the stable envelope code for the kind.
func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication_error"
	case KindAuthorization:
		return "authorization_error"
	case KindValidation:
		return "validation_error"
	case KindConflict:
		return "conflict_error"
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	case KindExternal:
		return "external_service_error"
	default:
		return "internal_error"
	}
}

// Error is a classified service error.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors of the same kind, so sentinel comparisons like
// errors.Is(err, errs.Conflict("")) work without equality of messages.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind && (t.Message == "" || t.Message == e.Message)
}

// WithDetail attaches a field-level detail and returns the error.
func (e *Error) WithDetail(field, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string, 1)
	}
	e.Details[field] = value
	return e
}

func Authentication(message string) *Error {
	return &Error{Kind: KindAuthentication, Message: message}
}

func Authorization(message string) *Error {
	return &Error{Kind: KindAuthorization, Message: message}
}

func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Conflict(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

func Conflictf(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// NotFound is returned both for absent rows and rows outside the caller's
// tenant; the two cases are indistinguishable to the caller.
func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

func RateLimited(message string) *Error {
	return &Error{Kind: KindRateLimited, Message: message}
}

// External wraps a payment-provider or other collaborator failure.
func External(message string, err error) *Error {
	return &Error{Kind: KindExternal, Message: message, Err: err}
}

// Internal wraps an unexpected failure; the boundary reports it without detail.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Message: "internal error", Err: err}
}

// KindOf extracts the kind, defaulting to KindInternal for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
