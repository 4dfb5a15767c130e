// Package apperr implements the error taxonomy described in the core design:
// a small set of distinct error kinds that propagate deterministically instead
// of exceptions-as-control-flow.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the distinct error kinds the core recognizes.
type Kind string

const (
	KindInvalid             Kind = "invalid"
	KindUnauthorized        Kind = "unauthorized"
	KindForbidden           Kind = "forbidden"
	KindNotFound            Kind = "not_found"
	KindDuplicate           Kind = "duplicate"
	KindQuotaExceeded       Kind = "quota_exceeded"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindTransient           Kind = "transient"
	KindInternal            Kind = "internal"
)

// Error is the concrete error type carried through the core. It is never
// used for normal control flow outside the boundaries that must branch on
// Kind (the request surface, the retry/breaker façade).
type Error struct {
	Kind    Kind
	Message string
	Err     error

	// Existing carries the conflicting/duplicate resource for KindDuplicate,
	// e.g. a *domain.Memory. The surface decides how to serialize it.
	Existing any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error of the given kind wrapping a lower-level cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithExisting attaches a conflicting resource (used by KindDuplicate) and
// returns the same error for chaining.
func (e *Error) WithExisting(v any) *Error {
	e.Existing = v
	return e
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, defaulting to KindInternal when err is
// not an *Error.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if err == nil {
		return ""
	}
	return KindInternal
}

// NotFound, Invalid, Forbidden, Duplicate, QuotaExceeded, Unauthorized are
// small constructors for the common cases so call sites stay terse.
func NotFound(msg string) *Error       { return New(KindNotFound, msg) }
func Invalid(msg string) *Error        { return New(KindInvalid, msg) }
func Forbidden(msg string) *Error      { return New(KindForbidden, msg) }
func Unauthorized(msg string) *Error   { return New(KindUnauthorized, msg) }
func QuotaExceeded(msg string) *Error  { return New(KindQuotaExceeded, msg) }
func Internal(msg string, err error) *Error {
	return Wrap(KindInternal, msg, err)
}
func Transient(msg string, err error) *Error {
	return Wrap(KindTransient, msg, err)
}
func UpstreamUnavailable(msg string) *Error {
	return New(KindUpstreamUnavailable, msg)
}

func Duplicate(msg string) *Error { return New(KindDuplicate, msg) }

// HTTPStatus maps a Kind to the status code the request surface (§7) writes
// on the response.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInvalid:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindDuplicate:
		return http.StatusConflict
	case KindQuotaExceeded:
		return http.StatusTooManyRequests
	case KindUpstreamUnavailable:
		return http.StatusBadGateway
	case KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
