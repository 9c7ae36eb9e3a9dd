// Package apperr defines the error taxonomy shared by every component and its
// mapping onto HTTP status codes.
package apperr

import (
	"errors"
	"net/http"
	"time"
)

// Kind classifies an error by who is at fault and how the caller should react.
type Kind string

const (
	KindValidation     Kind = "validation_error"
	KindAuthentication Kind = "authentication_error"
	KindAuthorization  Kind = "authorization_error"
	KindNotFound       Kind = "not_found"
	KindConflict       Kind = "conflict"
	KindRateLimit      Kind = "rate_limited"
	KindQuota          Kind = "quota_exceeded"
	KindUpstream       Kind = "upstream_error"
	KindConfiguration  Kind = "configuration_error"
	KindInternal       Kind = "internal_error"
)

// Error is a classified error. Message is safe to show to callers except for
// Upstream, Configuration and Internal kinds, which are rendered generically.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Validation(msg string) *Error     { return newError(KindValidation, msg) }
func Authentication(msg string) *Error { return newError(KindAuthentication, msg) }
func Authorization(msg string) *Error  { return newError(KindAuthorization, msg) }
func NotFound(msg string) *Error       { return newError(KindNotFound, msg) }
func Conflict(msg string) *Error       { return newError(KindConflict, msg) }

// RateLimited reports a short-window throttle; retryAfter may be zero when unknown.
func RateLimited(msg string, retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimit, Message: msg, RetryAfter: retryAfter}
}

// QuotaExceeded reports an exhausted daily budget.
func QuotaExceeded(msg string, retryAfter time.Duration) *Error {
	return &Error{Kind: KindQuota, Message: msg, RetryAfter: retryAfter}
}

// Upstream wraps a provider or geocoder failure after retries were exhausted.
func Upstream(msg string, err error) *Error {
	return &Error{Kind: KindUpstream, Message: msg, Err: err}
}

// Configuration reports a missing secret or URL needed by a feature.
func Configuration(msg string) *Error { return newError(KindConfiguration, msg) }

// Internal wraps an unexpected failure.
func Internal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}

// As extracts the classified error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// Status maps an error to the HTTP status code conveyed to the caller.
func Status(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimit, KindQuota:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Public reports whether the error message may be returned to the caller verbatim.
func Public(err error) bool {
	switch KindOf(err) {
	case KindUpstream, KindConfiguration, KindInternal:
		return false
	default:
		return true
	}
}
