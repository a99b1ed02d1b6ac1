package gatekeeper

import (
	"errors"
	"net/http"

	"github.com/jackzampolin/tabula/internal/providers"
)

// Kind classifies a gateway failure.
type Kind int

const (
	KindInternal Kind = iota
	KindMethodNotAllowed
	KindConfig
	KindInvalidInput
	KindForbidden
	KindTooManyRequests
	KindPayloadTooLarge
	KindUpstream
	KindInvalidResponse
)

func (k Kind) String() string {
	switch k {
	case KindMethodNotAllowed:
		return "method_not_allowed"
	case KindConfig:
		return "config_error"
	case KindInvalidInput:
		return "invalid_input"
	case KindForbidden:
		return "forbidden"
	case KindTooManyRequests:
		return "too_many_requests"
	case KindPayloadTooLarge:
		return "payload_too_large"
	case KindUpstream:
		return "upstream_error"
	case KindInvalidResponse:
		return "invalid_response"
	default:
		return "internal_error"
	}
}

// Status maps the kind to an HTTP status code.
func (k Kind) Status() int {
	switch k {
	case KindMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case KindConfig:
		return http.StatusServiceUnavailable
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindForbidden:
		return http.StatusForbidden
	case KindTooManyRequests:
		return http.StatusTooManyRequests
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified gateway failure. Message is safe to show to clients.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches sentinel errors by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Message == "" && t.Kind == e.Kind
}

// Status returns the HTTP status for the error. Upstream quota failures are
// reported as 429 so clients can tell them apart from generic failures.
func (e *Error) Status() int {
	if e.Kind == KindUpstream && providers.IsQuotaError(e.Cause) {
		return http.StatusTooManyRequests
	}
	return e.Kind.Status()
}

// Sentinels for errors.Is.
var (
	ErrMethodNotAllowed = &Error{Kind: KindMethodNotAllowed}
	ErrConfig           = &Error{Kind: KindConfig}
	ErrInvalidInput     = &Error{Kind: KindInvalidInput}
	ErrForbidden        = &Error{Kind: KindForbidden}
	ErrTooManyRequests  = &Error{Kind: KindTooManyRequests}
	ErrPayloadTooLarge  = &Error{Kind: KindPayloadTooLarge}
	ErrUpstream         = &Error{Kind: KindUpstream}
	ErrInternal         = &Error{Kind: KindInternal}
)

func newError(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// StatusOf returns the HTTP status and client message for any error.
func StatusOf(err error) (int, string) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Status(), ge.Message
	}
	return http.StatusInternalServerError, "Gemini request failed"
}
