// Package apierr provides structured API error types and HTTP status mapping
// compatible with the OpenAI error format.
package apierr

import (
	"encoding/json"
	"fmt"

	"github.com/valyala/fasthttp"
)

// Kind is the dispatch pipeline's error taxonomy, per spec.md §7. Every
// stage of the pipeline returns a *Error wrapping one of these instead of a
// bare error, so the outermost handler can map it to an HTTP status without
// re-deriving the reason from a string.
type Kind string

const (
	KindMissingCredentials Kind = "missing_credentials"
	KindInvalidCredentials Kind = "invalid_credentials"
	KindKeyExpired         Kind = "key_expired"
	KindRateLimitExceeded  Kind = "rate_limit_exceeded_kind"
	KindNoUpstreamAvailable Kind = "no_upstream_available"
	KindUpstreamAuthExpired Kind = "upstream_auth_expired"
	KindUpstreamTransport   Kind = "upstream_transport"
	KindUpstreamStatus      Kind = "upstream_status"
	KindBadRequest          Kind = "bad_request"
	KindInternal            Kind = "internal"
)

// Error is a pipeline-stage error carrying enough information for the
// outermost handler to render a response without inspecting the call chain
// that produced it.
type Error struct {
	Kind Kind
	// Status overrides the Kind's default HTTP status; only meaningful for
	// KindUpstreamStatus, which passes the upstream's own status through.
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a pipeline Error.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// UpstreamStatus constructs the passthrough case: the gateway forwards the
// upstream's own status code verbatim.
func UpstreamStatus(status int, message string) *Error {
	return &Error{Kind: KindUpstreamStatus, Status: status, Message: message}
}

// HTTPStatus maps a Kind to its outward status per spec.md §7's table.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindMissingCredentials, KindInvalidCredentials, KindKeyExpired:
		return fasthttp.StatusUnauthorized
	case KindRateLimitExceeded:
		return fasthttp.StatusTooManyRequests
	case KindNoUpstreamAvailable:
		return fasthttp.StatusServiceUnavailable
	case KindUpstreamAuthExpired, KindUpstreamTransport:
		return fasthttp.StatusBadGateway
	case KindBadRequest:
		return fasthttp.StatusBadRequest
	case KindInternal:
		return fasthttp.StatusInternalServerError
	default:
		return fasthttp.StatusInternalServerError
	}
}

// errType maps a Kind to the OpenAI-compatible error envelope's "type" field.
func (k Kind) errType() string {
	switch k {
	case KindMissingCredentials, KindInvalidCredentials, KindKeyExpired:
		return TypeAuthenticationErr
	case KindRateLimitExceeded:
		return TypeRateLimitError
	case KindBadRequest:
		return TypeInvalidRequest
	case KindUpstreamAuthExpired, KindUpstreamTransport, KindUpstreamStatus, KindNoUpstreamAvailable:
		return TypeProviderError
	default:
		return TypeServerError
	}
}

// WriteKindError renders e to ctx using its Kind's status/type mapping, or
// e.Status when Kind is KindUpstreamStatus (the upstream's own status
// passed through verbatim).
func WriteKindError(ctx *fasthttp.RequestCtx, e *Error) {
	status := e.Kind.HTTPStatus()
	if e.Kind == KindUpstreamStatus && e.Status != 0 {
		status = e.Status
	}
	Write(ctx, status, e.Message, e.Kind.errType(), string(e.Kind))
}

// ErrorType constants.
const (
	TypeProviderError     = "provider_error"
	TypeRateLimitError    = "rate_limit_error"
	TypeInvalidRequest    = "invalid_request_error"
	TypeAuthenticationErr = "authentication_error"
	TypeServerError       = "server_error"
)

// APIError is the structured error returned to clients.
type (
	APIError struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	}
	envelope struct {
		Error APIError `json:"error"`
	}
)

// Write writes the error as JSON to the fasthttp response with the given HTTP status.
func Write(ctx *fasthttp.RequestCtx, status int, message, errType, code string) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(envelope{Error: APIError{
		Message: message,
		Type:    errType,
		Code:    code,
	}})
	ctx.SetBody(body)
}
