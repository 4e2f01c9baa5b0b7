// Package apierr defines the typed error taxonomy surfaced by the HTTP layer.
package apierr

import "fmt"

// Kind is one of the documented error kinds; never leaks as a raw exception.
type Kind string

const (
	KindUnauthorized         Kind = "auth.unauthorized"
	KindAuthUnavailable      Kind = "auth.unavailable"
	KindBadRequest           Kind = "validation.bad_request"
	KindUnprocessable        Kind = "validation.unprocessable"
	KindNotFound             Kind = "not_found"
	KindLLMTimeout           Kind = "dependency.llm_timeout"
	KindLLMInvalidResponse   Kind = "dependency.llm_invalid_response"
	KindEmbeddingUnavailable Kind = "dependency.embedding_unavailable"
	KindAdmissionBusy        Kind = "admission.busy"
)

var statusByKind = map[Kind]int{
	KindUnauthorized:         401,
	KindAuthUnavailable:      503,
	KindBadRequest:           400,
	KindUnprocessable:        422,
	KindNotFound:             404,
	KindLLMTimeout:           502,
	KindLLMInvalidResponse:   502,
	KindEmbeddingUnavailable: 502,
	KindAdmissionBusy:        503,
}

// Error is the typed error every component boundary returns for a documented
// failure mode; conflict.idempotent_return and conflict.store_busy never
// reach this type because they are resolved before the boundary.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Status returns the HTTP status code for the error's kind, defaulting to 500
// for any kind not in the documented taxonomy (should not happen in practice).
func (e *Error) Status() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return 500
}

// New constructs an Error with a detail string and no wrapped cause.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Wrap constructs an Error that preserves an underlying cause for logging.
func Wrap(kind Kind, detail string, err error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

// NotFound is a convenience constructor for the common 404 case.
func NotFound(resource, id string) *Error {
	return New(KindNotFound, fmt.Sprintf("%s %q not found", resource, id))
}
