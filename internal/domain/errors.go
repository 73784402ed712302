package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind categorizes engine failures. Adapters translate backend-specific
// failures into these kinds at the orchestrator boundary; raw transport
// errors never reach the session state machine.
type ErrorKind string

const (
	// ErrorKindInvalidCredentials means the backend rejected the configured
	// API key. Not retried automatically.
	ErrorKindInvalidCredentials ErrorKind = "invalid_credentials"

	// ErrorKindRateLimited means the backend signaled throttling. The caller
	// may re-trigger the round; the orchestrator does not auto-retry.
	ErrorKindRateLimited ErrorKind = "rate_limited"

	// ErrorKindTimeout means the adapter deadline elapsed.
	ErrorKindTimeout ErrorKind = "timeout"

	// ErrorKindMalformedResponse means the backend returned content the
	// adapter could not normalize. The raw text is preserved in Detail.
	ErrorKindMalformedResponse ErrorKind = "malformed_response"

	// ErrorKindSessionBusy is the concurrency-guard rejection: a round is
	// already in flight for the session. Per-call only, no state change.
	ErrorKindSessionBusy ErrorKind = "session_busy"

	// ErrorKindSessionNotFound means no session exists for the given id.
	ErrorKindSessionNotFound ErrorKind = "session_not_found"

	// ErrorKindInvalidTransition means the operation is illegal for the
	// session's current state. Rejected synchronously, zero side effects.
	ErrorKindInvalidTransition ErrorKind = "invalid_transition"

	// ErrorKindServer is the catch-all for internal failures.
	ErrorKindServer ErrorKind = "server"
)

// EngineError is the canonical error shape crossing component boundaries.
type EngineError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`

	// Detail carries diagnostic payload, e.g. the raw backend text for a
	// malformed response.
	Detail string `json:"detail,omitempty"`

	// Speaker names the participant whose generation failed, when known.
	Speaker string `json:"speaker,omitempty"`
}

func (e *EngineError) Error() string {
	if e.Speaker != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Speaker, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Retryable reports whether the caller may simply re-trigger the round.
func (e *EngineError) Retryable() bool {
	return e.Kind == ErrorKindRateLimited || e.Kind == ErrorKindTimeout
}

// HTTPStatusCode maps the kind to a suggested HTTP status.
func (e *EngineError) HTTPStatusCode() int {
	switch e.Kind {
	case ErrorKindInvalidCredentials:
		return http.StatusBadGateway
	case ErrorKindRateLimited:
		return http.StatusTooManyRequests
	case ErrorKindTimeout:
		return http.StatusGatewayTimeout
	case ErrorKindMalformedResponse:
		return http.StatusBadGateway
	case ErrorKindSessionBusy:
		return http.StatusConflict
	case ErrorKindSessionNotFound:
		return http.StatusNotFound
	case ErrorKindInvalidTransition:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// WithSpeaker attributes the failure to a participant.
func (e *EngineError) WithSpeaker(speaker string) *EngineError {
	e.Speaker = speaker
	return e
}

// WithDetail attaches diagnostic payload.
func (e *EngineError) WithDetail(detail string) *EngineError {
	e.Detail = detail
	return e
}

// NewEngineError creates an error of the given kind.
func NewEngineError(kind ErrorKind, message string) *EngineError {
	return &EngineError{Kind: kind, Message: message}
}

// ErrInvalidCredentials creates an invalid-credentials error.
func ErrInvalidCredentials(message string) *EngineError {
	return NewEngineError(ErrorKindInvalidCredentials, message)
}

// ErrRateLimited creates a rate-limited error.
func ErrRateLimited(message string) *EngineError {
	return NewEngineError(ErrorKindRateLimited, message)
}

// ErrTimeout creates a timeout error.
func ErrTimeout(message string) *EngineError {
	return NewEngineError(ErrorKindTimeout, message)
}

// ErrMalformedResponse creates a malformed-response error preserving the raw
// backend text for diagnosis.
func ErrMalformedResponse(message, raw string) *EngineError {
	return NewEngineError(ErrorKindMalformedResponse, message).WithDetail(raw)
}

// ErrSessionBusy creates the concurrency-guard rejection for a session.
func ErrSessionBusy(sessionID string) *EngineError {
	return NewEngineError(ErrorKindSessionBusy, "a round is already in flight for session "+sessionID)
}

// ErrSessionNotFound creates a session-not-found error.
func ErrSessionNotFound(sessionID string) *EngineError {
	return NewEngineError(ErrorKindSessionNotFound, "session "+sessionID+" not found")
}

// ErrInvalidTransition creates an invalid-transition error.
func ErrInvalidTransition(op string, from Status) *EngineError {
	return NewEngineError(ErrorKindInvalidTransition, fmt.Sprintf("%s is not legal while %s", op, from))
}

// ErrServer creates a generic internal error.
func ErrServer(message string) *EngineError {
	return NewEngineError(ErrorKindServer, message)
}

// AsEngineError converts any error to an *EngineError. Errors that are not
// already canonical become server errors.
func AsEngineError(err error) *EngineError {
	var engErr *EngineError
	if errors.As(err, &engErr) {
		return engErr
	}
	return ErrServer(err.Error())
}

// IsKind reports whether err is an EngineError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var engErr *EngineError
	return errors.As(err, &engErr) && engErr.Kind == kind
}
