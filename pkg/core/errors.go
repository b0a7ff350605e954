package core

import (
	"fmt"
)

// Error is the canonical error for session and gateway failures.
type Error struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	Param      string    `json:"param,omitempty"`
	Code       string    `json:"code,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	Underlying any       `json:"underlying,omitempty"`
	RetryAfter *int      `json:"retry_after,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	// Session-side failures.
	ErrCredential  ErrorType = "credential_error"
	ErrNegotiation ErrorType = "negotiation_error"
	ErrTransport   ErrorType = "transport_error"
	ErrTool        ErrorType = "tool_error"
	ErrEvent       ErrorType = "event_error"

	// Gateway-side failures.
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrRateLimit      ErrorType = "rate_limit_error"
	ErrAPI            ErrorType = "api_error"
)

// NewCredentialError creates a credential minting error.
func NewCredentialError(message string) *Error {
	return &Error{
		Type:    ErrCredential,
		Message: message,
	}
}

// NewNegotiationError creates an offer/answer negotiation error.
func NewNegotiationError(message string) *Error {
	return &Error{
		Type:    ErrNegotiation,
		Message: message,
	}
}

// NewTransportError wraps a post-establishment connectivity failure.
func NewTransportError(message string, underlying error) *Error {
	e := &Error{
		Type:    ErrTransport,
		Message: message,
	}
	if underlying != nil {
		e.Underlying = underlying.Error()
	}
	return e
}

// NewToolError creates a tool execution error. Tool errors are recovered
// locally and never reach the connection state.
func NewToolError(name, message string) *Error {
	return &Error{
		Type:    ErrTool,
		Message: message,
		Param:   name,
	}
}

// NewEventError creates a malformed-event error. Event errors are dropped,
// never surfaced to the user.
func NewEventError(message string) *Error {
	return &Error{
		Type:    ErrEvent,
		Message: message,
	}
}

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
	}
}

// NewInvalidRequestErrorWithParam creates an invalid request error with a parameter.
func NewInvalidRequestErrorWithParam(message, param string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
		Param:   param,
	}
}

// NewAuthenticationError creates an authentication error.
func NewAuthenticationError(message string) *Error {
	return &Error{
		Type:    ErrAuthentication,
		Message: message,
	}
}

// NewNotFoundError creates a not found error.
func NewNotFoundError(message string) *Error {
	return &Error{
		Type:    ErrNotFound,
		Message: message,
	}
}

// NewRateLimitError creates a rate limit error.
func NewRateLimitError(message string, retryAfter int) *Error {
	return &Error{
		Type:       ErrRateLimit,
		Message:    message,
		RetryAfter: &retryAfter,
	}
}

// NewAPIError creates a generic API error.
func NewAPIError(message string) *Error {
	return &Error{
		Type:    ErrAPI,
		Message: message,
	}
}

// IsRetryable reports whether the connection supervisor may retry after this
// error. Credential and negotiation failures are retried only via the
// reconnect path; tool and event errors are never retried.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrCredential, ErrNegotiation, ErrTransport, ErrRateLimit, ErrAPI:
		return true
	default:
		return false
	}
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	if ue, ok := e.Underlying.(error); ok {
		return ue
	}
	return nil
}
