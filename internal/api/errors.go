package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes for the fixed client error taxonomy.
const (
	ErrCodeNetwork        = "NETWORK_ERROR"
	ErrCodeTimeout        = "TIMEOUT"
	ErrCodeAuthentication = "AUTHENTICATION_ERROR"
	ErrCodeAuthorization  = "AUTHORIZATION_ERROR"
	ErrCodeValidation     = "VALIDATION_ERROR"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeConflict       = "CONFLICT"
	ErrCodeRateLimit      = "RATE_LIMIT"
	ErrCodeServer         = "SERVER_ERROR"
	ErrCodeUnknown        = "UNKNOWN_ERROR"
)

// Error represents a classified failure of an outbound call.
type Error struct {
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Status   int               `json:"-"` // HTTP status, 0 for transport-level failures
	Endpoint string            `json:"-"`
	Fields   map[string]string `json:"fields,omitempty"` // validation detail by field
	cause    error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// NewNetworkError wraps a transport-level failure.
func NewNetworkError(endpoint string, cause error) *Error {
	return &Error{
		Code:     ErrCodeNetwork,
		Message:  "network unreachable or request failed",
		Endpoint: endpoint,
		cause:    cause,
	}
}

// NewTimeoutError reports a call that exceeded its deadline.
func NewTimeoutError(endpoint string, cause error) *Error {
	return &Error{
		Code:     ErrCodeTimeout,
		Message:  "request deadline exceeded",
		Endpoint: endpoint,
		cause:    cause,
	}
}

// classifyStatus maps a received HTTP error status onto the taxonomy.
// HTTP-level errors represent a definite server decision and are never
// retried; they are classified once and surfaced.
func classifyStatus(endpoint string, status int, message string, fields map[string]string) *Error {
	e := &Error{
		Status:   status,
		Message:  message,
		Endpoint: endpoint,
		Fields:   fields,
	}

	switch {
	case status == http.StatusUnauthorized:
		e.Code = ErrCodeAuthentication
	case status == http.StatusForbidden:
		e.Code = ErrCodeAuthorization
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		e.Code = ErrCodeValidation
	case status == http.StatusNotFound:
		e.Code = ErrCodeNotFound
	case status == http.StatusConflict:
		e.Code = ErrCodeConflict
	case status == http.StatusTooManyRequests:
		e.Code = ErrCodeRateLimit
	case status >= 500:
		e.Code = ErrCodeServer
	default:
		e.Code = ErrCodeUnknown
	}

	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

// CodeOf extracts the taxonomy code from any error, returning UNKNOWN_ERROR
// for errors that did not come from the executor.
func CodeOf(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ErrCodeUnknown
}
