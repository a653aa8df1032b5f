package domain

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies every failure the transport can surface.
type ErrorCategory string

const (
	CategoryNetworkUnreachable ErrorCategory = "network-unreachable"
	CategoryTimeout            ErrorCategory = "timeout"
	CategoryServerRejected     ErrorCategory = "server-rejected"
	CategoryUnknown            ErrorCategory = "unknown"
)

// APIError is the only error shape that leaves the transport client.
type APIError struct {
	Category       ErrorCategory `json:"category"`
	Message        string        `json:"message"`
	OriginalStatus int           `json:"originalStatus,omitempty"`
}

func (e *APIError) Error() string {
	if e.OriginalStatus > 0 {
		return fmt.Sprintf("%s (%d): %s", e.Category, e.OriginalStatus, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

// Title is a short human-readable heading, distinct per category.
func (e *APIError) Title() string {
	switch e.Category {
	case CategoryNetworkUnreachable:
		return "Backend unreachable"
	case CategoryTimeout:
		return "Request timed out"
	case CategoryServerRejected:
		return "Request rejected"
	default:
		return "Unexpected error"
	}
}

// AsAPIError extracts an *APIError from err. Any other error is wrapped as
// CategoryUnknown so callers always get exactly one category.
func AsAPIError(err error) *APIError {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return &APIError{Category: CategoryUnknown, Message: err.Error()}
}
