package apperrors

import (
	"net/http"
)

// ErrorCode represents a standardized error code
type ErrorCode string

const (
	// Request errors (400xx)
	ErrInvalidRequest   ErrorCode = "40001"
	ErrValidationFailed ErrorCode = "40002"
	ErrInvalidName      ErrorCode = "40003"

	// Resource errors (404xx)
	ErrRestaurantNotFound ErrorCode = "40401"
	ErrRatingNotFound     ErrorCode = "40402"

	// Conflict errors (409xx)
	ErrDuplicateRating ErrorCode = "40901"

	// Fraud errors (422xx)
	ErrFraudSuspicion ErrorCode = "42201"

	// Rate limit errors (429xx)
	ErrRateLimited ErrorCode = "42901"

	// Server errors (500xx)
	ErrInternalServer    ErrorCode = "50001"
	ErrStoreUnavailable  ErrorCode = "50301"
	ErrUpstreamTimeout   ErrorCode = "50401"
	ErrIntegrityFallback ErrorCode = "50002"
)

// APIError represents a standardized API error
type APIError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Details    any       `json:"details,omitempty"`
	HTTPStatus int       `json:"-"`
	// Retryable marks transient infrastructure failures the caller may
	// retry with backoff instead of surfacing to the user.
	Retryable bool `json:"-"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return e.Message
}

// ErrorResponse represents the error response format
type ErrorResponse struct {
	Error     APIError `json:"error"`
	RequestID string   `json:"request_id"`
}

// Common errors
var (
	ErrRestaurantNotFoundError = &APIError{
		Code:       ErrRestaurantNotFound,
		Message:    "Restaurant not found",
		HTTPStatus: http.StatusNotFound,
	}

	ErrRatingNotFoundError = &APIError{
		Code:       ErrRatingNotFound,
		Message:    "Rating not found",
		HTTPStatus: http.StatusNotFound,
	}

	ErrRateLimitedError = &APIError{
		Code:       ErrRateLimited,
		Message:    "Rate limit exceeded",
		HTTPStatus: http.StatusTooManyRequests,
	}

	ErrInternalServerError = &APIError{
		Code:       ErrInternalServer,
		Message:    "Internal server error",
		HTTPStatus: http.StatusInternalServerError,
	}

	ErrStoreUnavailableError = &APIError{
		Code:       ErrStoreUnavailable,
		Message:    "Persistence layer unavailable",
		HTTPStatus: http.StatusServiceUnavailable,
		Retryable:  true,
	}

	ErrUpstreamTimeoutError = &APIError{
		Code:       ErrUpstreamTimeout,
		Message:    "Upstream operation timed out",
		HTTPStatus: http.StatusGatewayTimeout,
		Retryable:  true,
	}
)

// NewValidationError creates a user-correctable validation error with
// the gate's reason list attached as details.
func NewValidationError(reasons []string) *APIError {
	return &APIError{
		Code:       ErrValidationFailed,
		Message:    "Validation failed",
		Details:    reasons,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewInvalidRequestError creates an invalid request error
func NewInvalidRequestError(message string) *APIError {
	return &APIError{
		Code:       ErrInvalidRequest,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewDuplicateError creates a duplicate-rating rejection carrying the
// caller-facing wait reason.
func NewDuplicateError(reason string) *APIError {
	return &APIError{
		Code:       ErrDuplicateRating,
		Message:    reason,
		HTTPStatus: http.StatusConflict,
	}
}

// NewFraudSuspicionError is surfaced to the user like a validation
// failure; the caller is responsible for also emitting a security event.
func NewFraudSuspicionError(reasons []string) *APIError {
	return &APIError{
		Code:       ErrFraudSuspicion,
		Message:    "Submission rejected",
		Details:    reasons,
		HTTPStatus: http.StatusUnprocessableEntity,
	}
}

// NewIntegrityFallbackError records that a computation degraded to a
// fallback path. It is never fatal: callers attach it to an otherwise
// usable, explicitly-flagged result.
func NewIntegrityFallbackError(detail string) *APIError {
	return &APIError{
		Code:       ErrIntegrityFallback,
		Message:    detail,
		HTTPStatus: http.StatusOK,
	}
}
