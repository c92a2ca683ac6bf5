package response

import "net/http"

// Error represents an API error response.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

func (e *Error) Error() string {
	return e.Message
}

// Common error codes
const (
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeBadRequest        = "BAD_REQUEST"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInternalError     = "INTERNAL_ERROR"
	ErrCodeRateLimited       = "RATE_LIMITED"
	ErrCodeValidationFailed  = "VALIDATION_FAILED"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeUnavailable       = "UNAVAILABLE"
)

// Standard errors
var (
	ErrInvalidToken = &Error{
		Code:    ErrCodeUnauthorized,
		Message: "invalid or expired token",
		Status:  http.StatusUnauthorized,
	}

	ErrForbidden = &Error{
		Code:    ErrCodeForbidden,
		Message: "access denied",
		Status:  http.StatusForbidden,
	}

	ErrNotFound = &Error{
		Code:    ErrCodeNotFound,
		Message: "resource not found",
		Status:  http.StatusNotFound,
	}

	ErrInternalServer = &Error{
		Code:    ErrCodeInternalError,
		Message: "internal server error",
		Status:  http.StatusInternalServerError,
	}

	ErrRateLimited = &Error{
		Code:    ErrCodeRateLimited,
		Message: "too many requests",
		Status:  http.StatusTooManyRequests,
	}

	ErrInvalidBody = &Error{
		Code:    ErrCodeBadRequest,
		Message: "invalid request body",
		Status:  http.StatusBadRequest,
	}
)

// NewBadRequest creates a bad request error with custom message.
func NewBadRequest(message string) *Error {
	return &Error{
		Code:    ErrCodeBadRequest,
		Message: message,
		Status:  http.StatusBadRequest,
	}
}

// NewValidationError creates a validation error with custom message.
func NewValidationError(message string) *Error {
	return &Error{
		Code:    ErrCodeValidationFailed,
		Message: message,
		Status:  http.StatusBadRequest,
	}
}

// NewConflict creates a conflict error with custom message.
func NewConflict(message string) *Error {
	return &Error{
		Code:    ErrCodeConflict,
		Message: message,
		Status:  http.StatusConflict,
	}
}

// NewInvalidTransition creates a lifecycle conflict error.
func NewInvalidTransition(message string) *Error {
	return &Error{
		Code:    ErrCodeInvalidTransition,
		Message: message,
		Status:  http.StatusConflict,
	}
}

// NewNotFound creates a not found error with custom message.
func NewNotFound(message string) *Error {
	return &Error{
		Code:    ErrCodeNotFound,
		Message: message,
		Status:  http.StatusNotFound,
	}
}

// NewUnavailable creates a service unavailable error.
func NewUnavailable(message string) *Error {
	return &Error{
		Code:    ErrCodeUnavailable,
		Message: message,
		Status:  http.StatusServiceUnavailable,
	}
}
