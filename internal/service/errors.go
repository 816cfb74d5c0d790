// Package core provides the consumer service, its scheduler and the shared HTTP plumbing
package core

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents an error code type
type ErrorCode int

// Error code constants
const (
	// Common errors (1000-1999)
	ErrSuccess         ErrorCode = 0
	ErrUnknown         ErrorCode = 1000
	ErrInvalidParam    ErrorCode = 1001
	ErrUnauthorized    ErrorCode = 1002
	ErrForbidden       ErrorCode = 1003
	ErrNotFound        ErrorCode = 1004
	ErrMethodNotAllow  ErrorCode = 1005
	ErrTooManyRequests ErrorCode = 1006
	ErrInternalServer  ErrorCode = 1007
	ErrTimeout         ErrorCode = 1008
	ErrValidation      ErrorCode = 1009

	// Consumer errors (2000-2999)
	ErrDecoderNotFound   ErrorCode = 2000
	ErrInvalidKey        ErrorCode = 2001
	ErrSessionCreate     ErrorCode = 2002
	ErrBrokerUnavailable ErrorCode = 2003
	ErrDecodeFailed      ErrorCode = 2004
	ErrUnsupportedScheme ErrorCode = 2005

	// Pool errors (5000-5999)
	ErrPoolClosed ErrorCode = 5002

	// Scheduler errors (7000-7999)
	ErrSchedulerNotRunning ErrorCode = 7000
)

// errorMessages maps error codes to human-readable messages
var errorMessages = map[ErrorCode]string{
	// Common errors
	ErrSuccess:         "success",
	ErrUnknown:         "unknown error",
	ErrInvalidParam:    "invalid parameter",
	ErrUnauthorized:    "unauthorized",
	ErrForbidden:       "forbidden",
	ErrNotFound:        "resource not found",
	ErrMethodNotAllow:  "method not allowed",
	ErrTooManyRequests: "too many requests",
	ErrInternalServer:  "internal server error",
	ErrTimeout:         "request timeout",
	ErrValidation:      "validation failed",

	// Consumer errors
	ErrDecoderNotFound:   "deserializer not found",
	ErrInvalidKey:        "invalid consumer key",
	ErrSessionCreate:     "failed to create consumer session",
	ErrBrokerUnavailable: "broker unavailable",
	ErrDecodeFailed:      "failed to decode message",
	ErrUnsupportedScheme: "unsupported broker scheme",

	// Pool errors
	ErrPoolClosed: "consumer pool closed",

	// Scheduler errors
	ErrSchedulerNotRunning: "scheduler not running",
}

// errorHTTPStatus maps error codes to HTTP status codes
var errorHTTPStatus = map[ErrorCode]int{
	// Common errors
	ErrSuccess:         http.StatusOK,
	ErrUnknown:         http.StatusInternalServerError,
	ErrInvalidParam:    http.StatusBadRequest,
	ErrUnauthorized:    http.StatusUnauthorized,
	ErrForbidden:       http.StatusForbidden,
	ErrNotFound:        http.StatusNotFound,
	ErrMethodNotAllow:  http.StatusMethodNotAllowed,
	ErrTooManyRequests: http.StatusTooManyRequests,
	ErrInternalServer:  http.StatusInternalServerError,
	ErrTimeout:         http.StatusGatewayTimeout,
	ErrValidation:      http.StatusUnprocessableEntity,

	// Consumer errors
	ErrDecoderNotFound:   http.StatusNotFound,
	ErrInvalidKey:        http.StatusBadRequest,
	ErrSessionCreate:     http.StatusServiceUnavailable,
	ErrBrokerUnavailable: http.StatusServiceUnavailable,
	ErrDecodeFailed:      http.StatusInternalServerError,
	ErrUnsupportedScheme: http.StatusBadRequest,

	// Pool errors
	ErrPoolClosed: http.StatusServiceUnavailable,

	// Scheduler errors
	ErrSchedulerNotRunning: http.StatusServiceUnavailable,
}

// AppError represents an application error with code and message
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Detail  string    `json:"detail,omitempty"`
	Err     error     `json:"-"` // Original error, not serialized
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("[%d] %s: %s", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code for this error
func (e *AppError) HTTPStatus() int {
	return GetHTTPStatus(e.Code)
}

// NewError creates a new AppError with the given error code
func NewError(code ErrorCode) *AppError {
	return &AppError{
		Code:    code,
		Message: GetErrorMessage(code),
	}
}

// NewErrorWithDetail creates a new AppError with code and detail message
func NewErrorWithDetail(code ErrorCode, detail string) *AppError {
	err := NewError(code)
	err.Detail = detail
	return err
}

// NewErrorWithErr creates a new AppError wrapping an existing error
func NewErrorWithErr(code ErrorCode, err error) *AppError {
	appErr := NewError(code)
	if err != nil {
		appErr.Err = err
		appErr.Detail = err.Error()
	}
	return appErr
}

// IsAppError checks if the given error is or wraps an AppError
func IsAppError(err error) bool {
	return GetAppError(err) != nil
}

// GetAppError extracts AppError from an error chain, returns nil if there is none
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// GetErrorMessage returns the message for an error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}
	return errorMessages[ErrUnknown]
}

// GetHTTPStatus returns the HTTP status code for an error code
func GetHTTPStatus(code ErrorCode) int {
	if status, ok := errorHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
