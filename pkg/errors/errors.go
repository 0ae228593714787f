package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code
type ErrorCode int

// AppError represents an application error
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// StatusCode maps the error code to an HTTP status for the error middleware.
func (e *AppError) StatusCode() int {
	switch e.Code {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrBadRequest, ErrValidation:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrDuplicate:
		return http.StatusConflict
	case ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case ErrTransport, ErrIdentityUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Common error codes
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrBadRequest
	ErrUnauthorized
	ErrInternal
	ErrRateLimited
	ErrPayloadTooLarge
)

// Dispatch pipeline error codes
const (
	// ErrValidation marks a malformed template or configuration.
	ErrValidation ErrorCode = iota + 2000
	// ErrDuplicate marks an idempotent no-op. It is never a failure.
	ErrDuplicate
	// ErrTransport marks a failed send. Retried up to the attempt cap.
	ErrTransport
	// ErrIdentityUnavailable marks a recipient without a linked, opted-in identity.
	ErrIdentityUnavailable
	// ErrCritical marks an unexpected failure caught at the orchestration boundary.
	ErrCritical
)

// Error constructors
func NewNotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func NewBadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    ErrBadRequest,
		Message: message,
		Err:     err,
	}
}

func NewInternal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal server error",
		Err:     err,
	}
}

func Unauthorized(err error) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Message: "unauthorized",
		Err:     err,
	}
}

func Validation(message string, err error) *AppError {
	return &AppError{
		Code:    ErrValidation,
		Message: message,
		Err:     err,
	}
}

func Duplicate(message string) *AppError {
	return &AppError{
		Code:    ErrDuplicate,
		Message: message,
	}
}

func Transport(message string, err error) *AppError {
	return &AppError{
		Code:    ErrTransport,
		Message: message,
		Err:     err,
	}
}

func IdentityUnavailable(recipientType, recipientID string) *AppError {
	return &AppError{
		Code:    ErrIdentityUnavailable,
		Message: fmt.Sprintf("no LINE ID found or notifications disabled for %s %s", recipientType, recipientID),
	}
}

func Critical(err error) *AppError {
	return &AppError{
		Code:    ErrCritical,
		Message: "critical error",
		Err:     err,
	}
}

// CodeOf returns the code of the first AppError in err's chain, or 0.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return 0
}

// Is reports whether err's chain carries an AppError with the given code.
func Is(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}
