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
	Details []string  `json:"details,omitempty"`
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

// StatusCode maps the error code onto an HTTP status.
func (e *AppError) StatusCode() int {
	switch e.Code {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrBadRequest, ErrValidation:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrInvalidState:
		return http.StatusUnprocessableEntity
	case ErrConflict, ErrAlreadyConfirmed:
		return http.StatusConflict
	case ErrTooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Common error codes
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrBadRequest
	ErrUnauthorized
	ErrForbidden
	ErrInternal
	ErrInvalidState
	ErrConflict
	ErrAlreadyConfirmed
	ErrValidation
	ErrTooManyRequests
)

var codeNames = map[ErrorCode]string{
	ErrNotFound:         "NOT_FOUND",
	ErrBadRequest:       "BAD_REQUEST",
	ErrUnauthorized:     "UNAUTHORIZED",
	ErrForbidden:        "FORBIDDEN",
	ErrInternal:         "INTERNAL",
	ErrInvalidState:     "INVALID_STATE",
	ErrConflict:         "CONFLICT",
	ErrAlreadyConfirmed: "ALREADY_CONFIRMED",
	ErrValidation:       "VALIDATION_ERROR",
	ErrTooManyRequests:  "TOO_MANY_REQUESTS",
}

func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ERROR_%d", int(c))
}

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

func NotFound(resource string, err error) *AppError {
	return NewNotFound(resource, err)
}

func BadRequest(message string, err error) *AppError {
	return NewBadRequest(message, err)
}

func Internal(err error) *AppError {
	return NewInternal(err)
}

func Unauthorized(message string) *AppError {
	return &AppError{Code: ErrUnauthorized, Message: message}
}

func Forbidden(message string) *AppError {
	return &AppError{Code: ErrForbidden, Message: message}
}

func InvalidState(message string) *AppError {
	return &AppError{Code: ErrInvalidState, Message: message}
}

func Conflict(message string, err error) *AppError {
	return &AppError{Code: ErrConflict, Message: message, Err: err}
}

func AlreadyConfirmed(message string) *AppError {
	return &AppError{Code: ErrAlreadyConfirmed, Message: message}
}

func Validation(message string, details ...string) *AppError {
	return &AppError{Code: ErrValidation, Message: message, Details: details}
}

func TooManyRequests(message string) *AppError {
	return &AppError{Code: ErrTooManyRequests, Message: message}
}

// IsCode reports whether any error in err's chain is an AppError with code.
func IsCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// As is a shorthand for extracting an AppError from an error chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	ok := stderrors.As(err, &appErr)
	return appErr, ok
}
