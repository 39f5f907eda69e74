package apierrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is the machine-readable classification every operation failure
// carries across the API boundary.
type Code string

const (
	CodeValidation        Code = "VALIDATION_ERROR"
	CodeInsufficientFunds Code = "INSUFFICIENT_FUNDS"
	CodeLockContention    Code = "LOCK_CONTENTION"
	CodeNotFound          Code = "NOT_FOUND"
	CodeConflict          Code = "CONFLICT"
	CodeUnauthorized      Code = "UNAUTHORIZED"
	CodeRateLimited       Code = "RATE_LIMITED"
	CodeInternal          Code = "INTERNAL_ERROR"
)

// AppError is a coded, caller-safe error. Everything the wallet engine
// refuses to do is reported through one of these; raw persistence errors are
// wrapped as CodeInternal before leaving the service layer.
type AppError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	return e.Message
}

// HTTPStatus maps the error code to a transport status.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case CodeValidation, CodeInsufficientFunds:
		return http.StatusBadRequest
	case CodeLockContention:
		return http.StatusConflict
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func New(code Code, message string, details ...string) *AppError {
	var detail string
	if len(details) > 0 {
		detail = details[0]
	}
	return &AppError{Code: code, Message: message, Details: detail}
}

func NewValidation(format string, args ...interface{}) *AppError {
	return New(CodeValidation, fmt.Sprintf(format, args...))
}

func NewInsufficientFunds(format string, args ...interface{}) *AppError {
	return New(CodeInsufficientFunds, fmt.Sprintf(format, args...))
}

func NewLockContention(resource string) *AppError {
	return New(CodeLockContention, fmt.Sprintf("another operation is in progress for %s, try again", resource))
}

func NewNotFound(resource string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource))
}

func NewConflict(format string, args ...interface{}) *AppError {
	return New(CodeConflict, fmt.Sprintf(format, args...))
}

func NewInternal(message string, details ...string) *AppError {
	return New(CodeInternal, message, details...)
}

// From converts any error into an *AppError, passing coded errors through
// and wrapping everything else as internal.
func From(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return NewInternal("internal error", err.Error())
}

// IsCode reports whether err is an AppError with the given code.
func IsCode(err error, code Code) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}
