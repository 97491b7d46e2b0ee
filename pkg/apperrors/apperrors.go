package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation           Code = "VALIDATION"
	CodeForbidden            Code = "FORBIDDEN"
	CodeNotFound             Code = "NOT_FOUND"
	CodeConflict             Code = "CONFLICT"
	CodeTransportUnavailable Code = "TRANSPORT_UNAVAILABLE"
)

// AppError carries a machine-readable code alongside the message so
// boundaries (api handlers, the render sink) can map failures without
// string matching.
type AppError struct {
	Code    Code
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(err error, code Code, message string) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

func Validation(format string, args ...any) *AppError {
	return New(CodeValidation, format, args...)
}

func Forbidden(format string, args ...any) *AppError {
	return New(CodeForbidden, format, args...)
}

func NotFound(format string, args ...any) *AppError {
	return New(CodeNotFound, format, args...)
}

func Conflict(format string, args ...any) *AppError {
	return New(CodeConflict, format, args...)
}

func TransportUnavailable(format string, args ...any) *AppError {
	return New(CodeTransportUnavailable, format, args...)
}

func Is(err error, code Code) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

func IsValidation(err error) bool  { return Is(err, CodeValidation) }
func IsForbidden(err error) bool   { return Is(err, CodeForbidden) }
func IsNotFound(err error) bool    { return Is(err, CodeNotFound) }
func IsConflict(err error) bool    { return Is(err, CodeConflict) }
func IsTransportUnavailable(err error) bool {
	return Is(err, CodeTransportUnavailable)
}

// HTTPStatus maps an error to a response status for the api service.
func HTTPStatus(err error) int {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return http.StatusInternalServerError
	}
	switch appErr.Code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeTransportUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
