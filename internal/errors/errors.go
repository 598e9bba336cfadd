// Package errors defines the application error taxonomy shared by the HTTP API, the bot and background jobs.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

const (
	CodeInvalidRequest      = "E400"
	CodeForbidden           = "E403"
	CodeNotFound            = "E404"
	CodeConflict            = "E409"
	CodeRateLimited         = "E429"
	CodeDatabase            = "E200"
	CodeSendFailed          = "E502"
	CodeUpstreamUnavailable = "E503"
	CodeInternal            = "E500"
)

type AppError struct {
	Code        string
	Message     string
	UserMessage string
	Severity    Severity
	Retryable   bool
	cause       error
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}

	return e.Message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.cause
}

func (e *AppError) Cause() error {
	return e.Unwrap()
}

// HTTPStatus maps the error code onto the status returned by the internal API.
func (e *AppError) HTTPStatus() int {
	if e == nil {
		return http.StatusInternalServerError
	}

	switch e.Code {
	case CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeSendFailed, CodeUpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func NewInvalidRequestError(msg string) *AppError {
	return &AppError{
		Code:        CodeInvalidRequest,
		Message:     msg,
		UserMessage: msg,
		Severity:    SeverityLow,
	}
}

func NewForbiddenError(msg string) *AppError {
	return &AppError{
		Code:        CodeForbidden,
		Message:     msg,
		UserMessage: msg,
		Severity:    SeverityLow,
	}
}

func NewNotFoundError(msg string) *AppError {
	return &AppError{
		Code:        CodeNotFound,
		Message:     msg,
		UserMessage: msg,
		Severity:    SeverityLow,
	}
}

func NewConflictError(msg string, cause error) *AppError {
	return &AppError{
		Code:        CodeConflict,
		Message:     msg,
		UserMessage: msg,
		Severity:    SeverityLow,
		Retryable:   true,
		cause:       cause,
	}
}

func NewSendFailedError(channel string, cause error) *AppError {
	return &AppError{
		Code:        CodeSendFailed,
		Message:     fmt.Sprintf("%s delivery failed", channel),
		UserMessage: "Failed to send notification",
		Severity:    SeverityMedium,
		Retryable:   true,
		cause:       cause,
	}
}

func NewUpstreamUnavailableError(service string, cause error) *AppError {
	return &AppError{
		Code:        CodeUpstreamUnavailable,
		Message:     fmt.Sprintf("%s unavailable", service),
		UserMessage: "Service temporarily unavailable",
		Severity:    SeverityMedium,
		Retryable:   true,
		cause:       cause,
	}
}

func NewDatabaseError(cause error) *AppError {
	var underlyingMsg string
	if cause != nil {
		underlyingMsg = cause.Error()
	}

	return &AppError{
		Code:        CodeDatabase,
		Message:     fmt.Sprintf("Database error: %s", underlyingMsg),
		UserMessage: "Temporary problem, try again later",
		Severity:    SeverityHigh,
		Retryable:   true,
		cause:       cause,
	}
}

func NewRateLimitError(retryAfter int) *AppError {
	return &AppError{
		Code:        CodeRateLimited,
		Message:     fmt.Sprintf("Rate limit exceeded: retry after %d seconds", retryAfter),
		UserMessage: fmt.Sprintf("Too many attempts. Try again in %d seconds", retryAfter),
		Severity:    SeverityLow,
	}
}

func NewInternalError(cause error) *AppError {
	return &AppError{
		Code:        CodeInternal,
		Message:     "internal error",
		UserMessage: "Something went wrong",
		Severity:    SeverityCritical,
		cause:       cause,
	}
}

// HasCode reports whether err wraps an AppError with the given code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr != nil {
		return appErr.Code == code
	}
	return false
}

// AsAppError returns the AppError in err's chain, or wraps err as an internal error.
func AsAppError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) && appErr != nil {
		return appErr
	}

	return NewInternalError(err)
}
