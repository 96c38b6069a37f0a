// Package apperr defines the canonical error taxonomy returned by the core.
// Every failure that crosses a service boundary is one of these codes; the
// HTTP layer maps codes to status codes and never inspects messages.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Code identifies a stable, client-facing error kind.
type Code string

const (
	CodeMissingParam    Code = "MISSING_PARAM"
	CodeInvalidParam    Code = "INVALID_PARAM"
	CodeInvalidSymbol   Code = "INVALID_SYMBOL"
	CodeInvalidInterval Code = "INVALID_INTERVAL"
	CodeInvalidRange    Code = "INVALID_RANGE"
	CodeInvalidLimit    Code = "INVALID_LIMIT"
	CodeTooManySymbols  Code = "TOO_MANY_SYMBOLS"
	CodeBadRequest      Code = "BAD_REQUEST"

	CodeSymbolNotFound Code = "SYMBOL_NOT_FOUND"
	CodeNotFound       Code = "NOT_FOUND"

	CodeRateLimit         Code = "RATE_LIMIT"
	CodeProviderThrottled Code = "PROVIDER_THROTTLED"

	CodeNetworkError    Code = "NETWORK_ERROR"
	CodeProviderError   Code = "PROVIDER_ERROR"
	CodeValidationError Code = "VALIDATION_ERROR"

	CodeCircuitOpen Code = "CIRCUIT_OPEN"

	CodeUnauthorized    Code = "UNAUTHORIZED"
	CodeMissingToken    Code = "MISSING_TOKEN"
	CodeInvalidPassword Code = "INVALID_PASSWORD"

	CodeInternalError Code = "INTERNAL_ERROR"

	CodeInvalidCategory Code = "INVALID_CATEGORY"
	CodeAIRateLimit     Code = "AI_RATE_LIMIT"
	CodeAIAuthError     Code = "AI_AUTH_ERROR"
	CodeAIError         Code = "AI_ERROR"
)

// Error carries a taxonomy code, a human-readable message and optional
// retry hint. It wraps the underlying cause when one exists.
type Error struct {
	Code       Code
	Message    string
	RetryAfter time.Duration
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a taxonomy error with a formatted message.
func New(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a taxonomy error that preserves the underlying cause.
func Wrap(code Code, err error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: err}
}

// CircuitOpen builds the CIRCUIT_OPEN rejection with a retry hint.
func CircuitOpen(name string, retryAfter time.Duration) *Error {
	return &Error{
		Code:       CodeCircuitOpen,
		Message:    fmt.Sprintf("circuit breaker %s is open", name),
		RetryAfter: retryAfter,
	}
}

// From coerces an arbitrary error to a taxonomy error. Unknown errors
// become INTERNAL_ERROR so that the HTTP boundary never leaks raw causes.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return &Error{Code: CodeInternalError, Message: "unexpected error", cause: err}
}

// Is reports whether err carries the given taxonomy code.
func Is(err error, code Code) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Code == code
}

// httpStatus maps every code to the HTTP status surfaced to clients.
var httpStatus = map[Code]int{
	CodeMissingParam:    http.StatusBadRequest,
	CodeInvalidParam:    http.StatusBadRequest,
	CodeInvalidSymbol:   http.StatusBadRequest,
	CodeInvalidInterval: http.StatusBadRequest,
	CodeInvalidRange:    http.StatusBadRequest,
	CodeInvalidLimit:    http.StatusBadRequest,
	CodeTooManySymbols:  http.StatusBadRequest,
	CodeBadRequest:      http.StatusBadRequest,
	CodeInvalidCategory: http.StatusBadRequest,
	CodeValidationError: http.StatusBadRequest,

	CodeUnauthorized:    http.StatusUnauthorized,
	CodeMissingToken:    http.StatusUnauthorized,
	CodeInvalidPassword: http.StatusUnauthorized,

	CodeSymbolNotFound: http.StatusNotFound,
	CodeNotFound:       http.StatusNotFound,

	CodeRateLimit:         http.StatusTooManyRequests,
	CodeProviderThrottled: http.StatusTooManyRequests,
	CodeAIRateLimit:       http.StatusTooManyRequests,

	CodeProviderError: http.StatusBadGateway,
	CodeAIError:       http.StatusBadGateway,

	CodeNetworkError: http.StatusServiceUnavailable,
	CodeAIAuthError:  http.StatusServiceUnavailable,
	CodeCircuitOpen:  http.StatusServiceUnavailable,

	CodeInternalError: http.StatusInternalServerError,
}

// HTTPStatus returns the status for a code, defaulting to 500.
func HTTPStatus(code Code) int {
	if s, ok := httpStatus[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}
