// Package apperr defines the application error taxonomy shared across
// services, adapters and the HTTP layer. Every error that crosses a
// service boundary should be an *AppError so handlers can map it to a
// response without string matching.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode is a stable, machine-readable error identifier.
type ErrorCode string

const (
	CodeInvalidInput         ErrorCode = "INVALID_INPUT"
	CodeInvalidState         ErrorCode = "INVALID_STATE"
	CodeConflict             ErrorCode = "CONFLICT"
	CodeNotFound             ErrorCode = "NOT_FOUND"
	CodeUnauthorized         ErrorCode = "UNAUTHORIZED"
	CodeForbidden            ErrorCode = "FORBIDDEN"
	CodeUnsupportedOperation ErrorCode = "UNSUPPORTED_OPERATION"
	CodeProviderError        ErrorCode = "PROVIDER_ERROR"
	CodeOAuthFailed          ErrorCode = "OAUTH_FAILED"
	CodeDatabaseError        ErrorCode = "DATABASE_ERROR"
	CodeConfigError          ErrorCode = "CONFIG_ERROR"
	CodeTimeout              ErrorCode = "TIMEOUT"
	CodeInternal             ErrorCode = "INTERNAL_ERROR"
)

// AppError carries a code, a human readable message, the HTTP status the
// error maps to, and optional structured details.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Status  int            `json:"-"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail returns a copy of the error with an extra detail attached.
func (e *AppError) WithDetail(key string, value any) *AppError {
	clone := *e
	clone.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		clone.Details[k] = v
	}
	clone.Details[key] = value
	return &clone
}

// WithError returns a copy of the error wrapping the given cause.
func (e *AppError) WithError(err error) *AppError {
	clone := *e
	clone.Err = err
	return &clone
}

// HTTPStatus returns the HTTP status the error maps to, defaulting to 500.
func (e *AppError) HTTPStatus() int {
	if e.Status == 0 {
		return http.StatusInternalServerError
	}
	return e.Status
}

// New builds an AppError with an explicit code, message and status.
func New(code ErrorCode, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, Status: status}
}

// Wrap builds an AppError around an existing error.
func Wrap(err error, code ErrorCode, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, Status: status, Err: err}
}

// ============================================================
// Constructors per code
// ============================================================

// InvalidInput reports a request field that failed validation.
func InvalidInput(field, reason string) *AppError {
	return &AppError{
		Code:    CodeInvalidInput,
		Message: fmt.Sprintf("invalid input: %s", reason),
		Status:  http.StatusBadRequest,
		Details: map[string]any{"field": field},
	}
}

// InvalidState reports an operation rejected by the entity's current state,
// for example a status transition the state machine does not allow.
func InvalidState(message string) *AppError {
	return &AppError{Code: CodeInvalidState, Message: message, Status: http.StatusConflict}
}

// Conflict reports a scheduling or uniqueness conflict.
func Conflict(message string) *AppError {
	return &AppError{Code: CodeConflict, Message: message, Status: http.StatusConflict}
}

// NotFound reports a missing resource by name.
func NotFound(resource string) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Status:  http.StatusNotFound,
	}
}

// Unauthorized reports a missing or invalid credential.
func Unauthorized(message string) *AppError {
	if message == "" {
		message = "authentication required"
	}
	return &AppError{Code: CodeUnauthorized, Message: message, Status: http.StatusUnauthorized}
}

// Forbidden reports a credential that lacks access to the resource.
func Forbidden(message string) *AppError {
	if message == "" {
		message = "access denied"
	}
	return &AppError{Code: CodeForbidden, Message: message, Status: http.StatusForbidden}
}

// UnsupportedOperation reports a capability the target provider does not
// implement, such as webhook subscriptions on a pull-only provider.
func UnsupportedOperation(operation string) *AppError {
	return &AppError{
		Code:    CodeUnsupportedOperation,
		Message: fmt.Sprintf("operation not supported: %s", operation),
		Status:  http.StatusNotImplemented,
	}
}

// ProviderError reports a failure from an external calendar provider.
func ProviderError(provider string, err error) *AppError {
	return &AppError{
		Code:    CodeProviderError,
		Message: fmt.Sprintf("provider %s request failed", provider),
		Status:  http.StatusBadGateway,
		Details: map[string]any{"provider": provider},
		Err:     err,
	}
}

// OAuthFailed reports a token exchange or refresh failure.
func OAuthFailed(provider string, err error) *AppError {
	return &AppError{
		Code:    CodeOAuthFailed,
		Message: fmt.Sprintf("oauth flow failed for %s", provider),
		Status:  http.StatusBadGateway,
		Details: map[string]any{"provider": provider},
		Err:     err,
	}
}

// DatabaseError reports a persistence failure.
func DatabaseError(operation string, err error) *AppError {
	return &AppError{
		Code:    CodeDatabaseError,
		Message: fmt.Sprintf("database operation failed: %s", operation),
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// ConfigError reports missing or inconsistent configuration.
func ConfigError(message string) *AppError {
	return &AppError{Code: CodeConfigError, Message: message, Status: http.StatusInternalServerError}
}

// Timeout reports an operation that exceeded its deadline.
func Timeout(operation string) *AppError {
	return &AppError{
		Code:    CodeTimeout,
		Message: fmt.Sprintf("operation timed out: %s", operation),
		Status:  http.StatusGatewayTimeout,
	}
}

// Internal reports an unexpected failure.
func Internal(message string, err error) *AppError {
	if message == "" {
		message = "internal error"
	}
	return &AppError{Code: CodeInternal, Message: message, Status: http.StatusInternalServerError, Err: err}
}

// ============================================================
// Common instances
// ============================================================

var (
	ErrUnauthorized = Unauthorized("")
	ErrForbidden    = Forbidden("")
)

// ============================================================
// Inspection helpers
// ============================================================

// IsAppError reports whether err is or wraps an *AppError.
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError extracts an *AppError from err if present.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether err carries the given error code.
func HasCode(err error, code ErrorCode) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == code
	}
	return false
}

// GetHTTPStatus returns the HTTP status for any error.
func GetHTTPStatus(err error) int {
	if appErr, ok := AsAppError(err); ok {
		return appErr.HTTPStatus()
	}
	return http.StatusInternalServerError
}
