package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError provides a structured error that can be rendered to clients,
// both over HTTP (pre-upgrade failures) and as websocket error events.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Internal   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}

	if e.Internal != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Internal)
	}

	return e.Message
}

// Unwrap exposes the internal error for errors.Is / errors.As compatibility.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
}

// Is matches AppErrors by code, so copies produced by WithInternal and
// WithMessage still compare equal to their taxonomy value under errors.Is.
func (e *AppError) Is(target error) bool {
	if e == nil {
		return target == nil
	}

	other, ok := target.(*AppError)
	if !ok {
		return false
	}

	return e.Code == other.Code
}

// WithInternal returns a copy of the AppError with an attached internal error.
func (e *AppError) WithInternal(err error) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Internal = err
	return &cpy
}

// WithMessage returns a copy of the AppError carrying a more specific
// client-visible message while keeping the machine code stable.
func (e *AppError) WithMessage(message string) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Message = message
	return &cpy
}

// Gateway error taxonomy. Codes are stable identifiers consumed by clients;
// messages are safe to echo and never contain datastore or token internals.
var (
	ErrMissingCredentials = &AppError{
		Code:       "MISSING_CREDENTIALS",
		Message:    "No authentication token provided",
		StatusCode: http.StatusUnauthorized,
	}

	ErrInvalidToken = &AppError{
		Code:       "INVALID_TOKEN",
		Message:    "Authentication token is invalid",
		StatusCode: http.StatusUnauthorized,
	}

	ErrExpiredToken = &AppError{
		Code:       "EXPIRED_TOKEN",
		Message:    "Authentication token has expired",
		StatusCode: http.StatusUnauthorized,
	}

	ErrRevokedToken = &AppError{
		Code:       "REVOKED_TOKEN",
		Message:    "Refresh token has been revoked",
		StatusCode: http.StatusUnauthorized,
	}

	ErrUserUnavailable = &AppError{
		Code:       "USER_UNAVAILABLE",
		Message:    "User account is unavailable or inactive",
		StatusCode: http.StatusUnauthorized,
	}

	ErrUnverifiedAccount = &AppError{
		Code:       "UNVERIFIED_ACCOUNT",
		Message:    "User account has not been verified",
		StatusCode: http.StatusForbidden,
	}

	ErrNoValidSession = &AppError{
		Code:       "NO_VALID_SESSION",
		Message:    "No active session found for user",
		StatusCode: http.StatusUnauthorized,
	}

	ErrInsufficientPermissions = &AppError{
		Code:       "INSUFFICIENT_PERMISSIONS",
		Message:    "Insufficient permissions for this namespace",
		StatusCode: http.StatusForbidden,
	}

	ErrTokenUserMismatch = &AppError{
		Code:       "TOKEN_USER_MISMATCH",
		Message:    "Refresh token does not belong to the connected user",
		StatusCode: http.StatusForbidden,
	}

	ErrRateLimitExceeded = &AppError{
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "Too many requests, please slow down",
		StatusCode: http.StatusTooManyRequests,
	}

	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	ErrInternalServer = &AppError{
		Code:       "INTERNAL_SERVER_ERROR",
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}
)

// New builds a new application error with the provided metadata.
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap turns any error into an AppError while keeping the original error for logging.
func Wrap(err error, message string) *AppError {
	return &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Internal:   err,
	}
}

// FromError converts a generic error into an AppError, defaulting to ErrInternalServer.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	return ErrInternalServer.WithInternal(err)
}

// NewBadRequest wraps validation errors with a helpful message.
func NewBadRequest(message string) *AppError {
	return &AppError{
		Code:       ErrBadRequest.Code,
		Message:    message,
		StatusCode: ErrBadRequest.StatusCode,
	}
}
