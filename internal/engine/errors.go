package engine

import (
	"errors"
	"fmt"
	"time"
)

// Error codes returned to callers.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeAlreadyExists     = "ALREADY_EXISTS"
	ErrCodeDuplicateURL      = "DUPLICATE_URL"
	ErrCodeConflict          = "CONFLICT"
	ErrCodePersistence       = "PERSISTENCE_ERROR"
	ErrCodeRateLimited       = "RATE_LIMITED"
	ErrCodeSessionExpired    = "SESSION_EXPIRED"
	ErrCodeInvalidChoice     = "INVALID_CHOICE"
	ErrCodeUnsupportedFormat = "UNSUPPORTED_FORMAT"
)

// AppError is a caller-facing failure with a stable code.
type AppError struct {
	Code    string
	Message string
	Err     error

	// Related names the other site involved in ALREADY_EXISTS, DUPLICATE_URL and CONFLICT.
	Related string
	// RedirectExists is set on ALREADY_EXISTS when the site's redirect page is present.
	RedirectExists bool
	// RetryAfter is set on RATE_LIMITED.
	RetryAfter time.Duration
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Err.Error())
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates an AppError.
func NewAppError(code, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

func newValidationError(message string, err error) *AppError {
	return NewAppError(ErrCodeValidation, message, err)
}

func newNotFoundError(name string) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: fmt.Sprintf("website %q not found", name), Related: name}
}

func newPersistenceError(err error) *AppError {
	return NewAppError(ErrCodePersistence, "failed to save configuration", err)
}

// IsCode reports whether err is an AppError carrying code.
func IsCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// AsAppError extracts the AppError from err.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	ok := errors.As(err, &appErr)
	return appErr, ok
}
