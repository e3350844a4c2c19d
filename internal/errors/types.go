// Package errors defines the typed application errors shared by the sync
// engine and the HTTP layer.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType classifies an application error.
type ErrorType string

const (
	ErrTypeValidation  ErrorType = "validation"
	ErrTypeNotFound    ErrorType = "not_found"
	ErrTypeAuthExpired ErrorType = "auth_expired"
	ErrTypeConfig      ErrorType = "config"
	ErrTypeConflict    ErrorType = "conflict"
	ErrTypeInternal    ErrorType = "internal"
)

// AppError is a structured application error.
type AppError struct {
	Type    ErrorType      `json:"type"`
	Message string         `json:"message"`
	Code    string         `json:"code,omitempty"`
	Cause   error          `json:"-"`
	Context map[string]any `json:"context,omitempty"`
}

func (e *AppError) Error() string {
	parts := []string{string(e.Type), e.Message}
	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}
	return strings.Join(parts, ": ")
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext attaches a key/value pair to the error.
func (e *AppError) WithContext(key string, value any) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithCode sets a machine-readable error code.
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

func ValidationError(msg string) *AppError {
	return &AppError{Type: ErrTypeValidation, Message: msg}
}

// NotFoundError reports a missing resource, e.g. NotFoundError("conflict").
func NotFoundError(resource string) *AppError {
	return &AppError{Type: ErrTypeNotFound, Message: fmt.Sprintf("%s not found", resource)}
}

// AuthExpiredError reports that an integration's credentials could not be
// refreshed and the integration must be reconnected.
func AuthExpiredError(msg string, cause error) *AppError {
	return &AppError{Type: ErrTypeAuthExpired, Message: msg, Cause: cause}
}

func ConfigError(msg string) *AppError {
	return &AppError{Type: ErrTypeConfig, Message: msg}
}

func ConflictError(msg string) *AppError {
	return &AppError{Type: ErrTypeConflict, Message: msg}
}

func InternalError(msg string, cause error) *AppError {
	return &AppError{Type: ErrTypeInternal, Message: msg, Cause: cause}
}

// IsType reports whether err, or any error it wraps, is an AppError of the
// given type.
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// GetType returns the ErrorType of err, or ErrTypeInternal when err is not an
// AppError.
func GetType(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrTypeInternal
}
