// Package middleware provides HTTP middleware for the API.
package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	apperrors "github.com/availability-sync/backend/internal/errors"
	"github.com/availability-sync/backend/internal/logging"
)

// ErrorResponse represents a standardized API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// WriteError writes a JSON error response with the given status code.
func WriteError(w http.ResponseWriter, status int, errCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   errCode,
		Message: message,
	})
}

// WriteAppError maps err to a status code by its application error type.
// Unclassified errors are logged and reported as a generic 500 so provider
// responses and internal details never reach the client.
func WriteAppError(w http.ResponseWriter, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		logging.Error("Unhandled request error", err)
		WriteError(w, http.StatusInternalServerError, ErrInternalError, "An unexpected error occurred")
		return
	}

	switch appErr.Type {
	case apperrors.ErrTypeNotFound:
		WriteError(w, http.StatusNotFound, ErrNotFound, appErr.Message)
	case apperrors.ErrTypeValidation:
		WriteError(w, http.StatusBadRequest, ErrValidation, appErr.Message)
	case apperrors.ErrTypeAuthExpired:
		WriteError(w, http.StatusUnauthorized, ErrUnauthorized, appErr.Message)
	case apperrors.ErrTypeConflict:
		WriteError(w, http.StatusConflict, ErrConflict, appErr.Message)
	case apperrors.ErrTypeConfig:
		WriteError(w, http.StatusServiceUnavailable, ErrNotConfigured, appErr.Message)
	default:
		logging.Error("Request failed", err)
		WriteError(w, http.StatusInternalServerError, ErrInternalError, "An unexpected error occurred")
	}
}

// ErrorRecovery is middleware that recovers from panics and returns a 500 error.
func ErrorRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logging.Error("Panic recovered", fmt.Errorf("%v", rec),
					logging.String("path", r.URL.Path),
					logging.String("stack", string(debug.Stack())))
				WriteError(w, http.StatusInternalServerError, ErrInternalError, "An unexpected error occurred")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Common error codes
const (
	ErrNotFound      = "not_found"
	ErrBadRequest    = "bad_request"
	ErrConflict      = "conflict"
	ErrInternalError = "internal_error"
	ErrValidation    = "validation_error"
	ErrUnauthorized  = "unauthorized"
	ErrNotConfigured = "not_configured"
)
