// Package handlers provides HTTP request handlers for the API endpoints.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/availability-sync/backend/internal/storage"
)

// NextRunner reports the next scheduled sync.
type NextRunner interface {
	NextRun() *time.Time
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status           string     `json:"status"`
	DBConnected      bool       `json:"db_connected"`
	GoogleConfigured bool       `json:"google_configured"`
	NextSyncAt       *time.Time `json:"next_sync_at,omitempty"`
}

// HealthCheck returns a handler that performs a health check.
func HealthCheck(db *storage.DB, googleConfigured bool, scheduler NextRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		dbConnected := db.Healthy(ctx) == nil

		status := "healthy"
		if !dbConnected {
			status = "degraded"
		}

		response := HealthResponse{
			Status:           status,
			DBConnected:      dbConnected,
			GoogleConfigured: googleConfigured,
		}
		if scheduler != nil {
			response.NextSyncAt = scheduler.NextRun()
		}

		w.Header().Set("Content-Type", "application/json")
		if status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(response)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
