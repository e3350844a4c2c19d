package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/availability-sync/backend/internal/api/middleware"
	"github.com/availability-sync/backend/internal/conflict"
	"github.com/availability-sync/backend/internal/storage"
	"github.com/availability-sync/backend/internal/storage/models"
)

// ResolveConflictRequest is the body of a resolution command.
type ResolveConflictRequest struct {
	Resolution string `json:"resolution"`
	ResolverID string `json:"resolver_id"`
}

// ConflictNotifier is told about resolved conflicts.
type ConflictNotifier interface {
	ConflictResolved(c *models.SyncConflict)
}

// ListConflicts returns a salon's conflicts, newest first. Supports
// ?pending=true and ?professional_id=.
func ListConflicts(conflicts *storage.ConflictRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pending, _ := strconv.ParseBool(r.URL.Query().Get("pending"))

		list, err := conflicts.List(r.Context(), storage.ConflictFilter{
			SalonID:        mux.Vars(r)["salonId"],
			ProfessionalID: r.URL.Query().Get("professional_id"),
			PendingOnly:    pending,
		})
		if err != nil {
			middleware.WriteAppError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, list)
	}
}

// ResolveConflict applies a resolution to a pending conflict.
func ResolveConflict(resolver *conflict.Resolver, notifier ConflictNotifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ResolveConflictRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid request body")
			return
		}
		if req.Resolution == "" || req.ResolverID == "" {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "resolution and resolver_id are required")
			return
		}

		resolved, err := resolver.Resolve(r.Context(), mux.Vars(r)["id"], req.Resolution, req.ResolverID)
		if err != nil {
			middleware.WriteAppError(w, err)
			return
		}

		if notifier != nil {
			notifier.ConflictResolved(resolved)
		}
		writeJSON(w, http.StatusOK, resolved)
	}
}
