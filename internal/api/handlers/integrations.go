package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/availability-sync/backend/internal/api/middleware"
	"github.com/availability-sync/backend/internal/calendar"
	"github.com/availability-sync/backend/internal/integration"
	"github.com/availability-sync/backend/internal/storage"
	"github.com/availability-sync/backend/internal/storage/models"
)

const (
	defaultLogLimit = 20
	maxLogLimit     = 100
)

// GetIntegrationStatus returns the integration of one professional.
func GetIntegrationStatus(svc *integration.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)

		integ, err := svc.Status(r.Context(), vars["salonId"], vars["professionalId"])
		if err != nil {
			middleware.WriteAppError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, integ)
	}
}

// ListIntegrationCalendars lists the writable calendars of the connected account.
func ListIntegrationCalendars(svc *integration.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		calendars, err := svc.ListCalendars(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			middleware.WriteAppError(w, err)
			return
		}
		if calendars == nil {
			calendars = []models.CalendarInfo{}
		}

		writeJSON(w, http.StatusOK, calendars)
	}
}

// UpdateIntegrationSettings changes direction, enablement or target calendar.
func UpdateIntegrationSettings(svc *integration.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req integration.Settings
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid request body")
			return
		}

		integ, err := svc.UpdateSettings(r.Context(), mux.Vars(r)["id"], req)
		if err != nil {
			middleware.WriteAppError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, integ)
	}
}

// DisconnectIntegration clears credentials and disables the integration.
func DisconnectIntegration(svc *integration.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Disconnect(r.Context(), mux.Vars(r)["id"]); err != nil {
			middleware.WriteAppError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// TriggerSync runs a sync pass immediately and returns its result.
// ?full=true labels the run FULL instead of MANUAL.
func TriggerSync(scheduler *calendar.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		full, _ := strconv.ParseBool(r.URL.Query().Get("full"))

		result, err := scheduler.TriggerSync(r.Context(), mux.Vars(r)["id"], full)
		if err != nil {
			middleware.WriteAppError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}

// SyncLogsResponse is one page of sync logs.
type SyncLogsResponse struct {
	Logs  []models.SyncLog `json:"logs"`
	Total int              `json:"total"`
	Page  int              `json:"page"`
	Limit int              `json:"limit"`
}

// ListSyncLogs returns an integration's sync logs, newest first.
func ListSyncLogs(svc *integration.Service, logs *storage.SyncLogRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id := mux.Vars(r)["id"]

		if _, err := svc.Get(ctx, id); err != nil {
			middleware.WriteAppError(w, err)
			return
		}

		page := queryInt(r, "page", 1)
		if page < 1 {
			page = 1
		}
		limit := queryInt(r, "limit", defaultLogLimit)
		if limit < 1 || limit > maxLogLimit {
			limit = defaultLogLimit
		}

		entries, total, err := logs.ListByIntegration(ctx, id, limit, (page-1)*limit)
		if err != nil {
			middleware.WriteAppError(w, err)
			return
		}
		if entries == nil {
			entries = []models.SyncLog{}
		}

		writeJSON(w, http.StatusOK, SyncLogsResponse{Logs: entries, Total: total, Page: page, Limit: limit})
	}
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return def
	}
	return v
}
