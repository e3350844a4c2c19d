// Package api provides HTTP routing and handlers for the REST API.
package api

import (
	"github.com/gorilla/mux"

	"github.com/availability-sync/backend/internal/api/handlers"
	"github.com/availability-sync/backend/internal/api/middleware"
	"github.com/availability-sync/backend/internal/calendar"
	"github.com/availability-sync/backend/internal/conflict"
	"github.com/availability-sync/backend/internal/integration"
	"github.com/availability-sync/backend/internal/storage"
	"github.com/availability-sync/backend/internal/websocket"
)

// Services holds everything the router dispatches to.
type Services struct {
	DB           *storage.DB
	Hub          *websocket.Hub
	Broadcaster  *websocket.EventBroadcaster
	Integrations *integration.Service
	Scheduler    *calendar.Scheduler
	Logs         *storage.SyncLogRepository
	Conflicts    *storage.ConflictRepository
	Resolver     *conflict.Resolver

	// Consent and States are nil when Google OAuth is not configured.
	Consent handlers.ConsentURLer
	States  *handlers.StateSigner
}

// NewRouter creates and configures the HTTP router with all API routes.
func NewRouter(s Services) *mux.Router {
	r := mux.NewRouter()

	// Apply global middleware
	r.Use(middleware.Logging)
	r.Use(middleware.ErrorRecovery)

	api := r.PathPrefix("/api").Subrouter()

	var nextRunner handlers.NextRunner
	if s.Scheduler != nil {
		nextRunner = s.Scheduler
	}
	api.HandleFunc("/health", handlers.HealthCheck(s.DB, s.States != nil, nextRunner)).Methods("GET")

	if s.Hub != nil {
		api.HandleFunc("/ws", handlers.WebSocketUpgrade(s.Hub)).Methods("GET")
	}

	// OAuth connect flow
	api.HandleFunc("/oauth/connect", handlers.OAuthConnect(s.Consent, s.States)).Methods("GET")
	api.HandleFunc("/oauth/callback", handlers.OAuthCallback(s.Integrations, s.States)).Methods("GET")

	// Integration registry
	api.HandleFunc("/salons/{salonId}/professionals/{professionalId}/integration", handlers.GetIntegrationStatus(s.Integrations)).Methods("GET")
	api.HandleFunc("/integrations/{id}/calendars", handlers.ListIntegrationCalendars(s.Integrations)).Methods("GET")
	api.HandleFunc("/integrations/{id}/settings", handlers.UpdateIntegrationSettings(s.Integrations)).Methods("PUT")
	api.HandleFunc("/integrations/{id}", handlers.DisconnectIntegration(s.Integrations)).Methods("DELETE")
	api.HandleFunc("/integrations/{id}/sync", handlers.TriggerSync(s.Scheduler)).Methods("POST")
	api.HandleFunc("/integrations/{id}/logs", handlers.ListSyncLogs(s.Integrations, s.Logs)).Methods("GET")

	// Conflicts
	var notifier handlers.ConflictNotifier
	if s.Broadcaster != nil {
		notifier = s.Broadcaster
	}
	api.HandleFunc("/salons/{salonId}/conflicts", handlers.ListConflicts(s.Conflicts)).Methods("GET")
	api.HandleFunc("/conflicts/{id}/resolve", handlers.ResolveConflict(s.Resolver, notifier)).Methods("POST")

	return r
}
