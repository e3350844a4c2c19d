package websocket

import (
	"github.com/availability-sync/backend/internal/logging"
	"github.com/availability-sync/backend/internal/storage/models"
)

// EventBroadcaster handles broadcasting WebSocket events.
type EventBroadcaster struct {
	hub *Hub
}

// NewEventBroadcaster creates a new event broadcaster.
func NewEventBroadcaster(hub *Hub) *EventBroadcaster {
	return &EventBroadcaster{hub: hub}
}

// SyncFinished sends sync.completed for a clean pass and sync.error otherwise.
func (b *EventBroadcaster) SyncFinished(integ *models.Integration, result models.SyncResult) {
	payload := SyncPayload{
		IntegrationID:  integ.ID,
		SalonID:        integ.SalonID,
		ProfessionalID: integ.ProfessionalID,
		LogID:          result.LogID,
		Success:        result.Success,
		Created:        result.Created,
		Updated:        result.Updated,
		Deleted:        result.Deleted,
		Conflicts:      result.Conflicts,
		Errors:         result.Errors,
	}

	msgType := TypeSyncCompleted
	if !result.Success {
		msgType = TypeSyncError
	}
	b.broadcast(NewMessage(msgType, payload))
}

// ConflictDetected sends a conflict.detected event.
func (b *EventBroadcaster) ConflictDetected(c *models.SyncConflict) {
	b.broadcast(NewMessage(TypeConflictDetected, conflictPayload(c)))
}

// ConflictResolved sends a conflict.resolved event.
func (b *EventBroadcaster) ConflictResolved(c *models.SyncConflict) {
	b.broadcast(NewMessage(TypeConflictResolved, conflictPayload(c)))
}

// BroadcastNotification sends a notification to all connected clients.
func (b *EventBroadcaster) BroadcastNotification(level, title, message string) {
	payload := NotificationPayload{
		Level:       level,
		Title:       title,
		Message:     message,
		Dismissible: true,
	}
	b.broadcast(NewMessage(TypeNotification, payload))
}

func conflictPayload(c *models.SyncConflict) ConflictPayload {
	return ConflictPayload{
		ConflictID:      c.ID,
		IntegrationID:   c.IntegrationID,
		SalonID:         c.SalonID,
		ProfessionalID:  c.ProfessionalID,
		ExternalEventID: c.ExternalEventID,
		LocalBlockID:    c.LocalBlockID,
		Status:          c.Status,
		ResolvedBy:      c.ResolvedBy,
	}
}

// broadcast sends a message to all connected clients.
func (b *EventBroadcaster) broadcast(msg Message) {
	data, err := msg.JSON()
	if err != nil {
		logging.Error("Encoding WebSocket message", err, logging.String("type", string(msg.Type)))
		return
	}

	b.hub.Broadcast(data)
}
