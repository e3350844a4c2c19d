package websocket

import (
	"encoding/json"
	"time"
)

// MessageType identifies the type of WebSocket message.
type MessageType string

const (
	// Server -> Client event types
	TypeSyncCompleted    MessageType = "sync.completed"
	TypeSyncError        MessageType = "sync.error"
	TypeConflictDetected MessageType = "conflict.detected"
	TypeConflictResolved MessageType = "conflict.resolved"
	TypeNotification     MessageType = "notification"

	// Client -> Server command types
	TypePing MessageType = "ping"

	// Server -> Client response types
	TypePong  MessageType = "pong"
	TypeError MessageType = "error"
)

// Message represents a WebSocket message envelope.
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   any         `json:"payload"`
}

// NewMessage creates a new message with the current timestamp.
func NewMessage(msgType MessageType, payload any) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// JSON serializes the message to JSON bytes.
func (m Message) JSON() ([]byte, error) {
	return json.Marshal(m)
}

// SyncPayload is the payload for sync.completed and sync.error events.
type SyncPayload struct {
	IntegrationID  string   `json:"integration_id"`
	SalonID        string   `json:"salon_id"`
	ProfessionalID string   `json:"professional_id"`
	LogID          string   `json:"log_id,omitempty"`
	Success        bool     `json:"success"`
	Created        int      `json:"created"`
	Updated        int      `json:"updated"`
	Deleted        int      `json:"deleted"`
	Conflicts      int      `json:"conflicts"`
	Errors         []string `json:"errors,omitempty"`
}

// ConflictPayload is the payload for conflict.* events.
type ConflictPayload struct {
	ConflictID      string  `json:"conflict_id"`
	IntegrationID   string  `json:"integration_id"`
	SalonID         string  `json:"salon_id"`
	ProfessionalID  string  `json:"professional_id"`
	ExternalEventID string  `json:"external_event_id"`
	LocalBlockID    *string `json:"local_block_id,omitempty"`
	Status          string  `json:"status"`
	ResolvedBy      *string `json:"resolved_by,omitempty"`
}

// NotificationPayload is the payload for notification events.
type NotificationPayload struct {
	Level       string `json:"level"` // info, warning, error, success
	Title       string `json:"title"`
	Message     string `json:"message"`
	Dismissible bool   `json:"dismissible"`
}

// ErrorPayload is the payload for error messages.
type ErrorPayload struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	OriginalType string `json:"original_type,omitempty"`
}
