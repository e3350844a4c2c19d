package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/availability-sync/backend/internal/storage/models"
)

func runHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func receive(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case data := <-c.Send():
		var raw struct {
			Type    MessageType     `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		require.NoError(t, json.Unmarshal(data, &raw))
		return Message{Type: raw.Type, Payload: raw.Payload}
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
		return Message{}
	}
}

func TestBroadcaster_SyncFinished(t *testing.T) {
	hub := runHub(t)
	client := NewClient(hub)
	hub.Register(client)
	b := NewEventBroadcaster(hub)

	integ := &models.Integration{ID: "int-1", SalonID: "salon-1", ProfessionalID: "pro-1"}

	b.SyncFinished(integ, models.SyncResult{IntegrationID: "int-1", Success: true, Created: 2})
	msg := receive(t, client)
	assert.Equal(t, TypeSyncCompleted, msg.Type)

	var payload SyncPayload
	require.NoError(t, json.Unmarshal(msg.Payload.(json.RawMessage), &payload))
	assert.Equal(t, 2, payload.Created)
	assert.Equal(t, "pro-1", payload.ProfessionalID)

	b.SyncFinished(integ, models.SyncResult{IntegrationID: "int-1", Errors: []string{"E1: boom"}})
	assert.Equal(t, TypeSyncError, receive(t, client).Type)
}

func TestBroadcaster_Conflicts(t *testing.T) {
	hub := runHub(t)
	client := NewClient(hub)
	hub.Register(client)
	b := NewEventBroadcaster(hub)

	c := &models.SyncConflict{ID: "c-1", IntegrationID: "int-1", ExternalEventID: "E1", Status: models.ConflictPending}
	b.ConflictDetected(c)
	assert.Equal(t, TypeConflictDetected, receive(t, client).Type)

	c.Status = models.ConflictResolvedKeepLocal
	b.ConflictResolved(c)
	msg := receive(t, client)
	assert.Equal(t, TypeConflictResolved, msg.Type)

	var payload ConflictPayload
	require.NoError(t, json.Unmarshal(msg.Payload.(json.RawMessage), &payload))
	assert.Equal(t, "c-1", payload.ConflictID)
	assert.Equal(t, models.ConflictResolvedKeepLocal, payload.Status)
}

func TestHub_UnregisterClosesClient(t *testing.T) {
	hub := runHub(t)
	client := NewClient(hub)
	hub.Register(client)
	hub.Unregister(client)

	select {
	case _, ok := <-client.Send():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("client channel not closed")
	}
	assert.Equal(t, 0, hub.ClientCount())
}
