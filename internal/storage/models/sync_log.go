package models

import (
	"time"
)

// SyncLog is the audit record of one sync pass. It is written RUNNING before
// any work and moved to a terminal status exactly once.
type SyncLog struct {
	ID            string     `json:"id"`
	IntegrationID string     `json:"integration_id"`
	SyncType      string     `json:"sync_type"`
	Direction     string     `json:"direction"`
	Status        string     `json:"status"`
	Created       int        `json:"created"`
	Updated       int        `json:"updated"`
	Deleted       int        `json:"deleted"`
	Conflicts     int        `json:"conflicts"`
	ErrorMessage  *string    `json:"error_message,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// Sync type constants
const (
	SyncTypeFull        = "FULL"
	SyncTypeIncremental = "INCREMENTAL"
	SyncTypeManual      = "MANUAL"
)

// Sync log status constants
const (
	SyncLogRunning = "RUNNING"
	SyncLogSuccess = "SUCCESS"
	SyncLogPartial = "PARTIAL"
	SyncLogError   = "ERROR"
)

// SyncResult is returned to the caller of a sync pass.
type SyncResult struct {
	IntegrationID string   `json:"integration_id"`
	LogID         string   `json:"log_id,omitempty"`
	Success       bool     `json:"success"`
	Created       int      `json:"created"`
	Updated       int      `json:"updated"`
	Deleted       int      `json:"deleted"`
	Conflicts     int      `json:"conflicts"`
	Errors        []string `json:"errors"`
}
