package models

import (
	"time"
)

// SyncConflict records a collision between an incoming external event and a
// locally owned block. Only the status and resolver fields change after
// creation.
type SyncConflict struct {
	ID               string     `json:"id"`
	IntegrationID    string     `json:"integration_id"`
	SalonID          string     `json:"salon_id"`
	ProfessionalID   string     `json:"professional_id"`
	LocalBlockID     *string    `json:"local_block_id,omitempty"`
	ExternalEventID  string     `json:"external_event_id"`
	ConflictType     string     `json:"conflict_type"`
	LocalSnapshot    string     `json:"local_snapshot"`
	ExternalSnapshot string     `json:"external_snapshot"`
	Status           string     `json:"status"`
	ResolvedBy       *string    `json:"resolved_by,omitempty"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// ConflictTypeTimeOverlap is the only conflict type currently detected.
const ConflictTypeTimeOverlap = "TIME_OVERLAP"

// Conflict status constants
const (
	ConflictPending            = "PENDING"
	ConflictResolvedKeepLocal  = "RESOLVED_KEEP_LOCAL"
	ConflictResolvedKeepGoogle = "RESOLVED_KEEP_GOOGLE"
	ConflictResolvedMerge      = "RESOLVED_MERGE"
	ConflictIgnored            = "IGNORED"
)

// Resolution values accepted by the resolver.
const (
	ResolutionKeepLocal  = "KEEP_LOCAL"
	ResolutionKeepGoogle = "KEEP_GOOGLE"
	ResolutionMerge      = "MERGE"
	ResolutionIgnore     = "IGNORE"
)

// IsPending reports whether the conflict still awaits a decision.
func (c *SyncConflict) IsPending() bool {
	return c.Status == ConflictPending
}
