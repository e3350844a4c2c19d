package models

import (
	"time"
)

// AvailabilityBlock is a window during which a professional is unavailable.
//
// Blocks tagged with ExternalSourceExternal are owned by the sync engine.
// Untagged blocks are locally owned; they may still carry an ExternalEventID
// once pushed to the provider, but inbound sync never overwrites them.
type AvailabilityBlock struct {
	ID              string    `json:"id"`
	SalonID         string    `json:"salon_id"`
	ProfessionalID  string    `json:"professional_id"`
	StartDate       string    `json:"start_date"`
	EndDate         string    `json:"end_date"`
	StartTime       *string   `json:"start_time,omitempty"`
	EndTime         *string   `json:"end_time,omitempty"`
	AllDay          bool      `json:"all_day"`
	Title           string    `json:"title"`
	ExternalSource  string    `json:"external_source"`
	ExternalEventID *string   `json:"external_event_id,omitempty"`
	ExternalHash    *string   `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ExternalSourceExternal tags blocks materialized from the external calendar.
const ExternalSourceExternal = "EXTERNAL"

// DateLayout and TimeLayout are the local storage formats for block ranges.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// IsSyncOwned reports whether the block was created by inbound sync.
func (b *AvailabilityBlock) IsSyncOwned() bool {
	return b.ExternalSource == ExternalSourceExternal
}

// OverlapsDates reports whether the block's date range intersects [start, end].
// Dates compare lexically in DateLayout.
func (b *AvailabilityBlock) OverlapsDates(start, end string) bool {
	return b.StartDate <= end && start <= b.EndDate
}
