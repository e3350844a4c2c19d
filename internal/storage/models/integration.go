// Package models contains the domain models for the application.
package models

import (
	"time"
)

// Integration links one professional of a salon to one external calendar
// account. There is at most one per (salon, professional) pair and rows are
// never hard-deleted.
type Integration struct {
	ID             string     `json:"id"`
	SalonID        string     `json:"salon_id"`
	ProfessionalID string     `json:"professional_id"`
	AccountEmail   *string    `json:"account_email,omitempty"`
	CalendarID     string     `json:"calendar_id"`
	AccessToken    string     `json:"-"`
	RefreshToken   string     `json:"-"`
	TokenExpiry    *time.Time `json:"token_expiry,omitempty"`
	SyncDirection  string     `json:"sync_direction"`
	Enabled        bool       `json:"enabled"`
	Status         string     `json:"status"`
	LastError      *string    `json:"last_error,omitempty"`
	LastSyncAt     *time.Time `json:"last_sync_at,omitempty"`
	LastSyncStatus *string    `json:"last_sync_status,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Sync direction constants
const (
	DirectionExternalToLocal = "EXTERNAL_TO_LOCAL"
	DirectionLocalToExternal = "LOCAL_TO_EXTERNAL"
	DirectionBidirectional   = "BIDIRECTIONAL"
)

// Integration status constants
const (
	IntegrationActive       = "ACTIVE"
	IntegrationError        = "ERROR"
	IntegrationDisconnected = "DISCONNECTED"
	IntegrationTokenExpired = "TOKEN_EXPIRED"
)

// DefaultCalendarID is the provider alias for the account's main calendar.
const DefaultCalendarID = "primary"

// ValidDirection reports whether d is a known sync direction.
func ValidDirection(d string) bool {
	switch d {
	case DirectionExternalToLocal, DirectionLocalToExternal, DirectionBidirectional:
		return true
	}
	return false
}

// SyncsInbound reports whether external events flow into local blocks.
func (i *Integration) SyncsInbound() bool {
	return i.SyncDirection == DirectionExternalToLocal || i.SyncDirection == DirectionBidirectional
}

// SyncsOutbound reports whether local blocks are pushed to the provider.
func (i *Integration) SyncsOutbound() bool {
	return i.SyncDirection == DirectionLocalToExternal || i.SyncDirection == DirectionBidirectional
}
