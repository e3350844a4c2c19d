package models

import (
	"time"
)

// ExternalEvent is one event as returned by the provider for a single pass.
// It is never persisted.
type ExternalEvent struct {
	ID          string
	Title       string
	Description string
	Status      string
	When        EventTime
	// SourceBlockID is the local block an event was pushed from, empty for
	// events created on the provider side.
	SourceBlockID string
}

// EventStatusCancelled marks events removed on the provider side.
const EventStatusCancelled = "cancelled"

// EventTime is either AllDaySpan or TimedSpan.
type EventTime interface {
	eventTime()
}

// AllDaySpan is a date-only range with an inclusive end date in DateLayout.
type AllDaySpan struct {
	StartDate string
	EndDate   string
}

// TimedSpan is an instant range.
type TimedSpan struct {
	Start time.Time
	End   time.Time
}

func (AllDaySpan) eventTime() {}
func (TimedSpan) eventTime()  {}

// IsCancelled reports whether the provider marked the event cancelled.
func (e *ExternalEvent) IsCancelled() bool {
	return e.Status == EventStatusCancelled
}

// IsPushed reports whether the event mirrors a local block.
func (e *ExternalEvent) IsPushed() bool {
	return e.SourceBlockID != ""
}

// CalendarInfo describes one calendar visible to the connected account.
type CalendarInfo struct {
	ID         string `json:"id"`
	Summary    string `json:"summary"`
	Primary    bool   `json:"primary"`
	AccessRole string `json:"access_role"`
}
