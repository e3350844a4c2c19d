// Package translate maps between provider events and local availability
// blocks. All functions are pure.
package translate

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/availability-sync/backend/internal/storage/models"
)

const (
	defaultStartTime = "00:00"
	defaultEndTime   = "23:59"

	// DefaultInboundTitle names blocks created from events without a summary.
	DefaultInboundTitle = "Busy"
	// DefaultOutboundTitle names events pushed from blocks without a title.
	DefaultOutboundTitle = "Unavailable"
)

// BlockFields is the content of a block derived from an external event.
type BlockFields struct {
	Title     string
	StartDate string
	EndDate   string
	StartTime *string
	EndTime   *string
	AllDay    bool
}

// EventToBlock derives block content from an event. Timed events are read
// in loc.
func EventToBlock(ev models.ExternalEvent, loc *time.Location) (BlockFields, error) {
	f := BlockFields{Title: ev.Title}
	if f.Title == "" {
		f.Title = DefaultInboundTitle
	}

	switch when := ev.When.(type) {
	case models.AllDaySpan:
		if when.StartDate == "" {
			return BlockFields{}, fmt.Errorf("event %s: all-day event without start date", ev.ID)
		}
		f.AllDay = true
		f.StartDate = when.StartDate
		f.EndDate = when.EndDate
		if f.EndDate == "" {
			f.EndDate = f.StartDate
		}
	case models.TimedSpan:
		if when.Start.IsZero() {
			return BlockFields{}, fmt.Errorf("event %s: timed event without start", ev.ID)
		}
		end := when.End
		if end.IsZero() {
			end = when.Start
		}
		start := when.Start.In(loc)
		end = end.In(loc)
		startTime := start.Format(models.TimeLayout)
		endTime := end.Format(models.TimeLayout)
		f.StartDate = start.Format(models.DateLayout)
		f.EndDate = end.Format(models.DateLayout)
		f.StartTime = &startTime
		f.EndTime = &endTime
	default:
		return BlockFields{}, fmt.Errorf("event %s: missing start/end", ev.ID)
	}

	return f, nil
}

// Apply copies derived fields onto a block.
func (f BlockFields) Apply(b *models.AvailabilityBlock) {
	b.Title = f.Title
	b.StartDate = f.StartDate
	b.EndDate = f.EndDate
	b.StartTime = f.StartTime
	b.EndTime = f.EndTime
	b.AllDay = f.AllDay
}

// NeedsUpdate reports whether the linked block differs from the event in
// title, dates, times or the all-day flag.
func NeedsUpdate(ev models.ExternalEvent, b *models.AvailabilityBlock, loc *time.Location) (bool, error) {
	f, err := EventToBlock(ev, loc)
	if err != nil {
		return false, err
	}

	return f.Title != b.Title ||
		f.StartDate != b.StartDate ||
		f.EndDate != b.EndDate ||
		f.AllDay != b.AllDay ||
		deref(f.StartTime) != deref(b.StartTime) ||
		deref(f.EndTime) != deref(b.EndTime), nil
}

// BlockToEvent builds the provider payload for a locally owned block. Timed
// blocks are anchored in loc; a missing start time means 00:00 and a missing
// end time means 23:59.
func BlockToEvent(b *models.AvailabilityBlock, loc *time.Location) (models.ExternalEvent, error) {
	ev := models.ExternalEvent{Title: b.Title}
	if ev.Title == "" {
		ev.Title = DefaultOutboundTitle
	}
	if b.ExternalEventID != nil {
		ev.ID = *b.ExternalEventID
	}

	if b.AllDay {
		if _, err := time.Parse(models.DateLayout, b.StartDate); err != nil {
			return models.ExternalEvent{}, fmt.Errorf("block %s: invalid start date %q", b.ID, b.StartDate)
		}
		end := b.EndDate
		if end == "" {
			end = b.StartDate
		}
		if _, err := time.Parse(models.DateLayout, end); err != nil {
			return models.ExternalEvent{}, fmt.Errorf("block %s: invalid end date %q", b.ID, end)
		}
		ev.When = models.AllDaySpan{StartDate: b.StartDate, EndDate: end}
		return ev, nil
	}

	startTime := defaultStartTime
	if b.StartTime != nil && *b.StartTime != "" {
		startTime = *b.StartTime
	}
	endTime := defaultEndTime
	if b.EndTime != nil && *b.EndTime != "" {
		endTime = *b.EndTime
	}
	endDate := b.EndDate
	if endDate == "" {
		endDate = b.StartDate
	}

	start, err := time.ParseInLocation(models.DateLayout+" "+models.TimeLayout, b.StartDate+" "+startTime, loc)
	if err != nil {
		return models.ExternalEvent{}, fmt.Errorf("block %s: invalid start %q %q", b.ID, b.StartDate, startTime)
	}
	end, err := time.ParseInLocation(models.DateLayout+" "+models.TimeLayout, endDate+" "+endTime, loc)
	if err != nil {
		return models.ExternalEvent{}, fmt.Errorf("block %s: invalid end %q %q", b.ID, endDate, endTime)
	}

	ev.When = models.TimedSpan{Start: start, End: end}
	return ev, nil
}

// BlockSpan returns the instants a block occupies in loc. All-day blocks run
// from midnight of the start date to midnight after the end date.
func BlockSpan(b *models.AvailabilityBlock, loc *time.Location) (time.Time, time.Time, error) {
	ev, err := BlockToEvent(b, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}

	switch when := ev.When.(type) {
	case models.TimedSpan:
		return when.Start, when.End, nil
	case models.AllDaySpan:
		start, _ := time.ParseInLocation(models.DateLayout, when.StartDate, loc)
		end, _ := time.ParseInLocation(models.DateLayout, when.EndDate, loc)
		return start, end.AddDate(0, 0, 1), nil
	}
	return time.Time{}, time.Time{}, fmt.Errorf("block %s: unknown span", b.ID)
}

// PayloadHash fingerprints the pushed content of an event so unchanged
// blocks are not pushed again.
func PayloadHash(ev models.ExternalEvent) string {
	var span string
	switch when := ev.When.(type) {
	case models.AllDaySpan:
		span = "D|" + when.StartDate + "|" + when.EndDate
	case models.TimedSpan:
		span = "T|" + when.Start.Format(time.RFC3339) + "|" + when.End.Format(time.RFC3339) + "|" + when.Start.Location().String()
	}

	sum := sha256.Sum256([]byte(ev.Title + "\x00" + span))
	return hex.EncodeToString(sum[:])
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// NewSyncedBlock builds the sync-owned block that mirrors ev for the
// integration's professional. The block is not persisted.
func NewSyncedBlock(integ *models.Integration, ev models.ExternalEvent, loc *time.Location) (*models.AvailabilityBlock, error) {
	f, err := EventToBlock(ev, loc)
	if err != nil {
		return nil, err
	}

	eventID := ev.ID
	b := &models.AvailabilityBlock{
		SalonID:         integ.SalonID,
		ProfessionalID:  integ.ProfessionalID,
		ExternalSource:  models.ExternalSourceExternal,
		ExternalEventID: &eventID,
	}
	f.Apply(b)
	return b, nil
}
