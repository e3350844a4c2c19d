// Package conflict detects collisions between incoming external events and
// locally owned blocks, and applies resolutions chosen by salon staff.
package conflict

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/availability-sync/backend/internal/storage"
	"github.com/availability-sync/backend/internal/storage/models"
	"github.com/availability-sync/backend/internal/translate"
)

// Outcome is the verdict for one incoming event.
type Outcome int

const (
	// Clear means the event may be materialized.
	Clear Outcome = iota
	// Conflicted means the event collides with a local block and must not
	// be materialized this pass.
	Conflicted
	// Suppressed means an earlier KEEP_LOCAL or IGNORE decision covers the
	// event; it is neither materialized nor reported.
	Suppressed
)

// SystemResolver is recorded as resolved_by on conflicts closed by sync.
const SystemResolver = "system"

// Detection is the result of Detect.
type Detection struct {
	Outcome  Outcome
	Conflict *models.SyncConflict
	// Created is true when Conflict was recorded by this call.
	Created bool
}

// Detector decides whether a new external event collides with the
// professional's locally owned blocks.
type Detector struct {
	blocks    *storage.BlockRepository
	conflicts *storage.ConflictRepository
}

// NewDetector creates a conflict detector.
func NewDetector(blocks *storage.BlockRepository, conflicts *storage.ConflictRepository) *Detector {
	return &Detector{blocks: blocks, conflicts: conflicts}
}

// Detect checks an event that is not linked to any block. At most one
// PENDING conflict exists per event: a collision with an already pending
// conflict is reported again without recording a new row.
//
// A KEEP_LOCAL or IGNORED decision, and a pending conflict, only stand while
// the local block they name still exists and still overlaps the event. A
// pending conflict that no longer stands is closed as IGNORED.
func (d *Detector) Detect(ctx context.Context, integ *models.Integration, ev models.ExternalEvent, f translate.BlockFields) (Detection, error) {
	latest, err := d.conflicts.LatestForEvent(ctx, integ.ID, ev.ID)
	if err != nil {
		return Detection{}, err
	}
	if latest != nil {
		held, err := d.stillHeld(ctx, latest, f)
		if err != nil {
			return Detection{}, err
		}
		switch {
		case latest.IsPending() && !held:
			if _, err := d.conflicts.Resolve(ctx, latest.ID, models.ConflictIgnored, SystemResolver); err != nil {
				return Detection{}, err
			}
			latest = nil
		case latest.Status == models.ConflictResolvedKeepLocal || latest.Status == models.ConflictIgnored:
			if held {
				return Detection{Outcome: Suppressed, Conflict: latest}, nil
			}
			latest = nil
		}
	}

	candidates, err := d.blocks.ListLocalOverlapping(ctx, integ.SalonID, integ.ProfessionalID, f.StartDate, f.EndDate)
	if err != nil {
		return Detection{}, err
	}

	for i := range candidates {
		block := &candidates[i]
		if !Overlaps(f, block) {
			continue
		}

		if latest != nil && latest.IsPending() {
			return Detection{Outcome: Conflicted, Conflict: latest}, nil
		}

		c, err := d.record(ctx, integ, ev, f, block)
		if err != nil {
			return Detection{}, err
		}
		return Detection{Outcome: Conflicted, Conflict: c, Created: true}, nil
	}

	return Detection{Outcome: Clear}, nil
}

// stillHeld reports whether the local block named by c exists, is locally
// owned and overlaps f.
func (d *Detector) stillHeld(ctx context.Context, c *models.SyncConflict, f translate.BlockFields) (bool, error) {
	if c.LocalBlockID == nil {
		return false, nil
	}
	block, err := d.blocks.GetByID(ctx, *c.LocalBlockID)
	if err != nil {
		return false, err
	}
	return block != nil && !block.IsSyncOwned() && Overlaps(f, block), nil
}

func (d *Detector) record(ctx context.Context, integ *models.Integration, ev models.ExternalEvent, f translate.BlockFields, block *models.AvailabilityBlock) (*models.SyncConflict, error) {
	local, err := json.Marshal(block)
	if err != nil {
		return nil, fmt.Errorf("encoding local snapshot: %w", err)
	}
	external, err := json.Marshal(eventSnapshot{
		ID:          ev.ID,
		Title:       f.Title,
		Description: ev.Description,
		StartDate:   f.StartDate,
		EndDate:     f.EndDate,
		StartTime:   f.StartTime,
		EndTime:     f.EndTime,
		AllDay:      f.AllDay,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding external snapshot: %w", err)
	}

	blockID := block.ID
	c := &models.SyncConflict{
		IntegrationID:    integ.ID,
		SalonID:          integ.SalonID,
		ProfessionalID:   integ.ProfessionalID,
		LocalBlockID:     &blockID,
		ExternalEventID:  ev.ID,
		ConflictType:     models.ConflictTypeTimeOverlap,
		LocalSnapshot:    string(local),
		ExternalSnapshot: string(external),
	}
	if err := d.conflicts.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

type eventSnapshot struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	StartDate   string  `json:"start_date"`
	EndDate     string  `json:"end_date"`
	StartTime   *string `json:"start_time,omitempty"`
	EndTime     *string `json:"end_time,omitempty"`
	AllDay      bool    `json:"all_day"`
}

// Overlaps reports whether event fields f collide with block b. Any date
// overlap counts when either side is all-day; otherwise the ranges are
// compared as half-open [start, end) intervals.
func Overlaps(f translate.BlockFields, b *models.AvailabilityBlock) bool {
	if !b.OverlapsDates(f.StartDate, f.EndDate) {
		return false
	}
	if f.AllDay || b.AllDay {
		return true
	}

	s1 := f.StartDate + " " + timeOr(f.StartTime, "00:00")
	e1 := f.EndDate + " " + timeOr(f.EndTime, "23:59")
	s2 := b.StartDate + " " + timeOr(b.StartTime, "00:00")
	e2 := b.EndDate + " " + timeOr(b.EndTime, "23:59")
	return s1 < e2 && s2 < e1
}

func timeOr(t *string, def string) string {
	if t == nil || *t == "" {
		return def
	}
	return *t
}
