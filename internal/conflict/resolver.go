package conflict

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	apperrors "github.com/availability-sync/backend/internal/errors"
	"github.com/availability-sync/backend/internal/logging"
	"github.com/availability-sync/backend/internal/storage"
	"github.com/availability-sync/backend/internal/storage/models"
	"github.com/availability-sync/backend/internal/translate"
)

// TokenProvider returns a usable access token for an integration.
type TokenProvider interface {
	ValidAccessToken(ctx context.Context, integ *models.Integration) (string, error)
}

// EventSource reads and removes events on the external calendar. GetEvent
// returns (nil, nil) for a vanished event and DeleteEvent succeeds for one.
type EventSource interface {
	GetEvent(ctx context.Context, token, calendarID, eventID string) (*models.ExternalEvent, error)
	DeleteEvent(ctx context.Context, token, calendarID, eventID string) error
}

// Resolver applies resolutions to pending conflicts.
type Resolver struct {
	db           *storage.DB
	blocks       *storage.BlockRepository
	conflicts    *storage.ConflictRepository
	integrations *storage.IntegrationRepository
	tokens       TokenProvider
	events       EventSource
	loc          *time.Location
	logger       logging.Logger
}

// NewResolver creates a conflict resolver. loc is the salon timezone used
// when materializing timed events.
func NewResolver(
	db *storage.DB,
	blocks *storage.BlockRepository,
	conflicts *storage.ConflictRepository,
	integrations *storage.IntegrationRepository,
	tokens TokenProvider,
	events EventSource,
	loc *time.Location,
) *Resolver {
	return &Resolver{
		db:           db,
		blocks:       blocks,
		conflicts:    conflicts,
		integrations: integrations,
		tokens:       tokens,
		events:       events,
		loc:          loc,
		logger:       logging.WithFields(logging.String("component", "conflict_resolver")),
	}
}

// Resolve applies resolution to a pending conflict and returns the updated
// record. Unknown resolutions are treated as IGNORE.
//
//   - KEEP_LOCAL leaves data untouched.
//   - KEEP_GOOGLE deletes the referenced local block, together with the
//     external copy it was pushed as, and materializes the live external
//     event if it still exists.
//   - MERGE materializes the external event only when no local block was
//     referenced.
func (r *Resolver) Resolve(ctx context.Context, conflictID, resolution, resolverID string) (*models.SyncConflict, error) {
	c, err := r.conflicts.GetByID(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, apperrors.NotFoundError("conflict").WithContext("id", conflictID)
	}
	if !c.IsPending() {
		return nil, apperrors.ConflictError(fmt.Sprintf("conflict already %s", c.Status))
	}

	var (
		status      string
		deleteLocal bool
		fetch       bool
	)
	switch resolution {
	case models.ResolutionKeepLocal:
		status = models.ConflictResolvedKeepLocal
	case models.ResolutionKeepGoogle:
		status = models.ConflictResolvedKeepGoogle
		deleteLocal = c.LocalBlockID != nil
		fetch = true
	case models.ResolutionMerge:
		status = models.ConflictResolvedMerge
		fetch = c.LocalBlockID == nil
	default:
		status = models.ConflictIgnored
	}

	var integ *models.Integration
	var live *models.ExternalEvent
	if fetch {
		var token string
		integ, token, live, err = r.fetchLive(ctx, c)
		if err != nil {
			return nil, err
		}
		if deleteLocal {
			if err := r.retractMirror(ctx, integ, token, *c.LocalBlockID); err != nil {
				return nil, err
			}
		}
	}

	err = r.db.Transaction(ctx, func(tx *sql.Tx) error {
		blocks := r.blocks.WithTx(tx)

		if deleteLocal {
			if err := blocks.Delete(ctx, *c.LocalBlockID); err != nil {
				return err
			}
		}

		if live != nil && !live.IsCancelled() {
			if err := r.materialize(ctx, blocks, integ, *live); err != nil {
				return err
			}
		}

		ok, err := r.conflicts.WithTx(tx).Resolve(ctx, c.ID, status, resolverID)
		if err != nil {
			return err
		}
		if !ok {
			return apperrors.ConflictError("conflict was resolved concurrently")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("Conflict resolved",
		logging.String("conflict_id", c.ID),
		logging.String("status", status),
		logging.String("resolved_by", resolverID))

	return r.conflicts.GetByID(ctx, c.ID)
}

func (r *Resolver) fetchLive(ctx context.Context, c *models.SyncConflict) (*models.Integration, string, *models.ExternalEvent, error) {
	integ, err := r.integrations.GetByID(ctx, c.IntegrationID)
	if err != nil {
		return nil, "", nil, err
	}
	if integ == nil {
		return nil, "", nil, apperrors.NotFoundError("integration").WithContext("id", c.IntegrationID)
	}

	token, err := r.tokens.ValidAccessToken(ctx, integ)
	if err != nil {
		return nil, "", nil, err
	}

	ev, err := r.events.GetEvent(ctx, token, integ.CalendarID, c.ExternalEventID)
	if err != nil {
		return nil, "", nil, fmt.Errorf("fetching event %s: %w", c.ExternalEventID, err)
	}
	return integ, token, ev, nil
}

// retractMirror deletes the external event a local block was pushed as, so
// it does not come back on the next inbound pass.
func (r *Resolver) retractMirror(ctx context.Context, integ *models.Integration, token, blockID string) error {
	b, err := r.blocks.GetByID(ctx, blockID)
	if err != nil {
		return err
	}
	if b == nil || b.IsSyncOwned() || b.ExternalEventID == nil || *b.ExternalEventID == "" {
		return nil
	}

	if err := r.events.DeleteEvent(ctx, token, integ.CalendarID, *b.ExternalEventID); err != nil {
		return fmt.Errorf("deleting pushed event %s: %w", *b.ExternalEventID, err)
	}
	return nil
}

// materialize creates a sync-owned block for ev unless one is already
// linked to it.
func (r *Resolver) materialize(ctx context.Context, blocks *storage.BlockRepository, integ *models.Integration, ev models.ExternalEvent) error {
	existing, err := blocks.GetByExternalEventID(ctx, integ.SalonID, integ.ProfessionalID, ev.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	b, err := translate.NewSyncedBlock(integ, ev, r.loc)
	if err != nil {
		return apperrors.ValidationError(err.Error())
	}
	return blocks.Create(ctx, b)
}
