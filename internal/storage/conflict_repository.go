package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/availability-sync/backend/internal/storage/models"
)

// ConflictRepository provides data access for sync conflicts.
type ConflictRepository struct {
	BaseRepository
}

// NewConflictRepository creates a new conflict repository.
func NewConflictRepository(db *DB) *ConflictRepository {
	return &ConflictRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// WithTx returns a copy of the repository bound to tx.
func (r *ConflictRepository) WithTx(tx Queryable) *ConflictRepository {
	return &ConflictRepository{BaseRepository: r.withTx(tx)}
}

const conflictColumns = `
	id, integration_id, salon_id, professional_id, local_block_id,
	external_event_id, conflict_type, local_snapshot, external_snapshot,
	status, resolved_by, resolved_at, created_at`

func scanConflict(row rowScanner) (*models.SyncConflict, error) {
	c := &models.SyncConflict{}
	err := row.Scan(
		&c.ID, &c.IntegrationID, &c.SalonID, &c.ProfessionalID, &c.LocalBlockID,
		&c.ExternalEventID, &c.ConflictType, &c.LocalSnapshot, &c.ExternalSnapshot,
		&c.Status, &c.ResolvedBy, &c.ResolvedAt, &c.CreatedAt,
	)
	return c, err
}

// Create inserts a new PENDING conflict.
func (r *ConflictRepository) Create(ctx context.Context, c *models.SyncConflict) error {
	c.ID = GenerateID()
	c.CreatedAt = r.Now()
	c.Status = models.ConflictPending

	_, err := r.Q().ExecContext(ctx, `
		INSERT INTO sync_conflicts (`+conflictColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL, ?)
	`,
		c.ID, c.IntegrationID, c.SalonID, c.ProfessionalID, c.LocalBlockID,
		c.ExternalEventID, c.ConflictType, c.LocalSnapshot, c.ExternalSnapshot,
		c.Status, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting conflict: %w", err)
	}
	return nil
}

// GetByID retrieves a conflict by its ID.
func (r *ConflictRepository) GetByID(ctx context.Context, id string) (*models.SyncConflict, error) {
	c, err := scanConflict(r.Q().QueryRowContext(ctx,
		`SELECT `+conflictColumns+` FROM sync_conflicts WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying conflict: %w", err)
	}
	return c, nil
}

// LatestForEvent returns the most recent conflict recorded for an external
// event of an integration.
func (r *ConflictRepository) LatestForEvent(ctx context.Context, integrationID, eventID string) (*models.SyncConflict, error) {
	c, err := scanConflict(r.Q().QueryRowContext(ctx, `
		SELECT `+conflictColumns+` FROM sync_conflicts
		WHERE integration_id = ? AND external_event_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`, integrationID, eventID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying conflict by event: %w", err)
	}
	return c, nil
}

// ConflictFilter narrows List results.
type ConflictFilter struct {
	SalonID        string
	ProfessionalID string
	PendingOnly    bool
}

// List returns the conflicts of a salon, newest first.
func (r *ConflictRepository) List(ctx context.Context, f ConflictFilter) ([]models.SyncConflict, error) {
	where := []string{"salon_id = ?"}
	args := []any{f.SalonID}
	if f.ProfessionalID != "" {
		where = append(where, "professional_id = ?")
		args = append(args, f.ProfessionalID)
	}
	if f.PendingOnly {
		where = append(where, "status = ?")
		args = append(args, models.ConflictPending)
	}

	rows, err := r.Q().QueryContext(ctx, `
		SELECT `+conflictColumns+` FROM sync_conflicts
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY created_at DESC, rowid DESC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying conflicts: %w", err)
	}
	defer rows.Close()

	conflicts := []models.SyncConflict{}
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conflict: %w", err)
		}
		conflicts = append(conflicts, *c)
	}
	return conflicts, rows.Err()
}

// Resolve moves a PENDING conflict to a terminal status. It reports false
// when the conflict was not pending.
func (r *ConflictRepository) Resolve(ctx context.Context, id, status, resolvedBy string) (bool, error) {
	result, err := r.Q().ExecContext(ctx, `
		UPDATE sync_conflicts SET status = ?, resolved_by = ?, resolved_at = ?
		WHERE id = ? AND status = ?
	`, status, resolvedBy, r.Now(), id, models.ConflictPending)
	if err != nil {
		return false, fmt.Errorf("resolving conflict: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	return rowsAffected > 0, nil
}
