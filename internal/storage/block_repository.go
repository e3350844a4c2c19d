package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/availability-sync/backend/internal/storage/models"
)

// BlockRepository provides data access for availability blocks.
type BlockRepository struct {
	BaseRepository
}

// NewBlockRepository creates a new block repository.
func NewBlockRepository(db *DB) *BlockRepository {
	return &BlockRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// WithTx returns a copy of the repository bound to tx.
func (r *BlockRepository) WithTx(tx Queryable) *BlockRepository {
	return &BlockRepository{BaseRepository: r.withTx(tx)}
}

const blockColumns = `
	id, salon_id, professional_id, start_date, end_date, start_time, end_time,
	all_day, title, external_source, external_event_id, external_hash,
	created_at, updated_at`

func scanBlock(row rowScanner) (*models.AvailabilityBlock, error) {
	b := &models.AvailabilityBlock{}
	err := row.Scan(
		&b.ID, &b.SalonID, &b.ProfessionalID, &b.StartDate, &b.EndDate,
		&b.StartTime, &b.EndTime, &b.AllDay, &b.Title, &b.ExternalSource,
		&b.ExternalEventID, &b.ExternalHash, &b.CreatedAt, &b.UpdatedAt,
	)
	return b, err
}

func (r *BlockRepository) list(ctx context.Context, query string, args ...any) ([]models.AvailabilityBlock, error) {
	rows, err := r.Q().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying blocks: %w", err)
	}
	defer rows.Close()

	var blocks []models.AvailabilityBlock
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning block: %w", err)
		}
		blocks = append(blocks, *b)
	}

	return blocks, rows.Err()
}

// Create inserts a new block.
func (r *BlockRepository) Create(ctx context.Context, b *models.AvailabilityBlock) error {
	b.ID = GenerateID()
	b.CreatedAt = r.Now()
	b.UpdatedAt = b.CreatedAt

	_, err := r.Q().ExecContext(ctx, `
		INSERT INTO availability_blocks (`+blockColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		b.ID, b.SalonID, b.ProfessionalID, b.StartDate, b.EndDate, b.StartTime,
		b.EndTime, b.AllDay, b.Title, b.ExternalSource, b.ExternalEventID,
		b.ExternalHash, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting block: %w", err)
	}
	return nil
}

// GetByID retrieves a block by its ID.
func (r *BlockRepository) GetByID(ctx context.Context, id string) (*models.AvailabilityBlock, error) {
	b, err := scanBlock(r.Q().QueryRowContext(ctx,
		`SELECT `+blockColumns+` FROM availability_blocks WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying block: %w", err)
	}
	return b, nil
}

// GetByExternalEventID finds the block of a professional linked to an
// external event, whichever side owns it.
func (r *BlockRepository) GetByExternalEventID(ctx context.Context, salonID, professionalID, eventID string) (*models.AvailabilityBlock, error) {
	b, err := scanBlock(r.Q().QueryRowContext(ctx, `
		SELECT `+blockColumns+` FROM availability_blocks
		WHERE salon_id = ? AND professional_id = ? AND external_event_id = ?
		LIMIT 1
	`, salonID, professionalID, eventID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying block by event: %w", err)
	}
	return b, nil
}

// Update rewrites the content and link fields of a block.
func (r *BlockRepository) Update(ctx context.Context, b *models.AvailabilityBlock) error {
	b.UpdatedAt = r.Now()

	result, err := r.Q().ExecContext(ctx, `
		UPDATE availability_blocks SET
			start_date = ?, end_date = ?, start_time = ?, end_time = ?, all_day = ?,
			title = ?, external_source = ?, external_event_id = ?, external_hash = ?,
			updated_at = ?
		WHERE id = ?
	`,
		b.StartDate, b.EndDate, b.StartTime, b.EndTime, b.AllDay, b.Title,
		b.ExternalSource, b.ExternalEventID, b.ExternalHash, b.UpdatedAt, b.ID,
	)
	if err != nil {
		return fmt.Errorf("updating block: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("block not found: %s", b.ID)
	}
	return nil
}

// MarkPushed links a locally owned block to the external event it was pushed
// as, recording the hash of the pushed payload.
func (r *BlockRepository) MarkPushed(ctx context.Context, id, eventID, hash string) error {
	_, err := r.Q().ExecContext(ctx, `
		UPDATE availability_blocks SET external_event_id = ?, external_hash = ?, updated_at = ?
		WHERE id = ?
	`, eventID, hash, r.Now(), id)
	if err != nil {
		return fmt.Errorf("marking block pushed: %w", err)
	}
	return nil
}

// Delete removes a block by ID. Deleting a missing block is not an error.
func (r *BlockRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.Q().ExecContext(ctx, "DELETE FROM availability_blocks WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting block: %w", err)
	}
	return nil
}

// ListSyncOwned returns every block of a professional created by inbound sync.
func (r *BlockRepository) ListSyncOwned(ctx context.Context, salonID, professionalID string) ([]models.AvailabilityBlock, error) {
	return r.list(ctx, `
		SELECT `+blockColumns+` FROM availability_blocks
		WHERE salon_id = ? AND professional_id = ? AND external_source = ?
		ORDER BY start_date, start_time
	`, salonID, professionalID, models.ExternalSourceExternal)
}

// ListLocalOverlapping returns locally owned blocks whose date range
// intersects [startDate, endDate].
func (r *BlockRepository) ListLocalOverlapping(ctx context.Context, salonID, professionalID, startDate, endDate string) ([]models.AvailabilityBlock, error) {
	return r.list(ctx, `
		SELECT `+blockColumns+` FROM availability_blocks
		WHERE salon_id = ? AND professional_id = ? AND external_source = ''
		  AND start_date <= ? AND end_date >= ?
		ORDER BY start_date, start_time
	`, salonID, professionalID, endDate, startDate)
}

// ListLocalWithin returns locally owned blocks lying entirely inside
// [startDate, endDate].
func (r *BlockRepository) ListLocalWithin(ctx context.Context, salonID, professionalID, startDate, endDate string) ([]models.AvailabilityBlock, error) {
	return r.list(ctx, `
		SELECT `+blockColumns+` FROM availability_blocks
		WHERE salon_id = ? AND professional_id = ? AND external_source = ''
		  AND start_date >= ? AND end_date <= ?
		ORDER BY start_date, start_time
	`, salonID, professionalID, startDate, endDate)
}

// LinkedLocalEventIDs returns the external event IDs that locally owned
// blocks of a professional were pushed as.
func (r *BlockRepository) LinkedLocalEventIDs(ctx context.Context, salonID, professionalID string) (map[string]bool, error) {
	rows, err := r.Q().QueryContext(ctx, `
		SELECT external_event_id FROM availability_blocks
		WHERE salon_id = ? AND professional_id = ? AND external_source = ''
		  AND external_event_id IS NOT NULL
	`, salonID, professionalID)
	if err != nil {
		return nil, fmt.Errorf("querying linked event IDs: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning event ID: %w", err)
		}
		ids[id] = true
	}
	return ids, rows.Err()
}
