package storage

import (
	"context"
	"fmt"

	"github.com/availability-sync/backend/internal/storage/models"
)

// SyncLogRepository provides data access for the sync audit trail.
type SyncLogRepository struct {
	BaseRepository
}

// NewSyncLogRepository creates a new sync log repository.
func NewSyncLogRepository(db *DB) *SyncLogRepository {
	return &SyncLogRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// Start inserts an in-flight log entry.
func (r *SyncLogRepository) Start(ctx context.Context, l *models.SyncLog) error {
	l.ID = GenerateID()
	l.StartedAt = r.Now()
	l.Status = models.SyncLogRunning

	_, err := r.Q().ExecContext(ctx, `
		INSERT INTO sync_logs (id, integration_id, sync_type, direction, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, l.ID, l.IntegrationID, l.SyncType, l.Direction, l.Status, l.StartedAt)
	if err != nil {
		return fmt.Errorf("inserting sync log: %w", err)
	}
	return nil
}

// Complete moves a RUNNING entry to its terminal status with final counts.
// Entries that already completed are left untouched.
func (r *SyncLogRepository) Complete(ctx context.Context, l *models.SyncLog) error {
	now := r.Now()
	l.CompletedAt = &now

	_, err := r.Q().ExecContext(ctx, `
		UPDATE sync_logs SET
			status = ?, created_count = ?, updated_count = ?, deleted_count = ?,
			conflicts_count = ?, error_message = ?, completed_at = ?
		WHERE id = ? AND status = ?
	`,
		l.Status, l.Created, l.Updated, l.Deleted, l.Conflicts, l.ErrorMessage,
		now, l.ID, models.SyncLogRunning,
	)
	if err != nil {
		return fmt.Errorf("completing sync log: %w", err)
	}
	return nil
}

// ListByIntegration returns one page of an integration's logs, newest first,
// along with the total number of entries.
func (r *SyncLogRepository) ListByIntegration(ctx context.Context, integrationID string, limit, offset int) ([]models.SyncLog, int, error) {
	var total int
	if err := r.Q().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sync_logs WHERE integration_id = ?", integrationID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting sync logs: %w", err)
	}

	rows, err := r.Q().QueryContext(ctx, `
		SELECT id, integration_id, sync_type, direction, status, created_count,
		       updated_count, deleted_count, conflicts_count, error_message,
		       started_at, completed_at
		FROM sync_logs
		WHERE integration_id = ?
		ORDER BY started_at DESC, rowid DESC
		LIMIT ? OFFSET ?
	`, integrationID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("querying sync logs: %w", err)
	}
	defer rows.Close()

	logs := []models.SyncLog{}
	for rows.Next() {
		var l models.SyncLog
		if err := rows.Scan(
			&l.ID, &l.IntegrationID, &l.SyncType, &l.Direction, &l.Status,
			&l.Created, &l.Updated, &l.Deleted, &l.Conflicts, &l.ErrorMessage,
			&l.StartedAt, &l.CompletedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scanning sync log: %w", err)
		}
		logs = append(logs, l)
	}

	return logs, total, rows.Err()
}
