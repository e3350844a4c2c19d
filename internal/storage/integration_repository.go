package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/availability-sync/backend/internal/storage/models"
)

// TokenCipher seals OAuth tokens before they reach the database.
type TokenCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// IntegrationRepository provides data access for calendar integrations.
type IntegrationRepository struct {
	BaseRepository
	cipher TokenCipher
}

// NewIntegrationRepository creates a new integration repository. A nil
// cipher stores tokens as plaintext.
func NewIntegrationRepository(db *DB, cipher TokenCipher) *IntegrationRepository {
	return &IntegrationRepository{
		BaseRepository: NewBaseRepository(db),
		cipher:         cipher,
	}
}

const integrationColumns = `
	id, salon_id, professional_id, account_email, calendar_id, access_token,
	refresh_token, token_expiry, sync_direction, enabled, status, last_error,
	last_sync_at, last_sync_status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *IntegrationRepository) scan(row rowScanner) (*models.Integration, error) {
	integ := &models.Integration{}
	var access, refresh string
	if err := row.Scan(
		&integ.ID, &integ.SalonID, &integ.ProfessionalID, &integ.AccountEmail,
		&integ.CalendarID, &access, &refresh, &integ.TokenExpiry,
		&integ.SyncDirection, &integ.Enabled, &integ.Status, &integ.LastError,
		&integ.LastSyncAt, &integ.LastSyncStatus, &integ.CreatedAt, &integ.UpdatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if integ.AccessToken, err = r.open(access); err != nil {
		return nil, fmt.Errorf("decrypting access token: %w", err)
	}
	if integ.RefreshToken, err = r.open(refresh); err != nil {
		return nil, fmt.Errorf("decrypting refresh token: %w", err)
	}
	return integ, nil
}

func (r *IntegrationRepository) seal(v string) (string, error) {
	if r.cipher == nil {
		return v, nil
	}
	return r.cipher.Encrypt(v)
}

func (r *IntegrationRepository) open(v string) (string, error) {
	if r.cipher == nil {
		return v, nil
	}
	return r.cipher.Decrypt(v)
}

// Upsert creates the integration for its (salon, professional) pair or
// reconnects the existing one, keeping its ID. On return integ reflects the
// stored row.
func (r *IntegrationRepository) Upsert(ctx context.Context, integ *models.Integration) error {
	access, err := r.seal(integ.AccessToken)
	if err != nil {
		return fmt.Errorf("encrypting access token: %w", err)
	}
	refresh, err := r.seal(integ.RefreshToken)
	if err != nil {
		return fmt.Errorf("encrypting refresh token: %w", err)
	}

	now := r.Now()
	_, err = r.Q().ExecContext(ctx, `
		INSERT INTO integrations (
			id, salon_id, professional_id, account_email, calendar_id, access_token,
			refresh_token, token_expiry, sync_direction, enabled, status, last_error,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?)
		ON CONFLICT (salon_id, professional_id) DO UPDATE SET
			account_email = excluded.account_email,
			access_token = excluded.access_token,
			refresh_token = CASE WHEN excluded.refresh_token = '' THEN integrations.refresh_token ELSE excluded.refresh_token END,
			token_expiry = excluded.token_expiry,
			enabled = excluded.enabled,
			status = excluded.status,
			last_error = NULL,
			updated_at = excluded.updated_at
	`,
		GenerateID(), integ.SalonID, integ.ProfessionalID, integ.AccountEmail,
		integ.CalendarID, access, refresh, integ.TokenExpiry, integ.SyncDirection,
		integ.Enabled, integ.Status, now, now,
	)
	if err != nil {
		return fmt.Errorf("upserting integration: %w", err)
	}

	stored, err := r.GetByProfessional(ctx, integ.SalonID, integ.ProfessionalID)
	if err != nil {
		return err
	}
	if stored == nil {
		return fmt.Errorf("integration vanished after upsert: %s/%s", integ.SalonID, integ.ProfessionalID)
	}
	*integ = *stored
	return nil
}

// GetByID retrieves an integration by its ID.
func (r *IntegrationRepository) GetByID(ctx context.Context, id string) (*models.Integration, error) {
	integ, err := r.scan(r.Q().QueryRowContext(ctx,
		`SELECT `+integrationColumns+` FROM integrations WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying integration: %w", err)
	}
	return integ, nil
}

// GetByProfessional retrieves the integration of one professional in a salon.
func (r *IntegrationRepository) GetByProfessional(ctx context.Context, salonID, professionalID string) (*models.Integration, error) {
	integ, err := r.scan(r.Q().QueryRowContext(ctx,
		`SELECT `+integrationColumns+` FROM integrations WHERE salon_id = ? AND professional_id = ?`,
		salonID, professionalID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying integration: %w", err)
	}
	return integ, nil
}

// ListEligible retrieves enabled integrations in ACTIVE status, least
// recently synced first.
func (r *IntegrationRepository) ListEligible(ctx context.Context) ([]models.Integration, error) {
	rows, err := r.Q().QueryContext(ctx, `
		SELECT `+integrationColumns+`
		FROM integrations
		WHERE enabled = 1 AND status = ?
		ORDER BY last_sync_at ASC NULLS FIRST
	`, models.IntegrationActive)
	if err != nil {
		return nil, fmt.Errorf("querying eligible integrations: %w", err)
	}
	defer rows.Close()

	var integrations []models.Integration
	for rows.Next() {
		integ, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning integration: %w", err)
		}
		integrations = append(integrations, *integ)
	}

	return integrations, rows.Err()
}

// UpdateAccessToken stores a refreshed access token, marks the integration
// ACTIVE and clears its last error.
func (r *IntegrationRepository) UpdateAccessToken(ctx context.Context, id, accessToken string, expiry time.Time) error {
	access, err := r.seal(accessToken)
	if err != nil {
		return fmt.Errorf("encrypting access token: %w", err)
	}

	_, err = r.Q().ExecContext(ctx, `
		UPDATE integrations SET
			access_token = ?, token_expiry = ?, status = ?, last_error = NULL, updated_at = ?
		WHERE id = ?
	`, access, expiry.UTC(), models.IntegrationActive, r.Now(), id)
	if err != nil {
		return fmt.Errorf("updating access token: %w", err)
	}
	return nil
}

// UpdateStatus sets the integration status and last error message.
func (r *IntegrationRepository) UpdateStatus(ctx context.Context, id, status string, lastError *string) error {
	_, err := r.Q().ExecContext(ctx, `
		UPDATE integrations SET status = ?, last_error = ?, updated_at = ? WHERE id = ?
	`, status, lastError, r.Now(), id)
	if err != nil {
		return fmt.Errorf("updating integration status: %w", err)
	}
	return nil
}

// RecordSyncOutcome stores the result of a finished pass.
func (r *IntegrationRepository) RecordSyncOutcome(ctx context.Context, id, status string, lastError *string, syncStatus string) error {
	now := r.Now()
	_, err := r.Q().ExecContext(ctx, `
		UPDATE integrations SET
			status = ?, last_error = ?, last_sync_at = ?, last_sync_status = ?, updated_at = ?
		WHERE id = ?
	`, status, lastError, now, syncStatus, now, id)
	if err != nil {
		return fmt.Errorf("recording sync outcome: %w", err)
	}
	return nil
}

// UpdateSettings changes the user-editable sync settings.
func (r *IntegrationRepository) UpdateSettings(ctx context.Context, id, direction string, enabled bool, calendarID string) error {
	result, err := r.Q().ExecContext(ctx, `
		UPDATE integrations SET sync_direction = ?, enabled = ?, calendar_id = ?, updated_at = ?
		WHERE id = ?
	`, direction, enabled, calendarID, r.Now(), id)
	if err != nil {
		return fmt.Errorf("updating integration settings: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("integration not found: %s", id)
	}
	return nil
}

// Disconnect clears stored credentials and disables the integration. The row
// is kept for the audit trail.
func (r *IntegrationRepository) Disconnect(ctx context.Context, id string) error {
	result, err := r.Q().ExecContext(ctx, `
		UPDATE integrations SET
			access_token = '', refresh_token = '', token_expiry = NULL,
			enabled = 0, status = ?, last_error = NULL, updated_at = ?
		WHERE id = ?
	`, models.IntegrationDisconnected, r.Now(), id)
	if err != nil {
		return fmt.Errorf("disconnecting integration: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("integration not found: %s", id)
	}
	return nil
}
