// Package testutil holds fixtures and fakes shared by package tests.
package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/availability-sync/backend/internal/storage"
	"github.com/availability-sync/backend/internal/storage/models"
)

// Repos bundles a migrated temp database with its repositories.
type Repos struct {
	DB           *storage.DB
	Integrations *storage.IntegrationRepository
	Blocks       *storage.BlockRepository
	Conflicts    *storage.ConflictRepository
	Logs         *storage.SyncLogRepository
}

// NewRepos opens a fresh SQLite database under t.TempDir.
func NewRepos(t *testing.T) *Repos {
	t.Helper()

	db, err := storage.NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, storage.RunMigrations(context.Background(), db))
	t.Cleanup(func() { db.Close() })

	return &Repos{
		DB:           db,
		Integrations: storage.NewIntegrationRepository(db, nil),
		Blocks:       storage.NewBlockRepository(db),
		Conflicts:    storage.NewConflictRepository(db),
		Logs:         storage.NewSyncLogRepository(db),
	}
}

// StrPtr returns a pointer to s.
func StrPtr(s string) *string {
	return &s
}

// SeedIntegration stores an active bidirectional integration with a token
// valid for an hour.
func (r *Repos) SeedIntegration(t *testing.T, salonID, professionalID string) *models.Integration {
	t.Helper()

	expiry := time.Now().Add(time.Hour).UTC()
	integ := &models.Integration{
		SalonID:        salonID,
		ProfessionalID: professionalID,
		AccountEmail:   StrPtr(professionalID + "@example.com"),
		CalendarID:     models.DefaultCalendarID,
		AccessToken:    "access-token",
		RefreshToken:   "refresh-token",
		TokenExpiry:    &expiry,
		SyncDirection:  models.DirectionBidirectional,
		Enabled:        true,
		Status:         models.IntegrationActive,
	}
	require.NoError(t, r.Integrations.Upsert(context.Background(), integ))
	return integ
}

// LocalTimedBlock stores a locally owned timed block.
func (r *Repos) LocalTimedBlock(t *testing.T, integ *models.Integration, date, start, end, title string) *models.AvailabilityBlock {
	t.Helper()

	b := &models.AvailabilityBlock{
		SalonID:        integ.SalonID,
		ProfessionalID: integ.ProfessionalID,
		StartDate:      date,
		EndDate:        date,
		StartTime:      StrPtr(start),
		EndTime:        StrPtr(end),
		Title:          title,
	}
	require.NoError(t, r.Blocks.Create(context.Background(), b))
	return b
}

// LocalAllDayBlock stores a locally owned all-day block.
func (r *Repos) LocalAllDayBlock(t *testing.T, integ *models.Integration, startDate, endDate, title string) *models.AvailabilityBlock {
	t.Helper()

	b := &models.AvailabilityBlock{
		SalonID:        integ.SalonID,
		ProfessionalID: integ.ProfessionalID,
		StartDate:      startDate,
		EndDate:        endDate,
		AllDay:         true,
		Title:          title,
	}
	require.NoError(t, r.Blocks.Create(context.Background(), b))
	return b
}
