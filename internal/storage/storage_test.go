package storage

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/availability-sync/backend/internal/crypto"
	"github.com/availability-sync/backend/internal/storage/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, RunMigrations(context.Background(), db))
	t.Cleanup(func() { db.Close() })
	return db
}

func strPtr(s string) *string { return &s }

func seedIntegration(t *testing.T, repo *IntegrationRepository, salonID, professionalID string) *models.Integration {
	t.Helper()
	expiry := time.Now().Add(time.Hour).UTC()
	integ := &models.Integration{
		SalonID:        salonID,
		ProfessionalID: professionalID,
		AccountEmail:   strPtr("pro@example.com"),
		CalendarID:     models.DefaultCalendarID,
		AccessToken:    "access-1",
		RefreshToken:   "refresh-1",
		TokenExpiry:    &expiry,
		SyncDirection:  models.DirectionBidirectional,
		Enabled:        true,
		Status:         models.IntegrationActive,
	}
	require.NoError(t, repo.Upsert(context.Background(), integ))
	return integ
}

func TestRunMigrations_Idempotent(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	require.NoError(t, RunMigrations(ctx, db))
	require.NoError(t, db.Healthy(ctx))

	var applied int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&applied))
	assert.Equal(t, 1, applied)
}

func newRawDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "raw.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRowContext(context.Background(),
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
	require.NoError(t, err)
	return n > 0
}

func TestRunMigrations_VersionOrderAndChecksum(t *testing.T) {
	ctx := context.Background()
	db := newRawDB(t)
	source := fstest.MapFS{
		"010_b.sql": {Data: []byte(`ALTER TABLE a ADD COLUMN label TEXT;`)},
		"2_a.sql":   {Data: []byte(`CREATE TABLE a (id INTEGER PRIMARY KEY);`)},
	}

	require.NoError(t, runMigrations(ctx, db, source))
	require.NoError(t, runMigrations(ctx, db, source))

	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations ORDER BY version`)
	require.NoError(t, err)
	defer rows.Close()
	var versions []int
	for rows.Next() {
		var v int
		require.NoError(t, rows.Scan(&v))
		versions = append(versions, v)
	}
	assert.Equal(t, []int{2, 10}, versions)

	source["2_a.sql"] = &fstest.MapFile{Data: []byte(`CREATE TABLE a (id TEXT PRIMARY KEY);`)}
	err = runMigrations(ctx, db, source)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2_a.sql was modified")
}

func TestRunMigrations_FailureRollsBack(t *testing.T) {
	ctx := context.Background()
	db := newRawDB(t)
	source := fstest.MapFS{
		"001_broken.sql": {Data: []byte(`CREATE TABLE half (id INTEGER); INSERT INTO missing VALUES (1);`)},
	}

	require.Error(t, runMigrations(ctx, db, source))
	assert.False(t, tableExists(t, db, "half"))

	var applied int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&applied))
	assert.Zero(t, applied)
}

func TestRunMigrations_RejectsBadNames(t *testing.T) {
	ctx := context.Background()

	err := runMigrations(ctx, newRawDB(t), fstest.MapFS{"init.sql": {Data: []byte(`SELECT 1;`)}})
	assert.Error(t, err)

	err = runMigrations(ctx, newRawDB(t), fstest.MapFS{
		"001_a.sql": {Data: []byte(`SELECT 1;`)},
		"1_b.sql":   {Data: []byte(`SELECT 2;`)},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "share version 1")
}

func TestIntegrationRepository_UpsertKeepsIdentity(t *testing.T) {
	ctx := context.Background()
	repo := NewIntegrationRepository(newTestDB(t), nil)

	first := seedIntegration(t, repo, "salon-1", "pro-1")
	require.NotEmpty(t, first.ID)

	require.NoError(t, repo.UpdateSettings(ctx, first.ID, models.DirectionExternalToLocal, true, "team@example.com"))
	require.NoError(t, repo.UpdateStatus(ctx, first.ID, models.IntegrationTokenExpired, strPtr("expired")))

	again := &models.Integration{
		SalonID:        "salon-1",
		ProfessionalID: "pro-1",
		CalendarID:     models.DefaultCalendarID,
		AccessToken:    "access-2",
		SyncDirection:  models.DirectionBidirectional,
		Enabled:        true,
		Status:         models.IntegrationActive,
	}
	require.NoError(t, repo.Upsert(ctx, again))

	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "access-2", again.AccessToken)
	assert.Equal(t, "refresh-1", again.RefreshToken, "empty refresh token keeps the stored one")
	assert.Equal(t, models.IntegrationActive, again.Status)
	assert.Nil(t, again.LastError)
	assert.Equal(t, models.DirectionExternalToLocal, again.SyncDirection)
	assert.Equal(t, "team@example.com", again.CalendarID)
}

func TestIntegrationRepository_GetMissing(t *testing.T) {
	repo := NewIntegrationRepository(newTestDB(t), nil)

	integ, err := repo.GetByID(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, integ)
}

func TestIntegrationRepository_EncryptsTokens(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	enc, err := crypto.NewTokenEncryptor("storage-test-passphrase")
	require.NoError(t, err)
	repo := NewIntegrationRepository(db, enc)

	integ := seedIntegration(t, repo, "salon-1", "pro-1")
	assert.Equal(t, "access-1", integ.AccessToken)

	var raw string
	require.NoError(t, db.QueryRowContext(ctx, "SELECT access_token FROM integrations WHERE id = ?", integ.ID).Scan(&raw))
	assert.NotEqual(t, "access-1", raw)

	expiry := time.Now().Add(2 * time.Hour)
	require.NoError(t, repo.UpdateAccessToken(ctx, integ.ID, "access-3", expiry))
	got, err := repo.GetByID(ctx, integ.ID)
	require.NoError(t, err)
	assert.Equal(t, "access-3", got.AccessToken)
	assert.Equal(t, "refresh-1", got.RefreshToken)
}

func TestIntegrationRepository_ListEligible(t *testing.T) {
	ctx := context.Background()
	repo := NewIntegrationRepository(newTestDB(t), nil)

	active := seedIntegration(t, repo, "salon-1", "pro-1")
	errored := seedIntegration(t, repo, "salon-1", "pro-2")
	disabled := seedIntegration(t, repo, "salon-1", "pro-3")

	require.NoError(t, repo.UpdateStatus(ctx, errored.ID, models.IntegrationError, strPtr("boom")))
	require.NoError(t, repo.UpdateSettings(ctx, disabled.ID, models.DirectionBidirectional, false, models.DefaultCalendarID))

	eligible, err := repo.ListEligible(ctx)
	require.NoError(t, err)
	require.Len(t, eligible, 1)
	assert.Equal(t, active.ID, eligible[0].ID)
}

func TestIntegrationRepository_Disconnect(t *testing.T) {
	ctx := context.Background()
	repo := NewIntegrationRepository(newTestDB(t), nil)
	integ := seedIntegration(t, repo, "salon-1", "pro-1")

	require.NoError(t, repo.Disconnect(ctx, integ.ID))

	got, err := repo.GetByID(ctx, integ.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.IntegrationDisconnected, got.Status)
	assert.False(t, got.Enabled)
	assert.Empty(t, got.AccessToken)
	assert.Empty(t, got.RefreshToken)
	assert.Nil(t, got.TokenExpiry)

	assert.Error(t, repo.Disconnect(ctx, "missing"))
}

func TestIntegrationRepository_RecordSyncOutcome(t *testing.T) {
	ctx := context.Background()
	repo := NewIntegrationRepository(newTestDB(t), nil)
	integ := seedIntegration(t, repo, "salon-1", "pro-1")

	require.NoError(t, repo.RecordSyncOutcome(ctx, integ.ID, models.IntegrationError, strPtr("evt-1: 500"), models.SyncLogPartial))

	got, err := repo.GetByID(ctx, integ.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IntegrationError, got.Status)
	require.NotNil(t, got.LastSyncStatus)
	assert.Equal(t, models.SyncLogPartial, *got.LastSyncStatus)
	assert.NotNil(t, got.LastSyncAt)
}

func TestBlockRepository_Queries(t *testing.T) {
	ctx := context.Background()
	repo := NewBlockRepository(newTestDB(t))

	local := &models.AvailabilityBlock{
		SalonID: "salon-1", ProfessionalID: "pro-1",
		StartDate: "2024-05-01", EndDate: "2024-05-01",
		StartTime: strPtr("09:00"), EndTime: strPtr("10:00"),
		Title: "Dentist",
	}
	owned := &models.AvailabilityBlock{
		SalonID: "salon-1", ProfessionalID: "pro-1",
		StartDate: "2024-05-02", EndDate: "2024-05-03", AllDay: true,
		Title: "Trip", ExternalSource: models.ExternalSourceExternal,
		ExternalEventID: strPtr("evt-1"),
	}
	longLocal := &models.AvailabilityBlock{
		SalonID: "salon-1", ProfessionalID: "pro-1",
		StartDate: "2024-04-20", EndDate: "2024-05-10", AllDay: true,
		Title: "Leave",
	}
	other := &models.AvailabilityBlock{
		SalonID: "salon-1", ProfessionalID: "pro-2",
		StartDate: "2024-05-01", EndDate: "2024-05-01", AllDay: true,
	}
	for _, b := range []*models.AvailabilityBlock{local, owned, longLocal, other} {
		require.NoError(t, repo.Create(ctx, b))
	}

	synced, err := repo.ListSyncOwned(ctx, "salon-1", "pro-1")
	require.NoError(t, err)
	require.Len(t, synced, 1)
	assert.Equal(t, owned.ID, synced[0].ID)

	overlapping, err := repo.ListLocalOverlapping(ctx, "salon-1", "pro-1", "2024-05-01", "2024-05-01")
	require.NoError(t, err)
	assert.Len(t, overlapping, 2)

	within, err := repo.ListLocalWithin(ctx, "salon-1", "pro-1", "2024-04-25", "2024-06-01")
	require.NoError(t, err)
	require.Len(t, within, 1)
	assert.Equal(t, local.ID, within[0].ID)

	require.NoError(t, repo.MarkPushed(ctx, local.ID, "evt-9", "hash"))
	linked, err := repo.LinkedLocalEventIDs(ctx, "salon-1", "pro-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"evt-9": true}, linked)

	byEvent, err := repo.GetByExternalEventID(ctx, "salon-1", "pro-1", "evt-1")
	require.NoError(t, err)
	require.NotNil(t, byEvent)
	assert.Equal(t, owned.ID, byEvent.ID)

	require.NoError(t, repo.Delete(ctx, owned.ID))
	require.NoError(t, repo.Delete(ctx, owned.ID))
	gone, err := repo.GetByID(ctx, owned.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestBlockRepository_UpdateAndTx(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewBlockRepository(db)

	b := &models.AvailabilityBlock{
		SalonID: "salon-1", ProfessionalID: "pro-1",
		StartDate: "2024-05-01", EndDate: "2024-05-01", AllDay: true, Title: "Busy",
	}
	require.NoError(t, repo.Create(ctx, b))

	b.Title = "Renamed"
	b.AllDay = false
	b.StartTime, b.EndTime = strPtr("08:00"), strPtr("09:30")
	require.NoError(t, repo.Update(ctx, b))

	got, err := repo.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Title)
	assert.False(t, got.AllDay)
	assert.Equal(t, "09:30", *got.EndTime)

	err = db.Transaction(ctx, func(tx *sql.Tx) error {
		if err := repo.WithTx(tx).Delete(ctx, b.ID); err != nil {
			return err
		}
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	still, err := repo.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.NotNil(t, still, "rolled back delete keeps the block")
}

func TestConflictRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	integ := seedIntegration(t, NewIntegrationRepository(db, nil), "salon-1", "pro-1")
	repo := NewConflictRepository(db)

	c := &models.SyncConflict{
		IntegrationID: integ.ID, SalonID: "salon-1", ProfessionalID: "pro-1",
		LocalBlockID: strPtr("block-1"), ExternalEventID: "evt-1",
		ConflictType: models.ConflictTypeTimeOverlap,
		LocalSnapshot: `{"title":"Dentist"}`, ExternalSnapshot: `{"title":"Trip"}`,
	}
	require.NoError(t, repo.Create(ctx, c))
	assert.Equal(t, models.ConflictPending, c.Status)

	pending, err := repo.List(ctx, ConflictFilter{SalonID: "salon-1", PendingOnly: true})
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	latest, err := repo.LatestForEvent(ctx, integ.ID, "evt-1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, c.ID, latest.ID)

	ok, err := repo.Resolve(ctx, c.ID, models.ConflictResolvedKeepLocal, "owner-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Resolve(ctx, c.ID, models.ConflictIgnored, "owner-2")
	require.NoError(t, err)
	assert.False(t, ok, "resolved conflicts are terminal")

	got, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConflictResolvedKeepLocal, got.Status)
	assert.Equal(t, "owner-1", *got.ResolvedBy)
	assert.NotNil(t, got.ResolvedAt)

	pending, err = repo.List(ctx, ConflictFilter{SalonID: "salon-1", PendingOnly: true})
	require.NoError(t, err)
	assert.Empty(t, pending)

	all, err := repo.List(ctx, ConflictFilter{SalonID: "salon-1", ProfessionalID: "pro-2"})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSyncLogRepository_NewestFirst(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	integ := seedIntegration(t, NewIntegrationRepository(db, nil), "salon-1", "pro-1")
	repo := NewSyncLogRepository(db)

	var ids []string
	for i := 0; i < 3; i++ {
		l := &models.SyncLog{IntegrationID: integ.ID, SyncType: models.SyncTypeManual, Direction: models.DirectionBidirectional}
		require.NoError(t, repo.Start(ctx, l))
		l.Status = models.SyncLogSuccess
		l.Created = i
		require.NoError(t, repo.Complete(ctx, l))
		ids = append(ids, l.ID)
	}

	page, total, err := repo.ListByIntegration(ctx, integ.ID, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 2)
	assert.Equal(t, ids[2], page[0].ID)
	assert.Equal(t, ids[1], page[1].ID)
	assert.Equal(t, models.SyncLogSuccess, page[0].Status)
	assert.NotNil(t, page[0].CompletedAt)

	page, _, err = repo.ListByIntegration(ctx, integ.ID, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[0], page[0].ID)
}

func TestSyncLogRepository_CompleteOnce(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	integ := seedIntegration(t, NewIntegrationRepository(db, nil), "salon-1", "pro-1")
	repo := NewSyncLogRepository(db)

	l := &models.SyncLog{IntegrationID: integ.ID, SyncType: models.SyncTypeFull, Direction: models.DirectionBidirectional}
	require.NoError(t, repo.Start(ctx, l))
	l.Status = models.SyncLogError
	require.NoError(t, repo.Complete(ctx, l))

	l.Status = models.SyncLogSuccess
	require.NoError(t, repo.Complete(ctx, l))

	page, _, err := repo.ListByIntegration(ctx, integ.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, models.SyncLogError, page[0].Status)
}
