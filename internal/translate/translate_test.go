package translate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/availability-sync/backend/internal/storage/models"
)

func paris(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)
	return loc
}

func strPtr(s string) *string { return &s }

func TestEventToBlock_AllDay(t *testing.T) {
	ev := models.ExternalEvent{
		ID:    "evt-1",
		Title: "Holiday",
		When:  models.AllDaySpan{StartDate: "2024-05-01"},
	}

	f, err := EventToBlock(ev, time.UTC)
	require.NoError(t, err)

	assert.True(t, f.AllDay)
	assert.Equal(t, "2024-05-01", f.StartDate)
	assert.Equal(t, "2024-05-01", f.EndDate, "end defaults to start")
	assert.Nil(t, f.StartTime)
	assert.Nil(t, f.EndTime)
}

func TestEventToBlock_TimedConvertsToSalonZone(t *testing.T) {
	loc := paris(t)
	ev := models.ExternalEvent{
		ID: "evt-2",
		When: models.TimedSpan{
			Start: time.Date(2024, 5, 1, 7, 0, 0, 0, time.UTC),
			End:   time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC),
		},
	}

	f, err := EventToBlock(ev, loc)
	require.NoError(t, err)

	assert.False(t, f.AllDay)
	assert.Equal(t, "2024-05-01", f.StartDate)
	assert.Equal(t, "09:00", *f.StartTime)
	assert.Equal(t, "10:30", *f.EndTime)
	assert.Equal(t, DefaultInboundTitle, f.Title)
}

func TestEventToBlock_MissingTime(t *testing.T) {
	_, err := EventToBlock(models.ExternalEvent{ID: "evt-3"}, time.UTC)
	assert.Error(t, err)
}

func TestBlockToEvent_Defaults(t *testing.T) {
	loc := paris(t)
	b := &models.AvailabilityBlock{ID: "b1", StartDate: "2024-05-01", EndDate: "2024-05-01"}

	ev, err := BlockToEvent(b, loc)
	require.NoError(t, err)

	timed, ok := ev.When.(models.TimedSpan)
	require.True(t, ok)
	assert.Equal(t, "00:00", timed.Start.Format("15:04"))
	assert.Equal(t, "23:59", timed.End.Format("15:04"))
	assert.Equal(t, "Europe/Paris", timed.Start.Location().String())
	assert.Equal(t, DefaultOutboundTitle, ev.Title)
}

func TestBlockToEvent_InvalidDate(t *testing.T) {
	_, err := BlockToEvent(&models.AvailabilityBlock{ID: "b1", StartDate: "05/01/2024", AllDay: true}, time.UTC)
	assert.Error(t, err)

	_, err = BlockToEvent(&models.AvailabilityBlock{ID: "b2", StartDate: "2024-05-01", StartTime: strPtr("9am")}, time.UTC)
	assert.Error(t, err)
}

func TestBlockSpan(t *testing.T) {
	loc := paris(t)

	allDay := &models.AvailabilityBlock{ID: "b1", StartDate: "2024-05-01", EndDate: "2024-05-02", AllDay: true}
	start, end, err := BlockSpan(allDay, loc)
	require.NoError(t, err)
	assert.True(t, start.Equal(time.Date(2024, 5, 1, 0, 0, 0, 0, loc)))
	assert.True(t, end.Equal(time.Date(2024, 5, 3, 0, 0, 0, 0, loc)))

	timed := &models.AvailabilityBlock{
		ID: "b2", StartDate: "2024-05-01", EndDate: "2024-05-01",
		StartTime: strPtr("09:00"), EndTime: strPtr("10:30"),
	}
	start, end, err = BlockSpan(timed, loc)
	require.NoError(t, err)
	assert.True(t, start.Equal(time.Date(2024, 5, 1, 7, 0, 0, 0, time.UTC)))
	assert.True(t, end.Equal(time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)))

	_, _, err = BlockSpan(&models.AvailabilityBlock{ID: "b3", StartDate: "soon", AllDay: true}, loc)
	assert.Error(t, err)
}

func TestRoundTrip_AllDay(t *testing.T) {
	b := &models.AvailabilityBlock{StartDate: "2024-05-01", EndDate: "2024-05-03", AllDay: true, Title: "Trip"}

	ev, err := BlockToEvent(b, time.UTC)
	require.NoError(t, err)
	f, err := EventToBlock(ev, time.UTC)
	require.NoError(t, err)

	assert.True(t, f.AllDay)
	assert.Equal(t, b.StartDate, f.StartDate)
	assert.Equal(t, b.EndDate, f.EndDate)
}

func TestRoundTrip_Timed(t *testing.T) {
	loc := paris(t)
	b := &models.AvailabilityBlock{
		StartDate: "2024-10-27", EndDate: "2024-10-27",
		StartTime: strPtr("01:15"), EndTime: strPtr("04:45"),
		Title: "Early shift",
	}

	ev, err := BlockToEvent(b, loc)
	require.NoError(t, err)
	f, err := EventToBlock(ev, loc)
	require.NoError(t, err)

	assert.False(t, f.AllDay)
	assert.Equal(t, "01:15", *f.StartTime)
	assert.Equal(t, "04:45", *f.EndTime)
	assert.Equal(t, b.StartDate, f.StartDate)

	changed, err := NeedsUpdate(ev, b, loc)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestNeedsUpdate(t *testing.T) {
	base := func() *models.AvailabilityBlock {
		return &models.AvailabilityBlock{
			Title: "Busy", StartDate: "2024-05-01", EndDate: "2024-05-01",
			StartTime: strPtr("09:00"), EndTime: strPtr("10:00"),
		}
	}
	ev := models.ExternalEvent{
		Title: "Busy",
		When: models.TimedSpan{
			Start: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
			End:   time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		},
	}

	tests := []struct {
		name   string
		mutate func(*models.AvailabilityBlock)
		want   bool
	}{
		{"unchanged", func(*models.AvailabilityBlock) {}, false},
		{"title", func(b *models.AvailabilityBlock) { b.Title = "Other" }, true},
		{"start date", func(b *models.AvailabilityBlock) { b.StartDate = "2024-04-30" }, true},
		{"end date", func(b *models.AvailabilityBlock) { b.EndDate = "2024-05-02" }, true},
		{"start time", func(b *models.AvailabilityBlock) { b.StartTime = strPtr("08:00") }, true},
		{"end time", func(b *models.AvailabilityBlock) { b.EndTime = nil }, true},
		{"all day", func(b *models.AvailabilityBlock) { b.AllDay = true }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := base()
			tt.mutate(b)
			got, err := NeedsUpdate(ev, b, time.UTC)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPayloadHash(t *testing.T) {
	a := models.ExternalEvent{Title: "Off", When: models.AllDaySpan{StartDate: "2024-05-01", EndDate: "2024-05-01"}}
	b := a
	c := a
	c.Title = "Off sick"

	assert.Equal(t, PayloadHash(a), PayloadHash(b))
	assert.NotEqual(t, PayloadHash(a), PayloadHash(c))
}

func TestNewSyncedBlock(t *testing.T) {
	integ := &models.Integration{SalonID: "salon-1", ProfessionalID: "pro-1"}
	ev := models.ExternalEvent{ID: "evt-1", Title: "Trip", When: models.AllDaySpan{StartDate: "2024-05-01", EndDate: "2024-05-02"}}

	b, err := NewSyncedBlock(integ, ev, time.UTC)
	require.NoError(t, err)

	assert.True(t, b.IsSyncOwned())
	assert.Equal(t, "evt-1", *b.ExternalEventID)
	assert.Equal(t, "pro-1", b.ProfessionalID)
	assert.Equal(t, "2024-05-02", b.EndDate)
	assert.Empty(t, b.ID)
}
