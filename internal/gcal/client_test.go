package gcal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/calendar/v3"

	"github.com/availability-sync/backend/internal/storage/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts Options) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	opts.HTTPClient = srv.Client()
	opts.Endpoint = srv.URL + "/"
	return NewClient(opts)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func googleError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{"code": status, "message": msg},
	})
}

func TestListEvents_PaginatesAndSendsQuery(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, "/calendars/primary/events", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "true", q.Get("singleEvents"))
		assert.Equal(t, "startTime", q.Get("orderBy"))
		assert.NotEmpty(t, q.Get("timeMin"))
		assert.NotEmpty(t, q.Get("timeMax"))

		if q.Get("pageToken") == "" {
			writeJSON(w, http.StatusOK, map[string]any{
				"items": []map[string]any{{
					"id": "evt-1", "summary": "Holiday", "status": "confirmed",
					"start": map[string]string{"date": "2024-05-01"},
					"end":   map[string]string{"date": "2024-05-02"},
				}},
				"nextPageToken": "page-2",
			})
			return
		}
		assert.Equal(t, "page-2", q.Get("pageToken"))
		writeJSON(w, http.StatusOK, map[string]any{
			"items": []map[string]any{{
				"id": "evt-2", "summary": "Lunch", "status": "confirmed",
				"start": map[string]string{"dateTime": "2024-05-03T12:00:00+02:00"},
				"end":   map[string]string{"dateTime": "2024-05-03T13:00:00+02:00"},
			}},
		})
	}, Options{})

	events, err := client.ListEvents(context.Background(), "tok-1", "primary",
		time.Date(2024, 4, 24, 0, 0, 0, 0, time.UTC), time.Date(2024, 7, 30, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))

	allDay, ok := events[0].When.(models.AllDaySpan)
	require.True(t, ok)
	assert.Equal(t, models.AllDaySpan{StartDate: "2024-05-01", EndDate: "2024-05-01"}, allDay)

	timed, ok := events[1].When.(models.TimedSpan)
	require.True(t, ok)
	assert.True(t, timed.Start.Equal(time.Date(2024, 5, 3, 10, 0, 0, 0, time.UTC)))
}

func TestListEvents_RepeatedCursorAborts(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"items": []any{}, "nextPageToken": "same"})
	}, Options{})

	_, err := client.ListEvents(context.Background(), "tok", "primary", time.Now(), time.Now().Add(time.Hour))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "repeated page token")
}

func TestListEvents_PageLimit(t *testing.T) {
	var n int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		i := atomic.AddInt32(&n, 1)
		writeJSON(w, http.StatusOK, map[string]any{"items": []any{}, "nextPageToken": "p" + string(rune('a'+i))})
	}, Options{MaxPages: 3})

	_, err := client.ListEvents(context.Background(), "tok", "primary", time.Now(), time.Now().Add(time.Hour))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeded 3 pages")
	assert.EqualValues(t, 3, atomic.LoadInt32(&n))
}

func TestCalendarIDIsEscaped(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.Contains(r.URL.EscapedPath(), "ops%2Fteam"), r.URL.EscapedPath())
		assert.Equal(t, "/calendars/ops/team@example.com/events", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{"items": []any{}})
	}, Options{})

	_, err := client.ListEvents(context.Background(), "tok", "ops/team@example.com", time.Now(), time.Now().Add(time.Hour))
	require.NoError(t, err)
}

func TestGetEvent_NotFoundIsNil(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		googleError(w, http.StatusNotFound, "Not Found")
	}, Options{})

	ev, err := client.GetEvent(context.Background(), "tok", "primary", "gone")
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestGetEvent_ServerErrorHidesBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		googleError(w, http.StatusInternalServerError, "secret backend detail")
	}, Options{})

	_, err := client.GetEvent(context.Background(), "tok", "primary", "evt")
	require.Error(t, err)

	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, http.StatusInternalServerError, perr.StatusCode)
	assert.Contains(t, perr.Body, "secret backend detail")
	assert.NotContains(t, err.Error(), "secret backend detail")
}

func TestDeleteEvent_Idempotent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		googleError(w, http.StatusGone, "Resource has been deleted")
	}, Options{})

	assert.NoError(t, client.DeleteEvent(context.Background(), "tok", "primary", "evt"))
}

func TestCreateEvent_AllDayPayload(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Off", body["summary"])
		assert.Equal(t, "2024-05-01", body["start"].(map[string]any)["date"])
		assert.Equal(t, "2024-05-03", body["end"].(map[string]any)["date"])
		private := body["extendedProperties"].(map[string]any)["private"].(map[string]any)
		assert.Equal(t, "block-1", private[sourceProperty])
		writeJSON(w, http.StatusOK, map[string]any{"id": "new-evt"})
	}, Options{})

	id, err := client.CreateEvent(context.Background(), "tok", "primary", "block-1", models.ExternalEvent{
		Title: "Off",
		When:  models.AllDaySpan{StartDate: "2024-05-01", EndDate: "2024-05-02"},
	})
	require.NoError(t, err)
	assert.Equal(t, "new-evt", id)
}

func TestUpdateEvent_TimedPayload(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/calendars/primary/events/evt-7", r.URL.Path)
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		start := body["start"].(map[string]any)
		assert.Equal(t, "2024-05-01T09:00:00+02:00", start["dateTime"])
		assert.Equal(t, "Europe/Paris", start["timeZone"])
		writeJSON(w, http.StatusOK, map[string]any{"id": "evt-7"})
	}, Options{})

	err = client.UpdateEvent(context.Background(), "tok", "primary", "evt-7", "block-1", models.ExternalEvent{
		Title: "Dentist",
		When: models.TimedSpan{
			Start: time.Date(2024, 5, 1, 9, 0, 0, 0, loc),
			End:   time.Date(2024, 5, 1, 10, 0, 0, 0, loc),
		},
	})
	require.NoError(t, err)
}

func TestTimeoutIsProviderError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}, Options{Timeout: 50 * time.Millisecond})

	_, err := client.GetEvent(context.Background(), "tok", "primary", "evt")
	require.Error(t, err)

	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 0, perr.StatusCode)
	assert.Contains(t, err.Error(), "timed out")
}

func TestBreakerOpensOnOutage(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		googleError(w, http.StatusServiceUnavailable, "backend error")
	}, Options{BreakerThreshold: 2, BreakerCooldown: time.Minute})

	for i := 0; i < 2; i++ {
		_, err := client.GetEvent(context.Background(), "tok", "primary", "evt")
		var perr *ProviderError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, http.StatusServiceUnavailable, perr.StatusCode)
	}

	_, err := client.GetEvent(context.Background(), "tok", "primary", "evt")
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 0, perr.StatusCode)
	assert.Contains(t, err.Error(), "circuit open")
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestBreakerIgnoresClientErrors(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		googleError(w, http.StatusBadRequest, "bad request")
	}, Options{BreakerThreshold: 1})

	for i := 0; i < 3; i++ {
		_, err := client.GetEvent(context.Background(), "tok", "primary", "evt")
		require.Error(t, err)
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestListCalendars(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/me/calendarList", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{
			"items": []map[string]any{
				{"id": "pro@example.com", "summary": "Work", "primary": true, "accessRole": "owner"},
				{"id": "team@group.calendar.google.com", "summary": "Team", "accessRole": "writer"},
			},
		})
	}, Options{})

	cals, err := client.ListCalendars(context.Background(), "tok")
	require.NoError(t, err)
	require.Len(t, cals, 2)
	assert.True(t, cals[0].Primary)
	assert.Equal(t, "Team", cals[1].Summary)
}

func TestConvert_AllDayEndBounds(t *testing.T) {
	assert.Equal(t, "2024-05-01", inclusiveEnd("2024-05-01", "2024-05-01"))
	assert.Equal(t, "2024-05-03", inclusiveEnd("2024-05-01", "2024-05-04"))

	end, err := exclusiveEnd("2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01", end)
}

func TestConvert_ReadsSourceBlock(t *testing.T) {
	item := &calendar.Event{
		Id:     "evt-1",
		Status: "confirmed",
		Start:  &calendar.EventDateTime{Date: "2024-05-01"},
		End:    &calendar.EventDateTime{Date: "2024-05-02"},
	}
	item.ExtendedProperties = &calendar.EventExtendedProperties{
		Private: map[string]string{sourceProperty: "block-1"},
	}
	pushed := fromGoogleEvent(item)
	assert.Equal(t, "block-1", pushed.SourceBlockID)
	assert.True(t, pushed.IsPushed())

	foreign := fromGoogleEvent(&calendar.Event{
		Id:    "evt-2",
		Start: &calendar.EventDateTime{Date: "2024-05-01"},
	})
	assert.Empty(t, foreign.SourceBlockID)
	assert.False(t, foreign.IsPushed())
}
