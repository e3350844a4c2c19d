package testutil

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/availability-sync/backend/internal/gcal"
	"github.com/availability-sync/backend/internal/storage/models"
)

// AllDayEvent builds an all-day external event.
func AllDayEvent(id, title, startDate, endDate string) models.ExternalEvent {
	return models.ExternalEvent{
		ID:     id,
		Title:  title,
		Status: "confirmed",
		When:   models.AllDaySpan{StartDate: startDate, EndDate: endDate},
	}
}

// TimedEvent builds a timed external event.
func TimedEvent(id, title string, start, end time.Time) models.ExternalEvent {
	return models.ExternalEvent{
		ID:     id,
		Title:  title,
		Status: "confirmed",
		When:   models.TimedSpan{Start: start, End: end},
	}
}

// CallCounts tallies FakeCalendar calls.
type CallCounts struct {
	List, Get, Create, Update, Delete int
}

// FakeCalendar is an in-memory calendar provider.
type FakeCalendar struct {
	mu        sync.Mutex
	events    map[string]models.ExternalEvent
	nextID    int
	calls     CallCounts
	Calendars []models.CalendarInfo

	// ListErr, GetErr and CreateErr force the matching call to fail.
	ListErr   error
	GetErr    error
	CreateErr error
	// FailTitles makes Create and Update fail for payloads with these titles.
	FailTitles map[string]bool
	// ListPanic makes ListEvents panic.
	ListPanic bool
	// BeforeList runs at the start of ListEvents, outside the lock.
	BeforeList func()
}

// NewFakeCalendar creates an empty fake calendar.
func NewFakeCalendar() *FakeCalendar {
	return &FakeCalendar{
		events:     make(map[string]models.ExternalEvent),
		FailTitles: make(map[string]bool),
	}
}

// Put adds or replaces an event.
func (f *FakeCalendar) Put(ev models.ExternalEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[ev.ID] = ev
}

// Remove deletes an event.
func (f *FakeCalendar) Remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.events, id)
}

// Event returns a stored event.
func (f *FakeCalendar) Event(id string) (models.ExternalEvent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.events[id]
	return ev, ok
}

// Len returns the number of stored events.
func (f *FakeCalendar) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

// Calls returns call counts so far.
func (f *FakeCalendar) Calls() CallCounts {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// ResetCalls zeroes call counts.
func (f *FakeCalendar) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = CallCounts{}
}

func (f *FakeCalendar) ListEvents(ctx context.Context, _, _ string, _, _ time.Time) ([]models.ExternalEvent, error) {
	if f.BeforeList != nil {
		f.BeforeList()
	}
	if err := ctx.Err(); err != nil {
		return nil, &gcal.ProviderError{Err: err}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls.List++
	if f.ListPanic {
		panic("fake calendar exploded")
	}
	if f.ListErr != nil {
		return nil, f.ListErr
	}

	ids := make([]string, 0, len(f.events))
	for id := range f.events {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	events := make([]models.ExternalEvent, 0, len(ids))
	for _, id := range ids {
		events = append(events, f.events[id])
	}
	return events, nil
}

func (f *FakeCalendar) GetEvent(_ context.Context, _, _, eventID string) (*models.ExternalEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls.Get++
	if f.GetErr != nil {
		return nil, f.GetErr
	}
	ev, ok := f.events[eventID]
	if !ok {
		return nil, nil
	}
	return &ev, nil
}

func (f *FakeCalendar) CreateEvent(_ context.Context, _, _, blockID string, ev models.ExternalEvent) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls.Create++
	if f.CreateErr != nil {
		return "", f.CreateErr
	}
	if f.FailTitles[ev.Title] {
		return "", &gcal.ProviderError{StatusCode: http.StatusBadRequest, Body: "rejected"}
	}

	f.nextID++
	ev.ID = fmt.Sprintf("pushed-%d", f.nextID)
	ev.Status = "confirmed"
	ev.SourceBlockID = blockID
	f.events[ev.ID] = ev
	return ev.ID, nil
}

func (f *FakeCalendar) UpdateEvent(_ context.Context, _, _, eventID, blockID string, ev models.ExternalEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls.Update++
	if f.FailTitles[ev.Title] {
		return &gcal.ProviderError{StatusCode: http.StatusBadRequest, Body: "rejected"}
	}
	if _, ok := f.events[eventID]; !ok {
		return &gcal.ProviderError{StatusCode: http.StatusNotFound, Body: "not found"}
	}
	ev.ID = eventID
	ev.Status = "confirmed"
	ev.SourceBlockID = blockID
	f.events[eventID] = ev
	return nil
}

func (f *FakeCalendar) DeleteEvent(_ context.Context, _, _, eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls.Delete++
	delete(f.events, eventID)
	return nil
}

func (f *FakeCalendar) ListCalendars(context.Context, string) ([]models.CalendarInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calendars, nil
}

// StaticTokens is a TokenProvider returning a fixed token or error.
type StaticTokens struct {
	Token string
	Err   error
	mu    sync.Mutex
	calls int
}

func (s *StaticTokens) ValidAccessToken(context.Context, *models.Integration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.Err != nil {
		return "", s.Err
	}
	return s.Token, nil
}

// Calls returns how many tokens were requested.
func (s *StaticTokens) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
