// Package gcal is a thin client for the Google Calendar v3 API. Every call
// takes a bearer token and is bounded by a per-call timeout; failures are
// reported as *ProviderError. Calls share a circuit breaker that opens after
// consecutive transport, 429 or 5xx failures.
package gcal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/availability-sync/backend/internal/logging"
	"github.com/availability-sync/backend/internal/storage/models"
)

// ProviderError reports a failed provider request. StatusCode is 0 when no
// response was received, e.g. on timeout. Body is kept for logs and is never
// part of Error().
type ProviderError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode == 0 {
		if errors.Is(e.Err, gobreaker.ErrOpenState) || errors.Is(e.Err, gobreaker.ErrTooManyRequests) {
			return "calendar provider unavailable, circuit open"
		}
		if errors.Is(e.Err, context.DeadlineExceeded) {
			return "calendar provider request timed out"
		}
		return "calendar provider request failed"
	}
	return fmt.Sprintf("calendar provider returned status %d", e.StatusCode)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is a provider 404 or 410.
func IsNotFound(err error) bool {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.StatusCode == http.StatusNotFound || perr.StatusCode == http.StatusGone
	}
	return false
}

// Options configures a Client.
type Options struct {
	// HTTPClient is the base transport. Defaults to http.DefaultClient.
	HTTPClient *http.Client
	// Endpoint overrides the API base URL; it must end with a slash.
	Endpoint string
	Timeout  time.Duration
	// MaxPages bounds pagination loops.
	MaxPages int
	// BreakerThreshold is the number of consecutive failures that opens the
	// breaker; BreakerCooldown is how long it stays open.
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// Client issues calendar requests. It holds no per-integration state.
type Client struct {
	httpClient *http.Client
	endpoint   string
	timeout    time.Duration
	maxPages   int
	breaker    *gobreaker.CircuitBreaker
}

const (
	defaultTimeout          = 30 * time.Second
	defaultMaxPages         = 50
	defaultBreakerThreshold = 5
	defaultBreakerCooldown  = 60 * time.Second
	pageSize                = 250

	// sourceProperty marks events pushed by this service.
	sourceProperty = "availabilitySyncBlockId"
)

// NewClient creates a calendar client.
func NewClient(opts Options) *Client {
	c := &Client{
		httpClient: opts.HTTPClient,
		endpoint:   opts.Endpoint,
		timeout:    opts.Timeout,
		maxPages:   opts.MaxPages,
	}
	if c.httpClient == nil {
		c.httpClient = http.DefaultClient
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	if c.maxPages <= 0 {
		c.maxPages = defaultMaxPages
	}

	threshold := opts.BreakerThreshold
	if threshold <= 0 {
		threshold = defaultBreakerThreshold
	}
	cooldown := opts.BreakerCooldown
	if cooldown <= 0 {
		cooldown = defaultBreakerCooldown
	}
	logger := logging.WithFields(logging.String("component", "gcal"))

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "google-calendar",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(threshold)
		},
		IsSuccessful: func(err error) bool {
			return !isOutage(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				logging.String("breaker", name),
				logging.String("from", from.String()),
				logging.String("to", to.String()))
		},
	})
	return c
}

// isOutage reports whether err says the provider itself is unhealthy rather
// than rejecting one request.
func isOutage(err error) bool {
	if err == nil {
		return false
	}
	var perr *ProviderError
	if !errors.As(err, &perr) {
		return true
	}
	switch {
	case perr.StatusCode == 0:
		return !errors.Is(perr.Err, context.Canceled)
	case perr.StatusCode == http.StatusTooManyRequests:
		return true
	default:
		return perr.StatusCode >= 500
	}
}

// do runs one provider request under the call timeout and the breaker. The
// returned error is always a *ProviderError.
func (c *Client) do(ctx context.Context, fn func(ctx context.Context) error) error {
	cctx, cancel := c.callContext(ctx)
	defer cancel()

	_, err := c.breaker.Execute(func() (any, error) {
		if err := fn(cctx); err != nil {
			return nil, toProviderError(err)
		}
		return nil, nil
	})
	if err == nil {
		return nil
	}

	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr
	}
	return &ProviderError{Err: err}
}

func (c *Client) service(ctx context.Context, token string) (*calendar.Service, error) {
	base := context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	authed := oauth2.NewClient(base, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	}))

	opts := []option.ClientOption{option.WithHTTPClient(authed)}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}

	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating calendar service: %w", err)
	}
	return svc, nil
}

func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// ListEvents returns every single, expanded occurrence in [timeMin, timeMax)
// ordered by start time, following page cursors until exhausted.
func (c *Client) ListEvents(ctx context.Context, token, calendarID string, timeMin, timeMax time.Time) ([]models.ExternalEvent, error) {
	svc, err := c.service(ctx, token)
	if err != nil {
		return nil, err
	}

	var events []models.ExternalEvent
	seen := make(map[string]bool)
	pageToken := ""

	for page := 0; ; page++ {
		if page >= c.maxPages {
			return nil, fmt.Errorf("listing events: exceeded %d pages", c.maxPages)
		}

		call := svc.Events.List(calendarID).
			TimeMin(timeMin.Format(time.RFC3339)).
			TimeMax(timeMax.Format(time.RFC3339)).
			SingleEvents(true).
			OrderBy("startTime").
			MaxResults(pageSize)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		var resp *calendar.Events
		err := c.do(ctx, func(cctx context.Context) error {
			var err error
			resp, err = call.Context(cctx).Do()
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("listing events: %w", err)
		}

		for _, item := range resp.Items {
			events = append(events, fromGoogleEvent(item))
		}

		if resp.NextPageToken == "" {
			return events, nil
		}
		if seen[resp.NextPageToken] {
			return nil, fmt.Errorf("listing events: repeated page token")
		}
		seen[resp.NextPageToken] = true
		pageToken = resp.NextPageToken
	}
}

// GetEvent fetches one event. A 404 or 410 yields (nil, nil).
func (c *Client) GetEvent(ctx context.Context, token, calendarID, eventID string) (*models.ExternalEvent, error) {
	svc, err := c.service(ctx, token)
	if err != nil {
		return nil, err
	}

	var item *calendar.Event
	err = c.do(ctx, func(cctx context.Context) error {
		var err error
		item, err = svc.Events.Get(calendarID, eventID).Context(cctx).Do()
		return err
	})
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting event %s: %w", eventID, err)
	}

	ev := fromGoogleEvent(item)
	return &ev, nil
}

// CreateEvent inserts an event and returns its provider ID. blockID is
// stored as a private extended property.
func (c *Client) CreateEvent(ctx context.Context, token, calendarID, blockID string, ev models.ExternalEvent) (string, error) {
	svc, err := c.service(ctx, token)
	if err != nil {
		return "", err
	}

	payload, err := toGoogleEvent(ev, blockID)
	if err != nil {
		return "", err
	}

	var created *calendar.Event
	err = c.do(ctx, func(cctx context.Context) error {
		var err error
		created, err = svc.Events.Insert(calendarID, payload).Context(cctx).Do()
		return err
	})
	if err != nil {
		return "", fmt.Errorf("creating event: %w", err)
	}
	return created.Id, nil
}

// UpdateEvent replaces the content of an existing event.
func (c *Client) UpdateEvent(ctx context.Context, token, calendarID, eventID, blockID string, ev models.ExternalEvent) error {
	svc, err := c.service(ctx, token)
	if err != nil {
		return err
	}

	payload, err := toGoogleEvent(ev, blockID)
	if err != nil {
		return err
	}

	err = c.do(ctx, func(cctx context.Context) error {
		_, err := svc.Events.Update(calendarID, eventID, payload).Context(cctx).Do()
		return err
	})
	if err != nil {
		return fmt.Errorf("updating event %s: %w", eventID, err)
	}
	return nil
}

// DeleteEvent removes an event. Deleting a missing event succeeds.
func (c *Client) DeleteEvent(ctx context.Context, token, calendarID, eventID string) error {
	svc, err := c.service(ctx, token)
	if err != nil {
		return err
	}

	err = c.do(ctx, func(cctx context.Context) error {
		return svc.Events.Delete(calendarID, eventID).Context(cctx).Do()
	})
	if err != nil {
		if IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("deleting event %s: %w", eventID, err)
	}
	return nil
}

// ListCalendars returns the calendars on the account's calendar list.
func (c *Client) ListCalendars(ctx context.Context, token string) ([]models.CalendarInfo, error) {
	svc, err := c.service(ctx, token)
	if err != nil {
		return nil, err
	}

	calendars := []models.CalendarInfo{}
	pageToken := ""
	for page := 0; page < c.maxPages; page++ {
		call := svc.CalendarList.List().MinAccessRole("writer")
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		var resp *calendar.CalendarList
		err := c.do(ctx, func(cctx context.Context) error {
			var err error
			resp, err = call.Context(cctx).Do()
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("listing calendars: %w", err)
		}

		for _, item := range resp.Items {
			calendars = append(calendars, models.CalendarInfo{
				ID:         item.Id,
				Summary:    item.Summary,
				Primary:    item.Primary,
				AccessRole: item.AccessRole,
			})
		}

		if resp.NextPageToken == "" || resp.NextPageToken == pageToken {
			return calendars, nil
		}
		pageToken = resp.NextPageToken
	}

	return nil, fmt.Errorf("listing calendars: exceeded %d pages", c.maxPages)
}

func toProviderError(err error) *ProviderError {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return &ProviderError{StatusCode: gerr.Code, Body: gerr.Body, Err: err}
	}
	return &ProviderError{Body: err.Error(), Err: err}
}
