// Package token owns the OAuth lifecycle of calendar integrations: the
// one-shot code exchange at connect time and refresh-before-expiry during
// sync.
package token

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	apperrors "github.com/availability-sync/backend/internal/errors"
	"github.com/availability-sync/backend/internal/logging"
	"github.com/availability-sync/backend/internal/storage/models"
)

// RefreshMargin is how long before expiry a stored token is considered stale.
const RefreshMargin = 5 * time.Minute

// Scopes requested during the connect flow.
var Scopes = []string{
	"https://www.googleapis.com/auth/calendar",
	"https://www.googleapis.com/auth/userinfo.email",
}

// Store persists token refresh outcomes.
type Store interface {
	UpdateAccessToken(ctx context.Context, id, accessToken string, expiry time.Time) error
	UpdateStatus(ctx context.Context, id, status string, lastError *string) error
}

// Config holds the OAuth client settings.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Endpoint defaults to google.Endpoint.
	Endpoint oauth2.Endpoint
	// APIEndpoint overrides the userinfo API base URL.
	APIEndpoint string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// Manager hands out valid access tokens and demotes integrations whose
// refresh fails.
type Manager struct {
	oauth       *oauth2.Config
	store       Store
	httpClient  *http.Client
	apiEndpoint string
	timeout     time.Duration
	now         func() time.Time
	logger      logging.Logger
}

// NewManager creates a token manager.
func NewManager(cfg Config, store Store) *Manager {
	endpoint := cfg.Endpoint
	if endpoint.TokenURL == "" {
		endpoint = google.Endpoint
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Manager{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       Scopes,
		},
		store:       store,
		httpClient:  httpClient,
		apiEndpoint: cfg.APIEndpoint,
		timeout:     timeout,
		now:         time.Now,
		logger:      logging.WithFields(logging.String("component", "token")),
	}
}

func (m *Manager) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
}

// ValidAccessToken returns the stored access token while it has more than
// RefreshMargin left, and refreshes it otherwise. A failed refresh marks the
// integration TOKEN_EXPIRED and returns an AuthExpired error. On success integ
// is updated in place.
func (m *Manager) ValidAccessToken(ctx context.Context, integ *models.Integration) (string, error) {
	now := m.now()
	if integ.AccessToken != "" && integ.TokenExpiry != nil && integ.TokenExpiry.Add(-RefreshMargin).After(now) {
		return integ.AccessToken, nil
	}

	if integ.RefreshToken == "" {
		return "", m.demote(ctx, integ, "no refresh token stored; reconnect the calendar", nil)
	}

	rctx, cancel := context.WithTimeout(m.clientContext(ctx), m.timeout)
	defer cancel()

	tok, err := m.oauth.TokenSource(rctx, &oauth2.Token{RefreshToken: integ.RefreshToken}).Token()
	if err != nil {
		// A cancelled caller says nothing about the refresh token.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("refreshing access token: %w", ctxErr)
		}
		return "", m.demote(ctx, integ, "token refresh failed; reconnect the calendar", err)
	}

	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = now.Add(time.Hour)
	}
	if err := m.store.UpdateAccessToken(ctx, integ.ID, tok.AccessToken, expiry); err != nil {
		return "", fmt.Errorf("saving refreshed token: %w", err)
	}

	integ.AccessToken = tok.AccessToken
	integ.TokenExpiry = &expiry
	integ.Status = models.IntegrationActive
	integ.LastError = nil

	m.logger.Debug("Refreshed access token",
		logging.String("integration_id", integ.ID),
		logging.Any("expiry", expiry))
	return tok.AccessToken, nil
}

func (m *Manager) demote(ctx context.Context, integ *models.Integration, msg string, cause error) error {
	m.logger.Warn("Token refresh failed",
		logging.String("integration_id", integ.ID),
		logging.Any("error", cause))

	if err := m.store.UpdateStatus(ctx, integ.ID, models.IntegrationTokenExpired, &msg); err != nil {
		m.logger.Error("Failed to demote integration", err, logging.String("integration_id", integ.ID))
	}
	integ.Status = models.IntegrationTokenExpired
	integ.LastError = &msg

	return apperrors.AuthExpiredError(msg, cause).WithContext("integration_id", integ.ID)
}

// AuthCodeURL returns the consent URL for the connect flow. Offline access
// and forced consent make the provider issue a refresh token.
func (m *Manager) AuthCodeURL(state string) string {
	return m.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for the initial token pair.
func (m *Manager) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	ectx, cancel := context.WithTimeout(m.clientContext(ctx), m.timeout)
	defer cancel()

	tok, err := m.oauth.Exchange(ectx, code)
	if err != nil {
		return nil, apperrors.AuthExpiredError("authorization code exchange failed", err)
	}
	return tok, nil
}

// FetchProfile returns the email address of the account behind tok.
func (m *Manager) FetchProfile(ctx context.Context, tok *oauth2.Token) (string, error) {
	fctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	opts := []option.ClientOption{option.WithHTTPClient(m.oauth.Client(m.clientContext(fctx), tok))}
	if m.apiEndpoint != "" {
		opts = append(opts, option.WithEndpoint(m.apiEndpoint))
	}

	svc, err := oauth2api.NewService(fctx, opts...)
	if err != nil {
		return "", fmt.Errorf("creating userinfo service: %w", err)
	}

	info, err := svc.Userinfo.Get().Context(fctx).Do()
	if err != nil {
		return "", fmt.Errorf("fetching account profile: %w", err)
	}
	return info.Email, nil
}
