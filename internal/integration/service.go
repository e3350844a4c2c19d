// Package integration manages the per-professional link to an external
// calendar account: connecting, reading status, changing settings and
// disconnecting.
package integration

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/oauth2"

	apperrors "github.com/availability-sync/backend/internal/errors"
	"github.com/availability-sync/backend/internal/logging"
	"github.com/availability-sync/backend/internal/storage"
	"github.com/availability-sync/backend/internal/storage/models"
)

// OAuthFlow is the authorization-code side of the token manager.
type OAuthFlow interface {
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	FetchProfile(ctx context.Context, tok *oauth2.Token) (string, error)
}

// TokenProvider returns a usable access token for an integration.
type TokenProvider interface {
	ValidAccessToken(ctx context.Context, integ *models.Integration) (string, error)
}

// CalendarLister lists the calendars an account can write to.
type CalendarLister interface {
	ListCalendars(ctx context.Context, token string) ([]models.CalendarInfo, error)
}

// Service is the integration registry.
type Service struct {
	integrations *storage.IntegrationRepository
	oauth        OAuthFlow
	tokens       TokenProvider
	calendars    CalendarLister
	logger       logging.Logger
}

// NewService creates an integration registry service.
func NewService(integrations *storage.IntegrationRepository, oauth OAuthFlow, tokens TokenProvider, calendars CalendarLister) *Service {
	return &Service{
		integrations: integrations,
		oauth:        oauth,
		tokens:       tokens,
		calendars:    calendars,
		logger:       logging.WithFields(logging.String("component", "integration")),
	}
}

// Settings is a partial update of the user-editable fields. Nil or empty
// fields are left unchanged.
type Settings struct {
	SyncDirection string `json:"sync_direction"`
	Enabled       *bool  `json:"enabled"`
	CalendarID    string `json:"calendar_id"`
}

// Connect completes the OAuth flow for a professional. The integration is
// created, or reconnected in place, as ACTIVE.
func (s *Service) Connect(ctx context.Context, salonID, professionalID, code string) (*models.Integration, error) {
	if salonID == "" || professionalID == "" {
		return nil, apperrors.ValidationError("salon_id and professional_id are required")
	}
	if code == "" {
		return nil, apperrors.ValidationError("authorization code is required")
	}

	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, apperrors.AuthExpiredError("authorization code exchange failed", err)
	}
	email, err := s.oauth.FetchProfile(ctx, tok)
	if err != nil {
		return nil, fmt.Errorf("fetching account profile: %w", err)
	}

	integ := &models.Integration{
		SalonID:        salonID,
		ProfessionalID: professionalID,
		CalendarID:     models.DefaultCalendarID,
		AccessToken:    tok.AccessToken,
		RefreshToken:   tok.RefreshToken,
		SyncDirection:  models.DirectionBidirectional,
		Enabled:        true,
		Status:         models.IntegrationActive,
	}
	if email != "" {
		integ.AccountEmail = &email
	}
	if !tok.Expiry.IsZero() {
		expiry := tok.Expiry.UTC()
		integ.TokenExpiry = &expiry
	}

	if err := s.integrations.Upsert(ctx, integ); err != nil {
		return nil, err
	}
	if integ.RefreshToken == "" {
		s.logger.Warn("Connected without a refresh token", logging.String("integration_id", integ.ID))
	}

	s.logger.Info("Integration connected",
		logging.String("integration_id", integ.ID),
		logging.String("salon_id", salonID),
		logging.String("professional_id", professionalID))
	return integ, nil
}

// Get returns an integration by ID.
func (s *Service) Get(ctx context.Context, id string) (*models.Integration, error) {
	integ, err := s.integrations.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if integ == nil {
		return nil, apperrors.NotFoundError("integration").WithContext("id", id)
	}
	return integ, nil
}

// Status returns the integration of a professional.
func (s *Service) Status(ctx context.Context, salonID, professionalID string) (*models.Integration, error) {
	integ, err := s.integrations.GetByProfessional(ctx, salonID, professionalID)
	if err != nil {
		return nil, err
	}
	if integ == nil {
		return nil, apperrors.NotFoundError("integration")
	}
	return integ, nil
}

// UpdateSettings applies a partial settings change.
func (s *Service) UpdateSettings(ctx context.Context, id string, in Settings) (*models.Integration, error) {
	integ, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.SyncDirection != "" {
		direction := strings.ToUpper(in.SyncDirection)
		if !models.ValidDirection(direction) {
			return nil, apperrors.ValidationError(fmt.Sprintf("invalid sync direction %q", in.SyncDirection))
		}
		integ.SyncDirection = direction
	}
	if in.Enabled != nil {
		if *in.Enabled && integ.Status == models.IntegrationDisconnected {
			return nil, apperrors.ValidationError("integration is disconnected, reconnect it first")
		}
		integ.Enabled = *in.Enabled
	}
	if in.CalendarID != "" {
		integ.CalendarID = in.CalendarID
	}

	if err := s.integrations.UpdateSettings(ctx, id, integ.SyncDirection, integ.Enabled, integ.CalendarID); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Disconnect clears the integration's credentials. The record is kept.
func (s *Service) Disconnect(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.integrations.Disconnect(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Integration disconnected", logging.String("integration_id", id))
	return nil
}

// ListCalendars returns the calendars the connected account can write to.
func (s *Service) ListCalendars(ctx context.Context, id string) ([]models.CalendarInfo, error) {
	integ, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if integ.Status == models.IntegrationDisconnected {
		return nil, apperrors.ValidationError("integration is disconnected")
	}

	token, err := s.tokens.ValidAccessToken(ctx, integ)
	if err != nil {
		return nil, err
	}
	calendars, err := s.calendars.ListCalendars(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("listing calendars: %w", err)
	}
	return calendars, nil
}
