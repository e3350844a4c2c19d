package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/availability-sync/backend/internal/api/middleware"
	apperrors "github.com/availability-sync/backend/internal/errors"
	"github.com/availability-sync/backend/internal/integration"
)

// StateTTL bounds how long a consent redirect stays valid.
const StateTTL = 10 * time.Minute

// StateClaims is carried in the OAuth state parameter.
type StateClaims struct {
	SalonID        string `json:"salon_id"`
	ProfessionalID string `json:"professional_id"`
	jwt.RegisteredClaims
}

// StateSigner signs and verifies OAuth state tokens with HMAC-SHA256.
type StateSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewStateSigner creates a state signer.
func NewStateSigner(secret string, ttl time.Duration) *StateSigner {
	if ttl <= 0 {
		ttl = StateTTL
	}
	return &StateSigner{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Sign issues a state token binding the consent flow to one professional.
func (s *StateSigner) Sign(salonID, professionalID string) (string, error) {
	now := s.now()
	claims := StateClaims{
		SalonID:        salonID,
		ProfessionalID: professionalID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing oauth state: %w", err)
	}
	return signed, nil
}

// Verify checks a state token and returns its claims.
func (s *StateSigner) Verify(state string) (*StateClaims, error) {
	claims := &StateClaims{}
	_, err := jwt.ParseWithClaims(state, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperrors.ValidationError("oauth state expired, start the connection again")
		}
		return nil, apperrors.ValidationError("invalid oauth state")
	}
	if claims.SalonID == "" || claims.ProfessionalID == "" {
		return nil, apperrors.ValidationError("invalid oauth state")
	}
	return claims, nil
}

// ConsentURLer builds the provider consent URL.
type ConsentURLer interface {
	AuthCodeURL(state string) string
}

// OAuthConnect redirects the professional to the provider consent screen.
func OAuthConnect(consent ConsentURLer, states *StateSigner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if consent == nil || states == nil {
			middleware.WriteAppError(w, apperrors.ConfigError("google oauth is not configured"))
			return
		}

		salonID := r.URL.Query().Get("salon_id")
		professionalID := r.URL.Query().Get("professional_id")
		if salonID == "" || professionalID == "" {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "salon_id and professional_id are required")
			return
		}

		state, err := states.Sign(salonID, professionalID)
		if err != nil {
			middleware.WriteAppError(w, err)
			return
		}

		http.Redirect(w, r, consent.AuthCodeURL(state), http.StatusFound)
	}
}

// OAuthCallback completes the consent flow and stores the integration.
func OAuthCallback(svc *integration.Service, states *StateSigner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if states == nil {
			middleware.WriteAppError(w, apperrors.ConfigError("google oauth is not configured"))
			return
		}

		q := r.URL.Query()
		if providerErr := q.Get("error"); providerErr != "" {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Authorization was not granted")
			return
		}

		claims, err := states.Verify(q.Get("state"))
		if err != nil {
			middleware.WriteAppError(w, err)
			return
		}

		integ, err := svc.Connect(r.Context(), claims.SalonID, claims.ProfessionalID, q.Get("code"))
		if err != nil {
			middleware.WriteAppError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, integ)
	}
}
