package handlers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/availability-sync/backend/internal/errors"
)

func TestStateSigner_RoundTrip(t *testing.T) {
	signer := NewStateSigner("state-secret", time.Minute)

	state, err := signer.Sign("salon-1", "pro-1")
	require.NoError(t, err)

	claims, err := signer.Verify(state)
	require.NoError(t, err)
	assert.Equal(t, "salon-1", claims.SalonID)
	assert.Equal(t, "pro-1", claims.ProfessionalID)
}

func TestStateSigner_Rejects(t *testing.T) {
	signer := NewStateSigner("state-secret", time.Minute)
	state, err := signer.Sign("salon-1", "pro-1")
	require.NoError(t, err)

	t.Run("other secret", func(t *testing.T) {
		_, err := NewStateSigner("other-secret", time.Minute).Verify(state)
		assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := signer.Verify("not-a-token")
		assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))
	})

	t.Run("expired", func(t *testing.T) {
		later := NewStateSigner("state-secret", time.Minute)
		later.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
		_, err := later.Verify(state)
		require.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))
		assert.Contains(t, err.Error(), "expired")
	})
}
