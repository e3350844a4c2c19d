package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/availability-sync/backend/internal/errors"
)

func TestNewTokenEncryptor_EmptyKey(t *testing.T) {
	_, err := NewTokenEncryptor("")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	enc, err := NewTokenEncryptor("a-sufficiently-long-passphrase")
	require.NoError(t, err)

	sealed, err := enc.Encrypt("ya29.access-token")
	require.NoError(t, err)
	assert.NotEqual(t, "ya29.access-token", sealed)

	plain, err := enc.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "ya29.access-token", plain)
}

func TestEncrypt_UniqueNonce(t *testing.T) {
	enc, err := NewTokenEncryptor("a-sufficiently-long-passphrase")
	require.NoError(t, err)

	a, err := enc.Encrypt("same")
	require.NoError(t, err)
	b, err := enc.Encrypt("same")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestEmptyPassthrough(t *testing.T) {
	enc, err := NewTokenEncryptor("a-sufficiently-long-passphrase")
	require.NoError(t, err)

	sealed, err := enc.Encrypt("")
	require.NoError(t, err)
	assert.Empty(t, sealed)

	plain, err := enc.Decrypt("")
	require.NoError(t, err)
	assert.Empty(t, plain)
}

func TestDecrypt_WrongKey(t *testing.T) {
	a, err := NewTokenEncryptor("first-passphrase-value")
	require.NoError(t, err)
	b, err := NewTokenEncryptor("second-passphrase-value")
	require.NoError(t, err)

	sealed, err := a.Encrypt("refresh-token")
	require.NoError(t, err)

	_, err = b.Decrypt(sealed)
	assert.Error(t, err)
}

func TestDecrypt_Malformed(t *testing.T) {
	enc, err := NewTokenEncryptor("a-sufficiently-long-passphrase")
	require.NoError(t, err)

	_, err = enc.Decrypt("not base64!!")
	assert.Error(t, err)

	_, err = enc.Decrypt("YWJj")
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))
}
