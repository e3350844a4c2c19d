// Package crypto seals OAuth tokens at rest with AES-256-GCM.
//
// Ciphertexts are base64 strings of nonce||sealed bytes. Each call to Seal
// uses a fresh random nonce, so equal plaintexts produce different outputs.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"

	"golang.org/x/crypto/pbkdf2"

	apperrors "github.com/availability-sync/backend/internal/errors"
)

const (
	keySalt       = "availability-sync-token-salt"
	keyIterations = 10000
	keyLength     = 32
)

// TokenEncryptor encrypts and decrypts stored credentials. It is safe for
// concurrent use.
type TokenEncryptor struct {
	key []byte
}

// NewTokenEncryptor derives an AES-256 key from passphrase via PBKDF2.
func NewTokenEncryptor(passphrase string) (*TokenEncryptor, error) {
	if passphrase == "" {
		return nil, apperrors.ValidationError("encryption key cannot be empty")
	}
	derived := pbkdf2.Key([]byte(passphrase), []byte(keySalt), keyIterations, keyLength, sha256.New)
	return &TokenEncryptor{key: derived}, nil
}

// Encrypt returns the sealed form of plaintext. Empty input stays empty.
func (e *TokenEncryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	gcm, err := e.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", apperrors.InternalError("failed to create nonce", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Tampered input or a wrong key yields an error.
func (e *TokenEncryptor) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", apperrors.InternalError("failed to decode ciphertext", err)
	}

	gcm, err := e.gcm()
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", apperrors.ValidationError("ciphertext too short")
	}

	plaintext, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", apperrors.InternalError("failed to decrypt", err)
	}
	return string(plaintext), nil
}

func (e *TokenEncryptor) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, apperrors.InternalError("failed to create cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, apperrors.InternalError("failed to create GCM", err)
	}
	return gcm, nil
}
