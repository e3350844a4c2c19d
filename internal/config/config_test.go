package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, key := range []string{"ADDR", "SALON_TIMEZONE", "SYNC_INTERVAL_MIN", "PROVIDER_TIMEOUT", "PROVIDER_MAX_PAGES", "PROVIDER_BREAKER_THRESHOLD", "REDIS_ADDRESS"} {
		t.Setenv(key, "")
	}

	cfg := FromEnv()

	assert.Equal(t, ":8099", cfg.Addr)
	assert.Equal(t, "Europe/Paris", cfg.SalonTimezone)
	assert.Equal(t, 15, cfg.SyncIntervalMin)
	assert.Equal(t, 30*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, 50, cfg.ProviderMaxPages)
	assert.Equal(t, 5, cfg.ProviderBreakerThreshold)
	assert.Empty(t, cfg.RedisAddress)
	require.NoError(t, cfg.Validate())
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("SYNC_CONCURRENCY", "8")
	t.Setenv("PROVIDER_TIMEOUT", "5s")
	t.Setenv("SYNC_LEASE_TTL", "2m")
	t.Setenv("REDIS_DB", "not-a-number")

	cfg := FromEnv()

	assert.Equal(t, 8, cfg.SyncConcurrency)
	assert.Equal(t, 5*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, 2*time.Minute, cfg.SyncLeaseTTL)
	assert.Equal(t, 0, cfg.RedisDB)
}

func TestIsGoogleConfigured(t *testing.T) {
	cfg := &Config{GoogleClientID: "id", GoogleClientSecret: "secret"}
	assert.False(t, cfg.IsGoogleConfigured())

	cfg.GoogleRedirectURL = "http://localhost/api/oauth/callback"
	assert.True(t, cfg.IsGoogleConfigured())
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Addr:                     ":8099",
			SalonTimezone:            "Europe/Paris",
			SyncIntervalMin:          15,
			SyncConcurrency:          4,
			ProviderTimeout:          30 * time.Second,
			ProviderMaxPages:         50,
			ProviderBreakerThreshold: 5,
			ProviderBreakerCooldown:  time.Minute,
			SyncLeaseTTL:             10 * time.Minute,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "bad timezone", mutate: func(c *Config) { c.SalonTimezone = "Mars/Olympus" }, wantErr: "SALON_TIMEZONE"},
		{name: "zero pages", mutate: func(c *Config) { c.ProviderMaxPages = 0 }, wantErr: "PROVIDER_MAX_PAGES"},
		{name: "zero breaker threshold", mutate: func(c *Config) { c.ProviderBreakerThreshold = 0 }, wantErr: "PROVIDER_BREAKER_THRESHOLD"},
		{name: "redis db range", mutate: func(c *Config) { c.RedisDB = 16 }, wantErr: "REDIS_DB"},
		{
			name: "oauth without state secret",
			mutate: func(c *Config) {
				c.GoogleClientID, c.GoogleClientSecret, c.GoogleRedirectURL = "id", "secret", "http://x/cb"
			},
			wantErr: "STATE_SECRET",
		},
		{name: "short encryption key", mutate: func(c *Config) { c.TokenEncryptionKey = "short" }, wantErr: "TOKEN_ENCRYPTION_KEY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.wantErr), err.Error())
		})
	}
}

func TestLocation(t *testing.T) {
	cfg := &Config{SalonTimezone: "America/New_York"}
	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", loc.String())
}
