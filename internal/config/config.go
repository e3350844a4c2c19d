// Package config loads service configuration from the environment.
//
// A .env file in the working directory is read first when present; values
// already set in the process environment take precedence.
//
// Environment Variables:
//   - ADDR: HTTP listen address (default: :8099)
//   - DATA_DIR: directory holding the SQLite database (default: /data)
//   - LOG_LEVEL: debug, info, warn or error (default: info)
//   - GOOGLE_CLIENT_ID, GOOGLE_CLIENT_SECRET, GOOGLE_REDIRECT_URL: OAuth client
//   - SALON_TIMEZONE: IANA zone attached to outbound timed events (default: Europe/Paris)
//   - SYNC_INTERVAL_MIN: scheduled sync cadence in minutes (default: 15)
//   - SYNC_CONCURRENCY: integrations synced in parallel per tick (default: 4)
//   - PROVIDER_TIMEOUT: per-call timeout for provider requests (default: 30s)
//   - PROVIDER_MAX_PAGES: pagination safeguard when listing events (default: 50)
//   - PROVIDER_BREAKER_THRESHOLD: consecutive provider outages that open the breaker (default: 5)
//   - PROVIDER_BREAKER_COOLDOWN: how long the breaker stays open (default: 60s)
//   - TOKEN_ENCRYPTION_KEY: key for encrypting stored OAuth tokens (optional)
//   - STATE_SECRET: HMAC secret for signing OAuth state (required with OAuth)
//   - REDIS_ADDRESS: enables distributed sync leases when set
//   - REDIS_PASSWORD, REDIS_DB: Redis credentials and database number
//   - SYNC_LEASE_TTL: lifetime of a per-integration sync lease (default: 10m)
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration values for the server.
type Config struct {
	Addr     string
	DataDir  string
	LogLevel string

	// OAuth client credentials for the external calendar provider.
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	SalonTimezone    string
	SyncIntervalMin  int
	SyncConcurrency  int
	ProviderTimeout  time.Duration
	ProviderMaxPages int

	ProviderBreakerThreshold int
	ProviderBreakerCooldown  time.Duration

	TokenEncryptionKey string
	StateSecret        string

	RedisAddress  string
	RedisPassword string
	RedisDB       int
	SyncLeaseTTL  time.Duration
}

// Load reads an optional .env file and builds a Config from the environment.
func Load() *Config {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds a Config from the current process environment only.
func FromEnv() *Config {
	return &Config{
		Addr:     getEnv("ADDR", ":8099"),
		DataDir:  getEnv("DATA_DIR", "/data"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  getEnv("GOOGLE_REDIRECT_URL", ""),

		SalonTimezone:    getEnv("SALON_TIMEZONE", "Europe/Paris"),
		SyncIntervalMin:  getIntEnv("SYNC_INTERVAL_MIN", 15),
		SyncConcurrency:  getIntEnv("SYNC_CONCURRENCY", 4),
		ProviderTimeout:  getDurationEnv("PROVIDER_TIMEOUT", 30*time.Second),
		ProviderMaxPages: getIntEnv("PROVIDER_MAX_PAGES", 50),

		ProviderBreakerThreshold: getIntEnv("PROVIDER_BREAKER_THRESHOLD", 5),
		ProviderBreakerCooldown:  getDurationEnv("PROVIDER_BREAKER_COOLDOWN", 60*time.Second),

		TokenEncryptionKey: getEnv("TOKEN_ENCRYPTION_KEY", ""),
		StateSecret:        getEnv("STATE_SECRET", ""),

		RedisAddress:  getEnv("REDIS_ADDRESS", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),
		SyncLeaseTTL:  getDurationEnv("SYNC_LEASE_TTL", 10*time.Minute),
	}
}

// IsGoogleConfigured reports whether OAuth client credentials are present.
func (c *Config) IsGoogleConfigured() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != "" && c.GoogleRedirectURL != ""
}

// Location resolves SalonTimezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.SalonTimezone)
	if err != nil {
		return nil, fmt.Errorf("loading salon timezone %q: %w", c.SalonTimezone, err)
	}
	return loc, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []string

	if c.Addr == "" {
		errs = append(errs, "ADDR is required")
	}
	if _, err := time.LoadLocation(c.SalonTimezone); err != nil {
		errs = append(errs, fmt.Sprintf("SALON_TIMEZONE %q is not a valid IANA zone", c.SalonTimezone))
	}
	if c.SyncIntervalMin < 1 {
		errs = append(errs, "SYNC_INTERVAL_MIN must be at least 1")
	}
	if c.SyncConcurrency < 1 {
		errs = append(errs, "SYNC_CONCURRENCY must be at least 1")
	}
	if c.ProviderTimeout <= 0 {
		errs = append(errs, "PROVIDER_TIMEOUT must be positive")
	}
	if c.ProviderMaxPages < 1 {
		errs = append(errs, "PROVIDER_MAX_PAGES must be at least 1")
	}
	if c.ProviderBreakerThreshold < 1 {
		errs = append(errs, "PROVIDER_BREAKER_THRESHOLD must be at least 1")
	}
	if c.ProviderBreakerCooldown <= 0 {
		errs = append(errs, "PROVIDER_BREAKER_COOLDOWN must be positive")
	}
	if c.SyncLeaseTTL <= 0 {
		errs = append(errs, "SYNC_LEASE_TTL must be positive")
	}
	if c.RedisDB < 0 || c.RedisDB > 15 {
		errs = append(errs, "REDIS_DB must be between 0 and 15")
	}
	if c.IsGoogleConfigured() && len(c.StateSecret) < 32 {
		errs = append(errs, "STATE_SECRET must be at least 32 characters when OAuth is configured")
	}
	if c.TokenEncryptionKey != "" && len(c.TokenEncryptionKey) < 16 {
		errs = append(errs, "TOKEN_ENCRYPTION_KEY must be at least 16 characters")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
