// Package main is the entry point for the availability sync server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/availability-sync/backend/internal/api"
	"github.com/availability-sync/backend/internal/api/handlers"
	"github.com/availability-sync/backend/internal/calendar"
	"github.com/availability-sync/backend/internal/config"
	"github.com/availability-sync/backend/internal/conflict"
	"github.com/availability-sync/backend/internal/crypto"
	"github.com/availability-sync/backend/internal/gcal"
	"github.com/availability-sync/backend/internal/integration"
	"github.com/availability-sync/backend/internal/locks"
	"github.com/availability-sync/backend/internal/logging"
	"github.com/availability-sync/backend/internal/storage"
	"github.com/availability-sync/backend/internal/token"
	"github.com/availability-sync/backend/internal/websocket"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
var version = "dev"

func main() {
	cfg := config.Load()

	addr := flag.String("addr", cfg.Addr, "HTTP server address")
	dataDir := flag.String("data", cfg.DataDir, "Data directory for SQLite database")
	healthCheck := flag.Bool("health-check", false, "Run health check and exit")
	flag.Parse()
	cfg.Addr = *addr
	cfg.DataDir = *dataDir

	// Health check mode for Docker HEALTHCHECK
	if *healthCheck {
		if err := runHealthCheck(cfg.Addr); err != nil {
			fmt.Fprintf(os.Stderr, "health check failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	logger := logging.Init(cfg.LogLevel)
	defer logging.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("Server exited", err)
		logging.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger logging.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	logger.Info("Starting availability sync server",
		logging.String("version", version),
		logging.String("timezone", loc.String()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory %q: %w", cfg.DataDir, err)
	}
	db, err := storage.NewDB(filepath.Join(cfg.DataDir, "availability-sync.db"))
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if err := storage.RunMigrations(ctx, db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	// Initialize repositories
	var tokenCipher storage.TokenCipher
	if cfg.TokenEncryptionKey != "" {
		encryptor, err := crypto.NewTokenEncryptor(cfg.TokenEncryptionKey)
		if err != nil {
			return fmt.Errorf("creating token encryptor: %w", err)
		}
		tokenCipher = encryptor
	} else {
		logger.Warn("TOKEN_ENCRYPTION_KEY not set, OAuth tokens are stored unencrypted")
	}
	integrationRepo := storage.NewIntegrationRepository(db, tokenCipher)
	blockRepo := storage.NewBlockRepository(db)
	conflictRepo := storage.NewConflictRepository(db)
	syncLogRepo := storage.NewSyncLogRepository(db)

	calendarClient := gcal.NewClient(gcal.Options{
		Timeout:          cfg.ProviderTimeout,
		MaxPages:         cfg.ProviderMaxPages,
		BreakerThreshold: cfg.ProviderBreakerThreshold,
		BreakerCooldown:  cfg.ProviderBreakerCooldown,
	})
	tokenManager := token.NewManager(token.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		Timeout:      cfg.ProviderTimeout,
	}, integrationRepo)

	locker, closeLocker, err := newLocker(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLocker()

	// Initialize WebSocket hub
	hub := websocket.NewHub()
	go hub.Run(ctx)
	broadcaster := websocket.NewEventBroadcaster(hub)

	// Initialize sync engine
	syncService := calendar.NewSyncService(calendar.SyncDeps{
		Integrations: integrationRepo,
		Blocks:       blockRepo,
		Logs:         syncLogRepo,
		Detector:     conflict.NewDetector(blockRepo, conflictRepo),
		Tokens:       tokenManager,
		Calendar:     calendarClient,
		Locker:       locker,
		Notifier:     broadcaster,
		Location:     loc,
		LeaseTTL:     cfg.SyncLeaseTTL,
	})
	resolver := conflict.NewResolver(db, blockRepo, conflictRepo, integrationRepo, tokenManager, calendarClient, loc)

	scheduler := calendar.NewScheduler(syncService, integrationRepo, cfg.SyncIntervalMin, cfg.SyncConcurrency)
	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("starting sync scheduler: %w", err)
	}

	services := api.Services{
		DB:           db,
		Hub:          hub,
		Broadcaster:  broadcaster,
		Integrations: integration.NewService(integrationRepo, tokenManager, tokenManager, calendarClient),
		Scheduler:    scheduler,
		Logs:         syncLogRepo,
		Conflicts:    conflictRepo,
		Resolver:     resolver,
	}
	if cfg.IsGoogleConfigured() {
		services.Consent = tokenManager
		services.States = handlers.NewStateSigner(cfg.StateSecret, handlers.StateTTL)
	} else {
		logger.Warn("Google OAuth is not configured, connect endpoints are disabled")
	}

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      api.NewRouter(services),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * cfg.ProviderTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Server listening", logging.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		scheduler.Stop()
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	scheduler.Stop()

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}

	logger.Info("Server stopped")
	return nil
}

// newLocker returns a Redis-backed lease locker when REDIS_ADDRESS is set,
// otherwise an in-process one.
func newLocker(ctx context.Context, cfg *config.Config, logger logging.Logger) (locks.Locker, func(), error) {
	if cfg.RedisAddress == "" {
		logger.Info("Using in-process sync leases")
		return locks.NewLocalLocker(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("connecting to redis at %s: %w", cfg.RedisAddress, err)
	}

	locker, err := locks.NewRedsyncLocker(client)
	if err != nil {
		client.Close()
		return nil, nil, err
	}

	logger.Info("Using redis sync leases", logging.String("addr", cfg.RedisAddress))
	return locker, func() { client.Close() }, nil
}

// runHealthCheck performs a health check against the running server.
func runHealthCheck(addr string) error {
	resp, err := http.Get("http://localhost" + addr + "/api/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
