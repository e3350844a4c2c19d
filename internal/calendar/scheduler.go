package calendar

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/availability-sync/backend/internal/errors"
	"github.com/availability-sync/backend/internal/logging"
	"github.com/availability-sync/backend/internal/storage"
	"github.com/availability-sync/backend/internal/storage/models"
)

// Scheduler runs periodic reconciliation of every eligible integration and
// serves manual triggers.
type Scheduler struct {
	cron         *cron.Cron
	syncService  *SyncService
	integrations *storage.IntegrationRepository
	interval     time.Duration
	concurrency  int
	logger       logging.Logger

	// ctx is cancelled by Stop so in-flight passes wind down.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entryID cron.EntryID
	lastRun time.Time
	running bool
}

// NewScheduler creates a new sync scheduler. intervalMin defaults to 15 and
// concurrency to 4.
func NewScheduler(
	syncService *SyncService,
	integrations *storage.IntegrationRepository,
	intervalMin int,
	concurrency int,
) *Scheduler {
	if intervalMin <= 0 {
		intervalMin = 15
	}
	if concurrency <= 0 {
		concurrency = 4
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:         cron.New(),
		syncService:  syncService,
		integrations: integrations,
		interval:     time.Duration(intervalMin) * time.Minute,
		concurrency:  concurrency,
		logger:       logging.WithFields(logging.String("component", "scheduler")),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start registers the periodic job and starts the cron runner.
func (s *Scheduler) Start() error {
	entryID, err := s.cron.AddFunc(intervalSpec(s.interval), func() {
		s.RunScheduled(s.ctx)
	})
	if err != nil {
		return fmt.Errorf("scheduling sync job: %w", err)
	}

	s.mu.Lock()
	s.entryID = entryID
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("Sync scheduler started", logging.Duration("interval", s.interval), logging.Int("concurrency", s.concurrency))
	return nil
}

// Stop cancels in-flight passes and waits for running jobs to return.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping sync scheduler")
	s.cancel()
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Sync scheduler stopped")
}

// RunScheduled runs an INCREMENTAL pass for every enabled and active
// integration, at most concurrency at a time. One failing integration does
// not affect the others. Overlapping ticks are skipped.
func (s *Scheduler) RunScheduled(ctx context.Context) []models.SyncResult {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn("Previous scheduled run still in progress, skipping tick")
		return nil
	}
	s.running = true
	s.lastRun = time.Now().UTC()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	integrations, err := s.integrations.ListEligible(ctx)
	if err != nil {
		s.logger.Error("Listing eligible integrations", err)
		return nil
	}

	results := make([]models.SyncResult, len(integrations))
	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)
	for i := range integrations {
		integ := &integrations[i]
		g.Go(func() error {
			results[i] = s.syncService.RunSync(ctx, integ, models.SyncTypeIncremental)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	s.logger.Info("Scheduled sync finished", logging.Int("integrations", len(results)), logging.Int("failed", failed))
	return results
}

// TriggerSync runs a pass for one integration immediately and returns its
// result. full selects FULL over MANUAL bookkeeping.
func (s *Scheduler) TriggerSync(ctx context.Context, integrationID string, full bool) (models.SyncResult, error) {
	integ, err := s.integrations.GetByID(ctx, integrationID)
	if err != nil {
		return models.SyncResult{}, err
	}
	if integ == nil {
		return models.SyncResult{}, apperrors.NotFoundError("integration").WithContext("id", integrationID)
	}
	if integ.Status == models.IntegrationDisconnected {
		return models.SyncResult{}, apperrors.ValidationError("integration is disconnected")
	}

	syncType := models.SyncTypeManual
	if full {
		syncType = models.SyncTypeFull
	}
	return s.syncService.RunSync(ctx, integ, syncType), nil
}

// NextRun returns the next scheduled run time, or nil before Start.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entryID == 0 {
		return nil
	}
	entry := s.cron.Entry(s.entryID)
	if entry.Next.IsZero() {
		return nil
	}
	return &entry.Next
}

// LastRun returns when the last scheduled run began, or nil if none has.
func (s *Scheduler) LastRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastRun.IsZero() {
		return nil
	}
	t := s.lastRun
	return &t
}

// intervalSpec converts an interval to a cron spec.
func intervalSpec(d time.Duration) string {
	return "@every " + d.String()
}
