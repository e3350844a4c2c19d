// Package calendar reconciles integrations with their external calendars,
// either on a schedule or on demand.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/availability-sync/backend/internal/conflict"
	apperrors "github.com/availability-sync/backend/internal/errors"
	"github.com/availability-sync/backend/internal/gcal"
	"github.com/availability-sync/backend/internal/locks"
	"github.com/availability-sync/backend/internal/logging"
	"github.com/availability-sync/backend/internal/storage"
	"github.com/availability-sync/backend/internal/storage/models"
	"github.com/availability-sync/backend/internal/translate"
)

const (
	// LookBack and LookAhead bound the reconciliation window around now.
	LookBack  = 7 * 24 * time.Hour
	LookAhead = 90 * 24 * time.Hour

	defaultLeaseTTL = 10 * time.Minute
)

// ErrSyncInProgress is reported when another pass holds the integration lease.
var ErrSyncInProgress = errors.New("sync already in progress")

// CalendarClient is the subset of the provider client used by a pass.
type CalendarClient interface {
	ListEvents(ctx context.Context, token, calendarID string, timeMin, timeMax time.Time) ([]models.ExternalEvent, error)
	CreateEvent(ctx context.Context, token, calendarID, blockID string, ev models.ExternalEvent) (string, error)
	UpdateEvent(ctx context.Context, token, calendarID, eventID, blockID string, ev models.ExternalEvent) error
	DeleteEvent(ctx context.Context, token, calendarID, eventID string) error
}

// TokenProvider returns a usable access token for an integration.
type TokenProvider interface {
	ValidAccessToken(ctx context.Context, integ *models.Integration) (string, error)
}

// Notifier receives pass outcomes and newly recorded conflicts.
type Notifier interface {
	SyncFinished(integ *models.Integration, result models.SyncResult)
	ConflictDetected(c *models.SyncConflict)
}

// SyncService runs reconciliation passes.
type SyncService struct {
	integrations *storage.IntegrationRepository
	blocks       *storage.BlockRepository
	logs         *storage.SyncLogRepository
	detector     *conflict.Detector
	tokens       TokenProvider
	calendar     CalendarClient
	locker       locks.Locker
	notifier     Notifier
	loc          *time.Location
	leaseTTL     time.Duration
	now          func() time.Time
	logger       logging.Logger
}

// SyncDeps groups the collaborators of a SyncService.
type SyncDeps struct {
	Integrations *storage.IntegrationRepository
	Blocks       *storage.BlockRepository
	Logs         *storage.SyncLogRepository
	Detector     *conflict.Detector
	Tokens       TokenProvider
	Calendar     CalendarClient
	Locker       locks.Locker
	// Notifier is optional.
	Notifier Notifier
	// Location is the salon timezone. Defaults to UTC.
	Location *time.Location
	// LeaseTTL bounds how long a crashed pass keeps the integration locked.
	LeaseTTL time.Duration
}

// NewSyncService creates a new sync service.
func NewSyncService(deps SyncDeps) *SyncService {
	loc := deps.Location
	if loc == nil {
		loc = time.UTC
	}
	ttl := deps.LeaseTTL
	if ttl <= 0 {
		ttl = defaultLeaseTTL
	}
	locker := deps.Locker
	if locker == nil {
		locker = locks.NewLocalLocker()
	}

	return &SyncService{
		integrations: deps.Integrations,
		blocks:       deps.Blocks,
		logs:         deps.Logs,
		detector:     deps.Detector,
		tokens:       deps.Tokens,
		calendar:     deps.Calendar,
		locker:       locker,
		notifier:     deps.Notifier,
		loc:          loc,
		leaseTTL:     ttl,
		now:          time.Now,
		logger:       logging.WithFields(logging.String("component", "sync")),
	}
}

// pass accumulates the outcome of one run. It is never shared between runs.
type pass struct {
	created   int
	updated   int
	deleted   int
	conflicts int
	errors    []string
	detected  []*models.SyncConflict
}

func (p *pass) fail(ref string, err error) {
	p.errors = append(p.errors, fmt.Sprintf("%s: %v", ref, err))
}

func (p *pass) result(integrationID, logID string) models.SyncResult {
	errs := make([]string, len(p.errors))
	copy(errs, p.errors)
	return models.SyncResult{
		IntegrationID: integrationID,
		LogID:         logID,
		Success:       len(errs) == 0,
		Created:       p.created,
		Updated:       p.updated,
		Deleted:       p.deleted,
		Conflicts:     p.conflicts,
		Errors:        errs,
	}
}

type window struct {
	min, max           time.Time
	startDate, endDate string
}

func (s *SyncService) window() window {
	now := s.now()
	w := window{min: now.Add(-LookBack), max: now.Add(LookAhead)}
	w.startDate = w.min.In(s.loc).Format(models.DateLayout)
	w.endDate = w.max.In(s.loc).Format(models.DateLayout)
	return w
}

// covers reports whether a block overlaps the window instants. Blocks with
// unparseable dates fall back to the date bounds.
func (w window) covers(b *models.AvailabilityBlock, loc *time.Location) bool {
	start, end, err := translate.BlockSpan(b, loc)
	if err != nil {
		return b.OverlapsDates(w.startDate, w.endDate)
	}
	return end.After(w.min) && start.Before(w.max)
}

func leaseKey(integrationID string) string {
	return "sync:" + integrationID
}

// RunSync reconciles one integration with its external calendar. Per-item
// failures are collected in the result; only token failures and errors that
// stop a whole direction abort the pass. The call never panics.
func (s *SyncService) RunSync(ctx context.Context, integ *models.Integration, syncType string) models.SyncResult {
	logger := s.logger.WithFields(
		logging.String("integration_id", integ.ID),
		logging.String("sync_type", syncType),
	)

	lease, err := s.locker.TryAcquire(ctx, leaseKey(integ.ID), s.leaseTTL)
	if err != nil {
		if !errors.Is(err, locks.ErrLockHeld) {
			logger.Error("Acquiring sync lease", err)
		}
		logger.Info("Sync skipped, another pass is running")
		return models.SyncResult{IntegrationID: integ.ID, Errors: []string{ErrSyncInProgress.Error()}}
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("Releasing sync lease", logging.String("error", err.Error()))
		}
	}()

	entry := &models.SyncLog{
		IntegrationID: integ.ID,
		SyncType:      syncType,
		Direction:     integ.SyncDirection,
	}
	if err := s.logs.Start(ctx, entry); err != nil {
		logger.Error("Starting sync log", err)
		result := models.SyncResult{IntegrationID: integ.ID, Errors: []string{"starting sync log failed"}}
		s.notify(integ, result, nil)
		return result
	}

	started := time.Now()
	logger.Info("Sync started", logging.String("log_id", entry.ID), logging.String("direction", integ.SyncDirection))

	token, err := s.tokens.ValidAccessToken(ctx, integ)
	if err != nil {
		if ctx.Err() != nil {
			return s.cancelled(ctx, logger, integ, entry, err)
		}
		status := models.IntegrationError
		if apperrors.IsType(err, apperrors.ErrTypeAuthExpired) {
			status = models.IntegrationTokenExpired
		}
		return s.abort(ctx, logger, integ, entry, status, fmt.Errorf("obtaining access token: %w", err))
	}

	p, err := s.reconcile(ctx, logger, integ, token)
	if err != nil {
		if ctx.Err() != nil {
			return s.cancelled(ctx, logger, integ, entry, err)
		}
		return s.abort(ctx, logger, integ, entry, models.IntegrationError, err)
	}

	entry.Created, entry.Updated, entry.Deleted, entry.Conflicts = p.created, p.updated, p.deleted, p.conflicts
	entry.Status = models.SyncLogSuccess
	integStatus := models.IntegrationActive
	var lastError *string
	if len(p.errors) > 0 {
		msg := strings.Join(p.errors, "; ")
		entry.ErrorMessage = &msg
		entry.Status = models.SyncLogPartial
		integStatus, lastError = models.IntegrationError, &msg
		if ctx.Err() != nil {
			integStatus, lastError = integ.Status, integ.LastError
		}
	}
	s.finish(ctx, logger, integ, entry, integStatus, lastError)

	result := p.result(integ.ID, entry.ID)
	logger.Info("Sync completed",
		logging.String("status", entry.Status),
		logging.Int("created", result.Created),
		logging.Int("updated", result.Updated),
		logging.Int("deleted", result.Deleted),
		logging.Int("conflicts", result.Conflicts),
		logging.Int("errors", len(result.Errors)),
		logging.Duration("duration", time.Since(started)))

	s.notify(integ, result, p.detected)
	return result
}

// abort ends a pass that produced no usable results.
func (s *SyncService) abort(ctx context.Context, logger logging.Logger, integ *models.Integration, entry *models.SyncLog, integStatus string, cause error) models.SyncResult {
	logger.Error("Sync failed", cause)

	msg := cause.Error()
	entry.Status = models.SyncLogError
	entry.ErrorMessage = &msg
	s.finish(ctx, logger, integ, entry, integStatus, &msg)

	result := models.SyncResult{IntegrationID: integ.ID, LogID: entry.ID, Errors: []string{msg}}
	s.notify(integ, result, nil)
	return result
}

// cancelled ends a pass whose context was cancelled mid-flight. The log is
// closed as ERROR while the integration keeps its status and last error.
func (s *SyncService) cancelled(ctx context.Context, logger logging.Logger, integ *models.Integration, entry *models.SyncLog, cause error) models.SyncResult {
	logger.Warn("Sync cancelled", logging.String("error", cause.Error()))

	msg := "sync cancelled: " + cause.Error()
	entry.Status = models.SyncLogError
	entry.ErrorMessage = &msg
	s.finish(ctx, logger, integ, entry, integ.Status, integ.LastError)

	result := models.SyncResult{IntegrationID: integ.ID, LogID: entry.ID, Errors: []string{msg}}
	s.notify(integ, result, nil)
	return result
}

// finish persists the terminal log entry and the integration outcome. It
// runs even when ctx has been cancelled so the audit trail is not left
// RUNNING.
func (s *SyncService) finish(ctx context.Context, logger logging.Logger, integ *models.Integration, entry *models.SyncLog, integStatus string, lastError *string) {
	ctx = context.WithoutCancel(ctx)

	if err := s.logs.Complete(ctx, entry); err != nil {
		logger.Error("Completing sync log", err)
	}
	if err := s.integrations.RecordSyncOutcome(ctx, integ.ID, integStatus, lastError, entry.Status); err != nil {
		logger.Error("Recording sync outcome", err)
	}

	integ.Status = integStatus
	integ.LastError = lastError
	syncStatus := entry.Status
	integ.LastSyncStatus = &syncStatus
	integ.LastSyncAt = entry.CompletedAt
}

func (s *SyncService) notify(integ *models.Integration, result models.SyncResult, detected []*models.SyncConflict) {
	if s.notifier == nil {
		return
	}
	for _, c := range detected {
		s.notifier.ConflictDetected(c)
	}
	s.notifier.SyncFinished(integ, result)
}

// reconcile runs the inbound then outbound directions. A panic anywhere in
// the pass is returned as an error.
func (s *SyncService) reconcile(ctx context.Context, logger logging.Logger, integ *models.Integration, token string) (p *pass, err error) {
	defer func() {
		if r := recover(); r != nil {
			p = nil
			err = fmt.Errorf("sync pass panicked: %v", r)
		}
	}()

	p = &pass{}
	w := s.window()

	if integ.SyncsInbound() {
		if err := s.pullInbound(ctx, logger, p, integ, token, w); err != nil {
			return nil, err
		}
	}
	if integ.SyncsOutbound() {
		if err := s.pushOutbound(ctx, logger, p, integ, token, w); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// pullInbound mirrors external events into sync-owned blocks.
func (s *SyncService) pullInbound(ctx context.Context, logger logging.Logger, p *pass, integ *models.Integration, token string, w window) error {
	events, err := s.calendar.ListEvents(ctx, token, integ.CalendarID, w.min, w.max)
	if err != nil {
		return fmt.Errorf("listing external events: %w", err)
	}

	owned, err := s.blocks.ListSyncOwned(ctx, integ.SalonID, integ.ProfessionalID)
	if err != nil {
		return fmt.Errorf("listing synced blocks: %w", err)
	}
	byEvent := make(map[string]*models.AvailabilityBlock, len(owned))
	for i := range owned {
		if owned[i].ExternalEventID != nil {
			byEvent[*owned[i].ExternalEventID] = &owned[i]
		}
	}

	pushed, err := s.blocks.LinkedLocalEventIDs(ctx, integ.SalonID, integ.ProfessionalID)
	if err != nil {
		return fmt.Errorf("listing pushed blocks: %w", err)
	}

	seen := make(map[string]bool, len(events))
	for _, ev := range events {
		if ev.IsCancelled() {
			continue
		}
		// Our own outbound pushes come back on the next pull.
		if pushed[ev.ID] {
			seen[ev.ID] = true
			continue
		}
		if ev.IsPushed() {
			if err := s.retractOrphan(ctx, p, integ, token, ev); err != nil {
				logger.Warn("Retracting orphaned event failed", logging.String("event_id", ev.ID), logging.String("error", err.Error()))
				p.fail(ev.ID, err)
			}
			continue
		}
		seen[ev.ID] = true

		b, err := s.applyEvent(ctx, p, integ, ev, byEvent[ev.ID])
		if err != nil {
			logger.Warn("Inbound event failed", logging.String("event_id", ev.ID), logging.String("error", err.Error()))
			p.fail(ev.ID, err)
			continue
		}
		if b != nil {
			byEvent[ev.ID] = b
		}
	}

	for i := range owned {
		b := &owned[i]
		eventID := ""
		if b.ExternalEventID != nil {
			eventID = *b.ExternalEventID
		}
		if seen[eventID] || !w.covers(b, s.loc) {
			continue
		}
		if err := s.blocks.Delete(ctx, b.ID); err != nil {
			p.fail(eventID, err)
			continue
		}
		p.deleted++
	}
	return nil
}

// retractOrphan handles an event pushed from a block it is no longer linked
// to. Such events are never materialized; once the source block is gone the
// event is deleted upstream.
func (s *SyncService) retractOrphan(ctx context.Context, p *pass, integ *models.Integration, token string, ev models.ExternalEvent) error {
	src, err := s.blocks.GetByID(ctx, ev.SourceBlockID)
	if err != nil {
		return fmt.Errorf("loading source block: %w", err)
	}
	if src != nil || !integ.SyncsOutbound() {
		return nil
	}
	if err := s.calendar.DeleteEvent(ctx, token, integ.CalendarID, ev.ID); err != nil {
		return fmt.Errorf("deleting orphaned event: %w", err)
	}
	p.deleted++
	return nil
}

// applyEvent handles one active external event and returns the block it
// created, if any.
func (s *SyncService) applyEvent(ctx context.Context, p *pass, integ *models.Integration, ev models.ExternalEvent, linked *models.AvailabilityBlock) (*models.AvailabilityBlock, error) {
	f, err := translate.EventToBlock(ev, s.loc)
	if err != nil {
		return nil, err
	}

	if linked != nil {
		changed, err := translate.NeedsUpdate(ev, linked, s.loc)
		if err != nil || !changed {
			return nil, err
		}
		f.Apply(linked)
		if err := s.blocks.Update(ctx, linked); err != nil {
			return nil, err
		}
		p.updated++
		return nil, nil
	}

	det, err := s.detector.Detect(ctx, integ, ev, f)
	if err != nil {
		return nil, fmt.Errorf("detecting conflicts: %w", err)
	}

	switch det.Outcome {
	case conflict.Suppressed:
		return nil, nil
	case conflict.Conflicted:
		p.conflicts++
		if det.Created {
			p.detected = append(p.detected, det.Conflict)
		}
		return nil, nil
	}

	b, err := translate.NewSyncedBlock(integ, ev, s.loc)
	if err != nil {
		return nil, err
	}
	if err := s.blocks.Create(ctx, b); err != nil {
		return nil, err
	}
	p.created++
	return b, nil
}

// pushOutbound mirrors locally owned blocks inside the window to the
// external calendar.
func (s *SyncService) pushOutbound(ctx context.Context, logger logging.Logger, p *pass, integ *models.Integration, token string, w window) error {
	blocks, err := s.blocks.ListLocalWithin(ctx, integ.SalonID, integ.ProfessionalID, w.startDate, w.endDate)
	if err != nil {
		return fmt.Errorf("listing local blocks: %w", err)
	}

	for i := range blocks {
		b := &blocks[i]
		if err := s.pushBlock(ctx, p, integ, token, b); err != nil {
			logger.Warn("Outbound block failed", logging.String("block_id", b.ID), logging.String("error", err.Error()))
			p.fail(b.ID, err)
		}
	}
	return nil
}

func (s *SyncService) pushBlock(ctx context.Context, p *pass, integ *models.Integration, token string, b *models.AvailabilityBlock) error {
	ev, err := translate.BlockToEvent(b, s.loc)
	if err != nil {
		return err
	}
	hash := translate.PayloadHash(ev)

	if b.ExternalEventID != nil && *b.ExternalEventID != "" {
		if b.ExternalHash != nil && *b.ExternalHash == hash {
			return nil
		}

		err := s.calendar.UpdateEvent(ctx, token, integ.CalendarID, *b.ExternalEventID, b.ID, ev)
		if err == nil {
			if err := s.blocks.MarkPushed(ctx, b.ID, *b.ExternalEventID, hash); err != nil {
				return err
			}
			p.updated++
			return nil
		}
		if !gcal.IsNotFound(err) {
			return fmt.Errorf("updating external event: %w", err)
		}
		// Deleted on the provider side: push it again.
		ev.ID = ""
	}

	eventID, err := s.calendar.CreateEvent(ctx, token, integ.CalendarID, b.ID, ev)
	if err != nil {
		return fmt.Errorf("creating external event: %w", err)
	}
	if err := s.blocks.MarkPushed(ctx, b.ID, eventID, hash); err != nil {
		return err
	}
	p.created++
	return nil
}
