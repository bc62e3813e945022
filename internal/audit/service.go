package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Default configuration values
const (
	DefaultRetentionDays   = 30
	DefaultPruneSchedule   = "@daily"
	DefaultQueryLimit      = 100
	MaxQueryLimit          = 1000
	MaxConsecutiveFailures = 3
)

// ServiceOptions configures a Service. Zero values use the defaults.
type ServiceOptions struct {
	RetentionDays int
	PruneSchedule string
	Logger        logrus.FieldLogger
}

// Service provides audit log management functionality.
type Service struct {
	logger        logrus.FieldLogger
	repo          *Repository
	retentionDays int
	pruneSchedule string
	scheduler     *cron.Cron

	healthMu            sync.RWMutex
	healthy             bool
	consecutiveFailures int
}

// NewService creates a new audit service.
// Accepts a DBPair for optimal SQLite concurrency with separate reader/writer pools.
func NewService(dbPair DBPair, opts ServiceOptions) *Service {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.RetentionDays <= 0 {
		opts.RetentionDays = DefaultRetentionDays
	}
	if opts.PruneSchedule == "" {
		opts.PruneSchedule = DefaultPruneSchedule
	}

	return &Service{
		logger:        opts.Logger.WithField("component", "audit"),
		repo:          NewRepository(dbPair),
		retentionDays: opts.RetentionDays,
		pruneSchedule: opts.PruneSchedule,
		healthy:       true,
	}
}

// RecordEvent writes a new audit event.
func (s *Service) RecordEvent(ctx context.Context, input WriteEventInput) (*AuditEvent, error) {
	if input.Level == nil {
		level := EventLevelInfo
		input.Level = &level
	}

	s.logger.WithFields(logrus.Fields{
		"type":  input.Type,
		"level": *input.Level,
	}).Debug(input.Message)

	event, err := s.repo.InsertEvent(ctx, input)
	if err != nil {
		s.recordFailure()
		return nil, fmt.Errorf("failed to record audit event: %w", err)
	}

	s.recordSuccess()
	return event, nil
}

// QueryEvents retrieves events with filters and pagination.
// Clamps limit to MaxQueryLimit.
// Returns: events, total count, hasMore flag, error.
func (s *Service) QueryEvents(ctx context.Context, filters EventQueryFilters) ([]AuditEvent, int, bool, error) {
	if filters.Limit == 0 {
		filters.Limit = DefaultQueryLimit
	}
	if filters.Limit > MaxQueryLimit {
		filters.Limit = MaxQueryLimit
	}

	events, total, err := s.repo.QueryEvents(ctx, filters)
	if err != nil {
		s.recordFailure()
		return nil, 0, false, fmt.Errorf("failed to query audit events: %w", err)
	}

	s.recordSuccess()

	hasMore := filters.Offset+len(events) < total
	return events, total, hasMore, nil
}

// GetEvent retrieves a single event by ID.
func (s *Service) GetEvent(ctx context.Context, eventID string) (*AuditEvent, error) {
	event, err := s.repo.GetEvent(ctx, eventID)
	if err != nil {
		s.recordFailure()
		return nil, fmt.Errorf("failed to get audit event: %w", err)
	}

	if event == nil {
		return nil, &EventNotFoundError{EventID: eventID}
	}

	s.recordSuccess()
	return event, nil
}

// StartPruneJob prunes once, then on the configured cron schedule.
func (s *Service) StartPruneJob() error {
	scheduler := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := scheduler.AddFunc(s.pruneSchedule, s.runPrune); err != nil {
		return fmt.Errorf("invalid audit prune schedule %q: %w", s.pruneSchedule, err)
	}

	s.logger.WithFields(logrus.Fields{
		"schedule":       s.pruneSchedule,
		"retention_days": s.retentionDays,
	}).Info("starting audit prune job")

	s.runPrune()
	scheduler.Start()
	s.scheduler = scheduler
	return nil
}

// StopPruneJob stops the prune schedule and waits for a running prune.
func (s *Service) StopPruneJob() {
	if s.scheduler == nil {
		return
	}
	<-s.scheduler.Stop().Done()
	s.scheduler = nil
	s.logger.Info("audit prune job stopped")
}

func (s *Service) runPrune() {
	count, err := s.Prune(context.Background())
	if err != nil {
		s.logger.WithError(err).Error("error pruning audit events")
		return
	}
	if count > 0 {
		s.logger.WithField("count", count).Info("pruned audit events")
	}
}

// Prune deletes events older than the retention window, returns count deleted.
func (s *Service) Prune(ctx context.Context) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	count, err := s.repo.Prune(ctx, cutoff)
	if err != nil {
		s.recordFailure()
		return 0, fmt.Errorf("failed to prune audit events: %w", err)
	}

	s.recordSuccess()
	return count, nil
}

// IsHealthy returns current health status.
func (s *Service) IsHealthy() bool {
	s.healthMu.RLock()
	defer s.healthMu.RUnlock()
	return s.healthy
}

func (s *Service) recordSuccess() {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()
	s.consecutiveFailures = 0
	s.healthy = true
}

// recordFailure marks the service unhealthy after MaxConsecutiveFailures.
func (s *Service) recordFailure() {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()
	s.consecutiveFailures++
	if s.consecutiveFailures >= MaxConsecutiveFailures {
		s.healthy = false
	}
}

// EventNotFoundError is returned when an audit event is not found.
type EventNotFoundError struct {
	EventID string
}

func (e *EventNotFoundError) Error() string {
	return fmt.Sprintf("audit event not found: %s", e.EventID)
}
