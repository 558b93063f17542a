// Package scheduler seeds and dispatches work units. Dispatch is guarded by
// a per-unit lock plus a pending status gate, so overlapping scheduler
// instances enqueue each unit at most once.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/bramble/pkg/catalog"
	"github.com/Ramsey-B/bramble/pkg/metrics"
	"github.com/Ramsey-B/bramble/pkg/models"
	"github.com/Ramsey-B/bramble/pkg/redis"
	"github.com/Ramsey-B/bramble/pkg/tracing"
)

// JobTypeSync is the job type placed on the stream for sync work units
const JobTypeSync = "sync"

// SyncJobPayload is the stream payload for a sync job
type SyncJobPayload struct {
	WorkUnitID string `json:"work_unit_id"`
}

// UnitStore is the work unit surface the scheduler needs
type UnitStore interface {
	Create(ctx context.Context, req *models.CreateWorkUnitRequest) (*models.WorkUnit, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]models.WorkUnit, error)
	MarkQueued(ctx context.Context, id string) (bool, error)
	MarkPending(ctx context.Context, id string) (bool, error)
}

// ConnectionStore lists the connections to seed from
type ConnectionStore interface {
	ListEnabled(ctx context.Context) ([]models.IntegrationConnection, error)
}

// Publisher places job messages on the queue
type Publisher interface {
	Publish(ctx context.Context, stream string, msg *redis.JobMessage) (string, error)
}

// AdapterResolver reports whether an integration has a fetch implementation
type AdapterResolver interface {
	Has(integration string) bool
}

// DispatchLock is a held per-unit dispatch lock
type DispatchLock interface {
	Release(ctx context.Context) error
}

// DispatchLocker hands out per-unit dispatch locks
type DispatchLocker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (DispatchLock, error)
}

type redisDispatchLocker struct {
	locker *redis.Locker
}

// NewRedisDispatchLocker adapts the redis locker to the dispatch lock surface
func NewRedisDispatchLocker(locker *redis.Locker) DispatchLocker {
	return &redisDispatchLocker{locker: locker}
}

func (l *redisDispatchLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (DispatchLock, error) {
	lock, err := l.locker.Acquire(ctx, name, ttl)
	if err != nil {
		return nil, err
	}
	return lock, nil
}

// Config holds scheduler settings
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	LockTTL      time.Duration
	JobQueue     string
}

// Scheduler is the dispatch loop
type Scheduler struct {
	units       UnitStore
	connections ConnectionStore
	publisher   Publisher
	locker      DispatchLocker
	adapters    AdapterResolver
	logger      ectologger.Logger
	config      Config

	mu       sync.RWMutex
	running  bool
	stopCh   chan struct{}
	stoppedC chan struct{}
}

// NewScheduler creates a scheduler
func NewScheduler(units UnitStore, connections ConnectionStore, publisher Publisher, locker DispatchLocker, adapters AdapterResolver, logger ectologger.Logger, config Config) *Scheduler {
	if config.PollInterval <= 0 {
		config.PollInterval = 30 * time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 20
	}
	if config.LockTTL <= 0 {
		config.LockTTL = time.Minute
	}
	return &Scheduler{
		units:       units,
		connections: connections,
		publisher:   publisher,
		locker:      locker,
		adapters:    adapters,
		logger:      logger,
		config:      config,
	}
}

// Start begins the poll loop
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.stoppedC = make(chan struct{})
	s.mu.Unlock()

	go s.pollLoop(ctx)
	return nil
}

// Stop halts the poll loop and waits for the in-flight pass to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	<-s.stoppedC
}

// IsRunning reports whether the loop is active
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) pollLoop(ctx context.Context) {
	defer close(s.stoppedC)

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	// first pass runs immediately
	s.runPass(ctx)

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runPass(ctx)
		}
	}
}

func (s *Scheduler) runPass(ctx context.Context) {
	ctx, span := tracing.StartSpan(ctx, "scheduler.Scheduler.runPass")
	defer span.End()

	if err := s.seed(ctx); err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("seeding pass failed")
	}
	if err := s.dispatch(ctx); err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("dispatch pass failed")
	}
}

// seed ensures every enabled connection has an open work unit per root kind.
// Create is idempotent against open units, so re-seeding is harmless.
func (s *Scheduler) seed(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "scheduler.Scheduler.seed")
	defer span.End()

	conns, err := s.connections.ListEnabled(ctx)
	if err != nil {
		return err
	}

	for i := range conns {
		conn := &conns[i]
		kinds, err := catalog.RootKinds(conn.Integration)
		if err != nil {
			s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"integration": conn.Integration,
			}).Warn("skipping connection with unknown integration")
			continue
		}

		for _, kind := range kinds {
			_, err := s.units.Create(ctx, &models.CreateWorkUnitRequest{
				TenantID:     conn.TenantID,
				Integration:  conn.Integration,
				EntityType:   kind.EntityType,
				ConnectionID: &conn.ID,
				Priority:     kind.Priority,
				Trigger:      models.WorkUnitTriggerScheduled,
			})
			if err != nil {
				s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
					"tenant_id":   conn.TenantID,
					"integration": conn.Integration,
					"entity_type": kind.EntityType,
				}).Error("failed to seed work unit")
			}
		}
	}
	return nil
}

// dispatch moves due pending units onto the job queue
func (s *Scheduler) dispatch(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "scheduler.Scheduler.dispatch")
	defer span.End()

	due, err := s.units.ListDue(ctx, time.Now().UTC(), s.config.BatchSize)
	if err != nil {
		return err
	}

	for i := range due {
		s.dispatchUnit(ctx, &due[i])
	}
	return nil
}

func (s *Scheduler) dispatchUnit(ctx context.Context, unit *models.WorkUnit) {
	// units the worker could never serve stay pending instead of churning
	// through queue retries
	if _, err := catalog.Kind(unit.Integration, unit.EntityType); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"work_unit_id": unit.ID,
		}).Warn("skipping work unit with unknown entity kind")
		return
	}
	if s.adapters != nil && !s.adapters.Has(unit.Integration) {
		s.logger.WithContext(ctx).WithFields(map[string]any{
			"work_unit_id": unit.ID,
			"integration":  unit.Integration,
		}).Warn("skipping work unit with no registered adapter")
		return
	}

	lock, err := s.locker.Acquire(ctx, "dispatch:"+unit.ID, s.config.LockTTL)
	if err != nil {
		if errors.Is(err, redis.ErrLockNotAcquired) {
			return
		}
		s.logger.WithContext(ctx).WithError(err).Error("failed to acquire dispatch lock")
		return
	}
	defer func() {
		_ = lock.Release(ctx)
	}()

	// the pending gate catches units another instance dispatched between
	// our ListDue and the lock
	queued, err := s.units.MarkQueued(ctx, unit.ID)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"work_unit_id": unit.ID,
		}).Error("failed to mark work unit queued")
		return
	}
	if !queued {
		return
	}

	payload, err := json.Marshal(SyncJobPayload{WorkUnitID: unit.ID})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("failed to marshal sync job payload")
		return
	}

	_, err = s.publisher.Publish(ctx, s.config.JobQueue, &redis.JobMessage{
		ID:        uuid.NewString(),
		TenantID:  unit.TenantID,
		Type:      JobTypeSync,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"work_unit_id": unit.ID,
		}).Error("failed to publish sync job")
		// the job never made it onto the queue, so the unit goes back to
		// pending for the next pass instead of sitting queued until the
		// stuck-unit recovery
		if _, err := s.units.MarkPending(ctx, unit.ID); err != nil {
			s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"work_unit_id": unit.ID,
			}).Error("failed to reset work unit to pending")
		}
		return
	}

	metrics.RecordDispatch(unit.Integration, unit.EntityType, string(unit.Trigger))
	s.logger.WithContext(ctx).WithFields(map[string]any{
		"work_unit_id": unit.ID,
		"tenant_id":    unit.TenantID,
		"integration":  unit.Integration,
		"entity_type":  unit.EntityType,
	}).Info("dispatched work unit")
}

// TriggerNow creates a manual work unit for the given scope, due
// immediately and ahead of scheduled work
func (s *Scheduler) TriggerNow(ctx context.Context, tenantID, integration, entityType string, connectionID *string) (*models.WorkUnit, error) {
	ctx, span := tracing.StartSpan(ctx, "scheduler.Scheduler.TriggerNow")
	defer span.End()

	if _, err := catalog.Kind(integration, entityType); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return s.units.Create(ctx, &models.CreateWorkUnitRequest{
		TenantID:     tenantID,
		Integration:  integration,
		EntityType:   entityType,
		ConnectionID: connectionID,
		Priority:     0,
		Trigger:      models.WorkUnitTriggerManual,
		ScheduledFor: &now,
	})
}
