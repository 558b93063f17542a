package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/bramble/pkg/completion"
	"github.com/Ramsey-B/bramble/pkg/events"
	"github.com/Ramsey-B/bramble/pkg/metrics"
	"github.com/Ramsey-B/bramble/pkg/redis"
	"github.com/Ramsey-B/bramble/pkg/tracing"
)

// JobTypeAnalysis marks a queued job carrying a finalized cycle's analysis run
const JobTypeAnalysis = "analysis"

// AnalysisJobPayload identifies the cycle an analysis job evaluates
type AnalysisJobPayload struct {
	TenantID    string `json:"tenant_id"`
	Integration string `json:"integration"`
	SyncID      string `json:"sync_id"`
}

// JobPublisher places jobs on the work stream
type JobPublisher interface {
	Publish(ctx context.Context, stream string, msg *redis.JobMessage) (string, error)
}

// Finalizer reports per-kind completion to the tracker and, when the last
// kind of an integration's cycle lands, emits sync.finalized and enqueues
// the cycle's analysis job. Running analysis through the queue gives it the
// same retry and dead-letter handling as sync jobs.
type Finalizer struct {
	tracker   *completion.Tracker
	emitter   EventEmitter
	publisher JobPublisher
	queue     string
	logger    ectologger.Logger
}

// NewFinalizer creates a finalizer publishing analysis jobs to the given stream
func NewFinalizer(tracker *completion.Tracker, emitter EventEmitter, publisher JobPublisher, queue string, logger ectologger.Logger) *Finalizer {
	if queue == "" {
		queue = redis.DefaultJobQueue
	}
	return &Finalizer{
		tracker:   tracker,
		emitter:   emitter,
		publisher: publisher,
		queue:     queue,
		logger:    logger,
	}
}

// KindDone records one finished unit of a kind. The tracker reports true
// exactly once per cycle; that caller finalizes.
func (f *Finalizer) KindDone(ctx context.Context, tenantID, integration, entityType, syncID string) error {
	ctx, span := tracing.StartSpan(ctx, "worker.Finalizer.KindDone")
	defer span.End()

	done, err := f.tracker.MarkComplete(ctx, completion.Key{
		TenantID:    tenantID,
		Integration: integration,
		EntityType:  entityType,
	})
	if err != nil {
		return fmt.Errorf("failed to record kind completion: %w", err)
	}
	if !done {
		return nil
	}

	metrics.CompletionFinalized.WithLabelValues(integration).Inc()

	if err := f.emitter.EmitSyncFinalized(ctx, &events.SyncFinalized{
		TenantID:    tenantID,
		Integration: integration,
		EntityType:  entityType,
		SyncID:      syncID,
	}); err != nil {
		f.logger.WithContext(ctx).WithError(err).Error("failed to emit sync finalized event")
	}

	payload, err := json.Marshal(AnalysisJobPayload{
		TenantID:    tenantID,
		Integration: integration,
		SyncID:      syncID,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal analysis job payload: %w", err)
	}
	if _, err := f.publisher.Publish(ctx, f.queue, &redis.JobMessage{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Type:      JobTypeAnalysis,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("failed to enqueue analysis job: %w", err)
	}

	f.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id":   tenantID,
		"integration": integration,
		"sync_id":     syncID,
	}).Info("cycle finalized, analysis job enqueued")

	return nil
}
