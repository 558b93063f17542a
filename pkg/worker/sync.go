package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/bramble/internal/repositories/entity"
	"github.com/Ramsey-B/bramble/pkg/adapter"
	"github.com/Ramsey-B/bramble/pkg/alerting"
	"github.com/Ramsey-B/bramble/pkg/catalog"
	appctx "github.com/Ramsey-B/bramble/pkg/context"
	"github.com/Ramsey-B/bramble/pkg/events"
	"github.com/Ramsey-B/bramble/pkg/linker"
	"github.com/Ramsey-B/bramble/pkg/metrics"
	"github.com/Ramsey-B/bramble/pkg/models"
	"github.com/Ramsey-B/bramble/pkg/reconcile"
	"github.com/Ramsey-B/bramble/pkg/redis"
	"github.com/Ramsey-B/bramble/pkg/scheduler"
	"github.com/Ramsey-B/bramble/pkg/tracing"
)

// UnitStore is the work unit surface the sync worker needs
type UnitStore interface {
	GetByID(ctx context.Context, id string) (*models.WorkUnit, error)
	MarkRunning(ctx context.Context, id string) (bool, error)
	Complete(ctx context.Context, id string, metrics json.RawMessage) error
	Fail(ctx context.Context, id, errMsg string, metrics json.RawMessage) error
	Create(ctx context.Context, req *models.CreateWorkUnitRequest) (*models.WorkUnit, error)
}

// ConnectionStore resolves the connection a unit syncs through
type ConnectionStore interface {
	GetByID(ctx context.Context, id string) (*models.IntegrationConnection, error)
}

// EntityLookup resolves parent entities for linking
type EntityLookup interface {
	GetByExternalIDs(ctx context.Context, scope entity.Scope, externalIDs []string) ([]models.Entity, error)
}

// AlertApplier converges alerts onto a cycle's findings
type AlertApplier interface {
	Apply(ctx context.Context, tenantID, integration string, evaluatedRules []string, findings []models.Finding) (*alerting.Result, error)
}

// EventEmitter publishes pipeline events
type EventEmitter interface {
	EmitScopeProcessed(ctx context.Context, event *events.ScopeProcessed) error
	EmitUnitCompleted(ctx context.Context, event *events.UnitCompleted) error
	EmitUnitFailed(ctx context.Context, event *events.UnitFailed) error
	EmitSyncFinalized(ctx context.Context, event *events.SyncFinalized) error
	EmitEntityStateChanged(ctx context.Context, event *events.EntityStateChanged) error
	EmitEntitiesPruned(ctx context.Context, event *events.EntitiesPruned) error
}

// SyncWorker runs queued jobs: the sync pipeline for one work unit (fetch,
// reconcile, link, finalize) and the once-per-cycle analysis pass
type SyncWorker struct {
	units         UnitStore
	connections   ConnectionStore
	adapters      *adapter.Registry
	linkers       *linker.Registry
	entities      *reconcile.Entities
	relationships *reconcile.Relationships
	entityLookup  EntityLookup
	finalizer     *Finalizer
	cycle         *CycleAnalysis
	emitter       EventEmitter
	logger        ectologger.Logger
}

// NewSyncWorker wires the pipeline
func NewSyncWorker(
	units UnitStore,
	connections ConnectionStore,
	adapters *adapter.Registry,
	linkers *linker.Registry,
	entities *reconcile.Entities,
	relationships *reconcile.Relationships,
	entityLookup EntityLookup,
	finalizer *Finalizer,
	cycle *CycleAnalysis,
	emitter EventEmitter,
	logger ectologger.Logger,
) *SyncWorker {
	return &SyncWorker{
		units:         units,
		connections:   connections,
		adapters:      adapters,
		linkers:       linkers,
		entities:      entities,
		relationships: relationships,
		entityLookup:  entityLookup,
		finalizer:     finalizer,
		cycle:         cycle,
		emitter:       emitter,
		logger:        logger,
	}
}

// HandleJob is the queue processor entry point. Errors propagate to the
// processor so its redelivery and dead-letter handling decide retries.
func (w *SyncWorker) HandleJob(ctx context.Context, job *redis.JobMessage) error {
	ctx, span := tracing.StartSpan(ctx, "worker.SyncWorker.HandleJob")
	defer span.End()

	switch job.Type {
	case scheduler.JobTypeSync:
		return w.handleSyncJob(ctx, job)
	case JobTypeAnalysis:
		return w.handleAnalysisJob(ctx, job)
	default:
		w.logger.WithContext(ctx).WithFields(map[string]any{
			"job_type": job.Type,
		}).Warn("ignoring unknown job type")
		return nil
	}
}

func (w *SyncWorker) handleSyncJob(ctx context.Context, job *redis.JobMessage) error {
	var payload scheduler.SyncJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("malformed sync job payload: %w", err)
	}

	unit, err := w.units.GetByID(ctx, payload.WorkUnitID)
	if err != nil {
		return err
	}

	// a redelivered or double-dispatched job for a finished unit is acked
	// without running anything; failed units run again on redelivery
	if unit.Status == models.WorkUnitStatusCompleted {
		return nil
	}

	started, err := w.units.MarkRunning(ctx, unit.ID)
	if err != nil {
		return err
	}
	if !started {
		// another worker holds the unit
		return nil
	}

	ctx = appctx.SetTenantID(ctx, unit.TenantID)
	ctx = appctx.SetIntegration(ctx, unit.Integration)
	ctx = appctx.SetSyncID(ctx, unit.SyncID)
	ctx = appctx.SetWorkUnitID(ctx, unit.ID)

	return w.runSync(ctx, unit)
}

func (w *SyncWorker) handleAnalysisJob(ctx context.Context, job *redis.JobMessage) error {
	var payload AnalysisJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("malformed analysis job payload: %w", err)
	}

	ctx = appctx.SetTenantID(ctx, payload.TenantID)
	ctx = appctx.SetIntegration(ctx, payload.Integration)
	ctx = appctx.SetSyncID(ctx, payload.SyncID)

	return w.cycle.Run(ctx, payload.TenantID, payload.Integration)
}

func (w *SyncWorker) runSync(ctx context.Context, unit *models.WorkUnit) error {
	ctx, span := tracing.StartSpan(ctx, "worker.SyncWorker.runSync")
	defer span.End()

	stats := metrics.NewSyncStats()
	startedAt := time.Now()

	kind, err := catalog.Kind(unit.Integration, unit.EntityType)
	if err != nil {
		return w.failUnit(ctx, unit, err, stats, startedAt)
	}

	var settings json.RawMessage
	if unit.ConnectionID != nil {
		conn, err := w.connections.GetByID(ctx, *unit.ConnectionID)
		if err != nil {
			return w.failUnit(ctx, unit, err, stats, startedAt)
		}
		if !conn.Enabled {
			return w.failUnit(ctx, unit, fmt.Errorf("connection %s is disabled", conn.ID), stats, startedAt)
		}
		settings = conn.Settings
	}

	a, err := w.adapters.Get(unit.Integration)
	if err != nil {
		return w.failUnit(ctx, unit, err, stats, startedAt)
	}

	scope := entity.Scope{
		TenantID:    unit.TenantID,
		Integration: unit.Integration,
		EntityType:  unit.EntityType,
		SiteID:      unit.SiteID,
	}

	// fetch and reconcile page by page; seen ids feed the prune
	seen := map[string]struct{}{}
	parentExternalIDs := map[string]struct{}{}
	if unit.SiteID != nil {
		parentExternalIDs[*unit.SiteID] = struct{}{}
	}
	var reconciled []models.Entity
	cursor := ""
	for {
		page, err := a.FetchPage(ctx, &adapter.FetchRequest{Unit: unit, Settings: settings, Cursor: cursor})
		if err != nil {
			return w.failUnit(ctx, unit, fmt.Errorf("fetch failed: %w", err), stats, startedAt)
		}
		stats.Add(func(s *metrics.SyncStats) {
			s.PagesFetched++
			s.RecordsFetched += len(page.Records)
		})

		result, err := w.entities.ReconcileBatch(ctx, scope, unit.SyncID, page.Records)
		if err != nil {
			return w.failUnit(ctx, unit, fmt.Errorf("entity reconcile failed: %w", err), stats, startedAt)
		}
		stats.Add(func(s *metrics.SyncStats) {
			s.EntitiesCreated += result.Created
			s.EntitiesUpdated += result.Updated
			s.EntitiesTouched += result.Touched
		})

		for _, rec := range page.Records {
			seen[rec.ExternalID] = struct{}{}
			if rec.ExternalSiteID != "" {
				parentExternalIDs[rec.ExternalSiteID] = struct{}{}
			}
		}
		reconciled = append(reconciled, result.Entities...)

		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	// pruning only runs on a complete view of the scope
	if kind.PruneStale {
		pruned, err := w.entities.Prune(ctx, scope, seen)
		if err != nil {
			return w.failUnit(ctx, unit, fmt.Errorf("prune failed: %w", err), stats, startedAt)
		}
		stats.Add(func(s *metrics.SyncStats) { s.EntitiesPruned += int(pruned) })
		if pruned > 0 {
			if err := w.emitter.EmitEntitiesPruned(ctx, &events.EntitiesPruned{
				TenantID:    unit.TenantID,
				Integration: unit.Integration,
				EntityType:  unit.EntityType,
				SiteID:      unit.SiteID,
				SyncID:      unit.SyncID,
				Count:       int(pruned),
			}); err != nil {
				w.logger.WithContext(ctx).WithError(err).Error("failed to emit entities pruned event")
			}
		}
	}

	if err := w.linkEntities(ctx, unit, kind, reconciled, parentExternalIDs, stats); err != nil {
		return w.failUnit(ctx, unit, fmt.Errorf("relationship reconcile failed: %w", err), stats, startedAt)
	}

	w.finalize(ctx, unit, kind, reconciled, stats, startedAt)
	return nil
}

// linkEntities resolves parents and converges edges for the batch
func (w *SyncWorker) linkEntities(ctx context.Context, unit *models.WorkUnit, kind catalog.KindSpec, reconciled []models.Entity, parentExternalIDs map[string]struct{}, stats *metrics.SyncStats) error {
	l := w.linkers.Get(unit.Integration)
	if l == nil {
		return nil
	}

	parentsByExternalID := map[string]models.Entity{}
	if kind.ParentKind != "" && len(parentExternalIDs) > 0 {
		ids := make([]string, 0, len(parentExternalIDs))
		for id := range parentExternalIDs {
			ids = append(ids, id)
		}
		parentScope := entity.Scope{
			TenantID:    unit.TenantID,
			Integration: unit.Integration,
			EntityType:  kind.ParentKind,
		}
		parents, err := w.entityLookup.GetByExternalIDs(ctx, parentScope, ids)
		if err != nil {
			return err
		}
		for _, p := range parents {
			parentsByExternalID[p.ExternalID] = p
		}
	}

	desired, err := l.ComputeDesiredEdges(ctx, &linker.Input{
		TenantID:            unit.TenantID,
		Integration:         unit.Integration,
		EntityType:          unit.EntityType,
		Entities:            reconciled,
		ParentsByExternalID: parentsByExternalID,
	})
	if err != nil {
		return err
	}

	coveredParents := make([]string, 0, len(parentsByExternalID))
	for _, p := range parentsByExternalID {
		coveredParents = append(coveredParents, p.ID)
	}
	if len(coveredParents) == 0 && len(desired) == 0 {
		return nil
	}

	result, err := w.relationships.Reconcile(ctx, unit.TenantID, unit.Integration, coveredParents, desired)
	if err != nil {
		return err
	}
	stats.Add(func(s *metrics.SyncStats) {
		s.RelationshipsCreated += result.Created
		s.RelationshipsTouched += result.Touched
		s.RelationshipsRemoved += result.Removed
	})
	return nil
}

// finalize completes the unit, emits events, reports the kind's completion,
// and schedules the next scheduled pass
func (w *SyncWorker) finalize(ctx context.Context, unit *models.WorkUnit, kind catalog.KindSpec, reconciled []models.Entity, stats *metrics.SyncStats, startedAt time.Time) {
	if err := w.units.Complete(ctx, unit.ID, stats.Snapshot()); err != nil {
		w.logger.WithContext(ctx).WithError(err).Error("failed to complete work unit")
		return
	}
	metrics.RecordCompletion(unit.Integration, unit.EntityType, string(models.WorkUnitStatusCompleted), time.Since(startedAt))

	if err := w.emitter.EmitUnitCompleted(ctx, &events.UnitCompleted{
		TenantID:    unit.TenantID,
		Integration: unit.Integration,
		EntityType:  unit.EntityType,
		WorkUnitID:  unit.ID,
		SyncID:      unit.SyncID,
	}); err != nil {
		w.logger.WithContext(ctx).WithError(err).Error("failed to emit unit completed event")
	}

	// a parent kind announces its processed scopes so the fan-out policy
	// can schedule child units
	children, _ := catalog.ChildKinds(unit.Integration, unit.EntityType)
	if len(children) > 0 {
		scopes := make([]events.ScopeRef, 0, len(reconciled))
		for i := range reconciled {
			scopes = append(scopes, events.ScopeRef{
				EntityID:   reconciled[i].ID,
				ExternalID: reconciled[i].ExternalID,
				SiteID:     reconciled[i].SiteID,
			})
		}
		if err := w.emitter.EmitScopeProcessed(ctx, &events.ScopeProcessed{
			TenantID:     unit.TenantID,
			Integration:  unit.Integration,
			EntityType:   unit.EntityType,
			ConnectionID: unit.ConnectionID,
			SyncID:       unit.SyncID,
			Scopes:       scopes,
		}); err != nil {
			w.logger.WithContext(ctx).WithError(err).Error("failed to emit scope processed event")
		}
	}

	// every kind reports its completion; fan-out kinds count against the
	// expected child total, the rest close directly
	if err := w.finalizer.KindDone(ctx, unit.TenantID, unit.Integration, unit.EntityType, unit.SyncID); err != nil {
		w.logger.WithContext(ctx).WithError(err).Error("failed to record kind completion")
	}

	w.scheduleNext(ctx, unit, kind, kind.RateMinutes, unit.Priority)

	w.logger.WithContext(ctx).WithFields(map[string]any{
		"work_unit_id": unit.ID,
		"integration":  unit.Integration,
		"entity_type":  unit.EntityType,
		"duration_ms":  time.Since(startedAt).Milliseconds(),
	}).Info("sync completed")
}

// failUnit records the failure and returns the cause so the queue's retry
// and dead-letter handling take over
func (w *SyncWorker) failUnit(ctx context.Context, unit *models.WorkUnit, cause error, stats *metrics.SyncStats, startedAt time.Time) error {
	w.logger.WithContext(ctx).WithError(cause).WithFields(map[string]any{
		"work_unit_id": unit.ID,
		"integration":  unit.Integration,
		"entity_type":  unit.EntityType,
	}).Error("sync failed")

	if err := w.units.Fail(ctx, unit.ID, cause.Error(), stats.Snapshot()); err != nil {
		w.logger.WithContext(ctx).WithError(err).Error("failed to mark work unit failed")
	}
	metrics.RecordCompletion(unit.Integration, unit.EntityType, string(models.WorkUnitStatusFailed), time.Since(startedAt))

	if err := w.emitter.EmitUnitFailed(ctx, &events.UnitFailed{
		TenantID:    unit.TenantID,
		Integration: unit.Integration,
		EntityType:  unit.EntityType,
		WorkUnitID:  unit.ID,
		SyncID:      unit.SyncID,
		Error:       cause.Error(),
	}); err != nil {
		w.logger.WithContext(ctx).WithError(err).Error("failed to emit unit failed event")
	}

	// a failed fan-out child still counts toward its kind's expected total
	// so the surviving children can close the cycle
	if kind, err := catalog.Kind(unit.Integration, unit.EntityType); err == nil && kind.FanOut() {
		if err := w.finalizer.KindDone(ctx, unit.TenantID, unit.Integration, unit.EntityType, unit.SyncID); err != nil {
			w.logger.WithContext(ctx).WithError(err).Error("failed to record kind completion")
		}
	}

	return cause
}

// scheduleNext creates the follow-up pending unit for scheduled root kinds.
// Fan-out children and manual runs are not rescheduled; children come back
// on the next parent pass.
func (w *SyncWorker) scheduleNext(ctx context.Context, unit *models.WorkUnit, kind catalog.KindSpec, delayMinutes, priority int) {
	if kind.FanOut() || unit.Trigger == models.WorkUnitTriggerManual {
		return
	}
	if delayMinutes < 1 {
		delayMinutes = 1
	}

	next := time.Now().UTC().Add(time.Duration(delayMinutes) * time.Minute)
	_, err := w.units.Create(ctx, &models.CreateWorkUnitRequest{
		TenantID:     unit.TenantID,
		Integration:  unit.Integration,
		EntityType:   unit.EntityType,
		ConnectionID: unit.ConnectionID,
		SiteID:       unit.SiteID,
		Priority:     priority,
		Trigger:      models.WorkUnitTriggerScheduled,
		ScheduledFor: &next,
	})
	if err != nil {
		w.logger.WithContext(ctx).WithError(err).Error("failed to schedule next pass")
	}
}
