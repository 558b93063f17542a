package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/bramble/internal/repositories/entity"
	"github.com/Ramsey-B/bramble/pkg/adapter"
	"github.com/Ramsey-B/bramble/pkg/alerting"
	"github.com/Ramsey-B/bramble/pkg/analysis"
	"github.com/Ramsey-B/bramble/pkg/completion"
	"github.com/Ramsey-B/bramble/pkg/events"
	"github.com/Ramsey-B/bramble/pkg/linker"
	"github.com/Ramsey-B/bramble/pkg/models"
	"github.com/Ramsey-B/bramble/pkg/reconcile"
	"github.com/Ramsey-B/bramble/pkg/redis"
	"github.com/Ramsey-B/bramble/pkg/scheduler"
	"github.com/Ramsey-B/bramble/pkg/tagging"
)

// ---- fakes ----

type fakeUnitStore struct {
	units   map[string]*models.WorkUnit
	runs    int
	created []*models.CreateWorkUnitRequest
}

func newFakeUnitStore() *fakeUnitStore {
	return &fakeUnitStore{units: map[string]*models.WorkUnit{}}
}

func (f *fakeUnitStore) add(unit *models.WorkUnit) {
	f.units[unit.ID] = unit
}

func (f *fakeUnitStore) GetByID(_ context.Context, id string) (*models.WorkUnit, error) {
	u, ok := f.units[id]
	if !ok {
		return nil, fmt.Errorf("work unit %s not found", id)
	}
	copied := *u
	return &copied, nil
}

func (f *fakeUnitStore) MarkRunning(_ context.Context, id string) (bool, error) {
	u := f.units[id]
	if u.Status != models.WorkUnitStatusQueued && u.Status != models.WorkUnitStatusFailed {
		return false, nil
	}
	u.Status = models.WorkUnitStatusRunning
	f.runs++
	return true, nil
}

func (f *fakeUnitStore) Complete(_ context.Context, id string, metrics json.RawMessage) error {
	u := f.units[id]
	u.Status = models.WorkUnitStatusCompleted
	u.Metrics = metrics
	return nil
}

func (f *fakeUnitStore) Fail(_ context.Context, id, errMsg string, _ json.RawMessage) error {
	u := f.units[id]
	u.Status = models.WorkUnitStatusFailed
	u.Error = &errMsg
	return nil
}

func (f *fakeUnitStore) Create(_ context.Context, req *models.CreateWorkUnitRequest) (*models.WorkUnit, error) {
	f.created = append(f.created, req)
	return &models.WorkUnit{ID: uuid.NewString(), Status: models.WorkUnitStatusPending}, nil
}

type fakeConnectionStore struct{}

func (fakeConnectionStore) GetByID(_ context.Context, id string) (*models.IntegrationConnection, error) {
	return &models.IntegrationConnection{ID: id, Enabled: true}, nil
}

// fakeEntityBackend implements reconcile.EntityStore, EntityLookup, and
// CycleEntityStore
type fakeEntityBackend struct {
	entities map[string]*models.Entity
	states   map[string]models.EntityState
}

func newFakeEntityBackend() *fakeEntityBackend {
	return &fakeEntityBackend{entities: map[string]*models.Entity{}, states: map[string]models.EntityState{}}
}

func (f *fakeEntityBackend) GetByExternalIDs(_ context.Context, _ entity.Scope, externalIDs []string) ([]models.Entity, error) {
	var out []models.Entity
	for _, id := range externalIDs {
		if e, ok := f.entities[id]; ok {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeEntityBackend) BulkInsert(_ context.Context, entities []models.Entity) ([]models.Entity, error) {
	for i := range entities {
		entities[i].ID = uuid.NewString()
		if entities[i].State == "" {
			entities[i].State = models.EntityStateNormal
		}
		e := entities[i]
		f.entities[e.ExternalID] = &e
	}
	return entities, nil
}

func (f *fakeEntityBackend) Update(_ context.Context, e *models.Entity) error {
	stored := *e
	f.entities[e.ExternalID] = &stored
	return nil
}

func (f *fakeEntityBackend) TouchLastSeen(_ context.Context, _ []string, _ string) error { return nil }

func (f *fakeEntityBackend) ListRefsPage(_ context.Context, _ entity.Scope, afterID string, pageSize int) ([]models.EntityRef, error) {
	var refs []models.EntityRef
	for _, e := range f.entities {
		if afterID == "" || e.ID > afterID {
			refs = append(refs, models.EntityRef{ID: e.ID, ExternalID: e.ExternalID})
		}
	}
	if len(refs) > pageSize {
		refs = refs[:pageSize]
	}
	return refs, nil
}

func (f *fakeEntityBackend) DeleteByIDs(_ context.Context, ids []string) (int64, error) {
	var n int64
	for _, id := range ids {
		for extID, e := range f.entities {
			if e.ID == id {
				delete(f.entities, extID)
				n++
			}
		}
	}
	return n, nil
}

func (f *fakeEntityBackend) UpdateState(_ context.Context, id string, state models.EntityState) error {
	f.states[id] = state
	return nil
}

func (f *fakeEntityBackend) ListByIntegration(_ context.Context, tenantID, integration string) ([]models.Entity, error) {
	var out []models.Entity
	for _, e := range f.entities {
		if e.TenantID == tenantID && e.Integration == integration {
			out = append(out, *e)
		}
	}
	return out, nil
}

type fakeRelStore struct{}

func (fakeRelStore) ListByParents(_ context.Context, _, _ string, _ []string) ([]models.Relationship, error) {
	return nil, nil
}
func (fakeRelStore) ListByIntegration(_ context.Context, _, _ string) ([]models.Relationship, error) {
	return nil, nil
}
func (fakeRelStore) BulkInsert(_ context.Context, _, _ string, _ []models.DesiredEdge) error {
	return nil
}
func (fakeRelStore) Touch(_ context.Context, _ string, _ []byte) error        { return nil }
func (fakeRelStore) TouchAll(_ context.Context, _ []string) error             { return nil }
func (fakeRelStore) DeleteByIDs(_ context.Context, _ []string) (int64, error) { return 0, nil }

type fakeAlertApplier struct {
	calls    int
	rules    []string
	findings []models.Finding
}

func (f *fakeAlertApplier) Apply(_ context.Context, _, _ string, evaluatedRules []string, findings []models.Finding) (*alerting.Result, error) {
	f.calls++
	f.rules = evaluatedRules
	f.findings = findings
	return &alerting.Result{Created: len(findings)}, nil
}

type fakeTagStore struct{}

func (fakeTagStore) DeleteBySource(_ context.Context, _ []string, _ string) error { return nil }
func (fakeTagStore) BulkInsert(_ context.Context, _ []models.EntityTag) error     { return nil }

type fakeCounterStore struct {
	values map[string]string
}

func newFakeCounterStore() *fakeCounterStore {
	return &fakeCounterStore{values: map[string]string{}}
}

func (f *fakeCounterStore) Get(_ context.Context, key string) (string, error) {
	v, ok := f.values[key]
	if !ok {
		return "", goredis.Nil
	}
	return v, nil
}

func (f *fakeCounterStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, exists := f.values[key]; exists {
		return false, nil
	}
	f.values[key] = fmt.Sprintf("%v", value)
	return true, nil
}

func (f *fakeCounterStore) Incr(_ context.Context, key string) (int64, error) {
	var n int64
	fmt.Sscanf(f.values[key], "%d", &n)
	n++
	f.values[key] = fmt.Sprintf("%d", n)
	return n, nil
}

func (f *fakeCounterStore) Expire(_ context.Context, _ string, _ time.Duration) error { return nil }

func (f *fakeCounterStore) DelIfAllExist(_ context.Context, checkKeys, extraKeys []string) (bool, error) {
	for _, key := range checkKeys {
		if _, ok := f.values[key]; !ok {
			return false, nil
		}
	}
	for _, key := range checkKeys {
		delete(f.values, key)
	}
	for _, key := range extraKeys {
		delete(f.values, key)
	}
	return true, nil
}

type fakePublisher struct {
	published []*redis.JobMessage
	err       error
}

func (f *fakePublisher) Publish(_ context.Context, _ string, msg *redis.JobMessage) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.published = append(f.published, msg)
	return msg.ID, nil
}

type fakeEmitter struct {
	scopeProcessed []*events.ScopeProcessed
	completed      []*events.UnitCompleted
	failed         []*events.UnitFailed
	finalized      []*events.SyncFinalized
	stateChanges   []*events.EntityStateChanged
	pruned         []*events.EntitiesPruned
}

func (f *fakeEmitter) EmitScopeProcessed(_ context.Context, e *events.ScopeProcessed) error {
	f.scopeProcessed = append(f.scopeProcessed, e)
	return nil
}
func (f *fakeEmitter) EmitUnitCompleted(_ context.Context, e *events.UnitCompleted) error {
	f.completed = append(f.completed, e)
	return nil
}
func (f *fakeEmitter) EmitUnitFailed(_ context.Context, e *events.UnitFailed) error {
	f.failed = append(f.failed, e)
	return nil
}
func (f *fakeEmitter) EmitSyncFinalized(_ context.Context, e *events.SyncFinalized) error {
	f.finalized = append(f.finalized, e)
	return nil
}
func (f *fakeEmitter) EmitEntityStateChanged(_ context.Context, e *events.EntityStateChanged) error {
	f.stateChanges = append(f.stateChanges, e)
	return nil
}
func (f *fakeEmitter) EmitEntitiesPruned(_ context.Context, e *events.EntitiesPruned) error {
	f.pruned = append(f.pruned, e)
	return nil
}

type fakeAdapter struct {
	pages    [][]adapter.RawRecord
	err      error
	failures int
	calls    int
}

func (f *fakeAdapter) Integration() string { return "dattormm" }

func (f *fakeAdapter) FetchPage(_ context.Context, req *adapter.FetchRequest) (*adapter.Page, error) {
	if f.err != nil && (f.failures == 0 || f.calls < f.failures) {
		f.calls++
		return nil, f.err
	}
	idx := 0
	if req.Cursor != "" {
		fmt.Sscanf(req.Cursor, "%d", &idx)
	}
	f.calls++
	page := &adapter.Page{Records: f.pages[idx]}
	if idx+1 < len(f.pages) {
		page.NextCursor = fmt.Sprintf("%d", idx+1)
	}
	return page, nil
}

// ---- harness ----

type harness struct {
	worker    *SyncWorker
	units     *fakeUnitStore
	backend   *fakeEntityBackend
	emitter   *fakeEmitter
	alerts    *fakeAlertApplier
	counters  *fakeCounterStore
	publisher *fakePublisher
	analyzer  *analysis.Orchestrator
	tracker   *completion.Tracker
	finalizer *Finalizer
}

func newHarness(t *testing.T, a adapter.Adapter) *harness {
	t.Helper()
	logger := ectologger.NewEctoLogger(func(ectologger.EctoLogMessage) {})

	units := newFakeUnitStore()
	backend := newFakeEntityBackend()
	emitter := &fakeEmitter{}
	alerts := &fakeAlertApplier{}
	counters := newFakeCounterStore()
	publisher := &fakePublisher{}

	adapters := adapter.NewRegistry()
	require.NoError(t, adapters.Register(a))
	orchestrator := analysis.NewOrchestrator(logger)
	tracker := completion.NewTracker(counters, logger, time.Hour)
	finalizer := NewFinalizer(tracker, emitter, publisher, "jobs", logger)
	cycle := NewCycleAnalysis(
		backend,
		fakeRelStore{},
		orchestrator,
		alerts,
		tagging.NewApplier(fakeTagStore{}, logger, 100),
		emitter,
		logger,
	)

	w := NewSyncWorker(
		units,
		fakeConnectionStore{},
		adapters,
		linker.NewRegistry(),
		reconcile.NewEntities(backend, logger, 100, 500),
		reconcile.NewRelationships(fakeRelStore{}, logger, 100),
		backend,
		finalizer,
		cycle,
		emitter,
		logger,
	)

	return &harness{
		worker:    w,
		units:     units,
		backend:   backend,
		emitter:   emitter,
		alerts:    alerts,
		counters:  counters,
		publisher: publisher,
		analyzer:  orchestrator,
		tracker:   tracker,
		finalizer: finalizer,
	}
}

// testAnalyzer flags every entity with the configured state and tag
type testAnalyzer struct {
	id    string
	state models.EntityState
}

func (a *testAnalyzer) ID() string { return a.id }

func (a *testAnalyzer) AppliesTo(_ string) bool { return true }

func (a *testAnalyzer) Analyze(_ context.Context, in *analysis.Input) (*analysis.Output, error) {
	out := &analysis.Output{
		States: map[string]models.EntityState{},
		Tags:   map[string][]string{},
	}
	for i := range in.Entities {
		e := &in.Entities[i]
		out.States[e.ID] = a.state
		out.Tags[e.ID] = []string{"flagged"}
		out.Findings = append(out.Findings, models.Finding{
			EntityID:    &e.ID,
			RuleID:      a.id,
			Fingerprint: analysis.Fingerprint(a.id, e),
			Severity:    models.AlertSeverityWarn,
			Title:       "flagged",
		})
	}
	return out, nil
}

func queuedUnit(entityType string) *models.WorkUnit {
	connID := "conn-1"
	return &models.WorkUnit{
		ID:           uuid.NewString(),
		TenantID:     "tenant-1",
		Integration:  "dattormm",
		EntityType:   entityType,
		ConnectionID: &connID,
		Status:       models.WorkUnitStatusQueued,
		Trigger:      models.WorkUnitTriggerScheduled,
		SyncID:       "sync-1",
	}
}

func syncJob(unitID string) *redis.JobMessage {
	payload, _ := json.Marshal(scheduler.SyncJobPayload{WorkUnitID: unitID})
	return &redis.JobMessage{
		ID:       uuid.NewString(),
		TenantID: "tenant-1",
		Type:     scheduler.JobTypeSync,
		Payload:  payload,
	}
}

func analysisJob(tenantID, integration string) *redis.JobMessage {
	payload, _ := json.Marshal(AnalysisJobPayload{
		TenantID:    tenantID,
		Integration: integration,
		SyncID:      "sync-1",
	})
	return &redis.JobMessage{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		Type:     JobTypeAnalysis,
		Payload:  payload,
	}
}

// ---- tests ----

func TestHandleJobHappyPath(t *testing.T) {
	a := &fakeAdapter{pages: [][]adapter.RawRecord{
		{
			{ExternalID: "comp-1", Payload: json.RawMessage(`{"name":"Acme"}`)},
			{ExternalID: "comp-2", Payload: json.RawMessage(`{"name":"Globex"}`)},
		},
	}}
	h := newHarness(t, a)

	unit := queuedUnit("company")
	h.units.add(unit)

	require.NoError(t, h.worker.HandleJob(context.Background(), syncJob(unit.ID)))

	assert.Equal(t, models.WorkUnitStatusCompleted, h.units.units[unit.ID].Status)
	assert.Len(t, h.backend.entities, 2)
	assert.Len(t, h.emitter.completed, 1)
	// company is a parent kind, so fan-out gets announced
	require.Len(t, h.emitter.scopeProcessed, 1)
	assert.Len(t, h.emitter.scopeProcessed[0].Scopes, 2)
	// the endpoint kind is still open, so the cycle is not finalized
	assert.Empty(t, h.emitter.finalized)
	// next scheduled pass is created
	require.NotEmpty(t, h.units.created)
	assert.Equal(t, "company", h.units.created[0].EntityType)
}

func TestHandleJobPaginatedFetch(t *testing.T) {
	a := &fakeAdapter{pages: [][]adapter.RawRecord{
		{{ExternalID: "comp-1", Payload: json.RawMessage(`{"n":1}`)}},
		{{ExternalID: "comp-2", Payload: json.RawMessage(`{"n":2}`)}},
		{{ExternalID: "comp-3", Payload: json.RawMessage(`{"n":3}`)}},
	}}
	h := newHarness(t, a)

	unit := queuedUnit("company")
	h.units.add(unit)

	require.NoError(t, h.worker.HandleJob(context.Background(), syncJob(unit.ID)))

	assert.Equal(t, 3, a.calls)
	assert.Len(t, h.backend.entities, 3)
	assert.Equal(t, models.WorkUnitStatusCompleted, h.units.units[unit.ID].Status)
}

func TestHandleJobDoubleDispatchRunsOnce(t *testing.T) {
	a := &fakeAdapter{pages: [][]adapter.RawRecord{
		{{ExternalID: "comp-1", Payload: json.RawMessage(`{"n":1}`)}},
	}}
	h := newHarness(t, a)

	unit := queuedUnit("company")
	h.units.add(unit)
	ctx := context.Background()

	require.NoError(t, h.worker.HandleJob(ctx, syncJob(unit.ID)))
	// a second dispatch of the same unit is acked without executing
	require.NoError(t, h.worker.HandleJob(ctx, syncJob(unit.ID)))

	assert.Equal(t, 1, h.units.runs)
	assert.Len(t, h.emitter.completed, 1)
}

func TestHandleJobFetchFailureReturnsError(t *testing.T) {
	a := &fakeAdapter{err: errors.New("upstream 503")}
	h := newHarness(t, a)

	unit := queuedUnit("company")
	h.units.add(unit)

	// the error surfaces to the processor so queue retries engage
	err := h.worker.HandleJob(context.Background(), syncJob(unit.ID))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream 503")

	stored := h.units.units[unit.ID]
	assert.Equal(t, models.WorkUnitStatusFailed, stored.Status)
	require.NotNil(t, stored.Error)
	assert.Contains(t, *stored.Error, "upstream 503")
	assert.Len(t, h.emitter.failed, 1)
	// nothing was pruned or written, and the worker does not reschedule a
	// failed unit itself
	assert.Empty(t, h.backend.entities)
	assert.Empty(t, h.units.created)
}

func TestHandleJobFailedUnitRerunsOnRedelivery(t *testing.T) {
	a := &fakeAdapter{
		err:      errors.New("upstream 503"),
		failures: 1,
		pages: [][]adapter.RawRecord{
			{{ExternalID: "comp-1", Payload: json.RawMessage(`{"n":1}`)}},
		},
	}
	h := newHarness(t, a)

	unit := queuedUnit("company")
	h.units.add(unit)
	ctx := context.Background()

	require.Error(t, h.worker.HandleJob(ctx, syncJob(unit.ID)))
	assert.Equal(t, models.WorkUnitStatusFailed, h.units.units[unit.ID].Status)

	// the queue redelivers the same job and the unit runs again
	require.NoError(t, h.worker.HandleJob(ctx, syncJob(unit.ID)))
	assert.Equal(t, models.WorkUnitStatusCompleted, h.units.units[unit.ID].Status)
	assert.Len(t, h.backend.entities, 1)
}

func TestHandleJobChildAloneDoesNotFinalizeCycle(t *testing.T) {
	a := &fakeAdapter{pages: [][]adapter.RawRecord{
		{{ExternalID: "dev-1", ExternalSiteID: "comp-1", Payload: json.RawMessage(`{"hostname":"web-01"}`)}},
	}}
	h := newHarness(t, a)

	site := "comp-1"
	unit := queuedUnit("endpoint")
	unit.SiteID = &site
	unit.Trigger = models.WorkUnitTriggerFanOut
	h.units.add(unit)
	ctx := context.Background()

	require.NoError(t, h.tracker.Expect(ctx, completion.Key{
		TenantID:    "tenant-1",
		Integration: "dattormm",
		EntityType:  "endpoint",
	}, 1))

	require.NoError(t, h.worker.HandleJob(ctx, syncJob(unit.ID)))

	assert.Equal(t, models.WorkUnitStatusCompleted, h.units.units[unit.ID].Status)
	// the company kind has not reported done, so the cycle stays open
	assert.Empty(t, h.emitter.finalized)
	assert.Empty(t, h.publisher.published)
	// fan-out children are not self-rescheduling
	assert.Empty(t, h.units.created)
}

func TestHandleJobLastKindFinalizesCycle(t *testing.T) {
	a := &fakeAdapter{pages: [][]adapter.RawRecord{
		{{ExternalID: "dev-1", ExternalSiteID: "comp-1", Payload: json.RawMessage(`{"hostname":"web-01"}`)}},
	}}
	h := newHarness(t, a)
	ctx := context.Background()

	// the company pass already reported done and one endpoint child is
	// expected
	_, err := h.tracker.MarkComplete(ctx, completion.Key{
		TenantID:    "tenant-1",
		Integration: "dattormm",
		EntityType:  "company",
	})
	require.NoError(t, err)
	require.NoError(t, h.tracker.Expect(ctx, completion.Key{
		TenantID:    "tenant-1",
		Integration: "dattormm",
		EntityType:  "endpoint",
	}, 1))

	site := "comp-1"
	unit := queuedUnit("endpoint")
	unit.SiteID = &site
	unit.Trigger = models.WorkUnitTriggerFanOut
	h.units.add(unit)

	require.NoError(t, h.worker.HandleJob(ctx, syncJob(unit.ID)))

	assert.Equal(t, models.WorkUnitStatusCompleted, h.units.units[unit.ID].Status)
	require.Len(t, h.emitter.finalized, 1)
	assert.Equal(t, "sync-1", h.emitter.finalized[0].SyncID)
	// the finalized cycle queues its analysis run
	require.Len(t, h.publisher.published, 1)
	assert.Equal(t, JobTypeAnalysis, h.publisher.published[0].Type)

	var payload AnalysisJobPayload
	require.NoError(t, json.Unmarshal(h.publisher.published[0].Payload, &payload))
	assert.Equal(t, "dattormm", payload.Integration)
	assert.Equal(t, "tenant-1", payload.TenantID)
}

func TestHandleJobSyncDoesNotApplyAlerts(t *testing.T) {
	a := &fakeAdapter{pages: [][]adapter.RawRecord{
		{{ExternalID: "comp-1", Payload: json.RawMessage(`{"name":"Acme"}`)}},
	}}
	h := newHarness(t, a)
	h.analyzer.Register(&testAnalyzer{id: "test-rule", state: models.EntityStateWarn})

	unit := queuedUnit("company")
	h.units.add(unit)

	require.NoError(t, h.worker.HandleJob(context.Background(), syncJob(unit.ID)))

	// alerts only converge in the cycle analysis job, never per unit; a
	// single site's pass must not resolve alerts raised by other sites
	assert.Equal(t, 0, h.alerts.calls)
	assert.Empty(t, h.emitter.stateChanges)
}

func TestHandleJobAnalysisJobRunsCycle(t *testing.T) {
	h := newHarness(t, &fakeAdapter{})
	h.analyzer.Register(&testAnalyzer{id: "test-rule", state: models.EntityStateWarn})
	ctx := context.Background()

	_, err := h.backend.BulkInsert(ctx, []models.Entity{
		{ExternalID: "comp-1", TenantID: "tenant-1", Integration: "dattormm", EntityType: "company"},
		{ExternalID: "dev-1", TenantID: "tenant-1", Integration: "dattormm", EntityType: "endpoint"},
	})
	require.NoError(t, err)

	require.NoError(t, h.worker.HandleJob(ctx, analysisJob("tenant-1", "dattormm")))

	// alerts converge once over the whole integration
	assert.Equal(t, 1, h.alerts.calls)
	assert.Equal(t, []string{"test-rule"}, h.alerts.rules)
	assert.Len(t, h.alerts.findings, 2)
	// both entities moved from normal to warn
	require.Len(t, h.emitter.stateChanges, 2)
	assert.Equal(t, string(models.EntityStateNormal), h.emitter.stateChanges[0].Previous)
	assert.Equal(t, string(models.EntityStateWarn), h.emitter.stateChanges[0].Current)
	assert.Len(t, h.backend.states, 2)
	for _, state := range h.backend.states {
		assert.Equal(t, models.EntityStateWarn, state)
	}
}

func TestHandleJobPruneEmitsEvent(t *testing.T) {
	a := &fakeAdapter{pages: [][]adapter.RawRecord{
		{{ExternalID: "comp-1", Payload: json.RawMessage(`{"name":"Acme"}`)}},
	}}
	h := newHarness(t, a)

	// a record from an earlier pass that the upstream no longer returns
	_, err := h.backend.BulkInsert(context.Background(), []models.Entity{
		{ExternalID: "comp-gone", TenantID: "tenant-1", Integration: "dattormm", EntityType: "company"},
	})
	require.NoError(t, err)

	unit := queuedUnit("company")
	h.units.add(unit)

	require.NoError(t, h.worker.HandleJob(context.Background(), syncJob(unit.ID)))

	assert.Equal(t, models.WorkUnitStatusCompleted, h.units.units[unit.ID].Status)
	require.Len(t, h.emitter.pruned, 1)
	assert.Equal(t, 1, h.emitter.pruned[0].Count)
	_, stillThere := h.backend.entities["comp-gone"]
	assert.False(t, stillThere)
}

func TestHandleJobUnknownTypeIgnored(t *testing.T) {
	h := newHarness(t, &fakeAdapter{})

	err := h.worker.HandleJob(context.Background(), &redis.JobMessage{Type: "unknown"})
	assert.NoError(t, err)
}
