package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/bramble/internal/repositories/entity"
	"github.com/Ramsey-B/bramble/pkg/adapter"
	"github.com/Ramsey-B/bramble/pkg/models"
)

type fakeEntityStore struct {
	entities map[string]*models.Entity // keyed by external id

	updates int
	touches int
	deletes []string
}

func newFakeEntityStore() *fakeEntityStore {
	return &fakeEntityStore{entities: map[string]*models.Entity{}}
}

func (f *fakeEntityStore) GetByExternalIDs(_ context.Context, _ entity.Scope, externalIDs []string) ([]models.Entity, error) {
	var out []models.Entity
	for _, extID := range externalIDs {
		if e, ok := f.entities[extID]; ok {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeEntityStore) BulkInsert(_ context.Context, entities []models.Entity) ([]models.Entity, error) {
	for i := range entities {
		entities[i].ID = uuid.NewString()
		e := entities[i]
		f.entities[e.ExternalID] = &e
	}
	return entities, nil
}

func (f *fakeEntityStore) Update(_ context.Context, e *models.Entity) error {
	f.updates++
	stored := *e
	f.entities[e.ExternalID] = &stored
	return nil
}

func (f *fakeEntityStore) TouchLastSeen(_ context.Context, ids []string, syncID string) error {
	f.touches += len(ids)
	for _, e := range f.entities {
		for _, id := range ids {
			if e.ID == id {
				e.SyncID = syncID
			}
		}
	}
	return nil
}

func (f *fakeEntityStore) ListRefsPage(_ context.Context, _ entity.Scope, afterID string, pageSize int) ([]models.EntityRef, error) {
	var refs []models.EntityRef
	for _, e := range f.entities {
		refs = append(refs, models.EntityRef{ID: e.ID, ExternalID: e.ExternalID})
	}
	// deterministic order by id
	for i := 0; i < len(refs); i++ {
		for j := i + 1; j < len(refs); j++ {
			if refs[j].ID < refs[i].ID {
				refs[i], refs[j] = refs[j], refs[i]
			}
		}
	}
	start := 0
	if afterID != "" {
		for i, ref := range refs {
			if ref.ID > afterID {
				start = i
				break
			}
			start = i + 1
		}
	}
	end := start + pageSize
	if end > len(refs) {
		end = len(refs)
	}
	if start >= len(refs) {
		return nil, nil
	}
	return refs[start:end], nil
}

func (f *fakeEntityStore) DeleteByIDs(_ context.Context, ids []string) (int64, error) {
	f.deletes = append(f.deletes, ids...)
	for _, id := range ids {
		for extID, e := range f.entities {
			if e.ID == id {
				delete(f.entities, extID)
			}
		}
	}
	return int64(len(ids)), nil
}

func testScope() entity.Scope {
	return entity.Scope{
		TenantID:    "tenant-1",
		Integration: "dattormm",
		EntityType:  "endpoint",
	}
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(ectologger.EctoLogMessage) {})
}

func record(extID string, payload string) adapter.RawRecord {
	return adapter.RawRecord{ExternalID: extID, Payload: json.RawMessage(payload)}
}

func TestReconcileBatchCreatesNewEntities(t *testing.T) {
	store := newFakeEntityStore()
	r := NewEntities(store, testLogger(), 100, 500)

	result, err := r.ReconcileBatch(context.Background(), testScope(), "sync-1", []adapter.RawRecord{
		record("ext-a", `{"hostname":"web-01"}`),
		record("ext-b", `{"hostname":"web-02"}`),
		record("ext-c", `{"hostname":"web-03"}`),
	})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Created)
	assert.Equal(t, 0, result.Updated)
	assert.Equal(t, 0, result.Touched)
	assert.Len(t, result.Entities, 3)
	for _, e := range result.Entities {
		assert.NotEmpty(t, e.ID)
		assert.Equal(t, "sync-1", e.SyncID)
	}
}

func TestReconcileBatchSecondPassOnlyTouches(t *testing.T) {
	store := newFakeEntityStore()
	r := NewEntities(store, testLogger(), 100, 500)
	ctx := context.Background()

	records := []adapter.RawRecord{
		record("ext-a", `{"hostname":"web-01"}`),
		record("ext-b", `{"hostname":"web-02"}`),
	}

	_, err := r.ReconcileBatch(ctx, testScope(), "sync-1", records)
	require.NoError(t, err)

	result, err := r.ReconcileBatch(ctx, testScope(), "sync-2", records)
	require.NoError(t, err)

	assert.Equal(t, 0, result.Created)
	assert.Equal(t, 0, result.Updated)
	assert.Equal(t, 2, result.Touched)
	assert.Equal(t, 0, store.updates)
	assert.Equal(t, 2, store.touches)
}

func TestReconcileBatchMixedCreateUpdateTouch(t *testing.T) {
	store := newFakeEntityStore()
	r := NewEntities(store, testLogger(), 100, 500)
	ctx := context.Background()

	_, err := r.ReconcileBatch(ctx, testScope(), "sync-1", []adapter.RawRecord{
		record("ext-a", `{"hostname":"web-01","os":"linux"}`),
		record("ext-b", `{"hostname":"web-02"}`),
	})
	require.NoError(t, err)

	// A changes, B is unchanged, C is new
	result, err := r.ReconcileBatch(ctx, testScope(), "sync-2", []adapter.RawRecord{
		record("ext-a", `{"hostname":"web-01","os":"windows"}`),
		record("ext-b", `{"hostname":"web-02"}`),
		record("ext-c", `{"hostname":"web-03"}`),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 1, result.Touched)
	assert.Equal(t, 1, store.updates)

	// surrogate id survives the update
	assert.Equal(t, result.Entities[0].ID, store.entities["ext-a"].ID)
}

func TestReconcileBatchKeyOrderDoesNotCauseUpdate(t *testing.T) {
	store := newFakeEntityStore()
	r := NewEntities(store, testLogger(), 100, 500)
	ctx := context.Background()

	_, err := r.ReconcileBatch(ctx, testScope(), "sync-1", []adapter.RawRecord{
		record("ext-a", `{"a":1,"b":2}`),
	})
	require.NoError(t, err)

	result, err := r.ReconcileBatch(ctx, testScope(), "sync-2", []adapter.RawRecord{
		record("ext-a", `{"b":2,"a":1}`),
	})
	require.NoError(t, err)

	assert.Equal(t, 0, result.Updated)
	assert.Equal(t, 1, result.Touched)
}

func TestReconcileBatchDuplicateExternalIDFails(t *testing.T) {
	store := newFakeEntityStore()
	r := NewEntities(store, testLogger(), 100, 500)

	_, err := r.ReconcileBatch(context.Background(), testScope(), "sync-1", []adapter.RawRecord{
		record("ext-a", `{"n":1}`),
		record("ext-a", `{"n":2}`),
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate external id")
	assert.Empty(t, store.entities)
}

func TestReconcileBatchDisplayNameFallback(t *testing.T) {
	store := newFakeEntityStore()
	r := NewEntities(store, testLogger(), 100, 500)

	result, err := r.ReconcileBatch(context.Background(), testScope(), "sync-1", []adapter.RawRecord{
		record("ext-a", `{"displayName":"Web Server 01"}`),
		record("ext-b", `{"hostname":"web-02"}`),
		record("ext-c", `{"irrelevant":true}`),
	})
	require.NoError(t, err)

	assert.Equal(t, "Web Server 01", result.Entities[0].DisplayName)
	assert.Equal(t, "web-02", result.Entities[1].DisplayName)
	assert.Equal(t, "ext-c", result.Entities[2].DisplayName)
}

func TestPruneDeletesOnlyUnseen(t *testing.T) {
	store := newFakeEntityStore()
	r := NewEntities(store, testLogger(), 100, 500)
	ctx := context.Background()

	_, err := r.ReconcileBatch(ctx, testScope(), "sync-1", []adapter.RawRecord{
		record("ext-a", `{"n":1}`),
		record("ext-b", `{"n":2}`),
		record("ext-c", `{"n":3}`),
	})
	require.NoError(t, err)

	seen := map[string]struct{}{"ext-a": {}, "ext-c": {}}
	pruned, err := r.Prune(ctx, testScope(), seen)
	require.NoError(t, err)

	assert.Equal(t, int64(1), pruned)
	assert.Contains(t, store.entities, "ext-a")
	assert.NotContains(t, store.entities, "ext-b")
	assert.Contains(t, store.entities, "ext-c")
}

func TestPrunePagesThroughLargeScopes(t *testing.T) {
	store := newFakeEntityStore()
	// page size 10 forces multiple scan pages
	r := NewEntities(store, testLogger(), 100, 10)
	ctx := context.Background()

	var records []adapter.RawRecord
	for i := 0; i < 35; i++ {
		records = append(records, record(fmt.Sprintf("ext-%02d", i), fmt.Sprintf(`{"n":%d}`, i)))
	}
	_, err := r.ReconcileBatch(ctx, testScope(), "sync-1", records)
	require.NoError(t, err)

	// keep only the even ones
	seen := map[string]struct{}{}
	for i := 0; i < 35; i += 2 {
		seen[fmt.Sprintf("ext-%02d", i)] = struct{}{}
	}

	pruned, err := r.Prune(ctx, testScope(), seen)
	require.NoError(t, err)
	assert.Equal(t, int64(17), pruned)
	assert.Len(t, store.entities, 18)
}

func TestPruneWithEmptySeenSetDeletesEverything(t *testing.T) {
	store := newFakeEntityStore()
	r := NewEntities(store, testLogger(), 100, 500)
	ctx := context.Background()

	_, err := r.ReconcileBatch(ctx, testScope(), "sync-1", []adapter.RawRecord{
		record("ext-a", `{"n":1}`),
	})
	require.NoError(t, err)

	pruned, err := r.Prune(ctx, testScope(), map[string]struct{}{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)
	assert.Empty(t, store.entities)
}

func TestReconcileBatchSiteMoveUpdatesInPlace(t *testing.T) {
	store := newFakeEntityStore()
	r := NewEntities(store, testLogger(), 100, 500)
	ctx := context.Background()

	siteA := "site-a"
	scopeA := testScope()
	scopeA.SiteID = &siteA
	recA := record("ext-a", `{"hostname":"web-01"}`)
	recA.ExternalSiteID = "ext-site-a"

	first, err := r.ReconcileBatch(ctx, scopeA, "sync-1", []adapter.RawRecord{recA})
	require.NoError(t, err)
	require.Equal(t, 1, first.Created)
	originalID := first.Entities[0].ID

	// the same endpoint reappears under another site
	siteB := "site-b"
	scopeB := testScope()
	scopeB.SiteID = &siteB
	recB := record("ext-a", `{"hostname":"web-01"}`)
	recB.ExternalSiteID = "ext-site-b"

	second, err := r.ReconcileBatch(ctx, scopeB, "sync-2", []adapter.RawRecord{recB})
	require.NoError(t, err)

	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 1, second.Updated)
	require.Len(t, second.Entities, 1)
	assert.Equal(t, originalID, second.Entities[0].ID)
	require.NotNil(t, second.Entities[0].SiteID)
	assert.Equal(t, "site-b", *second.Entities[0].SiteID)
}
