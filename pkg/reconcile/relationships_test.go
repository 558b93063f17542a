package reconcile

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/bramble/pkg/models"
)

type fakeRelationshipStore struct {
	edges map[string]*models.Relationship // keyed by edge key

	touched  int
	metaSets int
}

func newFakeRelationshipStore() *fakeRelationshipStore {
	return &fakeRelationshipStore{edges: map[string]*models.Relationship{}}
}

func (f *fakeRelationshipStore) ListByParents(_ context.Context, _, _ string, parentIDs []string) ([]models.Relationship, error) {
	parents := map[string]struct{}{}
	for _, id := range parentIDs {
		parents[id] = struct{}{}
	}
	var out []models.Relationship
	for _, e := range f.edges {
		if _, ok := parents[e.ParentEntityID]; ok {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeRelationshipStore) BulkInsert(_ context.Context, tenantID, integration string, edges []models.DesiredEdge) error {
	for _, e := range edges {
		rel := &models.Relationship{
			ID:               uuid.NewString(),
			TenantID:         tenantID,
			Integration:      integration,
			ParentEntityID:   e.ParentEntityID,
			ChildEntityID:    e.ChildEntityID,
			RelationshipType: e.RelationshipType,
			Metadata:         e.Metadata,
		}
		f.edges[rel.EdgeKey()] = rel
	}
	return nil
}

func (f *fakeRelationshipStore) Touch(_ context.Context, id string, metadata []byte) error {
	f.metaSets++
	for _, e := range f.edges {
		if e.ID == id {
			e.Metadata = metadata
		}
	}
	return nil
}

func (f *fakeRelationshipStore) TouchAll(_ context.Context, ids []string) error {
	f.touched += len(ids)
	return nil
}

func (f *fakeRelationshipStore) DeleteByIDs(_ context.Context, ids []string) (int64, error) {
	var n int64
	for _, id := range ids {
		for key, e := range f.edges {
			if e.ID == id {
				delete(f.edges, key)
				n++
			}
		}
	}
	return n, nil
}

func edge(parent, child, relType string) models.DesiredEdge {
	return models.DesiredEdge{ParentEntityID: parent, ChildEntityID: child, RelationshipType: relType}
}

func TestRelationshipReconcileCreatesMissingEdges(t *testing.T) {
	store := newFakeRelationshipStore()
	r := NewRelationships(store, testLogger(), 100)

	result, err := r.Reconcile(context.Background(), "tenant-1", "dattormm",
		[]string{"company-1"},
		[]models.DesiredEdge{
			edge("company-1", "endpoint-1", "manages"),
			edge("company-1", "endpoint-2", "manages"),
		})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Created)
	assert.Equal(t, 0, result.Touched)
	assert.Equal(t, 0, result.Removed)
	assert.Len(t, store.edges, 2)
}

func TestRelationshipReconcileRemovesStaleEdges(t *testing.T) {
	store := newFakeRelationshipStore()
	r := NewRelationships(store, testLogger(), 100)
	ctx := context.Background()

	_, err := r.Reconcile(ctx, "tenant-1", "dattormm", []string{"company-1"},
		[]models.DesiredEdge{
			edge("company-1", "endpoint-1", "manages"),
			edge("company-1", "endpoint-2", "manages"),
		})
	require.NoError(t, err)

	result, err := r.Reconcile(ctx, "tenant-1", "dattormm", []string{"company-1"},
		[]models.DesiredEdge{
			edge("company-1", "endpoint-1", "manages"),
		})
	require.NoError(t, err)

	assert.Equal(t, 0, result.Created)
	assert.Equal(t, 1, result.Touched)
	assert.Equal(t, 1, result.Removed)
	assert.Len(t, store.edges, 1)
}

func TestRelationshipReconcileUncoveredParentsUntouched(t *testing.T) {
	store := newFakeRelationshipStore()
	r := NewRelationships(store, testLogger(), 100)
	ctx := context.Background()

	_, err := r.Reconcile(ctx, "tenant-1", "dattormm", []string{"company-1", "company-2"},
		[]models.DesiredEdge{
			edge("company-1", "endpoint-1", "manages"),
			edge("company-2", "endpoint-2", "manages"),
		})
	require.NoError(t, err)

	// a pass that only covers company-1 must not remove company-2's edges
	result, err := r.Reconcile(ctx, "tenant-1", "dattormm", []string{"company-1"},
		[]models.DesiredEdge{})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Removed)
	assert.Len(t, store.edges, 1)
	_, exists := store.edges["company-2:endpoint-2:manages"]
	assert.True(t, exists)
}

func TestRelationshipReconcileTypeIsPartOfIdentity(t *testing.T) {
	store := newFakeRelationshipStore()
	r := NewRelationships(store, testLogger(), 100)
	ctx := context.Background()

	_, err := r.Reconcile(ctx, "tenant-1", "dattormm", []string{"company-1"},
		[]models.DesiredEdge{edge("company-1", "endpoint-1", "manages")})
	require.NoError(t, err)

	result, err := r.Reconcile(ctx, "tenant-1", "dattormm", []string{"company-1"},
		[]models.DesiredEdge{edge("company-1", "endpoint-1", "monitors")})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 1, result.Removed)
	assert.Len(t, store.edges, 1)
	_, exists := store.edges["company-1:endpoint-1:monitors"]
	assert.True(t, exists)
}

func TestRelationshipReconcileMetadataChangeRidesTouch(t *testing.T) {
	store := newFakeRelationshipStore()
	r := NewRelationships(store, testLogger(), 100)
	ctx := context.Background()

	withMeta := edge("company-1", "endpoint-1", "manages")
	withMeta.Metadata = json.RawMessage(`{"role":"primary"}`)
	_, err := r.Reconcile(ctx, "tenant-1", "dattormm", []string{"company-1"}, []models.DesiredEdge{withMeta})
	require.NoError(t, err)

	changed := withMeta
	changed.Metadata = json.RawMessage(`{"role":"secondary"}`)
	result, err := r.Reconcile(ctx, "tenant-1", "dattormm", []string{"company-1"}, []models.DesiredEdge{changed})
	require.NoError(t, err)

	assert.Equal(t, 0, result.Created)
	assert.Equal(t, 1, result.Touched)
	assert.Equal(t, 1, store.metaSets)
	stored := store.edges["company-1:endpoint-1:manages"]
	assert.JSONEq(t, `{"role":"secondary"}`, string(stored.Metadata))
}

func TestRelationshipReconcileIdempotentSecondPass(t *testing.T) {
	store := newFakeRelationshipStore()
	r := NewRelationships(store, testLogger(), 100)
	ctx := context.Background()

	desired := []models.DesiredEdge{
		edge("company-1", "endpoint-1", "manages"),
		edge("company-1", "endpoint-2", "manages"),
	}

	_, err := r.Reconcile(ctx, "tenant-1", "dattormm", []string{"company-1"}, desired)
	require.NoError(t, err)

	result, err := r.Reconcile(ctx, "tenant-1", "dattormm", []string{"company-1"}, desired)
	require.NoError(t, err)

	assert.Equal(t, 0, result.Created)
	assert.Equal(t, 2, result.Touched)
	assert.Equal(t, 0, result.Removed)
	assert.Equal(t, 2, store.touched)
}
