package reconcile

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/bramble/pkg/metrics"
	"github.com/Ramsey-B/bramble/pkg/models"
	"github.com/Ramsey-B/bramble/pkg/tracing"
)

// RelationshipStore is the persistence surface the relationship reconciler needs
type RelationshipStore interface {
	ListByParents(ctx context.Context, tenantID, integration string, parentIDs []string) ([]models.Relationship, error)
	BulkInsert(ctx context.Context, tenantID, integration string, edges []models.DesiredEdge) error
	Touch(ctx context.Context, id string, metadata []byte) error
	TouchAll(ctx context.Context, ids []string) error
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
}

// RelationshipResult summarizes one edge reconciliation
type RelationshipResult struct {
	Created int
	Touched int
	Removed int
}

// Relationships diffs desired edges against stored edges per covered parent
type Relationships struct {
	store     RelationshipStore
	logger    ectologger.Logger
	chunkSize int
}

// NewRelationships creates a relationship reconciler
func NewRelationships(store RelationshipStore, logger ectologger.Logger, chunkSize int) *Relationships {
	if chunkSize < 1 {
		chunkSize = 100
	}
	return &Relationships{store: store, logger: logger, chunkSize: chunkSize}
}

// Reconcile converges stored edges onto the desired set. Only edges under
// parents covered by the desired set are considered: an edge whose parent
// appears in coveredParents but which is absent from desired is removed.
// Surviving edges get a last-seen touch; metadata changes ride the touch.
func (r *Relationships) Reconcile(ctx context.Context, tenantID, integration string, coveredParents []string, desired []models.DesiredEdge) (*RelationshipResult, error) {
	ctx, span := tracing.StartSpan(ctx, "reconcile.Relationships.Reconcile")
	defer span.End()

	result := &RelationshipResult{}

	existing, err := r.store.ListByParents(ctx, tenantID, integration, coveredParents)
	if err != nil {
		return nil, err
	}
	existingByKey := make(map[string]*models.Relationship, len(existing))
	for i := range existing {
		existingByKey[existing[i].EdgeKey()] = &existing[i]
	}

	desiredKeys := make(map[string]struct{}, len(desired))
	var toCreate []models.DesiredEdge
	var toTouch []string
	for i := range desired {
		edge := &desired[i]
		key := edge.EdgeKey()
		if _, dup := desiredKeys[key]; dup {
			continue
		}
		desiredKeys[key] = struct{}{}

		stored, exists := existingByKey[key]
		if !exists {
			toCreate = append(toCreate, *edge)
			continue
		}

		if edge.Metadata != nil && string(edge.Metadata) != string(stored.Metadata) {
			if err := r.store.Touch(ctx, stored.ID, edge.Metadata); err != nil {
				return nil, err
			}
		} else {
			toTouch = append(toTouch, stored.ID)
		}
		result.Touched++
	}

	var toRemove []string
	for key, stored := range existingByKey {
		if _, wanted := desiredKeys[key]; !wanted {
			toRemove = append(toRemove, stored.ID)
		}
	}

	for start := 0; start < len(toCreate); start += r.chunkSize {
		end := start + r.chunkSize
		if end > len(toCreate) {
			end = len(toCreate)
		}
		if err := r.store.BulkInsert(ctx, tenantID, integration, toCreate[start:end]); err != nil {
			return nil, err
		}
	}
	result.Created = len(toCreate)

	for start := 0; start < len(toTouch); start += r.chunkSize {
		end := start + r.chunkSize
		if end > len(toTouch) {
			end = len(toTouch)
		}
		if err := r.store.TouchAll(ctx, toTouch[start:end]); err != nil {
			return nil, err
		}
	}

	for start := 0; start < len(toRemove); start += r.chunkSize {
		end := start + r.chunkSize
		if end > len(toRemove) {
			end = len(toRemove)
		}
		n, err := r.store.DeleteByIDs(ctx, toRemove[start:end])
		if err != nil {
			return nil, err
		}
		result.Removed += int(n)
	}

	metrics.RecordRelationshipAction(integration, "created", result.Created)
	metrics.RecordRelationshipAction(integration, "touched", result.Touched)
	metrics.RecordRelationshipAction(integration, "removed", result.Removed)

	return result, nil
}
