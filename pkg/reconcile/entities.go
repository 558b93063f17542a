// Package reconcile converges stored entities and relationships onto what a
// sync pass observed. Writes are chunked and idempotent; a re-run of the
// same pass only refreshes timestamps.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/bramble/internal/repositories/entity"
	"github.com/Ramsey-B/bramble/pkg/adapter"
	"github.com/Ramsey-B/bramble/pkg/fingerprint"
	"github.com/Ramsey-B/bramble/pkg/metrics"
	"github.com/Ramsey-B/bramble/pkg/models"
	"github.com/Ramsey-B/bramble/pkg/tracing"
)

// EntityStore is the persistence surface the entity reconciler needs
type EntityStore interface {
	GetByExternalIDs(ctx context.Context, scope entity.Scope, externalIDs []string) ([]models.Entity, error)
	BulkInsert(ctx context.Context, entities []models.Entity) ([]models.Entity, error)
	Update(ctx context.Context, e *models.Entity) error
	TouchLastSeen(ctx context.Context, ids []string, syncID string) error
	ListRefsPage(ctx context.Context, scope entity.Scope, afterID string, pageSize int) ([]models.EntityRef, error)
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
}

// EntityResult summarizes one reconciliation batch
type EntityResult struct {
	Created int
	Updated int
	Touched int
	// Entities holds every reconciled entity with its surrogate id, in
	// record order, for downstream linking and analysis
	Entities []models.Entity
}

// Entities reconciles fetched records against stored entities
type Entities struct {
	store     EntityStore
	logger    ectologger.Logger
	chunkSize int
	pruneSize int
}

// NewEntities creates an entity reconciler
func NewEntities(store EntityStore, logger ectologger.Logger, chunkSize, pruneSize int) *Entities {
	if chunkSize < 1 {
		chunkSize = 100
	}
	if pruneSize < 1 {
		pruneSize = 500
	}
	return &Entities{store: store, logger: logger, chunkSize: chunkSize, pruneSize: pruneSize}
}

// hashRecord fingerprints the fields that constitute entity content. Display
// name changes count as content changes.
func hashRecord(rec *adapter.RawRecord, displayName string) (string, error) {
	var payload any
	if len(rec.Payload) > 0 {
		if err := json.Unmarshal(rec.Payload, &payload); err != nil {
			return "", err
		}
	}
	return fingerprint.Generate(map[string]any{
		"data":         payload,
		"display_name": displayName,
		"site":         rec.ExternalSiteID,
	})
}

// ReconcileBatch converges one fetched batch: new external ids are created,
// changed content is rewritten, unchanged records get a last-seen touch.
// A duplicate external id within the batch fails the whole batch.
func (r *Entities) ReconcileBatch(ctx context.Context, scope entity.Scope, syncID string, records []adapter.RawRecord) (*EntityResult, error) {
	ctx, span := tracing.StartSpan(ctx, "reconcile.Entities.ReconcileBatch")
	defer span.End()

	seen := make(map[string]struct{}, len(records))
	for _, rec := range records {
		if rec.ExternalID == "" {
			return nil, fmt.Errorf("record with empty external id in %s/%s batch", scope.Integration, scope.EntityType)
		}
		if _, dup := seen[rec.ExternalID]; dup {
			return nil, fmt.Errorf("duplicate external id %q in %s/%s batch", rec.ExternalID, scope.Integration, scope.EntityType)
		}
		seen[rec.ExternalID] = struct{}{}
	}

	result := &EntityResult{Entities: make([]models.Entity, 0, len(records))}
	for start := 0; start < len(records); start += r.chunkSize {
		end := start + r.chunkSize
		if end > len(records) {
			end = len(records)
		}
		if err := r.reconcileChunk(ctx, scope, syncID, records[start:end], result); err != nil {
			return nil, err
		}
	}

	metrics.RecordEntityAction(scope.Integration, scope.EntityType, "created", result.Created)
	metrics.RecordEntityAction(scope.Integration, scope.EntityType, "updated", result.Updated)
	metrics.RecordEntityAction(scope.Integration, scope.EntityType, "touched", result.Touched)

	return result, nil
}

func (r *Entities) reconcileChunk(ctx context.Context, scope entity.Scope, syncID string, records []adapter.RawRecord, result *EntityResult) error {
	externalIDs := make([]string, 0, len(records))
	for _, rec := range records {
		externalIDs = append(externalIDs, rec.ExternalID)
	}

	existing, err := r.store.GetByExternalIDs(ctx, scope, externalIDs)
	if err != nil {
		return err
	}
	byExternalID := make(map[string]*models.Entity, len(existing))
	for i := range existing {
		byExternalID[existing[i].ExternalID] = &existing[i]
	}

	var toInsert []models.Entity
	var toTouch []string
	// track where each record's entity lands so result order matches
	// record order
	type placement struct {
		fromInsert int
		entity     *models.Entity
	}
	placements := make([]placement, 0, len(records))

	for i := range records {
		rec := &records[i]
		displayName := adapter.DisplayName(rec)
		hash, err := hashRecord(rec, displayName)
		if err != nil {
			return fmt.Errorf("failed to hash record %q: %w", rec.ExternalID, err)
		}

		stored, exists := byExternalID[rec.ExternalID]
		if !exists {
			toInsert = append(toInsert, models.Entity{
				TenantID:    scope.TenantID,
				Integration: scope.Integration,
				EntityType:  scope.EntityType,
				ExternalID:  rec.ExternalID,
				DisplayName: displayName,
				SiteID:      scope.SiteID,
				Data:        rec.Payload,
				ContentHash: hash,
				SyncID:      syncID,
			})
			placements = append(placements, placement{fromInsert: len(toInsert) - 1, entity: nil})
			continue
		}

		if stored.ContentHash != hash {
			stored.DisplayName = displayName
			// a site reassignment rides the update; the hash covers the
			// record's site so a move always lands here
			stored.SiteID = scope.SiteID
			stored.Data = rec.Payload
			stored.ContentHash = hash
			stored.SyncID = syncID
			if err := r.store.Update(ctx, stored); err != nil {
				return err
			}
			result.Updated++
		} else {
			toTouch = append(toTouch, stored.ID)
			stored.SyncID = syncID
			result.Touched++
		}
		placements = append(placements, placement{fromInsert: -1, entity: stored})
	}

	inserted, err := r.store.BulkInsert(ctx, toInsert)
	if err != nil {
		return err
	}
	result.Created += len(inserted)

	if err := r.store.TouchLastSeen(ctx, toTouch, syncID); err != nil {
		return err
	}

	for _, p := range placements {
		if p.entity != nil {
			result.Entities = append(result.Entities, *p.entity)
		} else {
			result.Entities = append(result.Entities, inserted[p.fromInsert])
		}
	}
	return nil
}

// Prune deletes every entity in scope whose external id was not seen during
// the pass. Only call after a fully successful fetch and reconcile;
// pruning on a partial view would delete live entities.
func (r *Entities) Prune(ctx context.Context, scope entity.Scope, seenExternalIDs map[string]struct{}) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "reconcile.Entities.Prune")
	defer span.End()

	var pruned int64
	afterID := ""
	for {
		refs, err := r.store.ListRefsPage(ctx, scope, afterID, r.pruneSize)
		if err != nil {
			return pruned, err
		}
		if len(refs) == 0 {
			break
		}

		var stale []string
		for _, ref := range refs {
			if _, ok := seenExternalIDs[ref.ExternalID]; !ok {
				stale = append(stale, ref.ID)
			}
		}

		for start := 0; start < len(stale); start += r.chunkSize {
			end := start + r.chunkSize
			if end > len(stale) {
				end = len(stale)
			}
			n, err := r.store.DeleteByIDs(ctx, stale[start:end])
			if err != nil {
				return pruned, err
			}
			pruned += n
		}

		afterID = refs[len(refs)-1].ID
		if len(refs) < r.pruneSize {
			break
		}
	}

	if pruned > 0 {
		r.logger.WithContext(ctx).WithFields(map[string]any{
			"integration": scope.Integration,
			"entity_type": scope.EntityType,
			"pruned":      pruned,
		}).Info("pruned stale entities")
	}
	metrics.RecordEntityAction(scope.Integration, scope.EntityType, "pruned", int(pruned))

	return pruned, nil
}
