// Package tagging replaces entity tags per writing source.
package tagging

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/bramble/pkg/models"
	"github.com/Ramsey-B/bramble/pkg/tracing"
)

// TagStore is the persistence surface the applier needs
type TagStore interface {
	DeleteBySource(ctx context.Context, entityIDs []string, source string) error
	BulkInsert(ctx context.Context, tags []models.EntityTag) error
}

// Applier replaces the tag set a source owns on a batch of entities
type Applier struct {
	store     TagStore
	logger    ectologger.Logger
	chunkSize int
}

// NewApplier creates a tag applier
func NewApplier(store TagStore, logger ectologger.Logger, chunkSize int) *Applier {
	if chunkSize < 1 {
		chunkSize = 100
	}
	return &Applier{store: store, logger: logger, chunkSize: chunkSize}
}

// Apply replaces the given source's tags on the covered entities. Entities
// in the map with an empty tag list simply lose the source's old tags.
// Within one pass the last writer of a tag text wins, which the unique key
// on (entity_id, tag) reduces to "first insert sticks, duplicates ignored"
// after dedup here.
func (a *Applier) Apply(ctx context.Context, tenantID, source string, tagsByEntity map[string][]string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "tagging.Applier.Apply")
	defer span.End()

	entityIDs := make([]string, 0, len(tagsByEntity))
	for id := range tagsByEntity {
		entityIDs = append(entityIDs, id)
	}

	for start := 0; start < len(entityIDs); start += a.chunkSize {
		end := start + a.chunkSize
		if end > len(entityIDs) {
			end = len(entityIDs)
		}
		if err := a.store.DeleteBySource(ctx, entityIDs[start:end], source); err != nil {
			return 0, err
		}
	}

	var tags []models.EntityTag
	for entityID, texts := range tagsByEntity {
		seen := map[string]struct{}{}
		for _, text := range texts {
			if text == "" {
				continue
			}
			if _, dup := seen[text]; dup {
				continue
			}
			seen[text] = struct{}{}
			tags = append(tags, models.EntityTag{
				TenantID: tenantID,
				EntityID: entityID,
				Tag:      text,
				Source:   source,
			})
		}
	}

	for start := 0; start < len(tags); start += a.chunkSize {
		end := start + a.chunkSize
		if end > len(tags) {
			end = len(tags)
		}
		if err := a.store.BulkInsert(ctx, tags[start:end]); err != nil {
			return 0, err
		}
	}

	return len(tags), nil
}
