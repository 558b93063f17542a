// Package tag persists entity tags.
package tag

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/bramble/pkg/database"
	"github.com/Ramsey-B/bramble/pkg/models"
	"github.com/Ramsey-B/bramble/pkg/tracing"
)

// Repository provides access to the entity_tags table
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a tag repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// DeleteBySource removes all tags a given source wrote on the given entities.
// Tags from other sources are untouched.
func (r *Repository) DeleteBySource(ctx context.Context, entityIDs []string, source string) error {
	ctx, span := tracing.StartSpan(ctx, "tag.Repository.DeleteBySource")
	defer span.End()

	if len(entityIDs) == 0 {
		return nil
	}

	sb := sqlbuilder.PostgreSQL.NewDeleteBuilder()
	sb.DeleteFrom("entity_tags")
	sb.Where(
		sb.In("entity_id", sqlbuilder.Flatten(entityIDs)...),
		sb.Equal("source", source),
	)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to delete tags by source")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete tags")
	}
	return nil
}

// BulkInsert writes tags, ignoring duplicates on (entity_id, tag) so two
// sources proposing the same tag don't conflict
func (r *Repository) BulkInsert(ctx context.Context, tags []models.EntityTag) error {
	ctx, span := tracing.StartSpan(ctx, "tag.Repository.BulkInsert")
	defer span.End()

	if len(tags) == 0 {
		return nil
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("entity_tags")
	sb.Cols("id", "tenant_id", "entity_id", "tag", "source")
	for _, t := range tags {
		sb.Values(uuid.NewString(), t.TenantID, t.EntityID, t.Tag, t.Source)
	}
	sb.SQL("ON CONFLICT (entity_id, tag) DO NOTHING")

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to insert tags")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to insert tags")
	}
	return nil
}

// ListByEntity returns all tags on an entity
func (r *Repository) ListByEntity(ctx context.Context, entityID string) ([]models.EntityTag, error) {
	ctx, span := tracing.StartSpan(ctx, "tag.Repository.ListByEntity")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("*").From("entity_tags")
	sb.Where(sb.Equal("entity_id", entityID))
	sb.OrderBy("tag ASC")

	query, args := sb.Build()
	var tags []models.EntityTag
	if err := r.db.SelectContext(ctx, &tags, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list tags")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list tags")
	}
	return tags, nil
}
