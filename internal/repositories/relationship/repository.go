// Package relationship persists entity-to-entity edges.
package relationship

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

// Repository provides access to the relationships table
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a relationship repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// ListByParents returns existing edges whose parent is in the given set
func (r *Repository) ListByParents(ctx context.Context, tenantID, integration string, parentIDs []string) ([]models.Relationship, error) {
	ctx, span := tracing.StartSpan(ctx, "relationship.Repository.ListByParents")
	defer span.End()

	if len(parentIDs) == 0 {
		return nil, nil
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("*").From("relationships")
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("integration", integration),
		sb.In("parent_entity_id", sqlbuilder.Flatten(parentIDs)...),
	)

	query, args := sb.Build()
	var edges []models.Relationship
	if err := r.db.SelectContext(ctx, &edges, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list relationships")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list relationships")
	}
	return edges, nil
}

// ListByChildren returns existing edges whose child is in the given set
func (r *Repository) ListByChildren(ctx context.Context, tenantID, integration string, childIDs []string) ([]models.Relationship, error) {
	ctx, span := tracing.StartSpan(ctx, "relationship.Repository.ListByChildren")
	defer span.End()

	if len(childIDs) == 0 {
		return nil, nil
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("*").From("relationships")
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("integration", integration),
		sb.In("child_entity_id", sqlbuilder.Flatten(childIDs)...),
	)

	query, args := sb.Build()
	var edges []models.Relationship
	if err := r.db.SelectContext(ctx, &edges, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list relationships")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list relationships")
	}
	return edges, nil
}

// ListByIntegration returns every edge of an integration, for the analysis
// pass's graph context
func (r *Repository) ListByIntegration(ctx context.Context, tenantID, integration string) ([]models.Relationship, error) {
	ctx, span := tracing.StartSpan(ctx, "relationship.Repository.ListByIntegration")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("*").From("relationships")
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("integration", integration),
	)

	query, args := sb.Build()
	var edges []models.Relationship
	if err := r.db.SelectContext(ctx, &edges, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list relationships")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list relationships")
	}
	return edges, nil
}

// BulkInsert creates new edges
func (r *Repository) BulkInsert(ctx context.Context, tenantID, integration string, edges []models.DesiredEdge) error {
	ctx, span := tracing.StartSpan(ctx, "relationship.Repository.BulkInsert")
	defer span.End()

	if len(edges) == 0 {
		return nil
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("relationships")
	sb.Cols("id", "tenant_id", "integration", "parent_entity_id", "child_entity_id",
		"relationship_type", "metadata", "last_seen_at")
	for _, e := range edges {
		var meta any
		if e.Metadata != nil {
			meta = []byte(e.Metadata)
		}
		sb.Values(uuid.NewString(), tenantID, integration, e.ParentEntityID, e.ChildEntityID,
			e.RelationshipType, meta, sqlbuilder.Raw("NOW()"))
	}
	// concurrent passes over overlapping scopes may race on the same edge
	sb.SQL("ON CONFLICT (parent_entity_id, child_entity_id, relationship_type) DO NOTHING")

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to insert relationships")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to insert relationships")
	}
	return nil
}

// Touch refreshes last_seen_at and metadata on surviving edges
func (r *Repository) Touch(ctx context.Context, id string, metadata []byte) error {
	ctx, span := tracing.StartSpan(ctx, "relationship.Repository.Touch")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("relationships")
	sb.Set(
		"last_seen_at = NOW()",
		"updated_at = NOW()",
	)
	if metadata != nil {
		sb.Set(sb.Assign("metadata", metadata))
	}
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to touch relationship")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to touch relationship")
	}
	return nil
}

// TouchAll refreshes last_seen_at on surviving edges without metadata changes
func (r *Repository) TouchAll(ctx context.Context, ids []string) error {
	ctx, span := tracing.StartSpan(ctx, "relationship.Repository.TouchAll")
	defer span.End()

	if len(ids) == 0 {
		return nil
	}

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("relationships")
	sb.Set(
		"last_seen_at = NOW()",
		"updated_at = NOW()",
	)
	sb.Where(sb.In("id", sqlbuilder.Flatten(ids)...))

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to touch relationships")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to touch relationships")
	}
	return nil
}

// DeleteByIDs removes edges that are no longer desired
func (r *Repository) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "relationship.Repository.DeleteByIDs")
	defer span.End()

	if len(ids) == 0 {
		return 0, nil
	}

	sb := sqlbuilder.PostgreSQL.NewDeleteBuilder()
	sb.DeleteFrom("relationships")
	sb.Where(sb.In("id", sqlbuilder.Flatten(ids)...))

	query, args := sb.Build()
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to delete relationships")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete relationships")
	}

	n, _ := res.RowsAffected()
	return n, nil
}
