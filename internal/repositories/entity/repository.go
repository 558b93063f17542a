// Package entity persists normalized external entities.
package entity

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/bramble/pkg/database"
	"github.com/Ramsey-B/bramble/pkg/models"
	"github.com/Ramsey-B/bramble/pkg/tracing"
)

// Scope identifies one reconciliation target. The pruner and scope
// enumeration filter on the full scope including site; the external id
// lookup ignores site so cross-site moves resolve to the same row.
type Scope struct {
	TenantID    string
	Integration string
	EntityType  string
	SiteID      *string
}

// Repository provides access to the entities table
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates an entity repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

func applyScope(sb *sqlbuilder.SelectBuilder, scope Scope) {
	sb.Where(
		sb.Equal("tenant_id", scope.TenantID),
		sb.Equal("integration", scope.Integration),
		sb.Equal("entity_type", scope.EntityType),
	)
	if scope.SiteID != nil {
		sb.Where(sb.Equal("site_id", *scope.SiteID))
	} else {
		sb.Where(sb.IsNull("site_id"))
	}
}

// GetByExternalIDs returns the entities matching the given external ids.
// The lookup deliberately ignores the site scope: an entity reassigned to
// another site must resolve to its existing row so the move lands as an
// update, keeping its surrogate id and edges.
func (r *Repository) GetByExternalIDs(ctx context.Context, scope Scope, externalIDs []string) ([]models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.GetByExternalIDs")
	defer span.End()

	if len(externalIDs) == 0 {
		return nil, nil
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("*").From("entities")
	sb.Where(
		sb.Equal("tenant_id", scope.TenantID),
		sb.Equal("integration", scope.Integration),
		sb.Equal("entity_type", scope.EntityType),
		sb.In("external_id", sqlbuilder.Flatten(externalIDs)...),
	)

	query, args := sb.Build()
	var entities []models.Entity
	if err := r.db.SelectContext(ctx, &entities, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to get entities by external id")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get entities")
	}
	return entities, nil
}

// GetByIDs returns entities by surrogate id
func (r *Repository) GetByIDs(ctx context.Context, ids []string) ([]models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.GetByIDs")
	defer span.End()

	if len(ids) == 0 {
		return nil, nil
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("*").From("entities")
	sb.Where(sb.In("id", sqlbuilder.Flatten(ids)...))

	query, args := sb.Build()
	var entities []models.Entity
	if err := r.db.SelectContext(ctx, &entities, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to get entities by id")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get entities")
	}
	return entities, nil
}

// BulkInsert creates new entities. IDs are assigned here; the filled-in
// slice is returned.
func (r *Repository) BulkInsert(ctx context.Context, entities []models.Entity) ([]models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.BulkInsert")
	defer span.End()

	if len(entities) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("entities")
	sb.Cols("id", "tenant_id", "integration", "entity_type", "external_id",
		"display_name", "site_id", "data", "content_hash", "state", "sync_id", "last_seen_at")
	for i := range entities {
		entities[i].ID = uuid.NewString()
		entities[i].LastSeenAt = now
		if entities[i].State == "" {
			entities[i].State = models.EntityStateNormal
		}
		e := &entities[i]
		sb.Values(e.ID, e.TenantID, e.Integration, e.EntityType, e.ExternalID,
			e.DisplayName, e.SiteID, []byte(e.Data), e.ContentHash, string(e.State), e.SyncID, e.LastSeenAt)
	}

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to insert entities")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to insert entities")
	}
	return entities, nil
}

// Update rewrites a changed entity's payload, hash, display name, and site
// scope, and refreshes last_seen_at
func (r *Repository) Update(ctx context.Context, e *models.Entity) error {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.Update")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("entities")
	sb.Set(
		sb.Assign("display_name", e.DisplayName),
		sb.Assign("site_id", e.SiteID),
		sb.Assign("data", []byte(e.Data)),
		sb.Assign("content_hash", e.ContentHash),
		sb.Assign("sync_id", e.SyncID),
		"last_seen_at = NOW()",
		"updated_at = NOW()",
	)
	sb.Where(sb.Equal("id", e.ID))

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to update entity")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update entity")
	}
	return nil
}

// TouchLastSeen refreshes last_seen_at and sync_id for unchanged entities
func (r *Repository) TouchLastSeen(ctx context.Context, ids []string, syncID string) error {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.TouchLastSeen")
	defer span.End()

	if len(ids) == 0 {
		return nil
	}

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("entities")
	sb.Set(
		sb.Assign("sync_id", syncID),
		"last_seen_at = NOW()",
		"updated_at = NOW()",
	)
	sb.Where(sb.In("id", sqlbuilder.Flatten(ids)...))

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to touch entities")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to touch entities")
	}
	return nil
}

// UpdateState sets the derived health state of an entity
func (r *Repository) UpdateState(ctx context.Context, id string, state models.EntityState) error {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.UpdateState")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("entities")
	sb.Set(
		sb.Assign("state", string(state)),
		"updated_at = NOW()",
	)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to update entity state")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update entity state")
	}
	return nil
}

// ListByIntegration returns every entity of an integration across all of
// its kinds and sites. The analysis pass loads its context through this.
func (r *Repository) ListByIntegration(ctx context.Context, tenantID, integration string) ([]models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.ListByIntegration")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("*").From("entities")
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("integration", integration),
	)
	sb.OrderBy("id ASC")

	query, args := sb.Build()
	var entities []models.Entity
	if err := r.db.SelectContext(ctx, &entities, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list integration entities")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list entities")
	}
	return entities, nil
}

// ListRefsPage returns a keyset page of (id, external_id) pairs in scope,
// ordered by id, for the stale pruning scan
func (r *Repository) ListRefsPage(ctx context.Context, scope Scope, afterID string, pageSize int) ([]models.EntityRef, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.ListRefsPage")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "external_id").From("entities")
	applyScope(sb, scope)
	if afterID != "" {
		sb.Where(sb.GreaterThan("id", afterID))
	}
	sb.OrderBy("id ASC")
	sb.Limit(pageSize)

	query, args := sb.Build()
	var refs []models.EntityRef
	if err := r.db.SelectContext(ctx, &refs, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list entity refs")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list entities")
	}
	return refs, nil
}

// DeleteByIDs removes pruned entities. Relationships and tags referencing
// them are removed by cascade.
func (r *Repository) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.DeleteByIDs")
	defer span.End()

	if len(ids) == 0 {
		return 0, nil
	}

	sb := sqlbuilder.PostgreSQL.NewDeleteBuilder()
	sb.DeleteFrom("entities")
	sb.Where(sb.In("id", sqlbuilder.Flatten(ids)...))

	query, args := sb.Build()
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to delete entities")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete entities")
	}

	n, _ := res.RowsAffected()
	return n, nil
}

// ListExternalIDsInScope returns every external id in scope. Used by the
// fan-out policy to enumerate parent scopes.
func (r *Repository) ListExternalIDsInScope(ctx context.Context, scope Scope) ([]models.EntityRef, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.ListExternalIDsInScope")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "external_id").From("entities")
	applyScope(sb, scope)
	sb.OrderBy("id ASC")

	query, args := sb.Build()
	var refs []models.EntityRef
	if err := r.db.SelectContext(ctx, &refs, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list scope external ids")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list entities")
	}
	return refs, nil
}
