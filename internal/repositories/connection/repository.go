// Package connection persists tenant integration connections and site mappings.
package connection

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/bramble/pkg/database"
	"github.com/Ramsey-B/bramble/pkg/models"
	"github.com/Ramsey-B/bramble/pkg/tracing"
)

// Repository provides access to integration connections and site mappings
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a connection repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// ListEnabled returns every enabled connection across all tenants. The
// scheduler seeds root work units from this set.
func (r *Repository) ListEnabled(ctx context.Context) ([]models.IntegrationConnection, error) {
	ctx, span := tracing.StartSpan(ctx, "connection.Repository.ListEnabled")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("*").From("integration_connections")
	sb.Where(
		sb.Equal("enabled", true),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	var conns []models.IntegrationConnection
	if err := r.db.SelectContext(ctx, &conns, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list enabled connections")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list connections")
	}
	return conns, nil
}

// GetByID returns a connection by id
func (r *Repository) GetByID(ctx context.Context, id string) (*models.IntegrationConnection, error) {
	ctx, span := tracing.StartSpan(ctx, "connection.Repository.GetByID")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("*").From("integration_connections")
	sb.Where(
		sb.Equal("id", id),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	var conn models.IntegrationConnection
	if err := r.db.GetContext(ctx, &conn, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "connection %s not found", id)
		}
		r.logger.WithContext(ctx).WithError(err).Error("failed to get connection")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get connection")
	}
	return &conn, nil
}

// GetSiteMapping resolves an external site id to the tenant's site id.
// Returns nil when the site is unmapped.
func (r *Repository) GetSiteMapping(ctx context.Context, connectionID, externalSiteID string) (*models.SiteMapping, error) {
	ctx, span := tracing.StartSpan(ctx, "connection.Repository.GetSiteMapping")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("*").From("site_mappings")
	sb.Where(
		sb.Equal("connection_id", connectionID),
		sb.Equal("external_site_id", externalSiteID),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	var mapping models.SiteMapping
	if err := r.db.GetContext(ctx, &mapping, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("failed to get site mapping")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get site mapping")
	}
	return &mapping, nil
}

// ListSiteMappings returns all active mappings for a connection
func (r *Repository) ListSiteMappings(ctx context.Context, connectionID string) ([]models.SiteMapping, error) {
	ctx, span := tracing.StartSpan(ctx, "connection.Repository.ListSiteMappings")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("*").From("site_mappings")
	sb.Where(
		sb.Equal("connection_id", connectionID),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	var mappings []models.SiteMapping
	if err := r.db.SelectContext(ctx, &mappings, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list site mappings")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list site mappings")
	}
	return mappings, nil
}
