// Package alert persists deduplicated analyzer findings.
package alert

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

// Repository provides access to the alerts table
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates an alert repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// GetByFingerprints returns a tenant's alerts matching the given fingerprints,
// regardless of status
func (r *Repository) GetByFingerprints(ctx context.Context, tenantID string, fingerprints []string) ([]models.Alert, error) {
	ctx, span := tracing.StartSpan(ctx, "alert.Repository.GetByFingerprints")
	defer span.End()

	if len(fingerprints) == 0 {
		return nil, nil
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("*").From("alerts")
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.In("fingerprint", sqlbuilder.Flatten(fingerprints)...),
	)

	query, args := sb.Build()
	var alerts []models.Alert
	if err := r.db.SelectContext(ctx, &alerts, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to get alerts by fingerprint")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get alerts")
	}
	return alerts, nil
}

// ListActiveByRules returns a tenant's active alerts for the given rules,
// scoped to one integration. Used for auto-resolution.
func (r *Repository) ListActiveByRules(ctx context.Context, tenantID, integration string, ruleIDs []string) ([]models.Alert, error) {
	ctx, span := tracing.StartSpan(ctx, "alert.Repository.ListActiveByRules")
	defer span.End()

	if len(ruleIDs) == 0 {
		return nil, nil
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("*").From("alerts")
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("integration", integration),
		sb.Equal("status", string(models.AlertStatusActive)),
		sb.In("rule_id", sqlbuilder.Flatten(ruleIDs)...),
	)

	query, args := sb.Build()
	var alerts []models.Alert
	if err := r.db.SelectContext(ctx, &alerts, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list active alerts")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list alerts")
	}
	return alerts, nil
}

// BulkInsert creates new active alerts from findings
func (r *Repository) BulkInsert(ctx context.Context, tenantID, integration string, findings []models.Finding) error {
	ctx, span := tracing.StartSpan(ctx, "alert.Repository.BulkInsert")
	defer span.End()

	if len(findings) == 0 {
		return nil
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("alerts")
	sb.Cols("id", "tenant_id", "entity_id", "integration", "rule_id", "fingerprint",
		"severity", "status", "title", "message", "details", "first_seen_at", "last_seen_at")
	for _, f := range findings {
		var details any
		if f.Details != nil {
			details = []byte(f.Details)
		}
		sb.Values(uuid.NewString(), tenantID, f.EntityID, integration, f.RuleID, f.Fingerprint,
			string(f.Severity), string(models.AlertStatusActive), f.Title, f.Message, details,
			sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()"))
	}

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to insert alerts")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to insert alerts")
	}
	return nil
}

// Refresh updates a matched alert in place: last_seen_at always, plus the
// latest severity, message, and details. Status is never changed here, so a
// suppressed alert stays suppressed.
func (r *Repository) Refresh(ctx context.Context, id string, f *models.Finding) error {
	ctx, span := tracing.StartSpan(ctx, "alert.Repository.Refresh")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("alerts")
	sb.Set(
		sb.Assign("severity", string(f.Severity)),
		sb.Assign("title", f.Title),
		sb.Assign("message", f.Message),
		"last_seen_at = NOW()",
		"updated_at = NOW()",
	)
	if f.Details != nil {
		sb.Set(sb.Assign("details", []byte(f.Details)))
	}
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to refresh alert")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to refresh alert")
	}
	return nil
}

// Reactivate flips a resolved alert back to active and refreshes it
func (r *Repository) Reactivate(ctx context.Context, id string, f *models.Finding) error {
	ctx, span := tracing.StartSpan(ctx, "alert.Repository.Reactivate")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("alerts")
	sb.Set(
		sb.Assign("status", string(models.AlertStatusActive)),
		sb.Assign("severity", string(f.Severity)),
		sb.Assign("title", f.Title),
		sb.Assign("message", f.Message),
		"resolved_at = NULL",
		"last_seen_at = NOW()",
		"updated_at = NOW()",
	)
	if f.Details != nil {
		sb.Set(sb.Assign("details", []byte(f.Details)))
	}
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("status", string(models.AlertStatusResolved)),
	)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to reactivate alert")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to reactivate alert")
	}
	return nil
}

// ResolveByIDs marks active alerts resolved. Suppressed alerts are excluded
// by the status gate.
func (r *Repository) ResolveByIDs(ctx context.Context, ids []string) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "alert.Repository.ResolveByIDs")
	defer span.End()

	if len(ids) == 0 {
		return 0, nil
	}

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("alerts")
	sb.Set(
		sb.Assign("status", string(models.AlertStatusResolved)),
		sb.Assign("resolved_at", time.Now().UTC()),
		"updated_at = NOW()",
	)
	sb.Where(
		sb.In("id", sqlbuilder.Flatten(ids)...),
		sb.Equal("status", string(models.AlertStatusActive)),
	)

	query, args := sb.Build()
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to resolve alerts")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to resolve alerts")
	}

	n, _ := res.RowsAffected()
	return n, nil
}

// Suppress marks an alert suppressed. Suppression is an operator action and
// survives later sync passes.
func (r *Repository) Suppress(ctx context.Context, tenantID, id string) error {
	ctx, span := tracing.StartSpan(ctx, "alert.Repository.Suppress")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("alerts")
	sb.Set(
		sb.Assign("status", string(models.AlertStatusSuppressed)),
		"updated_at = NOW()",
	)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
	)

	query, args := sb.Build()
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to suppress alert")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to suppress alert")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "alert %s not found", id)
	}
	return nil
}

// Unsuppress returns a suppressed alert to active. Only suppressed alerts
// qualify so a resolved alert cannot be revived by hand.
func (r *Repository) Unsuppress(ctx context.Context, tenantID, id string) error {
	ctx, span := tracing.StartSpan(ctx, "alert.Repository.Unsuppress")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("alerts")
	sb.Set(
		sb.Assign("status", string(models.AlertStatusActive)),
		"updated_at = NOW()",
	)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
		sb.Equal("status", string(models.AlertStatusSuppressed)),
	)

	query, args := sb.Build()
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to unsuppress alert")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to unsuppress alert")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "suppressed alert %s not found", id)
	}
	return nil
}

// ListFilter narrows the List query
type ListFilter struct {
	TenantID    string
	Integration string
	Status      string
	Severity    string
	Page        int
	PageSize    int
}

// ListResponse is a page of alerts with the total count
type ListResponse struct {
	Items      []models.Alert `json:"items"`
	TotalCount int            `json:"total_count"`
	Page       int            `json:"page"`
	PageSize   int            `json:"page_size"`
}

// List returns alerts matching the filter, newest activity first
func (r *Repository) List(ctx context.Context, filter ListFilter) (*ListResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "alert.Repository.List")
	defer span.End()

	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 || filter.PageSize > 500 {
		filter.PageSize = 50
	}

	applyFilter := func(sb *sqlbuilder.SelectBuilder) {
		sb.Where(sb.Equal("tenant_id", filter.TenantID))
		if filter.Integration != "" {
			sb.Where(sb.Equal("integration", filter.Integration))
		}
		if filter.Status != "" {
			sb.Where(sb.Equal("status", filter.Status))
		}
		if filter.Severity != "" {
			sb.Where(sb.Equal("severity", filter.Severity))
		}
	}

	countSb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	countSb.Select("COUNT(*)").From("alerts")
	applyFilter(countSb)

	countQuery, countArgs := countSb.Build()
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, countArgs...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to count alerts")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list alerts")
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("*").From("alerts")
	applyFilter(sb)
	sb.OrderBy("last_seen_at DESC")
	sb.Limit(filter.PageSize)
	sb.Offset((filter.Page - 1) * filter.PageSize)

	query, args := sb.Build()
	var alerts []models.Alert
	if err := r.db.SelectContext(ctx, &alerts, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list alerts")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list alerts")
	}

	return &ListResponse{
		Items:      alerts,
		TotalCount: total,
		Page:       filter.Page,
		PageSize:   filter.PageSize,
	}, nil
}
