// Package workunit persists sync work units and their lifecycle transitions.
package workunit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
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

// Repository provides access to the work_units table
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a work unit repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// Create inserts a new pending work unit. The open-unit unique index makes
// this a no-op when a pending/queued/running unit already exists for the
// same scope; in that case the existing unit is returned.
func (r *Repository) Create(ctx context.Context, req *models.CreateWorkUnitRequest) (*models.WorkUnit, error) {
	ctx, span := tracing.StartSpan(ctx, "workunit.Repository.Create")
	defer span.End()

	id := uuid.NewString()
	syncID := req.SyncID
	if syncID == "" {
		syncID = uuid.NewString()
	}
	trigger := req.Trigger
	if trigger == "" {
		trigger = models.WorkUnitTriggerScheduled
	}

	query := `
		INSERT INTO work_units (
			id, tenant_id, integration, entity_type, connection_id, site_id,
			status, priority, trigger, sync_id, scheduled_for
		) VALUES ($1, $2, $3, $4, $5, $6, 'pending', $7, $8, $9, $10)
		ON CONFLICT (tenant_id, integration, entity_type, COALESCE(site_id, '')) WHERE status IN ('pending', 'queued', 'running')
		DO NOTHING
		RETURNING *`

	var unit models.WorkUnit
	err := r.db.GetContext(ctx, &unit, query,
		id, req.TenantID, req.Integration, req.EntityType, req.ConnectionID, req.SiteID,
		req.Priority, trigger, syncID, req.ScheduledFor,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// conflict with an open unit for the same scope
			return r.getOpen(ctx, req.TenantID, req.Integration, req.EntityType, req.SiteID)
		}
		r.logger.WithContext(ctx).WithError(err).Error("failed to create work unit")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create work unit")
	}

	return &unit, nil
}

func (r *Repository) getOpen(ctx context.Context, tenantID, integration, entityType string, siteID *string) (*models.WorkUnit, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("*").From("work_units")
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("integration", integration),
		sb.Equal("entity_type", entityType),
		sb.In("status", "pending", "queued", "running"),
	)
	if siteID != nil {
		sb.Where(sb.Equal("site_id", *siteID))
	} else {
		sb.Where(sb.IsNull("site_id"))
	}
	sb.Limit(1)

	query, args := sb.Build()
	var unit models.WorkUnit
	if err := r.db.GetContext(ctx, &unit, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to get open work unit")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get work unit")
	}
	return &unit, nil
}

// GetByID returns a work unit by id
func (r *Repository) GetByID(ctx context.Context, id string) (*models.WorkUnit, error) {
	ctx, span := tracing.StartSpan(ctx, "workunit.Repository.GetByID")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("*").From("work_units")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var unit models.WorkUnit
	if err := r.db.GetContext(ctx, &unit, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "work unit %s not found", id)
		}
		r.logger.WithContext(ctx).WithError(err).Error("failed to get work unit")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get work unit")
	}
	return &unit, nil
}

// ListDue returns pending units whose scheduled time has arrived, lowest
// priority value first
func (r *Repository) ListDue(ctx context.Context, now time.Time, limit int) ([]models.WorkUnit, error) {
	ctx, span := tracing.StartSpan(ctx, "workunit.Repository.ListDue")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("*").From("work_units")
	sb.Where(
		sb.Equal("status", string(models.WorkUnitStatusPending)),
		sb.Or(
			sb.IsNull("scheduled_for"),
			sb.LessEqualThan("scheduled_for", now),
		),
	)
	sb.OrderBy("priority ASC", "scheduled_for ASC NULLS FIRST", "created_at ASC")
	sb.Limit(limit)

	query, args := sb.Build()
	var units []models.WorkUnit
	if err := r.db.SelectContext(ctx, &units, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list due work units")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list due work units")
	}
	return units, nil
}

// MarkQueued transitions pending -> queued. Returns false when the unit was
// not pending, which callers treat as "someone else already dispatched it".
func (r *Repository) MarkQueued(ctx context.Context, id string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "workunit.Repository.MarkQueued")
	defer span.End()

	return r.transition(ctx, id, models.WorkUnitStatusQueued, models.WorkUnitStatusPending)
}

// MarkPending resets a queued unit back to pending, for dispatches whose
// publish never made it onto the queue
func (r *Repository) MarkPending(ctx context.Context, id string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "workunit.Repository.MarkPending")
	defer span.End()

	return r.transition(ctx, id, models.WorkUnitStatusPending, models.WorkUnitStatusQueued)
}

// MarkRunning transitions queued -> running and stamps started_at. A failed
// unit may also start: the queue redelivers its job until retries exhaust,
// and each redelivery is a fresh attempt.
func (r *Repository) MarkRunning(ctx context.Context, id string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "workunit.Repository.MarkRunning")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("work_units")
	sb.Set(
		sb.Assign("status", string(models.WorkUnitStatusRunning)),
		sb.Assign("started_at", time.Now().UTC()),
		"attempts = attempts + 1",
		"updated_at = NOW()",
	)
	sb.Where(
		sb.Equal("id", id),
		sb.In("status", string(models.WorkUnitStatusQueued), string(models.WorkUnitStatusFailed)),
	)

	return r.execTransition(ctx, sb, "failed to mark work unit running")
}

// Complete transitions running -> completed and stores the run metrics
func (r *Repository) Complete(ctx context.Context, id string, metrics json.RawMessage) error {
	ctx, span := tracing.StartSpan(ctx, "workunit.Repository.Complete")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("work_units")
	sb.Set(
		sb.Assign("status", string(models.WorkUnitStatusCompleted)),
		sb.Assign("metrics", []byte(metrics)),
		sb.Assign("finished_at", time.Now().UTC()),
		"error = NULL",
		"updated_at = NOW()",
	)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("status", string(models.WorkUnitStatusRunning)),
	)

	ok, err := r.execTransition(ctx, sb, "failed to complete work unit")
	if err != nil {
		return err
	}
	if !ok {
		return httperror.NewHTTPErrorf(http.StatusConflict, "work unit %s is not running", id)
	}
	return nil
}

// Fail transitions running -> failed with the error message
func (r *Repository) Fail(ctx context.Context, id, errMsg string, metrics json.RawMessage) error {
	ctx, span := tracing.StartSpan(ctx, "workunit.Repository.Fail")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("work_units")
	sb.Set(
		sb.Assign("status", string(models.WorkUnitStatusFailed)),
		sb.Assign("error", errMsg),
		sb.Assign("finished_at", time.Now().UTC()),
		"updated_at = NOW()",
	)
	if metrics != nil {
		sb.Set(sb.Assign("metrics", []byte(metrics)))
	}
	sb.Where(
		sb.Equal("id", id),
		sb.In("status", string(models.WorkUnitStatusRunning), string(models.WorkUnitStatusQueued)),
	)

	if _, err := r.execTransition(ctx, sb, "failed to fail work unit"); err != nil {
		return err
	}
	return nil
}

// RecoverStuck resets stuck units back to pending: running units that
// started before the threshold and queued units untouched since it. Called
// once at startup so units orphaned by a crash don't block their scope
// forever.
func (r *Repository) RecoverStuck(ctx context.Context, threshold time.Time) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "workunit.Repository.RecoverStuck")
	defer span.End()

	query := `
		UPDATE work_units
		SET status = 'pending', started_at = NULL, updated_at = NOW()
		WHERE (status = 'running' AND started_at < $1)
		   OR (status = 'queued' AND updated_at < $1)`
	res, err := r.db.ExecContext(ctx, query, threshold)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to recover stuck work units")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to recover work units")
	}

	n, _ := res.RowsAffected()
	return n, nil
}

// PurgeTerminal deletes completed and failed units finished before the cutoff
func (r *Repository) PurgeTerminal(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "workunit.Repository.PurgeTerminal")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewDeleteBuilder()
	sb.DeleteFrom("work_units")
	sb.Where(
		sb.In("status", string(models.WorkUnitStatusCompleted), string(models.WorkUnitStatusFailed)),
		sb.LessThan("finished_at", cutoff),
	)

	query, args := sb.Build()
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to purge terminal work units")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to purge work units")
	}

	n, _ := res.RowsAffected()
	return n, nil
}

// ListFilter narrows the List query
type ListFilter struct {
	TenantID    string
	Integration string
	EntityType  string
	Status      string
	Page        int
	PageSize    int
}

// List returns work units matching the filter, newest first, with a total count
func (r *Repository) List(ctx context.Context, filter ListFilter) (*models.WorkUnitListResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "workunit.Repository.List")
	defer span.End()

	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 || filter.PageSize > 500 {
		filter.PageSize = 50
	}

	applyFilter := func(sb *sqlbuilder.SelectBuilder) {
		if filter.TenantID != "" {
			sb.Where(sb.Equal("tenant_id", filter.TenantID))
		}
		if filter.Integration != "" {
			sb.Where(sb.Equal("integration", filter.Integration))
		}
		if filter.EntityType != "" {
			sb.Where(sb.Equal("entity_type", filter.EntityType))
		}
		if filter.Status != "" {
			sb.Where(sb.Equal("status", filter.Status))
		}
	}

	countSb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	countSb.Select("COUNT(*)").From("work_units")
	applyFilter(countSb)

	countQuery, countArgs := countSb.Build()
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, countArgs...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to count work units")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list work units")
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("*").From("work_units")
	applyFilter(sb)
	sb.OrderBy("created_at DESC")
	sb.Limit(filter.PageSize)
	sb.Offset((filter.Page - 1) * filter.PageSize)

	query, args := sb.Build()
	var units []models.WorkUnit
	if err := r.db.SelectContext(ctx, &units, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list work units")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list work units")
	}

	return &models.WorkUnitListResponse{
		Items:      units,
		TotalCount: total,
		Page:       filter.Page,
		PageSize:   filter.PageSize,
	}, nil
}

func (r *Repository) transition(ctx context.Context, id string, to, from models.WorkUnitStatus) (bool, error) {
	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("work_units")
	sb.Set(
		sb.Assign("status", string(to)),
		"updated_at = NOW()",
	)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("status", string(from)),
	)

	return r.execTransition(ctx, sb, fmt.Sprintf("failed to transition work unit to %s", to))
}

func (r *Repository) execTransition(ctx context.Context, sb *sqlbuilder.UpdateBuilder, errMsg string) (bool, error) {
	query, args := sb.Build()
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error(errMsg)
		return false, httperror.NewHTTPError(http.StatusInternalServerError, errMsg)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, httperror.NewHTTPError(http.StatusInternalServerError, errMsg)
	}
	return n > 0, nil
}
