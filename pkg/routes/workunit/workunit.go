// Package workunit exposes the work unit operational endpoints.
package workunit

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/bramble/internal/repositories/workunit"
	"github.com/Ramsey-B/bramble/pkg/scheduler"
)

// Register registers work unit routes
func Register(g *echo.Group) {
	g.GET("", ListWorkUnits)
	g.GET("/:id", GetWorkUnit)
	g.POST("/trigger", TriggerSync)
}

// ListWorkUnits lists work units with optional filters
func ListWorkUnits(c echo.Context) error {
	ctx := c.Request().Context()

	filter := workunit.ListFilter{
		TenantID:    c.QueryParam("tenant_id"),
		Integration: c.QueryParam("integration"),
		EntityType:  c.QueryParam("entity_type"),
		Status:      c.QueryParam("status"),
	}
	if page := c.QueryParam("page"); page != "" {
		n, err := strconv.Atoi(page)
		if err != nil {
			return httperror.NewHTTPError(http.StatusBadRequest, "invalid page")
		}
		filter.Page = n
	}
	if size := c.QueryParam("page_size"); size != "" {
		n, err := strconv.Atoi(size)
		if err != nil {
			return httperror.NewHTTPError(http.StatusBadRequest, "invalid page_size")
		}
		filter.PageSize = n
	}

	ctx, repo, err := ectoinject.GetContext[*workunit.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	units, err := repo.List(ctx, filter)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, units)
}

// GetWorkUnit gets a work unit by ID
func GetWorkUnit(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	ctx, repo, err := ectoinject.GetContext[*workunit.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	unit, err := repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, unit)
}

// TriggerSyncRequest is the request body for a manual sync trigger
type TriggerSyncRequest struct {
	TenantID     string  `json:"tenant_id" validate:"required"`
	Integration  string  `json:"integration" validate:"required"`
	EntityType   string  `json:"entity_type" validate:"required"`
	ConnectionID *string `json:"connection_id,omitempty"`
}

// TriggerSync creates a manual work unit that runs ahead of scheduled work
func TriggerSync(c echo.Context) error {
	ctx := c.Request().Context()

	var req TriggerSyncRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.TenantID == "" || req.Integration == "" || req.EntityType == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "tenant_id, integration, and entity_type are required")
	}

	ctx, sched, err := ectoinject.GetContext[*scheduler.Scheduler](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	unit, err := sched.TriggerNow(ctx, req.TenantID, req.Integration, req.EntityType, req.ConnectionID)
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return c.JSON(http.StatusAccepted, unit)
}
