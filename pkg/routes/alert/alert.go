// Package alert exposes the alert operational endpoints.
package alert

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/bramble/internal/repositories/alert"
)

// Register registers alert routes
func Register(g *echo.Group) {
	g.GET("", ListAlerts)
	g.POST("/:id/suppress", SuppressAlert)
	g.POST("/:id/unsuppress", UnsuppressAlert)
}

// ListAlerts lists a tenant's alerts with optional filters
func ListAlerts(c echo.Context) error {
	ctx := c.Request().Context()

	tenantID := c.QueryParam("tenant_id")
	if tenantID == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "tenant_id is required")
	}

	filter := alert.ListFilter{
		TenantID:    tenantID,
		Integration: c.QueryParam("integration"),
		Status:      c.QueryParam("status"),
		Severity:    c.QueryParam("severity"),
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

	ctx, repo, err := ectoinject.GetContext[*alert.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	alerts, err := repo.List(ctx, filter)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, alerts)
}

// SuppressAlert marks an alert suppressed so later sync passes leave it alone
func SuppressAlert(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	tenantID := c.QueryParam("tenant_id")
	if tenantID == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "tenant_id is required")
	}

	ctx, repo, err := ectoinject.GetContext[*alert.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	if err := repo.Suppress(ctx, tenantID, id); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "suppressed"})
}

// UnsuppressAlert returns a suppressed alert to active
func UnsuppressAlert(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	tenantID := c.QueryParam("tenant_id")
	if tenantID == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "tenant_id is required")
	}

	ctx, repo, err := ectoinject.GetContext[*alert.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	if err := repo.Unsuppress(ctx, tenantID, id); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "active"})
}
