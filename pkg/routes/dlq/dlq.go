// Package dlq exposes dead letter queue inspection endpoints.
package dlq

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/bramble/pkg/redis"
)

const defaultListCount = 100

// Register registers dead letter queue routes
func Register(g *echo.Group) {
	g.GET("", ListEntries)
	g.POST("/:id/retry", RetryEntry)
	g.DELETE("/:id", DeleteEntry)
}

// ListEntries lists dead letter entries, newest first
func ListEntries(c echo.Context) error {
	ctx := c.Request().Context()

	count := int64(defaultListCount)
	if raw := c.QueryParam("count"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 1 {
			return httperror.NewHTTPError(http.StatusBadRequest, "invalid count")
		}
		count = n
	}

	ctx, queue, err := ectoinject.GetContext[*redis.DLQ](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	var entries []redis.DLQEntry
	if tenantID := c.QueryParam("tenant_id"); tenantID != "" {
		entries, err = queue.ListByTenant(ctx, tenantID, count)
	} else {
		entries, err = queue.List(ctx, count)
	}
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to list dead letter entries")
	}

	return c.JSON(http.StatusOK, map[string]any{"items": entries, "count": len(entries)})
}

// RetryEntry republishes a dead letter entry onto the job queue
func RetryEntry(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	ctx, queue, err := ectoinject.GetContext[*redis.DLQ](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}
	ctx, streams, err := ectoinject.GetContext[*redis.Streams](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	jobStream := c.QueryParam("queue")
	if jobStream == "" {
		jobStream = redis.DefaultJobQueue
	}

	if err := queue.Retry(ctx, streams, jobStream, id); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "requeued"})
}

// DeleteEntry drops a dead letter entry
func DeleteEntry(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	ctx, queue, err := ectoinject.GetContext[*redis.DLQ](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	if err := queue.Delete(ctx, id); err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete entry")
	}

	return c.NoContent(http.StatusNoContent)
}
