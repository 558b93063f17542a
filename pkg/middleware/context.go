// Package middleware holds the echo middleware for the operational API.
package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	appctx "github.com/Ramsey-B/bramble/pkg/context"
)

// RequestContext copies the request and tenant headers into the request
// context so repositories and loggers can see them. A missing request id is
// generated.
func RequestContext() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := req.Context()

			requestID := req.Header.Get("X-Request-Id")
			if requestID == "" {
				requestID = uuid.NewString()
			}
			ctx = appctx.SetRequestID(ctx, requestID)

			if tenantID := req.Header.Get("X-Tenant-Id"); tenantID != "" {
				ctx = appctx.SetTenantID(ctx, tenantID)
			}

			c.Response().Header().Set("X-Request-Id", requestID)
			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}
