package middleware

import (
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v4"
)

const (
	HeaderTenantID = "X-Tenant-ID"

	ctxTenantID = "tenant_id"
)

// TenantIDFromCtx extracts the tenant set by TenantMiddleware.
func TenantIDFromCtx(c echo.Context) (string, bool) {
	id, ok := c.Get(ctxTenantID).(string)
	return id, ok && id != ""
}

// TenantMiddleware scopes the request to the tenant named in X-Tenant-ID.
// The header is set by the upstream auth gateway after authenticating the caller.
func TenantMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := strings.TrimSpace(c.Request().Header.Get(HeaderTenantID))
			if id == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing tenant"})
			}
			if len(id) > 64 {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid tenant"})
			}
			c.Set(ctxTenantID, id)
			return next(c)
		}
	}
}
