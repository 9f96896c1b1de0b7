package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/fhirsearch/internal/platform/db"
	"github.com/ehr/fhirsearch/internal/platform/fhir"
	"github.com/ehr/fhirsearch/internal/platform/store"
)

// TenantHeader names the tenant of a request.
const TenantHeader = "X-Tenant-ID"

// Tenant scopes the request context to the tenant named by X-Tenant-ID, or
// defaultTenant. The query string is left alone since every query
// parameter of a search is a search parameter. Tenant ids follow the schema
// naming rules of the PostgreSQL store for every backend.
func Tenant(defaultTenant string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tenantID := extractTenantID(c, defaultTenant)
			if !db.ValidTenantID(tenantID) {
				return echo.NewHTTPError(http.StatusBadRequest, fhir.InvalidOutcome("invalid tenant identifier: "+tenantID))
			}

			ctx := store.WithTenant(c.Request().Context(), tenantID)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("tenant_id", tenantID)
			return next(c)
		}
	}
}

func extractTenantID(c echo.Context, defaultTenant string) string {
	if tid := c.Request().Header.Get(TenantHeader); tid != "" {
		return tid
	}
	return defaultTenant
}
