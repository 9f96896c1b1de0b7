package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/fhirsearch/internal/platform/fhir"
)

// RequestTimeout puts a deadline on the request context. Store scans, chain
// hops and include rounds stop once it passes, and the DeadlineExceeded
// they return becomes a 504 timeout OperationOutcome. A zero timeout
// disables the middleware.
//
// The handler runs on the request goroutine: echo recycles its Context once
// the chain returns, so nothing may keep using it in the background.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if timeout <= 0 {
			return next
		}
		return func(c echo.Context) error {
			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if err != nil && errors.Is(err, context.DeadlineExceeded) && !c.Response().Committed {
				return echo.NewHTTPError(http.StatusGatewayTimeout, fhir.TimeoutOutcome()).SetInternal(err)
			}
			return err
		}
	}
}
