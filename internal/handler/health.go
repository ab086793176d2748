package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Pinger reports whether a backing store is reachable.
type Pinger func(ctx context.Context) error

// Health answers load balancer probes with "ok".  When ping is set the
// store is checked too, and an unreachable store answers 503.
func Health(ping Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		if ping != nil {
			ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				return c.String(http.StatusServiceUnavailable, "store unavailable")
			}
		}
		return c.String(http.StatusOK, "ok")
	}
}
