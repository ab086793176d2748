// Package router defines how HTTP routes are registered for the API.
package router

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/live-auction/internal/handler"
	"github.com/iliyamo/live-auction/internal/middleware"
	"github.com/iliyamo/live-auction/internal/model"
)

// RegisterRoutes registers unauthenticated endpoints.
func RegisterRoutes(e *echo.Echo, ping handler.Pinger) {
	e.GET("/healthz", handler.Health(ping))
}

// RegisterRealtime mounts the websocket gateway at /ws.  The gateway
// authenticates during the handshake itself, so no echo middleware runs
// in front of it.
func RegisterRealtime(e *echo.Echo, gateway http.Handler) {
	e.GET("/ws", echo.WrapHandler(gateway))
}

// RegisterBids registers bid submission under /v1.  Only bidders may
// submit, and the limiter runs after authentication so its key can use
// the caller's id.
func RegisterBids(e *echo.Echo, h *handler.BidHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	g := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleBidder),
	)
	g.POST("/lots/:id/bids", h.PlaceBid, limiter)
}

// RegisterScheduler registers lifecycle diagnostics.  Forcing a tick is
// reserved for super admins.
func RegisterScheduler(e *echo.Echo, h *handler.SchedulerHandler, jwtSecret string) {
	g := e.Group("/v1/scheduler", middleware.JWTAuth(jwtSecret))
	g.GET("/status", h.Status, middleware.RequireRole(model.RoleAdmin, model.RoleSuperAdmin))
	g.POST("/tick", h.Tick, middleware.RequireRole(model.RoleSuperAdmin))
}
