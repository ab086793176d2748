package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/live-auction/internal/scheduler"
)

// Ticker is the part of the lifecycle loop exposed to operators.
type Ticker interface {
	Tick(ctx context.Context) (time.Duration, error)
	Status() scheduler.Status
}

// SchedulerHandler serves lifecycle diagnostics.
type SchedulerHandler struct {
	loop Ticker
}

// NewSchedulerHandler panics on a nil loop.
func NewSchedulerHandler(loop Ticker) *SchedulerHandler {
	if loop == nil {
		panic("nil scheduler passed to NewSchedulerHandler")
	}
	return &SchedulerHandler{loop: loop}
}

// Status handles GET /v1/scheduler/status.
func (h *SchedulerHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, h.loop.Status())
}

// Tick handles POST /v1/scheduler/tick.  It runs one pass immediately,
// alongside the timer loop; both passes are conditional so overlap is
// harmless.
func (h *SchedulerHandler) Tick(c echo.Context) error {
	delay, err := h.loop.Tick(context.WithoutCancel(c.Request().Context()))
	body := echo.Map{"next_delay_ms": delay.Milliseconds(), "status": h.loop.Status()}
	if err != nil {
		body["error"] = err.Error()
		return c.JSON(http.StatusInternalServerError, body)
	}
	return c.JSON(http.StatusOK, body)
}
