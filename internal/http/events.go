package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/jmehdipour/hookrelay/internal/dispatcher"
	"github.com/jmehdipour/hookrelay/internal/http/middleware"
	"github.com/jmehdipour/hookrelay/internal/model"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

// Triggerer is the dispatcher entry point business modules call.
type Triggerer interface {
	Trigger(ctx context.Context, tenantID, event string, payload model.Payload) (int, error)
}

type triggerReq struct {
	Event string        `json:"event"`
	Data  model.Payload `json:"data"`
}

func triggerHandler(d Triggerer) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req triggerReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		req.Event = strings.TrimSpace(req.Event)
		if req.Event == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "event is required"})
		}

		tenantID, ok := middleware.TenantIDFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		n, err := d.Trigger(c.Request().Context(), tenantID, req.Event, req.Data)
		if err != nil {
			if errors.Is(err, dispatcher.ErrInvalidTrigger) {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
			}
			log.Errorf("trigger %s for tenant %s failed: %v", req.Event, tenantID, err)
			if n == 0 {
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "enqueue failed"})
			}
			// partial fan-out: report what was enqueued
		}

		return c.JSON(http.StatusAccepted, map[string]any{
			"event":    req.Event,
			"enqueued": n,
		})
	}
}
