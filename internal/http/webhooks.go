package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/jmehdipour/hookrelay/internal/http/middleware"
	"github.com/jmehdipour/hookrelay/internal/model"
	"github.com/jmehdipour/hookrelay/internal/repository"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

// Subscriptions is the part of the registry exposed over HTTP.
type Subscriptions interface {
	GetByID(ctx context.Context, tenantID, id string) (*model.Subscription, error)
	SetStatus(ctx context.Context, tenantID, id string, status model.SubscriptionStatus) error
	Enable(ctx context.Context, tenantID, id string) error
}

func getWebhookHandler(subs Subscriptions) echo.HandlerFunc {
	return func(c echo.Context) error {
		tenantID, _ := middleware.TenantIDFromCtx(c)
		sub, err := subs.GetByID(c.Request().Context(), tenantID, c.Param("id"))
		if err != nil {
			log.Errorf("get webhook failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}
		if sub == nil {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "webhook not found"})
		}
		return c.JSON(http.StatusOK, sub)
	}
}

type statusReq struct {
	Status string `json:"status"`
}

func setStatusHandler(subs Subscriptions) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req statusReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		st, ok := model.ParseSubscriptionStatus(req.Status)
		if !ok || st == model.SubscriptionDisabled {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "status must be active or inactive"})
		}

		tenantID, _ := middleware.TenantIDFromCtx(c)
		return writeResult(c, subs.SetStatus(c.Request().Context(), tenantID, c.Param("id"), st), st)
	}
}

func enableHandler(subs Subscriptions) echo.HandlerFunc {
	return func(c echo.Context) error {
		tenantID, _ := middleware.TenantIDFromCtx(c)
		return writeResult(c, subs.Enable(c.Request().Context(), tenantID, c.Param("id")), model.SubscriptionActive)
	}
}

func writeResult(c echo.Context, err error, st model.SubscriptionStatus) error {
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, map[string]string{"id": c.Param("id"), "status": st.String()})
	case errors.Is(err, repository.ErrNotFound):
		// also returned for a disabled webhook on SetStatus; only Enable resets the circuit
		return c.JSON(http.StatusNotFound, map[string]string{"error": "webhook not found or disabled"})
	case errors.Is(err, repository.ErrInvalidSubscription):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		log.Errorf("update webhook %s failed: %v", c.Param("id"), err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
	}
}

func listAttemptsHandler(history repository.AttemptHistory) echo.HandlerFunc {
	return func(c echo.Context) error {
		tenantID, _ := middleware.TenantIDFromCtx(c)

		limit := 50
		offset := 0
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				limit = n
			}
		}
		if v := c.QueryParam("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				offset = n
			}
		}

		attempts, err := history.ListBySubscription(c.Request().Context(), tenantID, c.Param("id"), limit, offset)
		if err != nil {
			c.Logger().Errorf("list attempts failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(attempts),
			"results": attempts,
		})
	}
}
