package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/jmehdipour/hookrelay/internal/config"
	"github.com/jmehdipour/hookrelay/internal/http/middleware"
	"github.com/jmehdipour/hookrelay/internal/logger"
	"github.com/jmehdipour/hookrelay/internal/metrics"
	"github.com/jmehdipour/hookrelay/internal/repository"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deps are the engine components the HTTP surface is wired to.
type Deps struct {
	Dispatcher    Triggerer
	Subscriptions Subscriptions
	Attempts      repository.AttemptHistory
	Redis         *redis.Client // nil disables rate limiting
	Log           *zap.Logger
}

type Server struct {
	e   *echo.Echo
	log *zap.Logger
}

func NewServer(cfg config.Config, d Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetLevel(echoLogLevel(cfg.Log.Level))
	log.SetLevel(echoLogLevel(cfg.Log.Level))
	e.Use(echoMid.Recover(), echoMid.Logger())

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// middlewares
	tenantMW := middleware.TenantMiddleware()
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          d.Redis,
		RPS:            cfg.RateLimit.RPS,
		KeyPrefix:      "rl:tenant:",
		Window:         time.Second,
		RetryAfterHint: true,
	})

	// routes
	v1 := e.Group("/v1", tenantMW)
	v1.POST("/events", triggerHandler(d.Dispatcher), rlMW)
	v1.GET("/webhooks/:id", getWebhookHandler(d.Subscriptions))
	v1.PUT("/webhooks/:id/status", setStatusHandler(d.Subscriptions))
	v1.POST("/webhooks/:id/enable", enableHandler(d.Subscriptions))
	v1.GET("/webhooks/:id/attempts", listAttemptsHandler(d.Attempts))

	return &Server{e: e, log: logger.OrNop(d.Log)}
}

func (s *Server) Handler() http.Handler { return s.e }

func (s *Server) Start(addr string) error {
	s.log.Info("http listening", zap.String("addr", addr))
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }

func echoLogLevel(level string) log.Lvl {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return log.DEBUG
	case "warn":
		return log.WARN
	case "error":
		return log.ERROR
	default:
		return log.INFO
	}
}
