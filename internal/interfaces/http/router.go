// Package http serves the admin API: probes, Prometheus metrics, engine
// counters and the last run summary.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/stockscan/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/stockscan/internal/interfaces/http/handlers"
	"github.com/turtacn/stockscan/internal/interfaces/http/middleware"
)

// RouterConfig aggregates the handlers and middleware of the admin API.
// Nil handlers leave their routes unregistered.
type RouterConfig struct {
	HealthHandler *handlers.HealthHandler
	EngineHandler *handlers.EngineHandler
	// MetricsHandler is usually MetricsCollector.Handler().
	MetricsHandler http.Handler

	Logger  logging.Logger
	Logging middleware.LoggingConfig
	// Mode is the gin mode: debug, release or test.
	Mode string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogging(cfg.Logger, cfg.Logging))

	if h := cfg.HealthHandler; h != nil {
		r.GET("/healthz", h.Liveness)
		r.GET("/readyz", h.Readiness)
	}
	if cfg.MetricsHandler != nil {
		r.GET("/metrics", gin.WrapH(cfg.MetricsHandler))
	}
	if h := cfg.EngineHandler; h != nil {
		v1 := r.Group("/v1")
		v1.GET("/stats", h.Stats)
		v1.GET("/runs/last", h.LastRun)
	}
	return r
}
