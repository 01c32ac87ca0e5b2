package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/guttosm/spimexpulse/internal/metrics"
	"github.com/guttosm/spimexpulse/internal/middleware"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

const requestTimeout = 10 * time.Second

// NewRouter creates a Gin engine with routes configured.
// It receives a Handler instance with all business logic already injected.
//
// Responsibilities:
//   - Registers global middlewares (RequestID, Logger, Recovery, ErrorHandler, RateLimiter).
//   - Adds request timeout handling (10 seconds).
//   - Mounts Swagger docs (/swagger/*any) and Prometheus metrics (/metrics).
//   - Configures API v1 routes (/api/v1).
//
// Note:
//   - Health and readiness endpoints (/healthz, /readyz) are registered in app.InitializeApp().
func NewRouter(handler *Handler) *gin.Engine {
	router := gin.New()

	// ─── Middlewares ───────────────────────────────
	router.Use(
		middleware.RequestID(),
		middleware.RequestLogger(),
		middleware.RecoveryMiddleware(),
		middleware.ErrorHandler,
	)

	// ─── Timeout ──────────────────────────────────
	router.Use(func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	})

	// ─── Swagger / Metrics ────────────────────────
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	// ─── API v1 ───────────────────────────────────
	v1 := router.Group("/api/v1", middleware.RateLimiter())
	{
		v1.GET("/last_dates", handler.GetLastDates)
		v1.GET("/dynamics", handler.GetDynamics)
		v1.GET("/trading_results", handler.GetTradingResults)
	}

	return router
}
