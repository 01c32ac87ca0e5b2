package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/guttosm/spimexpulse/internal/logger"
	"github.com/guttosm/spimexpulse/internal/metrics"
)

// RequestLogger is a Gin middleware that logs method, route, status code,
// request latency, and request ID (if available), and records the HTTP metrics.
//
// Usage:
//
//	router := gin.New()
//	router.Use(middleware.RequestID(), middleware.RequestLogger())
//
// Example log output:
//
//	{"level":"info","request_id":"123e4567-...","method":"GET","path":"/api/v1/last_dates","status":200,"latency_ms":3,"msg":"http_request"}
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		// unmatched routes share one label
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.ObserveHTTPRequest(method, route, status, latency)

		ev := logger.L().Info()
		if status >= 500 {
			ev = logger.L().Error()
		}
		ev.
			Str("request_id", RequestIDFrom(c)).
			Str("method", method).
			Str("path", path).
			Str("query", c.Request.URL.RawQuery).
			Int("status", status).
			Int64("latency_ms", latency.Milliseconds()).
			Str("client_ip", c.ClientIP()).
			Msg("http_request")
	}
}
