package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"github.com/guttosm/spimexpulse/internal/domain/dto"
	"github.com/guttosm/spimexpulse/internal/logger"
	"github.com/guttosm/spimexpulse/internal/metrics"
)

// RecoveryMiddleware turns a handler panic into a 500 JSON error and counts it.
//
// Behavior:
//   - http.ErrAbortHandler is re-raised so net/http can drop the connection as requested.
//   - The panic value, route and stack are logged with the request id.
//   - When the handler already wrote a response, the request is only aborted.
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			if err, ok := r.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(r)
			}

			route := c.FullPath()
			if route == "" {
				route = "unmatched"
			}
			metrics.ObservePanic(route)
			logger.L().Error().
				Str("request_id", RequestIDFrom(c)).
				Str("method", c.Request.Method).
				Str("route", route).
				Str("panic", fmt.Sprintf("%v", r)).
				Bytes("stack", debug.Stack()).
				Msg("panic recovered")

			if c.Writer.Written() {
				c.Abort()
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, dto.NewErrorResponse("Internal server error", fmt.Errorf("%v", r)))
		}()

		c.Next()
	}
}
