package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/guttosm/spimexpulse/internal/logger"
)

const (
	RequestIDKey    = "request_id"
	RequestIDHeader = "X-Request-ID"
)

// RequestID is a Gin middleware that tags each request with an identifier.
//
// Behavior:
//   - Reuses a well-formed X-Request-ID sent by the caller, otherwise generates a UUID (v4).
//   - Stores it in the Gin context under "request_id" and echoes it in the response header.
//   - Attaches a zerolog child logger carrying the id to the request context, so
//     zerolog.Ctx(c.Request.Context()) logs with the id downstream.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}

		c.Set(RequestIDKey, id)
		c.Writer.Header().Set(RequestIDHeader, id)

		l := logger.L().With().Str(RequestIDKey, id).Logger()
		c.Request = c.Request.WithContext(l.WithContext(c.Request.Context()))

		c.Next()
	}
}

// RequestIDFrom returns the id set by RequestID, or "" when the middleware did not run.
func RequestIDFrom(c *gin.Context) string {
	return c.GetString(RequestIDKey)
}
