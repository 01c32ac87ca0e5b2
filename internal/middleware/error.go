package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/guttosm/spimexpulse/internal/domain/dto"
	"github.com/guttosm/spimexpulse/internal/logger"
)

// ErrorHandler turns errors attached with c.Error into a JSON ErrorResponse
// when the handler did not write a response itself.
func ErrorHandler(c *gin.Context) {
	c.Next()

	if len(c.Errors) == 0 || c.Writer.Written() {
		return
	}
	err := c.Errors.Last().Err
	logger.L().Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")

	status := c.Writer.Status()
	if status < http.StatusBadRequest {
		status = http.StatusInternalServerError
	}
	c.JSON(status, dto.NewErrorResponse(http.StatusText(status), err))
}

// AbortWithError stops the chain and writes an ErrorResponse with the given status.
func AbortWithError(c *gin.Context, status int, message string, err error) {
	c.AbortWithStatusJSON(status, dto.NewErrorResponse(message, err))
}
