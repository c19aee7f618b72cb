package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AtRiskMedia/intervene/internal/infrastructure/observability/logging"
)

// RequestLogger logs each request on the system channel. Server errors are
// logged at error level, everything else at debug.
func RequestLogger(logger *logging.ChanneledLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"duration", time.Since(start),
		}
		if id, ok := GetTenantID(c); ok {
			attrs = append(attrs, "tenantId", id)
		}
		if status >= 500 {
			logger.System().Error("Request failed", attrs...)
			return
		}
		logger.System().Debug("Request handled", attrs...)
	}
}
