package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AtRiskMedia/intervene/internal/infrastructure/cleanup"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/observability/logging"
)

// HealthChecker reports whether the backing store answers.
type HealthChecker interface {
	Healthy(ctx context.Context) error
}

// SystemHandlers serves liveness information.
type SystemHandlers struct {
	db      HealthChecker
	stats   func() cleanup.Snapshot
	started time.Time
	logger  *logging.ChanneledLogger
}

// NewSystemHandlers creates system handlers. stats may be nil.
func NewSystemHandlers(db HealthChecker, stats func() cleanup.Snapshot, logger *logging.ChanneledLogger) *SystemHandlers {
	return &SystemHandlers{db: db, stats: stats, started: time.Now(), logger: logger}
}

// GetHealth handles GET /health
func (h *SystemHandlers) GetHealth(c *gin.Context) {
	body := gin.H{
		"status": "ok",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	}
	if h.stats != nil {
		s := h.stats()
		body["sessions"] = s.Sessions
		body["pushConnections"] = s.PushConnections
		body["pendingEvents"] = s.PendingEvents
		body["webhooksInFlight"] = s.InFlight
	}

	if h.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Healthy(ctx); err != nil {
			h.logger.Database().Error("Health check failed", "error", err)
			body["status"] = "degraded"
			body["database"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
		body["database"] = "ok"
	}
	c.JSON(http.StatusOK, body)
}
