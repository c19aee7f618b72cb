package handlers

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AtRiskMedia/intervene/internal/infrastructure/observability/logging"
)

// PolicyInvalidator drops cached tenant policy.
type PolicyInvalidator interface {
	Invalidate(tenantID string)
	Purge()
}

// AdminHandlers serves operator endpoints: log levels, the live log stream
// and policy cache invalidation.
type AdminHandlers struct {
	logger      *logging.ChanneledLogger
	broadcaster *logging.LogBroadcaster
	policies    PolicyInvalidator
}

// NewAdminHandlers creates admin handlers. broadcaster may be nil.
func NewAdminHandlers(logger *logging.ChanneledLogger, broadcaster *logging.LogBroadcaster, policies PolicyInvalidator) *AdminHandlers {
	return &AdminHandlers{logger: logger, broadcaster: broadcaster, policies: policies}
}

// StreamLogs handles GET /admin/logs/stream as server-sent events.
func (h *AdminHandlers) StreamLogs(c *gin.Context) {
	if h.broadcaster == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "log streaming not enabled"})
		return
	}

	level, ok := logging.ParseLevel(c.DefaultQuery("level", "INFO"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid log level specified"})
		return
	}
	client := h.broadcaster.Subscribe(logging.AppliedFilters{
		Channel: logging.Channel(c.DefaultQuery("channel", "all")),
		Level:   level,
	})
	defer h.broadcaster.Unsubscribe(client)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	fmt.Fprintf(c.Writer, ": connection established\n\n")
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case message, ok := <-client.Channel:
			if !ok {
				return false
			}
			fmt.Fprintf(w, "data: %s\n\n", message)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// GetLogLevels handles GET /admin/logs/levels
func (h *AdminHandlers) GetLogLevels(c *gin.Context) {
	c.JSON(http.StatusOK, h.logger.GetChannelLevels())
}

// SetLogLevel handles POST /admin/logs/levels
func (h *AdminHandlers) SetLogLevel(c *gin.Context) {
	var req struct {
		Channel string `json:"channel" binding:"required"`
		Level   string `json:"level" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	level, ok := logging.ParseLevel(req.Level)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid log level specified"})
		return
	}
	if err := h.logger.SetChannelLevel(logging.Channel(req.Channel), level); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "message": fmt.Sprintf("Log level for channel '%s' set to '%s'", req.Channel, level)})
}

// PostInvalidatePolicy handles POST /admin/policies/invalidate. An optional
// tenantId query parameter limits it to one tenant.
func (h *AdminHandlers) PostInvalidatePolicy(c *gin.Context) {
	if tenantID := c.Query("tenantId"); tenantID != "" {
		h.policies.Invalidate(tenantID)
		h.logger.WithTenant(logging.ChannelTenant, tenantID).Info("Policy cache invalidated")
		c.JSON(http.StatusOK, gin.H{"status": "ok", "tenantId": tenantID})
		return
	}
	h.policies.Purge()
	h.logger.Tenant().Info("Policy cache purged")
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
