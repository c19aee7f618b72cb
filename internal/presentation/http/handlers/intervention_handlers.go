package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AtRiskMedia/intervene/internal/application/services"
	"github.com/AtRiskMedia/intervene/internal/domain/intervention"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/messaging"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/intervene/internal/presentation/http/middleware"
)

// InterventionHandlers serves directive dispatch and the push socket.
type InterventionHandlers struct {
	pipeline *services.PipelineService
	hub      *messaging.PushHub
	logger   *logging.ChanneledLogger
}

// NewInterventionHandlers creates intervention handlers with injected dependencies
func NewInterventionHandlers(pipeline *services.PipelineService, hub *messaging.PushHub, logger *logging.ChanneledLogger) *InterventionHandlers {
	return &InterventionHandlers{pipeline: pipeline, hub: hub, logger: logger}
}

// PostDispatch handles POST /api/v1/interventions/dispatch. The directive is
// delivered through every channel its action names that the tenant has on.
func (h *InterventionHandlers) PostDispatch(c *gin.Context) {
	tenantID, ok := middleware.GetTenantID(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "tenant context not found"})
		return
	}

	var d intervention.Directive
	if err := c.ShouldBindJSON(&d); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid directive", "details": err.Error()})
		return
	}
	if d.SessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId is required"})
		return
	}
	d.TenantID = tenantID

	res, err := h.pipeline.Dispatch(c.Request.Context(), d)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, res)
}

// GetPush handles GET /api/v1/push?sessionId= and upgrades to a websocket.
func (h *InterventionHandlers) GetPush(c *gin.Context) {
	tenantID, ok := middleware.GetTenantID(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "tenant context not found"})
		return
	}
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId is required"})
		return
	}
	if err := h.hub.Serve(c.Writer, c.Request, tenantID, sessionID); err != nil {
		// The upgrader has already written the HTTP error.
		h.logger.WithSession(logging.ChannelPush, tenantID, sessionID).Debug("Push upgrade failed", "error", err)
	}
}
