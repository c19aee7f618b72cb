// Package handlers provides HTTP request handlers for the presentation layer.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AtRiskMedia/intervene/internal/application/services"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/intervene/internal/presentation/http/middleware"
)

// BehaviorHandlers serves the collector ingest and session state endpoints.
type BehaviorHandlers struct {
	ingest *services.IngestService
	logger *logging.ChanneledLogger
}

// NewBehaviorHandlers creates behavior handlers with injected dependencies
func NewBehaviorHandlers(ingest *services.IngestService, logger *logging.ChanneledLogger) *BehaviorHandlers {
	return &BehaviorHandlers{ingest: ingest, logger: logger}
}

// PostBatch handles POST /api/v1/behavior/batch
func (h *BehaviorHandlers) PostBatch(c *gin.Context) {
	tenantID, ok := middleware.GetTenantID(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "tenant context not found"})
		return
	}

	var batch services.Batch
	if err := c.ShouldBindJSON(&batch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid batch", "details": err.Error()})
		return
	}

	res, err := h.ingest.Ingest(tenantID, batch)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, res)
	case errors.Is(err, services.ErrRateLimited):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrBatchTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}

// GetSessionState handles GET /api/v1/sessions/:sessionId/state
func (h *BehaviorHandlers) GetSessionState(c *gin.Context) {
	tenantID, ok := middleware.GetTenantID(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "tenant context not found"})
		return
	}
	c.JSON(http.StatusOK, h.ingest.State(tenantID, c.Param("sessionId")))
}

// DeleteSession handles DELETE /api/v1/sessions/:sessionId
func (h *BehaviorHandlers) DeleteSession(c *gin.Context) {
	tenantID, ok := middleware.GetTenantID(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "tenant context not found"})
		return
	}
	h.ingest.EndSession(tenantID, c.Param("sessionId"))
	c.Status(http.StatusNoContent)
}
