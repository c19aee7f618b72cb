package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AtRiskMedia/intervene/internal/application/services"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/intervene/internal/presentation/http/middleware"
)

// LearningHandlers serves outcomes, predictions and insights.
type LearningHandlers struct {
	outcomes *services.OutcomeService
	logger   *logging.ChanneledLogger
}

// NewLearningHandlers creates learning handlers with injected dependencies
func NewLearningHandlers(outcomes *services.OutcomeService, logger *logging.ChanneledLogger) *LearningHandlers {
	return &LearningHandlers{outcomes: outcomes, logger: logger}
}

// PostOutcome handles POST /api/v1/outcomes
func (h *LearningHandlers) PostOutcome(c *gin.Context) {
	tenantID, ok := middleware.GetTenantID(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "tenant context not found"})
		return
	}
	var req services.OutcomeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid outcome", "details": err.Error()})
		return
	}
	if err := h.outcomes.RecordOutcome(tenantID, req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "recorded"})
}

// PostPredict handles POST /api/v1/predict
func (h *LearningHandlers) PostPredict(c *gin.Context) {
	tenantID, ok := middleware.GetTenantID(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "tenant context not found"})
		return
	}
	var req struct {
		Sequence []string `json:"sequence"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	p, err := h.outcomes.Predict(tenantID, req.Sequence)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, p)
}

// GetInsights handles GET /api/v1/insights
func (h *LearningHandlers) GetInsights(c *gin.Context) {
	tenantID, ok := middleware.GetTenantID(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "tenant context not found"})
		return
	}
	c.JSON(http.StatusOK, h.outcomes.Insights(c.Request.Context(), tenantID))
}

// GetMoat handles GET /api/v1/moat
func (h *LearningHandlers) GetMoat(c *gin.Context) {
	c.JSON(http.StatusOK, h.outcomes.Moat())
}
