// Package routes provides HTTP route configuration for the presentation layer.
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AtRiskMedia/intervene/internal/application/container"
	"github.com/AtRiskMedia/intervene/internal/presentation/http/handlers"
	"github.com/AtRiskMedia/intervene/internal/presentation/http/middleware"
	"github.com/AtRiskMedia/intervene/pkg/config"
)

// SetupRoutes configures all HTTP routes and middleware with dependency injection.
func SetupRoutes(c *container.Container) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(c.Logger))
	r.Use(middleware.CORSMiddleware(config.AllowedOrigins))

	behaviorHandlers := handlers.NewBehaviorHandlers(c.IngestService, c.Logger)
	interventionHandlers := handlers.NewInterventionHandlers(c.PipelineService, c.PushHub, c.Logger)
	learningHandlers := handlers.NewLearningHandlers(c.OutcomeService, c.Logger)
	systemHandlers := handlers.NewSystemHandlers(c.DB, c.Snapshot, c.Logger)
	adminHandlers := handlers.NewAdminHandlers(c.Logger, c.LogBroadcaster, c.Policies)

	r.GET("/health", systemHandlers.GetHealth)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(c.Gatherer, promhttp.HandlerOpts{})))

	admin := r.Group("/admin")
	admin.Use(middleware.AdminAuthMiddleware(config.AdminToken))
	{
		admin.GET("/logs/stream", adminHandlers.StreamLogs)
		admin.GET("/logs/levels", adminHandlers.GetLogLevels)
		admin.POST("/logs/levels", adminHandlers.SetLogLevel)
		admin.POST("/policies/invalidate", adminHandlers.PostInvalidatePolicy)
	}

	api := r.Group("/api/v1")
	api.Use(middleware.TenantMiddleware(c.Policies, c.Logger))
	{
		api.POST("/behavior/batch", behaviorHandlers.PostBatch)
		api.GET("/sessions/:sessionId/state", behaviorHandlers.GetSessionState)
		api.DELETE("/sessions/:sessionId", behaviorHandlers.DeleteSession)

		api.POST("/interventions/dispatch", interventionHandlers.PostDispatch)
		api.GET("/push", interventionHandlers.GetPush)

		api.POST("/outcomes", learningHandlers.PostOutcome)
		api.POST("/predict", learningHandlers.PostPredict)
		api.GET("/insights", learningHandlers.GetInsights)
		api.GET("/moat", learningHandlers.GetMoat)
	}

	return r
}
