// Package middleware provides HTTP middleware for the presentation layer.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AtRiskMedia/intervene/internal/domain/intervention"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/observability/logging"
)

const (
	tenantIDKey = "tenantId"
	policyKey   = "policy"

	policyLookupTimeout = 5 * time.Second
)

// TenantMiddleware resolves the tenant from the X-Tenant-ID header (or the
// tenantId query parameter for websocket upgrades) and loads its policy.
func TenantMiddleware(policies intervention.PolicyStore, logger *logging.ChanneledLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.GetHeader("X-Tenant-ID")
		if tenantID == "" {
			tenantID = c.Query("tenantId")
		}
		if tenantID == "" {
			errMsg := "X-Tenant-ID header or tenantId query param is required"
			logger.Tenant().Warn(errMsg, "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": errMsg})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), policyLookupTimeout)
		policy, err := policies.Policy(ctx, tenantID)
		cancel()
		if errors.Is(err, intervention.ErrUnknownTenant) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "tenant not found"})
			return
		}
		if err != nil {
			logger.WithTenant(logging.ChannelTenant, tenantID).Error("Tenant policy unavailable", "error", err)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "tenant policy unavailable"})
			return
		}

		c.Set(tenantIDKey, tenantID)
		c.Set(policyKey, policy)
		c.Next()
	}
}

// GetTenantID returns the tenant resolved by TenantMiddleware.
func GetTenantID(c *gin.Context) (string, bool) {
	id, ok := c.Get(tenantIDKey)
	if !ok {
		return "", false
	}
	s, ok := id.(string)
	return s, ok && s != ""
}

// GetPolicy returns the policy loaded by TenantMiddleware.
func GetPolicy(c *gin.Context) (*intervention.TenantPolicy, bool) {
	p, ok := c.Get(policyKey)
	if !ok {
		return nil, false
	}
	policy, ok := p.(*intervention.TenantPolicy)
	return policy, ok
}
