package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AtRiskMedia/intervene/internal/application/container"
	"github.com/AtRiskMedia/intervene/internal/application/services"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/intervene/pkg/config"
)

const policyDocument = `
tenants:
  - tenantId: acme
    tier: pro
    enabledChannels: [push]
    rules:
      - id: help
        triggerEmotion: frustration
        minConfidence: 80
        priority: 1
        cooldownSeconds: 30
        action: push
        active: true
        payload:
          intervention: help_chat
`

func newEngine(t *testing.T, adminToken string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	policyPath := filepath.Join(dir, "tenants.yaml")
	require.NoError(t, os.WriteFile(policyPath, []byte(policyDocument), 0o644))

	prev := struct {
		driver, sqlite, source, file, admin, key string
	}{config.DatabaseDriver, config.SQLitePath, config.PolicySource, config.PolicyFile, config.AdminToken, config.SecretEncryptionKey}
	t.Cleanup(func() {
		config.DatabaseDriver, config.SQLitePath = prev.driver, prev.sqlite
		config.PolicySource, config.PolicyFile = prev.source, prev.file
		config.AdminToken, config.SecretEncryptionKey = prev.admin, prev.key
	})
	config.DatabaseDriver = "sqlite3"
	config.SQLitePath = filepath.Join(dir, "intervene.db")
	config.PolicySource = container.PolicySourceFile
	config.PolicyFile = policyPath
	config.AdminToken = adminToken
	config.SecretEncryptionKey = ""

	c, err := container.New(context.Background(), logging.NewDiscardLogger(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return SetupRoutes(c)
}

func serve(r *gin.Engine, method, path, tenant, body string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	if tenant != "" {
		req.Header.Set("X-Tenant-ID", tenant)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSystemEndpoints(t *testing.T) {
	r := newEngine(t, "")

	w := serve(r, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	var health map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "ok", health["status"])

	w = serve(r, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBatchThroughFullStack(t *testing.T) {
	r := newEngine(t, "")

	body := `{"sessionId":"s-1","samples":[
		{"kind":"pointer-down","timestamp":1000,"position":{"x":100,"y":100},"targetHint":"button"},
		{"kind":"pointer-down","timestamp":1120,"position":{"x":110,"y":105},"targetHint":"button"},
		{"kind":"pointer-down","timestamp":1240,"position":{"x":105,"y":110},"targetHint":"button"}
	]}`
	w := serve(r, http.MethodPost, "/api/v1/behavior/batch", "acme", body)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var res services.IngestResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, services.IngestResult{Processed: 3, Emitted: 1}, res)

	w = serve(r, http.MethodGet, "/api/v1/sessions/s-1/state", "acme", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"frustration"`)

	w = serve(r, http.MethodDelete, "/api/v1/sessions/s-1", "acme", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = serve(r, http.MethodGet, "/api/v1/sessions/s-1/state", "acme", "")
	assert.NotContains(t, w.Body.String(), `"frustration"`)

	w = serve(r, http.MethodPost, "/api/v1/behavior/batch", "initech", body)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(r, http.MethodPost, "/api/v1/behavior/batch", "", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminRoutesRequireToken(t *testing.T) {
	r := newEngine(t, "")
	assert.Equal(t, http.StatusForbidden, serve(r, http.MethodGet, "/admin/logs/levels", "", "").Code)

	r = newEngine(t, "sekret")
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/admin/logs/levels", "", "").Code)
	w := serve(r, http.MethodGet, "/admin/logs/levels", "", "", "Authorization", "Bearer sekret")
	assert.Equal(t, http.StatusOK, w.Code)
}
