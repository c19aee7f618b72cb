package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AtRiskMedia/intervene/internal/application/classifier"
	"github.com/AtRiskMedia/intervene/internal/application/learner"
	"github.com/AtRiskMedia/intervene/internal/application/router"
	"github.com/AtRiskMedia/intervene/internal/application/services"
	"github.com/AtRiskMedia/intervene/internal/domain/behavior"
	"github.com/AtRiskMedia/intervene/internal/domain/intervention"
	"github.com/AtRiskMedia/intervene/internal/domain/learning"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/cleanup"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/clock"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/observability/metrics"
	"github.com/AtRiskMedia/intervene/internal/presentation/http/middleware"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type staticPolicies map[string]*intervention.TenantPolicy

func (s staticPolicies) Policy(_ context.Context, tenantID string) (*intervention.TenantPolicy, error) {
	if p, ok := s[tenantID]; ok {
		return p, nil
	}
	return nil, intervention.ErrUnknownTenant
}

type pushes struct{ sent []intervention.Directive }

func (p *pushes) Send(d intervention.Directive) error {
	p.sent = append(p.sent, d)
	return nil
}

type healthFunc func(context.Context) error

func (f healthFunc) Healthy(ctx context.Context) error { return f(ctx) }

type invalidations struct {
	tenants []string
	purged  bool
}

func (i *invalidations) Invalidate(id string) { i.tenants = append(i.tenants, id) }
func (i *invalidations) Purge()               { i.purged = true }

type fixture struct {
	engine *gin.Engine
	push   *pushes
	cache  *invalidations
}

func newFixture(t *testing.T, ingestCfg services.IngestConfig, adminToken string, health HealthChecker) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logging.NewDiscardLogger()
	m := metrics.NewUnregistered()
	clk := clock.NewFake(epoch)
	policies := staticPolicies{"acme": {
		TenantID:        "acme",
		Tier:            intervention.TierPro,
		EnabledChannels: []intervention.Channel{intervention.ChannelPush},
		Rules: []intervention.Rule{{
			ID: "help", TriggerEmotion: behavior.Frustration, MinConfidence: 70, Priority: 1,
			CooldownSeconds: 60, Action: intervention.ActionPush, Active: true,
			Payload: intervention.Payload{Intervention: "help_chat"}.ForAction(intervention.ActionPush),
		}},
	}}

	push := &pushes{}
	contexts := services.NewSessionContexts(16, time.Hour)
	rt := router.New(clk, logger, m)
	pipeline := services.NewPipelineService(rt, policies, push, nil, contexts, 16, 1, logger, m)
	ingest := services.NewIngestService(ingestCfg, classifier.New(classifier.DefaultConfig(), clk, logger, m), pipeline, rt, contexts, logger, m)
	outcomes := services.NewOutcomeService(learner.New(learner.DefaultConfig(), nil, clk, logger, m), nil, logger)
	cache := &invalidations{}

	behaviorHandlers := NewBehaviorHandlers(ingest, logger)
	interventionHandlers := NewInterventionHandlers(pipeline, nil, logger)
	learningHandlers := NewLearningHandlers(outcomes, logger)
	systemHandlers := NewSystemHandlers(health, func() cleanup.Snapshot { return cleanup.Snapshot{Sessions: 2} }, logger)
	adminHandlers := NewAdminHandlers(logger, nil, cache)

	r := gin.New()
	r.GET("/health", systemHandlers.GetHealth)
	admin := r.Group("/admin", middleware.AdminAuthMiddleware(adminToken))
	admin.GET("/logs/levels", adminHandlers.GetLogLevels)
	admin.POST("/logs/levels", adminHandlers.SetLogLevel)
	admin.GET("/logs/stream", adminHandlers.StreamLogs)
	admin.POST("/policies/invalidate", adminHandlers.PostInvalidatePolicy)

	api := r.Group("/api/v1", middleware.TenantMiddleware(policies, logger))
	api.POST("/behavior/batch", behaviorHandlers.PostBatch)
	api.GET("/sessions/:sessionId/state", behaviorHandlers.GetSessionState)
	api.POST("/interventions/dispatch", interventionHandlers.PostDispatch)
	api.GET("/push", interventionHandlers.GetPush)
	api.POST("/outcomes", learningHandlers.PostOutcome)
	api.POST("/predict", learningHandlers.PostPredict)
	api.GET("/insights", learningHandlers.GetInsights)
	api.GET("/moat", learningHandlers.GetMoat)

	return &fixture{engine: r, push: push, cache: cache}
}

func (f *fixture) do(method, path, tenant, body string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if tenant != "" {
		req.Header.Set("X-Tenant-ID", tenant)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

const burstBatch = `{"sessionId":"s1","clientTimestamp":1300,"pageUrl":"https://shop.test/cart","samples":[
	{"kind":"pointer-down","timestamp":1000,"position":{"x":100,"y":100},"targetHint":"button"},
	{"kind":"pointer-down","timestamp":1120,"position":{"x":110,"y":105},"targetHint":"button"},
	{"kind":"pointer-down","timestamp":1240,"position":{"x":105,"y":120},"targetHint":"button"},
	{"kind":"pointer-move","timestamp":1250}
]}`

func TestTenantIsRequired(t *testing.T) {
	f := newFixture(t, services.IngestConfig{}, "", nil)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/v1/moat", "", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/v1/moat", "ghost", "").Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/v1/moat?tenantId=acme", "", "").Code)
}

func TestPostBatchAcceptsAndClassifies(t *testing.T) {
	f := newFixture(t, services.IngestConfig{MaxBatchSize: 10}, "", nil)

	w := f.do(http.MethodPost, "/api/v1/behavior/batch", "acme", burstBatch)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var res services.IngestResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, services.IngestResult{Processed: 3, Dropped: 1, Emitted: 1}, res)

	w = f.do(http.MethodGet, "/api/v1/sessions/s1/state", "acme", "")
	require.Equal(t, http.StatusOK, w.Code)
	var state behavior.CurrentState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	assert.True(t, state.Known)
	assert.Equal(t, behavior.Frustration, state.Emotion)
}

func TestPostBatchErrors(t *testing.T) {
	f := newFixture(t, services.IngestConfig{MaxBatchSize: 2, RatePerSec: 0.001, Burst: 1}, "", nil)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/v1/behavior/batch", "acme", `{"samples":`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/v1/behavior/batch", "acme", `{"samples":[]}`).Code)
	assert.Equal(t, http.StatusRequestEntityTooLarge, f.do(http.MethodPost, "/api/v1/behavior/batch", "acme", burstBatch).Code)

	small := `{"sessionId":"s2","samples":[{"kind":"focus","timestamp":10}]}`
	assert.Equal(t, http.StatusAccepted, f.do(http.MethodPost, "/api/v1/behavior/batch", "acme", small).Code)
	w := f.do(http.MethodPost, "/api/v1/behavior/batch", "acme", small)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}

func TestPostDispatch(t *testing.T) {
	f := newFixture(t, services.IngestConfig{}, "", nil)

	w := f.do(http.MethodPost, "/api/v1/interventions/dispatch", "acme",
		`{"sessionId":"s1","action":"push","payload":{"intervention":"discount_modal"}}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var res services.DispatchResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.True(t, res.Pushed)
	assert.NotEmpty(t, res.DirectiveID)
	require.Len(t, f.push.sent, 1)
	assert.Equal(t, "acme", f.push.sent[0].TenantID)
	assert.Equal(t, "discount_modal", f.push.sent[0].Payload.Push.Template)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/v1/interventions/dispatch", "acme", `{"action":"push"}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/v1/interventions/dispatch", "acme", `{"sessionId":"s1","action":"fax"}`).Code)
}

func TestPushRequiresSession(t *testing.T) {
	f := newFixture(t, services.IngestConfig{}, "", nil)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/v1/push", "acme", "").Code)
}

func TestLearningEndpoints(t *testing.T) {
	f := newFixture(t, services.IngestConfig{}, "", nil)

	w := f.do(http.MethodPost, "/api/v1/outcomes", "acme",
		`{"sessionId":"s1","sequence":["confusion","frustration"],"predictedAction":"help_chat","actualAction":"help_chat"}`)
	assert.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/v1/outcomes", "acme", `{"sequence":[]}`).Code)

	w = f.do(http.MethodPost, "/api/v1/predict", "acme", `{"sequence":["purchase-intent"]}`)
	require.Equal(t, http.StatusOK, w.Code)
	var p learning.Prediction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	assert.Equal(t, learning.SourceHeuristic, p.Source)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/v1/predict", "acme", `{"sequence":["glee"]}`).Code)

	w = f.do(http.MethodGet, "/api/v1/insights", "acme", "")
	require.Equal(t, http.StatusOK, w.Code)
	var insights services.TenantInsights
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &insights))
	assert.Equal(t, 1, insights.Patterns)

	w = f.do(http.MethodGet, "/api/v1/moat", "acme", "")
	require.Equal(t, http.StatusOK, w.Code)
	var moat learner.MoatMetrics
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &moat))
	assert.Equal(t, 1, moat.TotalPatterns)
}

func TestHealth(t *testing.T) {
	ok := newFixture(t, services.IngestConfig{}, "", healthFunc(func(context.Context) error { return nil }))
	w := ok.do(http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(2), body["sessions"])

	down := newFixture(t, services.IngestConfig{}, "", healthFunc(func(context.Context) error { return errors.New("database is locked") }))
	assert.Equal(t, http.StatusServiceUnavailable, down.do(http.MethodGet, "/health", "", "").Code)
}

func TestAdminEndpoints(t *testing.T) {
	disabled := newFixture(t, services.IngestConfig{}, "", nil)
	assert.Equal(t, http.StatusForbidden, disabled.do(http.MethodGet, "/admin/logs/levels", "", "").Code)

	f := newFixture(t, services.IngestConfig{}, "s3cret", nil)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/admin/logs/levels", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/admin/logs/levels", "", "", "Authorization", "Bearer nope").Code)

	w := f.do(http.MethodPost, "/admin/logs/levels", "", `{"channel":"webhook","level":"debug"}`, "Authorization", "Bearer s3cret")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(http.MethodGet, "/admin/logs/levels?token=s3cret", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var levels map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &levels))
	assert.Equal(t, "DEBUG", levels["webhook"])

	assert.Equal(t, http.StatusBadRequest,
		f.do(http.MethodPost, "/admin/logs/levels", "", `{"channel":"webhook","level":"loud"}`, "Authorization", "Bearer s3cret").Code)
	assert.Equal(t, http.StatusServiceUnavailable,
		f.do(http.MethodGet, "/admin/logs/stream", "", "", "Authorization", "Bearer s3cret").Code)

	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/admin/policies/invalidate?tenantId=acme", "", "", "Authorization", "Bearer s3cret").Code)
	assert.Equal(t, []string{"acme"}, f.cache.tenants)
	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/admin/policies/invalidate", "", "", "Authorization", "Bearer s3cret").Code)
	assert.True(t, f.cache.purged)
}
