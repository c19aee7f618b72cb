package services

import (
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/AtRiskMedia/intervene/internal/domain/behavior"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/observability/metrics"
)

var (
	ErrMissingSession = errors.New("sessionId is required")
	ErrBatchTooLarge  = errors.New("batch exceeds the maximum sample count")
	ErrRateLimited    = errors.New("session is sending batches too fast")
)

// Classifier turns samples into emotion events.
type Classifier interface {
	Classify(tenantID, sessionID string, sample behavior.Sample) (behavior.EmotionEvent, bool)
	Current(tenantID, sessionID string) behavior.CurrentState
	EndSession(tenantID, sessionID string)
}

// EventSubmitter accepts emotion events for asynchronous routing.
type EventSubmitter interface {
	Submit(event behavior.EmotionEvent) error
}

// CooldownEvicter drops the router's cooldown state for a session.
type CooldownEvicter interface {
	EvictSession(tenantID, sessionID string)
}

// Batch is one collector submission.
type Batch struct {
	SessionID       string            `json:"sessionId"`
	Samples         []behavior.Sample `json:"samples"`
	ClientTimestamp int64             `json:"clientTimestamp"`
	PageURL         string            `json:"pageUrl,omitempty"`
	CustomerValue   float64           `json:"customerValue,omitempty"`
}

// IngestResult acknowledges a batch.
type IngestResult struct {
	Processed int `json:"processed"`
	Dropped   int `json:"dropped"`
	Emitted   int `json:"emitted"`
}

// IngestConfig bounds what a single session may send.
type IngestConfig struct {
	MaxBatchSize int
	RatePerSec   float64
	Burst        int
	IdleTTL      time.Duration
}

// IngestService classifies collector batches synchronously and hands emitted
// events to the pipeline. It never waits on routing or delivery.
type IngestService struct {
	classifier Classifier
	pipeline   EventSubmitter
	cooldowns  CooldownEvicter
	contexts   *SessionContexts
	cfg        IngestConfig
	limiters   *expirable.LRU[string, *rate.Limiter]
	logger     *logging.ChanneledLogger
	metrics    *metrics.Metrics
}

// NewIngestService creates the ingest service.
func NewIngestService(cfg IngestConfig, classifier Classifier, pipeline EventSubmitter, cooldowns CooldownEvicter,
	contexts *SessionContexts, logger *logging.ChanneledLogger, m *metrics.Metrics,
) *IngestService {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 45 * time.Minute
	}
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	if m == nil {
		m = metrics.NewUnregistered()
	}
	return &IngestService{
		classifier: classifier,
		pipeline:   pipeline,
		cooldowns:  cooldowns,
		contexts:   contexts,
		cfg:        cfg,
		limiters:   expirable.NewLRU[string, *rate.Limiter](100_000, nil, cfg.IdleTTL),
		logger:     logger,
		metrics:    m,
	}
}

func (s *IngestService) allow(tenantID, sessionID string) bool {
	if s.cfg.RatePerSec <= 0 {
		return true
	}
	key := contextKey(tenantID, sessionID)
	lim, ok := s.limiters.Get(key)
	if !ok {
		burst := s.cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(s.cfg.RatePerSec), burst)
		s.limiters.Add(key, lim)
	}
	return lim.Allow()
}

// Ingest processes one batch in order. Malformed samples are counted as
// dropped and otherwise ignored.
func (s *IngestService) Ingest(tenantID string, b Batch) (IngestResult, error) {
	var res IngestResult
	if b.SessionID == "" {
		return res, ErrMissingSession
	}
	if s.cfg.MaxBatchSize > 0 && len(b.Samples) > s.cfg.MaxBatchSize {
		s.metrics.SamplesDropped.WithLabelValues("oversized").Add(float64(len(b.Samples)))
		return res, ErrBatchTooLarge
	}
	if !s.allow(tenantID, b.SessionID) {
		s.metrics.SamplesDropped.WithLabelValues("rate_limited").Add(float64(len(b.Samples)))
		return res, ErrRateLimited
	}

	if s.contexts != nil && (b.PageURL != "" || b.CustomerValue > 0) {
		s.contexts.Update(tenantID, b.SessionID, PageContext{PageURL: b.PageURL, CustomerValue: b.CustomerValue})
	}

	for _, sample := range b.Samples {
		if !sample.Valid() {
			res.Dropped++
		} else {
			res.Processed++
		}
		ev, ok := s.classifier.Classify(tenantID, b.SessionID, sample)
		if !ok {
			continue
		}
		res.Emitted++
		_ = s.pipeline.Submit(ev)
	}

	if res.Emitted > 0 {
		s.logger.WithSession(logging.ChannelIngest, tenantID, b.SessionID).Debug("Batch ingested",
			"processed", res.Processed, "dropped", res.Dropped, "emitted", res.Emitted)
	}
	return res, nil
}

// State returns the session's decaying current emotion.
func (s *IngestService) State(tenantID, sessionID string) behavior.CurrentState {
	return s.classifier.Current(tenantID, sessionID)
}

// EndSession drops the session's classification buffers, router cooldowns,
// limiter and page context. Used when the collector reports the page closed.
func (s *IngestService) EndSession(tenantID, sessionID string) {
	s.classifier.EndSession(tenantID, sessionID)
	if s.cooldowns != nil {
		s.cooldowns.EvictSession(tenantID, sessionID)
	}
	s.Forget(tenantID, sessionID)
}

// Forget releases the per-session limiter and page context.
func (s *IngestService) Forget(tenantID, sessionID string) {
	s.limiters.Remove(contextKey(tenantID, sessionID))
	if s.contexts != nil {
		s.contexts.Forget(tenantID, sessionID)
	}
}
