package classifier

import (
	"hash/fnv"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/AtRiskMedia/intervene/internal/domain/behavior"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/clock"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/observability/metrics"
)

const shardCount = 32

// Suppression reasons reported to metrics.
const (
	suppressedFloor         = "floor"
	suppressedCooldown      = "cooldown"
	suppressedContradiction = "contradiction"
)

type shard struct {
	mu       sync.Mutex
	sessions map[string]*sessionState
}

// Classifier is the BehaviorClassifier. Classification is synchronous and
// performs no I/O; the per-session work is bounded by the buffer capacity.
type Classifier struct {
	cfg     Config
	clock   clock.Clock
	logger  *logging.ChanneledLogger
	metrics *metrics.Metrics
	shards  [shardCount]shard
}

// New creates a classifier. A nil clock uses the system clock.
func New(cfg Config, clk clock.Clock, logger *logging.ChanneledLogger, m *metrics.Metrics) *Classifier {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	if m == nil {
		m = metrics.NewUnregistered()
	}
	c := &Classifier{cfg: cfg, clock: clk, logger: logger, metrics: m}
	for i := range c.shards {
		c.shards[i].sessions = make(map[string]*sessionState)
	}
	return c
}

func sessionKey(tenantID, sessionID string) string {
	return tenantID + "\x00" + sessionID
}

func (c *Classifier) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &c.shards[h.Sum32()%shardCount]
}

// Classify feeds one sample into the session's buffers and returns the
// emotion it produced, if any. Malformed, duplicate and stale samples are
// ignored.
func (c *Classifier) Classify(tenantID, sessionID string, sample behavior.Sample) (behavior.EmotionEvent, bool) {
	if !sample.Valid() {
		c.metrics.SamplesDropped.WithLabelValues("malformed").Inc()
		return behavior.EmotionEvent{}, false
	}

	key := sessionKey(tenantID, sessionID)
	sh := c.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := c.clock.Now()
	s, ok := sh.sessions[key]
	if !ok {
		s = newSessionState(c.cfg, tenantID, sessionID, now)
		sh.sessions[key] = s
		c.metrics.ActiveSessions.Inc()
	}

	if !s.remember(seenKey{kind: sample.Kind, at: sample.Timestamp}) {
		c.metrics.SamplesDropped.WithLabelValues("duplicate").Inc()
		return behavior.EmotionEvent{}, false
	}
	if s.hasLatest && sample.Timestamp < s.latest-ms(c.cfg.ScrollHorizon) {
		c.metrics.SamplesDropped.WithLabelValues("stale").Inc()
		return behavior.EmotionEvent{}, false
	}
	if !s.hasLatest || sample.Timestamp > s.latest {
		s.latest = sample.Timestamp
		s.hasLatest = true
	}
	s.lastSeen = now
	s.idleFired = false
	c.metrics.SamplesIngested.WithLabelValues(string(sample.Kind)).Inc()

	var candidates []*candidate
	switch sample.Kind {
	case behavior.KindPointerDown:
		s.dwell = dwellSpan{}
		candidates = append(candidates, c.detectClickBurst(s, sample))
	case behavior.KindPointerMove:
		candidates = append(candidates, c.detectExitIntent(s, sample), c.trackDwell(s, sample))
	case behavior.KindScroll:
		candidates = append(candidates, c.detectScroll(s, sample))
	case behavior.KindBlur:
		candidates = append(candidates, c.detectDistraction(s, sample))
	case behavior.KindVisibilityChange:
		if sample.Hidden {
			candidates = append(candidates, c.detectDistraction(s, sample))
		}
	}

	return c.emitBest(s, candidates, s.latest, now)
}

// emitBest tries candidates by descending confidence and emits the first one
// that passes gating.
func (c *Classifier) emitBest(s *sessionState, candidates []*candidate, at int64, now time.Time) (behavior.EmotionEvent, bool) {
	live := candidates[:0]
	for _, cand := range candidates {
		if cand != nil {
			live = append(live, cand)
		}
	}
	sort.SliceStable(live, func(i, j int) bool { return live[i].confidence > live[j].confidence })

	for _, cand := range live {
		if reason := c.gate(s, cand, at); reason != "" {
			c.metrics.EmotionsSuppressed.WithLabelValues(reason).Inc()
			continue
		}
		return c.emit(s, cand, at, now), true
	}
	return behavior.EmotionEvent{}, false
}

// gate applies the confidence floor, the per-emotion cooldown and the
// contradiction guard. It returns the suppression reason or "".
func (c *Classifier) gate(s *sessionState, cand *candidate, at int64) string {
	if cand.confidence < c.cfg.ConfidenceFloor {
		return suppressedFloor
	}
	if last, ok := s.lastEmitted[cand.emotion]; ok && at-last < ms(c.cfg.EmotionCooldown) {
		return suppressedCooldown
	}
	if s.hasEmission && behavior.Opposes(s.lastEmotion, cand.emotion) &&
		at-s.lastEmission < ms(c.cfg.ContradictionWindow) {
		return suppressedContradiction
	}
	return ""
}

func (c *Classifier) emit(s *sessionState, cand *candidate, at int64, now time.Time) behavior.EmotionEvent {
	if cand.onEmit != nil {
		cand.onEmit()
	}
	s.lastEmitted[cand.emotion] = at
	s.lastEmotion = cand.emotion
	s.lastEmission = at
	s.hasEmission = true
	s.pushTail(cand.emotion, c.cfg.TailLength)

	s.current.emotion = cand.emotion
	s.current.confidence = cand.confidence
	s.current.at = now
	s.current.context = cand.context

	c.metrics.EmotionsEmitted.WithLabelValues(string(cand.emotion)).Inc()
	c.logger.WithSession(logging.ChannelClassifier, s.tenantID, s.sessionID).Debug("Emotion emitted",
		slog.String("emotion", string(cand.emotion)),
		slog.Int("confidence", cand.confidence),
		slog.String("context", string(cand.context)))

	return behavior.EmotionEvent{
		SessionID:    s.sessionID,
		TenantID:     s.tenantID,
		Emotion:      cand.emotion,
		Confidence:   cand.confidence,
		Timestamp:    now,
		ContextTag:   cand.context,
		SequenceTail: s.tailCopy(),
	}
}

// Tick evaluates time-driven signals for every session: idle abandonment and
// dwell spans that outlast the last pointer sample. Call it periodically.
func (c *Classifier) Tick() []behavior.EmotionEvent {
	now := c.clock.Now()
	var events []behavior.EmotionEvent
	for i := range c.shards {
		sh := &c.shards[i]
		sh.mu.Lock()
		for _, s := range sh.sessions {
			if ev, ok := c.tickSession(s, now); ok {
				events = append(events, ev)
			}
		}
		sh.mu.Unlock()
	}
	return events
}

func (c *Classifier) tickSession(s *sessionState, now time.Time) (behavior.EmotionEvent, bool) {
	at := s.timelineAt(now)
	if now.Sub(s.lastSeen) > c.cfg.IdleThreshold {
		if s.idleFired {
			return behavior.EmotionEvent{}, false
		}
		s.idleFired = true
		return c.emitBest(s, []*candidate{{
			emotion:    behavior.AbandonmentRisk,
			confidence: c.cfg.IdleConfidence,
			context:    behavior.TargetGeneric,
		}}, at, now)
	}
	return c.emitBest(s, []*candidate{c.evaluateDwell(s, at)}, at, now)
}

// Current returns the session's most recent emotion with its confidence
// decayed linearly to zero over the configured decay window.
func (c *Classifier) Current(tenantID, sessionID string) behavior.CurrentState {
	key := sessionKey(tenantID, sessionID)
	sh := c.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	state := behavior.CurrentState{SessionID: sessionID, SequenceTail: []behavior.Emotion{}}
	s, ok := sh.sessions[key]
	if !ok || s.current.emotion == "" {
		return state
	}
	state.SequenceTail = s.tailCopy()

	elapsed := c.clock.Now().Sub(s.current.at)
	if elapsed >= c.cfg.StateDecay {
		return state
	}
	remaining := 1 - float64(elapsed)/float64(c.cfg.StateDecay)
	confidence := int(float64(s.current.confidence) * remaining)
	if confidence <= 0 {
		return state
	}
	state.Emotion = s.current.emotion
	state.Confidence = confidence
	state.Since = s.current.at
	state.ContextTag = s.current.context
	state.Known = true
	return state
}

// EndSession drops every buffer held for the session.
func (c *Classifier) EndSession(tenantID, sessionID string) {
	key := sessionKey(tenantID, sessionID)
	sh := c.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.sessions[key]; ok {
		delete(sh.sessions, key)
		c.metrics.ActiveSessions.Dec()
	}
}

// SessionRef identifies an evicted session.
type SessionRef struct {
	TenantID  string
	SessionID string
}

// EvictIdle removes sessions with no samples for longer than maxIdle and
// returns them so collaborators can release their own per-session state.
func (c *Classifier) EvictIdle(maxIdle time.Duration) []SessionRef {
	now := c.clock.Now()
	var evicted []SessionRef
	for i := range c.shards {
		sh := &c.shards[i]
		sh.mu.Lock()
		for key, s := range sh.sessions {
			if now.Sub(s.lastSeen) > maxIdle {
				delete(sh.sessions, key)
				evicted = append(evicted, SessionRef{TenantID: s.tenantID, SessionID: s.sessionID})
			}
		}
		sh.mu.Unlock()
	}
	if len(evicted) > 0 {
		c.metrics.ActiveSessions.Sub(float64(len(evicted)))
		c.logger.Classifier().Info("Evicted idle sessions", slog.Int("count", len(evicted)))
	}
	return evicted
}

// SessionCount returns the number of sessions with live buffers.
func (c *Classifier) SessionCount() int {
	total := 0
	for i := range c.shards {
		sh := &c.shards[i]
		sh.mu.Lock()
		total += len(sh.sessions)
		sh.mu.Unlock()
	}
	return total
}
