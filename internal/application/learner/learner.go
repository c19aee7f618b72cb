// Package learner reinforces emotion-sequence → outcome patterns from
// delivery feedback and serves predictions from them.
package learner

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/AtRiskMedia/intervene/internal/domain/behavior"
	"github.com/AtRiskMedia/intervene/internal/domain/events"
	"github.com/AtRiskMedia/intervene/internal/domain/learning"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/clock"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/observability/metrics"
)

// Config holds the reinforcement and sweep thresholds.
type Config struct {
	InitialConfidence float64
	RewardFactor      float64
	PenaltyFactor     float64
	MaxConfidence     float64
	MaxSequence       int

	StaleAfter       time.Duration
	DecayFactor      float64
	DecayInterval    time.Duration
	PromoteRate      float64
	PromoteMinSample int
	PruneRate        float64
	PruneMinSample   int

	PredictMinSample     int
	PredictMinConfidence float64
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		InitialConfidence: 50,
		RewardFactor:      1.05,
		PenaltyFactor:     0.85,
		MaxConfidence:     95,
		MaxSequence:       5,

		StaleAfter:       7 * 24 * time.Hour,
		DecayFactor:      0.9,
		DecayInterval:    24 * time.Hour,
		PromoteRate:      0.8,
		PromoteMinSample: 50,
		PruneRate:        0.3,
		PruneMinSample:   20,

		PredictMinSample:     10,
		PredictMinConfidence: 60,
	}
}

// DeliveryStats counts delivery feedback per tenant.
type DeliveryStats struct {
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Critical  int `json:"critical"`
	Dropped   int `json:"dropped"`
	Shown     int `json:"shown"`
	Clicked   int `json:"clicked"`
	Dismissed int `json:"dismissed"`
}

// Learner is the OutcomeLearner. It is advisory: nothing on the hot path
// waits for it.
type Learner struct {
	cfg     Config
	repo    learning.PatternRepository
	clock   clock.Clock
	logger  *logging.ChanneledLogger
	metrics *metrics.Metrics

	mu         sync.RWMutex
	patterns   map[string]*learning.Pattern
	bySequence map[string]map[string]struct{}
	dirty      map[string]struct{}
	stats      map[string]*DeliveryStats
	firstSeen  time.Time
}

// New creates a learner. repo may be nil, in which case patterns live only
// in memory.
func New(cfg Config, repo learning.PatternRepository, clk clock.Clock, logger *logging.ChanneledLogger, m *metrics.Metrics) *Learner {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	if m == nil {
		m = metrics.NewUnregistered()
	}
	return &Learner{
		cfg:        cfg,
		repo:       repo,
		clock:      clk,
		logger:     logger,
		metrics:    m,
		patterns:   make(map[string]*learning.Pattern),
		bySequence: make(map[string]map[string]struct{}),
		dirty:      make(map[string]struct{}),
		stats:      make(map[string]*DeliveryStats),
	}
}

func (l *Learner) trim(sequence []behavior.Emotion) []behavior.Emotion {
	if n := l.cfg.MaxSequence; n > 0 && len(sequence) > n {
		sequence = sequence[len(sequence)-n:]
	}
	return append([]behavior.Emotion(nil), sequence...)
}

func sequenceHash(sequence []behavior.Emotion) string {
	parts := make([]string, len(sequence))
	for i, e := range sequence {
		parts[i] = string(e)
	}
	sum := blake2b.Sum256([]byte(strings.Join(parts, ">")))
	return hex.EncodeToString(sum[:12])
}

// PatternKey derives the storage key for a tenant's sequence → action pair.
func PatternKey(tenantID string, sequence []behavior.Emotion, action string) string {
	sum := blake2b.Sum256([]byte(tenantID + "\x00" + sequenceHash(sequence) + "\x00" + action))
	return hex.EncodeToString(sum[:16])
}

// RecordOutcome reinforces the pattern for (sequence, predicted). A match
// rewards it, a mismatch penalizes it harder.
func (l *Learner) RecordOutcome(tenantID, sessionID string, sequence []behavior.Emotion, predicted, actual string) error {
	if len(sequence) == 0 {
		return fmt.Errorf("record outcome: empty sequence")
	}
	if predicted == "" {
		return fmt.Errorf("record outcome: empty predicted action")
	}
	sequence = l.trim(sequence)
	now := l.clock.Now()
	key := PatternKey(tenantID, sequence, predicted)

	l.mu.Lock()
	p, ok := l.patterns[key]
	if !ok {
		p = &learning.Pattern{
			SequenceKey:       key,
			TenantID:          tenantID,
			Sequence:          sequence,
			AssociatedOutcome: predicted,
			BaseConfidence:    l.cfg.InitialConfidence,
		}
		l.index(p)
	}
	p.SampleSize++
	matched := predicted == actual
	if matched {
		p.Successes++
		p.BaseConfidence = math.Min(p.BaseConfidence*l.cfg.RewardFactor, l.cfg.MaxConfidence)
	} else {
		p.BaseConfidence *= l.cfg.PenaltyFactor
	}
	p.SuccessRate = float64(p.Successes) / float64(p.SampleSize)
	p.LastUpdated = now
	l.dirty[key] = struct{}{}
	if l.firstSeen.IsZero() || now.Before(l.firstSeen) {
		l.firstSeen = now
	}
	count := len(l.patterns)
	l.mu.Unlock()

	l.metrics.LearnedPatterns.Set(float64(count))
	l.logger.WithSession(logging.ChannelLearner, tenantID, sessionID).Debug("Outcome recorded",
		slog.String("sequenceKey", key),
		slog.String("predicted", predicted),
		slog.String("actual", actual),
		slog.Bool("matched", matched))
	return nil
}

// index must be called with mu held.
func (l *Learner) index(p *learning.Pattern) {
	l.patterns[p.SequenceKey] = p
	h := sequenceHash(p.Sequence)
	set, ok := l.bySequence[h]
	if !ok {
		set = make(map[string]struct{})
		l.bySequence[h] = set
	}
	set[p.SequenceKey] = struct{}{}
}

// unindex must be called with mu held.
func (l *Learner) unindex(p *learning.Pattern) {
	delete(l.patterns, p.SequenceKey)
	h := sequenceHash(p.Sequence)
	if set, ok := l.bySequence[h]; ok {
		delete(set, p.SequenceKey)
		if len(set) == 0 {
			delete(l.bySequence, h)
		}
	}
}

// Predict returns the best learned action for the sequence, visible to the
// tenant either directly or through promotion, or the static heuristic when
// no pattern clears the sample-size and confidence bar.
func (l *Learner) Predict(tenantID string, sequence []behavior.Emotion) learning.Prediction {
	sequence = l.trim(sequence)

	l.mu.RLock()
	var best *learning.Pattern
	for key := range l.bySequence[sequenceHash(sequence)] {
		p := l.patterns[key]
		if p.TenantID != tenantID && !p.Global {
			continue
		}
		if p.SampleSize < l.cfg.PredictMinSample || p.BaseConfidence < l.cfg.PredictMinConfidence {
			continue
		}
		if best == nil || better(p, best) {
			best = p
		}
	}
	var prediction learning.Prediction
	if best != nil {
		prediction = learning.Prediction{
			Action:     best.AssociatedOutcome,
			Confidence: round1(best.BaseConfidence),
			Source:     learning.SourceLearned,
			SampleSize: best.SampleSize,
		}
	}
	l.mu.RUnlock()

	if best != nil {
		return prediction
	}
	h := heuristicFor(sequence)
	return learning.Prediction{Action: h.action, Confidence: h.confidence, Source: learning.SourceHeuristic}
}

func better(a, b *learning.Pattern) bool {
	if a.BaseConfidence != b.BaseConfidence {
		return a.BaseConfidence > b.BaseConfidence
	}
	if a.SuccessRate != b.SuccessRate {
		return a.SuccessRate > b.SuccessRate
	}
	return a.SequenceKey < b.SequenceKey
}

func round1(f float64) float64 { return math.Round(f*10) / 10 }

// SweepReport summarizes one maintenance pass.
type SweepReport struct {
	Decayed   int `json:"decayed"`
	Promoted  int `json:"promoted"`
	Pruned    int `json:"pruned"`
	Persisted int `json:"persisted"`
	Remaining int `json:"remaining"`
}

// Sweep decays stale patterns (at most once per DecayInterval), promotes
// consistently successful ones to global and prunes consistent failures,
// then snapshots changes to the repository. Failures are logged and never
// returned.
func (l *Learner) Sweep(ctx context.Context) (report SweepReport) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.LogRecovered(logging.ChannelLearner, "sweep", r)
		}
	}()

	now := l.clock.Now()
	var pruned []string

	l.mu.Lock()
	for key, p := range l.patterns {
		if now.Sub(p.LastUpdated) > l.cfg.StaleAfter && now.Sub(p.LastDecayed) >= l.cfg.DecayInterval {
			p.BaseConfidence *= l.cfg.DecayFactor
			p.LastDecayed = now
			report.Decayed++
			l.dirty[key] = struct{}{}
		}
		if !p.Global && p.SuccessRate > l.cfg.PromoteRate && p.SampleSize > l.cfg.PromoteMinSample {
			p.Global = true
			report.Promoted++
			l.dirty[key] = struct{}{}
		}
		if p.SuccessRate < l.cfg.PruneRate && p.SampleSize > l.cfg.PruneMinSample {
			l.unindex(p)
			delete(l.dirty, key)
			pruned = append(pruned, key)
		}
	}
	report.Pruned = len(pruned)

	toSave := make([]learning.Pattern, 0, len(l.dirty))
	for key := range l.dirty {
		if p, ok := l.patterns[key]; ok {
			toSave = append(toSave, clonePattern(p))
		}
	}
	report.Remaining = len(l.patterns)
	l.mu.Unlock()

	l.metrics.LearnedPatterns.Set(float64(report.Remaining))

	if l.repo != nil {
		if len(pruned) > 0 {
			if err := l.repo.DeletePatterns(ctx, pruned); err != nil {
				l.logger.Learner().Error("Failed to delete pruned patterns", "error", err, "count", len(pruned))
			}
		}
		if len(toSave) > 0 {
			if err := l.repo.SavePatterns(ctx, toSave); err != nil {
				l.logger.Learner().Error("Failed to persist patterns", "error", err, "count", len(toSave))
			} else {
				report.Persisted = len(toSave)
				l.mu.Lock()
				for _, p := range toSave {
					if cur, ok := l.patterns[p.SequenceKey]; ok && !cur.LastUpdated.After(p.LastUpdated) {
						delete(l.dirty, p.SequenceKey)
					}
				}
				l.mu.Unlock()
			}
		}
	}

	l.logger.Learner().Info("Learner sweep complete",
		slog.Int("decayed", report.Decayed),
		slog.Int("promoted", report.Promoted),
		slog.Int("pruned", report.Pruned),
		slog.Int("persisted", report.Persisted),
		slog.Int("remaining", report.Remaining))
	return report
}

// Restore loads persisted patterns, replacing in-memory state.
func (l *Learner) Restore(ctx context.Context) error {
	if l.repo == nil {
		return nil
	}
	loaded, err := l.repo.LoadPatterns(ctx)
	if err != nil {
		return fmt.Errorf("failed to load learned patterns: %w", err)
	}

	l.mu.Lock()
	l.patterns = make(map[string]*learning.Pattern, len(loaded))
	l.bySequence = make(map[string]map[string]struct{})
	l.dirty = make(map[string]struct{})
	for i := range loaded {
		p := loaded[i]
		l.index(&p)
		if l.firstSeen.IsZero() || p.LastUpdated.Before(l.firstSeen) {
			l.firstSeen = p.LastUpdated
		}
	}
	count := len(l.patterns)
	l.mu.Unlock()

	l.metrics.LearnedPatterns.Set(float64(count))
	l.logger.Learner().Info("Restored learned patterns", slog.Int("count", count))
	return nil
}

// HandleEvent folds delivery feedback into per-tenant stats. A click or an
// explicit dismissal is also recorded as an outcome for the directive's
// sequence.
func (l *Learner) HandleEvent(ev events.Event) {
	d := ev.Directive
	l.mu.Lock()
	st, ok := l.stats[d.TenantID]
	if !ok {
		st = &DeliveryStats{}
		l.stats[d.TenantID] = st
	}
	switch ev.Kind {
	case events.DeliverySuccess, events.PushDelivered:
		st.Delivered++
	case events.DeliveryFailed:
		st.Failed++
	case events.CriticalFailure:
		st.Failed++
		st.Critical++
	case events.PushDropped:
		st.Dropped++
	case events.PushShown:
		st.Shown++
	case events.PushClicked:
		if ev.Clicked != nil && *ev.Clicked {
			st.Clicked++
		} else {
			st.Dismissed++
		}
	}
	l.mu.Unlock()

	if ev.Kind != events.PushClicked || ev.Clicked == nil || len(d.SequenceTail) == 0 {
		return
	}
	predicted := d.Payload.Intervention
	if predicted == "" {
		predicted = d.RuleID
	}
	actual := "dismissed"
	if *ev.Clicked {
		actual = predicted
	}
	if err := l.RecordOutcome(d.TenantID, d.SessionID, d.SequenceTail, predicted, actual); err != nil {
		l.logger.Learner().Warn("Failed to record click outcome", "error", err, "directiveId", d.ID)
	}
}

// Insights is a tenant-scoped summary of what the learner has seen.
type Insights struct {
	TenantID           string             `json:"tenantId"`
	Patterns           int                `json:"patterns"`
	Observations       int                `json:"observations"`
	AverageSuccessRate float64            `json:"averageSuccessRate"`
	TopPatterns        []learning.Pattern `json:"topPatterns"`
	Outcomes           map[string]int     `json:"outcomes"`
	Delivery           DeliveryStats      `json:"delivery"`
	ClickThroughRate   float64            `json:"clickThroughRate"`
}

const topPatternCount = 5

// Insights summarizes the tenant's patterns and delivery feedback.
func (l *Learner) Insights(tenantID string) Insights {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := Insights{TenantID: tenantID, Outcomes: make(map[string]int), TopPatterns: []learning.Pattern{}}
	var rateSum float64
	var mine []*learning.Pattern
	for _, p := range l.patterns {
		if p.TenantID != tenantID {
			continue
		}
		mine = append(mine, p)
		out.Observations += p.SampleSize
		out.Outcomes[p.AssociatedOutcome] += p.SampleSize
		rateSum += p.SuccessRate
	}
	out.Patterns = len(mine)
	if len(mine) > 0 {
		out.AverageSuccessRate = math.Round(rateSum/float64(len(mine))*1000) / 1000
	}
	sort.Slice(mine, func(i, j int) bool { return better(mine[i], mine[j]) })
	for i := 0; i < len(mine) && i < topPatternCount; i++ {
		out.TopPatterns = append(out.TopPatterns, clonePattern(mine[i]))
	}
	if st, ok := l.stats[tenantID]; ok {
		out.Delivery = *st
		if st.Shown > 0 {
			out.ClickThroughRate = math.Round(float64(st.Clicked)/float64(st.Shown)*1000) / 1000
		}
	}
	return out
}

// MoatMetrics is the cross-tenant depth of accumulated learning.
type MoatMetrics struct {
	TotalPatterns      int     `json:"totalPatterns"`
	GlobalPatterns     int     `json:"globalPatterns"`
	UniqueSequences    int     `json:"uniqueSequences"`
	TotalObservations  int     `json:"totalObservations"`
	Tenants            int     `json:"tenants"`
	DaysAccumulated    int     `json:"daysAccumulated"`
	AverageSuccessRate float64 `json:"averageSuccessRate"`
}

// MoatMetrics summarizes every pattern held.
func (l *Learner) MoatMetrics() MoatMetrics {
	now := l.clock.Now()
	l.mu.RLock()
	defer l.mu.RUnlock()

	m := MoatMetrics{TotalPatterns: len(l.patterns), UniqueSequences: len(l.bySequence)}
	tenants := make(map[string]struct{})
	var rateSum float64
	for _, p := range l.patterns {
		if p.Global {
			m.GlobalPatterns++
		}
		m.TotalObservations += p.SampleSize
		rateSum += p.SuccessRate
		tenants[p.TenantID] = struct{}{}
	}
	m.Tenants = len(tenants)
	if len(l.patterns) > 0 {
		m.AverageSuccessRate = math.Round(rateSum/float64(len(l.patterns))*1000) / 1000
	}
	if !l.firstSeen.IsZero() {
		m.DaysAccumulated = int(now.Sub(l.firstSeen).Hours() / 24)
	}
	return m
}

func clonePattern(p *learning.Pattern) learning.Pattern {
	out := *p
	out.Sequence = append([]behavior.Emotion(nil), p.Sequence...)
	return out
}
