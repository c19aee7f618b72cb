// Package router decides which tenant rule, if any, fires for an emotion
// event and turns it into an intervention directive.
package router

import (
	"hash/fnv"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/AtRiskMedia/intervene/internal/domain/behavior"
	"github.com/AtRiskMedia/intervene/internal/domain/intervention"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/clock"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/observability/metrics"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/security"
)

const shardCount = 64

// Skip reasons reported to metrics.
const (
	skipTier     = "tier"
	skipCooldown = "cooldown"
	skipDailyCap = "daily-cap"
)

type sessionKey struct {
	tenantID  string
	sessionID string
}

type cooldownKey struct {
	sessionKey
	ruleID string
}

type counterKey struct {
	tenantID string
	ruleID   string
	day      string
}

type shard struct {
	mu        sync.Mutex
	cooldowns map[cooldownKey]time.Time
}

// Router is the InterventionRouter. It owns rule cooldown stamps and the
// per-tenant daily counters.
type Router struct {
	clock   clock.Clock
	logger  *logging.ChanneledLogger
	metrics *metrics.Metrics
	newID   func() string

	shards [shardCount]shard

	countersMu sync.Mutex
	counters   map[counterKey]int
}

// Option customises a Router.
type Option func(*Router)

// WithIDGenerator replaces the ULID generator.
func WithIDGenerator(f func() string) Option {
	return func(r *Router) { r.newID = f }
}

// New creates a router.
func New(clk clock.Clock, logger *logging.ChanneledLogger, m *metrics.Metrics, opts ...Option) *Router {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	if m == nil {
		m = metrics.NewUnregistered()
	}
	r := &Router{
		clock:    clk,
		logger:   logger,
		metrics:  m,
		newID:    security.GenerateULID,
		counters: make(map[counterKey]int),
	}
	for i := range r.shards {
		r.shards[i].cooldowns = make(map[cooldownKey]time.Time)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Router) shardFor(k sessionKey) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(k.tenantID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(k.sessionID))
	return &r.shards[h.Sum32()%shardCount]
}

// Route evaluates the tenant's rules against the event. Rules are tried in
// priority order (ties broken by id); the first one that is entitled, off
// cooldown for the session and under its daily cap produces the directive.
func (r *Router) Route(event behavior.EmotionEvent, policy *intervention.TenantPolicy) (intervention.Directive, bool) {
	if policy == nil {
		return intervention.Directive{}, false
	}

	eligible := make([]intervention.Rule, 0, len(policy.Rules))
	for _, rule := range policy.Rules {
		if !rule.Matches(event) {
			continue
		}
		if !policy.Permits(rule.Action) {
			r.metrics.DirectivesSkipped.WithLabelValues(skipTier).Inc()
			continue
		}
		eligible = append(eligible, rule)
	}
	if len(eligible) == 0 {
		return intervention.Directive{}, false
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].Priority != eligible[j].Priority {
			return eligible[i].Priority < eligible[j].Priority
		}
		return eligible[i].ID < eligible[j].ID
	})

	sk := sessionKey{tenantID: event.TenantID, sessionID: event.SessionID}
	sh := r.shardFor(sk)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := r.clock.Now()
	day := now.UTC().Format("2006-01-02")
	for _, rule := range eligible {
		ck := cooldownKey{sessionKey: sk, ruleID: rule.ID}
		if until, ok := sh.cooldowns[ck]; ok && now.Before(until) {
			r.metrics.DirectivesSkipped.WithLabelValues(skipCooldown).Inc()
			continue
		}
		if !r.reserve(counterKey{tenantID: event.TenantID, ruleID: rule.ID, day: day}, rule.MaxPerTenantPerDay) {
			r.metrics.DirectivesSkipped.WithLabelValues(skipDailyCap).Inc()
			continue
		}
		if rule.CooldownSeconds > 0 {
			sh.cooldowns[ck] = now.Add(rule.Cooldown())
		}

		directive := intervention.Directive{
			ID:           r.newID(),
			RuleID:       rule.ID,
			SessionID:    event.SessionID,
			TenantID:     event.TenantID,
			Tier:         policy.Tier.Normalize(),
			Action:       rule.Action,
			Payload:      rule.Payload.ForAction(rule.Action),
			IssuedAt:     now,
			Emotion:      event.Emotion,
			Confidence:   event.Confidence,
			ContextTag:   event.ContextTag,
			SequenceTail: append([]behavior.Emotion(nil), event.SequenceTail...),
			HighValue:    rule.HighValue,
		}
		r.metrics.DirectivesIssued.WithLabelValues(string(rule.Action)).Inc()
		r.logger.WithSession(logging.ChannelRouter, event.TenantID, event.SessionID).Info("Directive issued",
			slog.String("directiveId", directive.ID),
			slog.String("ruleId", rule.ID),
			slog.String("action", string(rule.Action)),
			slog.String("emotion", string(event.Emotion)),
			slog.Int("confidence", event.Confidence))
		return directive, true
	}
	return intervention.Directive{}, false
}

// reserve atomically checks and increments the daily counter. A cap of zero
// or less means unlimited.
func (r *Router) reserve(k counterKey, max int) bool {
	r.countersMu.Lock()
	defer r.countersMu.Unlock()
	if max > 0 && r.counters[k] >= max {
		return false
	}
	r.counters[k]++
	return true
}

// DailyCount returns how many directives a rule issued for a tenant today.
func (r *Router) DailyCount(tenantID, ruleID string) int {
	day := r.clock.Now().UTC().Format("2006-01-02")
	r.countersMu.Lock()
	defer r.countersMu.Unlock()
	return r.counters[counterKey{tenantID: tenantID, ruleID: ruleID, day: day}]
}

// EvictSession drops every cooldown stamp held for the session.
func (r *Router) EvictSession(tenantID, sessionID string) {
	sk := sessionKey{tenantID: tenantID, sessionID: sessionID}
	sh := r.shardFor(sk)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	for k := range sh.cooldowns {
		if k.sessionKey == sk {
			delete(sh.cooldowns, k)
		}
	}
}

// ExpireCooldowns removes stamps whose window has passed and counters from
// previous UTC days. It returns the number of cooldown stamps removed.
func (r *Router) ExpireCooldowns() int {
	now := r.clock.Now()
	removed := 0
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.Lock()
		for k, until := range sh.cooldowns {
			if !now.Before(until) {
				delete(sh.cooldowns, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}

	today := now.UTC().Format("2006-01-02")
	r.countersMu.Lock()
	for k := range r.counters {
		if k.day != today {
			delete(r.counters, k)
		}
	}
	r.countersMu.Unlock()

	if removed > 0 {
		r.logger.Router().Debug("Expired cooldown stamps", slog.Int("count", removed))
	}
	return removed
}
