package router

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AtRiskMedia/intervene/internal/domain/behavior"
	"github.com/AtRiskMedia/intervene/internal/domain/intervention"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/clock"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/observability/metrics"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestRouter(t *testing.T) (*Router, *clock.Fake, *metrics.Metrics) {
	t.Helper()
	clk := clock.NewFake(epoch)
	m := metrics.NewUnregistered()
	var seq atomic.Int64
	r := New(clk, logging.NewDiscardLogger(), m, WithIDGenerator(func() string {
		return fmt.Sprintf("dir-%04d", seq.Add(1))
	}))
	return r, clk, m
}

func frustrationRule(id string, priority, cooldown int) intervention.Rule {
	return intervention.Rule{
		ID:              id,
		TriggerEmotion:  behavior.Frustration,
		MinConfidence:   80,
		Priority:        priority,
		CooldownSeconds: cooldown,
		Action:          intervention.ActionPush,
		Active:          true,
		Payload: intervention.Payload{
			Intervention: "help_chat",
			Push:         &intervention.PushContent{Template: "help", Placement: "bottom-right"},
		},
	}
}

func teamPolicy(rules ...intervention.Rule) *intervention.TenantPolicy {
	return &intervention.TenantPolicy{
		TenantID:        "tenant-a",
		Tier:            intervention.TierTeam,
		EnabledChannels: []intervention.Channel{intervention.ChannelPush, intervention.ChannelWebhook},
		Rules:           rules,
	}
}

func frustrated(sessionID string, confidence int) behavior.EmotionEvent {
	return behavior.EmotionEvent{
		SessionID:  sessionID,
		TenantID:   "tenant-a",
		Emotion:    behavior.Frustration,
		Confidence: confidence,
		ContextTag: behavior.TargetButton,
		Timestamp:  epoch,
	}
}

func TestRuleCooldownPerSession(t *testing.T) {
	r, clk, m := newTestRouter(t)
	policy := teamPolicy(frustrationRule("r-help", 1, 30))

	first, ok := r.Route(frustrated("s1", 90), policy)
	require.True(t, ok)
	assert.Equal(t, "r-help", first.RuleID)
	assert.Equal(t, "dir-0001", first.ID)
	assert.Equal(t, epoch, first.IssuedAt)

	clk.Advance(10 * time.Second)
	_, ok = r.Route(frustrated("s1", 90), policy)
	assert.False(t, ok)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DirectivesSkipped.WithLabelValues(skipCooldown)))

	// Other sessions are unaffected.
	_, ok = r.Route(frustrated("s2", 90), policy)
	assert.True(t, ok)

	clk.Advance(21 * time.Second)
	third, ok := r.Route(frustrated("s1", 90), policy)
	require.True(t, ok)
	assert.Equal(t, "r-help", third.RuleID)
}

func TestPriorityThenIDOrdering(t *testing.T) {
	r, _, _ := newTestRouter(t)
	policy := teamPolicy(
		frustrationRule("r-c", 2, 0),
		frustrationRule("r-b", 1, 0),
		frustrationRule("r-a", 1, 0),
	)

	d, ok := r.Route(frustrated("s1", 90), policy)
	require.True(t, ok)
	assert.Equal(t, "r-a", d.RuleID)
}

func TestFallsThroughToNextRuleOnCooldown(t *testing.T) {
	r, _, _ := newTestRouter(t)
	policy := teamPolicy(frustrationRule("r-a", 1, 60), frustrationRule("r-b", 2, 60))

	d1, ok := r.Route(frustrated("s1", 90), policy)
	require.True(t, ok)
	d2, ok := r.Route(frustrated("s1", 90), policy)
	require.True(t, ok)
	_, ok = r.Route(frustrated("s1", 90), policy)

	assert.Equal(t, "r-a", d1.RuleID)
	assert.Equal(t, "r-b", d2.RuleID)
	assert.False(t, ok)
}

func TestRuleMatching(t *testing.T) {
	r, _, _ := newTestRouter(t)
	rule := frustrationRule("r-a", 1, 0)
	rule.ContextFilter = behavior.TargetPrice
	policy := teamPolicy(rule)

	_, ok := r.Route(frustrated("s1", 90), policy)
	assert.False(t, ok, "context filter")

	rule.ContextFilter = ""
	rule.Active = false
	_, ok = r.Route(frustrated("s1", 90), teamPolicy(rule))
	assert.False(t, ok, "inactive")

	rule.Active = true
	_, ok = r.Route(frustrated("s1", 70), teamPolicy(rule))
	assert.False(t, ok, "below min confidence")

	_, ok = r.Route(frustrated("s1", 80), teamPolicy(rule))
	assert.True(t, ok, "at min confidence")

	_, ok = r.Route(frustrated("s1", 90), nil)
	assert.False(t, ok, "no policy")
}

func TestTierGating(t *testing.T) {
	r, _, m := newTestRouter(t)
	both := frustrationRule("r-both", 1, 0)
	both.Action = intervention.ActionBoth
	push := frustrationRule("r-push", 2, 0)

	free := teamPolicy(both, push)
	free.Tier = intervention.TierFree

	d, ok := r.Route(frustrated("s1", 90), free)
	require.True(t, ok)
	assert.Equal(t, "r-push", d.RuleID)
	assert.Equal(t, intervention.TierFree, d.Tier)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DirectivesSkipped.WithLabelValues(skipTier)))

	pushOnly := teamPolicy(both)
	pushOnly.EnabledChannels = []intervention.Channel{intervention.ChannelPush}
	_, ok = r.Route(frustrated("s2", 90), pushOnly)
	assert.False(t, ok)
}

func TestDirectiveCarriesPayloadForAction(t *testing.T) {
	r, _, _ := newTestRouter(t)
	rule := frustrationRule("r-a", 1, 0)
	rule.Action = intervention.ActionBoth
	rule.HighValue = true
	rule.Payload.Webhook = &intervention.WebhookContent{EventType: "intervention.triggered"}
	rule.Payload.Fields = intervention.Fields{"discount": intervention.Number(10)}

	event := frustrated("s1", 92)
	event.SequenceTail = []behavior.Emotion{behavior.Confusion, behavior.Frustration}
	d, ok := r.Route(event, teamPolicy(rule))
	require.True(t, ok)

	assert.Equal(t, intervention.ActionBoth, d.Action)
	assert.True(t, d.HighValue)
	require.NotNil(t, d.Payload.Push)
	require.NotNil(t, d.Payload.Webhook)
	assert.Equal(t, 92, d.Confidence)
	assert.Equal(t, behavior.TargetButton, d.ContextTag)
	assert.Equal(t, event.SequenceTail, d.SequenceTail)

	n, isNum := d.Payload.Fields["discount"].Num()
	assert.True(t, isNum)
	assert.Equal(t, float64(10), n)
}

func TestDailyCapPerTenantAndRule(t *testing.T) {
	r, clk, m := newTestRouter(t)
	rule := frustrationRule("r-a", 1, 0)
	rule.MaxPerTenantPerDay = 2
	policy := teamPolicy(rule)

	for i := 0; i < 2; i++ {
		_, ok := r.Route(frustrated(fmt.Sprintf("s%d", i), 90), policy)
		require.True(t, ok)
	}
	_, ok := r.Route(frustrated("s9", 90), policy)
	assert.False(t, ok)
	assert.Equal(t, 2, r.DailyCount("tenant-a", "r-a"))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DirectivesSkipped.WithLabelValues(skipDailyCap)))

	clk.Advance(24 * time.Hour)
	_, ok = r.Route(frustrated("s9", 90), policy)
	assert.True(t, ok, "counters roll over with the UTC day")
}

func TestDailyCapUnderConcurrency(t *testing.T) {
	r, _, _ := newTestRouter(t)
	rule := frustrationRule("r-a", 1, 30)
	rule.MaxPerTenantPerDay = 25
	policy := teamPolicy(rule)

	const sessions = 200
	var issued atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			session := fmt.Sprintf("s%d", i%50)
			if _, ok := r.Route(frustrated(session, 90), policy); ok {
				issued.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(25), issued.Load())
	assert.Equal(t, 25, r.DailyCount("tenant-a", "r-a"))
}

func TestCooldownUnderConcurrency(t *testing.T) {
	r, _, _ := newTestRouter(t)
	policy := teamPolicy(frustrationRule("r-a", 1, 30))

	var issued atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := r.Route(frustrated("same-session", 90), policy); ok {
				issued.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), issued.Load())
}

func TestEvictSessionAndExpireCooldowns(t *testing.T) {
	r, clk, _ := newTestRouter(t)
	policy := teamPolicy(frustrationRule("r-a", 1, 30))

	_, ok := r.Route(frustrated("s1", 90), policy)
	require.True(t, ok)
	r.EvictSession("tenant-a", "s1")
	_, ok = r.Route(frustrated("s1", 90), policy)
	assert.True(t, ok, "eviction clears the stamp")

	_, _ = r.Route(frustrated("s2", 90), policy)
	clk.Advance(31 * time.Second)
	assert.Equal(t, 2, r.ExpireCooldowns())
	assert.Zero(t, r.ExpireCooldowns())
}
