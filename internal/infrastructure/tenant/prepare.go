package tenant

import (
	"time"

	"github.com/AtRiskMedia/intervene/internal/domain/intervention"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/intervene/pkg/config"
)

// DefaultRetryPolicy is applied to endpoints that do not carry their own.
func DefaultRetryPolicy() intervention.RetryPolicy {
	return intervention.RetryPolicy{
		MaxRetries:     config.WebhookMaxRetries,
		BackoffBase:    config.WebhookBackoffBase,
		BackoffCeiling: config.WebhookBackoffCeiling,
		JitterRatio:    config.WebhookJitterRatio,
	}
}

// Prepare returns a normalized copy of raw: unknown tiers become free, rules
// with an unknown emotion or action are dropped, payloads are shaped for
// their action, and endpoints inherit the tenant id and a retry policy.
func Prepare(raw *intervention.TenantPolicy, logger *logging.ChanneledLogger) *intervention.TenantPolicy {
	p := *raw
	p.Tier = raw.Tier.Normalize()
	log := logger.WithTenant(logging.ChannelTenant, p.TenantID)

	p.Rules = make([]intervention.Rule, 0, len(raw.Rules))
	for _, r := range raw.Rules {
		if !r.TriggerEmotion.Valid() || !r.Action.Valid() {
			log.Warn("Dropping invalid rule", "ruleId", r.ID, "emotion", r.TriggerEmotion, "action", r.Action)
			continue
		}
		if r.CooldownSeconds < 0 {
			r.CooldownSeconds = 0
		}
		r.Payload = r.Payload.ForAction(r.Action)
		if err := r.Payload.Validate(); err != nil {
			log.Warn("Dropping rule with invalid payload", "ruleId", r.ID, "error", err)
			continue
		}
		p.Rules = append(p.Rules, r)
	}

	p.Endpoints = make([]intervention.WebhookEndpoint, 0, len(raw.Endpoints))
	for _, ep := range raw.Endpoints {
		ep.TenantID = p.TenantID
		retry := DefaultRetryPolicy()
		if ep.Retry != nil {
			retry = mergeRetry(*ep.Retry, retry)
		}
		ep.Retry = &retry
		p.Endpoints = append(p.Endpoints, ep)
	}
	p.EnabledChannels = append([]intervention.Channel(nil), raw.EnabledChannels...)
	return &p
}

func mergeRetry(r, fallback intervention.RetryPolicy) intervention.RetryPolicy {
	if r.MaxRetries < 0 {
		r.MaxRetries = 0
	}
	if r.BackoffBase <= 1 {
		r.BackoffBase = fallback.BackoffBase
	}
	if r.BackoffCeiling <= 0 {
		r.BackoffCeiling = fallback.BackoffCeiling
	}
	if r.BackoffCeiling > 10*time.Minute {
		r.BackoffCeiling = 10 * time.Minute
	}
	if r.JitterRatio < 0 || r.JitterRatio > 1 {
		r.JitterRatio = fallback.JitterRatio
	}
	return r
}
