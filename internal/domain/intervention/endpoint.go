package intervention

import (
	"strings"
	"time"

	"github.com/AtRiskMedia/intervene/internal/domain/behavior"
)

// EndpointFilters are optional predicates, AND-combined. Zero values mean
// "no restriction".
type EndpointFilters struct {
	MinConfidence    int                `json:"minConfidence,omitempty" yaml:"minConfidence"`
	Emotions         []behavior.Emotion `json:"emotions,omitempty" yaml:"emotions"`
	Tiers            []Tier             `json:"tiers,omitempty" yaml:"tiers"`
	MinCustomerValue float64            `json:"minCustomerValue,omitempty" yaml:"minCustomerValue"`
	URLContains      string             `json:"urlContains,omitempty" yaml:"urlContains"`
}

// Allows reports whether every configured filter accepts the directive.
func (f EndpointFilters) Allows(d Directive) bool {
	if f.MinConfidence > 0 && d.Confidence < f.MinConfidence {
		return false
	}
	if len(f.Emotions) > 0 && !containsEmotion(f.Emotions, d.Emotion) {
		return false
	}
	if len(f.Tiers) > 0 && !containsTier(f.Tiers, d.Tier) {
		return false
	}
	if f.MinCustomerValue > 0 && d.CustomerValue < f.MinCustomerValue {
		return false
	}
	if f.URLContains != "" && !strings.Contains(d.PageURL, f.URLContains) {
		return false
	}
	return true
}

// RetryPolicy governs webhook redelivery. Delay for attempt n is
// min(BackoffBase^n, BackoffCeiling) seconds plus up to JitterRatio of that.
type RetryPolicy struct {
	MaxRetries     int           `json:"maxRetries" yaml:"maxRetries"`
	BackoffBase    float64       `json:"backoffBase" yaml:"backoffBase"`
	BackoffCeiling time.Duration `json:"backoffCeiling" yaml:"backoffCeiling"`
	JitterRatio    float64       `json:"jitterRatio" yaml:"jitterRatio"`
}

// WebhookEndpoint is a tenant-owned HTTP receiver.
type WebhookEndpoint struct {
	ID         string          `json:"id" yaml:"id"`
	TenantID   string          `json:"tenantId" yaml:"tenantId"`
	URL        string          `json:"url" yaml:"url"`
	Secret     string          `json:"-" yaml:"secret"`
	EventTypes []string        `json:"eventTypes" yaml:"eventTypes"`
	Active     bool            `json:"active" yaml:"active"`
	Filters    EndpointFilters `json:"filters" yaml:"filters"`
	Retry      *RetryPolicy    `json:"retry,omitempty" yaml:"retry"`
}

// Subscribes reports whether the endpoint wants the given event type. An
// empty list or "*" subscribes to everything.
func (e WebhookEndpoint) Subscribes(eventType string) bool {
	if len(e.EventTypes) == 0 {
		return true
	}
	for _, t := range e.EventTypes {
		if t == "*" || t == eventType {
			return true
		}
	}
	return false
}

// Accepts combines activity, subscription and filter checks.
func (e WebhookEndpoint) Accepts(d Directive) bool {
	return e.Active && e.URL != "" && e.Subscribes(d.EventType()) && e.Filters.Allows(d)
}

func containsEmotion(list []behavior.Emotion, e behavior.Emotion) bool {
	for _, v := range list {
		if v == e {
			return true
		}
	}
	return false
}

func containsTier(list []Tier, t Tier) bool {
	for _, v := range list {
		if v == t {
			return true
		}
	}
	return false
}
