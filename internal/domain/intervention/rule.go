// Package intervention defines tenant rules, the directives the router issues
// from them, webhook endpoints and delivery attempts.
package intervention

import (
	"time"

	"github.com/AtRiskMedia/intervene/internal/domain/behavior"
)

// Channel is a delivery channel.
type Channel string

const (
	ChannelPush    Channel = "push"
	ChannelWebhook Channel = "webhook"
)

// Action is what a rule asks for when it fires.
type Action string

const (
	ActionPush    Action = "push"
	ActionWebhook Action = "webhook"
	ActionBoth    Action = "both"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	return a == ActionPush || a == ActionWebhook || a == ActionBoth
}

// Channels returns the delivery channels the action requires.
func (a Action) Channels() []Channel {
	switch a {
	case ActionPush:
		return []Channel{ChannelPush}
	case ActionWebhook:
		return []Channel{ChannelWebhook}
	case ActionBoth:
		return []Channel{ChannelPush, ChannelWebhook}
	}
	return nil
}

// Includes reports whether the action delivers over c.
func (a Action) Includes(c Channel) bool {
	for _, ch := range a.Channels() {
		if ch == c {
			return true
		}
	}
	return false
}

// Rule is tenant-scoped configuration mapping an emotion to an intervention.
type Rule struct {
	ID                 string              `json:"id" yaml:"id"`
	TriggerEmotion     behavior.Emotion    `json:"triggerEmotion" yaml:"triggerEmotion"`
	MinConfidence      int                 `json:"minConfidence" yaml:"minConfidence"`
	Priority           int                 `json:"priority" yaml:"priority"`
	CooldownSeconds    int                 `json:"cooldownSeconds" yaml:"cooldownSeconds"`
	MaxPerTenantPerDay int                 `json:"maxPerTenantPerDay" yaml:"maxPerTenantPerDay"`
	Action             Action              `json:"action" yaml:"action"`
	ContextFilter      behavior.TargetHint `json:"contextFilter,omitempty" yaml:"contextFilter"`
	HighValue          bool                `json:"highValue,omitempty" yaml:"highValue"`
	Active             bool                `json:"active" yaml:"active"`
	Payload            Payload             `json:"payload" yaml:"payload"`
}

// Cooldown returns the rule's cooldown window.
func (r Rule) Cooldown() time.Duration {
	return time.Duration(r.CooldownSeconds) * time.Second
}

// Matches reports whether the event satisfies the rule's trigger, confidence
// and context filter. Cooldowns and caps are the router's concern.
func (r Rule) Matches(event behavior.EmotionEvent) bool {
	if !r.Active || r.TriggerEmotion != event.Emotion {
		return false
	}
	if event.Confidence < r.MinConfidence {
		return false
	}
	if r.ContextFilter != "" && r.ContextFilter != event.ContextTag {
		return false
	}
	return true
}
