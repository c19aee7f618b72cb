package intervention

import (
	"time"

	"github.com/AtRiskMedia/intervene/internal/domain/behavior"
)

// EventInterventionTriggered is the webhook event type for issued directives.
const EventInterventionTriggered = "intervention.triggered"

// Directive is the router's decision artifact. At most one exists per
// (rule, session) within the rule's cooldown window.
type Directive struct {
	ID            string              `json:"id"`
	RuleID        string              `json:"ruleId"`
	SessionID     string              `json:"sessionId"`
	TenantID      string              `json:"tenantId"`
	Tier          Tier                `json:"tier"`
	Action        Action              `json:"action"`
	Payload       Payload             `json:"payload"`
	IssuedAt      time.Time           `json:"issuedAt"`
	Emotion       behavior.Emotion    `json:"emotion"`
	Confidence    int                 `json:"confidence"`
	ContextTag    behavior.TargetHint `json:"contextTag,omitempty"`
	SequenceTail  []behavior.Emotion  `json:"sequenceTail,omitempty"`
	HighValue     bool                `json:"highValue,omitempty"`
	CustomerValue float64             `json:"customerValue,omitempty"`
	PageURL       string              `json:"pageUrl,omitempty"`
}

// EventType returns the webhook event type this directive is published as.
func (d Directive) EventType() string {
	if d.Payload.Webhook != nil && d.Payload.Webhook.EventType != "" {
		return d.Payload.Webhook.EventType
	}
	return EventInterventionTriggered
}
