// Package messaging provides the push hub that carries directives to live
// browser sessions and the in-process event bus for delivery outcomes.
package messaging

import (
	"time"

	"github.com/AtRiskMedia/intervene/internal/domain/behavior"
	"github.com/AtRiskMedia/intervene/internal/domain/intervention"
)

// PushChannelName is the logical channel every session subscribes to.
const PushChannelName = "interventions"

// FrameType tags a push frame.
type FrameType string

const (
	FrameIntervention FrameType = "intervention"
	FrameShown        FrameType = "intervention_shown"
	FrameClicked      FrameType = "intervention_clicked"
	FrameAck          FrameType = "ack"
	FramePing         FrameType = "ping"
	FramePong         FrameType = "pong"
)

// Frame is the JSON envelope exchanged over the push socket in both
// directions. Server intervention frames carry Intervention and Metadata;
// client frames name the directive they report on with DirectiveID.
type Frame struct {
	Type         FrameType             `json:"type"`
	DirectiveID  string                `json:"directiveId,omitempty"`
	Intervention *intervention.Payload `json:"intervention,omitempty"`
	Metadata     *FrameMetadata        `json:"metadata,omitempty"`
	Clicked      *bool                 `json:"clicked,omitempty"`
}

// FrameMetadata describes why an intervention was issued.
type FrameMetadata struct {
	DirectiveID string           `json:"directiveId"`
	RuleID      string           `json:"ruleId"`
	Emotion     behavior.Emotion `json:"emotion"`
	Confidence  int              `json:"confidence"`
	IssuedAt    time.Time        `json:"issuedAt"`
}

// InterventionFrame builds the server frame for d.
func InterventionFrame(d intervention.Directive) Frame {
	payload := d.Payload
	return Frame{
		Type:         FrameIntervention,
		DirectiveID:  d.ID,
		Intervention: &payload,
		Metadata: &FrameMetadata{
			DirectiveID: d.ID,
			RuleID:      d.RuleID,
			Emotion:     d.Emotion,
			Confidence:  d.Confidence,
			IssuedAt:    d.IssuedAt,
		},
	}
}

// Directive rebuilds the directive an intervention frame describes. The
// session fields are not carried on the wire and are left to the caller.
func (f Frame) Directive() (intervention.Directive, bool) {
	if f.Type != FrameIntervention || f.Intervention == nil || f.Metadata == nil {
		return intervention.Directive{}, false
	}
	return intervention.Directive{
		ID:         f.Metadata.DirectiveID,
		RuleID:     f.Metadata.RuleID,
		Action:     f.Intervention.Action,
		Payload:    *f.Intervention,
		IssuedAt:   f.Metadata.IssuedAt,
		Emotion:    f.Metadata.Emotion,
		Confidence: f.Metadata.Confidence,
	}, true
}
