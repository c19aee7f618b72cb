package intervention

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type scalarKind uint8

const (
	scalarNull scalarKind = iota
	scalarString
	scalarNumber
	scalarBool
)

// Scalar is a JSON primitive (string, number or bool). Payload fields are
// restricted to scalars so directives stay flat and serializable.
type Scalar struct {
	kind scalarKind
	str  string
	num  float64
	flag bool
}

func String(s string) Scalar  { return Scalar{kind: scalarString, str: s} }
func Number(n float64) Scalar { return Scalar{kind: scalarNumber, num: n} }
func Bool(b bool) Scalar      { return Scalar{kind: scalarBool, flag: b} }

// Str returns the string value, if the scalar holds one.
func (s Scalar) Str() (string, bool) { return s.str, s.kind == scalarString }

// Num returns the numeric value, if the scalar holds one.
func (s Scalar) Num() (float64, bool) { return s.num, s.kind == scalarNumber }

// Flag returns the boolean value, if the scalar holds one.
func (s Scalar) Flag() (bool, bool) { return s.flag, s.kind == scalarBool }

func (s Scalar) MarshalJSON() ([]byte, error) {
	switch s.kind {
	case scalarString:
		return json.Marshal(s.str)
	case scalarNumber:
		return json.Marshal(s.num)
	case scalarBool:
		return json.Marshal(s.flag)
	}
	return []byte("null"), nil
}

func (s *Scalar) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = Scalar{}
		return nil
	}
	switch data[0] {
	case '"':
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = String(v)
	case 't', 'f':
		var v bool
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = Bool(v)
	case '{', '[':
		return fmt.Errorf("payload field must be a string, number or bool")
	default:
		var v float64
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = Number(v)
	}
	return nil
}

// UnmarshalYAML accepts plain YAML scalars for file-based policies.
func (s *Scalar) UnmarshalYAML(unmarshal func(any) error) error {
	var raw any
	if err := unmarshal(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case nil:
		*s = Scalar{}
	case string:
		*s = String(v)
	case bool:
		*s = Bool(v)
	case int:
		*s = Number(float64(v))
	case float64:
		*s = Number(v)
	default:
		return fmt.Errorf("payload field must be a string, number or bool, got %T", raw)
	}
	return nil
}

// Fields is the extensible part of a payload.
type Fields map[string]Scalar

// PushContent describes what the client should render.
type PushContent struct {
	Template   string `json:"template" yaml:"template"`
	Placement  string `json:"placement,omitempty" yaml:"placement"`
	TTLSeconds int    `json:"ttlSeconds,omitempty" yaml:"ttlSeconds"`
}

// WebhookContent describes the outbound notification.
type WebhookContent struct {
	EventType string `json:"eventType" yaml:"eventType"`
}

// Payload is the action-tagged body of a directive. Push is set for push and
// both, Webhook for webhook and both.
type Payload struct {
	Action       Action          `json:"action" yaml:"action"`
	Intervention string          `json:"intervention" yaml:"intervention"`
	Push         *PushContent    `json:"push,omitempty" yaml:"push"`
	Webhook      *WebhookContent `json:"webhook,omitempty" yaml:"webhook"`
	Fields       Fields          `json:"fields,omitempty" yaml:"fields"`
}

// ForAction returns a copy of p normalized for the given action: the variant
// bodies required by the action are filled with defaults, the others cleared.
func (p Payload) ForAction(action Action) Payload {
	out := p
	out.Action = action
	if action.Includes(ChannelPush) {
		if out.Push == nil {
			out.Push = &PushContent{Template: p.Intervention}
		} else {
			push := *out.Push
			out.Push = &push
		}
	} else {
		out.Push = nil
	}
	if action.Includes(ChannelWebhook) {
		if out.Webhook == nil {
			out.Webhook = &WebhookContent{EventType: EventInterventionTriggered}
		} else {
			hook := *out.Webhook
			out.Webhook = &hook
		}
	} else {
		out.Webhook = nil
	}
	if p.Fields != nil {
		out.Fields = make(Fields, len(p.Fields))
		for k, v := range p.Fields {
			out.Fields[k] = v
		}
	}
	return out
}

// Validate checks the action tag matches the populated variant bodies.
func (p Payload) Validate() error {
	if !p.Action.Valid() {
		return fmt.Errorf("invalid payload action %q", p.Action)
	}
	if p.Action.Includes(ChannelPush) && p.Push == nil {
		return fmt.Errorf("payload action %s requires push content", p.Action)
	}
	if p.Action.Includes(ChannelWebhook) && p.Webhook == nil {
		return fmt.Errorf("payload action %s requires webhook content", p.Action)
	}
	return nil
}
