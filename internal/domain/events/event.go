// Package events provides the delivery lifecycle events published by the
// dispatch channels.
package events

import (
	"time"

	"github.com/AtRiskMedia/intervene/internal/domain/intervention"
)

// Kind names an event class.
type Kind string

const (
	DeliverySuccess Kind = "delivery:success"
	DeliveryFailed  Kind = "delivery:failed"
	CriticalFailure Kind = "critical:failure"
	PushDelivered   Kind = "push:delivered"
	PushDropped     Kind = "push:dropped"
	PushShown       Kind = "push:shown"
	PushClicked     Kind = "push:clicked"
)

// Event is a terminal (or notable) delivery outcome.
type Event struct {
	Kind      Kind                          `json:"kind"`
	Directive intervention.Directive        `json:"directive"`
	Attempt   *intervention.DeliveryAttempt `json:"attempt,omitempty"`
	Clicked   *bool                         `json:"clicked,omitempty"`
	At        time.Time                     `json:"at"`
}

// Publisher accepts events without blocking.
type Publisher interface {
	Publish(event Event)
}

// Handler receives published events.
type Handler func(Event)
