// Package behavior defines the raw interaction samples collected from the
// browser and the emotion events derived from them.
package behavior

import "math"

// SampleKind identifies the type of a raw interaction signal.
type SampleKind string

const (
	KindPointerMove      SampleKind = "pointer-move"
	KindPointerDown      SampleKind = "pointer-down"
	KindScroll           SampleKind = "scroll"
	KindFocus            SampleKind = "focus"
	KindBlur             SampleKind = "blur"
	KindVisibilityChange SampleKind = "visibility-change"
	KindKey              SampleKind = "key"
)

// Valid reports whether k is one of the known sample kinds.
func (k SampleKind) Valid() bool {
	switch k {
	case KindPointerMove, KindPointerDown, KindScroll, KindFocus, KindBlur, KindVisibilityChange, KindKey:
		return true
	}
	return false
}

// TargetHint is the coarse element classification computed by the collector.
type TargetHint string

const (
	TargetButton    TargetHint = "button"
	TargetLink      TargetHint = "link"
	TargetPrice     TargetHint = "price"
	TargetFormField TargetHint = "form-field"
	TargetNav       TargetHint = "nav"
	TargetGeneric   TargetHint = "generic"
)

// Normalize maps unknown or empty hints to TargetGeneric.
func (t TargetHint) Normalize() TargetHint {
	switch t {
	case TargetButton, TargetLink, TargetPrice, TargetFormField, TargetNav:
		return t
	}
	return TargetGeneric
}

// Actionable reports whether dwelling on this element category means something.
// Containers (nav, generic) never count.
func (t TargetHint) Actionable() bool {
	switch t {
	case TargetButton, TargetLink, TargetPrice, TargetFormField:
		return true
	}
	return false
}

// Position is a viewport coordinate in CSS pixels.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Sample is one raw interaction signal. Timestamps are monotonic milliseconds
// as reported by the page (performance.now()), so zero is a valid instant.
type Sample struct {
	Kind        SampleKind `json:"kind"`
	Position    *Position  `json:"position,omitempty"`
	Timestamp   int64      `json:"timestamp"`
	TargetHint  TargetHint `json:"targetHint,omitempty"`
	ScrollDelta float64    `json:"dy,omitempty"`
	Hidden      bool       `json:"hidden,omitempty"`
}

// Valid reports whether the sample is well formed enough to classify.
func (s Sample) Valid() bool {
	if !s.Kind.Valid() || s.Timestamp < 0 {
		return false
	}
	if s.Position != nil {
		if !finite(s.Position.X) || !finite(s.Position.Y) {
			return false
		}
	}
	switch s.Kind {
	case KindPointerMove, KindPointerDown:
		return s.Position != nil
	case KindScroll:
		return s.ScrollDelta != 0 && finite(s.ScrollDelta)
	}
	return true
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
