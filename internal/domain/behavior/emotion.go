package behavior

import (
	"fmt"
	"time"
)

// Emotion is one of the fixed set of states the classifier can emit.
type Emotion string

const (
	Frustration     Emotion = "frustration"
	Confusion       Emotion = "confusion"
	Interest        Emotion = "interest"
	PurchaseIntent  Emotion = "purchase-intent"
	AbandonmentRisk Emotion = "abandonment-risk"
	Engaged         Emotion = "engaged"
	Scanning        Emotion = "scanning"
	Distracted      Emotion = "distracted"
	Hesitation      Emotion = "hesitation"
)

// AllEmotions lists every emotion in a stable order.
var AllEmotions = []Emotion{
	Frustration, Confusion, Interest, PurchaseIntent, AbandonmentRisk,
	Engaged, Scanning, Distracted, Hesitation,
}

// Valid reports whether e is a known emotion.
func (e Emotion) Valid() bool {
	for _, known := range AllEmotions {
		if e == known {
			return true
		}
	}
	return false
}

// ParseEmotion validates a raw emotion name.
func ParseEmotion(raw string) (Emotion, error) {
	e := Emotion(raw)
	if !e.Valid() {
		return "", fmt.Errorf("unknown emotion %q", raw)
	}
	return e, nil
}

var opposites = map[Emotion][]Emotion{
	Engaged:         {AbandonmentRisk, Confusion, Distracted},
	AbandonmentRisk: {Engaged, PurchaseIntent, Interest},
	Interest:        {Distracted, AbandonmentRisk},
	PurchaseIntent:  {AbandonmentRisk},
	Distracted:      {Engaged, Interest},
	Confusion:       {Engaged},
}

// Opposes reports whether a direct transition from a to b is a semantic flip.
func Opposes(a, b Emotion) bool {
	for _, o := range opposites[a] {
		if o == b {
			return true
		}
	}
	return false
}

// EmotionEvent is an immutable classification emitted by the classifier.
type EmotionEvent struct {
	SessionID    string     `json:"sessionId"`
	TenantID     string     `json:"tenantId"`
	Emotion      Emotion    `json:"emotion"`
	Confidence   int        `json:"confidence"`
	Timestamp    time.Time  `json:"timestamp"`
	ContextTag   TargetHint `json:"contextTag"`
	SequenceTail []Emotion  `json:"sequenceTail"`
}

// CurrentState is the decaying view of a session's most recent emotion.
type CurrentState struct {
	SessionID    string     `json:"sessionId"`
	Emotion      Emotion    `json:"emotion,omitempty"`
	Confidence   int        `json:"confidence"`
	Since        time.Time  `json:"since,omitempty"`
	ContextTag   TargetHint `json:"contextTag,omitempty"`
	SequenceTail []Emotion  `json:"sequenceTail"`
	Known        bool       `json:"known"`
}
