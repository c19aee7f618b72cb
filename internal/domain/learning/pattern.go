// Package learning defines learned sequence→outcome patterns.
package learning

import (
	"context"
	"time"

	"github.com/AtRiskMedia/intervene/internal/domain/behavior"
)

// Pattern is a reinforced mapping from an emotion sequence to an outcome.
type Pattern struct {
	SequenceKey       string             `json:"sequenceKey"`
	TenantID          string             `json:"tenantId,omitempty"`
	Sequence          []behavior.Emotion `json:"sequence"`
	AssociatedOutcome string             `json:"associatedOutcome"`
	BaseConfidence    float64            `json:"baseConfidence"`
	SuccessRate       float64            `json:"successRate"`
	SampleSize        int                `json:"sampleSize"`
	Successes         int                `json:"successes"`
	Global            bool               `json:"global"`
	LastUpdated       time.Time          `json:"lastUpdated"`
	LastDecayed       time.Time          `json:"lastDecayed"`
}

// Prediction is the learner's (or heuristic's) answer for a sequence.
type Prediction struct {
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
	SampleSize int     `json:"sampleSize,omitempty"`
}

// Prediction sources.
const (
	SourceLearned   = "learned"
	SourceHeuristic = "heuristic"
)

// PatternRepository persists learner state between restarts.
type PatternRepository interface {
	SavePatterns(ctx context.Context, patterns []Pattern) error
	DeletePatterns(ctx context.Context, keys []string) error
	LoadPatterns(ctx context.Context) ([]Pattern, error)
}
