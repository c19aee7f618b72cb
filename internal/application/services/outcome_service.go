package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AtRiskMedia/intervene/internal/application/learner"
	"github.com/AtRiskMedia/intervene/internal/domain/behavior"
	"github.com/AtRiskMedia/intervene/internal/domain/intervention"
	"github.com/AtRiskMedia/intervene/internal/domain/learning"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/observability/logging"
)

// ErrEmptySequence is returned when an outcome or prediction names no emotions.
var ErrEmptySequence = errors.New("emotion sequence is required")

const insightsWindow = 24 * time.Hour

// DeliverySummarizer counts recent delivery attempts by status.
type DeliverySummarizer interface {
	Summary(ctx context.Context, tenantID string, since time.Time) (map[intervention.DeliveryStatus]int, error)
}

// OutcomeRequest reports what a session actually did after an intervention
// was predicted.
type OutcomeRequest struct {
	SessionID       string   `json:"sessionId"`
	Sequence        []string `json:"sequence"`
	PredictedAction string   `json:"predictedAction"`
	ActualAction    string   `json:"actualAction"`
}

// TenantInsights combines learner insights with recent delivery audit counts.
type TenantInsights struct {
	learner.Insights
	RecentAttempts map[intervention.DeliveryStatus]int `json:"recentAttempts,omitempty"`
}

// OutcomeService is the outer surface of the learner.
type OutcomeService struct {
	learner    *learner.Learner
	deliveries DeliverySummarizer
	logger     *logging.ChanneledLogger
}

// NewOutcomeService creates the service. deliveries may be nil.
func NewOutcomeService(l *learner.Learner, deliveries DeliverySummarizer, logger *logging.ChanneledLogger) *OutcomeService {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &OutcomeService{learner: l, deliveries: deliveries, logger: logger}
}

func parseSequence(raw []string) ([]behavior.Emotion, error) {
	if len(raw) == 0 {
		return nil, ErrEmptySequence
	}
	seq := make([]behavior.Emotion, 0, len(raw))
	for _, r := range raw {
		e, err := behavior.ParseEmotion(r)
		if err != nil {
			return nil, err
		}
		seq = append(seq, e)
	}
	return seq, nil
}

// RecordOutcome validates and forwards an observed outcome to the learner.
func (s *OutcomeService) RecordOutcome(tenantID string, req OutcomeRequest) error {
	seq, err := parseSequence(req.Sequence)
	if err != nil {
		return err
	}
	if req.PredictedAction == "" || req.ActualAction == "" {
		return fmt.Errorf("predictedAction and actualAction are required")
	}
	return s.learner.RecordOutcome(tenantID, req.SessionID, seq, req.PredictedAction, req.ActualAction)
}

// Predict returns the learned or heuristic action for the sequence.
func (s *OutcomeService) Predict(tenantID string, sequence []string) (learning.Prediction, error) {
	seq, err := parseSequence(sequence)
	if err != nil {
		return learning.Prediction{}, err
	}
	return s.learner.Predict(tenantID, seq), nil
}

// Insights summarizes the tenant's learning and the last day of deliveries.
func (s *OutcomeService) Insights(ctx context.Context, tenantID string) TenantInsights {
	out := TenantInsights{Insights: s.learner.Insights(tenantID)}
	if s.deliveries != nil {
		counts, err := s.deliveries.Summary(ctx, tenantID, time.Now().Add(-insightsWindow))
		if err != nil {
			s.logger.WithTenant(logging.ChannelLearner, tenantID).Warn("Delivery summary unavailable", "error", err)
		} else {
			out.RecentAttempts = counts
		}
	}
	return out
}

// Moat returns the cross-tenant learning depth.
func (s *OutcomeService) Moat() learner.MoatMetrics {
	return s.learner.MoatMetrics()
}
