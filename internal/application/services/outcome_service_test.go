package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AtRiskMedia/intervene/internal/application/learner"
	"github.com/AtRiskMedia/intervene/internal/domain/intervention"
	"github.com/AtRiskMedia/intervene/internal/domain/learning"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/clock"
)

type summaries struct {
	counts map[intervention.DeliveryStatus]int
	err    error
}

func (s summaries) Summary(context.Context, string, time.Time) (map[intervention.DeliveryStatus]int, error) {
	return s.counts, s.err
}

func newOutcomes(deliveries DeliverySummarizer) *OutcomeService {
	l := learner.New(learner.DefaultConfig(), nil, clock.NewFake(epoch), nil, nil)
	return NewOutcomeService(l, deliveries, nil)
}

func TestRecordOutcomeValidatesInput(t *testing.T) {
	svc := newOutcomes(nil)

	assert.ErrorIs(t, svc.RecordOutcome("acme", OutcomeRequest{PredictedAction: "a", ActualAction: "a"}), ErrEmptySequence)
	assert.Error(t, svc.RecordOutcome("acme", OutcomeRequest{Sequence: []string{"joy"}, PredictedAction: "a", ActualAction: "a"}))
	assert.Error(t, svc.RecordOutcome("acme", OutcomeRequest{Sequence: []string{"confusion"}}))
}

func TestOutcomesFeedPredictions(t *testing.T) {
	svc := newOutcomes(nil)
	seq := []string{"confusion", "frustration"}

	p, err := svc.Predict("acme", seq)
	require.NoError(t, err)
	assert.Equal(t, learning.SourceHeuristic, p.Source)

	for i := 0; i < 12; i++ {
		require.NoError(t, svc.RecordOutcome("acme", OutcomeRequest{
			SessionID: "s1", Sequence: seq, PredictedAction: "help_chat", ActualAction: "help_chat",
		}))
	}
	p, err = svc.Predict("acme", seq)
	require.NoError(t, err)
	assert.Equal(t, learning.SourceLearned, p.Source)
	assert.Equal(t, "help_chat", p.Action)

	insights := svc.Insights(context.Background(), "acme")
	assert.Equal(t, 1, insights.Patterns)
	assert.Equal(t, 12, insights.Observations)
	assert.Equal(t, 1, svc.Moat().TotalPatterns)
}

func TestInsightsIncludesRecentAttempts(t *testing.T) {
	svc := newOutcomes(summaries{counts: map[intervention.DeliveryStatus]int{intervention.StatusSuccess: 4}})
	assert.Equal(t, 4, svc.Insights(context.Background(), "acme").RecentAttempts[intervention.StatusSuccess])

	failing := newOutcomes(summaries{err: errors.New("locked")})
	assert.Nil(t, failing.Insights(context.Background(), "acme").RecentAttempts)
}
