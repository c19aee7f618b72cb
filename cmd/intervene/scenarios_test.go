package main

import (
	"bytes"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AtRiskMedia/intervene/internal/application/classifier"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/clock"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/observability/metrics"
)

func TestEveryScenarioProducesItsEmotion(t *testing.T) {
	for _, name := range scenarioNames() {
		sc := scenarios[name]
		t.Run(name, func(t *testing.T) {
			for seed := uint64(1); seed <= 5; seed++ {
				clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
				c := classifier.New(classifier.DefaultConfig(), clk, logging.NewDiscardLogger(), metrics.NewUnregistered())
				run := runLocal(c, clk, sc, "s-1", "t-1", rand.New(rand.NewPCG(seed, seed)))

				require.NotEmpty(t, run.Events, "seed %d", seed)
				assert.Equal(t, sc.expect, run.Events[0].Emotion, "seed %d", seed)
				assert.Equal(t, "s-1", run.Events[0].SessionID)
			}
		})
	}
}

func TestSelectScenarios(t *testing.T) {
	all, err := selectScenarios("all")
	require.NoError(t, err)
	assert.Len(t, all, len(scenarios))

	one, err := selectScenarios("confused")
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "confused", one[0].name)

	_, err = selectScenarios("bored")
	assert.Error(t, err)
}

func TestSimulateLocalPrintsEverySession(t *testing.T) {
	selected, err := selectScenarios("all")
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, simulateLocal(&out, selected, simulateOptions{sessions: 2, seed: 7}, false))

	for _, name := range scenarioNames() {
		assert.Contains(t, out.String(), "sim-"+name+"-001")
		assert.Contains(t, out.String(), "sim-"+name+"-002")
	}
	assert.Contains(t, out.String(), "-> frustration")
}
