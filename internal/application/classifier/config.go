// Package classifier turns raw interaction samples into emotion events using
// per-session rolling buffers.
package classifier

import "time"

// Config carries every threshold the detectors use. DefaultConfig returns the
// production values; tests tweak individual fields.
type Config struct {
	BufferCapacity int

	ClickHorizon   time.Duration
	ScrollHorizon  time.Duration
	PointerHorizon time.Duration

	// Click burst → frustration
	BurstMinClicks      int
	BurstMaxMeanGap     time.Duration
	BurstRadius         float64
	BurstBaseConfidence int
	BurstPerClick       int
	BurstMaxConfidence  int

	// Hover dwell → interest / purchase-intent / hesitation
	DwellThreshold      time.Duration
	PriceDwellMin       time.Duration
	PriceDwellMax       time.Duration
	DwellMaxConfidence  int
	DwellBaseConfidence int

	// Scroll patterns
	ReversalMinCount    int
	ReversalMinDistance float64
	VelocityWindow      time.Duration
	EngagedMinVelocity  float64
	EngagedMaxVelocity  float64
	EngagedMinDuration  time.Duration
	ScanningMinVelocity float64
	ScanningMinDistance float64

	// Idle and exit intent → abandonment-risk
	IdleThreshold      time.Duration
	IdleConfidence     int
	ExitMinVelocity    float64
	ExitEdge           float64
	ExitLookback       time.Duration
	ExitConfidence     int
	DistractionWindow  time.Duration
	DistractionMinHits int

	// Emission gating
	EmotionCooldown     time.Duration
	ContradictionWindow time.Duration
	ConfidenceFloor     int
	TailLength          int
	StateDecay          time.Duration
	DedupeMemory        int
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		BufferCapacity: 20,

		ClickHorizon:   2 * time.Second,
		ScrollHorizon:  10 * time.Second,
		PointerHorizon: 5 * time.Second,

		BurstMinClicks:      3,
		BurstMaxMeanGap:     300 * time.Millisecond,
		BurstRadius:         50,
		BurstBaseConfidence: 84,
		BurstPerClick:       2,
		BurstMaxConfidence:  95,

		DwellThreshold:      2500 * time.Millisecond,
		PriceDwellMin:       time.Second,
		PriceDwellMax:       3 * time.Second,
		DwellMaxConfidence:  90,
		DwellBaseConfidence: 60,

		ReversalMinCount:    3,
		ReversalMinDistance: 50,
		VelocityWindow:      3 * time.Second,
		EngagedMinVelocity:  0.3,
		EngagedMaxVelocity:  1.5,
		EngagedMinDuration:  1500 * time.Millisecond,
		ScanningMinVelocity: 2.5,
		ScanningMinDistance: 1500,

		IdleThreshold:      30 * time.Second,
		IdleConfidence:     65,
		ExitMinVelocity:    1.0,
		ExitEdge:           20,
		ExitLookback:       300 * time.Millisecond,
		ExitConfidence:     85,
		DistractionWindow:  10 * time.Second,
		DistractionMinHits: 2,

		EmotionCooldown:     5 * time.Second,
		ContradictionWindow: 3 * time.Second,
		ConfidenceFloor:     50,
		TailLength:          5,
		StateDecay:          60 * time.Second,
		DedupeMemory:        128,
	}
}
