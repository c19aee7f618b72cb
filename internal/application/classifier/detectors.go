package classifier

import (
	"math"
	"time"

	"github.com/AtRiskMedia/intervene/internal/domain/behavior"
)

// candidate is a detector's proposal. onEmit runs only when the candidate
// survives gating, so buffers are consumed exactly once per emission.
type candidate struct {
	emotion    behavior.Emotion
	confidence int
	context    behavior.TargetHint
	onEmit     func()
}

func ms(d time.Duration) int64 { return d.Milliseconds() }

func clampConfidence(v, ceiling int) int {
	if v > ceiling {
		return ceiling
	}
	if v < 0 {
		return 0
	}
	return v
}

// detectClickBurst looks for rapid pointer-downs clustered in one spot. The
// longest qualifying suffix of recent clicks wins.
func (c *Classifier) detectClickBurst(s *sessionState, sample behavior.Sample) *candidate {
	cfg := c.cfg
	s.clicks.evictBefore(sample.Timestamp - ms(cfg.ClickHorizon))
	s.clicks.push(mark{at: sample.Timestamp, x: sample.Position.X, y: sample.Position.Y})

	clicks := s.clicks.snapshot()
	for k := len(clicks); k >= cfg.BurstMinClicks; k-- {
		burst := clicks[len(clicks)-k:]
		span := burst[k-1].at - burst[0].at
		if span > ms(cfg.ClickHorizon) {
			continue
		}
		if float64(span)/float64(k-1) >= float64(ms(cfg.BurstMaxMeanGap)) {
			continue
		}
		if spread(burst) >= cfg.BurstRadius {
			continue
		}
		return &candidate{
			emotion:    behavior.Frustration,
			confidence: clampConfidence(cfg.BurstBaseConfidence+cfg.BurstPerClick*k, cfg.BurstMaxConfidence),
			context:    sample.TargetHint.Normalize(),
			onEmit:     s.clicks.reset,
		}
	}
	return nil
}

// spread is the largest distance of any point from the centroid.
func spread(points []mark) float64 {
	var cx, cy float64
	for _, p := range points {
		cx += p.x
		cy += p.y
	}
	cx /= float64(len(points))
	cy /= float64(len(points))
	var max float64
	for _, p := range points {
		if d := math.Hypot(p.x-cx, p.y-cy); d > max {
			max = d
		}
	}
	return max
}

// trackDwell updates the hover span for a pointer-move and evaluates it.
func (c *Classifier) trackDwell(s *sessionState, sample behavior.Sample) *candidate {
	hint := sample.TargetHint.Normalize()
	if !s.dwell.active || s.dwell.hint != hint {
		s.dwell = dwellSpan{hint: hint, start: sample.Timestamp, active: hint.Actionable()}
		return nil
	}
	return c.evaluateDwell(s, sample.Timestamp)
}

// evaluateDwell proposes at most one emotion per category per span.
func (c *Classifier) evaluateDwell(s *sessionState, at int64) *candidate {
	if !s.dwell.active {
		return nil
	}
	cfg := c.cfg
	d := s.dwell
	elapsed := at - d.start

	var emotion behavior.Emotion
	var confidence int
	switch d.hint {
	case behavior.TargetPrice:
		switch {
		case elapsed >= ms(cfg.PriceDwellMin) && elapsed <= ms(cfg.PriceDwellMax):
			emotion = behavior.PurchaseIntent
			confidence = cfg.DwellBaseConfidence + 5 + int((elapsed-ms(cfg.PriceDwellMin))/100)
		case elapsed > ms(cfg.PriceDwellMax):
			emotion = behavior.Hesitation
			confidence = cfg.DwellBaseConfidence + int((elapsed-ms(cfg.PriceDwellMax))/200)
		}
	case behavior.TargetButton, behavior.TargetLink, behavior.TargetFormField:
		if elapsed >= ms(cfg.DwellThreshold) {
			emotion = behavior.Interest
			confidence = cfg.DwellBaseConfidence + int((elapsed-ms(cfg.DwellThreshold))/100)
		}
	}
	if emotion == "" || d.fired[emotion] {
		return nil
	}
	return &candidate{
		emotion:    emotion,
		confidence: clampConfidence(confidence, cfg.DwellMaxConfidence),
		context:    d.hint,
		onEmit: func() {
			if s.dwell.fired == nil {
				s.dwell.fired = make(map[behavior.Emotion]bool)
			}
			s.dwell.fired[emotion] = true
		},
	}
}

// detectExitIntent fires on a fast upward pointer movement ending at the top
// edge of the viewport.
func (c *Classifier) detectExitIntent(s *sessionState, sample behavior.Sample) *candidate {
	cfg := c.cfg
	s.moves.evictBefore(sample.Timestamp - ms(cfg.PointerHorizon))
	defer s.moves.push(mark{at: sample.Timestamp, x: sample.Position.X, y: sample.Position.Y})

	y := sample.Position.Y
	if y > cfg.ExitEdge {
		return nil
	}
	for _, m := range s.moves.since(sample.Timestamp - ms(cfg.ExitLookback)) {
		dt := sample.Timestamp - m.at
		if dt <= 0 {
			continue
		}
		if (m.y-y)/float64(dt) > cfg.ExitMinVelocity {
			return &candidate{
				emotion:    behavior.AbandonmentRisk,
				confidence: cfg.ExitConfidence,
				context:    sample.TargetHint.Normalize(),
				onEmit:     s.moves.reset,
			}
		}
		break
	}
	return nil
}

// detectScroll classifies the recent scroll history: repeated reversals read
// as confusion, steady moderate scrolling as engagement, fast one-way
// scrolling as scanning.
func (c *Classifier) detectScroll(s *sessionState, sample behavior.Sample) *candidate {
	cfg := c.cfg
	s.scrolls.evictBefore(sample.Timestamp - ms(cfg.ScrollHorizon))
	s.scrolls.push(mark{at: sample.Timestamp, dy: sample.ScrollDelta})
	context := sample.TargetHint.Normalize()

	if n := significantReversals(s.scrolls.snapshot(), cfg.ReversalMinDistance); n >= cfg.ReversalMinCount {
		return &candidate{
			emotion:    behavior.Confusion,
			confidence: clampConfidence(55+8*n, 90),
			context:    context,
			onEmit:     s.scrolls.reset,
		}
	}

	recent := s.scrolls.since(sample.Timestamp - ms(cfg.VelocityWindow))
	if len(recent) < 2 {
		return nil
	}
	span := recent[len(recent)-1].at - recent[0].at
	if span <= 0 {
		return nil
	}
	var distance float64
	for _, m := range recent[1:] {
		distance += math.Abs(m.dy)
	}
	velocity := distance / float64(span)
	flips := directionChanges(recent)

	switch {
	case velocity > cfg.ScanningMinVelocity && flips <= 1 && distance >= cfg.ScanningMinDistance:
		return &candidate{
			emotion:    behavior.Scanning,
			confidence: clampConfidence(60+int((velocity-cfg.ScanningMinVelocity)*10), 85),
			context:    context,
		}
	case flips == 0 && span >= ms(cfg.EngagedMinDuration) &&
		velocity >= cfg.EngagedMinVelocity && velocity <= cfg.EngagedMaxVelocity:
		return &candidate{
			emotion:    behavior.Engaged,
			confidence: clampConfidence(60+int(span/300), 85),
			context:    context,
		}
	}
	return nil
}

// significantReversals counts direction flips that follow a run of at least
// minDistance pixels.
func significantReversals(marks []mark, minDistance float64) int {
	var reversals int
	var runSign float64
	var runDistance float64
	for _, m := range marks {
		sign := math.Copysign(1, m.dy)
		if runSign != 0 && sign != runSign {
			if runDistance >= minDistance {
				reversals++
			}
			runDistance = 0
		}
		runSign = sign
		runDistance += math.Abs(m.dy)
	}
	return reversals
}

func directionChanges(marks []mark) int {
	var flips int
	for i := 1; i < len(marks); i++ {
		if math.Signbit(marks[i].dy) != math.Signbit(marks[i-1].dy) {
			flips++
		}
	}
	return flips
}

// detectDistraction counts blur and hide signals inside the window.
func (c *Classifier) detectDistraction(s *sessionState, sample behavior.Sample) *candidate {
	cfg := c.cfg
	s.blurs.evictBefore(sample.Timestamp - ms(cfg.DistractionWindow))
	s.blurs.push(mark{at: sample.Timestamp})
	n := s.blurs.len()
	if n < cfg.DistractionMinHits {
		return nil
	}
	return &candidate{
		emotion:    behavior.Distracted,
		confidence: clampConfidence(60+10*(n-cfg.DistractionMinHits), 80),
		context:    sample.TargetHint.Normalize(),
		onEmit:     s.blurs.reset,
	}
}
