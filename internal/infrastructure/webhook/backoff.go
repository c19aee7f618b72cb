package webhook

import (
	"math"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/AtRiskMedia/intervene/internal/domain/intervention"
)

// Backoff computes retry delays: min(base^n, ceiling) seconds, plus up to
// JitterRatio of that capped value. The push client reuses it for reconnects.
type Backoff struct {
	Base        float64
	Ceiling     time.Duration
	JitterRatio float64
}

// BackoffFromPolicy adapts a retry policy.
func BackoffFromPolicy(p intervention.RetryPolicy) Backoff {
	return Backoff{Base: p.BackoffBase, Ceiling: p.BackoffCeiling, JitterRatio: p.JitterRatio}
}

// Capped returns the delay for attempt n before jitter.
func (b Backoff) Capped(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	base := b.Base
	if base < 1 {
		base = 1
	}
	seconds := math.Pow(base, float64(n))
	ceiling := b.Ceiling.Seconds()
	if ceiling > 0 && (seconds > ceiling || math.IsInf(seconds, 1)) {
		seconds = ceiling
	}
	return time.Duration(seconds * float64(time.Second))
}

// Delay returns the jittered delay for attempt n. u is a uniform sample in
// [0, 1); values outside are clamped. The result never drops below prev, so a
// sequence of delays is non-decreasing, and never exceeds the ceiling plus
// the jitter allowance.
func (b Backoff) Delay(n int, u float64, prev time.Duration) time.Duration {
	if u < 0 {
		u = 0
	}
	if u > 1 {
		u = 1
	}
	ratio := b.JitterRatio
	if ratio < 0 {
		ratio = 0
	}
	capped := b.Capped(n)
	delay := capped + time.Duration(float64(capped)*ratio*u)
	if delay < prev {
		delay = prev
	}
	return delay
}

// MaxDelay is the upper bound of any single delay.
func (b Backoff) MaxDelay() time.Duration {
	ceiling := b.Ceiling
	if ceiling <= 0 {
		return 0
	}
	return ceiling + time.Duration(float64(ceiling)*math.Max(b.JitterRatio, 0))
}

// Schedule walks a Backoff one attempt at a time. It implements
// backoff.BackOff so it can drive backoff.Retry.
type Schedule struct {
	backoff Backoff
	jitter  func() float64
	attempt int
	prev    time.Duration
}

var _ backoff.BackOff = (*Schedule)(nil)

// Schedule starts a fresh sequence drawing jitter from the uniform source u.
func (b Backoff) Schedule(u func() float64) *Schedule {
	return &Schedule{backoff: b, jitter: u}
}

// NextBackOff returns the delay before the next attempt.
func (s *Schedule) NextBackOff() time.Duration {
	s.attempt++
	u := 0.0
	if s.jitter != nil {
		u = s.jitter()
	}
	s.prev = s.backoff.Delay(s.attempt, u, s.prev)
	return s.prev
}

// Reset restarts the sequence at attempt one.
func (s *Schedule) Reset() {
	s.attempt = 0
	s.prev = 0
}
