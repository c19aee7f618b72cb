package classifier

import (
	"time"

	"github.com/AtRiskMedia/intervene/internal/domain/behavior"
)

type seenKey struct {
	kind behavior.SampleKind
	at   int64
}

// dwellSpan tracks continuous hovering over one element category.
type dwellSpan struct {
	hint   behavior.TargetHint
	start  int64
	active bool
	fired  map[behavior.Emotion]bool
}

// sessionState is the per-session buffer set. It is only touched while the
// owning shard lock is held.
type sessionState struct {
	tenantID  string
	sessionID string

	clicks  ring
	scrolls ring
	moves   ring
	blurs   ring
	dwell   dwellSpan

	seen      map[seenKey]struct{}
	seenOrder []seenKey
	seenNext  int

	// latest is the newest page timestamp accepted; lastSeen is the wall
	// time it arrived. Together they map wall time onto the page timeline.
	latest    int64
	hasLatest bool
	lastSeen  time.Time
	idleFired bool

	lastEmitted  map[behavior.Emotion]int64
	lastEmotion  behavior.Emotion
	lastEmission int64
	hasEmission  bool
	tail         []behavior.Emotion

	current struct {
		emotion    behavior.Emotion
		confidence int
		at         time.Time
		context    behavior.TargetHint
	}
}

func newSessionState(cfg Config, tenantID, sessionID string, now time.Time) *sessionState {
	memory := cfg.DedupeMemory
	if memory < 1 {
		memory = 1
	}
	return &sessionState{
		tenantID:    tenantID,
		sessionID:   sessionID,
		clicks:      newRing(cfg.BufferCapacity),
		scrolls:     newRing(cfg.BufferCapacity),
		moves:       newRing(cfg.BufferCapacity),
		blurs:       newRing(cfg.BufferCapacity),
		seen:        make(map[seenKey]struct{}, memory),
		seenOrder:   make([]seenKey, 0, memory),
		lastSeen:    now,
		lastEmitted: make(map[behavior.Emotion]int64),
	}
}

// remember records a sample key and reports false if it was already seen.
func (s *sessionState) remember(k seenKey) bool {
	if _, dup := s.seen[k]; dup {
		return false
	}
	if len(s.seenOrder) < cap(s.seenOrder) {
		s.seenOrder = append(s.seenOrder, k)
	} else {
		delete(s.seen, s.seenOrder[s.seenNext])
		s.seenOrder[s.seenNext] = k
		s.seenNext = (s.seenNext + 1) % len(s.seenOrder)
	}
	s.seen[k] = struct{}{}
	return true
}

// timelineAt projects a wall time onto the page timeline.
func (s *sessionState) timelineAt(now time.Time) int64 {
	return s.latest + now.Sub(s.lastSeen).Milliseconds()
}

func (s *sessionState) pushTail(e behavior.Emotion, n int) {
	s.tail = append(s.tail, e)
	if len(s.tail) > n {
		s.tail = append([]behavior.Emotion(nil), s.tail[len(s.tail)-n:]...)
	}
}

func (s *sessionState) tailCopy() []behavior.Emotion {
	return append([]behavior.Emotion(nil), s.tail...)
}
