package classifier

// mark is a timestamped buffer entry. at is page-monotonic milliseconds.
type mark struct {
	at int64
	x  float64
	y  float64
	dy float64
}

// ring is a fixed-capacity FIFO of marks ordered by arrival.
type ring struct {
	items []mark
	start int
	size  int
}

func newRing(capacity int) ring {
	if capacity < 1 {
		capacity = 1
	}
	return ring{items: make([]mark, capacity)}
}

func (r *ring) push(m mark) {
	if r.size < len(r.items) {
		r.items[(r.start+r.size)%len(r.items)] = m
		r.size++
		return
	}
	r.items[r.start] = m
	r.start = (r.start + 1) % len(r.items)
}

// evictBefore drops entries older than cutoff from the front.
func (r *ring) evictBefore(cutoff int64) {
	for r.size > 0 && r.items[r.start].at < cutoff {
		r.start = (r.start + 1) % len(r.items)
		r.size--
	}
}

func (r *ring) reset() {
	r.start, r.size = 0, 0
}

func (r *ring) len() int { return r.size }

// snapshot copies the live entries oldest first.
func (r *ring) snapshot() []mark {
	out := make([]mark, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.items[(r.start+i)%len(r.items)]
	}
	return out
}

// since returns the live entries at or after cutoff, oldest first.
func (r *ring) since(cutoff int64) []mark {
	all := r.snapshot()
	for i, m := range all {
		if m.at >= cutoff {
			return all[i:]
		}
	}
	return nil
}
