package main

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/AtRiskMedia/intervene/internal/domain/behavior"
)

// scenario is a scripted visitor. Samples are timestamped in page-monotonic
// milliseconds; idle is how long the visitor goes quiet afterwards.
type scenario struct {
	name     string
	describe string
	expect   behavior.Emotion
	pageURL  string
	value    float64
	build    func(r *rand.Rand) []behavior.Sample
	idle     time.Duration
}

var scenarios = map[string]scenario{
	"frustrated": {
		name:     "frustrated",
		describe: "wanders, then hammers an unresponsive button",
		expect:   behavior.Frustration,
		pageURL:  "/checkout",
		value:    180,
		build: func(r *rand.Rand) []behavior.Sample {
			s := wander(r, 1000, 5)
			at := s[len(s)-1].Timestamp + 400
			for i := 0; i < 4; i++ {
				s = append(s, click(at, 620+jitter(r, 8), 410+jitter(r, 8)))
				at += 120
			}
			return s
		},
	},
	"browsing": {
		name:     "browsing",
		describe: "reads down the page at a steady pace",
		expect:   behavior.Engaged,
		pageURL:  "/blog/launch",
		build: func(r *rand.Rand) []behavior.Sample {
			var s []behavior.Sample
			for at := int64(1000); at <= 2500; at += 100 {
				s = append(s, scroll(at, 100))
			}
			return s
		},
	},
	"price-hesitant": {
		name:     "price-hesitant",
		describe: "hovers over the price and cannot decide",
		expect:   behavior.PurchaseIntent,
		pageURL:  "/pricing",
		value:    499,
		build: func(r *rand.Rand) []behavior.Sample {
			var s []behavior.Sample
			for at := int64(1000); at <= 4500; at += 100 {
				s = append(s, move(at, 240+jitter(r, 15), 310+jitter(r, 6), behavior.TargetPrice))
			}
			return s
		},
	},
	"confused": {
		name:     "confused",
		describe: "scrolls up and down looking for something",
		expect:   behavior.Confusion,
		pageURL:  "/docs/setup",
		build: func(r *rand.Rand) []behavior.Sample {
			var s []behavior.Sample
			dy := 100.0
			for at := int64(1000); at <= 1300; at += 100 {
				s = append(s, scroll(at, dy))
				dy = -dy
			}
			return s
		},
	},
	"abandoning": {
		name:     "abandoning",
		describe: "heads for the tab bar, then goes quiet",
		expect:   behavior.AbandonmentRisk,
		pageURL:  "/cart",
		value:    75,
		build: func(r *rand.Rand) []behavior.Sample {
			return []behavior.Sample{
				move(1000, 500+jitter(r, 20), 300, behavior.TargetGeneric),
				move(1100, 500+jitter(r, 20), 10, behavior.TargetNav),
			}
		},
		idle: 31 * time.Second,
	},
}

func scenarioNames() []string {
	names := make([]string, 0, len(scenarios))
	for name := range scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// selectScenarios resolves "all" or a single scenario name.
func selectScenarios(name string) ([]scenario, error) {
	if name == "" || name == "all" {
		out := make([]scenario, 0, len(scenarios))
		for _, n := range scenarioNames() {
			out = append(out, scenarios[n])
		}
		return out, nil
	}
	sc, ok := scenarios[name]
	if !ok {
		return nil, fmt.Errorf("unknown scenario %q (want all or one of %v)", name, scenarioNames())
	}
	return []scenario{sc}, nil
}

// wander produces n unremarkable pointer moves over generic content.
func wander(r *rand.Rand, start int64, n int) []behavior.Sample {
	s := make([]behavior.Sample, 0, n)
	at := start
	for i := 0; i < n; i++ {
		s = append(s, move(at, 300+r.Float64()*400, 250+r.Float64()*300, behavior.TargetGeneric))
		at += 150 + r.Int64N(100)
	}
	return s
}

func jitter(r *rand.Rand, amount float64) float64 {
	return (r.Float64()*2 - 1) * amount
}

func click(at int64, x, y float64) behavior.Sample {
	return behavior.Sample{Kind: behavior.KindPointerDown, Timestamp: at, Position: &behavior.Position{X: x, Y: y}, TargetHint: behavior.TargetButton}
}

func move(at int64, x, y float64, hint behavior.TargetHint) behavior.Sample {
	return behavior.Sample{Kind: behavior.KindPointerMove, Timestamp: at, Position: &behavior.Position{X: x, Y: y}, TargetHint: hint}
}

func scroll(at int64, dy float64) behavior.Sample {
	return behavior.Sample{Kind: behavior.KindScroll, Timestamp: at, ScrollDelta: dy}
}
