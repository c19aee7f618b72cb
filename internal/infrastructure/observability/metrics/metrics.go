// Package metrics exposes Prometheus collectors for the classification and
// delivery pipeline.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "intervene"

// Metrics groups every collector the core reports.
type Metrics struct {
	SamplesIngested    *prometheus.CounterVec
	SamplesDropped     *prometheus.CounterVec
	EmotionsEmitted    *prometheus.CounterVec
	EmotionsSuppressed *prometheus.CounterVec
	DirectivesIssued   *prometheus.CounterVec
	DirectivesSkipped  *prometheus.CounterVec
	PipelineDropped    prometheus.Counter
	WebhookAttempts    *prometheus.CounterVec
	WebhookLatency     *prometheus.HistogramVec
	WebhookInFlight    prometheus.Gauge
	PushSends          *prometheus.CounterVec
	PushConnections    prometheus.Gauge
	LearnedPatterns    prometheus.Gauge
	ActiveSessions     prometheus.Gauge
}

var (
	defaultOnce sync.Once
	shared      *Metrics
)

// Default returns the package-level instance registered with the global
// registry. Collectors are created once so repeated container construction
// does not panic on duplicate registration.
func Default() *Metrics {
	defaultOnce.Do(func() {
		shared = MustNew(prometheus.DefaultRegisterer)
	})
	return shared
}

// MustNew constructs Metrics on the given registerer and panics on
// registration conflicts. Tests pass a fresh prometheus.NewRegistry().
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		SamplesIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "samples_total",
			Help: "Interaction samples accepted for classification.",
		}, []string{"kind"}),
		SamplesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "samples_dropped_total",
			Help: "Interaction samples dropped before classification.",
		}, []string{"reason"}),
		EmotionsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "classifier", Name: "emotions_total",
			Help: "Emotion events emitted by the classifier.",
		}, []string{"emotion"}),
		EmotionsSuppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "classifier", Name: "emotions_suppressed_total",
			Help: "Candidate emotions suppressed by cooldown, contradiction guard or floor.",
		}, []string{"reason"}),
		DirectivesIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "router", Name: "directives_total",
			Help: "Intervention directives issued.",
		}, []string{"action"}),
		DirectivesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "router", Name: "rules_skipped_total",
			Help: "Matching rules skipped during routing.",
		}, []string{"reason"}),
		PipelineDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "events_dropped_total",
			Help: "Emotion events dropped because the pipeline queue was full.",
		}),
		WebhookAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "webhook", Name: "attempts_total",
			Help: "Webhook delivery attempts by resulting status.",
		}, []string{"status"}),
		WebhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "webhook", Name: "attempt_duration_seconds",
			Help:    "Duration of webhook POST attempts.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		WebhookInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "webhook", Name: "deliveries_in_flight",
			Help: "Webhook deliveries not yet in a terminal state.",
		}),
		PushSends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "push", Name: "frames_total",
			Help: "Push channel frames by outcome.",
		}, []string{"outcome"}),
		PushConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "push", Name: "connections",
			Help: "Live push connections.",
		}),
		LearnedPatterns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "learner", Name: "patterns",
			Help: "Learned patterns currently held.",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "classifier", Name: "sessions",
			Help: "Sessions with live classifier buffers.",
		}),
	}

	collectors := []prometheus.Collector{
		m.SamplesIngested, m.SamplesDropped, m.EmotionsEmitted, m.EmotionsSuppressed,
		m.DirectivesIssued, m.DirectivesSkipped, m.PipelineDropped,
		m.WebhookAttempts, m.WebhookLatency, m.WebhookInFlight,
		m.PushSends, m.PushConnections, m.LearnedPatterns, m.ActiveSessions,
	}
	for _, c := range collectors {
		reg.MustRegister(c)
	}
	return m
}

// NewUnregistered returns collectors not attached to any registry.
func NewUnregistered() *Metrics {
	return MustNew(prometheus.NewRegistry())
}
