// Package metrics holds the Prometheus instruments of the resolver.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the matching cascade. A nil *Metrics is a no-op.
type Metrics struct {
	// Resolutions by deciding stage and resulting status
	Resolutions *prometheus.CounterVec

	// Merges by reason, one per absorbed entity
	Merges *prometheus.CounterVec

	// Collaborator failures after retries
	KBFailures       prometheus.Counter
	VerifierFailures prometheus.Counter
	EmbedFailures    prometheus.Counter

	// Replayed mentions answered from the store
	Replays prometheus.Counter

	// Invalid mentions rejected before the cascade
	InvalidMentions prometheus.Counter

	// Per stage latency
	StageLatency *prometheus.HistogramVec
}

// New registers the resolver metrics on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		Resolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "resolver_resolutions_total",
			Help: "Total resolved mentions by deciding stage and verification status",
		}, []string{"stage", "status"}),

		Merges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "resolver_merges_total",
			Help: "Total absorbed entities by merge reason",
		}, []string{"reason"}),

		KBFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "resolver_kb_failures_total",
			Help: "Knowledge base searches that failed after retries",
		}),

		VerifierFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "resolver_verifier_failures_total",
			Help: "Candidate verifications that failed",
		}),

		EmbedFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "resolver_embed_failures_total",
			Help: "Mention embeddings that failed",
		}),

		Replays: factory.NewCounter(prometheus.CounterOpts{
			Name: "resolver_replays_total",
			Help: "Mentions answered from a previous resolution",
		}),

		InvalidMentions: factory.NewCounter(prometheus.CounterOpts{
			Name: "resolver_invalid_mentions_total",
			Help: "Mentions rejected by validation",
		}),

		StageLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "resolver_stage_duration_seconds",
			Help:    "Duration of matching stages",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"stage"}),
	}
}

// IncrementResolution records one finished resolution.
func (m *Metrics) IncrementResolution(stage, status string) {
	if m != nil {
		m.Resolutions.WithLabelValues(stage, status).Inc()
	}
}

// AddMerges records absorbed entities.
func (m *Metrics) AddMerges(reason string, n int) {
	if m != nil && n > 0 {
		m.Merges.WithLabelValues(reason).Add(float64(n))
	}
}

func (m *Metrics) IncrementKBFailure() {
	if m != nil {
		m.KBFailures.Inc()
	}
}

func (m *Metrics) IncrementVerifierFailure() {
	if m != nil {
		m.VerifierFailures.Inc()
	}
}

func (m *Metrics) IncrementEmbedFailure() {
	if m != nil {
		m.EmbedFailures.Inc()
	}
}

func (m *Metrics) IncrementReplay() {
	if m != nil {
		m.Replays.Inc()
	}
}

func (m *Metrics) IncrementInvalid() {
	if m != nil {
		m.InvalidMentions.Inc()
	}
}

// ObserveStage records the duration of one stage attempt.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m != nil {
		m.StageLatency.WithLabelValues(stage).Observe(d.Seconds())
	}
}
