package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts description outcomes per provider.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics registers the collectors with reg. A nil reg uses a private
// registry so tests can build many orchestrators.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autoalter",
			Name:      "descriptions_total",
			Help:      "Image description attempts by provider and outcome.",
		}, []string{"provider", "outcome"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "autoalter",
			Name:      "description_duration_seconds",
			Help:      "Duration of image description calls.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"provider"}),
	}
}

func (m *Metrics) observe(provider, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(provider, outcome).Inc()
	if seconds > 0 {
		m.duration.WithLabelValues(provider).Observe(seconds)
	}
}
