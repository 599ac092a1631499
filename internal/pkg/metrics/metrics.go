package metrics

import (
	"net/http"

	"github.com/ecothreads-notify/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics counts pipeline outcomes. A nil *Metrics is a no-op.
type Metrics struct {
	outcomes *prometheus.CounterVec
	batches  *prometheus.HistogramVec
	gatherer prometheus.Gatherer
}

// New registers the collectors on a fresh registry.
const unknownType = "unknown"

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "notify",
			Name:      "outcomes_total",
			Help:      "Notification pipeline outcomes by type.",
		}, []string{"type", "outcome"}),
		batches: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "notify",
			Name:      "batch_size",
			Help:      "Records produced per fan-out or sweep.",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250, 1000},
		}, []string{"trigger"}),
		gatherer: reg,
	}
	reg.MustRegister(m.outcomes, m.batches)
	return m
}

// Outcome counts one pipeline result. Types outside the known set share the
// "unknown" label.
func (m *Metrics) Outcome(t domain.NotificationType, o domain.Outcome) {
	if m == nil {
		return
	}
	label := unknownType
	if _, ok := domain.VariantOf(t); ok {
		label = string(t)
	}
	m.outcomes.WithLabelValues(label, string(o)).Inc()
}

func (m *Metrics) Batch(trigger string, size int) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(trigger).Observe(float64(size))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
