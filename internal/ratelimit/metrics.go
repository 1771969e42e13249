package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks limiter behavior for the /metrics endpoint.
type Metrics struct {
	decisions      *prometheus.CounterVec
	fallbackActive prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_ratelimit_decisions_total",
			Help: "Rate limit decisions by dimension and outcome.",
		}, []string{"dimension", "outcome"}),
		fallbackActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_ratelimit_fallback_active",
			Help: "1 while the limiter is running on the local fallback engine.",
		}),
	}
}

func (m *Metrics) ObserveDecision(d Dimension, allowed bool) {
	outcome := "allowed"
	if !allowed {
		outcome = "rejected"
	}
	m.decisions.WithLabelValues(string(d), outcome).Inc()
}

func (m *Metrics) SetFallbackActive(active bool) {
	if active {
		m.fallbackActive.Set(1)
	} else {
		m.fallbackActive.Set(0)
	}
}
