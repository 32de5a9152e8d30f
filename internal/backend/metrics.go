package backend

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	dErrors "genascope/pkg/domain-errors"
)

// Metrics records backend call outcomes. A nil *Metrics is a no-op.
type Metrics struct {
	Calls   *prometheus.CounterVec
	Latency *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Calls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "genascope_backend_calls_total",
			Help: "Backend calls made by the gateway, by endpoint and outcome",
		}, []string{"endpoint", "outcome"}),
		Latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "genascope_backend_call_duration_seconds",
			Help:    "Backend call latency by endpoint",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
	}
}

func (m *Metrics) observe(endpoint string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = string(dErrors.CodeOf(err))
	}
	m.Calls.WithLabelValues(endpoint, outcome).Inc()
	m.Latency.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}
