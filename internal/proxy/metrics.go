package proxy

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	dErrors "genascope/pkg/domain-errors"
)

// Metrics records proxied calls. A nil *Metrics is a no-op.
type Metrics struct {
	Requests *prometheus.CounterVec
	Latency  *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "genascope_proxy_requests_total",
			Help: "Requests forwarded to the backend, by method and outcome",
		}, []string{"method", "outcome"}),
		Latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "genascope_proxy_request_duration_seconds",
			Help:    "Latency of forwarded requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

// observe labels transport failures by domain code and responses by status.
func (m *Metrics) observe(method string, out *outcome, elapsed time.Duration) {
	if m == nil {
		return
	}
	label := strconv.Itoa(out.status)
	if out.err != nil {
		label = string(dErrors.CodeOf(out.err))
	}
	m.Requests.WithLabelValues(method, label).Inc()
	m.Latency.WithLabelValues(method).Observe(elapsed.Seconds())
}
