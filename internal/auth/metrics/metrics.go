// Package metrics holds the Prometheus collectors for session lifecycle.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is nil-safe: every recorder is a no-op on a nil receiver.
type Metrics struct {
	Logins         *prometheus.CounterVec
	Logouts        *prometheus.CounterVec
	Revalidations  *prometheus.CounterVec
	ActiveSessions prometheus.Gauge
	LoginDuration  prometheus.Histogram
}

// New registers collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Logins: f.NewCounterVec(prometheus.CounterOpts{
			Name: "genascope_logins_total",
			Help: "Login and simplified-access attempts by access type and outcome",
		}, []string{"access_type", "outcome"}),
		Logouts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "genascope_logouts_total",
			Help: "Session terminations by reason",
		}, []string{"reason"}),
		Revalidations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "genascope_session_revalidations_total",
			Help: "Background identity re-validations by outcome",
		}, []string{"outcome"}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "genascope_active_sessions",
			Help: "Authenticated sessions tracked by this replica",
		}),
		LoginDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "genascope_login_duration_seconds",
			Help:    "Time to exchange credentials and fetch the identity",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
	}
}

func (m *Metrics) IncLogin(accessType, outcome string) {
	if m == nil {
		return
	}
	m.Logins.WithLabelValues(accessType, outcome).Inc()
}

func (m *Metrics) IncLogout(reason string) {
	if m == nil {
		return
	}
	m.Logouts.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncRevalidation(outcome string) {
	if m == nil {
		return
	}
	m.Revalidations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

func (m *Metrics) ObserveLogin(seconds float64) {
	if m == nil {
		return
	}
	m.LoginDuration.Observe(seconds)
}
