package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts authentication outcomes. A nil *Metrics records nothing.
type Metrics struct {
	results   *prometheus.CounterVec
	backfills *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		results: f.NewCounterVec(prometheus.CounterOpts{
			Name: "motionhub_auth_results_total",
			Help: "Credential resolutions by matched kind and result.",
		}, []string{"kind", "result"}),
		backfills: f.NewCounterVec(prometheus.CounterOpts{
			Name: "motionhub_auth_token_backfills_total",
			Help: "Bootstrap device token backfills by result.",
		}, []string{"result"}),
	}
}

func (m *Metrics) result(kind Kind, result string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "none"
	}
	m.results.WithLabelValues(string(kind), result).Inc()
}

func (m *Metrics) backfill(result string) {
	if m == nil {
		return
	}
	m.backfills.WithLabelValues(result).Inc()
}
