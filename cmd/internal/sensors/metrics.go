package sensors

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts ingestion outcomes. A nil *Metrics is a no-op.
type Metrics struct {
	ingested *prometheus.CounterVec
	created  prometheus.Counter
	reowned  prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ingested: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "motionhub",
			Subsystem: "ingest",
			Name:      "events_total",
			Help:      "Observations submitted for ingestion, by kind, transport and result code.",
		}, []string{"kind", "transport", "result"}),
		created: f.NewCounter(prometheus.CounterOpts{
			Namespace: "motionhub",
			Subsystem: "ingest",
			Name:      "devices_created_total",
			Help:      "Devices created on first contact.",
		}),
		reowned: f.NewCounter(prometheus.CounterOpts{
			Namespace: "motionhub",
			Subsystem: "ingest",
			Name:      "devices_reassigned_total",
			Help:      "Devices moved to a new owner by the reassign policy.",
		}),
	}
}

func (m *Metrics) observe(kind Kind, transport, result string) {
	if m == nil {
		return
	}
	m.ingested.WithLabelValues(string(kind), transport, result).Inc()
}

func (m *Metrics) deviceCreated() {
	if m != nil {
		m.created.Inc()
	}
}

func (m *Metrics) deviceReassigned() {
	if m != nil {
		m.reowned.Inc()
	}
}
