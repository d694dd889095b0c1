package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments sessions and fan-out. A nil *Metrics records nothing.
type Metrics struct {
	sessions  prometheus.Gauge
	connects  *prometheus.CounterVec
	frames    *prometheus.CounterVec
	dropped   prometheus.Counter
	pubFailed prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		sessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "motionhub_realtime_sessions",
			Help: "Currently authenticated realtime sessions.",
		}),
		connects: f.NewCounterVec(prometheus.CounterOpts{
			Name: "motionhub_realtime_connects_total",
			Help: "Websocket connection attempts by result.",
		}, []string{"result"}),
		frames: f.NewCounterVec(prometheus.CounterOpts{
			Name: "motionhub_realtime_frames_total",
			Help: "Inbound frames by type and result code.",
		}, []string{"type", "result"}),
		dropped: f.NewCounter(prometheus.CounterOpts{
			Name: "motionhub_realtime_broadcast_dropped_total",
			Help: "Broadcast messages dropped for slow or closing receivers.",
		}),
		pubFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "motionhub_realtime_publish_failures_total",
			Help: "Broadcasts that could not be handed to the group backend.",
		}),
	}
}

func (m *Metrics) connect(result string) {
	if m == nil {
		return
	}
	m.connects.WithLabelValues(result).Inc()
}

func (m *Metrics) sessionOpened() {
	if m != nil {
		m.sessions.Inc()
	}
}

func (m *Metrics) sessionClosed() {
	if m != nil {
		m.sessions.Dec()
	}
}

func (m *Metrics) frame(typ, result string) {
	if m == nil {
		return
	}
	if typ == "" {
		typ = "unknown"
	}
	m.frames.WithLabelValues(typ, result).Inc()
}

func (m *Metrics) broadcastDropped() {
	if m != nil {
		m.dropped.Inc()
	}
}

func (m *Metrics) publishFailed() {
	if m != nil {
		m.pubFailed.Inc()
	}
}
