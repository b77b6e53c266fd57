package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus instruments. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Requests     *prometheus.CounterVec
	Errors       prometheus.Counter
	BytesRead    prometheus.Counter
	BytesWritten prometheus.Counter
	Sessions     prometheus.Gauge
}

// NewMetrics builds and registers the engine instruments on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ninep",
			Subsystem: "server",
			Name:      "requests_total",
			Help:      "Requests dispatched, by message type.",
		}, []string{"type"}),
		Errors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ninep",
			Subsystem: "server",
			Name:      "errors_total",
			Help:      "Rerror responses sent.",
		}),
		BytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ninep",
			Subsystem: "server",
			Name:      "read_bytes_total",
			Help:      "Payload bytes served by Rread.",
		}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ninep",
			Subsystem: "server",
			Name:      "written_bytes_total",
			Help:      "Payload bytes accepted by Twrite.",
		}),
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ninep",
			Subsystem: "server",
			Name:      "sessions_active",
			Help:      "Sessions currently being served.",
		}),
	}
	reg.MustRegister(m.Requests, m.Errors, m.BytesRead, m.BytesWritten, m.Sessions)
	return m
}

func (m *Metrics) request(typeName string) {
	if m != nil {
		m.Requests.WithLabelValues(typeName).Inc()
	}
}

func (m *Metrics) protoError() {
	if m != nil {
		m.Errors.Inc()
	}
}

func (m *Metrics) readBytes(n int) {
	if m != nil {
		m.BytesRead.Add(float64(n))
	}
}

func (m *Metrics) writeBytes(n int) {
	if m != nil {
		m.BytesWritten.Add(float64(n))
	}
}

func (m *Metrics) sessionStart() {
	if m != nil {
		m.Sessions.Inc()
	}
}

func (m *Metrics) sessionEnd() {
	if m != nil {
		m.Sessions.Dec()
	}
}
