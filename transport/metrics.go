package transport

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relay"

// Metrics counts what the dispatchers do. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ActiveConnections prometheus.Gauge
	Connections       prometheus.Counter
	HandshakeFailures prometheus.Counter
	LegacyFrames      prometheus.Counter
	Commands          *prometheus.CounterVec
}

// NewMetrics creates the dispatcher metrics on their own registry, along with
// the Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Connections currently being served",
		}),
		Connections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Connections accepted since start",
		}),
		HandshakeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tls_handshake_failures_total",
			Help:      "Connections dropped because the TLS handshake failed",
		}),
		LegacyFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "legacy_frames_total",
			Help:      "Frames that were not JSON envelopes",
		}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands dispatched, by command and outcome",
		}, []string{"command", "outcome"}),
	}

	m.registry.MustRegister(
		m.ActiveConnections,
		m.Connections,
		m.HandshakeFailures,
		m.LegacyFrames,
		m.Commands,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) connOpened() {
	if m == nil {
		return
	}

	m.Connections.Inc()
	m.ActiveConnections.Inc()
}

func (m *Metrics) connClosed() {
	if m == nil {
		return
	}

	m.ActiveConnections.Dec()
}

func (m *Metrics) handshakeFailed() {
	if m == nil {
		return
	}

	m.HandshakeFailures.Inc()
}

func (m *Metrics) legacyFrame() {
	if m == nil {
		return
	}

	m.LegacyFrames.Inc()
}

func (m *Metrics) command(name, outcome string) {
	if m == nil {
		return
	}

	m.Commands.WithLabelValues(name, outcome).Inc()
}
