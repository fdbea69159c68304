package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the relay's Prometheus collectors. Each Server owns its own
// registry so that several relays can live in one process.
type Metrics struct {
	Registry *prometheus.Registry

	Connections      prometheus.Gauge
	Rooms            prometheus.Gauge
	Handshakes       *prometheus.CounterVec
	HandshakeLatency prometheus.Histogram
	Frames           *prometheus.CounterVec
}

// Handshake results.
const (
	resultCreated  = "created"
	resultAccepted = "accepted"
	resultRejected = "rejected"
	resultRefused  = "refused"
	resultLocked   = "locked"
	resultTimeout  = "timeout"
)

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "oasis_relay_connections",
			Help: "Number of open websocket connections",
		}),
		Rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "oasis_relay_rooms",
			Help: "Number of live rooms",
		}),
		Handshakes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oasis_relay_handshakes_total",
				Help: "Join attempts by result",
			},
			[]string{"result"},
		),
		HandshakeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "oasis_relay_handshake_latency_seconds",
			Help:    "Time from join request to verdict",
			Buckets: prometheus.DefBuckets,
		}),
		Frames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oasis_relay_frames_total",
				Help: "Frames received by type",
			},
			[]string{"type"},
		),
	}
	m.Registry.MustRegister(m.Connections, m.Rooms, m.Handshakes, m.HandshakeLatency, m.Frames)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
