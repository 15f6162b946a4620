package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Relay counters, registered on the default registry
var (
	Connections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_connections_total",
		Help: "Websocket connections accepted.",
	})
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_connections_active",
		Help: "Websocket connections currently open.",
	})
	Evictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_evictions_total",
		Help: "Connections displaced by a newer holder of the same identity.",
	}, []string{"key"})
	Broadcasts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_broadcasts_total",
		Help: "Room-wide event fanouts.",
	})
	ReclaimsFired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_reclaims_fired_total",
		Help: "Grace timers that expired and tore down a session.",
	})
	ReclaimsCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_reclaims_cancelled_total",
		Help: "Grace timers cancelled by a reconnect.",
	})
)

// Handler exposes Prometheus metrics at /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}
