// Package metrics holds the process-wide Prometheus collectors for the
// connection lifecycle and zone transition controller. This is
// distinct from internal/rpcsession's own per-session Metrics, which
// tracks in-flight-call bookkeeping rather than connection/zone state.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	namespace = "rpcrt"
	subsystem = "connection"
)

// Collector holds the lifecycle- and zone-level Prometheus metrics.
type Collector struct {
	ActiveConnections   prometheus.Gauge
	HandshakeFailures   prometheus.Counter
	ManifestRetries     prometheus.Counter
	ZoneTransitions     *prometheus.CounterVec
	ZoneTransitionFails *prometheus.CounterVec
	NeighbourPoolSize   prometheus.Gauge
	BoundaryChecks      prometheus.Counter
}

// NewCollector builds and registers a Collector against reg. A nil
// Registerer falls back to prometheus.DefaultRegisterer, matching
// gobfd's NewCollector convention.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := newMetrics()
	reg.MustRegister(
		c.ActiveConnections,
		c.HandshakeFailures,
		c.ManifestRetries,
		c.ZoneTransitions,
		c.ZoneTransitionFails,
		c.NeighbourPoolSize,
		c.BoundaryChecks,
	)
	return c
}

func newMetrics() *Collector {
	return &Collector{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "active", Help: "Number of currently live connections.",
		}),
		HandshakeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "handshake_failures_total", Help: "Total PSK handshake failures.",
		}),
		ManifestRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "manifest_retries_total", Help: "Total manifest request retries.",
		}),
		ZoneTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "zone",
			Name: "transitions_total", Help: "Total zone transitions by path.",
		}, []string{"path"}),
		ZoneTransitionFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "zone",
			Name: "transition_failures_total", Help: "Total failed zone transition attempts by reason.",
		}, []string{"reason"}),
		NeighbourPoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "zone",
			Name: "neighbour_pool_size", Help: "Current size of the neighbour connection pool.",
		}),
		BoundaryChecks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "zone",
			Name: "boundary_checks_total", Help: "Total zone boundary distance checks performed.",
		}),
	}
}
