package rpcsession

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups the RPC session's observability counters: it tracks
// in-flight requests, deadline expirations, cancellations, and
// protocol errors. Modeled on dantte-lp-gobfd/internal/metrics's
// collector-struct-plus-NewCollector(reg) pattern.
type Metrics struct {
	InFlight            prometheus.Gauge
	DeadlineExpirations prometheus.Counter
	Cancellations       prometheus.Counter
	ProtocolErrors      prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rpcrt",
			Subsystem: "rpcsession",
			Name:      "requests_in_flight",
			Help:      "Number of RPC requests awaiting a response.",
		}),
		DeadlineExpirations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rpcrt",
			Subsystem: "rpcsession",
			Name:      "deadline_expirations_total",
			Help:      "Number of RPC requests that hit their deadline before a response arrived.",
		}),
		Cancellations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rpcrt",
			Subsystem: "rpcsession",
			Name:      "cancellations_total",
			Help:      "Number of RPC requests cancelled by the caller.",
		}),
		ProtocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rpcrt",
			Subsystem: "rpcsession",
			Name:      "protocol_errors_total",
			Help:      "Number of malformed or unrecognized frames observed.",
		}),
	}
	reg.MustRegister(m.InFlight, m.DeadlineExpirations, m.Cancellations, m.ProtocolErrors)
	return m
}
