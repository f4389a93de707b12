package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollectors holds all prometheus metric collectors for n2kd.
type PrometheusCollectors struct {
	LinesAccepted   prometheus.Counter
	LinesRejected   prometheus.Counter
	LinesTruncated  prometheus.Counter
	ClientsActive   prometheus.Gauge
	SnapshotsServed prometheus.Counter
	BroadcastBytes  prometheus.Counter
}

// InitPrometheus initializes and registers prometheus metrics
func InitPrometheus(namespace string) *PrometheusCollectors {
	register := func(c prometheus.Collector) prometheus.Collector {
		if err := prometheus.Register(c); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				return are.ExistingCollector
			}
			return c
		}
		return c
	}

	pc := &PrometheusCollectors{}

	pc.LinesAccepted = register(prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lines_accepted_total",
		Help:      "Total number of ingested records accepted",
	})).(prometheus.Counter)

	pc.LinesRejected = register(prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lines_rejected_total",
		Help:      "Total number of ingested records rejected",
	})).(prometheus.Counter)

	pc.LinesTruncated = register(prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lines_truncated_total",
		Help:      "Total number of candidate records truncated by the reassembly buffer",
	})).(prometheus.Counter)

	pc.ClientsActive = register(prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "clients_active",
		Help:      "Number of currently connected TCP clients",
	})).(prometheus.Gauge)

	pc.SnapshotsServed = register(prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "snapshots_served_total",
		Help:      "Total one-shot snapshots served to JSON clients",
	})).(prometheus.Counter)

	pc.BroadcastBytes = register(prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "broadcast_bytes_total",
		Help:      "Total bytes forwarded to streaming clients and stdout",
	})).(prometheus.Counter)

	return pc
}
