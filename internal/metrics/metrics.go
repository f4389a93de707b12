// Package metrics provides collection and reporting of n2kd server metrics
package metrics

import "sync/atomic"

// Collector holds all server metrics. Every method is safe for
// concurrent use — unlike the store and ingester, which are
// single-writer owned by the registry run loop, these counters may be
// read from goroutines other than the run loop that updates them, and
// so use atomics throughout.
type Collector struct {
	LinesAccepted   atomic.Uint64
	LinesRejected   atomic.Uint64
	LinesTruncated  atomic.Uint64
	ClientsActive   atomic.Int64
	SnapshotsServed atomic.Uint64
	BroadcastBytes  atomic.Uint64

	prom *PrometheusCollectors
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	return &Collector{}
}

// AttachPrometheus wires a set of Prometheus collectors so every
// increment below also updates the registered metric. Optional: a
// Collector with no attached Prometheus set behaves as a plain atomic
// counter bundle.
func (m *Collector) AttachPrometheus(p *PrometheusCollectors) {
	m.prom = p
}

func (m *Collector) IncLinesAccepted() {
	m.LinesAccepted.Add(1)
	if m.prom != nil {
		m.prom.LinesAccepted.Inc()
	}
}

func (m *Collector) IncLinesRejected() {
	m.LinesRejected.Add(1)
	if m.prom != nil {
		m.prom.LinesRejected.Inc()
	}
}

func (m *Collector) IncLinesTruncated() {
	m.LinesTruncated.Add(1)
	if m.prom != nil {
		m.prom.LinesTruncated.Inc()
	}
}

func (m *Collector) IncClientsActive() {
	m.ClientsActive.Add(1)
	if m.prom != nil {
		m.prom.ClientsActive.Inc()
	}
}

func (m *Collector) DecClientsActive() {
	m.ClientsActive.Add(-1)
	if m.prom != nil {
		m.prom.ClientsActive.Dec()
	}
}

func (m *Collector) GetClientsActive() int64 {
	return m.ClientsActive.Load()
}

func (m *Collector) IncSnapshotsServed() {
	m.SnapshotsServed.Add(1)
	if m.prom != nil {
		m.prom.SnapshotsServed.Inc()
	}
}

func (m *Collector) AddBroadcastBytes(n int) {
	if n <= 0 {
		return
	}
	m.BroadcastBytes.Add(uint64(n))
	if m.prom != nil {
		m.prom.BroadcastBytes.Add(float64(n))
	}
}

// Reset resets all metrics to zero values
func (m *Collector) Reset() {
	m.LinesAccepted.Store(0)
	m.LinesRejected.Store(0)
	m.LinesTruncated.Store(0)
	m.ClientsActive.Store(0)
	m.SnapshotsServed.Store(0)
	m.BroadcastBytes.Store(0)
}

// Snapshot is a point-in-time view of the counters above.
type Snapshot struct {
	LinesAccepted   uint64 `json:"lines_accepted"`
	LinesRejected   uint64 `json:"lines_rejected"`
	LinesTruncated  uint64 `json:"lines_truncated"`
	ClientsActive   int64  `json:"clients_active"`
	SnapshotsServed uint64 `json:"snapshots_served"`
	BroadcastBytes  uint64 `json:"broadcast_bytes"`
}

func (m *Collector) Snapshot() Snapshot {
	return Snapshot{
		LinesAccepted:   m.LinesAccepted.Load(),
		LinesRejected:   m.LinesRejected.Load(),
		LinesTruncated:  m.LinesTruncated.Load(),
		ClientsActive:   m.ClientsActive.Load(),
		SnapshotsServed: m.SnapshotsServed.Load(),
		BroadcastBytes:  m.BroadcastBytes.Load(),
	}
}
