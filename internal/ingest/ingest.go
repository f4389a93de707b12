// Package ingest reassembles newline-terminated JSON records from a
// raw byte stream, validates and extracts their identifying keys,
// updates the PGN store, and hands accepted records to a broadcast
// sink.
package ingest

import (
	"github.com/carlosrabelo/n2kd/internal/pgnstore"
	"github.com/carlosrabelo/n2kd/pkg/logger"
)

// Broadcaster receives the verbatim text (plus trailing newline) of
// every accepted record, in ingestion order. The registry event loop
// implements this to append into the per-tick pending buffer.
type Broadcaster interface {
	Append(line []byte)
}

// Counter receives a running tally of line outcomes, for the
// Prometheus-facing metrics.Collector. Optional: a nil Counter is a
// valid no-op.
type Counter interface {
	IncLinesAccepted()
	IncLinesRejected()
	IncLinesTruncated()
}

// Stats are debug-only counters; never consulted for control flow.
type Stats struct {
	Accepted  uint64 `json:"accepted"`
	Rejected  uint64 `json:"rejected"`
	Truncated uint64 `json:"truncated"`
}

// Ingester is not safe for concurrent use — like pgnstore.Store, it is
// owned exclusively by the registry event loop goroutine.
type Ingester struct {
	reassembler LineReassembler
	store       *pgnstore.Store
	clock       pgnstore.Clock
	sink        Broadcaster
	counter     Counter
	stats       Stats
}

func New(store *pgnstore.Store, clock pgnstore.Clock, sink Broadcaster) *Ingester {
	return &Ingester{store: store, clock: clock, sink: sink}
}

// SetCounter attaches a metrics.Collector (or any Counter) so every
// line outcome also updates the process-wide Prometheus counters, in
// addition to this Ingester's own debug Stats.
func (ig *Ingester) SetCounter(c Counter) {
	ig.counter = c
}

// Feed processes a chunk of raw bytes, reassembling and handling every
// complete line found within it.
func (ig *Ingester) Feed(data []byte) {
	ig.reassembler.Feed(data, ig.handleLine)
}

func (ig *Ingester) handleLine(line []byte, truncated bool) {
	if truncated {
		ig.stats.Truncated++
		if ig.counter != nil {
			ig.counter.IncLinesTruncated()
		}
		logger.Debug("ingest: dropped truncated line (%d bytes)", len(line))
		return
	}

	if !validate(line) {
		ig.reject("dropped malformed line (%d bytes)", len(line))
		return
	}

	text := string(line)

	src, ok := extractQuotedUint(text, "src")
	if !ok || src == 0 || src > 255 {
		ig.reject("dropped line missing/invalid src")
		return
	}
	pgn, ok := extractQuotedUint(text, "pgn")
	if !ok || pgn == 0 {
		ig.reject("dropped line missing/invalid pgn")
		return
	}
	if !pgnstore.ValidPRN(uint32(pgn)) {
		ig.reject("dropped line with out-of-range pgn %d", pgn)
		return
	}

	field, key2, _ := extractSecondaryKey(text)
	description, _ := extractDescription(text)

	window := ValidityWindow(uint32(pgn), field)
	now := ig.clock.Now()
	ig.store.Update(now, uint32(pgn), uint8(src), key2, description, text, window)
	ig.stats.Accepted++
	if ig.counter != nil {
		ig.counter.IncLinesAccepted()
	}

	out := make([]byte, 0, len(line)+1)
	out = append(out, line...)
	out = append(out, '\n')
	ig.sink.Append(out)
}

func (ig *Ingester) reject(format string, args ...any) {
	ig.stats.Rejected++
	if ig.counter != nil {
		ig.counter.IncLinesRejected()
	}
	logger.Debug("ingest: "+format, args...)
}

// Snapshot returns a point-in-time copy of the debug counters.
func (ig *Ingester) Snapshot() Stats {
	return ig.stats
}
