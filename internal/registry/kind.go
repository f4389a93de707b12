package registry

// ClientKind is the closed enumeration of roles a ClientSlot can hold.
// Stdin, stdout and the listeners have no ClientSlot of their own in
// this design: stdin and the listeners are served by dedicated
// goroutines (RunStdin, ServeJSON/ServeNMEA), and stdout is written
// directly by the Server run loop, rather than being entries in the
// slot table.
type ClientKind int

const (
	// JSONOneshot is a newly accepted JSON-port client awaiting either
	// a snapshot (default, after the deadline) or a "-\n" upgrade.
	JSONOneshot ClientKind = iota
	// JSONStream is a JSON-port client that opted into live streaming.
	JSONStream
	// NMEA0183Stream is a client accepted on port+1; its wire protocol
	// belongs to a sibling translator subsystem, out of scope here.
	NMEA0183Stream
)

func (k ClientKind) String() string {
	switch k {
	case JSONOneshot:
		return "JSON_ONESHOT"
	case JSONStream:
		return "JSON_STREAM"
	case NMEA0183Stream:
		return "NMEA0183_STREAM"
	default:
		return "UNKNOWN"
	}
}

// StdoutMode selects how the process's own stdout participates in the
// broadcast.
type StdoutMode int

const (
	// StdoutPassthrough mirrors every broadcast record to stdout.
	StdoutPassthrough StdoutMode = iota
	// StdoutCopy mirrors like Passthrough, and additionally feeds any
	// line forwarded from a not-yet-upgraded JSON client back into the
	// ingester as a synthetic record.
	StdoutCopy
	// StdoutSink discards everything written to stdout.
	StdoutSink
)
