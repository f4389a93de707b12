// Package registry implements the client registry, the event loop,
// and the two TCP listeners.
package registry

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/carlosrabelo/n2kd/internal/ingest"
	"github.com/carlosrabelo/n2kd/internal/metrics"
	"github.com/carlosrabelo/n2kd/internal/pgnstore"
	apperrors "github.com/carlosrabelo/n2kd/pkg/errors"
	"github.com/carlosrabelo/n2kd/pkg/logger"
)

const (
	// oneshotDeadline is the fixed delay before an undecided JSON
	// client gets its snapshot.
	oneshotDeadline = 500 * time.Millisecond
	// maxClientsDefault is the FD_SETSIZE analogue: a hard cap on
	// concurrently registered slots.
	maxClientsDefault = 1024
)

// Config holds the registry's tunable knobs.
type Config struct {
	MaxClients int
	StdoutMode StdoutMode
	Admission  AdmissionLimits
}

type clientLine struct {
	slot *ClientSlot
	line []byte
}

// Status is a point-in-time view of server state for the debug HTTP
// endpoint, assembled by the run loop on request so pgnstore.Store and
// ingest.Ingester are never read from outside their owning goroutine.
type Status struct {
	PGNCount      int            `json:"pgn_count"`
	LiveMessages  int            `json:"live_messages"`
	ClientsByKind map[string]int `json:"clients_by_kind"`
	Ingest        ingest.Stats   `json:"ingest"`
	Admission     AdmissionStats `json:"admission"`
}

// Server is the single owning value in place of scattered global
// state: it holds the store, the ingester, the stdout writer and the
// client slot table. Once Run starts, the run-loop goroutine is the
// sole writer of the store, the ingester and the pending-broadcast
// buffer.
type Server struct {
	cfg    Config
	store  *pgnstore.Store
	clock  pgnstore.Clock
	ing    *ingest.Ingester
	stdout io.Writer
	mx     *metrics.Collector
	admit  *admissionLimiter

	slotsMu sync.RWMutex
	slots   map[*ClientSlot]struct{}

	pending [][]byte

	lineCh     chan clientLine
	acceptCh   chan *ClientSlot
	closeCh    chan *ClientSlot
	snapshotCh chan *ClientSlot
	stdinCh    chan []byte
	fatalCh    chan error
	statusCh   chan chan Status

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewServer(cfg Config, clock pgnstore.Clock, stdout io.Writer, mx *metrics.Collector) *Server {
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = maxClientsDefault
	}
	s := &Server{
		cfg:        cfg,
		store:      pgnstore.New(),
		clock:      clock,
		stdout:     stdout,
		mx:         mx,
		admit:      newAdmissionLimiter(cfg.Admission),
		slots:      make(map[*ClientSlot]struct{}),
		lineCh:     make(chan clientLine, 256),
		acceptCh:   make(chan *ClientSlot, 64),
		closeCh:    make(chan *ClientSlot, 64),
		snapshotCh: make(chan *ClientSlot, 64),
		stdinCh:    make(chan []byte, 64),
		fatalCh:    make(chan error, 1),
		statusCh:   make(chan chan Status),
		stopCh:     make(chan struct{}),
	}
	s.ing = ingest.New(s.store, clock, s)
	s.ing.SetCounter(mx)
	return s
}

// Append implements ingest.Broadcaster. It is only ever called from
// the run-loop goroutine (directly, or transitively via Feed), so
// pending needs no lock of its own.
func (s *Server) Append(line []byte) {
	s.pending = append(s.pending, line)
}

// Run is the event loop. It owns the store, the ingester and the
// pending buffer exclusively; every other goroutine only ever sends
// events over a channel into it.
func (s *Server) Run(ctx context.Context) error {
	defer s.stopOnce.Do(func() { close(s.stopCh) })
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-s.fatalCh:
			return err
		case data := <-s.stdinCh:
			s.ing.Feed(data)
			s.flushBroadcast()
		case cl := <-s.acceptCh:
			s.admitSlot(cl)
		case cl := <-s.closeCh:
			s.removeSlot(cl)
		case cl := <-s.snapshotCh:
			s.serveSnapshot(cl)
		case ev := <-s.lineCh:
			s.handleClientLine(ev.slot, ev.line)
			s.flushBroadcast()
		case respCh := <-s.statusCh:
			respCh <- s.buildStatus()
		}
	}
}

// RunStdin reads the analyzer's stream and forwards chunks to the run
// loop. A read error or EOF here is fatal: n2kd has no standalone
// mode, the analyzer feeding stdin is a required live producer.
func (s *Server) RunStdin(r io.Reader) {
	buf := make([]byte, readBufSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			select {
			case s.stdinCh <- chunk:
			case <-s.stopCh:
				return
			}
		}
		if err != nil {
			fatalErr := apperrors.Wrap(apperrors.CodeFatal, "stdin closed", err)
			select {
			case s.fatalCh <- fatalErr:
			case <-s.stopCh:
			}
			return
		}
	}
}

// ServeJSON runs the accept loop for the JSON listener (port). New
// connections start as JSON_ONESHOT.
func (s *Server) ServeJSON(ctx context.Context, ln net.Listener) error {
	return s.serve(ctx, ln, JSONOneshot)
}

// ServeNMEA runs the accept loop for the NMEA 0183 listener (port+1).
func (s *Server) ServeNMEA(ctx context.Context, ln net.Listener) error {
	return s.serve(ctx, ln, NMEA0183Stream)
}

func (s *Server) serve(ctx context.Context, ln net.Listener, kind ClientKind) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Debug("registry: accept error on %s: %v", ln.Addr(), err)
			continue
		}
		if !s.admit.allow(conn.RemoteAddr()) {
			logger.Debug("registry: rejecting %s: connection rate exceeded", conn.RemoteAddr())
			_ = conn.Close()
			continue
		}
		slot := newClientSlot(conn, kind)
		select {
		case s.acceptCh <- slot:
		case <-ctx.Done():
			_ = conn.Close()
			return nil
		}
	}
}

func (s *Server) admitSlot(cl *ClientSlot) {
	s.slotsMu.Lock()
	if len(s.slots) >= s.cfg.MaxClients {
		s.slotsMu.Unlock()
		logger.Debug("registry: rejecting %s: slot table full", cl.Addr())
		s.admit.release(cl.conn.RemoteAddr())
		cl.close()
		return
	}
	s.slots[cl] = struct{}{}
	s.slotsMu.Unlock()

	s.mx.IncClientsActive()
	logger.Info("registry: client connected %s kind=%s", cl.Addr(), cl.Kind())

	if cl.Kind() == JSONOneshot {
		deadline := s.clock.Now().Add(oneshotDeadline)
		cl.setDeadline(deadline)
		time.AfterFunc(oneshotDeadline, func() {
			select {
			case s.snapshotCh <- cl:
			case <-s.stopCh:
			}
		})
	}
	go s.readLoop(cl)
}

func (s *Server) readLoop(cl *ClientSlot) {
	scanner := bufio.NewScanner(cl.br)
	scanner.Buffer(make([]byte, 0, readBufSize), readBufSize)
	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		select {
		case s.lineCh <- clientLine{slot: cl, line: line}:
		case <-s.stopCh:
			return
		}
	}
	if err := scanner.Err(); err != nil && !isClosedConnErr(err) {
		logger.Debug("registry: read error from %s: %v", cl.Addr(), err)
	}
	select {
	case s.closeCh <- cl:
	case <-s.stopCh:
	}
}

// isClosedConnErr reports whether err is the expected teardown error
// from closing a connection out from under an in-flight read, adapted
// from karoo's isNetClosed.
func isClosedConnErr(err error) bool {
	return strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

func (s *Server) removeSlot(cl *ClientSlot) {
	s.slotsMu.Lock()
	if _, ok := s.slots[cl]; !ok {
		s.slotsMu.Unlock()
		return
	}
	delete(s.slots, cl)
	s.slotsMu.Unlock()

	s.admit.release(cl.conn.RemoteAddr())
	cl.close()
	s.mx.DecClientsActive()
	logger.Info("registry: client closed %s", cl.Addr())
}

// handleClientLine implements the kind-transition and stdout-forward
// rules: a JSON_ONESHOT client that sends a bare "-" upgrades to
// JSON_STREAM; anything else is forwarded to stdout and, in COPY
// mode, fed back into the ingester as a synthetic record.
func (s *Server) handleClientLine(cl *ClientSlot, line []byte) {
	if cl.Kind() != JSONOneshot {
		return
	}
	if string(bytes.TrimRight(line, "\r")) == "-" {
		cl.setKind(JSONStream)
		return
	}

	out := append(append([]byte(nil), line...), '\n')
	s.writeStdout(out)
	if s.cfg.StdoutMode == StdoutCopy {
		s.ing.Feed(out)
	}
}

func (s *Server) writeStdout(data []byte) {
	if s.stdout == nil || s.cfg.StdoutMode == StdoutSink {
		return
	}
	if _, err := s.stdout.Write(data); err != nil {
		select {
		case s.fatalCh <- apperrors.Wrap(apperrors.CodeFatal, "stdout write failed", err):
		default:
		}
	}
}

// flushBroadcast drains the pending buffer to stdout (unless sink
// mode) and to every JSON_STREAM client, then resets it to empty
// length — the Go translation of "cleared at the end of every loop
// iteration", where one iteration is one stdin chunk or one client
// line processed.
func (s *Server) flushBroadcast() {
	if len(s.pending) == 0 {
		return
	}
	joined := bytes.Join(s.pending, nil)
	s.pending = s.pending[:0]

	s.writeStdout(joined)

	s.slotsMu.RLock()
	var targets []*ClientSlot
	for cl := range s.slots {
		if cl.Kind() == JSONStream {
			targets = append(targets, cl)
		}
	}
	s.slotsMu.RUnlock()

	for _, cl := range targets {
		if err := cl.write(joined); err != nil {
			logger.Debug("registry: broadcast write error to %s: %v", cl.Addr(), err)
			s.removeSlot(cl)
		}
	}
	s.mx.AddBroadcastBytes(len(joined))
}

// serveSnapshot implements the JSON_ONESHOT write path: build a
// snapshot, send it, and close the slot — always, once the deadline
// fires for a slot still in JSON_ONESHOT kind. A client that upgrades
// to JSON_STREAM before the deadline fires never receives one; there
// is no refresh variant.
func (s *Server) serveSnapshot(cl *ClientSlot) {
	s.slotsMu.RLock()
	_, live := s.slots[cl]
	s.slotsMu.RUnlock()
	if !live || cl.Kind() != JSONOneshot {
		return
	}

	snap := s.store.Snapshot(s.clock.Now())
	if err := cl.write(snap); err != nil {
		logger.Debug("registry: snapshot write error to %s: %v", cl.Addr(), err)
	} else {
		s.mx.IncSnapshotsServed()
	}
	s.removeSlot(cl)
}

func (s *Server) buildStatus() Status {
	counts := make(map[string]int)
	s.slotsMu.RLock()
	for cl := range s.slots {
		counts[cl.Kind().String()]++
	}
	s.slotsMu.RUnlock()

	now := s.clock.Now()
	return Status{
		PGNCount:      s.store.PGNCount(),
		LiveMessages:  s.store.LiveMessageCount(now),
		ClientsByKind: counts,
		Ingest:        s.ing.Snapshot(),
		Admission:     s.admit.snapshot(),
	}
}

// Status requests a point-in-time view of server state from the run
// loop. Safe to call from any goroutine (the debug HTTP handler).
func (s *Server) Status(ctx context.Context) (Status, bool) {
	respCh := make(chan Status, 1)
	select {
	case s.statusCh <- respCh:
	case <-ctx.Done():
		return Status{}, false
	case <-s.stopCh:
		return Status{}, false
	}
	select {
	case st := <-respCh:
		return st, true
	case <-ctx.Done():
		return Status{}, false
	}
}
