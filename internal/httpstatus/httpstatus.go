// Package httpstatus exposes the health, status and metrics endpoints,
// adapted from the proxy's HttpServe into a dedicated ServeMux so it
// carries no dependency on any global http.DefaultServeMux state.
package httpstatus

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/carlosrabelo/n2kd/internal/registry"
	"github.com/carlosrabelo/n2kd/pkg/logger"
	pkgmetrics "github.com/carlosrabelo/n2kd/pkg/metrics"
)

// StatusSource is the subset of *registry.Server the /status handler
// needs. Defined here so this package doesn't import registry's
// internals beyond the exported Status call.
type StatusSource interface {
	Status(ctx context.Context) (registry.Status, bool)
}

// Server runs the debug HTTP endpoints on their own listener address.
type Server struct {
	addr string
	reg  StatusSource
	acc  *pkgmetrics.Metrics
}

func New(addr string, reg StatusSource) *Server {
	return &Server{addr: addr, reg: reg, acc: pkgmetrics.New()}
}

// Serve blocks until ctx is canceled or ListenAndServe fails for a
// reason other than a clean shutdown.
func (s *Server) Serve(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: s.addr, Handler: s.instrument(mux)}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()

	logger.Info("httpstatus: listening on %s", s.addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// instrument wraps a handler with the debug server's own access
// counters, kept separate from internal/metrics' PGN-domain counters
// so the two never get tangled.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.acc.IncrementRequests()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)
		if sw.code >= http.StatusInternalServerError {
			s.acc.IncrementErrors()
		}
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// statusResponse nests the registry's point-in-time state alongside
// this debug server's own access counters, so one request shows both
// what n2kd is doing and how hard this endpoint itself is being hit.
type statusResponse struct {
	registry.Status
	Debug pkgmetrics.Snapshot `json:"debug_http"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, ok := s.reg.Status(r.Context())
	if !ok {
		http.Error(w, "status unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(statusResponse{Status: st, Debug: s.acc.Snapshot()})
}
