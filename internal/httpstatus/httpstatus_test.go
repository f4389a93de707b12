package httpstatus

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/carlosrabelo/n2kd/internal/registry"
	pkgmetrics "github.com/carlosrabelo/n2kd/pkg/metrics"
)

type fakeSource struct {
	status registry.Status
	ok     bool
}

func (f fakeSource) Status(ctx context.Context) (registry.Status, bool) {
	return f.status, f.ok
}

func newTestMux(reg StatusSource) http.Handler {
	s := &Server{reg: reg, acc: pkgmetrics.New()}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/status", s.handleStatus)
	return mux
}

func TestHandleHealthz(t *testing.T) {
	mux := newTestMux(fakeSource{ok: true})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if rr.Body.String() != "ok" {
		t.Errorf("body = %q, want %q", rr.Body.String(), "ok")
	}
}

func TestHandleStatusOK(t *testing.T) {
	want := registry.Status{
		PGNCount:      3,
		LiveMessages:  7,
		ClientsByKind: map[string]int{"JSON_STREAM": 2},
	}
	mux := newTestMux(fakeSource{status: want, ok: true})
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var got registry.Status
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if got.PGNCount != want.PGNCount || got.LiveMessages != want.LiveMessages {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestHandleStatusUnavailable(t *testing.T) {
	mux := newTestMux(fakeSource{ok: false})
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rr.Code)
	}
}

func TestInstrumentCountsRequestsAndErrors(t *testing.T) {
	s := New("127.0.0.1:0", fakeSource{ok: false})
	handler := s.instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/boom" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ok", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))

	snap := s.acc.Snapshot()
	if snap.Requests != 2 {
		t.Errorf("Requests = %d, want 2", snap.Requests)
	}
	if snap.Errors != 1 {
		t.Errorf("Errors = %d, want 1", snap.Errors)
	}
}
