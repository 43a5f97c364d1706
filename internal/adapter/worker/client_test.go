package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/Strob0t/flowgate/internal/config"
	"github.com/Strob0t/flowgate/internal/port/backend"
	"github.com/Strob0t/flowgate/internal/resilience"
)

func newClient(t *testing.T, cfg config.Backends) *Client {
	t.Helper()
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Second
	}
	return NewClient(NewHTTPClient(cfg), cfg, config.Breaker{MaxFailures: 2, Timeout: time.Hour}, nil)
}

func TestRPCCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/rpc/get_entreprise_by_id" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer anon-key" || r.Header.Get("apikey") != "anon-key" {
			t.Errorf("missing rpc credentials: %v", r.Header)
		}
		if r.Header.Get(HeaderRequestID) != "req-1" {
			t.Errorf("missing request id header")
		}
		if r.Header.Get(HeaderWorkerAuth) != "" {
			t.Error("worker auth must not be sent to the rpc gateway")
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"p_id":"e-1"}` {
			t.Errorf("unexpected body %s", body)
		}
		_, _ = w.Write([]byte(`[{"id":"e-1","nom":"ACME"}]`))
	}))
	defer srv.Close()

	c := newClient(t, config.Backends{RPCURL: srv.URL + "/", RPCKey: "anon-key", WorkerAuthToken: "w"})
	raw, err := c.Do(context.Background(), backend.Request{
		Backend:   backend.RPC,
		Path:      "get_entreprise_by_id",
		Body:      map[string]any{"p_id": "e-1"},
		RequestID: "req-1",
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if string(raw) != `[{"id":"e-1","nom":"ACME"}]` {
		t.Errorf("unexpected body %s", raw)
	}
}

func TestWorkerCallHeadersAndMethod(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/facture/f-1" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get(HeaderWorkerAuth) != "worker-secret" {
			t.Errorf("missing worker auth header")
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := newClient(t, config.Backends{DatabaseURL: srv.URL, WorkerAuthToken: "worker-secret"})
	raw, err := c.Do(context.Background(), backend.Request{Backend: backend.Database, Method: http.MethodDelete, Path: "/facture/f-1"})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if string(raw) != "null" {
		t.Errorf("empty body should decode as null, got %s", raw)
	}
}

func TestNotConfigured(t *testing.T) {
	c := newClient(t, config.Backends{})
	_, err := c.Do(context.Background(), backend.Request{Backend: backend.Email, Path: "/send"})
	if !errors.Is(err, backend.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if backend.BackendOf(err) != backend.Email {
		t.Errorf("failure must name the backend, got %q", backend.BackendOf(err))
	}
}

func TestErrorStatusPropagated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"numero already used"}`))
	}))
	defer srv.Close()

	c := newClient(t, config.Backends{DatabaseURL: srv.URL})
	_, err := c.Do(context.Background(), backend.Request{Backend: backend.Database, Path: "/facture/create"})
	var ce *backend.CallError
	if !errors.As(err, &ce) || ce.Status != http.StatusConflict || ce.Body != `{"error":"numero already used"}` {
		t.Fatalf("unexpected error %v", err)
	}
	if backend.IsTransient(err) {
		t.Error("409 must not be transient")
	}
}

func TestRequireValidation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"validated", `{"validated":true,"id":"f-1"}`, false},
		{"not validated", `{"validated":false,"discrepancies":["montant_ttc mismatch"]}`, true},
		{"missing flag", `{"id":"f-1"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := newClient(t, config.Backends{DatabaseURL: srv.URL})
			_, err := c.Do(context.Background(), backend.Request{Backend: backend.Database, Method: http.MethodPut, Path: "/facture/f-1", RequireValidation: true})
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var ce *backend.CallError
			if !errors.As(err, &ce) || ce.Status != http.StatusUnprocessableEntity {
				t.Fatalf("expected 422 CallError, got %v", err)
			}
		})
	}
}

func TestDocumentTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := newClient(t, config.Backends{DocumentURL: srv.URL, Timeout: time.Minute, DocumentTimeout: 50 * time.Millisecond})
	_, err := c.Do(context.Background(), backend.Request{Backend: backend.Document, Path: "/generate/facture"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if !backend.IsTransient(err) {
		t.Error("timeouts are transient")
	}
}

func TestBreakerOpensOnServerErrorsOnly(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusNotFound)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	c := newClient(t, config.Backends{StorageURL: srv.URL})
	req := backend.Request{Backend: backend.Storage, Path: "/upload/base64"}
	for range 3 {
		_, _ = c.Do(context.Background(), req)
	}
	if c.Breaker(backend.Storage).State() != resilience.StateClosed {
		t.Fatal("4xx answers must not open the circuit")
	}

	status.Store(http.StatusBadGateway)
	for range 2 {
		_, _ = c.Do(context.Background(), req)
	}
	before := calls.Load()
	_, err := c.Do(context.Background(), req)
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if calls.Load() != before {
		t.Error("open circuit must not reach the backend")
	}
	if c.Breaker(backend.Database).State() != resilience.StateClosed {
		t.Error("breakers are per backend")
	}
}

func TestBodyIsJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type %q", r.Header.Get("Content-Type"))
		}
		var m map[string]any
		if err := json.NewDecoder(r.Body).Decode(&m); err != nil || m["to"] != "billing@acme.test" {
			t.Errorf("unexpected body %v (%v)", m, err)
		}
		_, _ = w.Write([]byte(`{"sent":true}`))
	}))
	defer srv.Close()

	c := newClient(t, config.Backends{EmailURL: srv.URL})
	if _, err := c.Do(context.Background(), backend.Request{Backend: backend.Email, Path: "/send", Body: map[string]string{"to": "billing@acme.test"}}); err != nil {
		t.Fatal(err)
	}
}

func TestTruncateKeepsUTF8(t *testing.T) {
	body := []byte(strings.Repeat("a", maxErrorBody-1) + "échec")
	got := truncate(body)
	if !utf8.ValidString(got) {
		t.Fatalf("truncated body is not valid UTF-8")
	}
	if got != strings.Repeat("a", maxErrorBody-1)+"..." {
		t.Errorf("unexpected cut, len %d", len(got))
	}
	if short := truncate([]byte("  refusé \n")); short != "refusé" {
		t.Errorf("short body = %q", short)
	}
}
