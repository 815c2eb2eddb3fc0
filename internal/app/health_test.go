package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"staycal/api/internal/store"
)

// pingStore overrides Ping of an in-memory store.
type pingStore struct {
	*store.MemoryStore
	pingFn func(context.Context) error
}

func (p *pingStore) Ping(ctx context.Context) error {
	if p.pingFn != nil {
		return p.pingFn(ctx)
	}
	return nil
}

func healthServer(pingFn func(context.Context) error) http.Handler {
	svc := New(Deps{Store: &pingStore{MemoryStore: store.NewMemoryStore(), pingFn: pingFn}})
	return NewHTTPServer(svc, "*").Handler()
}

func serveJSON(t *testing.T, h http.Handler, method, path string) (int, map[string]any) {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, path, nil))
	var body map[string]any
	if rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("parse response: %v", err)
		}
	}
	return rr.Code, body
}

func TestHealthEndpoint(t *testing.T) {
	code, body := serveJSON(t, healthServer(nil), http.MethodGet, "/api/health")
	if code != http.StatusOK {
		t.Errorf("expected status 200, got %d", code)
	}
	if body["ok"] != true {
		t.Errorf("expected ok=true, got %v", body["ok"])
	}
}

func TestReadyEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		pingErr    error
		wantCode   int
		wantStatus string
		wantDB     string
	}{
		{name: "healthy", wantCode: http.StatusOK, wantStatus: "ready", wantDB: "ok"},
		{name: "database down", pingErr: errors.New("connection refused"), wantCode: http.StatusServiceUnavailable, wantStatus: "not_ready", wantDB: "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := healthServer(func(context.Context) error { return tt.pingErr })
			code, body := serveJSON(t, h, http.MethodGet, "/api/ready")
			if code != tt.wantCode {
				t.Fatalf("expected status %d, got %d", tt.wantCode, code)
			}
			if body["status"] != tt.wantStatus {
				t.Errorf("expected status=%s, got %v", tt.wantStatus, body["status"])
			}
			checks, _ := body["checks"].(map[string]any)
			db, _ := checks["database"].(map[string]any)
			if db["status"] != tt.wantDB {
				t.Errorf("expected database status=%s, got %v", tt.wantDB, db["status"])
			}
			if tt.pingErr != nil && db["error"] != tt.pingErr.Error() {
				t.Errorf("expected database error %q, got %v", tt.pingErr, db["error"])
			}
		})
	}
}

func TestHealthEndpoint_OptionsRequest(t *testing.T) {
	rr := httptest.NewRecorder()
	healthServer(nil).ServeHTTP(rr, httptest.NewRequest(http.MethodOptions, "/api/health", nil))
	if rr.Code != http.StatusNoContent {
		t.Errorf("expected status 204 for OPTIONS, got %d", rr.Code)
	}
}

func TestMiddlewareHeaders(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	healthServer(nil).ServeHTTP(rr, req)

	if origin := rr.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Errorf("expected CORS origin=*, got %v", origin)
	}
	if cache := rr.Header().Get("Cache-Control"); cache != "no-store" {
		t.Errorf("expected Cache-Control=no-store, got %v", cache)
	}
	if id := rr.Header().Get("X-Request-ID"); id != "req-42" {
		t.Errorf("expected request id to be echoed, got %q", id)
	}
}

func TestUnknownRoute(t *testing.T) {
	code, body := serveJSON(t, healthServer(nil), http.MethodGet, "/api/nowhere")
	if code != http.StatusNotFound || body["code"] != "NOT_FOUND" {
		t.Fatalf("expected 404 NOT_FOUND, got %d %v", code, body)
	}
}
