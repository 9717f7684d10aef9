package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/streamforge/botfleet/fleet"
	"github.com/streamforge/botfleet/testutil"
)

type staticStatus []fleet.TenantStatus

func (s staticStatus) Status() []fleet.TenantStatus { return s }

func TestHealthzOK(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()

	NewMux(nil, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body=%s", rr.Code, rr.Body.String())
	}
	if got := rr.Body.String(); got != "ok" {
		t.Fatalf("expected ok body, got %q", got)
	}
}

func TestReadyzWithDatabase(t *testing.T) {
	db := testutil.SetupTestDB(t)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	NewMux(db, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body=%s", rr.Code, rr.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ready" {
		t.Errorf("status = %q", body["status"])
	}
}

func TestStatusSnapshot(t *testing.T) {
	snapshot := staticStatus{
		{TenantID: "a", Channel: "chan_a", Features: 3, StartedAt: time.Now()},
		{TenantID: "b", Channel: "chan_b", Features: 1, StartedAt: time.Now()},
	}
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rr := httptest.NewRecorder()
	NewMux(nil, snapshot).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body struct {
		TenantCount int                  `json:"tenant_count"`
		Tenants     []fleet.TenantStatus `json:"tenants"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.TenantCount != 2 || len(body.Tenants) != 2 {
		t.Errorf("body = %+v", body)
	}
	if body.Tenants[0].Channel != "chan_a" {
		t.Errorf("tenants = %+v", body.Tenants)
	}
}

func TestStatusWithoutFleet(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rr := httptest.NewRecorder()
	NewMux(nil, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body struct {
		TenantCount int `json:"tenant_count"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.TenantCount != 0 {
		t.Errorf("tenant_count = %d", body.TenantCount)
	}
}

func TestCorrelationHeader(t *testing.T) {
	t.Run("generated when absent", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		rr := httptest.NewRecorder()
		NewMux(nil, nil).ServeHTTP(rr, req)
		if rr.Header().Get("X-Correlation-ID") == "" {
			t.Error("missing generated correlation id")
		}
	})

	t.Run("echoed when provided", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set("X-Correlation-ID", "corr-123")
		rr := httptest.NewRecorder()
		NewMux(nil, nil).ServeHTTP(rr, req)
		if got := rr.Header().Get("X-Correlation-ID"); got != "corr-123" {
			t.Errorf("correlation id = %q", got)
		}
	})
}

func TestMetricsEndpoint(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	NewMux(nil, nil).ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestStartAndShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Start(ctx, nil, nil, ":0") }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("server returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
