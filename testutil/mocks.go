package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
)

// MockLedgerServer mocks the rewards ledger HTTP API with an in-memory balance
// table. Point adjustments are applied so tests can assert final balances.
type MockLedgerServer struct {
	*httptest.Server

	mu       sync.Mutex
	balances map[string]int64
	adjusts  []LedgerAdjustment
}

// LedgerAdjustment records one AdjustPoints call.
type LedgerAdjustment struct {
	Username string
	Delta    int64
}

// NewMockLedgerServer creates a ledger API mock rooted at /points/{channel}/{user}.
func NewMockLedgerServer(t *testing.T) *MockLedgerServer {
	t.Helper()
	m := &MockLedgerServer{balances: make(map[string]int64)}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /points/{channel}/{user}", func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()
		user := r.PathValue("user")
		points, ok := m.balances[user]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"username":    user,
			"displayName": user,
			"points":      points,
		})
	})
	mux.HandleFunc("PUT /points/{channel}/{user}/{amount}", func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()
		user := r.PathValue("user")
		delta, err := strconv.ParseInt(r.PathValue("amount"), 10, 64)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		m.balances[user] += delta
		m.adjusts = append(m.adjusts, LedgerAdjustment{Username: user, Delta: delta})
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"newAmount": m.balances[user]})
	})
	m.Server = httptest.NewServer(mux)
	t.Cleanup(m.Close)
	return m
}

// SetBalance seeds a user balance.
func (m *MockLedgerServer) SetBalance(username string, points int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[username] = points
}

// Balance returns the current balance for a user.
func (m *MockLedgerServer) Balance(username string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[username]
}

// Adjustments returns a copy of all recorded adjustments in order.
func (m *MockLedgerServer) Adjustments() []LedgerAdjustment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]LedgerAdjustment(nil), m.adjusts...)
}

// MockHelixServer creates a test server that mocks Twitch Helix API responses.
type MockHelixServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc
}

// NewMockHelixServer creates a new mock Twitch API server.
func NewMockHelixServer(t *testing.T) *MockHelixServer {
	t.Helper()
	m := &MockHelixServer{Handlers: make(map[string]http.HandlerFunc)}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := m.Handlers[r.URL.Path]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// MockStreamsResponse adds a handler for the /streams endpoint.
func (m *MockHelixServer) MockStreamsResponse(streams []map[string]any) {
	m.Handlers["/streams"] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"data": streams})
	}
}

// MockClipResponse adds a handler for the /clips endpoint.
func (m *MockHelixServer) MockClipResponse(id, editURL string) {
	m.Handlers["/clips"] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"id": id, "edit_url": editURL}},
		})
	}
}
