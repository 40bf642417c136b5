// Package testutil provides test doubles shared across packages.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockUpstream simulates the third-party hotel-pricing API. It serves
// canned JSON for the standard endpoints, reports rate limit budget
// headers on every response, and counts requests per path so tests can
// assert how often the real upstream would have been hit.
type MockUpstream struct {
	server *httptest.Server

	mu            sync.Mutex
	handlers      map[string]http.HandlerFunc
	requestCounts map[string]int
	delay         time.Duration
	remaining     int
}

// NewMockUpstream starts a mock hotel API with default fixtures.
func NewMockUpstream() *MockUpstream {
	m := &MockUpstream{
		handlers:      make(map[string]http.HandlerFunc),
		requestCounts: make(map[string]int),
		remaining:     100,
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.dispatch))

	m.Handle("/api/hotels", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"id":"h-1","name":"Grand Palace","destination":"SIN"},{"id":"h-2","name":"Harbor View","destination":"SIN"}]`)
	})
	m.Handle("/api/prices", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"id":"h-1","price":210.50,"currency":"USD"},{"id":"h-2","price":98.00,"currency":"USD"}]`)
	})
	m.Handle("/api/hotels/h-1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"h-1","name":"Grand Palace","destination":"SIN","rating":4.6}`)
	})
	m.Handle("/api/hotels/h-1/price", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"h-1","price":210.50,"currency":"USD"}`)
	})

	return m
}

// URL returns the mock server's base URL.
func (m *MockUpstream) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockUpstream) Close() {
	m.server.Close()
}

// Handle registers or replaces the handler for an exact path.
func (m *MockUpstream) Handle(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetDelay makes every response wait before being served. Used to widen
// the window in which concurrent requests overlap.
func (m *MockUpstream) SetDelay(delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = delay
}

// SetRemaining sets the budget reported in rate limit headers.
func (m *MockUpstream) SetRemaining(remaining int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remaining = remaining
}

// RequestCount returns how many requests the given path received.
func (m *MockUpstream) RequestCount(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestCounts[path]
}

// TotalRequests returns the total request count across all paths.
func (m *MockUpstream) TotalRequests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.requestCounts {
		total += n
	}
	return total
}

func (m *MockUpstream) dispatch(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.requestCounts[r.URL.Path]++
	handler := m.handlers[r.URL.Path]
	delay := m.delay
	remaining := m.remaining
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
	w.Header().Set("X-RateLimit-Reset", "60")
	w.Header().Set("Content-Type", "application/json")

	if handler == nil {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, `{"error":"no fixture for %s"}`, r.URL.Path)
		return
	}
	handler(w, r)
}

// JSONHandler returns a handler serving a fixed JSON body.
func JSONHandler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	}
}

// StatusHandler returns a handler replying with the given status and an
// error payload.
func StatusHandler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"error":%q}`, strings.ToLower(http.StatusText(status)))
	}
}
