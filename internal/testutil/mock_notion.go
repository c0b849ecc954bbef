// Package testutil provides testing utilities for the Notion client.
package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"time"
)

// MockNotion is a configurable mock Notion API server for testing.
type MockNotion struct {
	server   *httptest.Server
	mu       sync.Mutex
	handlers map[string]http.HandlerFunc

	// Tracking
	requestCount int
	lastHeader   http.Header
	cursors      []string
}

// NewMockNotion creates a new mock Notion server.
func NewMockNotion() *MockNotion {
	mock := &MockNotion{
		handlers: make(map[string]http.HandlerFunc),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Buffer the body so both cursor tracking and the handler can read it.
		raw, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(raw))

		mock.mu.Lock()
		mock.requestCount++
		mock.lastHeader = r.Header.Clone()
		mock.cursors = append(mock.cursors, extractCursor(r.URL.Query(), raw))
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, `{"object":"error","status":404,"code":"object_not_found","message":"Could not find %s"}`, r.URL.Path)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockNotion) URL() string {
	return m.server.URL
}

// Close shuts the server down.
func (m *MockNotion) Close() {
	m.server.Close()
}

// RequestCount returns how many requests the server has received.
func (m *MockNotion) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestCount
}

// LastHeader returns the headers of the most recent request.
func (m *MockNotion) LastHeader() http.Header {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastHeader
}

// Cursors returns the start_cursor value observed on each request, in order.
// Requests without a cursor record an empty string.
func (m *MockNotion) Cursors() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.cursors))
	copy(out, m.cursors)
	return out
}

// Handle registers a custom handler for a path.
func (m *MockNotion) Handle(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetJSON serves a fixed JSON body with the given status on path.
func (m *MockNotion) SetJSON(path string, status int, body string) {
	m.Handle(path, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	})
}

// SetStatusSequence serves the given statuses in order, one per request,
// repeating the last one once the sequence is exhausted. Statuses below 400
// serve okBody.
func (m *MockNotion) SetStatusSequence(path string, statuses []int, okBody string) {
	var mu sync.Mutex
	calls := 0
	m.Handle(path, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		idx := calls
		calls++
		mu.Unlock()
		if idx >= len(statuses) {
			idx = len(statuses) - 1
		}
		status := statuses[idx]

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status < 400 {
			fmt.Fprint(w, okBody)
			return
		}
		fmt.Fprintf(w, `{"object":"error","status":%d,"code":"server_error","message":"simulated failure"}`, status)
	})
}

// SetDelay serves okBody after sleeping, to exercise timeouts.
func (m *MockNotion) SetDelay(path string, delay time.Duration, okBody string) {
	m.Handle(path, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(delay):
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, okBody)
	})
}

// SetPaginated serves a cursor-paginated collection of total items split
// into pages of pageSize. Cursors are "cursor-<offset>"; items are objects
// with an "index" field.
func (m *MockNotion) SetPaginated(path string, pageSize, total int) {
	m.Handle(path, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)

		offset := 0
		if cursor := extractCursor(r.URL.Query(), raw); cursor != "" {
			fmt.Sscanf(cursor, "cursor-%d", &offset)
		}

		end := offset + pageSize
		if end > total {
			end = total
		}

		results := make([]map[string]any, 0, end-offset)
		for i := offset; i < end; i++ {
			results = append(results, map[string]any{"object": "page", "index": i})
		}

		body := map[string]any{
			"object":      "list",
			"results":     results,
			"has_more":    end < total,
			"next_cursor": nil,
		}
		if end < total {
			body["next_cursor"] = fmt.Sprintf("cursor-%d", end)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(body)
	})
}

// extractCursor finds start_cursor in the query string or a JSON body.
func extractCursor(query url.Values, body []byte) string {
	if c := query.Get("start_cursor"); c != "" {
		return c
	}
	var parsed struct {
		StartCursor string `json:"start_cursor"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	return parsed.StartCursor
}
