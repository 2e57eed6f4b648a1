// Package testutil provides testing utilities for the listing harvester.
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// TotalsFunc returns the number of listings the mock API holds for a date range.
type TotalsFunc func(gte, lte string) int

// PageRequest is a request observed by the mock server.
type PageRequest struct {
	Operation string
	GTE       string
	LTE       string
	Page      int
	PageSize  int
}

// MockAPI is a configurable mock listing API for testing.
type MockAPI struct {
	server *httptest.Server
	mu     sync.Mutex

	totals   TotalsFunc
	failures map[string]int
	garbage  map[string]bool
	delay    time.Duration

	// Tracking
	requests    []PageRequest
	inflight    int
	maxInflight int
	lastHeader  http.Header
}

// NewMockAPI creates a new mock server that holds no listings.
func NewMockAPI() *MockAPI {
	mock := &MockAPI{
		totals:   func(string, string) int { return 0 },
		failures: make(map[string]int),
		garbage:  make(map[string]bool),
	}
	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))
	return mock
}

// URL returns the mock server URL.
func (m *MockAPI) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// SetTotals configures how many listings exist per date range.
func (m *MockAPI) SetTotals(fn TotalsFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totals = fn
}

// SetDelay makes every response wait d before being written.
func (m *MockAPI) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// FailPage makes the given page of the given range answer with status.
func (m *MockAPI) FailPage(gte, lte string, page, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[pageID(gte, lte, page)] = status
}

// GarblePage makes the given page answer 200 with a non-JSON body.
func (m *MockAPI) GarblePage(gte, lte string, page int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.garbage[pageID(gte, lte, page)] = true
}

// Requests returns a copy of all observed requests in arrival order.
func (m *MockAPI) Requests() []PageRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PageRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockAPI) GetRequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// MaxInflight returns the highest number of concurrently served requests.
func (m *MockAPI) MaxInflight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxInflight
}

// LastRequestHeader returns the headers of the most recent request.
func (m *MockAPI) LastRequestHeader() http.Header {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastHeader
}

// Reset clears all tracking counters.
func (m *MockAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.maxInflight = 0
	m.lastHeader = nil
}

type mockBody struct {
	OperationName string `json:"operationName"`
	Variables     struct {
		Filters struct {
			ListingDate struct {
				GTE string `json:"gte"`
				LTE string `json:"lte"`
			} `json:"listingDate"`
		} `json:"filters"`
		PageSize int `json:"pageSize"`
		Page     int `json:"page"`
	} `json:"variables"`
}

func (m *MockAPI) handle(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var body mockBody
	if err := json.Unmarshal(raw, &body); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}

	req := PageRequest{
		Operation: body.OperationName,
		GTE:       body.Variables.Filters.ListingDate.GTE,
		LTE:       body.Variables.Filters.ListingDate.LTE,
		Page:      body.Variables.Page,
		PageSize:  body.Variables.PageSize,
	}
	id := pageID(req.GTE, req.LTE, req.Page)

	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.lastHeader = r.Header.Clone()
	m.inflight++
	if m.inflight > m.maxInflight {
		m.maxInflight = m.inflight
	}
	delay := m.delay
	total := m.totals(req.GTE, req.LTE)
	failStatus, fail := m.failures[id]
	garble := m.garbage[id]
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inflight--
		m.mu.Unlock()
	}()

	if delay > 0 {
		time.Sleep(delay)
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	if fail {
		w.WriteHeader(failStatus)
		w.Write([]byte(`{"errors":[{"message":"upstream failure"}]}`))
		return
	}
	if garble {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`<html>challenge</html>`))
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write(ListingsResponse(req.GTE, req.LTE, req.Page, req.PageSize, total))
}

// ListingsResponse builds the JSON envelope for one page of a range holding
// total listings. Listing ids encode range, page and position.
func ListingsResponse(gte, lte string, page, pageSize, total int) []byte {
	n := PageLen(page, pageSize, total)
	listings := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		listings = append(listings, map[string]any{
			"id":          fmt.Sprintf("%s_%s_%d_%d", gte, lte, page, i),
			"listingDate": gte,
			"event": map[string]any{
				"title":     fmt.Sprintf("Event %d", (page-1)*pageSize+i),
				"attending": i,
			},
		})
	}

	resp := map[string]any{
		"data": map[string]any{
			"eventListings": map[string]any{
				"data":         listings,
				"totalResults": total,
			},
		},
	}
	data, _ := json.Marshal(resp)
	return data
}

// PageLen returns how many listings page holds for a range of total listings.
func PageLen(page, pageSize, total int) int {
	if page < 1 || pageSize <= 0 {
		return 0
	}
	remaining := total - (page-1)*pageSize
	switch {
	case remaining <= 0:
		return 0
	case remaining > pageSize:
		return pageSize
	default:
		return remaining
	}
}

func pageID(gte, lte string, page int) string {
	return fmt.Sprintf("%s|%s|%d", gte, lte, page)
}
