package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

// MockLastFMServer creates a test server that mocks Last.fm API responses.
// Handlers are keyed by the `method` query parameter rather than the path,
// matching how the Last.fm API multiplexes everything over one endpoint.
// Hits counts every request received; tests use it to assert that no
// provider call was made at all.
type MockLastFMServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc
	Hits     atomic.Int64
}

// NewMockLastFMServer creates a new mock Last.fm API server.
func NewMockLastFMServer(t *testing.T) *MockLastFMServer {
	t.Helper()
	m := &MockLastFMServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.Hits.Add(1)
		key := r.URL.Query().Get("method")
		if handler, ok := m.Handlers[key]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// MockSessionResponse adds a handler for auth.getSession.
func (m *MockLastFMServer) MockSessionResponse(key, name string) {
	m.Handlers["auth.getSession"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"session": map[string]interface{}{"name": name, "key": key, "subscriber": 0},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockUserInfoResponse adds a handler for user.getInfo.
func (m *MockLastFMServer) MockUserInfoResponse(name, realname, profileURL string) {
	m.Handlers["user.getInfo"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"user": map[string]string{"name": name, "realname": realname, "url": profileURL},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockRecentTracksResponse adds a handler for user.getRecentTracks.
// Each track is {artist, name, url}.
func (m *MockLastFMServer) MockRecentTracksResponse(tracks []map[string]string) {
	m.Handlers["user.getRecentTracks"] = func(w http.ResponseWriter, r *http.Request) {
		list := make([]map[string]interface{}, 0, len(tracks))
		for _, tr := range tracks {
			list = append(list, map[string]interface{}{
				"artist": map[string]string{"#text": tr["artist"]},
				"name":   tr["name"],
				"url":    tr["url"],
			})
		}
		response := map[string]interface{}{
			"recenttracks": map[string]interface{}{"track": list},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockErrorResponse adds a handler returning a Last.fm error envelope for the
// given method (e.g. code 4 "Invalid authentication token").
func (m *MockLastFMServer) MockErrorResponse(method string, code int, message string) {
	m.Handlers[method] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{ //nolint:errcheck // test mock response
			"error":   code,
			"message": message,
		})
	}
}
