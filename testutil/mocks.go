package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// MockTwitchServer creates a test server that mocks Twitch Helix API responses.
// Requests are recorded so tests can assert on what was sent.
type MockTwitchServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	mu       sync.Mutex
	requests []RecordedRequest
}

// RecordedRequest is one request seen by the mock.
type RecordedRequest struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   []byte
}

// NewMockTwitchServer creates a new mock Twitch API server
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		m.mu.Lock()
		m.requests = append(m.requests, RecordedRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Header: r.Header.Clone(), Body: body})
		handler, ok := m.Handlers[r.URL.Path]
		m.mu.Unlock()
		if ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// Handle registers a handler for path.
func (m *MockTwitchServer) Handle(path string, h http.HandlerFunc) {
	m.mu.Lock()
	m.Handlers[path] = h
	m.mu.Unlock()
}

// Requests returns recorded requests for path ("" for all).
func (m *MockTwitchServer) Requests(path string) []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []RecordedRequest
	for _, r := range m.requests {
		if path == "" || r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// HelixBaseURL is the value to use for HelixClient.BaseURL.
func (m *MockTwitchServer) HelixBaseURL() string { return m.URL + "/helix" }

// IDBaseURL is the value to use for HelixClient.IDBaseURL.
func (m *MockTwitchServer) IDBaseURL() string { return m.URL + "/oauth2" }

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}

// MockUserResponse adds a handler for /helix/users endpoint
func (m *MockTwitchServer) MockUserResponse(userID, login string) {
	m.Handle("/helix/users", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"data": []map[string]string{{"id": userID, "login": login, "display_name": login}},
		})
	})
}

// MockEmptyUsers makes /helix/users return an empty data array.
func (m *MockTwitchServer) MockEmptyUsers() {
	m.Handle("/helix/users", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"data": []interface{}{}})
	})
}

// MockUnauthorized makes path return 401.
func (m *MockTwitchServer) MockUnauthorized(path string) {
	m.Handle(path, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"error": "Unauthorized", "status": 401, "message": "Invalid OAuth token"})
	})
}

// MockSubscriptionsAccepted accepts every EventSub registration.
func (m *MockTwitchServer) MockSubscriptionsAccepted() {
	m.Handle("/helix/eventsub/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"data": []map[string]interface{}{{"id": "sub", "status": "enabled", "cost": 0}},
		})
	})
}

// MockChannelEmotes serves /helix/chat/emotes with the given id->name pairs.
func (m *MockTwitchServer) MockChannelEmotes(emotes map[string]string) {
	m.Handle("/helix/chat/emotes", func(w http.ResponseWriter, r *http.Request) {
		data := make([]map[string]interface{}, 0, len(emotes))
		for id, name := range emotes {
			data = append(data, map[string]interface{}{"id": id, "name": name, "format": []string{"static"}, "scale": []string{"1.0"}, "theme_mode": []string{"dark"}})
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"data":     data,
			"template": "https://static-cdn.jtvnw.net/emoticons/v2/{{id}}/{{format}}/{{theme_mode}}/{{scale}}",
		})
	})
}

// MockValidate serves /oauth2/validate for a valid token.
func (m *MockTwitchServer) MockValidate(login, userID string, expiresIn int) {
	m.Handle("/oauth2/validate", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"client_id": "cid", "login": login, "user_id": userID, "scopes": []string{"chat:read"}, "expires_in": expiresIn})
	})
}
