package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/stream-bridge/credentials"
	"github.com/onnwee/stream-bridge/emotes"
	"github.com/onnwee/stream-bridge/events"
	"github.com/onnwee/stream-bridge/identity"
	"github.com/onnwee/stream-bridge/integration"
	"github.com/onnwee/stream-bridge/twitchapi"
)

func syncAsync(fn func()) { fn() }

type fakeTwitch struct {
	emotes []twitchapi.Emote
	users  []twitchapi.User
}

func (f *fakeTwitch) GetChannelEmotes(context.Context, string, string) ([]twitchapi.Emote, error) {
	return f.emotes, nil
}

func (f *fakeTwitch) GetUsers(_ context.Context, _ string, logins ...string) ([]twitchapi.User, error) {
	var out []twitchapi.User
	for _, u := range f.users {
		for _, l := range logins {
			if u.Login == l {
				out = append(out, u)
			}
		}
	}
	return out, nil
}

type fakeIntegration struct {
	mu       sync.Mutex
	status   integration.Status
	sent     []string
	logins   int
	lookups  []string
	paused   bool
	queueErr error

	emotes *emotes.Cache
	users  *identity.UserDirectory
}

func newFakeIntegration(t *testing.T) *fakeIntegration {
	t.Helper()
	api := &fakeTwitch{
		emotes: []twitchapi.Emote{{ID: "e1", Name: "barHype", EmoteType: "subscriptions", Tier: "1000"}},
		users:  []twitchapi.User{{ID: "7", Login: "viewer", DisplayName: "Viewer"}},
	}
	cred := &credentials.Credential{ClientID: "abc", OAuthToken: "tok", AccountLogin: "bar", AccountID: 42}
	f := &fakeIntegration{
		status: integration.Status{Started: true, IdentityResolved: true, Chat: "open", EventSub: "open", EmotesLoaded: true},
		emotes: emotes.New(api, cred, time.Second, syncAsync),
		users:  identity.NewUserDirectory(api, cred, syncAsync),
	}
	f.emotes.Tick(0)
	f.emotes.Tick(0)
	f.users.Request("viewer")
	f.users.Tick()
	f.users.Tick()
	return f
}

func (f *fakeIntegration) Status() integration.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeIntegration) QueueChatMessage(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queueErr != nil {
		return f.queueErr
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeIntegration) QueueLogin() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queueErr != nil {
		return f.queueErr
	}
	f.logins++
	return nil
}

func (f *fakeIntegration) QueueUserLookup(login string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups = append(f.lookups, login)
	return nil
}

func (f *fakeIntegration) SetPaused(p bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = p
}

func (f *fakeIntegration) Emotes() *emotes.Cache          { return f.emotes }
func (f *fakeIntegration) Users() *identity.UserDirectory { return f.users }

func newTestMux(t *testing.T, svc Integration) http.Handler {
	t.Helper()
	t.Setenv("ADMIN_USERNAME", "")
	t.Setenv("ADMIN_PASSWORD", "")
	t.Setenv("ADMIN_TOKEN", "")
	t.Setenv("RATE_LIMIT_ENABLED", "0")
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewMux(ctx, svc, NewEventHub())
}

func TestHealthz(t *testing.T) {
	h := newTestMux(t, newFakeIntegration(t))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Correlation-ID") == "" {
		t.Fatal("expected correlation id header")
	}
}

func TestCorrelationIDIsEchoed(t *testing.T) {
	h := newTestMux(t, newFakeIntegration(t))
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Correlation-ID", "abc-123")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Correlation-ID"); got != "abc-123" {
		t.Fatalf("correlation id = %q", got)
	}
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*integration.Status)
		wantCode   int
		wantFailed string
	}{
		{"ready", func(*integration.Status) {}, http.StatusOK, ""},
		{"not started", func(s *integration.Status) { s.Started = false }, http.StatusServiceUnavailable, "started"},
		{"paused", func(s *integration.Status) { s.Paused = true }, http.StatusServiceUnavailable, "started"},
		{"unresolved", func(s *integration.Status) { s.IdentityResolved = false }, http.StatusServiceUnavailable, "identity"},
		{"chat down", func(s *integration.Status) { s.Chat = "disconnected" }, http.StatusServiceUnavailable, "chat"},
		{"eventsub connecting", func(s *integration.Status) { s.EventSub = "connecting" }, http.StatusServiceUnavailable, "eventsub"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeIntegration(t)
			tt.mutate(&f.status)
			rr := httptest.NewRecorder()
			newTestMux(t, f).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if rr.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d body=%s", tt.wantCode, rr.Code, rr.Body.String())
			}
			var resp map[string]string
			if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if tt.wantFailed == "" {
				if resp["status"] != "ready" {
					t.Fatalf("expected status=ready, got %q", resp["status"])
				}
				return
			}
			if resp["status"] != "not_ready" || resp["failed_check"] != tt.wantFailed {
				t.Fatalf("unexpected response %v", resp)
			}
		})
	}
}

func TestStatus(t *testing.T) {
	f := newFakeIntegration(t)
	f.status.AccountLogin = "bar"
	f.status.AccountID = 42
	rr := httptest.NewRecorder()
	newTestMux(t, f).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status code %d", rr.Code)
	}
	var st integration.Status
	if err := json.NewDecoder(rr.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.AccountID != 42 || st.AccountLogin != "bar" || st.Chat != "open" {
		t.Fatalf("unexpected status %+v", st)
	}

	rr = httptest.NewRecorder()
	newTestMux(t, f).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/status", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /status = %d", rr.Code)
	}
}

func TestEmotes(t *testing.T) {
	h := newTestMux(t, newFakeIntegration(t))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/emotes", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("emotes code %d", rr.Code)
	}
	var resp struct {
		Loaded bool        `json:"loaded"`
		Emotes []emoteView `json:"emotes"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Loaded || len(resp.Emotes) != 1 || resp.Emotes[0].Name != "barHype" || resp.Emotes[0].Tier != "1000" {
		t.Fatalf("unexpected emotes %+v", resp)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/emotes?scale=9", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad scale = %d", rr.Code)
	}
}

func TestUserLookup(t *testing.T) {
	f := newFakeIntegration(t)
	h := newTestMux(t, f)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/users/Viewer", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("known user = %d", rr.Code)
	}
	var u twitchapi.User
	if err := json.NewDecoder(rr.Body).Decode(&u); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if u.ID != "7" || u.DisplayName != "Viewer" {
		t.Fatalf("unexpected user %+v", u)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/users/stranger", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown user = %d", rr.Code)
	}
	if len(f.lookups) != 1 || f.lookups[0] != "stranger" {
		t.Fatalf("expected queued lookup, got %v", f.lookups)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/users/", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("empty login = %d", rr.Code)
	}
}

func TestAdminEndpoints(t *testing.T) {
	f := newFakeIntegration(t)
	h := newTestMux(t, f)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/admin/chat", strings.NewReader(`{"text":"gg"}`)))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("admin chat = %d %s", rr.Code, rr.Body.String())
	}
	if len(f.sent) != 1 || f.sent[0] != "gg" {
		t.Fatalf("sent = %v", f.sent)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/admin/chat", strings.NewReader(`not json`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad body = %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/chat", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET admin chat = %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/admin/login", nil))
	if rr.Code != http.StatusAccepted || f.logins != 1 {
		t.Fatalf("admin login = %d logins=%d", rr.Code, f.logins)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/admin/pause", strings.NewReader(`{"paused":true}`)))
	if rr.Code != http.StatusOK || !f.paused {
		t.Fatalf("admin pause = %d paused=%v", rr.Code, f.paused)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/admin/pause", strings.NewReader(`{}`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("pause without field = %d", rr.Code)
	}
}

func TestAdminQueueFull(t *testing.T) {
	f := newFakeIntegration(t)
	f.queueErr = integration.ErrCommandsFull
	rr := httptest.NewRecorder()
	newTestMux(t, f).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/admin/login", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("queue full = %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
}

func TestEventHub(t *testing.T) {
	hub := NewEventHub()
	ch := hub.Subscribe()
	if hub.Len() != 1 {
		t.Fatalf("len = %d", hub.Len())
	}
	hub.Publish(events.Raid{Meta: events.NewMeta(events.SourceChat), UserLogin: "foo", UserName: "Foo", Viewers: 5})
	b := <-ch
	var got struct {
		Kind  string         `json:"kind"`
		Event map[string]any `json:"event"`
	}
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Kind != "raid" || got.Event["UserName"] != "Foo" {
		t.Fatalf("unexpected event %s", b)
	}

	// Full subscribers drop instead of blocking.
	for i := 0; i < hubBuffer+10; i++ {
		hub.Publish(events.Follow{Meta: events.NewMeta(events.SourceEventSub), UserName: "x"})
	}

	hub.Close()
	for range ch {
	}
	if hub.Subscribe() != nil {
		t.Fatal("subscribe after close should return nil")
	}
	hub.Unsubscribe(ch)
}

func TestEventStream(t *testing.T) {
	f := newFakeIntegration(t)
	t.Setenv("RATE_LIMIT_ENABLED", "0")
	hub := NewEventHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := httptest.NewServer(NewMux(ctx, f, hub))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/events/stream")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected Content-Type text/event-stream, got %s", ct)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	hub.Publish(events.ChatMessage{Meta: events.NewMeta(events.SourceChat), UserLogin: "foo", Text: "hi"})

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.HasPrefix(line, "data: ") || !strings.Contains(line, `"kind":"chat_message"`) {
		t.Fatalf("unexpected SSE line %q", line)
	}

	hub.Close()
}
