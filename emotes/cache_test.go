package emotes

import (
	"strings"
	"testing"
	"time"

	"github.com/onnwee/stream-bridge/credentials"
	"github.com/onnwee/stream-bridge/testutil"
	"github.com/onnwee/stream-bridge/twitchapi"
)

func syncAsync(fn func()) { fn() }

func TestCacheLoadsOnceResolved(t *testing.T) {
	mock := testutil.NewMockTwitchServer(t)
	mock.MockChannelEmotes(map[string]string{"1": "barHype", "2": "barLove"})
	api := &twitchapi.HelixClient{ClientID: "abc123", BaseURL: mock.HelixBaseURL(), HTTPClient: mock.Client()}
	cred := &credentials.Credential{ClientID: "abc123", OAuthToken: "tok", AccountID: credentials.UnresolvedAccountID}
	c := New(api, cred, time.Second, syncAsync)

	c.Tick(time.Second)
	if len(mock.Requests("")) != 0 {
		t.Fatal("fetched before identity resolved")
	}

	cred.AccountID = 42
	c.Tick(time.Second)
	c.Tick(time.Second)
	if !c.Loaded() {
		t.Fatal("cache not loaded")
	}
	reqs := mock.Requests("/helix/chat/emotes")
	if len(reqs) != 1 || reqs[0].Query != "broadcaster_id=42" {
		t.Fatalf("requests = %+v", reqs)
	}
	e, ok := c.Lookup("barHype")
	if !ok || e.ID != "1" {
		t.Fatalf("lookup = %+v, %v", e, ok)
	}
	if u := e.URL("static", "dark", "1.0"); !strings.Contains(u, "/1/static/dark/1.0") {
		t.Errorf("url = %q", u)
	}
	all := c.All()
	if len(all) != 2 || all[0].Name != "barHype" || all[1].Name != "barLove" {
		t.Errorf("all = %+v", all)
	}

	for i := 0; i < 5; i++ {
		c.Tick(time.Second)
	}
	if n := len(mock.Requests("/helix/chat/emotes")); n != 1 {
		t.Fatalf("refetched: %d", n)
	}

	// a different account reloads
	cred.AccountID = 43
	if c.Loaded() {
		t.Fatal("still loaded for a different account")
	}
	c.Tick(time.Second)
	if n := len(mock.Requests("/helix/chat/emotes")); n != 2 {
		t.Fatalf("requests = %d after account change", n)
	}
}

func TestCacheRetriesAfterFailure(t *testing.T) {
	mock := testutil.NewMockTwitchServer(t)
	mock.MockUnauthorized("/helix/chat/emotes")
	api := &twitchapi.HelixClient{ClientID: "abc123", BaseURL: mock.HelixBaseURL(), HTTPClient: mock.Client()}
	cred := &credentials.Credential{ClientID: "abc123", OAuthToken: "tok", AccountID: 42}
	c := New(api, cred, 2*time.Second, syncAsync)

	c.Tick(time.Second)
	c.Tick(time.Second)
	if c.Loaded() {
		t.Fatal("loaded after failure")
	}
	c.Tick(time.Second)
	if n := len(mock.Requests("")); n != 1 {
		t.Fatalf("retried early: %d", n)
	}
	c.Tick(time.Second)
	if n := len(mock.Requests("")); n != 2 {
		t.Fatalf("requests = %d", n)
	}
}
