package chat

import (
	"errors"
	"testing"
	"time"

	"github.com/onnwee/stream-bridge/config"
	"github.com/onnwee/stream-bridge/credentials"
	"github.com/onnwee/stream-bridge/events"
	"github.com/onnwee/stream-bridge/testutil"
	"github.com/onnwee/stream-bridge/wsconn"
)

type recorder struct{ got []events.Event }

func (r *recorder) Publish(ev events.Event) { r.got = append(r.got, ev) }

func newTestClient(t *testing.T) (*Client, *testutil.FakeDialer, *recorder, *credentials.Credential) {
	t.Helper()
	cred := &credentials.Credential{ClientID: "abc123", OAuthToken: "tok", AccountLogin: "bar", AccountID: 42}
	d := &testutil.FakeDialer{}
	rec := &recorder{}
	return New(cred, d, rec, Options{}), d, rec, cred
}

// openClient ticks until the first socket is open and the handshake is sent.
func openClient(t *testing.T, c *Client, d *testutil.FakeDialer) *testutil.FakeSocket {
	t.Helper()
	c.Tick(time.Millisecond)
	sock := d.Last()
	if sock == nil {
		t.Fatal("expected a dial on first tick")
	}
	sock.SetState(wsconn.Open)
	c.Tick(time.Millisecond)
	return sock
}

func TestHandshakeOrder(t *testing.T) {
	c, d, _, _ := newTestClient(t)
	sock := openClient(t, c, d)
	if sock.URL != DefaultURL {
		t.Errorf("dialed %q", sock.URL)
	}
	want := []string{
		"CAP REQ :twitch.tv/membership twitch.tv/tags twitch.tv/commands",
		"PASS oauth:tok",
		"NICK bar",
		"JOIN #bar",
	}
	sent := sock.Sent()
	if len(sent) != len(want) {
		t.Fatalf("sent %d lines: %q", len(sent), sent)
	}
	for i := range want {
		if sent[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, sent[i], want[i])
		}
	}
	// handshake is sent once
	c.Tick(time.Millisecond)
	if n := len(sock.Sent()); n != len(want) {
		t.Errorf("handshake resent, %d lines", n)
	}
}

func TestNoConnectWhileUnresolved(t *testing.T) {
	c, d, _, cred := newTestClient(t)
	cred.AccountID = credentials.UnresolvedAccountID
	for i := 0; i < 100; i++ {
		c.Tick(time.Second)
	}
	if d.Dials() != 0 {
		t.Fatalf("dialed %d times with unresolved identity", d.Dials())
	}
}

func TestConnectRequiresClientID(t *testing.T) {
	c, d, _, cred := newTestClient(t)
	cred.ClientID = ""
	if err := c.Connect(); !errors.Is(err, config.ErrInvalidClientID) {
		t.Fatalf("Connect err = %v", err)
	}
	if d.Dials() != 0 {
		t.Fatal("dialed without a client id")
	}
}

func TestPingPong(t *testing.T) {
	c, d, _, _ := newTestClient(t)
	sock := openClient(t, c, d)
	sock.Push("PING :tmi.twitch.tv\r\n")
	c.Tick(time.Millisecond)
	sent := sock.Sent()
	if last := sent[len(sent)-1]; last != "PONG :tmi.twitch.tv" {
		t.Fatalf("last sent = %q", last)
	}
}

func TestRaidAndMessages(t *testing.T) {
	c, d, rec, _ := newTestClient(t)
	sock := openClient(t, c, d)
	sock.Push(
		"@msg-id=raid;msg-param-login=foo;msg-param-displayName=Foo;msg-param-viewerCount=17 :tmi.twitch.tv USERNOTICE #bar\r\n"+
			"@badges=moderator/1,subscriber/12;bits=100;display-name=Viewer;emotes=25:0-4 :viewer!viewer@viewer.tmi.twitch.tv PRIVMSG #bar :Kappa hi\r\n",
		"@display-name=Other :other!other@other.tmi.twitch.tv PRIVMSG #elsewhere :not ours\r\n",
		"@msg-id=sub :tmi.twitch.tv USERNOTICE #bar\r\n",
	)
	c.Tick(time.Millisecond)

	if len(rec.got) != 2 {
		t.Fatalf("published %d events: %+v", len(rec.got), rec.got)
	}
	raid, ok := rec.got[0].(events.Raid)
	if !ok {
		t.Fatalf("first event %T", rec.got[0])
	}
	if raid.UserLogin != "foo" || raid.UserName != "Foo" || raid.Viewers != 17 {
		t.Errorf("raid = %+v", raid)
	}
	if raid.Source != events.SourceChat {
		t.Errorf("source = %q", raid.Source)
	}

	msg, ok := rec.got[1].(events.ChatMessage)
	if !ok {
		t.Fatalf("second event %T", rec.got[1])
	}
	if msg.UserLogin != "viewer" || msg.UserName != "Viewer" || msg.Text != "Kappa hi" || msg.Bits != 100 {
		t.Errorf("message = %+v", msg)
	}
	if !msg.Badges.Has(events.BadgeModerator|events.BadgeSubscriber) || msg.Badges.Has(events.BadgeVIP) {
		t.Errorf("badges = %b", msg.Badges)
	}
	var emote *events.Decoration
	badges := 0
	for i := range msg.Decorations {
		switch msg.Decorations[i].Type {
		case events.DecorationEmote:
			emote = &msg.Decorations[i]
		case events.DecorationBadge:
			badges++
		}
	}
	if emote == nil || emote.ID != "25" || emote.Begin != 0 || emote.End != 4 {
		t.Errorf("emote decoration = %+v", emote)
	}
	if badges != 2 {
		t.Errorf("badge decorations = %d, want 2", badges)
	}
}

func TestRaidViewerCountDefaultsToZero(t *testing.T) {
	c, d, rec, _ := newTestClient(t)
	sock := openClient(t, c, d)
	sock.Push("@msg-id=raid;msg-param-login=foo;msg-param-viewerCount=lots :tmi.twitch.tv USERNOTICE #bar\r\n")
	c.Tick(time.Millisecond)
	if len(rec.got) != 1 || rec.got[0].(events.Raid).Viewers != 0 {
		t.Fatalf("got %+v", rec.got)
	}
}

func TestMalformedLinesDropped(t *testing.T) {
	c, d, rec, _ := newTestClient(t)
	sock := openClient(t, c, d)
	sock.Push("@badtags\r\n:only.prefix\r\n")
	c.Tick(time.Millisecond)
	if len(rec.got) != 0 {
		t.Fatalf("published %d events from malformed input", len(rec.got))
	}
	if sock.State() != wsconn.Open {
		t.Fatal("socket should stay open")
	}
}

func TestSendMessage(t *testing.T) {
	c, d, _, _ := newTestClient(t)
	sock := openClient(t, c, d)
	if err := c.SendMessage("gg"); err != nil {
		t.Fatal(err)
	}
	sent := sock.Sent()
	if last := sent[len(sent)-1]; last != "PRIVMSG #bar :gg" {
		t.Fatalf("sent %q", last)
	}
}

func TestSendWithoutSocket(t *testing.T) {
	c, _, _, _ := newTestClient(t)
	if err := c.SendMessage("gg"); !errors.Is(err, wsconn.ErrNotOpen) {
		t.Fatalf("err = %v", err)
	}
}

func TestReconnectServerRequest(t *testing.T) {
	c, d, _, _ := newTestClient(t)
	sock := openClient(t, c, d)
	sock.Push(":tmi.twitch.tv RECONNECT\r\n")
	c.Tick(time.Millisecond)
	if sock.Closed() != 1 {
		t.Fatalf("socket closed %d times", sock.Closed())
	}
}

func TestReconnectTiming(t *testing.T) {
	c, d, _, _ := newTestClient(t)
	sock := openClient(t, c, d)

	sock.SetState(wsconn.Disconnected)
	c.Tick(time.Second) // observes the close

	for i := 0; i < 19; i++ {
		c.Tick(time.Second)
		if d.Dials() != 1 {
			t.Fatalf("reconnected after %ds", i+1)
		}
	}
	c.Tick(time.Second)
	if d.Dials() != 2 {
		t.Fatalf("dials = %d after full delay, want 2", d.Dials())
	}

	// the new attempt fails while connecting; one more delay before the next
	d.Last().SetState(wsconn.Failed)
	c.Tick(time.Second)
	for i := 0; i < 19; i++ {
		c.Tick(time.Second)
	}
	if d.Dials() != 2 {
		t.Fatalf("dials = %d before second delay elapsed", d.Dials())
	}
	c.Tick(time.Second)
	if d.Dials() != 3 {
		t.Fatalf("dials = %d, want 3", d.Dials())
	}
}

func TestAuthFailureNotice(t *testing.T) {
	cred := &credentials.Credential{ClientID: "abc123", OAuthToken: "tok", AccountLogin: "bar", AccountID: 42}
	d := &testutil.FakeDialer{}
	fired := 0
	c := New(cred, d, &recorder{}, Options{OnAuthFailure: func() { fired++ }})
	sock := openClient(t, c, d)
	sock.Push(":tmi.twitch.tv NOTICE * :Login authentication failed\r\n")
	c.Tick(time.Millisecond)
	if fired != 1 {
		t.Fatalf("OnAuthFailure fired %d times", fired)
	}
}

func TestStopIsSafe(t *testing.T) {
	c, d, _, _ := newTestClient(t)
	c.Stop()
	sock := openClient(t, c, d)
	c.Stop()
	c.Stop()
	if sock.Closed() != 1 {
		t.Fatalf("closed %d times", sock.Closed())
	}
	if c.State() != wsconn.Disconnected {
		t.Fatalf("state = %v", c.State())
	}
}

func TestParseBadges(t *testing.T) {
	tests := []struct {
		tag  string
		want events.Badges
	}{
		{"", 0},
		{"broadcaster/1", events.BadgeBroadcaster},
		{"vip/1,subscriber/3", events.BadgeVIP | events.BadgeSubscriber},
		{"moderator/1,glitchcon2020/1", events.BadgeModerator},
	}
	for _, tt := range tests {
		if got := ParseBadges(tt.tag); got != tt.want {
			t.Errorf("ParseBadges(%q) = %b, want %b", tt.tag, got, tt.want)
		}
	}
}
