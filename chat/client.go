// Package chat implements the Twitch chat client: IRC over a websocket, driven
// by the integration tick. It answers PINGs, and turns raids and messages to
// the account's own channel into normalized events.
package chat

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/stream-bridge/config"
	"github.com/onnwee/stream-bridge/credentials"
	"github.com/onnwee/stream-bridge/events"
	"github.com/onnwee/stream-bridge/irc"
	"github.com/onnwee/stream-bridge/telemetry"
	"github.com/onnwee/stream-bridge/wsconn"
)

const (
	DefaultURL            = "wss://irc-ws.chat.twitch.tv:443"
	DefaultReconnectDelay = 20 * time.Second

	capabilities = "twitch.tv/membership twitch.tv/tags twitch.tv/commands"
	feed         = "chat"
)

// ErrNoLogin is returned when sending before the account login is known.
var ErrNoLogin = errors.New("chat: account login unknown")

// Options tune a Client. Zero values use the defaults.
type Options struct {
	URL            string
	ReconnectDelay time.Duration
	DebugPackets   bool
	// OnAuthFailure runs when the server rejects the token.
	OnAuthFailure func()
}

// Client is not safe for concurrent use; call it from the tick goroutine.
type Client struct {
	cred   *credentials.Credential
	dialer wsconn.Dialer
	pub    events.Publisher
	opts   Options
	log    *slog.Logger

	sock             wsconn.Socket
	lastState        wsconn.State
	handshakePending bool
	reconnectIn      time.Duration
}

// New creates a disconnected client. The first Tick with a resolved identity connects.
func New(cred *credentials.Credential, dialer wsconn.Dialer, pub events.Publisher, opts Options) *Client {
	if opts.URL == "" {
		opts.URL = DefaultURL
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	return &Client{
		cred:   cred,
		dialer: dialer,
		pub:    pub,
		opts:   opts,
		log:    slog.Default().With(slog.String("component", "chat")),
	}
}

// State returns the socket state; Disconnected when no socket exists.
func (c *Client) State() wsconn.State {
	if c.sock == nil {
		return wsconn.Disconnected
	}
	return c.sock.State()
}

// Connect starts a new connection attempt, replacing any existing socket.
// The handshake is sent on the first tick that sees the socket open.
func (c *Client) Connect() error {
	if c.cred.ClientID == "" {
		return fmt.Errorf("chat connect: %w", config.ErrInvalidClientID)
	}
	if c.sock != nil {
		c.sock.Close()
	}
	c.log.Info("connecting to chat", slog.String("url", c.opts.URL))
	c.sock = c.dialer.Dial(c.opts.URL)
	c.lastState = wsconn.Connecting
	c.handshakePending = true
	return nil
}

// Tick polls the socket, dispatches complete lines and runs the reconnect timer.
// Nothing happens until the account id is resolved.
func (c *Client) Tick(elapsed time.Duration) {
	if !c.cred.Resolved() {
		return
	}
	state := c.State()
	if state != c.lastState {
		telemetry.SetConnectionState(feed, int(state))
		if c.lastState.Active() && !state.Active() {
			var err error
			if c.sock != nil {
				err = c.sock.Err()
			}
			c.log.Warn("chat socket closed, scheduling reconnect", slog.String("state", state.String()),
				slog.Duration("delay", c.opts.ReconnectDelay), slog.Any("err", err))
			c.lastState = state
			c.reconnectIn = c.opts.ReconnectDelay
			c.drain()
			return
		}
		c.lastState = state
	}

	switch state {
	case wsconn.Open:
		if c.handshakePending {
			c.sendHandshake()
		}
		c.drain()
	case wsconn.Closing:
		c.drain()
	case wsconn.Disconnected, wsconn.Failed:
		c.drain()
		c.reconnectIn -= elapsed
		if c.reconnectIn <= 0 {
			telemetry.IncReconnect(feed)
			if err := c.Connect(); err != nil {
				c.log.Error("chat connect failed", slog.Any("err", err))
			}
			c.reconnectIn = c.opts.ReconnectDelay
		}
	}
}

// Stop closes the socket. Safe in any state.
func (c *Client) Stop() {
	if c.sock != nil {
		c.sock.Close()
		c.sock = nil
	}
	c.handshakePending = false
	c.lastState = wsconn.Disconnected
	c.reconnectIn = 0
}

// SendRaw sends one protocol line.
func (c *Client) SendRaw(line string) error {
	if c.sock == nil {
		return wsconn.ErrNotOpen
	}
	if c.opts.DebugPackets {
		c.log.Debug("chat >", slog.String("line", maskPass(line)))
	}
	return c.sock.Send(line)
}

// SendMessage sends text to the account's own channel.
func (c *Client) SendMessage(text string) error {
	login := strings.ToLower(c.cred.AccountLogin)
	if login == "" {
		return ErrNoLogin
	}
	return c.SendRaw("PRIVMSG #" + login + " :" + text)
}

func (c *Client) sendHandshake() {
	login := strings.ToLower(c.cred.AccountLogin)
	lines := []string{
		irc.FormatLine("CAP", "REQ", capabilities),
		irc.FormatLine("PASS", "oauth:"+c.cred.OAuthToken),
		irc.FormatLine("NICK", login),
		irc.FormatLine("JOIN", "#"+login),
	}
	for _, l := range lines {
		if err := c.SendRaw(l); err != nil {
			c.log.Warn("chat handshake send failed", slog.Any("err", err))
			return
		}
	}
	c.handshakePending = false
	c.log.Info("chat handshake sent", slog.String("channel", "#"+login))
}

func (c *Client) drain() {
	if c.sock == nil {
		return
	}
	for _, frame := range c.sock.Receive() {
		telemetry.IncFrame(feed)
		for _, line := range irc.SplitLines(frame) {
			c.handleLine(line)
		}
	}
}

func (c *Client) handleLine(line string) {
	if c.opts.DebugPackets {
		c.log.Debug("chat <", slog.String("line", line))
	}
	msg, err := irc.Parse(line)
	if err != nil {
		telemetry.IncMalformed(feed)
		c.log.Debug("dropping malformed chat line", slog.String("line", line), slog.Any("err", err))
		return
	}
	switch strings.ToUpper(msg.Command) {
	case "PING":
		if err := c.SendRaw("PONG :" + msg.Param(0)); err != nil {
			c.log.Warn("failed to answer PING", slog.Any("err", err))
		}
	case "RECONNECT":
		c.log.Info("chat server requested reconnect")
		if c.sock != nil {
			c.sock.Close()
		}
	case "NOTICE":
		text := msg.Param(1)
		if strings.Contains(text, "authentication failed") || strings.Contains(text, "Improperly formatted auth") {
			c.log.Warn("chat login rejected", slog.String("notice", text))
			if c.opts.OnAuthFailure != nil {
				c.opts.OnAuthFailure()
			}
		}
	case "USERNOTICE":
		if msg.Tags.Get("msg-id") == "raid" {
			c.pub.Publish(raidEvent(msg))
		}
	case "PRIVMSG":
		if msg.Param(0) == "#"+strings.ToLower(c.cred.AccountLogin) {
			c.pub.Publish(chatMessageEvent(msg))
		}
	}
}

func raidEvent(msg *irc.Message) events.Raid {
	viewers, _ := strconv.Atoi(msg.Tags.Get("msg-param-viewerCount"))
	return events.Raid{
		Meta:      events.NewMeta(events.SourceChat),
		UserLogin: msg.Tags.Get("msg-param-login"),
		UserName:  msg.Tags.Get("msg-param-displayName"),
		Viewers:   viewers,
	}
}

func chatMessageEvent(msg *irc.Message) events.ChatMessage {
	bits, _ := strconv.Atoi(msg.Tags.Get("bits"))
	name := msg.Tags.Get("display-name")
	if name == "" {
		name = msg.Nick
	}
	badges := msg.Tags.Get("badges")
	return events.ChatMessage{
		Meta:        events.NewMeta(events.SourceChat),
		UserLogin:   msg.Nick,
		UserName:    name,
		Text:        msg.Param(1),
		Bits:        bits,
		Badges:      ParseBadges(badges),
		Decorations: append(emoteDecorations(msg.Raw), badgeDecorations(badges)...),
	}
}

// ParseBadges derives the badge bitmask by substring test of the badges tag.
func ParseBadges(tag string) events.Badges {
	var b events.Badges
	if strings.Contains(tag, "broadcaster") {
		b |= events.BadgeBroadcaster
	}
	if strings.Contains(tag, "moderator") {
		b |= events.BadgeModerator
	}
	if strings.Contains(tag, "subscriber") {
		b |= events.BadgeSubscriber
	}
	if strings.Contains(tag, "vip") {
		b |= events.BadgeVIP
	}
	return b
}

// emoteDecorations reads emote positions with go-twitch-irc's PRIVMSG parser.
func emoteDecorations(raw string) []events.Decoration {
	pm, ok := twitch.ParseMessage(raw).(*twitch.PrivateMessage)
	if !ok {
		return nil
	}
	var out []events.Decoration
	for _, e := range pm.Emotes {
		for _, p := range e.Positions {
			out = append(out, events.Decoration{
				Type:  events.DecorationEmote,
				Begin: p.Start,
				End:   p.End,
				ID:    e.ID,
				Text:  e.Name,
			})
		}
	}
	return out
}

func badgeDecorations(tag string) []events.Decoration {
	if tag == "" {
		return nil
	}
	var out []events.Decoration
	for _, b := range strings.Split(tag, ",") {
		set, version, _ := strings.Cut(b, "/")
		if set == "" {
			continue
		}
		out = append(out, events.Decoration{Type: events.DecorationBadge, SetID: set, ID: version})
	}
	return out
}

func maskPass(line string) string {
	if strings.HasPrefix(line, "PASS ") {
		return "PASS oauth:***"
	}
	return line
}
