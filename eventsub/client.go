package eventsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/onnwee/stream-bridge/config"
	"github.com/onnwee/stream-bridge/credentials"
	"github.com/onnwee/stream-bridge/events"
	"github.com/onnwee/stream-bridge/telemetry"
	"github.com/onnwee/stream-bridge/twitchapi"
	"github.com/onnwee/stream-bridge/wsconn"
)

const (
	DefaultURL            = "wss://eventsub.wss.twitch.tv/ws"
	DefaultReconnectDelay = 10 * time.Second
	DefaultKeepaliveGrace = 5 * time.Second

	feed = "eventsub"
)

// Registrar creates EventSub subscriptions. *twitchapi.HelixClient satisfies it.
type Registrar interface {
	CreateEventSubSubscription(ctx context.Context, token string, req twitchapi.SubscriptionRequest) (*twitchapi.CreatedSubscription, error)
}

type Options struct {
	URL            string
	ReconnectDelay time.Duration
	KeepaliveGrace time.Duration
	RequestTimeout time.Duration
	DebugPackets   bool
	// OnAuthFailure runs when a registration is rejected with 401.
	OnAuthFailure func()
	// Async runs registration requests; nil starts a goroutine per request.
	Async func(func())
}

type registrationResult struct {
	subType   string
	sessionID string
	err       error
}

// Client is driven from the integration tick and is not safe for concurrent use.
type Client struct {
	cred *credentials.Credential
	dial wsconn.Dialer
	api  Registrar
	pub  events.Publisher
	opts Options
	log  *slog.Logger

	sock        wsconn.Socket
	lastState   wsconn.State
	reconnectIn time.Duration

	// prev is the socket being replaced after session_reconnect. It keeps
	// delivering notifications until the new socket is welcomed.
	prev wsconn.Socket

	sessionID        string
	skipRegistration bool
	keepaliveWindow  time.Duration
	keepaliveIn      time.Duration

	results chan registrationResult
}

func New(cred *credentials.Credential, dialer wsconn.Dialer, api Registrar, pub events.Publisher, opts Options) *Client {
	if opts.URL == "" {
		opts.URL = DefaultURL
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.KeepaliveGrace <= 0 {
		opts.KeepaliveGrace = DefaultKeepaliveGrace
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	if opts.Async == nil {
		opts.Async = func(fn func()) { go fn() }
	}
	return &Client{
		cred:    cred,
		dial:    dialer,
		api:     api,
		pub:     pub,
		opts:    opts,
		log:     slog.Default().With(slog.String("component", "eventsub")),
		results: make(chan registrationResult, 4*len(subscriptionSpecs)),
	}
}

func (c *Client) State() wsconn.State {
	if c.sock == nil {
		return wsconn.Disconnected
	}
	return c.sock.State()
}

// SessionID returns the id from the last welcome, or "".
func (c *Client) SessionID() string { return c.sessionID }

// Connect dials the EventSub endpoint, replacing any existing socket.
func (c *Client) Connect() error {
	if c.cred.ClientID == "" {
		return fmt.Errorf("eventsub connect: %w", config.ErrInvalidClientID)
	}
	c.skipRegistration = false
	c.dialURL(c.opts.URL)
	return nil
}

func (c *Client) dialURL(url string) {
	c.closePrev()
	if c.sock != nil {
		c.sock.Close()
	}
	c.log.Info("connecting to eventsub", slog.String("url", url))
	c.sock = c.dial.Dial(url)
	c.lastState = wsconn.Connecting
	c.sessionID = ""
	c.keepaliveWindow = 0
}

// Tick drains registration results, dispatches frames, runs the keepalive
// watchdog and the reconnect timer.
func (c *Client) Tick(elapsed time.Duration) {
	c.drainRegistrations()
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
			c.log.Warn("eventsub socket closed, scheduling reconnect", slog.String("state", state.String()),
				slog.Duration("delay", c.opts.ReconnectDelay), slog.Any("err", err))
			c.closePrev()
			c.lastState = state
			c.reconnectIn = c.opts.ReconnectDelay
			c.sessionID = ""
			c.keepaliveWindow = 0
			c.drain()
			return
		}
		c.lastState = state
	}

	switch state {
	case wsconn.Open:
		c.drain()
		c.tickKeepalive(elapsed)
	case wsconn.Connecting, wsconn.Closing:
		c.drain()
	case wsconn.Disconnected, wsconn.Failed:
		c.drain()
		c.reconnectIn -= elapsed
		if c.reconnectIn <= 0 {
			telemetry.IncReconnect(feed)
			if err := c.Connect(); err != nil {
				c.log.Error("eventsub connect failed", slog.Any("err", err))
			}
			c.reconnectIn = c.opts.ReconnectDelay
		}
	}
}

// Stop closes the socket and forgets the session. Safe in any state.
func (c *Client) Stop() {
	c.closePrev()
	if c.sock != nil {
		c.sock.Close()
		c.sock = nil
	}
	c.lastState = wsconn.Disconnected
	c.reconnectIn = 0
	c.sessionID = ""
	c.skipRegistration = false
	c.keepaliveWindow = 0
}

func (c *Client) tickKeepalive(elapsed time.Duration) {
	if c.keepaliveWindow <= 0 {
		return
	}
	c.keepaliveIn -= elapsed
	if c.keepaliveIn <= 0 {
		c.log.Warn("eventsub keepalive missed, closing socket", slog.Duration("window", c.keepaliveWindow))
		c.keepaliveWindow = 0
		c.sock.Close()
	}
}

// drain handles frames from the replaced socket first, then the current one.
func (c *Client) drain() {
	if c.prev != nil {
		c.drainSocket(c.prev, true)
		if c.prev != nil && !c.prev.State().Active() {
			c.log.Info("previous eventsub socket closed before the new session was welcomed")
			c.prev = nil
		}
	}
	if c.sock != nil {
		c.drainSocket(c.sock, false)
	}
}

func (c *Client) drainSocket(sock wsconn.Socket, old bool) {
	for _, frame := range sock.Receive() {
		telemetry.IncFrame(feed)
		if c.opts.DebugPackets {
			c.log.Debug("eventsub <", slog.String("frame", frame), slog.Bool("previous", old))
		}
		env, err := DecodeEnvelope(frame)
		if err != nil {
			telemetry.IncMalformed(feed)
			c.log.Debug("dropping malformed eventsub frame", slog.Any("err", err))
			continue
		}
		if old && env.Metadata.MessageType != MessageNotification && env.Metadata.MessageType != MessageRevocation {
			continue
		}
		c.handle(env)
	}
}

func (c *Client) closePrev() {
	if c.prev != nil {
		c.prev.Close()
		c.prev = nil
	}
}

// migrate dials url for session_reconnect. The current socket becomes prev
// and is closed once the new socket is welcomed.
func (c *Client) migrate(url string) {
	c.closePrev()
	c.log.Info("connecting to eventsub", slog.String("url", url), slog.Bool("reconnect", true))
	c.prev = c.sock
	c.sock = c.dial.Dial(url)
	c.lastState = wsconn.Connecting
	c.skipRegistration = true
}

func (c *Client) handle(env *Envelope) {
	if c.keepaliveWindow > 0 {
		c.keepaliveIn = c.keepaliveWindow
	}
	switch env.Metadata.MessageType {
	case MessageWelcome:
		if env.Payload.Session == nil || env.Payload.Session.ID == "" {
			telemetry.IncMalformed(feed)
			c.log.Warn("session_welcome without session id")
			return
		}
		s := env.Payload.Session
		c.sessionID = s.ID
		if s.KeepaliveTimeoutSeconds > 0 {
			c.keepaliveWindow = time.Duration(s.KeepaliveTimeoutSeconds)*time.Second + c.opts.KeepaliveGrace
			c.keepaliveIn = c.keepaliveWindow
		}
		c.log.Info("eventsub session welcomed", slog.String("session_id", s.ID), slog.Int("keepalive_s", s.KeepaliveTimeoutSeconds))
		c.closePrev()
		if c.skipRegistration {
			c.skipRegistration = false
			return
		}
		if c.State() == wsconn.Open {
			c.register()
		}

	case MessageKeepalive:
		// watchdog already refreshed

	case MessageNotification:
		subType := env.SubscriptionType()
		ev, err := Translate(subType, env.Payload.Event)
		if err != nil {
			telemetry.IncMalformed(feed)
			c.log.Warn("failed to decode notification", slog.String("type", subType), slog.Any("err", err))
			return
		}
		if ev == nil {
			c.log.Debug("ignoring notification", slog.String("type", subType))
			return
		}
		c.pub.Publish(ev)

	case MessageReconnect:
		if env.Payload.Session == nil || env.Payload.Session.ReconnectURL == "" {
			c.log.Warn("session_reconnect without reconnect_url")
			return
		}
		c.log.Info("eventsub server requested reconnect")
		c.migrate(env.Payload.Session.ReconnectURL)

	case MessageRevocation:
		attrs := []any{slog.String("type", env.SubscriptionType())}
		if env.Payload.Subscription != nil {
			attrs = append(attrs, slog.String("status", env.Payload.Subscription.Status))
		}
		c.log.Warn("eventsub subscription revoked", attrs...)

	default:
		c.log.Debug("unknown eventsub message type", slog.String("type", env.Metadata.MessageType))
	}
}

// register issues one request per subscription type. Results come back
// through c.results and are handled on a later tick.
func (c *Client) register() {
	token := c.cred.OAuthToken
	sessionID := c.sessionID
	for _, req := range Requests(strconv.Itoa(c.cred.AccountID), sessionID) {
		c.opts.Async(func() {
			ctx, cancel := context.WithTimeout(context.Background(), c.opts.RequestTimeout)
			defer cancel()
			_, err := c.api.CreateEventSubSubscription(ctx, token, req)
			c.results <- registrationResult{subType: req.Type, sessionID: sessionID, err: err}
		})
	}
}

func (c *Client) drainRegistrations() {
	authFailed := false
	for {
		select {
		case r := <-c.results:
			switch {
			case r.err == nil:
				c.log.Debug("eventsub subscription registered", slog.String("type", r.subType))
			case errors.Is(r.err, twitchapi.ErrUnauthorized):
				authFailed = true
				c.log.Warn("eventsub registration unauthorized", slog.String("type", r.subType))
			default:
				telemetry.IncSubscriptionFailure(r.subType)
				c.log.Warn("eventsub registration failed", slog.String("type", r.subType),
					slog.String("session_id", r.sessionID), slog.Any("err", r.err))
			}
		default:
			if authFailed && c.opts.OnAuthFailure != nil {
				c.opts.OnAuthFailure()
			}
			return
		}
	}
}
