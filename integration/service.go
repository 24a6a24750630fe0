// Package integration is the single entry point a host uses: it owns the
// credential, the login flow, the identity resolver and both Twitch feeds,
// and advances them from one Tick call.
package integration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/onnwee/stream-bridge/chat"
	"github.com/onnwee/stream-bridge/config"
	"github.com/onnwee/stream-bridge/credentials"
	"github.com/onnwee/stream-bridge/emotes"
	"github.com/onnwee/stream-bridge/events"
	"github.com/onnwee/stream-bridge/eventsub"
	"github.com/onnwee/stream-bridge/identity"
	"github.com/onnwee/stream-bridge/oauth"
	"github.com/onnwee/stream-bridge/telemetry"
	"github.com/onnwee/stream-bridge/twitchapi"
	"github.com/onnwee/stream-bridge/wsconn"
)

var (
	ErrNotStarted   = errors.New("integration: not started")
	ErrCommandsFull = errors.New("integration: command queue full")
)

// TwitchAPI is the Helix surface the integration needs.
// *twitchapi.HelixClient satisfies it.
type TwitchAPI interface {
	identity.UserFetcher
	eventsub.Registrar
	emotes.Fetcher
	oauth.TokenChecker
}

type Options struct {
	Config *config.Config
	// Store persists the credential; nil disables persistence.
	Store credentials.KeyValueStore
	// API defaults to a HelixClient built from Config.
	API TwitchAPI
	// Dialer defaults to a gorilla websocket dialer.
	Dialer wsconn.Dialer
	// Browser defaults to the system browser, or a logging opener when
	// Config.OpenBrowser is false.
	Browser oauth.BrowserOpener
	// Async runs background requests; nil uses goroutines.
	Async func(func())
}

// Service is driven by Tick from a single goroutine. Status, SetPaused and
// the Queue* methods may be called from any goroutine.
type Service struct {
	cfg        *config.Config
	creds      *credentials.Manager
	dispatcher *events.Dispatcher
	flow       *oauth.Flow
	validator  *oauth.Validator
	resolver   *identity.Resolver
	users      *identity.UserDirectory
	chat       *chat.Client
	eventsub   *eventsub.Client
	emotes     *emotes.Cache
	log        *slog.Logger

	started   bool
	paused    atomic.Bool
	commands  chan func()
	published uint64
	lastKind  events.Kind
	lastAt    time.Time
	status    atomic.Pointer[Status]
}

// New wires every component; nothing touches the network until Start and Tick.
func New(opts Options) *Service {
	cfg := opts.Config
	if cfg == nil {
		cfg = &config.Config{}
	}
	api := opts.API
	if api == nil {
		api = &twitchapi.HelixClient{ClientID: cfg.TwitchClientID, BaseURL: cfg.HelixBaseURL}
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &wsconn.GorillaDialer{}
	}
	browser := opts.Browser
	if browser == nil {
		if cfg.OpenBrowser {
			browser = oauth.SystemBrowser{}
		} else {
			browser = oauth.LogOpener{}
		}
	}

	cred := &credentials.Credential{
		ClientID:     cfg.TwitchClientID,
		OAuthToken:   cfg.TwitchOAuthToken,
		AccountLogin: cfg.TwitchUsername,
		AccountID:    credentials.UnresolvedAccountID,
	}
	s := &Service{
		cfg:        cfg,
		creds:      credentials.NewManager(opts.Store, cred, cfg.AutoLoad, cfg.AutoSave),
		dispatcher: &events.Dispatcher{},
		log:        slog.Default().With(slog.String("component", "integration")),
		commands:   make(chan func(), 64),
	}

	s.flow = oauth.NewFlow(cred, oauth.Options{
		ListenAddr:  cfg.OAuthListenAddr,
		RedirectURI: cfg.OAuthRedirectURI,
		Browser:     browser,
		OnToken:     s.onToken,
	})
	s.validator = oauth.NewValidator(api, cred, oauth.ValidatorOptions{
		Interval:  cfg.TokenValidateInterval,
		Jitter:    cfg.TokenValidateInterval / 10,
		OnInvalid: s.startLogin,
		Busy:      s.flow.InProgress,
		Async:     opts.Async,
	})
	s.resolver = identity.NewResolver(api, s.creds, identity.Options{
		RetryDelay:     cfg.IdentityRetryDelay,
		OnUnauthorized: s.startLogin,
		Busy:           s.flow.InProgress,
		Async:          opts.Async,
	})
	s.users = identity.NewUserDirectory(api, cred, opts.Async)
	s.chat = chat.New(cred, dialer, s.dispatcher, chat.Options{
		URL:            cfg.ChatURL,
		ReconnectDelay: cfg.ChatReconnectDelay,
		DebugPackets:   cfg.DebugPackets,
		OnAuthFailure:  s.startLogin,
	})
	s.eventsub = eventsub.New(cred, dialer, api, s.dispatcher, eventsub.Options{
		URL:            cfg.EventSubURL,
		ReconnectDelay: cfg.EventSubReconnectDelay,
		DebugPackets:   cfg.DebugPackets,
		OnAuthFailure:  s.startLogin,
		Async:          opts.Async,
	})
	s.emotes = emotes.New(api, cred, cfg.IdentityRetryDelay, opts.Async)

	s.dispatcher.OnPublish(s.observe)
	s.publishStatus()
	return s
}

// Start loads persisted credentials and checks the configuration. A bad
// client id is the only fatal error.
func (s *Service) Start(ctx context.Context) error {
	if err := s.creds.Load(ctx); err != nil {
		s.log.Warn("could not load saved credentials", slog.Any("err", err))
	}
	if err := s.cfg.ValidateClientID(); err != nil {
		return fmt.Errorf("integration start: %w", err)
	}
	s.started = true
	telemetry.SetIdentityResolved(s.creds.Credential().Resolved())
	s.log.Info("integration started", slog.String("login", s.creds.Credential().AccountLogin))
	s.publishStatus()
	return nil
}

// Stop closes the login flow and both sockets. Safe in any state.
func (s *Service) Stop() {
	s.flow.Stop()
	s.chat.Stop()
	s.eventsub.Stop()
	s.started = false
	s.publishStatus()
}

// SetPaused suspends ticking without dropping connections.
func (s *Service) SetPaused(p bool) {
	s.paused.Store(p)
}

// Subscribe registers a listener. Call before ticking starts or from the tick goroutine.
func (s *Service) Subscribe(l events.Listener) {
	s.dispatcher.Subscribe(l)
}

// Tick advances identity, chat, eventsub and the login flow in that order,
// then the token validator, emote cache and user directory.
func (s *Service) Tick(elapsed time.Duration) {
	if !s.started {
		return
	}
	s.runCommands()
	if s.paused.Load() {
		s.publishStatus()
		return
	}
	s.resolver.Tick(elapsed)
	s.chat.Tick(elapsed)
	s.eventsub.Tick(elapsed)
	s.flow.Poll()
	s.validator.Tick(elapsed)
	s.emotes.Tick(elapsed)
	s.users.Tick()
	s.publishStatus()
}

// SendChatMessage sends text to the account's channel. Tick goroutine only.
func (s *Service) SendChatMessage(text string) error {
	if !s.started {
		return ErrNotStarted
	}
	return s.chat.SendMessage(text)
}

// QueueChatMessage schedules SendChatMessage on the next tick.
func (s *Service) QueueChatMessage(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("integration: empty message")
	}
	return s.enqueue(func() {
		if err := s.SendChatMessage(text); err != nil {
			s.log.Warn("queued chat message not sent", slog.Any("err", err))
		}
	})
}

// QueueLogin starts the login flow on the next tick unless one is running.
func (s *Service) QueueLogin() error {
	return s.enqueue(s.startLogin)
}

// QueueUserLookup asks the user directory to fetch login on the next tick.
func (s *Service) QueueUserLookup(login string) error {
	return s.enqueue(func() { s.users.Request(login) })
}

// Status returns the snapshot published at the end of the last tick.
func (s *Service) Status() Status {
	return *s.status.Load()
}

// Emotes exposes the channel emote cache.
func (s *Service) Emotes() *emotes.Cache { return s.emotes }

// Users exposes the directory of users seen on the channel.
func (s *Service) Users() *identity.UserDirectory { return s.users }

func (s *Service) enqueue(fn func()) error {
	select {
	case s.commands <- fn:
		return nil
	default:
		return ErrCommandsFull
	}
}

func (s *Service) runCommands() {
	for {
		select {
		case fn := <-s.commands:
			fn()
		default:
			return
		}
	}
}

func (s *Service) startLogin() {
	if s.flow.InProgress() {
		return
	}
	if err := s.flow.Start(); err != nil {
		s.log.Error("could not start login flow", slog.Any("err", err))
	}
}

// onToken stores a new token. The token may belong to another account, so
// the identity is resolved again and both sockets reconnect once it is.
func (s *Service) onToken(token string) {
	if err := s.creds.SetToken(context.Background(), token); err != nil {
		s.log.Warn("new token not persisted", slog.Any("err", err))
	}
	if s.creds.Credential().Resolved() {
		s.creds.ResetIdentity()
		telemetry.SetIdentityResolved(false)
		s.chat.Stop()
		s.eventsub.Stop()
	}
}

func (s *Service) observe(ev events.Event) {
	telemetry.IncEvent(string(ev.Kind()))
	s.published++
	s.lastKind = ev.Kind()
	s.lastAt = ev.Metadata().ReceivedAt
	switch e := ev.(type) {
	case events.Raid:
		s.users.Request(e.UserLogin)
	case events.ChatMessage:
		s.users.Request(e.UserLogin)
	}
}

func (s *Service) publishStatus() {
	cred := s.creds.Snapshot()
	st := &Status{
		Started:          s.started,
		Paused:           s.paused.Load(),
		AccountID:        cred.AccountID,
		AccountLogin:     cred.AccountLogin,
		IdentityResolved: cred.AccountID != credentials.UnresolvedAccountID,
		Chat:             s.chat.State().String(),
		EventSub:         s.eventsub.State().String(),
		EventSubSession:  s.eventsub.SessionID(),
		OAuthInProgress:  s.flow.InProgress(),
		EmotesLoaded:     s.emotes.Loaded(),
		EmoteCount:       s.emotes.Len(),
		KnownUsers:       s.users.Len(),
		EventsPublished:  s.published,
		LastEventKind:    string(s.lastKind),
		LastEventAt:      s.lastAt,
		UpdatedAt:        time.Now().UTC(),
	}
	s.status.Store(st)
}
