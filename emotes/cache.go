// Package emotes caches the channel's custom emotes once the account id is known.
package emotes

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/onnwee/stream-bridge/credentials"
	"github.com/onnwee/stream-bridge/twitchapi"
)

// Fetcher returns a broadcaster's emotes. *twitchapi.HelixClient satisfies it.
type Fetcher interface {
	GetChannelEmotes(ctx context.Context, token, broadcasterID string) ([]twitchapi.Emote, error)
}

type fetchResult struct {
	accountID int
	emotes    []twitchapi.Emote
	err       error
}

// Cache loads emotes from the tick and serves lookups from any goroutine.
type Cache struct {
	api        Fetcher
	cred       *credentials.Credential
	retryDelay time.Duration
	async      func(func())
	log        *slog.Logger

	retryIn  time.Duration
	pending  chan fetchResult
	loadedID int

	mu     sync.RWMutex
	byName map[string]twitchapi.Emote
}

func New(api Fetcher, cred *credentials.Credential, retryDelay time.Duration, async func(func())) *Cache {
	if retryDelay <= 0 {
		retryDelay = 5 * time.Second
	}
	if async == nil {
		async = func(fn func()) { go fn() }
	}
	return &Cache{
		api:        api,
		cred:       cred,
		retryDelay: retryDelay,
		async:      async,
		log:        slog.Default().With(slog.String("component", "emotes")),
		loadedID:   credentials.UnresolvedAccountID,
		byName:     map[string]twitchapi.Emote{},
	}
}

// Loaded reports whether emotes for the current account are cached.
func (c *Cache) Loaded() bool {
	return c.cred.Resolved() && c.loadedID == c.cred.AccountID
}

// Tick fetches once per resolved account, retrying failures after the delay.
func (c *Cache) Tick(elapsed time.Duration) {
	if c.pending != nil {
		select {
		case r := <-c.pending:
			c.pending = nil
			c.complete(r)
		default:
		}
		return
	}
	if !c.cred.Resolved() || c.cred.OAuthToken == "" || c.Loaded() {
		return
	}
	c.retryIn -= elapsed
	if c.retryIn > 0 {
		return
	}
	c.retryIn = c.retryDelay

	id := c.cred.AccountID
	token := c.cred.OAuthToken
	ch := make(chan fetchResult, 1)
	c.pending = ch
	c.async(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		list, err := c.api.GetChannelEmotes(ctx, token, strconv.Itoa(id))
		ch <- fetchResult{accountID: id, emotes: list, err: err}
	})
}

func (c *Cache) complete(r fetchResult) {
	if r.err != nil {
		level := slog.LevelWarn
		if errors.Is(r.err, twitchapi.ErrUnauthorized) {
			level = slog.LevelInfo
		}
		c.log.Log(context.Background(), level, "channel emote fetch failed", slog.Any("err", r.err))
		return
	}
	m := make(map[string]twitchapi.Emote, len(r.emotes))
	for _, e := range r.emotes {
		m[e.Name] = e
	}
	c.mu.Lock()
	c.byName = m
	c.mu.Unlock()
	c.loadedID = r.accountID
	c.log.Info("channel emotes loaded", slog.Int("count", len(m)))
}

// Lookup returns the emote with the exact name.
func (c *Cache) Lookup(name string) (twitchapi.Emote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.byName[name]
	return e, ok
}

// All returns the cached emotes sorted by name.
func (c *Cache) All() []twitchapi.Emote {
	c.mu.RLock()
	out := make([]twitchapi.Emote, 0, len(c.byName))
	for _, e := range c.byName {
		out = append(out, e)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of cached emotes.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byName)
}
