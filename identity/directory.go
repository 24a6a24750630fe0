package identity

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/stream-bridge/credentials"
	"github.com/onnwee/stream-bridge/twitchapi"
)

// maxBatch is the Helix limit for login parameters per request.
const maxBatch = 100

const (
	defaultLookupTimeout = 15 * time.Second
	// defaultMissTTL is how long a login Helix did not return is left alone.
	defaultMissTTL = 10 * time.Minute
	// missPruneAt bounds the miss table before expired entries are swept.
	missPruneAt = 1024
)

type batchResult struct {
	logins []string
	users  []twitchapi.User
	err    error
}

// UserDirectory caches profiles of users seen on the channel. Logins are
// queued with Request and fetched in batches from the tick, one batch in
// flight at a time. Lookup may be called from any goroutine.
type UserDirectory struct {
	api   UserFetcher
	cred  *credentials.Credential
	async func(func())
	log   *slog.Logger

	requestTimeout time.Duration
	missTTL        time.Duration
	now            func() time.Time

	queue    []string
	queued   map[string]bool
	misses   map[string]time.Time
	inflight chan batchResult

	mu    sync.RWMutex
	cache map[string]twitchapi.User
}

func NewUserDirectory(api UserFetcher, cred *credentials.Credential, async func(func())) *UserDirectory {
	if async == nil {
		async = func(fn func()) { go fn() }
	}
	return &UserDirectory{
		api:            api,
		cred:           cred,
		async:          async,
		log:            slog.Default().With(slog.String("component", "user_directory")),
		requestTimeout: defaultLookupTimeout,
		missTTL:        defaultMissTTL,
		now:            time.Now,
		queued:         make(map[string]bool),
		misses:         make(map[string]time.Time),
		cache:          make(map[string]twitchapi.User),
	}
}

// Request queues login for lookup unless it is cached, already queued or
// recently came back unknown.
func (d *UserDirectory) Request(login string) {
	login = strings.ToLower(strings.TrimSpace(login))
	if login == "" || d.queued[login] {
		return
	}
	if until, ok := d.misses[login]; ok {
		if d.now().Before(until) {
			return
		}
		delete(d.misses, login)
	}
	if _, ok := d.Lookup(login); ok {
		return
	}
	d.queued[login] = true
	d.queue = append(d.queue, login)
}

// Lookup returns a cached profile.
func (d *UserDirectory) Lookup(login string) (twitchapi.User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.cache[strings.ToLower(login)]
	return u, ok
}

// Len returns the number of cached users.
func (d *UserDirectory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.cache)
}

func (d *UserDirectory) Tick() {
	if d.inflight != nil {
		select {
		case res := <-d.inflight:
			d.inflight = nil
			d.complete(res)
		default:
			return
		}
	}
	if len(d.queue) == 0 || d.cred.OAuthToken == "" {
		return
	}
	n := min(len(d.queue), maxBatch)
	batch := append([]string(nil), d.queue[:n]...)
	d.queue = d.queue[n:]
	token := d.cred.OAuthToken

	ch := make(chan batchResult, 1)
	d.inflight = ch
	timeout := d.requestTimeout
	d.async(func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		users, err := d.api.GetUsers(ctx, token, batch...)
		ch <- batchResult{logins: batch, users: users, err: err}
	})
}

func (d *UserDirectory) complete(res batchResult) {
	for _, l := range res.logins {
		delete(d.queued, l)
	}
	if res.err != nil {
		d.log.Warn("user lookup failed", slog.Int("logins", len(res.logins)), slog.Any("err", res.err))
		return
	}
	found := make(map[string]bool, len(res.users))
	d.mu.Lock()
	for _, u := range res.users {
		l := strings.ToLower(u.Login)
		found[l] = true
		d.cache[l] = u
	}
	d.mu.Unlock()

	now := d.now()
	if len(d.misses) >= missPruneAt {
		for l, until := range d.misses {
			if !now.Before(until) {
				delete(d.misses, l)
			}
		}
	}
	for _, l := range res.logins {
		if !found[l] {
			d.misses[l] = now.Add(d.missTTL)
		}
	}
	d.log.Debug("user lookup complete", slog.Int("requested", len(res.logins)), slog.Int("found", len(res.users)))
}
