// Package identity resolves the numeric Twitch account id for the configured
// token and keeps a small directory of other users seen on the channel.
package identity

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/onnwee/stream-bridge/credentials"
	"github.com/onnwee/stream-bridge/telemetry"
	"github.com/onnwee/stream-bridge/twitchapi"
)

const DefaultRetryDelay = 5 * time.Second

// UserFetcher looks up users; with no logins it returns the token's owner.
// *twitchapi.HelixClient satisfies it.
type UserFetcher interface {
	GetUsers(ctx context.Context, token string, logins ...string) ([]twitchapi.User, error)
}

type Options struct {
	RetryDelay     time.Duration
	RequestTimeout time.Duration
	// OnUnauthorized runs when the token is missing or rejected.
	OnUnauthorized func()
	// Busy suppresses fetches while a login flow is running.
	Busy  func() bool
	Async func(func())
}

type fetchResult struct {
	users []twitchapi.User
	err   error
}

// Resolver fetches the account id once per unresolved period, with at most
// one request in flight.
type Resolver struct {
	api   UserFetcher
	creds *credentials.Manager
	opts  Options
	log   *slog.Logger

	retryIn time.Duration
	pending chan fetchResult
}

func NewResolver(api UserFetcher, creds *credentials.Manager, opts Options) *Resolver {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	if opts.Async == nil {
		opts.Async = func(fn func()) { go fn() }
	}
	return &Resolver{api: api, creds: creds, opts: opts, log: slog.Default().With(slog.String("component", "identity"))}
}

// Pending reports whether a fetch is in flight.
func (r *Resolver) Pending() bool { return r.pending != nil }

func (r *Resolver) Tick(elapsed time.Duration) {
	if r.pending != nil {
		select {
		case res := <-r.pending:
			r.pending = nil
			r.complete(res)
		default:
		}
		return
	}
	cred := r.creds.Credential()
	if cred.Resolved() {
		return
	}
	if r.opts.Busy != nil && r.opts.Busy() {
		return
	}
	r.retryIn -= elapsed
	if r.retryIn > 0 {
		return
	}
	r.retryIn = r.opts.RetryDelay

	if cred.OAuthToken == "" {
		r.log.Info("no oauth token, starting login")
		r.unauthorized()
		return
	}
	token := cred.OAuthToken
	ch := make(chan fetchResult, 1)
	r.pending = ch
	r.opts.Async(func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.opts.RequestTimeout)
		defer cancel()
		users, err := r.api.GetUsers(ctx, token)
		ch <- fetchResult{users: users, err: err}
	})
}

func (r *Resolver) complete(res fetchResult) {
	switch {
	case errors.Is(res.err, twitchapi.ErrUnauthorized):
		r.log.Warn("token rejected while resolving identity")
		r.unauthorized()
		return
	case res.err != nil:
		r.log.Warn("identity lookup failed, will retry", slog.Duration("retry_in", r.retryIn), slog.Any("err", res.err))
		return
	case len(res.users) == 0:
		r.log.Warn("identity lookup returned no user, will retry", slog.Duration("retry_in", r.retryIn))
		return
	}

	u := res.users[0]
	id, err := strconv.Atoi(u.ID)
	if err != nil {
		r.log.Warn("identity lookup returned a non-numeric id", slog.String("id", u.ID))
		return
	}
	// persistence failures are logged by the manager and do not undo the resolution
	_ = r.creds.SetIdentity(context.Background(), id, u.Login)
	telemetry.SetIdentityResolved(true)
	r.log.Info("identity resolved", slog.Int("account_id", id), slog.String("login", u.Login))
}

func (r *Resolver) unauthorized() {
	if r.opts.OnUnauthorized != nil {
		r.opts.OnUnauthorized()
	}
}
