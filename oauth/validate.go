package oauth

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/onnwee/stream-bridge/credentials"
	"github.com/onnwee/stream-bridge/twitchapi"
)

// DefaultValidateInterval matches Twitch's requirement to validate hourly.
const DefaultValidateInterval = time.Hour

// TokenChecker validates access tokens. *twitchapi.HelixClient satisfies it.
type TokenChecker interface {
	ValidateToken(ctx context.Context, token string) (*twitchapi.TokenInfo, error)
}

type ValidatorOptions struct {
	Interval time.Duration
	// Jitter spreads checks by up to +/- this amount.
	Jitter time.Duration
	// OnInvalid runs when Twitch rejects the token.
	OnInvalid func()
	// Busy suppresses checks, e.g. while a login flow is running.
	Busy  func() bool
	Async func(func())
}

type validation struct {
	info *twitchapi.TokenInfo
	err  error
}

// Validator checks the live token on a tick-driven countdown. The first check
// runs on the first tick that has a token.
type Validator struct {
	api  TokenChecker
	cred *credentials.Credential
	opts ValidatorOptions
	log  *slog.Logger

	nextIn  time.Duration
	pending chan validation
	last    *twitchapi.TokenInfo
}

func NewValidator(api TokenChecker, cred *credentials.Credential, opts ValidatorOptions) *Validator {
	if opts.Interval <= 0 {
		opts.Interval = DefaultValidateInterval
	}
	if opts.Async == nil {
		opts.Async = func(fn func()) { go fn() }
	}
	return &Validator{api: api, cred: cred, opts: opts, log: slog.Default().With(slog.String("component", "token_validator"))}
}

// Last returns the most recent successful validation, or nil.
func (v *Validator) Last() *twitchapi.TokenInfo { return v.last }

func (v *Validator) Tick(elapsed time.Duration) {
	if v.pending != nil {
		select {
		case r := <-v.pending:
			v.pending = nil
			v.handle(r)
		default:
			return
		}
	}
	if v.cred.OAuthToken == "" || (v.opts.Busy != nil && v.opts.Busy()) {
		return
	}
	v.nextIn -= elapsed
	if v.nextIn > 0 {
		return
	}
	v.nextIn = v.nextInterval()

	token := v.cred.OAuthToken
	ch := make(chan validation, 1)
	v.pending = ch
	v.opts.Async(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		info, err := v.api.ValidateToken(ctx, token)
		ch <- validation{info: info, err: err}
	})
}

func (v *Validator) nextInterval() time.Duration {
	if v.opts.Jitter <= 0 {
		return v.opts.Interval
	}
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	j := time.Duration(rand.Int63n(int64(2*v.opts.Jitter))) - v.opts.Jitter
	next := v.opts.Interval + j
	if next < v.opts.Interval/2 {
		next = v.opts.Interval / 2
	}
	return next
}

func (v *Validator) handle(r validation) {
	switch {
	case r.err == nil:
		v.last = r.info
		v.log.Info("token valid", slog.String("login", r.info.Login), slog.Int("expires_in", r.info.ExpiresIn))
		if v.cred.AccountLogin != "" && r.info.Login != "" && r.info.Login != v.cred.AccountLogin {
			v.log.Warn("token belongs to a different account", slog.String("token_login", r.info.Login),
				slog.String("configured_login", v.cred.AccountLogin))
		}
	case errors.Is(r.err, twitchapi.ErrUnauthorized):
		v.last = nil
		v.log.Warn("token rejected, starting login flow")
		if v.opts.OnInvalid != nil {
			v.opts.OnInvalid()
		}
	default:
		v.log.Warn("token validation failed", slog.Any("err", r.err))
	}
}
