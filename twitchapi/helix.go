// Package twitchapi contains minimal helpers to interact with the Twitch Helix
// and id APIs using a user access token: identity lookup, EventSub
// subscription registration, channel emotes and token validation.
package twitchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"

	"github.com/onnwee/stream-bridge/telemetry"
)

const (
	DefaultHelixBaseURL = "https://api.twitch.tv/helix"
	DefaultIDBaseURL    = "https://id.twitch.tv/oauth2"
)

// ErrUnauthorized is wrapped by every 401 response. Callers recover from it by
// restarting the OAuth flow.
var ErrUnauthorized = errors.New("twitch: unauthorized")

// StatusError reports a non-2xx response.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("twitch %s failed: %d %s: %s", e.Op, e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return nil
}

// HelixClient issues Helix requests on behalf of the token passed to each call.
type HelixClient struct {
	ClientID   string
	BaseURL    string
	IDBaseURL  string
	HTTPClient *http.Client
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

// authed wraps the configured client so every request carries the bearer token.
func (hc *HelixClient) authed(token string) *http.Client {
	base := hc.http()
	rt := base.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	return &http.Client{
		Timeout: base.Timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
			Base:   rt,
		},
	}
}

func (hc *HelixClient) helixURL(path string) string {
	base := hc.BaseURL
	if base == "" {
		base = DefaultHelixBaseURL
	}
	return strings.TrimRight(base, "/") + path
}

func (hc *HelixClient) idURL(path string) string {
	base := hc.IDBaseURL
	if base == "" {
		base = DefaultIDBaseURL
	}
	return strings.TrimRight(base, "/") + path
}

// do sends one request and decodes a 2xx JSON body into out (when non-nil).
func (hc *HelixClient) do(ctx context.Context, op, token, method, rawURL string, body any, out any) error {
	ctx, span := telemetry.StartSpan(ctx, "twitchapi", op,
		attribute.String("http.method", method),
		attribute.String("twitch.op", op),
	)
	defer span.End()

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", op, err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, rdr)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	req.Header.Set("Client-Id", hc.ClientID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := hc.authed(token).Do(req)
	if err != nil {
		telemetry.ObserveHelix(op, 0)
		telemetry.RecordError(span, err)
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	telemetry.ObserveHelix(op, resp.StatusCode)
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		serr := &StatusError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
		telemetry.RecordError(span, serr)
		return serr
	}
	if out == nil {
		telemetry.SetSpanSuccess(span)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	telemetry.SetSpanSuccess(span)
	return nil
}

// User is a Helix user record.
type User struct {
	ID              string `json:"id"`
	Login           string `json:"login"`
	DisplayName     string `json:"display_name"`
	BroadcasterType string `json:"broadcaster_type"`
	ProfileImageURL string `json:"profile_image_url"`
}

// GetUsers returns the users for the given logins, or the token's own user
// when no login is passed. An empty result is not an error.
func (hc *HelixClient) GetUsers(ctx context.Context, token string, logins ...string) ([]User, error) {
	q := url.Values{}
	for _, l := range logins {
		if l != "" {
			q.Add("login", l)
		}
	}
	u := hc.helixURL("/users")
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var body struct {
		Data []User `json:"data"`
	}
	if err := hc.do(ctx, "get_users", token, http.MethodGet, u, nil, &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// Emote is a channel emote as returned by /chat/emotes.
type Emote struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Tier       string   `json:"tier"`
	EmoteType  string   `json:"emote_type"`
	EmoteSetID string   `json:"emote_set_id"`
	Format     []string `json:"format"`
	Scale      []string `json:"scale"`
	ThemeMode  []string `json:"theme_mode"`
	template   string
}

// URL renders the CDN url of the emote image.
func (e Emote) URL(format, theme, scale string) string {
	r := strings.NewReplacer("{{id}}", e.ID, "{{format}}", format, "{{theme_mode}}", theme, "{{scale}}", scale)
	return r.Replace(e.template)
}

// GetChannelEmotes lists the custom emotes of a broadcaster.
func (hc *HelixClient) GetChannelEmotes(ctx context.Context, token, broadcasterID string) ([]Emote, error) {
	if broadcasterID == "" {
		return nil, fmt.Errorf("broadcaster id empty")
	}
	u := hc.helixURL("/chat/emotes") + "?" + url.Values{"broadcaster_id": {broadcasterID}}.Encode()
	var body struct {
		Data     []Emote `json:"data"`
		Template string  `json:"template"`
	}
	if err := hc.do(ctx, "get_channel_emotes", token, http.MethodGet, u, nil, &body); err != nil {
		return nil, err
	}
	for i := range body.Data {
		body.Data[i].template = body.Template
	}
	return body.Data, nil
}

// TokenInfo is the result of validating an access token.
type TokenInfo struct {
	ClientID  string   `json:"client_id"`
	Login     string   `json:"login"`
	UserID    string   `json:"user_id"`
	Scopes    []string `json:"scopes"`
	ExpiresIn int      `json:"expires_in"`
}

// ValidateToken checks that token is still accepted by Twitch.
func (hc *HelixClient) ValidateToken(ctx context.Context, token string) (*TokenInfo, error) {
	var info TokenInfo
	if err := hc.do(ctx, "validate_token", token, http.MethodGet, hc.idURL("/validate"), nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}
