package twitchapi

import (
	"errors"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/twitch"
)

// DefaultScopes are requested by the implicit-grant flow.
var DefaultScopes = []string{
	"channel:read:redemptions",
	"chat:read",
	"chat:edit",
	"bits:read",
	"channel:read:subscriptions",
	"moderator:read:followers",
	"user:read:chat",
}

// BuildImplicitAuthorizeURL constructs the authorization URL for the implicit
// grant: Twitch returns the access token in the redirect fragment.
func BuildImplicitAuthorizeURL(clientID, redirectURI string, scopes []string) (string, error) {
	if clientID == "" || redirectURI == "" {
		return "", errors.New("missing clientID or redirectURI")
	}
	cfg := &oauth2.Config{
		ClientID:    clientID,
		Endpoint:    twitch.Endpoint,
		RedirectURL: redirectURI,
		Scopes:      scopes,
	}
	return cfg.AuthCodeURL("", oauth2.SetAuthURLParam("response_type", "token")), nil
}
