package integration

import "time"

// Status is a point-in-time view of the integration, safe to share across goroutines.
type Status struct {
	Started          bool      `json:"started"`
	Paused           bool      `json:"paused"`
	AccountID        int       `json:"account_id"`
	AccountLogin     string    `json:"account_login"`
	IdentityResolved bool      `json:"identity_resolved"`
	Chat             string    `json:"chat"`
	EventSub         string    `json:"eventsub"`
	EventSubSession  string    `json:"eventsub_session,omitempty"`
	OAuthInProgress  bool      `json:"oauth_in_progress"`
	EmotesLoaded     bool      `json:"emotes_loaded"`
	EmoteCount       int       `json:"emote_count"`
	KnownUsers       int       `json:"known_users"`
	EventsPublished  uint64    `json:"events_published"`
	LastEventKind    string    `json:"last_event_kind,omitempty"`
	LastEventAt      time.Time `json:"last_event_at,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Ready reports whether the identity is resolved and both feeds are open.
func (s Status) Ready() bool {
	return s.Started && s.IdentityResolved && s.Chat == "open" && s.EventSub == "open"
}
