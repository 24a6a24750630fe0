// Package eventsub implements the Twitch EventSub websocket client. It registers
// the channel subscriptions once a session is welcomed and translates
// notifications into normalized events.
package eventsub

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Message types carried in metadata.message_type.
const (
	MessageWelcome      = "session_welcome"
	MessageKeepalive    = "session_keepalive"
	MessageNotification = "notification"
	MessageReconnect    = "session_reconnect"
	MessageRevocation   = "revocation"
)

// ErrMalformedEnvelope is returned for frames or payloads that cannot be decoded.
var ErrMalformedEnvelope = errors.New("eventsub: malformed message")

type Envelope struct {
	Metadata Metadata `json:"metadata"`
	Payload  Payload  `json:"payload"`
}

type Metadata struct {
	MessageID           string `json:"message_id"`
	MessageType         string `json:"message_type"`
	MessageTimestamp    string `json:"message_timestamp"`
	SubscriptionType    string `json:"subscription_type,omitempty"`
	SubscriptionVersion string `json:"subscription_version,omitempty"`
}

type Payload struct {
	Session      *Session        `json:"session,omitempty"`
	Subscription *Subscription   `json:"subscription,omitempty"`
	Event        json.RawMessage `json:"event,omitempty"`
}

type Session struct {
	ID                      string `json:"id"`
	Status                  string `json:"status"`
	KeepaliveTimeoutSeconds int    `json:"keepalive_timeout_seconds"`
	ReconnectURL            string `json:"reconnect_url"`
}

type Subscription struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Version   string            `json:"version"`
	Status    string            `json:"status"`
	Condition map[string]string `json:"condition"`
}

// DecodeEnvelope parses one websocket text frame.
func DecodeEnvelope(frame string) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(frame), &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.Metadata.MessageType == "" {
		return nil, fmt.Errorf("%w: missing message_type", ErrMalformedEnvelope)
	}
	return &env, nil
}

// SubscriptionType returns the notification's subscription type from the
// payload, falling back to metadata.
func (e *Envelope) SubscriptionType() string {
	if e.Payload.Subscription != nil && e.Payload.Subscription.Type != "" {
		return e.Payload.Subscription.Type
	}
	return e.Metadata.SubscriptionType
}
