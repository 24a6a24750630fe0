package twitchapi

import (
	"context"
	"fmt"
	"net/http"
)

// SubscriptionTransport routes notifications to a websocket session.
type SubscriptionTransport struct {
	Method    string `json:"method"`
	SessionID string `json:"session_id"`
}

// SubscriptionRequest is the body of POST /eventsub/subscriptions.
type SubscriptionRequest struct {
	Type      string                `json:"type"`
	Version   string                `json:"version"`
	Condition map[string]string     `json:"condition"`
	Transport SubscriptionTransport `json:"transport"`
}

// CreatedSubscription is the provider's view of a registered subscription.
type CreatedSubscription struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Type   string `json:"type"`
	Cost   int    `json:"cost"`
}

// CreateEventSubSubscription registers one subscription for a websocket session.
func (hc *HelixClient) CreateEventSubSubscription(ctx context.Context, token string, req SubscriptionRequest) (*CreatedSubscription, error) {
	if req.Type == "" || req.Transport.SessionID == "" {
		return nil, fmt.Errorf("subscription type and session id are required")
	}
	var body struct {
		Data []CreatedSubscription `json:"data"`
	}
	if err := hc.do(ctx, "create_eventsub_subscription", token, http.MethodPost, hc.helixURL("/eventsub/subscriptions"), req, &body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return &CreatedSubscription{Type: req.Type}, nil
	}
	return &body.Data[0], nil
}
