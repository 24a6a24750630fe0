// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	FramesReceived       *prometheus.CounterVec
	FramesMalformed      *prometheus.CounterVec
	EventsPublished      *prometheus.CounterVec
	ReconnectAttempts    *prometheus.CounterVec
	SubscriptionFailures *prometheus.CounterVec
	HelixRequests        *prometheus.CounterVec
	OAuthFlowsStarted    prometheus.Counter
	IdentityResolutions  prometheus.Counter

	// Gauges
	ConnectionStateGauge *prometheus.GaugeVec
	IdentityResolved     prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		FramesReceived = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bridge_frames_received_total", Help: "Websocket frames received"}, []string{"feed"})
		FramesMalformed = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bridge_frames_malformed_total", Help: "Lines or envelopes dropped because they could not be parsed"}, []string{"feed"})
		EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bridge_events_published_total", Help: "Normalized events dispatched to listeners"}, []string{"kind"})
		ReconnectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bridge_reconnect_attempts_total", Help: "Connection attempts made by the reconnect timer"}, []string{"feed"})
		SubscriptionFailures = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bridge_eventsub_registration_failures_total", Help: "EventSub subscription registrations that failed"}, []string{"type"})
		HelixRequests = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bridge_helix_requests_total", Help: "Twitch API requests by operation and status code (0 = transport error)"}, []string{"op", "code"})
		OAuthFlowsStarted = promauto.NewCounter(prometheus.CounterOpts{Name: "bridge_oauth_flows_started_total", Help: "Implicit-grant flows started"})
		IdentityResolutions = promauto.NewCounter(prometheus.CounterOpts{Name: "bridge_identity_resolutions_total", Help: "Successful account identity resolutions"})
		ConnectionStateGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "bridge_connection_state", Help: "Socket state per feed: 0=disconnected 1=connecting 2=open 3=closing 4=failed"}, []string{"feed"})
		IdentityResolved = promauto.NewGauge(prometheus.GaugeOpts{Name: "bridge_identity_resolved", Help: "1 when the account id is resolved"})
	})
}

// IncFrame counts a received frame for feed.
func IncFrame(feed string) {
	if FramesReceived != nil {
		FramesReceived.WithLabelValues(feed).Inc()
	}
}

// IncMalformed counts a dropped line or envelope.
func IncMalformed(feed string) {
	if FramesMalformed != nil {
		FramesMalformed.WithLabelValues(feed).Inc()
	}
}

// IncEvent counts a published event.
func IncEvent(kind string) {
	if EventsPublished != nil {
		EventsPublished.WithLabelValues(kind).Inc()
	}
}

// IncReconnect counts a reconnect attempt.
func IncReconnect(feed string) {
	if ReconnectAttempts != nil {
		ReconnectAttempts.WithLabelValues(feed).Inc()
	}
}

// IncSubscriptionFailure counts a failed EventSub registration.
func IncSubscriptionFailure(subType string) {
	if SubscriptionFailures != nil {
		SubscriptionFailures.WithLabelValues(subType).Inc()
	}
}

// ObserveHelix records one Twitch API call.
func ObserveHelix(op string, code int) {
	if HelixRequests != nil {
		HelixRequests.WithLabelValues(op, strconv.Itoa(code)).Inc()
	}
}

// IncOAuthFlow counts a started OAuth flow.
func IncOAuthFlow() {
	if OAuthFlowsStarted != nil {
		OAuthFlowsStarted.Inc()
	}
}

// SetIdentityResolved records the identity state and counts transitions to resolved.
func SetIdentityResolved(resolved bool) {
	if IdentityResolved == nil {
		return
	}
	if resolved {
		IdentityResolutions.Inc()
		IdentityResolved.Set(1)
	} else {
		IdentityResolved.Set(0)
	}
}

// SetConnectionState records the numeric socket state of feed.
func SetConnectionState(feed string, state int) {
	if ConnectionStateGauge != nil {
		ConnectionStateGauge.WithLabelValues(feed).Set(float64(state))
	}
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
