package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/onnwee/stream-bridge/events"
)

const hubBuffer = 64

// streamEvent is the JSON shape written to SSE clients.
type streamEvent struct {
	Kind  events.Kind  `json:"kind"`
	Event events.Event `json:"event"`
}

// EventHub fans published events out to SSE subscribers. Slow subscribers
// drop events instead of blocking the publisher.
type EventHub struct {
	mu     sync.Mutex
	subs   map[chan []byte]struct{}
	closed bool
}

func NewEventHub() *EventHub {
	return &EventHub{subs: make(map[chan []byte]struct{})}
}

// Publish encodes ev once and offers it to every subscriber. It can be
// registered directly as an events.Listener.
func (hub *EventHub) Publish(ev events.Event) {
	b, err := json.Marshal(streamEvent{Kind: ev.Kind(), Event: ev})
	if err != nil {
		slog.Warn("failed to encode event for stream", slog.Any("err", err))
		return
	}
	hub.mu.Lock()
	defer hub.mu.Unlock()
	for ch := range hub.subs {
		select {
		case ch <- b:
		default:
		}
	}
}

// Subscribe returns a channel of encoded events, or nil once the hub is closed.
func (hub *EventHub) Subscribe() chan []byte {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	if hub.closed {
		return nil
	}
	ch := make(chan []byte, hubBuffer)
	hub.subs[ch] = struct{}{}
	return ch
}

func (hub *EventHub) Unsubscribe(ch chan []byte) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	if _, ok := hub.subs[ch]; ok {
		delete(hub.subs, ch)
		close(ch)
	}
}

// Close ends every subscription.
func (hub *EventHub) Close() {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	hub.closed = true
	for ch := range hub.subs {
		delete(hub.subs, ch)
		close(ch)
	}
}

// Len returns the number of live subscribers.
func (hub *EventHub) Len() int {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	return len(hub.subs)
}

// HandleEventStream streams normalized events as Server-Sent Events until
// the client goes away or the hub closes. A comment line is sent every 15s
// to keep proxies from timing out the stream.
func (h *Handlers) HandleEventStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	ch := h.hub.Subscribe()
	if ch == nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer h.hub.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case b, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write([]byte("data: ")); err != nil {
				slog.Warn("failed to write SSE data prefix", slog.Any("err", err))
				return
			}
			if _, err := w.Write(b); err != nil {
				return
			}
			if _, err := w.Write([]byte("\n\n")); err != nil {
				slog.Warn("failed to write SSE newline", slog.Any("err", err))
				return
			}
			flusher.Flush()
		}
	}
}
