package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/onnwee/stream-bridge/integration"
)

const maxAdminBody = 4 << 10

// HandleAdminChat queues a chat message for the broadcaster's channel.
// Body: {"text": "..."}.
func (h *Handlers) HandleAdminChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAdminBody)).Decode(&body); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if err := h.svc.QueueChatMessage(body.Text); err != nil {
		writeQueueError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued"})
}

// HandleAdminLogin starts the browser login flow unless one is already running.
func (h *Handlers) HandleAdminLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := h.svc.QueueLogin(); err != nil {
		writeQueueError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued"})
}

// HandleAdminPause pauses or resumes tick processing. Body: {"paused": true}.
func (h *Handlers) HandleAdminPause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Paused *bool `json:"paused"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAdminBody)).Decode(&body); err != nil || body.Paused == nil {
		http.Error(w, "body must be {\"paused\": bool}", http.StatusBadRequest)
		return
	}
	h.svc.SetPaused(*body.Paused)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "paused": *body.Paused})
}

func writeQueueError(w http.ResponseWriter, err error) {
	if errors.Is(err, integration.ErrCommandsFull) {
		w.Header().Set("Retry-After", "1")
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	http.Error(w, err.Error(), http.StatusBadRequest)
}
