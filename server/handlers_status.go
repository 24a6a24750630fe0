package server

import (
	"log/slog"
	"net/http"
	"strings"
)

// HandleStatus returns the latest integration status snapshot.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Status())
}

type emoteView struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Tier string `json:"tier,omitempty"`
	Type string `json:"type"`
	URL  string `json:"url"`
}

// HandleEmotes lists the channel emotes with a static dark-theme image url.
// ?scale= picks the image size (default 1.0).
func (h *Handlers) HandleEmotes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	scale := r.URL.Query().Get("scale")
	switch scale {
	case "1.0", "2.0", "3.0":
	case "":
		scale = "1.0"
	default:
		http.Error(w, "invalid scale", http.StatusBadRequest)
		return
	}
	all := h.svc.Emotes().All()
	out := make([]emoteView, 0, len(all))
	for _, e := range all {
		out = append(out, emoteView{
			ID:   e.ID,
			Name: e.Name,
			Tier: e.Tier,
			Type: e.EmoteType,
			URL:  e.URL("static", "dark", scale),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"loaded": h.svc.Status().EmotesLoaded,
		"emotes": out,
	})
}

// HandleUser serves /users/{login} from the user directory cache. Unknown
// logins are queued for lookup and answered with 404 until they resolve.
func (h *Handlers) HandleUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	login := strings.ToLower(strings.TrimPrefix(r.URL.Path, "/users/"))
	if login == "" || strings.Contains(login, "/") {
		http.Error(w, "login required", http.StatusBadRequest)
		return
	}
	u, ok := h.svc.Users().Lookup(login)
	if !ok {
		if err := h.svc.QueueUserLookup(login); err != nil {
			slog.Warn("user lookup not queued", slog.String("login", login), slog.Any("err", err))
		}
		http.Error(w, "user not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, u)
}
