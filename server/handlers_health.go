package server

import (
	"errors"
	"net/http"
)

// HandleHealthz responds to liveness probes. The process is alive as long as it answers.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz reports ready once the account is resolved and both feeds are open.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	st := h.svc.Status()
	checks := []struct {
		name string
		fn   func() error
	}{
		{"started", func() error {
			if !st.Started {
				return errors.New("integration not started")
			}
			if st.Paused {
				return errors.New("integration paused")
			}
			return nil
		}},
		{"identity", func() error {
			if !st.IdentityResolved {
				return errors.New("account id not resolved")
			}
			return nil
		}},
		{"chat", func() error {
			if st.Chat != "open" {
				return errors.New("chat connection " + st.Chat)
			}
			return nil
		}},
		{"eventsub", func() error {
			if st.EventSub != "open" {
				return errors.New("eventsub connection " + st.EventSub)
			}
			return nil
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
