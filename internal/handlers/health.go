package handlers

import (
	"net/http"
	"time"
)

// HealthHandler responds with service health information.
type HealthHandler struct {
	Backend string
	Started time.Time
}

// Handle implements GET /healthz.
func (h HealthHandler) Handle(w http.ResponseWriter, r *http.Request) {
	payload := map[string]string{
		"status": "ok",
	}
	if h.Backend != "" {
		payload["backend"] = h.Backend
	}
	if !h.Started.IsZero() {
		payload["uptime"] = time.Since(h.Started).Round(time.Second).String()
	}

	respondJSON(r.Context(), w, http.StatusOK, payload)
}
