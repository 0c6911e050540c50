package handler

import (
	"net/http"
	"time"
)

// HealthHandler serves the liveness endpoint.
type HealthHandler struct {
	mode    string
	started time.Time
}

// NewHealthHandler creates a HealthHandler reporting the given run mode.
func NewHealthHandler(mode string) *HealthHandler {
	return &HealthHandler{mode: mode, started: time.Now().UTC()}
}

// HealthCheck reports the service identity, run mode, and uptime.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "wealthd",
		"mode":    h.mode,
		"uptime":  time.Since(h.started).Round(time.Second).String(),
	})
}
