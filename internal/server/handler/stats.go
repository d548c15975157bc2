package handler

import (
	"net/http"
	"time"
)

// StatsHandler reports the running mode and component counters.
type StatsHandler struct {
	mode      string
	startedAt time.Time
	sources   map[string]func() any
}

// NewStatsHandler creates a StatsHandler. Each source is sampled on every
// request and reported under its key.
func NewStatsHandler(mode string, startedAt time.Time, sources map[string]func() any) *StatsHandler {
	return &StatsHandler{mode: mode, startedAt: startedAt, sources: sources}
}

// GetStats responds with mode, uptime and every registered counter set.
// GET /api/stats
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	}
	for name, sample := range h.sources {
		out[name] = sample()
	}
	writeJSON(w, http.StatusOK, out)
}
