package handler

import (
	"net/http"
	"time"
)

// StatusSource reports engine occupancy.
type StatusSource interface {
	RoundCounts() (active, ended int)
	Subscribers() int
}

// StatusHandler serves the runtime status shown by dashboards.
type StatusHandler struct {
	mode        string
	instruments []string
	startedAt   time.Time
	src         StatusSource
	now         func() time.Time
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode string, instruments []string, startedAt time.Time, src StatusSource) *StatusHandler {
	return &StatusHandler{mode: mode, instruments: instruments, startedAt: startedAt, src: src, now: time.Now}
}

type statusResponse struct {
	Mode          string   `json:"mode"`
	Instruments   []string `json:"instruments"`
	ActiveRounds  int      `json:"active_rounds"`
	EndedRounds   int      `json:"ended_rounds"`
	Subscribers   int      `json:"subscribers"`
	UptimeSeconds int64    `json:"uptime_seconds"`
}

// GetStatus reports mode, roster and round counts.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	active, ended := h.src.RoundCounts()
	writeJSON(w, http.StatusOK, statusResponse{
		Mode:          h.mode,
		Instruments:   h.instruments,
		ActiveRounds:  active,
		EndedRounds:   ended,
		Subscribers:   h.src.Subscribers(),
		UptimeSeconds: max(int64(h.now().Sub(h.startedAt).Seconds()), 0),
	})
}
