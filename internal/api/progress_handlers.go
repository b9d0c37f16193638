package api

import (
	"net/http"
	"time"
)

// Snapshotter exposes a running total.
type Snapshotter interface {
	Snapshot() int64
}

// ProgressHandler exposes the persisted-results counter of this run.
type ProgressHandler struct {
	counter Snapshotter
	runID   string
	started time.Time
	now     func() time.Time
}

// NewProgressHandler wires the counter and run identity.
func NewProgressHandler(counter Snapshotter, runID string, started time.Time) *ProgressHandler {
	return &ProgressHandler{
		counter: counter,
		runID:   runID,
		started: started,
		now:     time.Now,
	}
}

type progressDTO struct {
	RunID         string    `json:"run_id"`
	Persisted     int64     `json:"persisted"`
	StartedAt     time.Time `json:"started_at"`
	UptimeSeconds int64     `json:"uptime_seconds"`
}

// Get handles GET /progress. It returns 503 when no counter is wired.
func (h *ProgressHandler) Get(w http.ResponseWriter, _ *http.Request) {
	if h.counter == nil {
		writeError(w, http.StatusServiceUnavailable, "progress counter unavailable")
		return
	}
	writeJSON(w, http.StatusOK, progressDTO{
		RunID:         h.runID,
		Persisted:     h.counter.Snapshot(),
		StartedAt:     h.started.UTC(),
		UptimeSeconds: int64(h.now().Sub(h.started).Seconds()),
	})
}
