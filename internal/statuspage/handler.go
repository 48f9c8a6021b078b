// Package statuspage serves the read-only JSON status snapshot
// described in spec.md §1/§3: a small summary of server uptime, spool
// queue depth, and active POP3 sessions, grounded on
// original_source/src/http_monitor.cpp's status page (reproducing the
// data it serves, not its HTML rendering).
package statuspage

import (
	"encoding/json"
	"net/http"
	"time"
)

// Snapshot is the current point-in-time status of the server.
type Snapshot struct {
	UptimeSeconds   float64  `json:"uptime_seconds"`
	SpoolQueueDepth int      `json:"spool_queue_depth"`
	POP3Sessions    int      `json:"pop3_sessions_active"`
	Listeners       []string `json:"listeners"`
}

// Source supplies the live values rendered into a Snapshot.
type Source interface {
	SpoolQueueDepth() int
	POP3SessionsActive() int
}

// Handler returns an http.Handler that serves the current Snapshot as
// JSON.
func Handler(start time.Time, listeners []string, src Source) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap := Snapshot{
			UptimeSeconds:   time.Since(start).Seconds(),
			SpoolQueueDepth: src.SpoolQueueDepth(),
			POP3Sessions:    src.POP3SessionsActive(),
			Listeners:       listeners,
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snap)
	})
}
