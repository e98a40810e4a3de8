package api

import (
	"net/http"
	"time"
)

// handleHealth reports overall service vitals: uptime and the most
// recent metrics snapshot (queue depth, agents by status), read
// straight from in-memory state rather than scraping its own
// /metrics.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	}
	if s.metrics != nil {
		body["snapshot"] = s.metrics.Latest()
	}
	writeJSON(w, http.StatusOK, body)
}

// handleReady reports whether the control plane can currently accept
// work: the scheduler must be running. Returns 503 otherwise so a
// load balancer stops routing traffic here.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.sched != nil && !s.sched.IsRunning() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"status": "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ready"})
}

// handleLive is the liveness probe: if the process can answer HTTP at
// all, it is alive.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "alive"})
}
