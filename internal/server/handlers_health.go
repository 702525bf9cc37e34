package server

import (
	"net/http"
)

// handleHealth serves GET /health, delegating the whole payload to
// internal/appstate.State.Check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.appstate == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"status": false})
		return
	}

	h := s.appstate.Check(r.Context())
	status := http.StatusOK
	if !h.Status {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}
