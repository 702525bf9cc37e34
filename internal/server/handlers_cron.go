package server

import (
	"net/http"
)

type cronControlResponse struct {
	Locked bool `json:"locked"`
}

// handleCronLock serves PUT /api/config/v1/cronjobs/lock, suspending the
// scheduler's tick forwarding.
func (s *Server) handleCronLock(w http.ResponseWriter, r *http.Request) {
	s.appstate.Lock()
	writeJSON(w, http.StatusOK, cronControlResponse{Locked: true})
}

// handleCronUnlock serves PUT /api/config/v1/cronjobs/unlock, resuming tick
// forwarding.
func (s *Server) handleCronUnlock(w http.ResponseWriter, r *http.Request) {
	s.appstate.Unlock()
	writeJSON(w, http.StatusOK, cronControlResponse{Locked: false})
}

// handleCronSynchronize serves PUT /api/config/v1/cronjobs/synchronize,
// invoking the configured Synchronizer; no watchlist is re-read here.
func (s *Server) handleCronSynchronize(w http.ResponseWriter, r *http.Request) {
	if err := s.sync.Synchronize(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"synchronized": true})
}
