package server

import (
	"errors"
	"net/http"

	"github.com/aristath/marketpulse/internal/apperr"
)

type evolutionStatsResponse struct {
	Stats Statistics `json:"stats"`
}

// handleEvolutionStats exposes the genetic core's current fitness
// distribution (C9), a thin adapter per spec.md §1's "HTTP BFF routes
// treated as thin adapters" framing.
func (s *Server) handleEvolutionStats(w http.ResponseWriter, r *http.Request) {
	if s.evolution == nil {
		writeError(w, apperr.New(apperr.Contract, "evolution", errors.New("not configured")))
		return
	}

	stats, err := s.evolution.Statistics()
	if err != nil {
		writeError(w, apperr.New(apperr.Transient, "evolution", err))
		return
	}

	writeJSON(w, http.StatusOK, evolutionStatsResponse{Stats: stats})
}
