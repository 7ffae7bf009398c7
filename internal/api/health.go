package api

import (
	"net/http"
)

type healthResponse struct {
	Status string `json:"status"`
	Stores int    `json:"stores"`
}

// handleHealthz reports ok when the registry answers queries.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	stats, err := s.orch.Stats(r.Context())
	if err != nil {
		s.logger.Error("healthz registry check", "error", err)
		s.writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
		return
	}
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Stores: stats.Total})
}
