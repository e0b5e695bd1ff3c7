package api

import (
	"net/http"
	"strconv"
)

// handleListTraces returns recently captured trace summaries, newest first.
func (s *Server) handleListTraces(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	view, err := s.gateway.RecentTraces(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing traces failed", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load traces")
		return
	}

	respondJSON(w, http.StatusOK, view)
}

// handleProcessInfo returns metrics about the agent process itself.
func (s *Server) handleProcessInfo(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.gateway.ProcessMetrics())
}
