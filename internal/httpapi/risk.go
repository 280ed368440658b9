package httpapi

import (
	"net/http"
	"strings"
)

type assessRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleAssessRisk(w http.ResponseWriter, r *http.Request) {
	var req assessRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "text is required")
		return
	}
	respondJSON(w, http.StatusOK, s.risk.Assess(r.Context(), req.Text))
}
