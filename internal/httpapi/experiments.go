package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/antoniostano/steady/internal/experiment"
)

type completeRequest struct {
	Winner *experiment.Variant `json:"winner"`
}

type assignRequest struct {
	UserID    string `json:"user_id"`
	ModelType string `json:"model_type"`
}

type assignResponse struct {
	Assigned  bool                  `json:"assigned"`
	Selection *experiment.Selection `json:"selection"`
}

func (s *Server) handleCreateExperiment(w http.ResponseWriter, r *http.Request) {
	if !s.experimentsEnabled(w) {
		return
	}
	var req experiment.CreateParams
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	exp, err := s.experiments.Create(r.Context(), req)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, exp)
}

func (s *Server) handleListExperiments(w http.ResponseWriter, r *http.Request) {
	if !s.experimentsEnabled(w) {
		return
	}
	filter := experiment.ListFilter{
		ModelType: strings.TrimSpace(r.URL.Query().Get("model_type")),
		Status:    experiment.Status(strings.TrimSpace(r.URL.Query().Get("status"))),
	}
	list, err := s.experiments.List(r.Context(), filter)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if list == nil {
		list = []experiment.Experiment{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"experiments": list})
}

func (s *Server) handleGetExperiment(w http.ResponseWriter, r *http.Request) {
	if !s.experimentsEnabled(w) {
		return
	}
	exp, err := s.experiments.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, exp)
}

func (s *Server) handleStartExperiment(w http.ResponseWriter, r *http.Request) {
	if !s.experimentsEnabled(w) {
		return
	}
	exp, err := s.experiments.Start(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, exp)
}

func (s *Server) handlePauseExperiment(w http.ResponseWriter, r *http.Request) {
	if !s.experimentsEnabled(w) {
		return
	}
	exp, err := s.experiments.Pause(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, exp)
}

func (s *Server) handleCompleteExperiment(w http.ResponseWriter, r *http.Request) {
	if !s.experimentsEnabled(w) {
		return
	}
	var req completeRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	exp, err := s.experiments.Complete(r.Context(), chi.URLParam(r, "id"), req.Winner)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, exp)
}

func (s *Server) handleExperimentReport(w http.ResponseWriter, r *http.Request) {
	if !s.experimentsEnabled(w) {
		return
	}
	report, err := s.experiments.Report(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	if !s.experimentsEnabled(w) {
		return
	}
	var req assignRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	req.ModelType = strings.TrimSpace(req.ModelType)
	if req.UserID == "" || req.ModelType == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "user_id and model_type are required")
		return
	}
	sel, err := s.experiments.Assign(r.Context(), req.UserID, req.ModelType)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, assignResponse{Assigned: sel != nil, Selection: sel})
}

func (s *Server) experimentsEnabled(w http.ResponseWriter) bool {
	if s.experiments == nil {
		respondError(w, http.StatusServiceUnavailable, "experiments_unavailable", "experiment service is not configured")
		return false
	}
	return true
}
