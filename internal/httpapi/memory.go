package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/antoniostano/steady/internal/memory"
)

const maxRetrieveLimit = 20

type retrieveResponse struct {
	UserID   string          `json:"user_id"`
	Backend  string          `json:"backend"`
	Memories []memory.Result `json:"memories"`
}

func (s *Server) handleRetrieveMemory(w http.ResponseWriter, r *http.Request) {
	if !s.memoryEnabled(w) {
		return
	}
	userID := chi.URLParam(r, "user_id")
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "query parameter q is required")
		return
	}
	limit := memory.DefaultRetrieveLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("k")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxRetrieveLimit {
			respondError(w, http.StatusBadRequest, "invalid_request", "k must be between 1 and 20")
			return
		}
		limit = n
	}

	results, err := s.memory.Retrieve(r.Context(), userID, query, limit)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, retrieveResponse{UserID: userID, Backend: s.memory.BackendName(), Memories: results})
}

func (s *Server) handleDeleteUserMemory(w http.ResponseWriter, r *http.Request) {
	if !s.memoryEnabled(w) {
		return
	}
	if err := s.memory.DeleteUser(r.Context(), chi.URLParam(r, "user_id")); err != nil {
		s.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteSessionMemory(w http.ResponseWriter, r *http.Request) {
	if !s.memoryEnabled(w) {
		return
	}
	if err := s.memory.Delete(r.Context(), chi.URLParam(r, "user_id"), chi.URLParam(r, "session_id")); err != nil {
		s.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) memoryEnabled(w http.ResponseWriter) bool {
	if s.memory == nil {
		respondError(w, http.StatusServiceUnavailable, "memory_unavailable", "memory store is not configured")
		return false
	}
	return true
}
