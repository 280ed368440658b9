package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/antoniostano/steady/internal/session"
)

type messageRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	sess, err := s.lifecycle.Start(strings.TrimSpace(req.UserID), strings.TrimSpace(req.SessionType))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:       sess.ID,
		UserID:          sess.UserID,
		SessionType:     sess.SessionType,
		Status:          sess.Status,
		StartedAt:       sess.StartedAt,
		LastActivityAt:  sess.LastActivityAt,
		InactivityTTLMS: s.cfg.SessionInactivityTimeout.Milliseconds(),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.lifecycle.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSessionMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	res, err := s.lifecycle.HandleMessage(r.Context(), chi.URLParam(r, "id"), req.Text)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handlePauseSession(w http.ResponseWriter, r *http.Request) {
	s.sessionAction(w, r, func(id string) (*session.Session, error) { return s.lifecycle.Pause(id) })
}

func (s *Server) handleResumeSession(w http.ResponseWriter, r *http.Request) {
	s.sessionAction(w, r, func(id string) (*session.Session, error) { return s.lifecycle.Resume(id) })
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	s.sessionAction(w, r, func(id string) (*session.Session, error) { return s.lifecycle.End(r.Context(), id) })
}

func (s *Server) sessionAction(w http.ResponseWriter, r *http.Request, fn func(id string) (*session.Session, error)) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}
	sess, err := fn(id)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}
