package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/steady/internal/protocol"
	"github.com/antoniostano/steady/internal/session"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsIdleTimeout  = 120 * time.Second
	wsReadLimit    = 64 << 10
)

// handleSessionWS carries the same turn contract as the REST routes over one
// socket. Turns on a connection are processed in arrival order.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	sess, err := s.lifecycle.Get(sessionID)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 32)
	outbound := make(chan any, 32)

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		defer close(outbound)
		s.runConnection(ctx, sessionID, inbound, outbound)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range outbound {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				s.logger.Warn("websocket write failed", slog.String("session_id", sessionID), slog.Any("error", err))
				cancel()
				_ = conn.Close()
				// Drain so the runner never blocks on a dead socket.
				for range outbound {
				}
				return
			}
			if t, ok := messageTypeOf(msg); ok {
				s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
			}
		}
	}()

	outbound <- stateEvent(sess)

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			parsed = protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Detail:    err.Error(),
			}
		} else if t, ok := messageTypeOf(parsed); ok {
			s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}

// runConnection turns parsed client messages into server envelopes. Parse
// errors arrive as ready-made ErrorEvents and are forwarded unchanged.
func (s *Server) runConnection(ctx context.Context, sessionID string, inbound <-chan any, outbound chan<- any) {
	for msg := range inbound {
		for _, out := range s.dispatch(ctx, sessionID, msg) {
			outbound <- out
		}
	}
}

func (s *Server) dispatch(ctx context.Context, sessionID string, msg any) []any {
	switch m := msg.(type) {
	case protocol.ErrorEvent:
		return []any{m}
	case protocol.ClientMessage:
		if m.SessionID != sessionID {
			return []any{mismatchEvent(sessionID)}
		}
		res, err := s.lifecycle.HandleMessage(ctx, sessionID, m.Text)
		if err != nil {
			return []any{s.errorEvent(sessionID, err)}
		}
		out := []any{protocol.AssistantReply{Type: protocol.TypeAssistantReply, SessionID: sessionID, Reply: res}}
		if res.Escalated {
			out = append(out, protocol.Escalation{
				Type:           protocol.TypeEscalation,
				SessionID:      sessionID,
				Category:       res.Risk.Category,
				CrisisContacts: res.CrisisContacts,
			})
		}
		if sess, err := s.lifecycle.Get(sessionID); err == nil && sess.Status != session.StatusActive {
			out = append(out, stateEvent(sess))
		}
		return out
	case protocol.ClientControl:
		if m.SessionID != sessionID {
			return []any{mismatchEvent(sessionID)}
		}
		var (
			sess *session.Session
			err  error
		)
		switch m.Action {
		case protocol.ActionPause:
			sess, err = s.lifecycle.Pause(sessionID)
		case protocol.ActionResume:
			sess, err = s.lifecycle.Resume(sessionID)
		case protocol.ActionEnd:
			sess, err = s.lifecycle.End(ctx, sessionID)
		}
		if err != nil {
			return []any{s.errorEvent(sessionID, err)}
		}
		return []any{stateEvent(sess)}
	default:
		return nil
	}
}

func (s *Server) errorEvent(sessionID string, err error) protocol.ErrorEvent {
	status, code := classifyError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("websocket turn failed", slog.String("session_id", sessionID), slog.String("code", code), slog.Any("error", err))
	}
	return protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: sessionID,
		Code:      code,
		Retryable: status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable,
		Detail:    err.Error(),
	}
}

func mismatchEvent(sessionID string) protocol.ErrorEvent {
	return protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: sessionID,
		Code:      "session_mismatch",
		Detail:    "message session_id does not match the connection",
	}
}

func stateEvent(sess *session.Session) protocol.SessionState {
	return protocol.SessionState{
		Type:      protocol.TypeSessionState,
		SessionID: sess.ID,
		Status:    string(sess.Status),
		Summary:   sess.Summary,
	}
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientMessage:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.AssistantReply:
		return m.Type, true
	case protocol.Escalation:
		return m.Type, true
	case protocol.SessionState:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
