package coach

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/antoniostano/steady/internal/completion"
	"github.com/antoniostano/steady/internal/logging"
	"github.com/antoniostano/steady/internal/observability"
	"github.com/antoniostano/steady/internal/policy"
	"github.com/antoniostano/steady/internal/risk"
	"github.com/antoniostano/steady/internal/session"
)

const memoryStoreTimeout = 10 * time.Second

type MemoryWriter interface {
	Store(ctx context.Context, userID, sessionID, text, summary string, metadata map[string]any) error
}

// TurnResult is a reply plus the session state after the turn.
type TurnResult struct {
	Reply
	SessionID     string         `json:"session_id"`
	SessionStatus session.Status `json:"session_status"`
}

// Lifecycle drives session state around the orchestrator: escalation on high
// risk, explicit pause/resume/end, and the end-of-session memory write.
type Lifecycle struct {
	sessions     *session.Manager
	orchestrator *Orchestrator
	memory       MemoryWriter
	summarizer   *Summarizer
	metrics      *observability.Metrics
	logger       *slog.Logger
}

func NewLifecycle(
	sessions *session.Manager,
	orchestrator *Orchestrator,
	memory MemoryWriter,
	summarizer *Summarizer,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *Lifecycle {
	logger = logging.OrDefault(logger)
	if summarizer == nil {
		summarizer = NewSummarizer(nil, nil, logger)
	}
	if metrics == nil {
		metrics = orchestrator.metrics
	}
	l := &Lifecycle{
		sessions:     sessions,
		orchestrator: orchestrator,
		memory:       memory,
		summarizer:   summarizer,
		metrics:      metrics,
		logger:       logger,
	}
	sessions.SetExpireHook(l.onExpired)
	return l
}

func (l *Lifecycle) Start(userID, sessionType string) (*session.Session, error) {
	s, err := l.sessions.Create(userID, sessionType)
	if err != nil {
		return nil, err
	}
	l.event("session_started")
	l.logger.Info("session started",
		slog.String("session_id", s.ID),
		slog.String("session_type", s.SessionType),
	)
	return s, nil
}

// HandleMessage runs one turn on an active session. A high-risk turn pauses
// the session and flags the reply as an escalation. A paused session only
// accepts high-risk messages, which get the safety reply.
func (l *Lifecycle) HandleMessage(ctx context.Context, sessionID, text string) (TurnResult, error) {
	s, err := l.sessions.Get(sessionID)
	if err != nil {
		return TurnResult{}, err
	}
	if s.Status == session.StatusCompleted {
		return TurnResult{}, session.ErrCompleted
	}

	tc := TurnContext{
		SessionID:        s.ID,
		UserID:           s.UserID,
		SessionType:      s.SessionType,
		PreviousMessages: previousMessages(s.Turns),
	}
	var reply Reply
	if s.Status == session.StatusPaused {
		safety, high, err := l.orchestrator.Screen(ctx, text, tc)
		if err != nil {
			return TurnResult{}, err
		}
		if !high {
			return TurnResult{}, session.ErrPaused
		}
		reply = safety
	} else {
		reply, err = l.orchestrator.Respond(ctx, text, tc)
		if err != nil {
			if errors.Is(err, ErrGenerationUnavailable) {
				l.event("generation_unavailable")
			}
			return TurnResult{}, err
		}
	}

	now := time.Now().UTC()
	if err := l.sessions.AppendTurn(s.ID, session.Turn{
		Role:      session.RoleUser,
		Text:      text,
		RiskLevel: reply.RiskLevel,
		Timestamp: now,
	}); err != nil {
		return TurnResult{}, err
	}
	if err := l.sessions.AppendTurn(s.ID, session.Turn{
		Role:      session.RoleAssistant,
		Text:      reply.Text,
		Intent:    reply.Intent,
		RiskLevel: reply.RiskLevel,
		Metadata:  turnMetadata(reply),
		Timestamp: now,
	}); err != nil {
		return TurnResult{}, err
	}

	status := s.Status
	if reply.RiskLevel == risk.LevelHigh {
		escalated, changed, err := l.sessions.Escalate(s.ID, reply.Risk.Category)
		if err != nil {
			return TurnResult{}, err
		}
		status = escalated.Status
		reply.CrisisContacts = CrisisContacts()
		if changed {
			reply.Escalated = true
			l.metrics.Escalations.Inc()
			l.event("session_escalated")
			l.logger.Warn("session escalated",
				slog.String("session_id", s.ID),
				slog.String("category", reply.Risk.Category),
			)
		}
	}
	l.refreshActive()
	return TurnResult{Reply: reply, SessionID: s.ID, SessionStatus: status}, nil
}

func (l *Lifecycle) Pause(sessionID string) (*session.Session, error) {
	s, err := l.sessions.Pause(sessionID)
	if err != nil {
		return nil, err
	}
	l.event("session_paused")
	l.refreshActive()
	return s, nil
}

func (l *Lifecycle) Resume(sessionID string) (*session.Session, error) {
	s, err := l.sessions.Resume(sessionID)
	if err != nil {
		return nil, err
	}
	l.event("session_resumed")
	l.refreshActive()
	return s, nil
}

// End completes the session, summarizes it and writes it to long-term memory.
// A failed memory write is logged and does not fail the call.
func (l *Lifecycle) End(ctx context.Context, sessionID string) (*session.Session, error) {
	s, err := l.sessions.End(sessionID)
	if err != nil {
		return nil, err
	}
	l.event("session_ended")
	l.refreshActive()
	return l.finalize(ctx, s), nil
}

func (l *Lifecycle) Get(sessionID string) (*session.Session, error) {
	return l.sessions.Get(sessionID)
}

func (l *Lifecycle) onExpired(s *session.Session) {
	l.event("session_expired")
	l.refreshActive()
	ctx, cancel := context.WithTimeout(context.Background(), summaryTimeout+memoryStoreTimeout)
	defer cancel()
	l.finalize(ctx, s)
}

func (l *Lifecycle) finalize(ctx context.Context, s *session.Session) *session.Session {
	summary, method := l.summarizer.Summarize(ctx, s.Turns)
	redactedSummary, summaryChanged := policy.RedactPII(summary)
	if err := l.sessions.SetSummary(s.ID, redactedSummary); err != nil {
		l.logger.Warn("attach summary failed", slog.String("session_id", s.ID), slog.Any("error", err))
	}
	s.Summary = redactedSummary

	if l.memory == nil {
		return s
	}
	transcript, transcriptChanged := policy.RedactPII(Transcript(s.Turns))
	if transcript == "" {
		l.logger.Info("session had no turns, skipping memory write", slog.String("session_id", s.ID))
		return s
	}

	storeCtx, cancel := context.WithTimeout(ctx, memoryStoreTimeout)
	defer cancel()
	err := l.memory.Store(storeCtx, s.UserID, s.ID, transcript, redactedSummary, map[string]any{
		"session_type":   s.SessionType,
		"turns":          len(s.Turns),
		"escalated":      s.Escalated,
		"end_reason":     string(s.EndReason),
		"summary_method": string(method),
		"pii_redacted":   transcriptChanged || summaryChanged,
	})
	if err != nil {
		l.metrics.Degraded.WithLabelValues("memory", "memory_store_failed").Inc()
		l.logger.Warn("session memory write failed",
			slog.String("reason", "memory_store_failed"),
			slog.String("session_id", s.ID),
			slog.Any("error", err),
		)
		return s
	}
	l.event("memory_stored")
	return s
}

func (l *Lifecycle) event(name string) {
	l.metrics.SessionEvents.WithLabelValues(name).Inc()
}

func (l *Lifecycle) refreshActive() {
	l.metrics.ActiveSessions.Set(float64(l.sessions.ActiveCount()))
}

func previousMessages(turns []session.Turn) []completion.Message {
	out := make([]completion.Message, 0, len(turns))
	for _, t := range turns {
		role := completion.RoleUser
		if t.Role == session.RoleAssistant {
			role = completion.RoleAssistant
		}
		out = append(out, completion.Message{Role: role, Content: t.Text})
	}
	return out
}

func turnMetadata(r Reply) map[string]any {
	meta := map[string]any{
		"was_filtered": r.WasFiltered,
	}
	if len(r.FilterActions) > 0 {
		meta["filter_actions"] = r.FilterActions
	}
	if len(r.Metadata.Tags) > 0 {
		meta["tags"] = r.Metadata.Tags
	}
	if r.Experiment != nil {
		meta["ab_test_id"] = r.Experiment.TestID
		meta["variant"] = string(r.Experiment.Variant)
	}
	return meta
}
