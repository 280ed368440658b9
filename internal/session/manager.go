package session

import (
	"context"
	"errors"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

var (
	ErrNotFound          = errors.New("session not found")
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrCompleted         = errors.New("session is completed")
	ErrPaused            = errors.New("session is paused")
	ErrInvalidSession    = errors.New("invalid session")
)

// EndReason records why a session completed.
type EndReason string

const (
	EndReasonUser       EndReason = "user"
	EndReasonInactivity EndReason = "inactivity"
)

type Session struct {
	ID               string     `json:"session_id"`
	UserID           string     `json:"user_id"`
	SessionType      string     `json:"session_type"`
	Status           Status     `json:"status"`
	Escalated        bool       `json:"escalated"`
	EscalationReason string     `json:"escalation_reason,omitempty"`
	Summary          string     `json:"summary,omitempty"`
	EndReason        EndReason  `json:"end_reason,omitempty"`
	StartedAt        time.Time  `json:"started_at"`
	LastActivityAt   time.Time  `json:"last_activity_at"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
	Turns            []Turn     `json:"turns,omitempty"`
}

// Manager owns every live session. Turns are append-only and a completed
// session accepts no further changes except its summary.
type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	inactivityTimeout time.Duration
	onExpire          func(*Session)
	now               func() time.Time
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 30 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		inactivityTimeout: inactivityTimeout,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

func (m *Manager) InactivityTimeout() time.Duration { return m.inactivityTimeout }

// SetExpireHook registers fn to run, outside the lock, for every session the
// janitor completes.
func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

func (m *Manager) Create(userID, sessionType string) (*Session, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrInvalidSession
	}
	sessionType = strings.TrimSpace(sessionType)
	if sessionType == "" {
		sessionType = "default"
	}
	now := m.now()
	s := &Session{
		ID:             uuid.NewString(),
		UserID:         userID,
		SessionType:    sessionType,
		Status:         StatusActive,
		StartedAt:      now,
		LastActivityAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return clone(s), nil
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

// AppendTurn records a turn on a session that is not completed.
func (m *Manager) AppendTurn(sessionID string, turn Turn) error {
	if !turn.Role.Valid() {
		return ErrInvalidSession
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if s.Status == StatusCompleted {
		return ErrCompleted
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = m.now()
	}
	s.Turns = append(s.Turns, turn)
	s.LastActivityAt = turn.Timestamp
	return nil
}

// Turns returns a copy of the session transcript in append order.
func (m *Manager) Turns(sessionID string) ([]Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTurns(s.Turns), nil
}

func (m *Manager) Pause(sessionID string) (*Session, error) {
	return m.transition(sessionID, func(s *Session) error {
		if s.Status != StatusActive {
			return transitionError(s.Status)
		}
		s.Status = StatusPaused
		return nil
	})
}

// Escalate pauses an active session and flags it for human follow-up. The
// second return value is false when the session was not active, in which
// case nothing changes.
func (m *Manager) Escalate(sessionID, reason string) (*Session, bool, error) {
	var changed bool
	s, err := m.transition(sessionID, func(s *Session) error {
		if s.Status != StatusActive {
			return nil
		}
		s.Status = StatusPaused
		s.Escalated = true
		s.EscalationReason = reason
		changed = true
		return nil
	})
	return s, changed, err
}

func (m *Manager) Resume(sessionID string) (*Session, error) {
	return m.transition(sessionID, func(s *Session) error {
		if s.Status != StatusPaused {
			return transitionError(s.Status)
		}
		s.Status = StatusActive
		return nil
	})
}

// End completes an active session. Completed is terminal.
func (m *Manager) End(sessionID string) (*Session, error) {
	return m.transition(sessionID, func(s *Session) error {
		if s.Status != StatusActive {
			return transitionError(s.Status)
		}
		m.complete(s, EndReasonUser)
		return nil
	})
}

// SetSummary attaches the end-of-session summary to a completed session.
func (m *Manager) SetSummary(sessionID, summary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if s.Status != StatusCompleted {
		return ErrInvalidTransition
	}
	s.Summary = summary
	return nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.Status == StatusActive {
			count++
		}
	}
	return count
}

func (m *Manager) transition(sessionID string, fn func(*Session) error) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if err := fn(s); err != nil {
		return nil, err
	}
	if s.Status != StatusCompleted {
		s.LastActivityAt = m.now()
	}
	return clone(s), nil
}

func (m *Manager) complete(s *Session, reason EndReason) {
	now := m.now()
	s.Status = StatusCompleted
	s.EndReason = reason
	s.EndedAt = &now
	s.LastActivityAt = now
}

func (m *Manager) expireInactive() {
	now := m.now()
	var expired []*Session

	m.mu.Lock()
	for _, s := range m.sessions {
		if s.Status != StatusActive {
			continue
		}
		if now.Sub(s.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		m.complete(s, EndReasonInactivity)
		expired = append(expired, clone(s))
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func transitionError(from Status) error {
	if from == StatusCompleted {
		return ErrCompleted
	}
	return ErrInvalidTransition
}

func clone(s *Session) *Session {
	c := *s
	c.Turns = cloneTurns(s.Turns)
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	return &c
}

func cloneTurns(turns []Turn) []Turn {
	out := slices.Clone(turns)
	for i := range out {
		out[i].Metadata = maps.Clone(out[i].Metadata)
	}
	return out
}
