package session

import (
	"time"

	"github.com/antoniostano/steady/internal/policy"
	"github.com/antoniostano/steady/internal/risk"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool { return r == RoleUser || r == RoleAssistant }

// Turn is one message in a session transcript.
type Turn struct {
	Role      Role           `json:"role"`
	Text      string         `json:"text"`
	Intent    policy.Intent  `json:"intent,omitempty"`
	RiskLevel risk.Level     `json:"risk_level,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// CreateRequest defines payload for creating a new session.
type CreateRequest struct {
	UserID      string `json:"user_id"`
	SessionType string `json:"session_type"`
}

// CreateResponse returns created session metadata.
type CreateResponse struct {
	SessionID       string    `json:"session_id"`
	UserID          string    `json:"user_id"`
	SessionType     string    `json:"session_type"`
	Status          Status    `json:"status"`
	StartedAt       time.Time `json:"started_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
	InactivityTTLMS int64     `json:"inactivity_ttl_ms"`
}
