package memory

import (
	"context"
	"errors"
	"time"
)

var (
	ErrMemoryUnavailable = errors.New("memory backend unavailable")
	ErrEmbeddingFailed   = errors.New("memory embedding failed")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrInvalidRecord     = errors.New("invalid memory record")
)

// Record is the long-term memory of one completed session. Records are immutable
// once written; storing the same (user, session) again replaces the record.
type Record struct {
	UserID    string         `json:"user_id"`
	SessionID string         `json:"session_id"`
	Text      string         `json:"text"`
	Summary   string         `json:"summary"`
	Embedding []float32      `json:"-"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Result is a retrieved memory ranked by relevance to a query.
type Result struct {
	SessionID      string         `json:"session_id"`
	Text           string         `json:"text"`
	Summary        string         `json:"summary"`
	Timestamp      time.Time      `json:"timestamp"`
	RelevanceScore float64        `json:"relevance_score"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Backend is a vector index scoped by user. Search must only return the user's records.
type Backend interface {
	Name() string
	Upsert(ctx context.Context, record Record) error
	Search(ctx context.Context, userID string, vector []float32, limit int) ([]Result, error)
	Delete(ctx context.Context, userID, sessionID string) error
	DeleteUser(ctx context.Context, userID string) error
	Close() error
}
