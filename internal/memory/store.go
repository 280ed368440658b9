package memory

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/antoniostano/steady/internal/embedding"
	"github.com/antoniostano/steady/internal/logging"
)

const DefaultRetrieveLimit = 3

// Store embeds text and delegates persistence and search to a Backend.
// The contract is identical whichever backend is configured.
type Store struct {
	backend  Backend
	embedder embedding.Embedder
	logger   *slog.Logger
	now      func() time.Time
}

func NewStore(backend Backend, embedder embedding.Embedder, logger *slog.Logger) *Store {
	return &Store{
		backend:  backend,
		embedder: embedder,
		logger:   logging.OrDefault(logger),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// BackendName reports which backend is serving requests.
func (s *Store) BackendName() string { return s.backend.Name() }

// Store embeds text and writes the session memory. Nothing is written when embedding fails.
func (s *Store) Store(ctx context.Context, userID, sessionID, text, summary string, metadata map[string]any) error {
	userID = strings.TrimSpace(userID)
	sessionID = strings.TrimSpace(sessionID)
	if userID == "" || sessionID == "" {
		return goerr.Wrap(ErrInvalidRecord, "user_id and session_id are required")
	}
	if strings.TrimSpace(text) == "" {
		return goerr.Wrap(ErrInvalidRecord, "memory text is empty", goerr.V("session_id", sessionID))
	}

	vec, err := s.embed(ctx, text)
	if err != nil {
		return err
	}

	err = s.backend.Upsert(ctx, Record{
		UserID:    userID,
		SessionID: sessionID,
		Text:      text,
		Summary:   summary,
		Embedding: vec,
		Timestamp: s.now(),
		Metadata:  metadata,
	})
	if err != nil {
		return goerr.Wrap(ErrMemoryUnavailable, "store memory",
			goerr.V("backend", s.backend.Name()), goerr.V("session_id", sessionID), goerr.V("cause", err.Error()))
	}
	return nil
}

// Retrieve returns up to limit memories for the user ordered by descending relevance.
func (s *Store) Retrieve(ctx context.Context, userID, query string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = DefaultRetrieveLimit
	}
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(query) == "" {
		return []Result{}, nil
	}

	vec, err := s.embed(ctx, query)
	if err != nil {
		return nil, err
	}
	results, err := s.backend.Search(ctx, userID, vec, limit)
	if err != nil {
		return nil, goerr.Wrap(ErrMemoryUnavailable, "search memory",
			goerr.V("backend", s.backend.Name()), goerr.V("cause", err.Error()))
	}
	return rankResults(results, limit), nil
}

func (s *Store) Delete(ctx context.Context, userID, sessionID string) error {
	if err := s.backend.Delete(ctx, userID, sessionID); err != nil {
		return goerr.Wrap(ErrMemoryUnavailable, "delete memory",
			goerr.V("backend", s.backend.Name()), goerr.V("session_id", sessionID), goerr.V("cause", err.Error()))
	}
	return nil
}

// DeleteUser erases every memory for a user.
func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	if err := s.backend.DeleteUser(ctx, userID); err != nil {
		return goerr.Wrap(ErrMemoryUnavailable, "delete user memories",
			goerr.V("backend", s.backend.Name()), goerr.V("cause", err.Error()))
	}
	s.logger.Info("user memories erased", slog.String("backend", s.backend.Name()))
	return nil
}

func (s *Store) Close() error { return s.backend.Close() }

func (s *Store) embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, goerr.Wrap(ErrEmbeddingFailed, "embed text",
			goerr.V("provider", s.embedder.Name()), goerr.V("cause", err.Error()))
	}
	if want := s.embedder.Dimension(); want > 0 && len(vec) != want {
		return nil, goerr.Wrap(ErrDimensionMismatch, "embedder returned unexpected size",
			goerr.V("want", want), goerr.V("got", len(vec)))
	}
	return vec, nil
}
