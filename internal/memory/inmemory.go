package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// InMemoryBackend is an in-process vector index for local/dev use and the
// fallback when an external backend cannot be reached at startup.
type InMemoryBackend struct {
	mu    sync.Mutex
	users map[string]*userBucket
	dim   int
}

type userBucket struct {
	mu       sync.RWMutex
	sessions map[string]Record
}

func NewInMemoryBackend() *InMemoryBackend {
	return &InMemoryBackend{users: make(map[string]*userBucket)}
}

func (b *InMemoryBackend) Name() string { return "memory" }

func (b *InMemoryBackend) bucket(userID string, create bool) *userBucket {
	b.mu.Lock()
	defer b.mu.Unlock()
	ub, ok := b.users[userID]
	if !ok && create {
		ub = &userBucket{sessions: make(map[string]Record)}
		b.users[userID] = ub
	}
	return ub
}

func (b *InMemoryBackend) checkDimension(n int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dim == 0 {
		b.dim = n
		return nil
	}
	if b.dim != n {
		return goerr.Wrap(ErrDimensionMismatch, "in-memory index", goerr.V("want", b.dim), goerr.V("got", n))
	}
	return nil
}

func (b *InMemoryBackend) Upsert(_ context.Context, record Record) error {
	if len(record.Embedding) == 0 {
		return goerr.Wrap(ErrInvalidRecord, "record has no embedding", goerr.V("session_id", record.SessionID))
	}
	if err := b.checkDimension(len(record.Embedding)); err != nil {
		return err
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	record.Embedding = append([]float32(nil), record.Embedding...)
	record.Metadata = maps.Clone(record.Metadata)

	ub := b.bucket(record.UserID, true)
	ub.mu.Lock()
	defer ub.mu.Unlock()
	ub.sessions[record.SessionID] = record
	return nil
}

func (b *InMemoryBackend) Search(_ context.Context, userID string, vector []float32, limit int) ([]Result, error) {
	ub := b.bucket(userID, false)
	if ub == nil {
		return []Result{}, nil
	}

	ub.mu.RLock()
	results := make([]Result, 0, len(ub.sessions))
	for _, r := range ub.sessions {
		results = append(results, Result{
			SessionID:      r.SessionID,
			Text:           r.Text,
			Summary:        r.Summary,
			Timestamp:      r.Timestamp,
			RelevanceScore: CosineSimilarity(vector, r.Embedding),
			Metadata:       maps.Clone(r.Metadata),
		})
	}
	ub.mu.RUnlock()

	return rankResults(results, limit), nil
}

func (b *InMemoryBackend) Delete(_ context.Context, userID, sessionID string) error {
	ub := b.bucket(userID, false)
	if ub == nil {
		return nil
	}
	ub.mu.Lock()
	defer ub.mu.Unlock()
	delete(ub.sessions, sessionID)
	return nil
}

func (b *InMemoryBackend) DeleteUser(_ context.Context, userID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.users, userID)
	return nil
}

// Count returns the number of stored records for a user.
func (b *InMemoryBackend) Count(userID string) int {
	ub := b.bucket(userID, false)
	if ub == nil {
		return 0
	}
	ub.mu.RLock()
	defer ub.mu.RUnlock()
	return len(ub.sessions)
}

func (b *InMemoryBackend) Close() error { return nil }
