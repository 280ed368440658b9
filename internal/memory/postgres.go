package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/m-mizutani/goerr/v2"
)

// PostgresBackend persists session memories in PostgreSQL with pgvector.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

func NewPostgresBackend(ctx context.Context, databaseURL string, dim int) (*PostgresBackend, error) {
	if dim <= 0 {
		return nil, goerr.New("postgres memory backend needs a positive embedding dimension")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, goerr.Wrap(err, "connect postgres")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, goerr.Wrap(err, "ping postgres")
	}
	if err := initMemorySchema(ctx, pool, dim); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresBackend{pool: pool}, nil
}

func initMemorySchema(ctx context.Context, pool *pgxpool.Pool, dim int) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector;`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS session_memories (
			user_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			text TEXT NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			metadata JSONB,
			embedding vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (user_id, session_id)
		);`, dim),
		`CREATE INDEX IF NOT EXISTS idx_session_memories_user ON session_memories (user_id);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return goerr.Wrap(err, "init memory schema", goerr.V("stmt", stmt))
		}
	}
	return nil
}

func (b *PostgresBackend) Name() string { return "postgres" }

func (b *PostgresBackend) Upsert(ctx context.Context, record Record) error {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	var meta []byte
	if len(record.Metadata) > 0 {
		raw, err := json.Marshal(record.Metadata)
		if err != nil {
			return goerr.Wrap(ErrInvalidRecord, "encode metadata", goerr.V("cause", err.Error()))
		}
		meta = raw
	}

	_, err := b.pool.Exec(ctx,
		`INSERT INTO session_memories (user_id, session_id, text, summary, metadata, embedding, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::vector, $7)
		 ON CONFLICT (user_id, session_id) DO UPDATE SET
			text = EXCLUDED.text,
			summary = EXCLUDED.summary,
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding,
			created_at = EXCLUDED.created_at`,
		record.UserID,
		record.SessionID,
		record.Text,
		record.Summary,
		meta,
		vectorLiteral(record.Embedding),
		record.Timestamp,
	)
	if err != nil {
		return goerr.Wrap(err, "upsert session memory", goerr.V("session_id", record.SessionID))
	}
	return nil
}

func (b *PostgresBackend) Search(ctx context.Context, userID string, vector []float32, limit int) ([]Result, error) {
	rows, err := b.pool.Query(ctx,
		`SELECT session_id, text, summary, metadata, created_at, 1 - (embedding <=> $2::vector) AS similarity
		 FROM session_memories WHERE user_id=$1
		 ORDER BY embedding <=> $2::vector LIMIT $3`,
		userID,
		vectorLiteral(vector),
		limit,
	)
	if err != nil {
		return nil, goerr.Wrap(err, "query session memories")
	}
	defer rows.Close()

	results := make([]Result, 0, limit)
	for rows.Next() {
		var (
			r    Result
			meta []byte
		)
		if err := rows.Scan(&r.SessionID, &r.Text, &r.Summary, &meta, &r.Timestamp, &r.RelevanceScore); err != nil {
			return nil, goerr.Wrap(err, "scan session memory")
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &r.Metadata)
		}
		r.Timestamp = r.Timestamp.UTC()
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "iterate session memories")
	}
	return results, nil
}

func (b *PostgresBackend) Delete(ctx context.Context, userID, sessionID string) error {
	if _, err := b.pool.Exec(ctx, `DELETE FROM session_memories WHERE user_id=$1 AND session_id=$2`, userID, sessionID); err != nil {
		return goerr.Wrap(err, "delete session memory", goerr.V("session_id", sessionID))
	}
	return nil
}

func (b *PostgresBackend) DeleteUser(ctx context.Context, userID string) error {
	if _, err := b.pool.Exec(ctx, `DELETE FROM session_memories WHERE user_id=$1`, userID); err != nil {
		return goerr.Wrap(err, "delete user memories")
	}
	return nil
}

func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}

// vectorLiteral renders a pgvector text literal such as [0.1,0.2].
func vectorLiteral(v []float32) string {
	var sb strings.Builder
	sb.Grow(len(v)*10 + 2)
	sb.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(x), 'f', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String()
}
