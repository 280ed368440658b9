package memory

import (
	"context"
	"log/slog"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/antoniostano/steady/internal/logging"
)

// BackendConfig selects and addresses a memory backend.
type BackendConfig struct {
	Kind        string
	Dimension   int
	DatabaseURL string
	Qdrant      QdrantConfig
	Weaviate    WeaviateConfig
}

// NewBackend opens the configured backend. Any backend that cannot be reached
// at startup degrades to the in-process index; the returned reason is empty
// when no degradation happened.
func NewBackend(ctx context.Context, cfg BackendConfig, logger *slog.Logger) (Backend, string) {
	logger = logging.OrDefault(logger)
	kind := strings.ToLower(strings.TrimSpace(cfg.Kind))

	var (
		backend Backend
		err     error
	)
	switch kind {
	case "", "memory":
		return NewInMemoryBackend(), ""
	case "qdrant":
		qcfg := cfg.Qdrant
		qcfg.Dimension = cfg.Dimension
		backend, err = NewQdrantBackend(ctx, qcfg)
	case "weaviate":
		backend, err = NewWeaviateBackend(ctx, cfg.Weaviate)
	case "postgres":
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			err = goerr.New("DATABASE_URL is empty")
		} else {
			backend, err = NewPostgresBackend(ctx, cfg.DatabaseURL, cfg.Dimension)
		}
	default:
		err = goerr.New("unknown memory backend", goerr.V("kind", kind))
	}
	if err != nil {
		logger.Warn("memory backend unavailable, using in-memory index",
			slog.String("backend", kind),
			slog.String("reason", "backend_unreachable"),
			slog.Any("error", err),
		)
		return NewInMemoryBackend(), "backend_unreachable"
	}
	logger.Info("memory backend ready", slog.String("backend", backend.Name()))
	return backend, ""
}
