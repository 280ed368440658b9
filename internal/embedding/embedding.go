package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/antoniostano/steady/internal/logging"
)

// Embedder turns text into a fixed-size vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	Name() string
}

var ErrEmptyEmbedding = errors.New("embedding provider returned no vector")

// Config selects and tunes the embedding provider.
type Config struct {
	Provider  string
	Model     string
	Dimension int
	CacheSize int

	OpenAIAPIKey  string
	OpenAIBaseURL string

	GeminiAPIKey string
	GCPProject   string
	GCPLocation  string
}

// New builds the configured embedder. "auto" picks OpenAI, then Gemini, then the
// local hashing embedder, based on which credentials are present.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (Embedder, error) {
	logger = logging.OrDefault(logger)
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "auto"
	}
	if provider == "auto" {
		switch {
		case cfg.OpenAIAPIKey != "":
			provider = "openai"
		case cfg.GeminiAPIKey != "" || cfg.GCPProject != "":
			provider = "gemini"
		default:
			provider = "hash"
		}
	}

	var (
		base Embedder
		err  error
	)
	switch provider {
	case "openai":
		base, err = NewOpenAIEmbedder(OpenAIConfig{
			APIKey:    cfg.OpenAIAPIKey,
			BaseURL:   cfg.OpenAIBaseURL,
			Model:     cfg.Model,
			Dimension: cfg.Dimension,
		})
	case "gemini":
		base, err = NewGeminiEmbedder(ctx, GeminiConfig{
			APIKey:    cfg.GeminiAPIKey,
			Project:   cfg.GCPProject,
			Location:  cfg.GCPLocation,
			Model:     cfg.Model,
			Dimension: cfg.Dimension,
		})
	case "hash":
		base = NewHashEmbedder(cfg.Dimension)
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("%s embedder init failed: %w", provider, err)
	}

	logger.Info("embedding provider ready",
		slog.String("provider", base.Name()),
		slog.Int("dimension", base.Dimension()),
		slog.Int("cache_size", cfg.CacheSize),
	)
	if cfg.CacheSize > 0 {
		return NewCachedEmbedder(base, cfg.CacheSize)
	}
	return base, nil
}
