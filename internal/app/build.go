package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/antoniostano/steady/internal/coach"
	"github.com/antoniostano/steady/internal/completion"
	"github.com/antoniostano/steady/internal/config"
	"github.com/antoniostano/steady/internal/embedding"
	"github.com/antoniostano/steady/internal/experiment"
	"github.com/antoniostano/steady/internal/httpapi"
	"github.com/antoniostano/steady/internal/logging"
	"github.com/antoniostano/steady/internal/memory"
	"github.com/antoniostano/steady/internal/observability"
	"github.com/antoniostano/steady/internal/policy"
	"github.com/antoniostano/steady/internal/ratelimit"
	"github.com/antoniostano/steady/internal/risk"
	"github.com/antoniostano/steady/internal/session"
)

const riskModelTimeout = 2 * time.Second

type BuildResult struct {
	Config      config.Config
	API         *httpapi.Server
	Sessions    *session.Manager
	Lifecycle   *coach.Lifecycle
	Risk        *risk.Classifier
	Memory      *memory.Store
	Experiments *experiment.Service
	Metrics     *observability.Metrics
	// Provider is the completion provider name, empty when generation is unavailable.
	Provider string

	// Cleanup should be called on shutdown to release external resources (DB, redis, model sessions).
	Cleanup func() error
}

// closers collects shutdown hooks in construction order and runs them in reverse.
type closers []func() error

func (c *closers) add(fn func() error) { *c = append(*c, fn) }

func (c closers) close() error {
	var errs []string
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	logger = logging.OrDefault(logger)
	metrics := observability.NewMetrics(cfg.MetricsNamespace, nil)
	lexicon := policy.Default()

	var cleanup closers
	fail := func(err error) (*BuildResult, error) {
		_ = cleanup.close()
		return nil, err
	}

	embedder, err := embedding.New(ctx, embedding.Config{
		Provider:      cfg.EmbeddingProvider,
		Model:         cfg.EmbeddingModel,
		Dimension:     cfg.EmbeddingDim,
		CacheSize:     cfg.EmbeddingCacheSize,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		GeminiAPIKey:  cfg.GeminiAPIKey,
		GCPProject:    cfg.GoogleCloudProject,
		GCPLocation:   cfg.GoogleCloudLocation,
	}, logger)
	if err != nil {
		return fail(fmt.Errorf("embedding init failed: %w", err))
	}

	backend, reason := memory.NewBackend(ctx, memory.BackendConfig{
		Kind:        cfg.MemoryBackend,
		Dimension:   embedder.Dimension(),
		DatabaseURL: cfg.DatabaseURL,
		Qdrant: memory.QdrantConfig{
			Host:       cfg.QdrantHost,
			Port:       cfg.QdrantPort,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
		},
		Weaviate: memory.WeaviateConfig{
			Host:   cfg.WeaviateHost,
			Scheme: cfg.WeaviateScheme,
			APIKey: cfg.WeaviateAPIKey,
			Class:  cfg.WeaviateClass,
		},
	}, logger)
	if reason != "" {
		metrics.Degraded.WithLabelValues("memory", reason).Inc()
	}
	memoryStore := memory.NewStore(backend, embedder, logger)
	cleanup.add(memoryStore.Close)
	metrics.MemoryBackendActive.WithLabelValues(memoryStore.BackendName()).Set(1)

	classifier, closeRisk := NewRiskClassifier(cfg, lexicon, metrics, logger)
	cleanup.add(closeRisk)

	provider, err := completion.NewProvider(ctx, completion.Config{
		Mode:            cfg.CompletionProvider,
		FallbackMode:    cfg.CompletionFallbackProvider,
		Model:           cfg.CompletionModel,
		HTTPURL:         cfg.CompletionHTTPURL,
		Timeout:         cfg.CompletionTimeout,
		AnthropicAPIKey: cfg.AnthropicAPIKey,
		OpenAIAPIKey:    cfg.OpenAIAPIKey,
		OpenAIBaseURL:   cfg.OpenAIBaseURL,
		GeminiAPIKey:    cfg.GeminiAPIKey,
		GoogleProject:   cfg.GoogleCloudProject,
		GoogleLocation:  cfg.GoogleCloudLocation,
	})
	providerName := ""
	switch {
	case errors.Is(err, completion.ErrUnconfigured):
		// Safety replies and the rest of the API still work without generation.
		provider = nil
		metrics.Degraded.WithLabelValues("generation", "provider_unconfigured").Inc()
		logger.Warn("no completion provider configured, turns will return generation_unavailable",
			slog.String("mode", cfg.CompletionProvider))
	case err != nil:
		return fail(fmt.Errorf("completion provider init failed: %w", err))
	default:
		providerName = provider.Name()
		logger.Info("completion provider ready", slog.String("provider", providerName))
	}

	experimentStore, err := newExperimentStore(ctx, cfg, logger)
	if err != nil {
		return fail(err)
	}
	cleanup.add(experimentStore.Close)
	experiments := experiment.NewService(experimentStore, logger)

	limiter, closeLimiter, err := newLimiter(ctx, cfg, metrics, logger)
	if err != nil {
		return fail(err)
	}
	cleanup.add(closeLimiter)

	sessions := session.NewManager(cfg.SessionInactivityTimeout)

	orchestrator := coach.NewOrchestrator(coach.Config{
		ModelType:     cfg.ConversationModelType,
		MaxLength:     cfg.ResponseMaxLength,
		MinLength:     cfg.ResponseMinLength,
		MemoryTimeout: cfg.MemoryRetrieveTimeout,
		MaxTokens:     cfg.CompletionMaxTokens,
		Temperature:   cfg.CompletionTemperature,
	}, coach.Deps{
		Risk:        classifier,
		Memory:      memoryStore,
		Provider:    provider,
		Lexicon:     lexicon,
		Experiments: experiments,
		Limiter:     limiter,
		Metrics:     metrics,
		Logger:      logger,
	})
	lifecycle := coach.NewLifecycle(
		sessions,
		orchestrator,
		memoryStore,
		coach.NewSummarizer(provider, lexicon, logger),
		metrics,
		logger,
	)

	api := httpapi.New(cfg, httpapi.Deps{
		Lifecycle:   lifecycle,
		Risk:        classifier,
		Memory:      memoryStore,
		Experiments: experiments,
		Metrics:     metrics,
		Logger:      logger,
		Provider:    providerName,
	})

	return &BuildResult{
		Config:      cfg,
		API:         api,
		Sessions:    sessions,
		Lifecycle:   lifecycle,
		Risk:        classifier,
		Memory:      memoryStore,
		Experiments: experiments,
		Metrics:     metrics,
		Provider:    providerName,
		Cleanup:     cleanup.close,
	}, nil
}

// NewRiskClassifier assembles the strategy chain: the local ONNX model when
// RISK_MODEL_PATH is set, the remote model when RISK_MODEL_URL is set, then
// the rule cascade. A model that fails to load is left out with a warning.
func NewRiskClassifier(cfg config.Config, lexicon *policy.Lexicon, metrics *observability.Metrics, logger *slog.Logger) (*risk.Classifier, func() error) {
	logger = logging.OrDefault(logger)
	var (
		models  []risk.Model
		closeFn = func() error { return nil }
	)
	if cfg.RiskModelPath != "" {
		m, err := risk.NewHugotModel(risk.HugotConfig{ModelPath: cfg.RiskModelPath})
		if err != nil {
			metrics.RiskModelFallbacks.WithLabelValues("hugot", "load_failed").Inc()
			logger.Warn("risk model unavailable, skipping", slog.String("model", "hugot"), slog.Any("error", err))
		} else {
			models = append(models, m)
			closeFn = m.Close
		}
	}
	if cfg.RiskModelURL != "" {
		models = append(models, risk.NewHTTPModel(cfg.RiskModelURL, riskModelTimeout))
	}

	classifier := risk.NewClassifier(risk.NewRules(lexicon), logger, models...)
	classifier.SetFallbackObserver(func(model, reason string) {
		metrics.RiskModelFallbacks.WithLabelValues(model, reason).Inc()
	})
	logger.Info("risk classifier ready", slog.Any("strategies", classifier.Strategies()))
	return classifier, closeFn
}

func newExperimentStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (experiment.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Info("experiment store ready", slog.String("store", "memory"))
		return experiment.NewInMemoryStore(), nil
	}
	store, err := experiment.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("experiment store init failed: %w", err)
	}
	logger.Info("experiment store ready", slog.String("store", "postgres"))
	return store, nil
}

// newLimiter prefers Redis so limits hold across replicas. An unreachable Redis
// degrades to a per-process window rather than failing startup.
func newLimiter(ctx context.Context, cfg config.Config, metrics *observability.Metrics, logger *slog.Logger) (ratelimit.Limiter, func() error, error) {
	noClose := func() error { return nil }
	if cfg.TurnLimit == 0 {
		logger.Info("turn limit disabled")
		return ratelimit.Noop{}, noClose, nil
	}
	if cfg.RedisAddr != "" {
		client, err := ratelimit.Dial(ctx, cfg.RedisAddr)
		if err == nil {
			logger.Info("turn limiter ready", slog.String("store", "redis"), slog.Int("limit", cfg.TurnLimit))
			return ratelimit.NewRedisLimiter(client, cfg.TurnLimit, cfg.TurnLimitWindow), client.Close, nil
		}
		metrics.Degraded.WithLabelValues("ratelimit", "redis_unreachable").Inc()
		logger.Warn("redis unreachable, using in-process turn limiter",
			slog.String("reason", "redis_unreachable"),
			slog.Any("error", err),
		)
	}
	return ratelimit.NewMemoryLimiter(cfg.TurnLimit, cfg.TurnLimitWindow), noClose, nil
}
