package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains all runtime settings for the coaching conversation service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	LogLevel  string
	LogFormat string

	CompletionProvider         string
	CompletionFallbackProvider string
	CompletionModel            string
	CompletionMaxTokens        int
	CompletionTemperature      float64
	CompletionHTTPURL          string
	CompletionTimeout          time.Duration

	AnthropicAPIKey     string
	OpenAIAPIKey        string
	OpenAIBaseURL       string
	GeminiAPIKey        string
	GoogleCloudProject  string
	GoogleCloudLocation string

	EmbeddingProvider  string
	EmbeddingModel     string
	EmbeddingDim       int
	EmbeddingCacheSize int

	MemoryBackend         string
	MemoryRetrieveTimeout time.Duration
	QdrantHost            string
	QdrantPort            int
	QdrantAPIKey          string
	QdrantCollection      string
	WeaviateHost          string
	WeaviateScheme        string
	WeaviateAPIKey        string
	WeaviateClass         string

	RiskModelPath string
	RiskModelURL  string

	DatabaseURL string

	RedisAddr       string
	TurnLimit       int
	TurnLimitWindow time.Duration

	ResponseMaxLength     int
	ResponseMinLength     int
	ConversationModelType string
}

// LoadEnvFile merges variables from a dotenv file into the process environment.
// Variables already set win. A missing file is not an error.
func LoadEnvFile(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                   envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:           envOrDefault("APP_METRICS_NAMESPACE", "steady"),
		AllowAnyOrigin:             false,
		LogLevel:                   envOrDefault("LOG_LEVEL", "info"),
		LogFormat:                  envOrDefault("LOG_FORMAT", "text"),
		CompletionProvider:         envOrDefault("COMPLETION_PROVIDER", "auto"),
		CompletionFallbackProvider: stringsTrimSpace("COMPLETION_FALLBACK_PROVIDER"),
		CompletionModel:            stringsTrimSpace("COMPLETION_MODEL"),
		CompletionMaxTokens:        400,
		CompletionTemperature:      0.7,
		CompletionHTTPURL:          stringsTrimSpace("COMPLETION_HTTP_URL"),
		CompletionTimeout:          30 * time.Second,
		AnthropicAPIKey:            stringsTrimSpace("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:               stringsTrimSpace("OPENAI_API_KEY"),
		OpenAIBaseURL:              stringsTrimSpace("OPENAI_BASE_URL"),
		GeminiAPIKey:               stringsTrimSpace("GEMINI_API_KEY"),
		GoogleCloudProject:         stringsTrimSpace("GOOGLE_CLOUD_PROJECT"),
		GoogleCloudLocation:        envOrDefault("GOOGLE_CLOUD_LOCATION", "us-central1"),
		EmbeddingProvider:          envOrDefault("EMBEDDING_PROVIDER", "auto"),
		EmbeddingModel:             stringsTrimSpace("EMBEDDING_MODEL"),
		EmbeddingDim:               0,
		EmbeddingCacheSize:         1024,
		MemoryBackend:              envOrDefault("MEMORY_BACKEND", "memory"),
		MemoryRetrieveTimeout:      2 * time.Second,
		QdrantHost:                 envOrDefault("QDRANT_HOST", "localhost"),
		QdrantPort:                 6334,
		QdrantAPIKey:               stringsTrimSpace("QDRANT_API_KEY"),
		QdrantCollection:           envOrDefault("QDRANT_COLLECTION", "session_memories"),
		WeaviateHost:               envOrDefault("WEAVIATE_HOST", "localhost:8081"),
		WeaviateScheme:             envOrDefault("WEAVIATE_SCHEME", "http"),
		WeaviateAPIKey:             stringsTrimSpace("WEAVIATE_API_KEY"),
		WeaviateClass:              envOrDefault("WEAVIATE_CLASS", "SessionMemory"),
		RiskModelPath:              stringsTrimSpace("RISK_MODEL_PATH"),
		RiskModelURL:               stringsTrimSpace("RISK_MODEL_URL"),
		DatabaseURL:                stringsTrimSpace("DATABASE_URL"),
		RedisAddr:                  stringsTrimSpace("REDIS_ADDR"),
		TurnLimit:                  60,
		TurnLimitWindow:            time.Hour,
		ResponseMaxLength:          1000,
		ResponseMinLength:          20,
		ConversationModelType:      envOrDefault("CONVERSATION_MODEL_TYPE", "conversation"),
		ShutdownTimeout:            15 * time.Second,
		SessionInactivityTimeout:   30 * time.Minute,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.CompletionMaxTokens, err = intFromEnv("COMPLETION_MAX_TOKENS", cfg.CompletionMaxTokens)
	if err != nil {
		return Config{}, err
	}
	cfg.CompletionTemperature, err = floatFromEnv("COMPLETION_TEMPERATURE", cfg.CompletionTemperature)
	if err != nil {
		return Config{}, err
	}
	cfg.CompletionTimeout, err = durationFromEnv("COMPLETION_TIMEOUT", cfg.CompletionTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.EmbeddingDim, err = intFromEnv("EMBEDDING_DIM", cfg.EmbeddingDim)
	if err != nil {
		return Config{}, err
	}
	cfg.EmbeddingCacheSize, err = intFromEnv("EMBEDDING_CACHE_SIZE", cfg.EmbeddingCacheSize)
	if err != nil {
		return Config{}, err
	}
	cfg.MemoryRetrieveTimeout, err = durationFromEnv("MEMORY_RETRIEVE_TIMEOUT", cfg.MemoryRetrieveTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.QdrantPort, err = intFromEnv("QDRANT_PORT", cfg.QdrantPort)
	if err != nil {
		return Config{}, err
	}
	cfg.TurnLimit, err = intFromEnv("TURN_LIMIT", cfg.TurnLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.TurnLimitWindow, err = durationFromEnv("TURN_LIMIT_WINDOW", cfg.TurnLimitWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.ResponseMaxLength, err = intFromEnv("RESPONSE_MAX_LENGTH", cfg.ResponseMaxLength)
	if err != nil {
		return Config{}, err
	}
	cfg.ResponseMinLength, err = intFromEnv("RESPONSE_MIN_LENGTH", cfg.ResponseMinLength)
	if err != nil {
		return Config{}, err
	}

	cfg.CompletionProvider = strings.ToLower(cfg.CompletionProvider)
	cfg.EmbeddingProvider = strings.ToLower(cfg.EmbeddingProvider)
	cfg.MemoryBackend = strings.ToLower(cfg.MemoryBackend)

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.EmbeddingDim < 0 {
		return Config{}, fmt.Errorf("EMBEDDING_DIM must be >= 0")
	}
	if cfg.CompletionMaxTokens <= 0 {
		return Config{}, fmt.Errorf("COMPLETION_MAX_TOKENS must be positive")
	}
	if cfg.CompletionTemperature < 0 || cfg.CompletionTemperature > 2 {
		return Config{}, fmt.Errorf("COMPLETION_TEMPERATURE must be within [0,2]")
	}
	if cfg.TurnLimit < 0 {
		return Config{}, fmt.Errorf("TURN_LIMIT must be >= 0")
	}
	if cfg.ResponseMinLength < 0 || cfg.ResponseMaxLength <= cfg.ResponseMinLength {
		return Config{}, fmt.Errorf("RESPONSE_MAX_LENGTH must exceed RESPONSE_MIN_LENGTH")
	}
	switch cfg.MemoryBackend {
	case "memory", "qdrant", "weaviate", "postgres":
	default:
		return Config{}, fmt.Errorf("invalid MEMORY_BACKEND %q (expected memory|qdrant|weaviate|postgres)", cfg.MemoryBackend)
	}
	switch cfg.EmbeddingProvider {
	case "auto", "openai", "gemini", "hash":
	default:
		return Config{}, fmt.Errorf("invalid EMBEDDING_PROVIDER %q (expected auto|openai|gemini|hash)", cfg.EmbeddingProvider)
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
