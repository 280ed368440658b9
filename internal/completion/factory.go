package completion

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// NewProvider builds the configured provider, optionally chained to a fallback
// and wrapped with per-call timeout and retry. Mode "auto" picks the first
// provider with credentials; when none has any it returns ErrUnconfigured.
func NewProvider(ctx context.Context, cfg Config) (Provider, error) {
	primary, err := buildProvider(ctx, cfg, cfg.Mode)
	if err != nil {
		return nil, err
	}

	fbMode := strings.ToLower(strings.TrimSpace(cfg.FallbackMode))
	if fbMode != "" && fbMode != "none" && fbMode != strings.ToLower(primary.Name()) {
		fallback, err := buildProvider(ctx, cfg, fbMode)
		if err != nil {
			return nil, goerr.Wrap(err, "build fallback provider", goerr.V("mode", fbMode))
		}
		primary = NewFallbackProvider(withRetry(primary, cfg), withRetry(fallback, cfg))
		return primary, nil
	}
	return withRetry(primary, cfg), nil
}

func withRetry(p Provider, cfg Config) Provider {
	if _, ok := p.(*MockProvider); ok {
		return p
	}
	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = 2
	}
	return NewResilientProvider(p, cfg.Timeout, attempts)
}

func buildProvider(ctx context.Context, cfg Config, mode string) (Provider, error) {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		return autoProvider(ctx, cfg)
	case "anthropic":
		return NewAnthropicProvider(cfg.AnthropicAPIKey, cfg.Model)
	case "openai":
		return NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.Model)
	case "gemini":
		return NewGeminiProvider(ctx, cfg.GeminiAPIKey, cfg.GoogleProject, cfg.GoogleLocation, cfg.Model)
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, goerr.Wrap(ErrUnconfigured, "completion HTTP url is required for http mode")
		}
		return NewHTTPProvider(cfg.HTTPURL, cfg.Timeout), nil
	case "mock":
		return NewMockProvider(), nil
	case "none":
		return nil, ErrUnconfigured
	default:
		return nil, goerr.New("unsupported completion provider", goerr.V("mode", mode))
	}
}

func autoProvider(ctx context.Context, cfg Config) (Provider, error) {
	switch {
	case strings.TrimSpace(cfg.AnthropicAPIKey) != "":
		return NewAnthropicProvider(cfg.AnthropicAPIKey, cfg.Model)
	case strings.TrimSpace(cfg.OpenAIAPIKey) != "":
		return NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.Model)
	case strings.TrimSpace(cfg.GeminiAPIKey) != "" || strings.TrimSpace(cfg.GoogleProject) != "":
		return NewGeminiProvider(ctx, cfg.GeminiAPIKey, cfg.GoogleProject, cfg.GoogleLocation, cfg.Model)
	case strings.TrimSpace(cfg.HTTPURL) != "":
		return NewHTTPProvider(cfg.HTTPURL, cfg.Timeout), nil
	default:
		return nil, ErrUnconfigured
	}
}
