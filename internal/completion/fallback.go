package completion

import (
	"context"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/antoniostano/steady/internal/reliability"
)

// FallbackProvider attempts a primary provider first and falls back on error.
type FallbackProvider struct {
	primary  Provider
	fallback Provider
}

func NewFallbackProvider(primary, fallback Provider) *FallbackProvider {
	return &FallbackProvider{primary: primary, fallback: fallback}
}

func (p *FallbackProvider) Name() string {
	return p.primary.Name() + ">" + p.fallback.Name()
}

func (p *FallbackProvider) Complete(ctx context.Context, req Request) (string, error) {
	text, err := p.primary.Complete(ctx, req)
	if err == nil {
		return text, nil
	}
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return "", err
	}
	text, fbErr := p.fallback.Complete(ctx, req)
	if fbErr != nil {
		return "", goerr.Wrap(err, "primary and fallback providers failed",
			goerr.V("primary", p.primary.Name()), goerr.V("fallback", p.fallback.Name()), goerr.V("fallback_error", fbErr.Error()))
	}
	return text, nil
}

// ResilientProvider bounds each attempt with a timeout and retries retryable failures.
type ResilientProvider struct {
	inner    Provider
	timeout  time.Duration
	attempts int
	base     time.Duration
	cap      time.Duration
}

func NewResilientProvider(inner Provider, timeout time.Duration, attempts int) *ResilientProvider {
	if attempts <= 0 {
		attempts = 1
	}
	return &ResilientProvider{
		inner:    inner,
		timeout:  timeout,
		attempts: attempts,
		base:     250 * time.Millisecond,
		cap:      2 * time.Second,
	}
}

func (p *ResilientProvider) Name() string { return p.inner.Name() }

func (p *ResilientProvider) Complete(ctx context.Context, req Request) (string, error) {
	var text string
	err := reliability.Retry(ctx, p.attempts, p.base, p.cap, func(ctx context.Context) error {
		callCtx := ctx
		if p.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, p.timeout)
			defer cancel()
		}
		out, err := p.inner.Complete(callCtx, req)
		if err != nil {
			return err
		}
		text = out
		return nil
	})
	if err != nil {
		return "", err
	}
	return text, nil
}
