package completion

import (
	"context"
	"fmt"
	"strings"
)

// MockProvider provides deterministic local replies when no model is configured.
type MockProvider struct{}

func NewMockProvider() *MockProvider { return &MockProvider{} }

func (p *MockProvider) Name() string { return "mock" }

func (p *MockProvider) Complete(ctx context.Context, req Request) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	base := strings.TrimRight(lastUserText(req.Messages), ".!? ")
	if base == "" {
		return "I am listening. What would you like to talk about?", nil
	}
	return fmt.Sprintf("I hear you: %s. What feels most important about that right now?", base), nil
}
