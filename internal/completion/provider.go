package completion

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrUnconfigured means no provider could be built from the configuration.
	ErrUnconfigured    = errors.New("completion provider not configured")
	ErrEmptyCompletion = errors.New("completion returned no text")
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is a provider-neutral chat completion request. Model overrides the
// provider's configured model when set.
type Request struct {
	Model       string    `json:"model,omitempty"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
}

// Provider produces a single assistant reply.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (string, error)
}

// Config controls provider construction.
type Config struct {
	Mode         string
	FallbackMode string
	Model        string
	HTTPURL      string
	Timeout      time.Duration
	Attempts     int

	AnthropicAPIKey string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	GeminiAPIKey    string
	GoogleProject   string
	GoogleLocation  string
}

// conversationTurns merges consecutive same-role messages and drops leading
// assistant turns so providers that require strict alternation accept the history.
func conversationTurns(messages []Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		text := strings.TrimSpace(m.Content)
		if text == "" {
			continue
		}
		role := m.Role
		if role != RoleAssistant {
			role = RoleUser
		}
		if len(out) == 0 && role == RoleAssistant {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content += "\n\n" + text
			continue
		}
		out = append(out, Message{Role: role, Content: text})
	}
	return out
}

func (r Request) modelOr(fallback string) string {
	if m := strings.TrimSpace(r.Model); m != "" {
		return m
	}
	return fallback
}

func lastUserText(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return strings.TrimSpace(messages[i].Content)
		}
	}
	return ""
}
