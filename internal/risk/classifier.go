package risk

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/antoniostano/steady/internal/logging"
)

// Model is an ML strategy. Implementations return ErrClassifierUnavailable
// (possibly wrapped) when they cannot serve a request.
type Model interface {
	Name() string
	Predict(ctx context.Context, text string) (Assessment, error)
}

// FallbackObserver is notified every time a model is skipped.
type FallbackObserver func(model, reason string)

// Classifier tries each configured model in order, then the rule cascade.
type Classifier struct {
	models     []Model
	rules      *Rules
	logger     *slog.Logger
	onFallback FallbackObserver
}

func NewClassifier(rules *Rules, logger *slog.Logger, models ...Model) *Classifier {
	if rules == nil {
		rules = NewRules(nil)
	}
	kept := make([]Model, 0, len(models))
	for _, m := range models {
		if m != nil {
			kept = append(kept, m)
		}
	}
	return &Classifier{
		models: kept,
		rules:  rules,
		logger: logging.OrDefault(logger),
	}
}

func (c *Classifier) SetFallbackObserver(fn FallbackObserver) {
	c.onFallback = fn
}

// Strategies lists the strategy names in evaluation order.
func (c *Classifier) Strategies() []string {
	out := make([]string, 0, len(c.models)+1)
	for _, m := range c.models {
		out = append(out, m.Name())
	}
	return append(out, string(MethodRuleBased))
}

// Assess never fails. Empty text is safe without consulting any model.
func (c *Classifier) Assess(ctx context.Context, text string) Assessment {
	if strings.TrimSpace(text) == "" {
		return safeAssessment()
	}

	for _, m := range c.models {
		a, err := m.Predict(ctx, text)
		if err == nil {
			a.Method = MethodMLModel
			a.Model = m.Name()
			if a.Urgency == "" {
				a.Urgency = urgencyFor(a.Level)
			}
			if a.Category == "" {
				a.Category = categoryFor(a.Level)
			}
			return a
		}
		reason := "model_error"
		if errors.Is(err, ErrClassifierUnavailable) {
			reason = "classifier_unavailable"
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			reason = "model_timeout"
		}
		c.logger.Warn("risk model skipped, falling back",
			slog.String("model", m.Name()),
			slog.String("reason", reason),
			slog.Any("error", err),
		)
		if c.onFallback != nil {
			c.onFallback(m.Name(), reason)
		}
	}

	return c.rules.Assess(text)
}

func normalizeLabel(label string) string {
	l := strings.ToLower(strings.TrimSpace(label))
	l = strings.NewReplacer("-", "_", " ", "_").Replace(l)
	return l
}
