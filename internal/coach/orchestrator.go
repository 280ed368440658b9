package coach

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/m-mizutani/goerr/v2"

	"github.com/antoniostano/steady/internal/completion"
	"github.com/antoniostano/steady/internal/experiment"
	"github.com/antoniostano/steady/internal/filter"
	"github.com/antoniostano/steady/internal/logging"
	"github.com/antoniostano/steady/internal/memory"
	"github.com/antoniostano/steady/internal/observability"
	"github.com/antoniostano/steady/internal/policy"
	"github.com/antoniostano/steady/internal/ratelimit"
	"github.com/antoniostano/steady/internal/risk"
)

var (
	// ErrGenerationUnavailable is the only pipeline failure that reaches the caller.
	ErrGenerationUnavailable = errors.New("generation unavailable")
	ErrEmptyMessage          = errors.New("message is empty")
	ErrMessageTooLong        = errors.New("message is too long")
	ErrRateLimited           = errors.New("turn rate limit exceeded")
)

const (
	maxMessageRunes      = 4000
	defaultMemoryLimit   = 3
	defaultMemoryTimeout = 2 * time.Second
	defaultHistoryTurns  = 12
	sessionTypeGentle    = "gentle_deep"
)

// RiskAssessor scores a message. It never fails.
type RiskAssessor interface {
	Assess(ctx context.Context, text string) risk.Assessment
}

type MemoryReader interface {
	Retrieve(ctx context.Context, userID, query string, limit int) ([]memory.Result, error)
}

// Assigner picks the model variant for a user and collects per-variant metrics.
type Assigner interface {
	Assign(ctx context.Context, userID, modelType string) (*experiment.Selection, error)
	RecordMetric(ctx context.Context, testID string, variant experiment.Variant, kind experiment.MetricKind, value float64) error
}

// TurnContext is what the caller knows about the conversation so far.
type TurnContext struct {
	SessionID        string               `json:"session_id"`
	UserID           string               `json:"user_id"`
	SessionType      string               `json:"session_type"`
	PreviousMessages []completion.Message `json:"previous_messages"`
}

type Metadata struct {
	FollowUp       string   `json:"suggested_follow_up,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	Insights       []string `json:"insights,omitempty"`
	LexiconVersion string   `json:"lexicon_version"`
}

// Reply is the structured result of one turn.
type Reply struct {
	Text            string                `json:"response"`
	Intent          policy.Intent         `json:"intent"`
	RiskLevel       risk.Level            `json:"risk_level"`
	Risk            risk.Assessment       `json:"risk_assessment"`
	Metadata        Metadata              `json:"metadata"`
	SessionProgress *Progress             `json:"session_progress,omitempty"`
	WasFiltered     bool                  `json:"was_filtered"`
	FilterActions   []filter.Action       `json:"filter_actions,omitempty"`
	Violations      []string              `json:"violations,omitempty"`
	Experiment      *experiment.Selection `json:"experiment,omitempty"`
	MemoriesUsed    int                   `json:"memories_used"`
	Provider        string                `json:"provider,omitempty"`
	Escalated       bool                  `json:"escalated"`
	CrisisContacts  []CrisisContact       `json:"crisis_contacts,omitempty"`
	LatencyMS       int64                 `json:"latency_ms"`
}

type Config struct {
	ModelType     string
	MaxLength     int
	MinLength     int
	MemoryLimit   int
	MemoryTimeout time.Duration
	HistoryTurns  int
	MaxTokens     int
	Temperature   float64
}

// Deps are the orchestrator's collaborators. Memory, Experiments and Limiter
// are optional; Risk and Filter default to the built-in rules.
type Deps struct {
	Risk        RiskAssessor
	Memory      MemoryReader
	Provider    completion.Provider
	Filter      *filter.Filter
	Lexicon     *policy.Lexicon
	Experiments Assigner
	Limiter     ratelimit.Limiter
	Metrics     *observability.Metrics
	Logger      *slog.Logger
}

// Orchestrator turns one user message into a safety-checked reply.
type Orchestrator struct {
	cfg         Config
	risk        RiskAssessor
	memory      MemoryReader
	provider    completion.Provider
	filter      *filter.Filter
	lexicon     *policy.Lexicon
	experiments Assigner
	limiter     ratelimit.Limiter
	metrics     *observability.Metrics
	logger      *slog.Logger
}

func NewOrchestrator(cfg Config, deps Deps) *Orchestrator {
	if cfg.ModelType == "" {
		cfg.ModelType = "conversation"
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = 1000
	}
	if cfg.MemoryLimit <= 0 {
		cfg.MemoryLimit = defaultMemoryLimit
	}
	if cfg.MemoryTimeout <= 0 {
		cfg.MemoryTimeout = defaultMemoryTimeout
	}
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = defaultHistoryTurns
	}
	logger := logging.OrDefault(deps.Logger)
	lex := deps.Lexicon
	if lex == nil {
		lex = policy.Default()
	}
	o := &Orchestrator{
		cfg:         cfg,
		risk:        deps.Risk,
		memory:      deps.Memory,
		provider:    deps.Provider,
		filter:      deps.Filter,
		lexicon:     lex,
		experiments: deps.Experiments,
		limiter:     deps.Limiter,
		metrics:     deps.Metrics,
		logger:      logger,
	}
	if o.risk == nil {
		o.risk = risk.NewClassifier(risk.NewRules(lex), logger)
	}
	if o.filter == nil {
		o.filter = filter.New(lex, filter.Options{MaxLength: cfg.MaxLength, MinLength: cfg.MinLength})
	}
	if o.limiter == nil {
		o.limiter = ratelimit.Noop{}
	}
	if o.metrics == nil {
		o.metrics = observability.NewMetrics("steady", nil)
	}
	return o
}

// Respond runs the turn pipeline. A high-risk message short-circuits to the
// fixed safety reply before memory, rate limiting or generation are touched.
func (o *Orchestrator) Respond(ctx context.Context, message string, tc TurnContext) (Reply, error) {
	start := time.Now()
	message, assessment, safety, err := o.screen(ctx, message, tc, start)
	if err != nil {
		return Reply{}, err
	}
	if safety != nil {
		return *safety, nil
	}

	if err := o.checkLimit(ctx, tc.UserID); err != nil {
		return Reply{}, err
	}

	selection := o.assign(ctx, tc.UserID)

	stageStart := time.Now()
	memories := o.retrieve(ctx, tc.UserID, message)
	o.metrics.ObserveStage(observability.StageMemory, time.Since(stageStart))

	if o.provider == nil {
		o.metrics.GenerationErrors.WithLabelValues("none").Inc()
		return Reply{}, goerr.Wrap(ErrGenerationUnavailable, "no completion provider", goerr.V("cause", completion.ErrUnconfigured.Error()))
	}

	req := buildRequest(o.cfg, tc, message, memories, selection)
	stageStart = time.Now()
	text, err := o.provider.Complete(ctx, req)
	genLatency := time.Since(stageStart)
	o.metrics.ObserveStage(observability.StageGeneration, genLatency)
	o.recordVariant(selection, err, genLatency)
	if err != nil {
		o.metrics.GenerationErrors.WithLabelValues(o.provider.Name()).Inc()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Reply{}, ctxErr
		}
		o.logger.Error("completion failed",
			slog.String("session_id", tc.SessionID),
			slog.String("provider", o.provider.Name()),
			slog.Any("error", err),
		)
		return Reply{}, goerr.Wrap(ErrGenerationUnavailable, "complete turn",
			goerr.V("provider", o.provider.Name()), goerr.V("cause", err.Error()))
	}

	intent := o.lexicon.ClassifyIntent(text)

	stageStart = time.Now()
	filtered := o.filter.Apply(text, assessment.Level, intent, filter.Options{
		MaxLength: o.cfg.MaxLength,
		MinLength: o.cfg.MinLength,
	})
	o.metrics.ObserveStage(observability.StageFilter, time.Since(stageStart))
	o.recordFilter(tc.SessionID, filtered)

	reply := Reply{
		Text:          filtered.Text,
		Intent:        intent,
		RiskLevel:     assessment.Level,
		Risk:          assessment,
		Metadata:      o.extractMetadata(message, filtered.Text),
		WasFiltered:   filtered.WasFiltered,
		FilterActions: filtered.Actions,
		Violations:    filtered.Violations,
		Experiment:    selection,
		MemoriesUsed:  len(memories),
		Provider:      o.provider.Name(),
	}
	if tc.SessionType == sessionTypeGentle {
		reply.SessionProgress = gentleDeepProgress(tc.PreviousMessages, intent)
	}
	o.finish(&reply, start)
	return reply, nil
}

// Screen runs only input validation and the risk check. For a high-risk
// message it returns the fixed safety reply and true; otherwise false.
func (o *Orchestrator) Screen(ctx context.Context, message string, tc TurnContext) (Reply, bool, error) {
	_, _, safety, err := o.screen(ctx, message, tc, time.Now())
	if err != nil || safety == nil {
		return Reply{}, false, err
	}
	return *safety, true, nil
}

func (o *Orchestrator) screen(ctx context.Context, message string, tc TurnContext, start time.Time) (string, risk.Assessment, *Reply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", risk.Assessment{}, nil, ErrEmptyMessage
	}
	if utf8.RuneCountInString(message) > maxMessageRunes {
		return "", risk.Assessment{}, nil, goerr.Wrap(ErrMessageTooLong, "validate message", goerr.V("max_runes", maxMessageRunes))
	}

	stageStart := time.Now()
	assessment := o.risk.Assess(ctx, message)
	o.metrics.ObserveStage(observability.StageRisk, time.Since(stageStart))
	if !assessment.IsHigh() {
		return message, assessment, nil, nil
	}

	reply := safetyReply(assessment)
	o.finish(&reply, start)
	o.logger.Warn("high risk message, safety reply served",
		slog.String("session_id", tc.SessionID),
		slog.String("category", assessment.Category),
		slog.String("method", string(assessment.Method)),
	)
	return message, assessment, &reply, nil
}

func (o *Orchestrator) finish(reply *Reply, start time.Time) {
	elapsed := time.Since(start)
	reply.LatencyMS = elapsed.Milliseconds()
	o.metrics.Turns.WithLabelValues(string(reply.RiskLevel), string(reply.Intent)).Inc()
	o.metrics.ObserveTurnLatency(elapsed)
	o.metrics.ObserveStage(observability.StageTurnTotal, elapsed)
}

func (o *Orchestrator) checkLimit(ctx context.Context, userID string) error {
	ok, err := o.limiter.Allow(ctx, userID)
	if err != nil {
		o.degraded("ratelimit", "limiter_unavailable", err)
		return nil
	}
	if !ok {
		return goerr.Wrap(ErrRateLimited, "turn limit", goerr.V("user_id", userID))
	}
	return nil
}

func (o *Orchestrator) assign(ctx context.Context, userID string) *experiment.Selection {
	if o.experiments == nil {
		return nil
	}
	sel, err := o.experiments.Assign(ctx, userID, o.cfg.ModelType)
	if err != nil {
		o.degraded("experiment", "assignment_failed", err)
		return nil
	}
	if sel != nil {
		o.metrics.ExperimentAssigned.WithLabelValues(string(sel.Variant)).Inc()
	}
	return sel
}

func (o *Orchestrator) recordVariant(sel *experiment.Selection, genErr error, latency time.Duration) {
	if sel == nil || o.experiments == nil {
		return
	}
	// Metric writes must not be cut short by a cancelled turn.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	record := func(kind experiment.MetricKind, value float64) {
		if err := o.experiments.RecordMetric(ctx, sel.TestID, sel.Variant, kind, value); err != nil {
			o.degraded("experiment", "metric_failed", err)
		}
	}
	record(experiment.MetricRequest, 1)
	if genErr != nil {
		record(experiment.MetricError, 1)
		return
	}
	record(experiment.MetricLatency, float64(latency.Microseconds())/1000)
}

func (o *Orchestrator) retrieve(ctx context.Context, userID, message string) []memory.Result {
	if o.memory == nil {
		return nil
	}
	memCtx, cancel := context.WithTimeout(ctx, o.cfg.MemoryTimeout)
	defer cancel()
	results, err := o.memory.Retrieve(memCtx, userID, message, o.cfg.MemoryLimit)
	if err != nil {
		reason := "memory_unavailable"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "memory_timeout"
		}
		o.degraded("memory", reason, err)
		return nil
	}
	return results
}

func (o *Orchestrator) recordFilter(sessionID string, res filter.Result) {
	for _, a := range res.Actions {
		o.metrics.FilterActions.WithLabelValues(string(a)).Inc()
	}
	for _, v := range res.Violations {
		o.metrics.FilterViolations.WithLabelValues(v).Inc()
	}
	if res.WasFiltered {
		o.logger.Warn("reply filtered",
			slog.String("reason", "filtered"),
			slog.String("session_id", sessionID),
			slog.Any("actions", res.Actions),
			slog.Any("violations", res.Violations),
			slog.String("lexicon_version", o.lexicon.Version),
		)
	}
}

func (o *Orchestrator) extractMetadata(message, reply string) Metadata {
	meta := Metadata{LexiconVersion: o.lexicon.Version}
	if q, ok := o.lexicon.FollowUpQuestion(reply); ok {
		meta.FollowUp = q
	}
	meta.Tags = o.lexicon.Tags(message)
	meta.Insights = o.lexicon.Insights(message)
	return meta
}

func (o *Orchestrator) degraded(component, reason string, err error) {
	o.metrics.Degraded.WithLabelValues(component, reason).Inc()
	o.metrics.CountDegraded(reason)
	o.logger.Warn("turn degraded",
		slog.String("component", component),
		slog.String("reason", reason),
		slog.Any("error", err),
	)
}
