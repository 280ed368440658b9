package experiment

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"github.com/antoniostano/steady/internal/logging"
)

const splitTolerance = 1e-6

// CreateParams describes a new draft experiment.
type CreateParams struct {
	Name         string       `json:"name"`
	Description  string       `json:"description"`
	ModelType    string       `json:"model_type"`
	VariantA     string       `json:"variant_a"`
	VariantB     string       `json:"variant_b"`
	TrafficSplit TrafficSplit `json:"traffic_split"`
}

// VariantReport is the per-variant slice of a Report.
type VariantReport struct {
	Variant     Variant `json:"variant"`
	Version     string  `json:"version"`
	Requests    int64   `json:"requests"`
	Errors      int64   `json:"errors"`
	ErrorRate   float64 `json:"error_rate"`
	AvgLatency  float64 `json:"avg_latency"`
	Assignments int     `json:"assignments"`
}

type Report struct {
	Experiment Experiment      `json:"experiment"`
	Variants   []VariantReport `json:"variants"`
	Winner     *Variant        `json:"winner"`
}

type Option func(*Service)

// WithRand replaces the uniform [0,1) source used for bucketing.
func WithRand(fn func() float64) Option {
	return func(s *Service) { s.randFn = fn }
}

func WithClock(fn func() time.Time) Option {
	return func(s *Service) { s.now = fn }
}

// Service assigns users to experiment variants and tracks per-variant metrics.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time

	randMu sync.Mutex
	randFn func() float64
}

func NewService(store Store, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: logging.OrDefault(logger),
		now:    func() time.Time { return time.Now().UTC() },
		randFn: rand.Float64,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Create(ctx context.Context, p CreateParams) (Experiment, error) {
	p.Name = strings.TrimSpace(p.Name)
	p.ModelType = strings.TrimSpace(p.ModelType)
	p.VariantA = strings.TrimSpace(p.VariantA)
	p.VariantB = strings.TrimSpace(p.VariantB)
	if p.Name == "" || p.ModelType == "" || p.VariantA == "" || p.VariantB == "" {
		return Experiment{}, goerr.Wrap(ErrInvalidExperiment, "name, model_type and both variants are required")
	}
	split := p.TrafficSplit
	if split.A < 0 || split.B < 0 || math.Abs(split.A+split.B-1) > splitTolerance {
		return Experiment{}, goerr.Wrap(ErrInvalidExperiment, "traffic split must be non-negative and sum to 1",
			goerr.V("a", split.A), goerr.V("b", split.B))
	}

	exp := Experiment{
		ID:           uuid.NewString(),
		Name:         p.Name,
		Description:  strings.TrimSpace(p.Description),
		ModelType:    p.ModelType,
		VariantA:     p.VariantA,
		VariantB:     p.VariantB,
		TrafficSplit: split,
		Status:       StatusDraft,
		Metrics:      map[Variant]VariantMetrics{VariantA: {}, VariantB: {}},
		Metadata:     map[string]any{},
		CreatedAt:    s.now(),
	}
	if err := s.store.CreateExperiment(ctx, exp); err != nil {
		return Experiment{}, err
	}
	s.logger.Info("experiment created",
		slog.String("test_id", exp.ID),
		slog.String("model_type", exp.ModelType),
		slog.Float64("split_a", split.A),
	)
	return exp, nil
}

func (s *Service) Get(ctx context.Context, id string) (Experiment, error) {
	return s.store.GetExperiment(ctx, id)
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]Experiment, error) {
	return s.store.ListExperiments(ctx, filter)
}

// Start activates a draft or paused experiment. Starting an active one is an error.
func (s *Service) Start(ctx context.Context, id string) (Experiment, error) {
	return s.transition(ctx, id, "start", func(e *Experiment) error {
		switch e.Status {
		case StatusDraft, StatusPaused:
		default:
			return goerr.Wrap(ErrInvalidTransition, "cannot start", goerr.V("status", e.Status))
		}
		e.Status = StatusActive
		if e.StartDate == nil {
			now := s.now()
			e.StartDate = &now
		}
		return nil
	})
}

func (s *Service) Pause(ctx context.Context, id string) (Experiment, error) {
	return s.transition(ctx, id, "pause", func(e *Experiment) error {
		if e.Status != StatusActive {
			return goerr.Wrap(ErrInvalidTransition, "cannot pause", goerr.V("status", e.Status))
		}
		e.Status = StatusPaused
		return nil
	})
}

// Complete ends the experiment and freezes its winner. A nil winner is
// derived from the lower error rate; ties and empty variants leave it null.
func (s *Service) Complete(ctx context.Context, id string, winner *Variant) (Experiment, error) {
	if winner != nil && !winner.Valid() {
		return Experiment{}, goerr.Wrap(ErrInvalidExperiment, "winner must be a or b", goerr.V("winner", *winner))
	}
	return s.transition(ctx, id, "complete", func(e *Experiment) error {
		if e.Status != StatusActive && e.Status != StatusPaused {
			return goerr.Wrap(ErrInvalidTransition, "cannot complete", goerr.V("status", e.Status))
		}
		w := winner
		if w == nil {
			w = pickWinner(e.Metrics)
		}
		now := s.now()
		e.Status = StatusCompleted
		e.EndDate = &now
		if e.Metadata == nil {
			e.Metadata = map[string]any{}
		}
		if w != nil {
			e.Metadata["winner"] = string(*w)
		} else {
			e.Metadata["winner"] = nil
		}
		return nil
	})
}

func (s *Service) transition(ctx context.Context, id, action string, fn func(*Experiment) error) (Experiment, error) {
	exp, err := s.store.UpdateExperiment(ctx, id, fn)
	if err != nil {
		return Experiment{}, err
	}
	s.logger.Info("experiment transition",
		slog.String("test_id", id),
		slog.String("action", action),
		slog.String("status", string(exp.Status)),
	)
	return exp, nil
}

// Assign returns the user's sticky variant for the newest active experiment of
// modelType, or nil when none is active.
func (s *Service) Assign(ctx context.Context, userID, modelType string) (*Selection, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, goerr.Wrap(ErrInvalidExperiment, "user_id is required")
	}
	active, err := s.store.ListExperiments(ctx, ListFilter{ModelType: modelType, Status: StatusActive})
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, nil
	}
	exp := active[0]

	existing, err := s.store.GetAssignment(ctx, userID, exp.ID)
	if err == nil {
		return selectionFor(exp, existing.Variant), nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	variant := VariantB
	if s.draw() < exp.TrafficSplit.A {
		variant = VariantA
	}
	err = s.store.InsertAssignment(ctx, Assignment{
		UserID:     userID,
		TestID:     exp.ID,
		Variant:    variant,
		AssignedAt: s.now(),
	})
	if errors.Is(err, errAssignmentConflict) {
		existing, err = s.store.GetAssignment(ctx, userID, exp.ID)
		if err != nil {
			return nil, err
		}
		return selectionFor(exp, existing.Variant), nil
	}
	if err != nil {
		return nil, err
	}
	return selectionFor(exp, variant), nil
}

// RecordMetric updates a variant's counters. Latency folds into a running mean
// over the request count, so record the request first.
func (s *Service) RecordMetric(ctx context.Context, testID string, variant Variant, kind MetricKind, value float64) error {
	if !variant.Valid() {
		return goerr.Wrap(ErrInvalidMetric, "unknown variant", goerr.V("variant", variant))
	}
	switch kind {
	case MetricRequest, MetricError, MetricLatency:
	default:
		return goerr.Wrap(ErrInvalidMetric, "unknown metric kind", goerr.V("kind", kind))
	}

	_, err := s.store.UpdateExperiment(ctx, testID, func(e *Experiment) error {
		if e.Status != StatusActive && e.Status != StatusPaused {
			return goerr.Wrap(ErrMetricsFrozen, "metrics only accumulate while active or paused", goerr.V("status", e.Status))
		}
		if e.Metrics == nil {
			e.Metrics = map[Variant]VariantMetrics{}
		}
		m := e.Metrics[variant]
		switch kind {
		case MetricRequest:
			m.Requests++
		case MetricError:
			m.Errors++
		case MetricLatency:
			m.AvgLatency = runningMean(m.AvgLatency, m.Requests, value)
		}
		e.Metrics[variant] = m
		return nil
	})
	return err
}

func (s *Service) Report(ctx context.Context, id string) (Report, error) {
	exp, err := s.store.GetExperiment(ctx, id)
	if err != nil {
		return Report{}, err
	}
	counts, err := s.store.CountAssignments(ctx, id)
	if err != nil {
		return Report{}, err
	}

	rep := Report{Experiment: exp, Variants: make([]VariantReport, 0, 2)}
	for _, v := range []Variant{VariantA, VariantB} {
		m := exp.Metrics[v]
		rep.Variants = append(rep.Variants, VariantReport{
			Variant:     v,
			Version:     exp.Version(v),
			Requests:    m.Requests,
			Errors:      m.Errors,
			ErrorRate:   errorRate(m),
			AvgLatency:  m.AvgLatency,
			Assignments: counts[v],
		})
	}
	if w, ok := exp.Metadata["winner"].(string); ok && Variant(w).Valid() {
		v := Variant(w)
		rep.Winner = &v
	}
	return rep, nil
}

func (s *Service) draw() float64 {
	s.randMu.Lock()
	defer s.randMu.Unlock()
	return s.randFn()
}

func selectionFor(exp Experiment, v Variant) *Selection {
	return &Selection{
		Version:  exp.Version(v),
		Variant:  v,
		TestID:   exp.ID,
		TestName: exp.Name,
	}
}

// runningMean computes (avg*(n-1)+value)/n. n below 1 is treated as 1.
func runningMean(avg float64, n int64, value float64) float64 {
	if n < 1 {
		n = 1
	}
	return (avg*float64(n-1) + value) / float64(n)
}

func errorRate(m VariantMetrics) float64 {
	if m.Requests == 0 {
		return 0
	}
	return float64(m.Errors) / float64(m.Requests)
}

func pickWinner(metrics map[Variant]VariantMetrics) *Variant {
	a, b := metrics[VariantA], metrics[VariantB]
	if a.Requests == 0 || b.Requests == 0 {
		return nil
	}
	ra, rb := errorRate(a), errorRate(b)
	var w Variant
	switch {
	case ra < rb:
		w = VariantA
	case rb < ra:
		w = VariantB
	default:
		return nil
	}
	return &w
}
