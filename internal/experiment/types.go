package experiment

import (
	"context"
	"errors"
	"maps"
	"time"
)

var (
	ErrNotFound          = errors.New("experiment not found")
	ErrInvalidTransition = errors.New("invalid experiment transition")
	ErrInvalidExperiment = errors.New("invalid experiment")
	ErrMetricsFrozen     = errors.New("experiment metrics are frozen")
	ErrInvalidMetric     = errors.New("invalid experiment metric")

	// errAssignmentConflict signals a lost insert race; callers re-fetch the winner.
	errAssignmentConflict = errors.New("assignment already exists")
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

type Variant string

const (
	VariantA Variant = "a"
	VariantB Variant = "b"
)

func (v Variant) Valid() bool { return v == VariantA || v == VariantB }

type MetricKind string

const (
	MetricRequest MetricKind = "request"
	MetricError   MetricKind = "error"
	MetricLatency MetricKind = "latency"
)

type TrafficSplit struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

type VariantMetrics struct {
	Requests   int64   `json:"requests"`
	Errors     int64   `json:"errors"`
	AvgLatency float64 `json:"avg_latency"`
}

// Experiment is an A/B test between two model versions of one model type.
type Experiment struct {
	ID           string                     `json:"id"`
	Name         string                     `json:"name"`
	Description  string                     `json:"description,omitempty"`
	ModelType    string                     `json:"model_type"`
	VariantA     string                     `json:"variant_a"`
	VariantB     string                     `json:"variant_b"`
	TrafficSplit TrafficSplit               `json:"traffic_split"`
	Status       Status                     `json:"status"`
	Metrics      map[Variant]VariantMetrics `json:"metrics"`
	Metadata     map[string]any             `json:"metadata,omitempty"`
	CreatedAt    time.Time                  `json:"created_at"`
	StartDate    *time.Time                 `json:"start_date,omitempty"`
	EndDate      *time.Time                 `json:"end_date,omitempty"`
}

func (e Experiment) clone() Experiment {
	e.Metrics = maps.Clone(e.Metrics)
	e.Metadata = maps.Clone(e.Metadata)
	return e
}

// Version returns the model version served to a variant.
func (e Experiment) Version(v Variant) string {
	if v == VariantA {
		return e.VariantA
	}
	return e.VariantB
}

// Assignment is a user's permanent variant for one experiment.
type Assignment struct {
	UserID     string    `json:"user_id"`
	TestID     string    `json:"ab_test_id"`
	Variant    Variant   `json:"variant"`
	AssignedAt time.Time `json:"assigned_at"`
}

// Selection is what the assigner hands to callers choosing a model version.
type Selection struct {
	Version  string  `json:"version"`
	Variant  Variant `json:"variant"`
	TestID   string  `json:"test_id"`
	TestName string  `json:"test_name"`
}

type ListFilter struct {
	ModelType string
	Status    Status
}

// Store persists experiments and assignments.
type Store interface {
	CreateExperiment(ctx context.Context, exp Experiment) error
	GetExperiment(ctx context.Context, id string) (Experiment, error)
	// ListExperiments returns matches ordered by creation time, newest first.
	ListExperiments(ctx context.Context, filter ListFilter) ([]Experiment, error)
	// UpdateExperiment applies fn atomically with respect to other updates of the same experiment.
	UpdateExperiment(ctx context.Context, id string, fn func(*Experiment) error) (Experiment, error)
	// InsertAssignment returns errAssignmentConflict when (user, test) already has one.
	InsertAssignment(ctx context.Context, a Assignment) error
	GetAssignment(ctx context.Context, userID, testID string) (Assignment, error)
	CountAssignments(ctx context.Context, testID string) (map[Variant]int, error)
	Close() error
}
