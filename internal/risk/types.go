package risk

import (
	"errors"
)

// Level is the assessed self-harm risk of a single message.
type Level string

const (
	LevelNone   Level = "none"
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Urgency indicates how quickly a human should look at the conversation.
type Urgency string

const (
	UrgencyNone      Urgency = "none"
	UrgencyLow       Urgency = "low"
	UrgencyModerate  Urgency = "moderate"
	UrgencyImmediate Urgency = "immediate"
)

// Method records which strategy produced an assessment.
type Method string

const (
	MethodRuleBased Method = "rule_based"
	MethodMLModel   Method = "ml_model"
)

// ErrClassifierUnavailable marks an ML strategy that cannot serve a request.
// The classifier falls back to the next strategy when it sees it.
var ErrClassifierUnavailable = errors.New("risk classifier unavailable")

// Assessment is computed fresh for every message and never persisted.
type Assessment struct {
	Level      Level   `json:"risk_level"`
	Confidence float64 `json:"confidence"`
	Category   string  `json:"category"`
	Urgency    Urgency `json:"urgency"`
	Method     Method  `json:"method"`
	Model      string  `json:"model,omitempty"`
	Matched    string  `json:"matched,omitempty"`
}

func (a Assessment) IsHigh() bool { return a.Level == LevelHigh }

// ParseLevel maps model labels and user input onto a Level.
func ParseLevel(label string) (Level, bool) {
	switch normalizeLabel(label) {
	case "high", "high_risk", "crisis", "suicidal", "self_harm", "severe":
		return LevelHigh, true
	case "medium", "moderate", "medium_risk", "hopeless", "hopelessness":
		return LevelMedium, true
	case "low", "low_risk", "mild", "negative", "distress":
		return LevelLow, true
	case "none", "safe", "no_risk", "neutral", "non_suicidal", "normal":
		return LevelNone, true
	default:
		return "", false
	}
}

// Rank orders levels so callers can compare them.
func (l Level) Rank() int {
	switch l {
	case LevelHigh:
		return 3
	case LevelMedium:
		return 2
	case LevelLow:
		return 1
	default:
		return 0
	}
}

func urgencyFor(l Level) Urgency {
	switch l {
	case LevelHigh:
		return UrgencyImmediate
	case LevelMedium:
		return UrgencyModerate
	case LevelLow:
		return UrgencyLow
	default:
		return UrgencyNone
	}
}

func categoryFor(l Level) string {
	switch l {
	case LevelHigh:
		return "self_harm"
	case LevelMedium:
		return "hopelessness"
	case LevelLow:
		return "negative_affect"
	default:
		return "safe"
	}
}
