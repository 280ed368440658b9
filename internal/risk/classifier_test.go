package risk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/knights-analytics/hugot/pipelines"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antoniostano/steady/internal/logging"
)

func TestRulesCascade(t *testing.T) {
	rules := NewRules(nil)
	cases := []struct {
		name       string
		text       string
		level      Level
		confidence float64
		urgency    Urgency
		category   string
	}{
		{"high phrase", "I want to kill myself", LevelHigh, 0.95, UrgencyImmediate, "self_harm"},
		{"high wins over medium", "I feel hopeless and want to end my life", LevelHigh, 0.95, UrgencyImmediate, "self_harm"},
		{"medium phrase", "Everything feels hopeless lately", LevelMedium, 0.75, UrgencyModerate, "hopelessness"},
		{"two negative words", "I'm sad and lonely tonight", LevelLow, 0.6, UrgencyLow, "negative_affect"},
		{"one negative word repeated", "sad sad sad", LevelNone, 0.9, UrgencyNone, "safe"},
		{"spider", "I killed the spider", LevelNone, 0.9, UrgencyNone, "safe"},
		{"empty", "   ", LevelNone, 0.9, UrgencyNone, "safe"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := rules.Assess(tc.text)
			assert.Equal(t, tc.level, got.Level)
			assert.InDelta(t, tc.confidence, got.Confidence, 1e-9)
			assert.Equal(t, tc.urgency, got.Urgency)
			assert.Equal(t, tc.category, got.Category)
			assert.Equal(t, MethodRuleBased, got.Method)
		})
	}
}

type stubModel struct {
	name  string
	out   Assessment
	err   error
	calls int
}

func (m *stubModel) Name() string { return m.name }

func (m *stubModel) Predict(_ context.Context, _ string) (Assessment, error) {
	m.calls++
	return m.out, m.err
}

func TestClassifierPrefersModel(t *testing.T) {
	model := &stubModel{name: "stub", out: Assessment{Level: LevelMedium, Confidence: 0.81}}
	c := NewClassifier(nil, logging.Discard(), model)

	got := c.Assess(context.Background(), "I killed the spider")
	assert.Equal(t, LevelMedium, got.Level)
	assert.Equal(t, MethodMLModel, got.Method)
	assert.Equal(t, "stub", got.Model)
	assert.Equal(t, UrgencyModerate, got.Urgency)
	assert.InDelta(t, 0.81, got.Confidence, 1e-9)
}

func TestClassifierFallsBackToRules(t *testing.T) {
	broken := &stubModel{name: "broken", err: ErrClassifierUnavailable}
	failing := &stubModel{name: "failing", err: errors.New("boom")}
	c := NewClassifier(nil, logging.Discard(), broken, nil, failing)

	var reasons []string
	c.SetFallbackObserver(func(model, reason string) {
		reasons = append(reasons, model+":"+reason)
	})

	got := c.Assess(context.Background(), "I want to kill myself")
	assert.Equal(t, LevelHigh, got.Level)
	assert.Equal(t, MethodRuleBased, got.Method)
	assert.Equal(t, []string{"broken:classifier_unavailable", "failing:model_error"}, reasons)
	assert.Equal(t, []string{"broken", "failing", "rule_based"}, c.Strategies())
}

func TestClassifierEmptyTextSkipsModels(t *testing.T) {
	model := &stubModel{name: "stub", out: Assessment{Level: LevelHigh, Confidence: 1}}
	c := NewClassifier(nil, logging.Discard(), model)

	got := c.Assess(context.Background(), "")
	assert.Equal(t, LevelNone, got.Level)
	assert.Equal(t, "safe", got.Category)
	assert.Zero(t, model.calls)
}

type fakePipeline struct {
	out *pipelines.TextClassificationOutput
	err error
}

func (f fakePipeline) RunPipeline(_ []string) (*pipelines.TextClassificationOutput, error) {
	return f.out, f.err
}

func TestHugotModelPicksBestLabel(t *testing.T) {
	m := newHugotModel(fakePipeline{out: &pipelines.TextClassificationOutput{
		ClassificationOutputs: [][]pipelines.ClassificationOutput{{
			{Label: "safe", Score: 0.1},
			{Label: "HIGH-RISK", Score: 0.85},
			{Label: "moderate", Score: 0.05},
		}},
	}}, 0.5)

	got, err := m.Predict(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, LevelHigh, got.Level)
	assert.Equal(t, UrgencyImmediate, got.Urgency)
	assert.InDelta(t, 0.85, got.Confidence, 1e-6)
}

func TestHugotModelRejectsLowConfidenceAndUnknownLabels(t *testing.T) {
	low := newHugotModel(fakePipeline{out: &pipelines.TextClassificationOutput{
		ClassificationOutputs: [][]pipelines.ClassificationOutput{{{Label: "high", Score: 0.3}}},
	}}, 0.5)
	_, err := low.Predict(context.Background(), "text")
	assert.Error(t, err)

	unknown := newHugotModel(fakePipeline{out: &pipelines.TextClassificationOutput{
		ClassificationOutputs: [][]pipelines.ClassificationOutput{{{Label: "LABEL_7", Score: 0.99}}},
	}}, 0.5)
	_, err = unknown.Predict(context.Background(), "text")
	assert.Error(t, err)
}

func TestHugotModelClosedIsUnavailable(t *testing.T) {
	m := newHugotModel(fakePipeline{}, 0)
	require.NoError(t, m.Close())
	_, err := m.Predict(context.Background(), "text")
	assert.ErrorIs(t, err, ErrClassifierUnavailable)
}

func TestNewHugotModelMissingArtifact(t *testing.T) {
	_, err := NewHugotModel(HugotConfig{ModelPath: t.TempDir() + "/absent"})
	assert.ErrorIs(t, err, ErrClassifierUnavailable)

	_, err = NewHugotModel(HugotConfig{})
	assert.ErrorIs(t, err, ErrClassifierUnavailable)
}

func TestHTTPModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		if body["text"] == "fail" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"label":"medium","score":0.7}`))
	}))
	defer srv.Close()

	m := NewHTTPModel(srv.URL, time.Second)
	got, err := m.Predict(context.Background(), "things feel heavy")
	require.NoError(t, err)
	assert.Equal(t, LevelMedium, got.Level)
	assert.InDelta(t, 0.7, got.Confidence, 1e-9)

	_, err = m.Predict(context.Background(), "fail")
	assert.ErrorIs(t, err, ErrClassifierUnavailable)
}

func TestHTTPModelUnreachableFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClassifier(nil, logging.Discard(), NewHTTPModel(url, 200*time.Millisecond))
	got := c.Assess(context.Background(), "Everything feels hopeless")
	assert.Equal(t, LevelMedium, got.Level)
	assert.Equal(t, MethodRuleBased, got.Method)
}

func TestParseLevel(t *testing.T) {
	l, ok := ParseLevel(" No Risk ")
	require.True(t, ok)
	assert.Equal(t, LevelNone, l)
	_, ok = ParseLevel("purple")
	assert.False(t, ok)
	assert.Greater(t, LevelHigh.Rank(), LevelMedium.Rank())
}
