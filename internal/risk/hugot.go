package risk

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/options"
	"github.com/knights-analytics/hugot/pipelines"
	"github.com/m-mizutani/goerr/v2"
)

// textClassifier is the slice of the hugot pipeline the model needs.
type textClassifier interface {
	RunPipeline(inputs []string) (*pipelines.TextClassificationOutput, error)
}

// HugotConfig points at an exported ONNX text-classification model directory.
type HugotConfig struct {
	ModelPath      string
	OrtLibraryPath string
	MinConfidence  float64
}

// HugotModel runs a local ONNX risk classifier through hugot.
type HugotModel struct {
	mu            sync.Mutex
	session       *hugot.Session
	pipeline      textClassifier
	minConfidence float64
}

// NewHugotModel loads the model artifact. A missing artifact yields ErrClassifierUnavailable
// so the caller can leave the model out of the strategy chain.
func NewHugotModel(cfg HugotConfig) (*HugotModel, error) {
	path := strings.TrimSpace(cfg.ModelPath)
	if path == "" {
		return nil, goerr.Wrap(ErrClassifierUnavailable, "risk model path not configured")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, goerr.Wrap(ErrClassifierUnavailable, "risk model artifact missing", goerr.V("path", path), goerr.V("cause", err.Error()))
	}

	var opts []options.WithOption
	if cfg.OrtLibraryPath != "" {
		opts = append(opts, options.WithOnnxLibraryPath(cfg.OrtLibraryPath))
	}
	session, err := hugot.NewORTSession(opts...)
	if err != nil {
		return nil, goerr.Wrap(ErrClassifierUnavailable, "create onnx session", goerr.V("cause", err.Error()))
	}

	pipeline, err := hugot.NewPipeline(session, hugot.TextClassificationConfig{
		ModelPath: path,
		Name:      "risk-classifier",
	})
	if err != nil {
		_ = session.Destroy()
		return nil, goerr.Wrap(ErrClassifierUnavailable, "create classification pipeline", goerr.V("path", path), goerr.V("cause", err.Error()))
	}

	m := newHugotModel(pipeline, cfg.MinConfidence)
	m.session = session
	return m, nil
}

func newHugotModel(pipeline textClassifier, minConfidence float64) *HugotModel {
	if minConfidence <= 0 {
		minConfidence = 0.5
	}
	return &HugotModel{pipeline: pipeline, minConfidence: minConfidence}
}

func (m *HugotModel) Name() string { return "hugot" }

func (m *HugotModel) Predict(ctx context.Context, text string) (Assessment, error) {
	if err := ctx.Err(); err != nil {
		return Assessment{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pipeline == nil {
		return Assessment{}, goerr.Wrap(ErrClassifierUnavailable, "risk model closed")
	}

	out, err := m.pipeline.RunPipeline([]string{text})
	if err != nil {
		return Assessment{}, goerr.Wrap(err, "run risk pipeline")
	}
	if out == nil || len(out.ClassificationOutputs) == 0 || len(out.ClassificationOutputs[0]) == 0 {
		return Assessment{}, goerr.New("risk pipeline returned no labels")
	}

	best := out.ClassificationOutputs[0][0]
	for _, c := range out.ClassificationOutputs[0][1:] {
		if c.Score > best.Score {
			best = c
		}
	}
	level, ok := ParseLevel(best.Label)
	if !ok {
		return Assessment{}, goerr.New("unknown risk label", goerr.V("label", best.Label))
	}
	score := float64(best.Score)
	if score < m.minConfidence {
		return Assessment{}, goerr.New("risk model confidence below threshold", goerr.V("score", score), goerr.V("min", m.minConfidence))
	}

	return Assessment{
		Level:      level,
		Confidence: score,
		Category:   categoryFor(level),
		Urgency:    urgencyFor(level),
	}, nil
}

func (m *HugotModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pipeline = nil
	if m.session == nil {
		return nil
	}
	err := m.session.Destroy()
	m.session = nil
	return err
}
