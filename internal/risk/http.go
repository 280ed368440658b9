package risk

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// HTTPModel calls a remote classifier that accepts {"text": "..."} and answers
// with {"label": "...", "score": 0.0} or {"risk_level": "...", "confidence": 0.0}.
type HTTPModel struct {
	url    string
	client *http.Client
}

func NewHTTPModel(url string, timeout time.Duration) *HTTPModel {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPModel{
		url:    strings.TrimSpace(url),
		client: &http.Client{Timeout: timeout},
	}
}

func (m *HTTPModel) Name() string { return "http" }

type httpModelResponse struct {
	Label      string   `json:"label"`
	Score      *float64 `json:"score"`
	RiskLevel  string   `json:"risk_level"`
	Confidence *float64 `json:"confidence"`
	Category   string   `json:"category"`
}

func (m *HTTPModel) Predict(ctx context.Context, text string) (Assessment, error) {
	if m.url == "" {
		return Assessment{}, goerr.Wrap(ErrClassifierUnavailable, "risk model url not configured")
	}
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return Assessment{}, goerr.Wrap(err, "marshal risk request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(payload))
	if err != nil {
		return Assessment{}, goerr.Wrap(err, "create risk request")
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := m.client.Do(req)
	if err != nil {
		return Assessment{}, goerr.Wrap(ErrClassifierUnavailable, "send risk request", goerr.V("cause", err.Error()))
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Assessment{}, goerr.Wrap(ErrClassifierUnavailable, "risk model http status",
			goerr.V("status", res.StatusCode), goerr.V("body", string(body)))
	}

	var out httpModelResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return Assessment{}, goerr.Wrap(err, "decode risk response")
	}

	label := out.RiskLevel
	if label == "" {
		label = out.Label
	}
	level, ok := ParseLevel(label)
	if !ok {
		return Assessment{}, goerr.New("unknown risk label", goerr.V("label", label))
	}
	confidence := 0.0
	switch {
	case out.Confidence != nil:
		confidence = *out.Confidence
	case out.Score != nil:
		confidence = *out.Score
	}
	if confidence < 0 || confidence > 1 {
		return Assessment{}, goerr.New("risk confidence out of range", goerr.V("confidence", confidence))
	}

	category := out.Category
	if category == "" {
		category = categoryFor(level)
	}
	return Assessment{
		Level:      level,
		Confidence: confidence,
		Category:   category,
		Urgency:    urgencyFor(level),
	}, nil
}
