package embedding

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

type GeminiConfig struct {
	APIKey    string
	Project   string
	Location  string
	Model     string
	Dimension int
}

// GeminiEmbedder calls the Gemini or Vertex AI embedding endpoint.
type GeminiEmbedder struct {
	client *genai.Client
	model  string
	dim    int
}

func NewGeminiEmbedder(ctx context.Context, cfg GeminiConfig) (*GeminiEmbedder, error) {
	cc := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if cc.APIKey == "" {
		cc = &genai.ClientConfig{
			Project:  cfg.Project,
			Location: cfg.Location,
			Backend:  genai.BackendVertexAI,
		}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, goerr.Wrap(err, "create genai client", goerr.V("project", cfg.Project))
	}
	return NewGeminiEmbedderFromClient(client, cfg.Model, cfg.Dimension), nil
}

func NewGeminiEmbedderFromClient(client *genai.Client, model string, dim int) *GeminiEmbedder {
	if strings.TrimSpace(model) == "" {
		model = "text-embedding-004"
	}
	if dim <= 0 {
		dim = 768
	}
	return &GeminiEmbedder{client: client, model: model, dim: dim}
}

func (e *GeminiEmbedder) Name() string   { return "gemini" }
func (e *GeminiEmbedder) Dimension() int { return e.dim }

func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	outDim := int32(e.dim)
	res, err := e.client.Models.EmbedContent(ctx, e.model, genai.Text(text), &genai.EmbedContentConfig{
		OutputDimensionality: &outDim,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "gemini embed", goerr.V("model", e.model))
	}
	if res == nil || len(res.Embeddings) == 0 || len(res.Embeddings[0].Values) == 0 {
		return nil, ErrEmptyEmbedding
	}
	return res.Embeddings[0].Values, nil
}
