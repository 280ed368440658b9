package completion

import (
	"context"
	"errors"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"

	"github.com/antoniostano/steady/internal/reliability"
)

const defaultGeminiModel = "gemini-2.0-flash"

// GeminiProvider calls Gemini through the Gemini API or Vertex AI.
type GeminiProvider struct {
	client *genai.Client
	model  string
}

func NewGeminiProvider(ctx context.Context, apiKey, project, location, model string) (*GeminiProvider, error) {
	var cc *genai.ClientConfig
	switch {
	case strings.TrimSpace(apiKey) != "":
		cc = &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	case strings.TrimSpace(project) != "":
		cc = &genai.ClientConfig{Project: project, Location: location, Backend: genai.BackendVertexAI}
	default:
		return nil, goerr.Wrap(ErrUnconfigured, "gemini needs an api key or a cloud project")
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, goerr.Wrap(err, "create genai client")
	}
	if strings.TrimSpace(model) == "" {
		model = defaultGeminiModel
	}
	return &GeminiProvider{client: client, model: model}, nil
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) Complete(ctx context.Context, req Request) (string, error) {
	turns := conversationTurns(req.Messages)
	contents := make([]*genai.Content, 0, len(turns))
	for _, m := range turns {
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	if len(contents) == 0 {
		return "", goerr.New("gemini request has no user message")
	}

	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(req.Temperature)),
		MaxOutputTokens: int32(maxTokensOrDefault(req.MaxTokens)),
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	model := req.modelOr(p.model)
	resp, err := p.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			err = &reliability.StatusError{Provider: p.Name(), Code: apiErr.Code, Message: apiErr.Message}
		}
		return "", goerr.Wrap(err, "gemini complete", goerr.V("model", model))
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}
