package completion

import (
	"context"
	"errors"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"

	"github.com/antoniostano/steady/internal/reliability"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIProvider calls the OpenAI Responses API.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

func NewOpenAIProvider(apiKey, baseURL, model string) (*OpenAIProvider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, goerr.Wrap(ErrUnconfigured, "openai api key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if strings.TrimSpace(model) == "" {
		model = defaultOpenAIModel
	}
	client := openai.NewClient(opts...)
	return &OpenAIProvider{client: &client, model: model}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (string, error) {
	items := make(responses.ResponseInputParam, 0, len(req.Messages)+1)
	if req.System != "" {
		items = append(items, responses.ResponseInputItemParamOfMessage(req.System, responses.EasyInputMessageRoleSystem))
	}
	for _, m := range req.Messages {
		role := responses.EasyInputMessageRoleUser
		if m.Role == RoleAssistant {
			role = responses.EasyInputMessageRoleAssistant
		}
		items = append(items, responses.ResponseInputItemParamOfMessage(m.Content, role))
	}

	model := req.modelOr(p.model)
	params := responses.ResponseNewParams{
		Model:           shared.ResponsesModel(model),
		Input:           responses.ResponseNewParamsInputUnion{OfInputItemList: items},
		MaxOutputTokens: openai.Int(int64(maxTokensOrDefault(req.MaxTokens))),
		Temperature:     openai.Float(req.Temperature),
	}

	result, err := p.client.Responses.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			err = &reliability.StatusError{Provider: p.Name(), Code: apiErr.StatusCode, Message: apiErr.Error()}
		}
		return "", goerr.Wrap(err, "openai complete", goerr.V("model", model))
	}
	text := strings.TrimSpace(result.OutputText())
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}
