package llm

import (
	"context"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	xerrors "quackcore/internal/errors"
)

func init() {
	RegisterProvider("openai", newOpenAIProvider)
}

type openAIProvider struct {
	client       openai.Client
	defaultModel string
}

func newOpenAIProvider(cfg map[string]any) (Provider, error) {
	apiKey, _ := cfg["api_key"].(string)
	if apiKey == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "openai provider requires api_key")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL, _ := cfg["base_url"].(string); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	model, _ := cfg["model"].(string)
	if model == "" {
		model = string(openai.ChatModelGPT4o)
	}
	return &openAIProvider{client: openai.NewClient(opts...), defaultModel: model}, nil
}

func (p *openAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(req.MaxTokens)
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePluginFault, err, "openai completion failed",
			xerrors.WithRetryable(true))
	}
	if len(completion.Choices) == 0 {
		return nil, xerrors.New(xerrors.CodePluginFault, "openai returned no choices")
	}
	return &ChatResponse{
		Text:         completion.Choices[0].Message.Content,
		Model:        completion.Model,
		InputTokens:  completion.Usage.PromptTokens,
		OutputTokens: completion.Usage.CompletionTokens,
	}, nil
}

// CountTokens approximates: the API has no counting endpoint, so a short
// max-token completion request reports prompt usage.
func (p *openAIProvider) CountTokens(ctx context.Context, req ChatRequest) (int64, error) {
	limited := req
	limited.MaxTokens = 1
	resp, err := p.Chat(ctx, limited)
	if err != nil {
		return 0, err
	}
	return resp.InputTokens, nil
}
