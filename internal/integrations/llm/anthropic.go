package llm

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	xerrors "quackcore/internal/errors"
)

func init() {
	RegisterProvider("anthropic", newAnthropicProvider)
}

const defaultAnthropicMaxTokens = 1024

type anthropicProvider struct {
	client       anthropic.Client
	defaultModel string
}

func newAnthropicProvider(cfg map[string]any) (Provider, error) {
	apiKey, _ := cfg["api_key"].(string)
	if apiKey == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "anthropic provider requires api_key")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL, _ := cfg["base_url"].(string); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	model, _ := cfg["model"].(string)
	if model == "" {
		model = string(anthropic.ModelClaudeSonnet4_0)
	}
	return &anthropicProvider{client: anthropic.NewClient(opts...), defaultModel: model}, nil
}

func (p *anthropicProvider) params(req ChatRequest) anthropic.MessageNewParams {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	return params
}

func (p *anthropicProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	message, err := p.client.Messages.New(ctx, p.params(req))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePluginFault, err, "anthropic completion failed",
			xerrors.WithRetryable(true))
	}
	var text strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return &ChatResponse{
		Text:         text.String(),
		Model:        string(message.Model),
		InputTokens:  message.Usage.InputTokens,
		OutputTokens: message.Usage.OutputTokens,
	}, nil
}

func (p *anthropicProvider) CountTokens(ctx context.Context, req ChatRequest) (int64, error) {
	params := p.params(req)
	count, err := p.client.Messages.CountTokens(ctx, anthropic.MessageCountTokensParams{
		Model:    params.Model,
		Messages: params.Messages,
	})
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodePluginFault, err, "anthropic token count failed",
			xerrors.WithRetryable(true))
	}
	return count.InputTokens, nil
}
