// Package llm is the model-inference integration. A provider registry maps
// configuration to a concrete backend; the integration surface stays the
// same regardless of which provider serves it.
package llm

import (
	"context"
	"fmt"

	xerrors "quackcore/internal/errors"
	"quackcore/pkg/capability"
)

// PluginName is the registry name of the llm integration.
const PluginName = "llm"

// Operation names exposed by the integration.
const (
	OpChat        = "chat"
	OpCountTokens = "count_tokens"
)

// Plugin implements capability.Integration over a configured provider.
type Plugin struct {
	providerName string
	providerCfg  map[string]any
	provider     Provider
}

// New returns an unconfigured plugin instance, for use as a factory.
func New() capability.Instance { return &Plugin{} }

// Configure implements capability.Instance. "provider" selects the backend;
// the rest of the block is handed to the provider factory as-is.
func (p *Plugin) Configure(cfg map[string]any) error {
	name, _ := cfg["provider"].(string)
	if name == "" {
		name = "mock"
	}
	p.providerName = name
	p.providerCfg = cfg
	return nil
}

// Open implements capability.Instance.
func (p *Plugin) Open(_ context.Context) error {
	provider, err := newProvider(p.providerName, p.providerCfg)
	if err != nil {
		return err
	}
	p.provider = provider
	return nil
}

// Close implements capability.Instance.
func (p *Plugin) Close(_ context.Context) error { return nil }

// Operations implements capability.Integration. Generation is not
// idempotent; a retried chat would bill and produce twice.
func (p *Plugin) Operations() []capability.Operation {
	return []capability.Operation{
		{Name: OpChat, Idempotent: false},
		{Name: OpCountTokens, Idempotent: true},
	}
}

// Call implements capability.Integration.
func (p *Plugin) Call(ctx context.Context, op string, args map[string]any) (any, error) {
	req, err := chatRequestFromArgs(args)
	if err != nil {
		return nil, err
	}
	switch op {
	case OpChat:
		return p.provider.Chat(ctx, req)
	case OpCountTokens:
		return p.provider.CountTokens(ctx, req)
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("llm integration does not expose operation %s", op))
	}
}

// Paginate implements capability.Integration. No llm operation paginates.
func (p *Plugin) Paginate(_ context.Context, op string, _ map[string]any) (capability.Pager, error) {
	return nil, xerrors.New(xerrors.CodeInvalidArgument,
		fmt.Sprintf("llm operation %s is not paginated", op))
}

func chatRequestFromArgs(args map[string]any) (ChatRequest, error) {
	prompt, _ := args["prompt"].(string)
	if prompt == "" {
		return ChatRequest{}, xerrors.New(xerrors.CodeInvalidArgument, "argument prompt must be a non-empty string")
	}
	req := ChatRequest{Prompt: prompt}
	req.Model, _ = args["model"].(string)
	req.System, _ = args["system"].(string)
	switch max := args["max_tokens"].(type) {
	case int:
		req.MaxTokens = int64(max)
	case int64:
		req.MaxTokens = max
	case float64:
		req.MaxTokens = int64(max)
	}
	return req, nil
}
