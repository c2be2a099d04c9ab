package llm

import (
	"context"
	"fmt"
)

func init() {
	RegisterProvider("mock", newMockProvider)
}

// mockProvider echoes prompts back. It keeps development and tests off the
// network.
type mockProvider struct {
	prefix string
}

func newMockProvider(cfg map[string]any) (Provider, error) {
	prefix, _ := cfg["prefix"].(string)
	if prefix == "" {
		prefix = "echo"
	}
	return &mockProvider{prefix: prefix}, nil
}

func (p *mockProvider) Chat(_ context.Context, req ChatRequest) (*ChatResponse, error) {
	return &ChatResponse{
		Text:         fmt.Sprintf("%s: %s", p.prefix, req.Prompt),
		Model:        "mock",
		InputTokens:  int64(len(req.Prompt)),
		OutputTokens: int64(len(req.Prompt)),
	}, nil
}

func (p *mockProvider) CountTokens(_ context.Context, req ChatRequest) (int64, error) {
	return int64(len(req.Prompt)), nil
}
