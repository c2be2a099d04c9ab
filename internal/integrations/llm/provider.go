package llm

import (
	"context"
	"fmt"
	"sort"
	"sync"

	xerrors "quackcore/internal/errors"
)

// Provider is one model backend behind the llm integration.
type Provider interface {
	// Chat sends a prompt and returns the completion text.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	// CountTokens estimates the token cost of a prompt without generating.
	CountTokens(ctx context.Context, req ChatRequest) (int64, error)
}

// ChatRequest is the provider-neutral completion request.
type ChatRequest struct {
	Model     string
	System    string
	Prompt    string
	MaxTokens int64
}

// ChatResponse is the provider-neutral completion result.
type ChatResponse struct {
	Text         string
	Model        string
	InputTokens  int64
	OutputTokens int64
}

// ProviderFactory builds a provider from its settings block.
type ProviderFactory func(cfg map[string]any) (Provider, error)

var (
	providersMu sync.RWMutex
	providers   = make(map[string]ProviderFactory)
)

// RegisterProvider makes a provider constructable by name. Built-in
// providers register from init; tests may add their own.
func RegisterProvider(name string, factory ProviderFactory) {
	providersMu.Lock()
	defer providersMu.Unlock()
	providers[name] = factory
}

func newProvider(name string, cfg map[string]any) (Provider, error) {
	providersMu.RLock()
	factory, ok := providers[name]
	providersMu.RUnlock()
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound,
			fmt.Sprintf("unknown llm provider %s (have %v)", name, providerNames()))
	}
	return factory(cfg)
}

func providerNames() []string {
	providersMu.RLock()
	defer providersMu.RUnlock()
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
