// Package configfile is the built-in config plugin. It loads YAML files,
// deep-merges overlays on top of a base document and answers dotted-key
// lookups against the merged tree.
package configfile

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	xerrors "quackcore/internal/errors"
	"quackcore/pkg/capability"
)

// PluginName is the registry name of the built-in config plugin.
const PluginName = "yaml"

// Plugin implements capability.ConfigProvider.
type Plugin struct {
	mu       sync.RWMutex
	path     string
	overlays []string
	tree     map[string]any
}

// New returns an unconfigured plugin instance, for use as a factory.
func New() capability.Instance { return &Plugin{} }

// Configure implements capability.Instance. "path" names the base document
// loaded at Open; "overlays" lists files merged on top of it in order.
func (p *Plugin) Configure(cfg map[string]any) error {
	if path, ok := cfg["path"].(string); ok {
		p.path = path
	}
	if raw, ok := cfg["overlays"].([]any); ok {
		for _, item := range raw {
			if overlay, ok := item.(string); ok && overlay != "" {
				p.overlays = append(p.overlays, overlay)
			}
		}
	}
	return nil
}

// Open implements capability.Instance. A plugin without a configured path
// starts with an empty tree and loads on demand.
func (p *Plugin) Open(ctx context.Context) error {
	p.tree = make(map[string]any)
	if p.path == "" {
		return nil
	}
	if _, err := p.Load(ctx, p.path); err != nil {
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err,
			fmt.Sprintf("loading base config %s failed", p.path))
	}
	for _, overlay := range p.overlays {
		if _, err := p.Load(ctx, overlay); err != nil {
			return xerrors.Wrap(xerrors.CodeInitializationFailure, err,
				fmt.Sprintf("loading overlay %s failed", overlay))
		}
	}
	return nil
}

// Close implements capability.Instance.
func (p *Plugin) Close(_ context.Context) error { return nil }

// Load implements capability.ConfigProvider. The parsed document is merged
// into the existing tree; later loads win on conflicting scalar leaves.
// The merged tree is returned.
func (p *Plugin) Load(_ context.Context, path string) (map[string]any, error) {
	if path == "" {
		p.mu.RLock()
		defer p.mu.RUnlock()
		return snapshot(p.tree), nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, xerrors.Wrap(xerrors.CodeNotFound, err,
				fmt.Sprintf("config file %s not found", path))
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err,
			fmt.Sprintf("reading config file %s failed", path))
	}
	var doc map[string]any
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err,
			fmt.Sprintf("parsing config file %s failed", path))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tree == nil {
		p.tree = make(map[string]any)
	}
	p.tree = deepMerge(p.tree, doc)
	return snapshot(p.tree), nil
}

// Get implements capability.ConfigProvider. Keys are dotted paths into the
// merged tree, e.g. "storage.redis.addr".
func (p *Plugin) Get(key string) (any, bool) {
	if key == "" {
		return nil, false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	var current any = p.tree
	for _, part := range strings.Split(key, ".") {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = node[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// deepMerge overlays src onto dst. Maps merge recursively; any other value
// in src replaces the one in dst.
func deepMerge(dst, src map[string]any) map[string]any {
	out := make(map[string]any, len(dst)+len(src))
	for key, value := range dst {
		out[key] = value
	}
	for key, value := range src {
		if srcMap, ok := value.(map[string]any); ok {
			if dstMap, ok := out[key].(map[string]any); ok {
				out[key] = deepMerge(dstMap, srcMap)
				continue
			}
		}
		out[key] = value
	}
	return out
}

func snapshot(tree map[string]any) map[string]any {
	out := make(map[string]any, len(tree))
	for key, value := range tree {
		if nested, ok := value.(map[string]any); ok {
			out[key] = snapshot(nested)
			continue
		}
		out[key] = value
	}
	return out
}
