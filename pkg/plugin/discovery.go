package plugin

import (
	"context"
	"strings"

	xerrors "quackcore/internal/errors"
	"quackcore/pkg/capability"
)

// DiscoverySource enumerates installed plugin descriptors. The registry
// never assumes a specific packaging mechanism, only that discovery is
// enumerable and re-runnable.
type DiscoverySource interface {
	Descriptors(ctx context.Context) ([]Descriptor, error)
}

// StaticSource is a fixed descriptor list, the usual source for built-in
// providers and for tests.
type StaticSource []Descriptor

// Descriptors implements DiscoverySource.
func (s StaticSource) Descriptors(context.Context) ([]Descriptor, error) {
	out := make([]Descriptor, len(s))
	copy(out, s)
	return out, nil
}

// ConfigSource supplies per-plugin configuration blocks keyed by plugin
// name. The registry reads it only at instantiation time.
type ConfigSource interface {
	PluginConfig(name string) map[string]any
}

// ConfigMap is a ConfigSource backed by a plain map.
type ConfigMap map[string]map[string]any

// PluginConfig implements ConfigSource.
func (m ConfigMap) PluginConfig(name string) map[string]any {
	return m[name]
}

func validateDescriptor(desc Descriptor) error {
	if strings.TrimSpace(desc.Name) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "plugin name cannot be empty")
	}
	if desc.Kind == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "plugin kind cannot be empty")
	}
	if desc.Factory == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "plugin factory cannot be nil")
	}
	contract := desc.Contract
	if contract == "" {
		contract = capability.ContractVersion
	}
	return capability.CheckVersion(contract)
}
