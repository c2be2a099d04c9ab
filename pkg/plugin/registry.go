package plugin

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	cmap "github.com/orcaman/concurrent-map/v2"

	xerrors "quackcore/internal/errors"
	"quackcore/pkg/capability"
	"quackcore/pkg/logger"
)

// Registry is the single source of truth for plugin identity: at most one
// live instance exists per (kind, name) pair. Instantiation is lazy and
// serialized per key; distinct keys proceed fully in parallel.
type Registry struct {
	entries            cmap.ConcurrentMap[string, *entry]
	sources            []DiscoverySource
	configs            ConfigSource
	logger             *slog.Logger
	tolerateDuplicates bool
}

type entry struct {
	mu    sync.Mutex
	desc  Descriptor
	state State
	inst  capability.Instance
	err   error
}

// Option configures a registry.
type Option func(*Registry)

// WithSource adds a discovery source.
func WithSource(source DiscoverySource) Option {
	return func(r *Registry) {
		if source != nil {
			r.sources = append(r.sources, source)
		}
	}
}

// WithConfigSource supplies the per-plugin configuration collaborator.
func WithConfigSource(configs ConfigSource) Option {
	return func(r *Registry) {
		if configs != nil {
			r.configs = configs
		}
	}
}

// WithLogger overrides the registry logger.
func WithLogger(log *slog.Logger) Option {
	return func(r *Registry) {
		if log != nil {
			r.logger = log
		}
	}
}

// TolerateDuplicates makes discovery keep the first descriptor for a
// (kind, name) pair instead of failing closed.
func TolerateDuplicates() Option {
	return func(r *Registry) {
		r.tolerateDuplicates = true
	}
}

// NewRegistry constructs an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		entries: cmap.New[*entry](),
		configs: ConfigMap(nil),
		logger:  logger.Named("registry"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Register adds a descriptor to the catalog without instantiating it.
// Invalid descriptors and incompatible contract versions are rejected
// outright, leaving no state behind.
func (r *Registry) Register(desc Descriptor) error {
	if err := validateDescriptor(desc); err != nil {
		return err
	}
	e := &entry{desc: desc, state: StateUninitialized}
	if !r.entries.SetIfAbsent(desc.key(), e) {
		if r.tolerateDuplicates {
			r.logger.Warn("duplicate plugin ignored",
				slog.String("kind", string(desc.Kind)), slog.String("name", desc.Name))
			return nil
		}
		return xerrors.New(xerrors.CodeDuplicatePlugin,
			fmt.Sprintf("plugin %s already registered for kind %s", desc.Name, desc.Kind))
	}
	r.logger.Debug("plugin registered",
		slog.String("kind", string(desc.Kind)), slog.String("name", desc.Name),
		slog.String("version", desc.Version))
	return nil
}

// Discover enumerates every configured source and registers the resulting
// descriptors. A registration failure is fatal to that plugin only; other
// plugins continue loading. Duplicates fail the discovery run unless the
// registry tolerates them.
func (r *Registry) Discover(ctx context.Context) ([]Descriptor, error) {
	var discovered []Descriptor
	for _, source := range r.sources {
		descs, err := source.Descriptors(ctx)
		if err != nil {
			return discovered, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "discovery source failed")
		}
		for _, desc := range descs {
			if err := r.Register(desc); err != nil {
				if stdErrors.Is(err, xerrors.New(xerrors.CodeDuplicatePlugin, "")) {
					return discovered, err
				}
				r.logger.Error("plugin rejected during discovery",
					slog.String("kind", string(desc.Kind)), slog.String("name", desc.Name),
					slog.Any("error", err))
				continue
			}
			discovered = append(discovered, desc)
		}
	}
	return discovered, nil
}

// Resolve returns the active instance for (kind, name), instantiating it on
// first use. Instantiation failures are cached so repeated calls fail fast
// until Reload clears them. A closed instance is never handed out.
func (r *Registry) Resolve(ctx context.Context, kind capability.Kind, name string) (capability.Instance, error) {
	e, ok := r.entries.Get(entryKey(kind, name))
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound,
			fmt.Sprintf("plugin %s/%s is not registered", kind, name))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateActive:
		return e.inst, nil
	case StateFailed:
		return nil, e.err
	case StateClosed:
		return nil, xerrors.New(xerrors.CodeInitializationFailure,
			fmt.Sprintf("plugin %s/%s is closed", kind, name))
	}

	inst, err := r.instantiate(ctx, e.desc)
	if err != nil {
		e.state = StateFailed
		e.err = err
		r.logger.Error("plugin instantiation failed",
			slog.String("kind", string(kind)), slog.String("name", name), slog.Any("error", err))
		return nil, err
	}
	e.inst = inst
	e.state = StateActive
	r.logger.Info("plugin activated",
		slog.String("kind", string(kind)), slog.String("name", name),
		slog.String("version", e.desc.Version))
	return inst, nil
}

func (r *Registry) instantiate(ctx context.Context, desc Descriptor) (inst capability.Instance, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			inst = nil
			err = xerrors.New(xerrors.CodePluginFault,
				fmt.Sprintf("plugin %s factory panicked: %v", desc.Name, rec))
		}
	}()

	inst = desc.Factory()
	if inst == nil {
		return nil, xerrors.New(xerrors.CodeContractViolation,
			fmt.Sprintf("plugin %s factory returned nil", desc.Name))
	}
	if err := inst.Configure(r.configs.PluginConfig(desc.Name)); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err,
			fmt.Sprintf("configure plugin %s", desc.Name))
	}
	if err := inst.Open(ctx); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err,
			fmt.Sprintf("open plugin %s", desc.Name))
	}
	if err := capability.Validate(desc.Kind, desc.Capabilities, inst); err != nil {
		_ = inst.Close(ctx)
		return nil, err
	}
	return inst, nil
}

// List returns a snapshot of every descriptor of the given kind, active or
// not, for introspection and diagnostics.
func (r *Registry) List(kind capability.Kind) []Info {
	var infos []Info
	for _, e := range r.entries.Items() {
		if e.desc.Kind != kind {
			continue
		}
		e.mu.Lock()
		infos = append(infos, Info{Descriptor: e.desc, State: e.state, Err: e.err})
		e.mu.Unlock()
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Descriptor.Name < infos[j].Descriptor.Name
	})
	return infos
}

// Reload clears a cached failure (or tears down an active instance) so the
// next Resolve re-runs the factory.
func (r *Registry) Reload(ctx context.Context, kind capability.Kind, name string) error {
	e, ok := r.entries.Get(entryKey(kind, name))
	if !ok {
		return xerrors.New(xerrors.CodeNotFound,
			fmt.Sprintf("plugin %s/%s is not registered", kind, name))
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateActive && e.inst != nil {
		if err := e.inst.Close(ctx); err != nil {
			r.logger.Warn("close during reload failed",
				slog.String("kind", string(kind)), slog.String("name", name), slog.Any("error", err))
		}
	}
	e.inst = nil
	e.err = nil
	e.state = StateUninitialized
	return nil
}

// Shutdown transitions every active instance to closed. Release failures
// are collected and reported together; shutdown makes a best effort across
// all plugins regardless of individual failures.
func (r *Registry) Shutdown(ctx context.Context) error {
	var errs []error
	for _, e := range r.entries.Items() {
		e.mu.Lock()
		if e.state == StateActive && e.inst != nil {
			if err := e.inst.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("close plugin %s/%s: %w", e.desc.Kind, e.desc.Name, err))
			}
			e.inst = nil
			e.state = StateClosed
		}
		e.mu.Unlock()
	}
	if len(errs) > 0 {
		joined := stdErrors.Join(errs...)
		logger.Audit().Warn("shutdown completed with failures",
			slog.Int("failed", len(errs)), slog.String("errors", joined.Error()))
		return joined
	}
	return nil
}
