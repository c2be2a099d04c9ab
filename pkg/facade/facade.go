// Package facade is the single entry point for invoking plugin operations.
// It resolves the plugin, dispatches the operation, routes integrations
// through the session envelope and converts panics into coded failures.
package facade

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	xerrors "quackcore/internal/errors"
	"quackcore/internal/observability/metrics"
	"quackcore/pkg/capability"
	"quackcore/pkg/logger"
	"quackcore/pkg/plugin"
	"quackcore/pkg/session"
)

// Facade invokes operations against registered plugins and always returns a
// CallResult; callers never see a raw panic or an unwrapped error.
type Facade struct {
	registry *plugin.Registry
	sessions *session.Manager
	log      *slog.Logger
}

// Option configures a Facade.
type Option func(*Facade)

// WithLogger overrides the facade logger.
func WithLogger(log *slog.Logger) Option {
	return func(f *Facade) {
		if log != nil {
			f.log = log
		}
	}
}

// New constructs a facade over the registry. The session manager is required
// for integration-kind plugins and may be nil when none are registered.
func New(registry *plugin.Registry, sessions *session.Manager, opts ...Option) *Facade {
	f := &Facade{
		registry: registry,
		sessions: sessions,
		log:      logger.Named("facade"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// Invoke runs one operation against the named plugin. The outcome is always
// a CallResult: a payload on success, a coded failure otherwise.
func (f *Facade) Invoke(ctx context.Context, kind capability.Kind, name, operation string, args map[string]any, opts ...session.CallOption) capability.CallResult {
	id := uuid.NewString()
	start := time.Now()

	payload, err := f.dispatch(ctx, kind, name, operation, args, opts)

	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	metrics.ObserveInvocation(string(kind), name, operation, outcome, time.Since(start))
	if err != nil {
		f.log.Warn("invocation failed",
			slog.String("invocation_id", id), slog.String("kind", string(kind)),
			slog.String("plugin", name), slog.String("operation", operation),
			slog.Any("error", err))
		return capability.Fail(err)
	}
	f.log.Debug("invocation completed",
		slog.String("invocation_id", id), slog.String("kind", string(kind)),
		slog.String("plugin", name), slog.String("operation", operation),
		slog.Duration("elapsed", time.Since(start)))
	return capability.Success(payload)
}

func (f *Facade) dispatch(ctx context.Context, kind capability.Kind, name, operation string, args map[string]any, opts []session.CallOption) (payload any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			payload = nil
			err = xerrors.New(xerrors.CodePluginFault,
				fmt.Sprintf("plugin %s/%s panicked during %s: %v", kind, name, operation, rec))
		}
	}()

	inst, err := f.registry.Resolve(ctx, kind, name)
	if err != nil {
		return nil, err
	}

	switch kind {
	case capability.KindFilesystem:
		return f.dispatchFilesystem(ctx, name, inst, operation, args)
	case capability.KindPathResolver:
		return f.dispatchPaths(ctx, name, inst, operation, args)
	case capability.KindConfig:
		return f.dispatchConfig(ctx, name, inst, operation, args)
	case capability.KindIntegration:
		integ, ok := inst.(capability.Integration)
		if !ok {
			return nil, xerrors.New(xerrors.CodeContractViolation,
				fmt.Sprintf("plugin %s is not an integration", name))
		}
		if f.sessions == nil {
			return nil, xerrors.New(xerrors.CodeInitializationFailure,
				"no session manager configured for integration plugins")
		}
		return f.sessions.Call(ctx, name, integ, operation, args, opts...)
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("unknown plugin kind %s", kind))
	}
}

// Paginate opens a page sequence on an integration operation. Every page
// fetch goes through the session envelope.
func (f *Facade) Paginate(ctx context.Context, name, operation string, args map[string]any, opts ...session.CallOption) (capability.Pager, error) {
	inst, err := f.registry.Resolve(ctx, capability.KindIntegration, name)
	if err != nil {
		return nil, err
	}
	integ, ok := inst.(capability.Integration)
	if !ok {
		return nil, xerrors.New(xerrors.CodeContractViolation,
			fmt.Sprintf("plugin %s is not an integration", name))
	}
	if f.sessions == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure,
			"no session manager configured for integration plugins")
	}
	return f.sessions.Paginate(ctx, name, integ, operation, args, opts...)
}

func (f *Facade) dispatchFilesystem(ctx context.Context, name string, inst capability.Instance, operation string, args map[string]any) (any, error) {
	fsys, ok := inst.(capability.Filesystem)
	if !ok {
		return nil, xerrors.New(xerrors.CodeContractViolation,
			fmt.Sprintf("plugin %s does not implement the filesystem surface", name))
	}
	switch operation {
	case "read":
		path, err := stringArg(args, "path")
		if err != nil {
			return nil, err
		}
		return fsys.Read(ctx, path)
	case "write":
		path, err := stringArg(args, "path")
		if err != nil {
			return nil, err
		}
		data, err := bytesArg(args, "content")
		if err != nil {
			return nil, err
		}
		return nil, fsys.Write(ctx, path, data, boolArg(args, "overwrite"))
	case "list":
		dir, err := stringArg(args, "path")
		if err != nil {
			return nil, err
		}
		return fsys.List(ctx, dir)
	case "stat":
		path, err := stringArg(args, "path")
		if err != nil {
			return nil, err
		}
		return fsys.Stat(ctx, path)
	case "copy", "move":
		safe, ok := inst.(capability.SafeOps)
		if !ok {
			return nil, xerrors.New(xerrors.CodeContractViolation,
				fmt.Sprintf("plugin %s does not implement safe operations", name))
		}
		src, err := stringArg(args, "src")
		if err != nil {
			return nil, err
		}
		dst, err := stringArg(args, "dst")
		if err != nil {
			return nil, err
		}
		if operation == "copy" {
			return safe.Copy(ctx, src, dst, boolArg(args, "overwrite"))
		}
		return safe.Move(ctx, src, dst, boolArg(args, "overwrite"))
	default:
		return nil, unknownOperation(name, operation)
	}
}

func (f *Facade) dispatchPaths(ctx context.Context, name string, inst capability.Instance, operation string, args map[string]any) (any, error) {
	resolver, ok := inst.(capability.PathResolver)
	if !ok {
		return nil, xerrors.New(xerrors.CodeContractViolation,
			fmt.Sprintf("plugin %s does not implement the path surface", name))
	}
	switch operation {
	case "resolve":
		path, err := stringArg(args, "path")
		if err != nil {
			return nil, err
		}
		return resolver.Resolve(ctx, path)
	case "normalize":
		path, err := stringArg(args, "path")
		if err != nil {
			return nil, err
		}
		return resolver.Normalize(path)
	case "project_root":
		project, ok := inst.(capability.ProjectContext)
		if !ok {
			return nil, xerrors.New(xerrors.CodeContractViolation,
				fmt.Sprintf("plugin %s does not implement project context", name))
		}
		start, _ := args["start"].(string)
		return project.ProjectRoot(ctx, start)
	default:
		return nil, unknownOperation(name, operation)
	}
}

func (f *Facade) dispatchConfig(ctx context.Context, name string, inst capability.Instance, operation string, args map[string]any) (any, error) {
	provider, ok := inst.(capability.ConfigProvider)
	if !ok {
		return nil, xerrors.New(xerrors.CodeContractViolation,
			fmt.Sprintf("plugin %s does not implement the config surface", name))
	}
	switch operation {
	case "load":
		path, _ := args["path"].(string)
		return provider.Load(ctx, path)
	case "get":
		key, err := stringArg(args, "key")
		if err != nil {
			return nil, err
		}
		value, ok := provider.Get(key)
		if !ok {
			return nil, xerrors.New(xerrors.CodeNotFound,
				fmt.Sprintf("config key %s not found", key))
		}
		return value, nil
	default:
		return nil, unknownOperation(name, operation)
	}
}

func unknownOperation(name, operation string) error {
	return xerrors.New(xerrors.CodeInvalidArgument,
		fmt.Sprintf("plugin %s does not expose operation %s", name, operation))
}

func stringArg(args map[string]any, key string) (string, error) {
	value, ok := args[key].(string)
	if !ok || value == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("argument %s must be a non-empty string", key))
	}
	return value, nil
}

func bytesArg(args map[string]any, key string) ([]byte, error) {
	switch value := args[key].(type) {
	case []byte:
		return value, nil
	case string:
		return []byte(value), nil
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("argument %s must be bytes or a string", key))
	}
}

func boolArg(args map[string]any, key string) bool {
	value, _ := args[key].(bool)
	return value
}
