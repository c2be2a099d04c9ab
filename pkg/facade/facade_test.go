package facade

import (
	"context"
	"testing"

	xerrors "quackcore/internal/errors"
	"quackcore/pkg/capability"
	"quackcore/pkg/plugin"
	"quackcore/pkg/session"
)

type stubStore struct{}

func (stubStore) Load(context.Context, string) (*session.Credential, error) {
	return nil, xerrors.New(xerrors.CodeNotFound, "no credential")
}
func (stubStore) Save(context.Context, *session.Credential) error { return nil }
func (stubStore) Invalidate(context.Context, string) error        { return nil }
func (stubStore) Close() error                                    { return nil }

type memFS struct {
	files map[string][]byte
}

func (m *memFS) Configure(map[string]any) error { return nil }
func (m *memFS) Open(context.Context) error {
	m.files = map[string][]byte{"hello.txt": []byte("quack")}
	return nil
}
func (m *memFS) Close(context.Context) error { return nil }
func (m *memFS) Read(_ context.Context, path string) ([]byte, error) {
	data, ok := m.files[path]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, "no such file")
	}
	return data, nil
}
func (m *memFS) Write(_ context.Context, path string, data []byte, _ bool) error {
	m.files[path] = data
	return nil
}
func (m *memFS) List(context.Context, string) ([]capability.FileInfo, error) { return nil, nil }
func (m *memFS) Stat(_ context.Context, path string) (capability.FileInfo, error) {
	if path == "explode" {
		panic("stat exploded")
	}
	data, ok := m.files[path]
	if !ok {
		return capability.FileInfo{}, xerrors.New(xerrors.CodeNotFound, "no such file")
	}
	return capability.FileInfo{Path: path, Size: int64(len(data))}, nil
}

type echoIntegration struct{}

func (echoIntegration) Configure(map[string]any) error { return nil }
func (echoIntegration) Open(context.Context) error     { return nil }
func (echoIntegration) Close(context.Context) error    { return nil }
func (echoIntegration) Operations() []capability.Operation {
	return []capability.Operation{{Name: "echo", Idempotent: true}}
}
func (echoIntegration) Call(_ context.Context, _ string, args map[string]any) (any, error) {
	return args["value"], nil
}
func (echoIntegration) Paginate(context.Context, string, map[string]any) (capability.Pager, error) {
	return nil, xerrors.New(xerrors.CodeInvalidArgument, "not paginated")
}

func newTestFacade(t *testing.T) *Facade {
	t.Helper()
	registry := plugin.NewRegistry()
	if err := registry.Register(plugin.Descriptor{
		Name: "mem", Kind: capability.KindFilesystem, Version: "1.0.0",
		Capabilities: []capability.Tag{capability.TagFileRead, capability.TagFileWrite},
		Factory:      func() capability.Instance { return &memFS{} },
	}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := registry.Register(plugin.Descriptor{
		Name: "echo", Kind: capability.KindIntegration, Version: "1.0.0",
		Capabilities: []capability.Tag{capability.TagIntegrationCall},
		Factory:      func() capability.Instance { return echoIntegration{} },
	}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return New(registry, session.NewManager(stubStore{}))
}

func TestInvokeFilesystemRead(t *testing.T) {
	f := newTestFacade(t)
	result := f.Invoke(context.Background(), capability.KindFilesystem, "mem", "read",
		map[string]any{"path": "hello.txt"})
	if !result.OK() {
		t.Fatalf("Invoke failed: %+v", result.Failure)
	}
	if string(result.Payload.([]byte)) != "quack" {
		t.Fatalf("unexpected payload %v", result.Payload)
	}
}

func TestInvokeWriteThenRead(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()
	if result := f.Invoke(ctx, capability.KindFilesystem, "mem", "write",
		map[string]any{"path": "new.txt", "content": "fresh"}); !result.OK() {
		t.Fatalf("write failed: %+v", result.Failure)
	}
	result := f.Invoke(ctx, capability.KindFilesystem, "mem", "read",
		map[string]any{"path": "new.txt"})
	if !result.OK() || string(result.Payload.([]byte)) != "fresh" {
		t.Fatalf("read after write wrong: %+v", result)
	}
}

func TestInvokeUnknownPlugin(t *testing.T) {
	f := newTestFacade(t)
	result := f.Invoke(context.Background(), capability.KindFilesystem, "nope", "read",
		map[string]any{"path": "x"})
	if result.OK() {
		t.Fatal("expected failure for unknown plugin")
	}
	if result.Failure.Code != xerrors.CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %s", result.Failure.Code)
	}
}

func TestInvokeUnknownOperation(t *testing.T) {
	f := newTestFacade(t)
	result := f.Invoke(context.Background(), capability.KindFilesystem, "mem", "shred",
		map[string]any{"path": "x"})
	if result.OK() || result.Failure.Code != xerrors.CodeInvalidArgument {
		t.Fatalf("expected INVALID_ARGUMENT, got %+v", result)
	}
}

func TestInvokeMissingArgument(t *testing.T) {
	f := newTestFacade(t)
	result := f.Invoke(context.Background(), capability.KindFilesystem, "mem", "read", nil)
	if result.OK() || result.Failure.Code != xerrors.CodeInvalidArgument {
		t.Fatalf("expected INVALID_ARGUMENT, got %+v", result)
	}
}

func TestInvokePanicBecomesPluginFault(t *testing.T) {
	f := newTestFacade(t)
	result := f.Invoke(context.Background(), capability.KindFilesystem, "mem", "stat",
		map[string]any{"path": "explode"})
	if result.OK() {
		t.Fatal("expected a failure from the panicking operation")
	}
	if result.Failure.Code != xerrors.CodePluginFault {
		t.Fatalf("expected PLUGIN_FAULT, got %s", result.Failure.Code)
	}

	// The plugin stays usable after a panic.
	result = f.Invoke(context.Background(), capability.KindFilesystem, "mem", "read",
		map[string]any{"path": "hello.txt"})
	if !result.OK() {
		t.Fatalf("plugin unusable after panic: %+v", result.Failure)
	}
}

func TestInvokeRoutesIntegrationsThroughSessions(t *testing.T) {
	f := newTestFacade(t)
	result := f.Invoke(context.Background(), capability.KindIntegration, "echo", "echo",
		map[string]any{"value": "pong"})
	if !result.OK() {
		t.Fatalf("integration call failed: %+v", result.Failure)
	}
	if result.Payload != "pong" {
		t.Fatalf("unexpected payload %v", result.Payload)
	}
}

func TestInvokeSafeOpsWithoutSurface(t *testing.T) {
	f := newTestFacade(t)
	result := f.Invoke(context.Background(), capability.KindFilesystem, "mem", "copy",
		map[string]any{"src": "a", "dst": "b"})
	if result.OK() || result.Failure.Code != xerrors.CodeContractViolation {
		t.Fatalf("expected CONTRACT_VIOLATION, got %+v", result)
	}
}
