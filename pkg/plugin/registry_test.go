package plugin

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	xerrors "quackcore/internal/errors"
	"quackcore/pkg/capability"
)

type fakeFS struct {
	openErr   error
	closeErr  error
	closed    atomic.Int32
	configure map[string]any
}

func (f *fakeFS) Configure(cfg map[string]any) error {
	f.configure = cfg
	return nil
}
func (f *fakeFS) Open(context.Context) error { return f.openErr }
func (f *fakeFS) Close(context.Context) error {
	f.closed.Add(1)
	return f.closeErr
}
func (f *fakeFS) Read(context.Context, string) ([]byte, error) { return nil, nil }
func (f *fakeFS) Write(context.Context, string, []byte, bool) error {
	return nil
}
func (f *fakeFS) List(context.Context, string) ([]capability.FileInfo, error) { return nil, nil }
func (f *fakeFS) Stat(context.Context, string) (capability.FileInfo, error) {
	return capability.FileInfo{}, nil
}

func fsDescriptor(name string, factory capability.Factory) Descriptor {
	return Descriptor{
		Name:         name,
		Kind:         capability.KindFilesystem,
		Version:      "1.0.0",
		Capabilities: []capability.Tag{capability.TagFileRead},
		Factory:      factory,
	}
}

func TestResolveReturnsSameInstance(t *testing.T) {
	var calls atomic.Int32
	r := NewRegistry()
	if err := r.Register(fsDescriptor("local", func() capability.Instance {
		calls.Add(1)
		return &fakeFS{}
	})); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	first, err := r.Resolve(context.Background(), capability.KindFilesystem, "local")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	second, err := r.Resolve(context.Background(), capability.KindFilesystem, "local")
	if err != nil {
		t.Fatalf("second Resolve failed: %v", err)
	}
	if first != second {
		t.Fatal("expected the same instance on repeated Resolve")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("factory ran %d times, want 1", got)
	}
}

func TestConcurrentResolveRunsFactoryOnce(t *testing.T) {
	var calls atomic.Int32
	r := NewRegistry()
	if err := r.Register(fsDescriptor("local", func() capability.Instance {
		calls.Add(1)
		return &fakeFS{}
	})); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Resolve(context.Background(), capability.KindFilesystem, "local"); err != nil {
				t.Errorf("Resolve failed: %v", err)
			}
		}()
	}
	wg.Wait()
	if got := calls.Load(); got != 1 {
		t.Fatalf("factory ran %d times under concurrency, want 1", got)
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	desc := fsDescriptor("local", func() capability.Instance { return &fakeFS{} })
	if err := r.Register(desc); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}
	err := r.Register(desc)
	if err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
	if !errors.Is(err, xerrors.New(xerrors.CodeDuplicatePlugin, "")) {
		t.Fatalf("expected DUPLICATE_PLUGIN, got %v", err)
	}
}

func TestRegisterSameNameDifferentKinds(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(fsDescriptor("shared", func() capability.Instance { return &fakeFS{} })); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	other := Descriptor{
		Name:    "shared",
		Kind:    capability.KindConfig,
		Version: "1.0.0",
		Factory: func() capability.Instance { return &fakeFS{} },
	}
	if err := r.Register(other); err != nil {
		t.Fatalf("same name under a different kind should register: %v", err)
	}
}

func TestRegisterRejectsIncompatibleContract(t *testing.T) {
	r := NewRegistry()
	desc := fsDescriptor("local", func() capability.Instance { return &fakeFS{} })
	desc.Contract = "2.0"
	err := r.Register(desc)
	if !errors.Is(err, xerrors.New(xerrors.CodeIncompatibleVersion, "")) {
		t.Fatalf("expected INCOMPATIBLE_VERSION, got %v", err)
	}
}

func TestResolveCachesFailureUntilReload(t *testing.T) {
	var calls atomic.Int32
	r := NewRegistry()
	if err := r.Register(fsDescriptor("flaky", func() capability.Instance {
		calls.Add(1)
		return &fakeFS{openErr: errors.New("boom")}
	})); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if _, err := r.Resolve(context.Background(), capability.KindFilesystem, "flaky"); err == nil {
		t.Fatal("expected first Resolve to fail")
	}
	if _, err := r.Resolve(context.Background(), capability.KindFilesystem, "flaky"); err == nil {
		t.Fatal("expected cached failure")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("factory ran %d times, want 1 (failure must be cached)", got)
	}

	if err := r.Reload(context.Background(), capability.KindFilesystem, "flaky"); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if _, err := r.Resolve(context.Background(), capability.KindFilesystem, "flaky"); err == nil {
		t.Fatal("expected Resolve after Reload to fail again")
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("factory ran %d times after reload, want 2", got)
	}
}

func TestResolvePanickingFactoryBecomesFault(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(fsDescriptor("panicky", func() capability.Instance {
		panic("factory exploded")
	})); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	_, err := r.Resolve(context.Background(), capability.KindFilesystem, "panicky")
	if !errors.Is(err, xerrors.New(xerrors.CodePluginFault, "")) {
		t.Fatalf("expected PLUGIN_FAULT, got %v", err)
	}
}

func TestValidationFailureClosesInstance(t *testing.T) {
	inst := &fakeFS{}
	desc := Descriptor{
		Name:         "undeclared",
		Kind:         capability.KindFilesystem,
		Version:      "1.0.0",
		Capabilities: []capability.Tag{capability.TagFileSafeOps},
		Factory:      func() capability.Instance { return inst },
	}
	r := NewRegistry()
	if err := r.Register(desc); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	_, err := r.Resolve(context.Background(), capability.KindFilesystem, "undeclared")
	if !errors.Is(err, xerrors.New(xerrors.CodeContractViolation, "")) {
		t.Fatalf("expected CONTRACT_VIOLATION, got %v", err)
	}
	if inst.closed.Load() != 1 {
		t.Fatal("expected the invalid instance to be closed")
	}
}

func TestShutdownAggregatesFailures(t *testing.T) {
	r := NewRegistry()
	bad := &fakeFS{closeErr: errors.New("close failed")}
	good := &fakeFS{}
	if err := r.Register(fsDescriptor("bad", func() capability.Instance { return bad })); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := r.Register(fsDescriptor("good", func() capability.Instance { return good })); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	ctx := context.Background()
	if _, err := r.Resolve(ctx, capability.KindFilesystem, "bad"); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if _, err := r.Resolve(ctx, capability.KindFilesystem, "good"); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	err := r.Shutdown(ctx)
	if err == nil {
		t.Fatal("expected Shutdown to report the close failure")
	}
	if good.closed.Load() != 1 || bad.closed.Load() != 1 {
		t.Fatal("expected every active instance to be closed despite failures")
	}
	if _, err := r.Resolve(ctx, capability.KindFilesystem, "good"); err == nil {
		t.Fatal("expected Resolve after Shutdown to fail")
	}
}

func TestConfigSourceFeedsConfigure(t *testing.T) {
	inst := &fakeFS{}
	r := NewRegistry(WithConfigSource(ConfigMap{"local": {"root": "/tmp"}}))
	if err := r.Register(fsDescriptor("local", func() capability.Instance { return inst })); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := r.Resolve(context.Background(), capability.KindFilesystem, "local"); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if inst.configure["root"] != "/tmp" {
		t.Fatalf("expected configure block to reach the plugin, got %v", inst.configure)
	}
}

func TestDiscoverRegistersStaticSource(t *testing.T) {
	r := NewRegistry(WithSource(StaticSource{
		fsDescriptor("one", func() capability.Instance { return &fakeFS{} }),
		fsDescriptor("two", func() capability.Instance { return &fakeFS{} }),
	}))
	discovered, err := r.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(discovered) != 2 {
		t.Fatalf("discovered %d plugins, want 2", len(discovered))
	}
	infos := r.List(capability.KindFilesystem)
	if len(infos) != 2 {
		t.Fatalf("List returned %d entries, want 2", len(infos))
	}
	if infos[0].State != StateUninitialized {
		t.Fatalf("expected lazy registration, got state %s", infos[0].State)
	}
}
