package capability

import (
	"context"
	"errors"
	"testing"

	xerrors "quackcore/internal/errors"
)

type bareFS struct{}

func (bareFS) Configure(map[string]any) error { return nil }
func (bareFS) Open(context.Context) error     { return nil }
func (bareFS) Close(context.Context) error    { return nil }
func (bareFS) Read(context.Context, string) ([]byte, error) {
	return nil, nil
}
func (bareFS) Write(context.Context, string, []byte, bool) error { return nil }
func (bareFS) List(context.Context, string) ([]FileInfo, error)  { return nil, nil }
func (bareFS) Stat(context.Context, string) (FileInfo, error)    { return FileInfo{}, nil }

type safeFS struct{ bareFS }

func (safeFS) Copy(context.Context, string, string, bool) (string, error) { return "", nil }
func (safeFS) Move(context.Context, string, string, bool) (string, error) { return "", nil }

type bareIntegration struct {
	ops []Operation
}

func (bareIntegration) Configure(map[string]any) error { return nil }
func (bareIntegration) Open(context.Context) error     { return nil }
func (bareIntegration) Close(context.Context) error    { return nil }
func (b bareIntegration) Operations() []Operation      { return b.ops }
func (bareIntegration) Call(context.Context, string, map[string]any) (any, error) {
	return nil, nil
}
func (bareIntegration) Paginate(context.Context, string, map[string]any) (Pager, error) {
	return nil, nil
}

func expectViolation(t *testing.T, err error) {
	t.Helper()
	if !errors.Is(err, xerrors.New(xerrors.CodeContractViolation, "")) {
		t.Fatalf("expected CONTRACT_VIOLATION, got %v", err)
	}
}

func TestCheckVersion(t *testing.T) {
	if err := CheckVersion(ContractVersion); err != nil {
		t.Fatalf("current version rejected: %v", err)
	}
	if err := CheckVersion("1.9"); err != nil {
		t.Fatalf("minor drift must be tolerated: %v", err)
	}
	err := CheckVersion("2.0")
	if !errors.Is(err, xerrors.New(xerrors.CodeIncompatibleVersion, "")) {
		t.Fatalf("expected INCOMPATIBLE_VERSION, got %v", err)
	}
	if err := CheckVersion("banana"); err == nil {
		t.Fatal("unparseable version must be rejected")
	}
}

func TestValidateKindSurface(t *testing.T) {
	if err := Validate(KindFilesystem, nil, bareFS{}); err != nil {
		t.Fatalf("valid filesystem rejected: %v", err)
	}
	expectViolation(t, Validate(KindConfig, nil, bareFS{}))
	expectViolation(t, Validate(Kind("mystery"), nil, bareFS{}))
	expectViolation(t, Validate(KindFilesystem, nil, nil))
}

func TestValidateDeclaredTags(t *testing.T) {
	expectViolation(t, Validate(KindFilesystem, []Tag{TagFileSafeOps}, bareFS{}))
	if err := Validate(KindFilesystem, []Tag{TagFileSafeOps}, safeFS{}); err != nil {
		t.Fatalf("safe-ops filesystem rejected: %v", err)
	}
	// Tags from another kind are invalid regardless of implementation.
	expectViolation(t, Validate(KindFilesystem, []Tag{TagIntegrationCall}, safeFS{}))
}

func TestValidateIntegrationTags(t *testing.T) {
	empty := bareIntegration{}
	expectViolation(t, Validate(KindIntegration, []Tag{TagIntegrationCall}, empty))
	expectViolation(t, Validate(KindIntegration, []Tag{TagIntegrationAuth}, empty))

	plain := bareIntegration{ops: []Operation{{Name: "fetch", Idempotent: true}}}
	if err := Validate(KindIntegration, []Tag{TagIntegrationCall}, plain); err != nil {
		t.Fatalf("callable integration rejected: %v", err)
	}
	expectViolation(t, Validate(KindIntegration, []Tag{TagIntegrationPaginate}, plain))

	paged := bareIntegration{ops: []Operation{{Name: "scan", Idempotent: true, Paginated: true}}}
	if err := Validate(KindIntegration, []Tag{TagIntegrationPaginate}, paged); err != nil {
		t.Fatalf("paginated integration rejected: %v", err)
	}
}
