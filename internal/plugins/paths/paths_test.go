package paths

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	xerrors "quackcore/internal/errors"
)

func openPlugin(t *testing.T, base string, cfg map[string]any) *Plugin {
	t.Helper()
	if cfg == nil {
		cfg = map[string]any{}
	}
	cfg["base"] = base
	p := New().(*Plugin)
	if err := p.Configure(cfg); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if err := p.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return p
}

func TestResolveAnchorsRelativePaths(t *testing.T) {
	base := t.TempDir()
	p := openPlugin(t, base, nil)

	resolved, err := p.Resolve(context.Background(), "sub/file.txt")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if resolved != filepath.Join(base, "sub", "file.txt") {
		t.Fatalf("resolved to %q", resolved)
	}

	abs := filepath.Join(base, "other", "..", "x.txt")
	resolved, err = p.Resolve(context.Background(), abs)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if resolved != filepath.Join(base, "x.txt") {
		t.Fatalf("absolute path not cleaned: %q", resolved)
	}
}

func TestNormalizeCleansAndRejectsEscapes(t *testing.T) {
	p := openPlugin(t, t.TempDir(), nil)

	normalized, err := p.Normalize("a//b/./c")
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if normalized != filepath.Join("a", "b", "c") {
		t.Fatalf("normalized to %q", normalized)
	}

	for _, path := range []string{"..", "../x", "a/../../x"} {
		if _, err := p.Normalize(path); !errors.Is(err, xerrors.New(xerrors.CodeInvalidArgument, "")) {
			t.Fatalf("path %q: expected INVALID_ARGUMENT, got %v", path, err)
		}
	}
}

func TestProjectRootFindsMarker(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b", "c")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "go.mod"), []byte("module x\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	p := openPlugin(t, nested, nil)
	found, err := p.ProjectRoot(context.Background(), "")
	if err != nil {
		t.Fatalf("ProjectRoot failed: %v", err)
	}
	if found != root {
		t.Fatalf("found %q, want %q", found, root)
	}
}

func TestProjectRootCustomMarker(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "deep")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, ".projectile"), nil, 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	p := openPlugin(t, nested, map[string]any{"markers": []any{".projectile"}})
	found, err := p.ProjectRoot(context.Background(), "")
	if err != nil {
		t.Fatalf("ProjectRoot failed: %v", err)
	}
	if found != root {
		t.Fatalf("found %q, want %q", found, root)
	}
}
