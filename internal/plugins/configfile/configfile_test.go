package configfile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	xerrors "quackcore/internal/errors"
)

func writeYAML(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func TestOpenLoadsBaseAndOverlays(t *testing.T) {
	dir := t.TempDir()
	base := writeYAML(t, dir, "base.yaml", `
storage:
  driver: memory
  redis:
    addr: 127.0.0.1:6379
logging:
  level: info
`)
	overlay := writeYAML(t, dir, "prod.yaml", `
storage:
  driver: redis
logging:
  level: warn
`)

	p := New().(*Plugin)
	if err := p.Configure(map[string]any{"path": base, "overlays": []any{overlay}}); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if err := p.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	driver, ok := p.Get("storage.driver")
	if !ok || driver != "redis" {
		t.Fatalf("overlay did not win: %v, %v", driver, ok)
	}
	addr, ok := p.Get("storage.redis.addr")
	if !ok || addr != "127.0.0.1:6379" {
		t.Fatalf("nested base value lost: %v, %v", addr, ok)
	}
	level, ok := p.Get("logging.level")
	if !ok || level != "warn" {
		t.Fatalf("scalar override lost: %v, %v", level, ok)
	}
}

func TestGetMissingKey(t *testing.T) {
	p := New().(*Plugin)
	if err := p.Configure(nil); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if err := p.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, ok := p.Get("no.such.key"); ok {
		t.Fatal("expected lookup on empty tree to miss")
	}
}

func TestLoadMissingFileIsNotFound(t *testing.T) {
	p := New().(*Plugin)
	if err := p.Configure(nil); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if err := p.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	_, err := p.Load(context.Background(), filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.Is(err, xerrors.New(xerrors.CodeNotFound, "")) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestLoadMergesIntoExistingTree(t *testing.T) {
	dir := t.TempDir()
	first := writeYAML(t, dir, "a.yaml", "a:\n  b: 1\n")
	second := writeYAML(t, dir, "b.yaml", "a:\n  c: 2\n")

	p := New().(*Plugin)
	if err := p.Configure(nil); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if err := p.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := p.Load(context.Background(), first); err != nil {
		t.Fatalf("first Load failed: %v", err)
	}
	merged, err := p.Load(context.Background(), second)
	if err != nil {
		t.Fatalf("second Load failed: %v", err)
	}
	section, ok := merged["a"].(map[string]any)
	if !ok || section["b"] != 1 || section["c"] != 2 {
		t.Fatalf("merge lost keys: %v", merged)
	}
}
