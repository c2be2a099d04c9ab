package fs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	xerrors "quackcore/internal/errors"
	"quackcore/pkg/capability"
)

func openPlugin(t *testing.T, root string) *Plugin {
	t.Helper()
	p := New().(*Plugin)
	if err := p.Configure(map[string]any{"root": root}); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if err := p.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return p
}

func TestWriteReadRoundTrip(t *testing.T) {
	p := openPlugin(t, t.TempDir())
	ctx := context.Background()

	if err := p.Write(ctx, "notes/hello.txt", []byte("quack"), false); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	data, err := p.Read(ctx, "notes/hello.txt")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(data) != "quack" {
		t.Fatalf("read %q, want %q", data, "quack")
	}
}

func TestWriteWithoutOverwriteKeepsExisting(t *testing.T) {
	p := openPlugin(t, t.TempDir())
	ctx := context.Background()

	if err := p.Write(ctx, "a.txt", []byte("first"), false); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	err := p.Write(ctx, "a.txt", []byte("second"), false)
	if !errors.Is(err, xerrors.New(xerrors.CodeInvalidArgument, "")) {
		t.Fatalf("expected INVALID_ARGUMENT, got %v", err)
	}
	data, _ := p.Read(ctx, "a.txt")
	if string(data) != "first" {
		t.Fatalf("existing content was clobbered: %q", data)
	}

	if err := p.Write(ctx, "a.txt", []byte("second"), true); err != nil {
		t.Fatalf("overwrite Write failed: %v", err)
	}
}

func TestReadMissingFileIsNotFound(t *testing.T) {
	p := openPlugin(t, t.TempDir())
	_, err := p.Read(context.Background(), "missing.txt")
	if !errors.Is(err, xerrors.New(xerrors.CodeNotFound, "")) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestPathEscapeRejected(t *testing.T) {
	p := openPlugin(t, t.TempDir())
	for _, path := range []string{"../outside.txt", "a/../../outside.txt", "/etc/passwd"} {
		_, err := p.Read(context.Background(), path)
		if !errors.Is(err, xerrors.New(xerrors.CodeInvalidArgument, "")) {
			t.Fatalf("path %q: expected INVALID_ARGUMENT, got %v", path, err)
		}
	}
}

func TestListAndStat(t *testing.T) {
	root := t.TempDir()
	p := openPlugin(t, root)
	ctx := context.Background()

	if err := p.Write(ctx, "dir/one.txt", []byte("1"), false); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := p.Write(ctx, "dir/two.txt", []byte("22"), false); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	infos, err := p.List(ctx, "dir")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("List returned %d entries, want 2", len(infos))
	}

	info, err := p.Stat(ctx, "dir/two.txt")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Size != 2 || info.IsDir {
		t.Fatalf("unexpected stat result %+v", info)
	}
	var _ capability.FileInfo = info
}

func TestCopyPreservesSource(t *testing.T) {
	p := openPlugin(t, t.TempDir())
	ctx := context.Background()

	if err := p.Write(ctx, "src.txt", []byte("payload"), false); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	dst, err := p.Copy(ctx, "src.txt", "sub/dst.txt", false)
	if err != nil {
		t.Fatalf("Copy failed: %v", err)
	}
	if _, err := os.Stat(dst); err != nil {
		t.Fatalf("destination missing: %v", err)
	}
	if _, err := p.Read(ctx, "src.txt"); err != nil {
		t.Fatalf("source vanished after copy: %v", err)
	}
	data, _ := p.Read(ctx, "sub/dst.txt")
	if string(data) != "payload" {
		t.Fatalf("copied %q, want %q", data, "payload")
	}

	_, err = p.Copy(ctx, "src.txt", "sub/dst.txt", false)
	if !errors.Is(err, xerrors.New(xerrors.CodeInvalidArgument, "")) {
		t.Fatalf("expected INVALID_ARGUMENT for existing destination, got %v", err)
	}
}

func TestMoveRemovesSource(t *testing.T) {
	root := t.TempDir()
	p := openPlugin(t, root)
	ctx := context.Background()

	if err := p.Write(ctx, "src.txt", []byte("payload"), false); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	dst, err := p.Move(ctx, "src.txt", "moved.txt", false)
	if err != nil {
		t.Fatalf("Move failed: %v", err)
	}
	if dst != filepath.Join(root, "moved.txt") {
		t.Fatalf("unexpected destination %q", dst)
	}
	if _, err := p.Read(ctx, "src.txt"); !errors.Is(err, xerrors.New(xerrors.CodeNotFound, "")) {
		t.Fatalf("expected source to be gone, got %v", err)
	}
	data, err := p.Read(ctx, "moved.txt")
	if err != nil || string(data) != "payload" {
		t.Fatalf("moved content wrong: %q, err %v", data, err)
	}
}
