// Package fs is the built-in filesystem plugin. All paths are confined to
// a configured root directory; escaping the root is an invalid argument,
// not a filesystem error.
package fs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	xerrors "quackcore/internal/errors"
	"quackcore/pkg/capability"
)

// PluginName is the registry name of the built-in filesystem plugin.
const PluginName = "local"

// Plugin implements capability.Filesystem and capability.SafeOps over the
// local disk.
type Plugin struct {
	root string
}

// New returns an unconfigured plugin instance, for use as a factory.
func New() capability.Instance { return &Plugin{} }

// Configure implements capability.Instance. The "root" setting confines
// every operation; it defaults to the working directory.
func (p *Plugin) Configure(cfg map[string]any) error {
	if root, ok := cfg["root"].(string); ok && root != "" {
		p.root = root
	}
	return nil
}

// Open implements capability.Instance.
func (p *Plugin) Open(_ context.Context) error {
	if p.root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "resolving working directory failed")
		}
		p.root = wd
	}
	abs, err := filepath.Abs(p.root)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err,
			fmt.Sprintf("resolving root %s failed", p.root))
	}
	info, err := os.Stat(abs)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err,
			fmt.Sprintf("root %s is not accessible", abs))
	}
	if !info.IsDir() {
		return xerrors.New(xerrors.CodeInitializationFailure,
			fmt.Sprintf("root %s is not a directory", abs))
	}
	p.root = abs
	return nil
}

// Close implements capability.Instance.
func (p *Plugin) Close(_ context.Context) error { return nil }

// confine resolves a caller path against the root and rejects escapes.
func (p *Plugin) confine(path string) (string, error) {
	if path == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "path must not be empty")
	}
	candidate := path
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(p.root, candidate)
	}
	candidate = filepath.Clean(candidate)
	if candidate != p.root && !strings.HasPrefix(candidate, p.root+string(filepath.Separator)) {
		return "", xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("path %s escapes the plugin root", path))
	}
	return candidate, nil
}

// Read implements capability.Filesystem.
func (p *Plugin) Read(_ context.Context, path string) ([]byte, error) {
	resolved, err := p.confine(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, xerrors.Wrap(xerrors.CodeNotFound, err,
				fmt.Sprintf("file %s not found", path))
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err,
			fmt.Sprintf("reading %s failed", path))
	}
	return data, nil
}

// Write implements capability.Filesystem. Parent directories are created
// as needed. Without overwrite an existing file is left untouched.
func (p *Plugin) Write(_ context.Context, path string, data []byte, overwrite bool) error {
	resolved, err := p.confine(path)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(resolved); err == nil {
			return xerrors.New(xerrors.CodeInvalidArgument,
				fmt.Sprintf("file %s already exists", path))
		}
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err,
			fmt.Sprintf("creating parent directories for %s failed", path))
	}
	if err := os.WriteFile(resolved, data, 0o644); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err,
			fmt.Sprintf("writing %s failed", path))
	}
	return nil
}

// List implements capability.Filesystem.
func (p *Plugin) List(_ context.Context, dir string) ([]capability.FileInfo, error) {
	resolved, err := p.confine(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, xerrors.Wrap(xerrors.CodeNotFound, err,
				fmt.Sprintf("directory %s not found", dir))
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err,
			fmt.Sprintf("listing %s failed", dir))
	}
	infos := make([]capability.FileInfo, 0, len(entries))
	for _, entry := range entries {
		detail, err := entry.Info()
		if err != nil {
			continue
		}
		infos = append(infos, capability.FileInfo{
			Path:    filepath.Join(resolved, entry.Name()),
			Size:    detail.Size(),
			Mode:    detail.Mode(),
			ModTime: detail.ModTime(),
			IsDir:   entry.IsDir(),
		})
	}
	return infos, nil
}

// Stat implements capability.Filesystem.
func (p *Plugin) Stat(_ context.Context, path string) (capability.FileInfo, error) {
	resolved, err := p.confine(path)
	if err != nil {
		return capability.FileInfo{}, err
	}
	detail, err := os.Stat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return capability.FileInfo{}, xerrors.Wrap(xerrors.CodeNotFound, err,
				fmt.Sprintf("path %s not found", path))
		}
		return capability.FileInfo{}, xerrors.Wrap(xerrors.CodeStorageFailure, err,
			fmt.Sprintf("stat of %s failed", path))
	}
	return capability.FileInfo{
		Path:    resolved,
		Size:    detail.Size(),
		Mode:    detail.Mode(),
		ModTime: detail.ModTime(),
		IsDir:   detail.IsDir(),
	}, nil
}

// Copy implements capability.SafeOps. The destination is written through a
// temp file and renamed, so a failed copy never leaves a partial file.
func (p *Plugin) Copy(_ context.Context, src, dst string, overwrite bool) (string, error) {
	srcPath, err := p.confine(src)
	if err != nil {
		return "", err
	}
	dstPath, err := p.confine(dst)
	if err != nil {
		return "", err
	}
	if !overwrite {
		if _, err := os.Stat(dstPath); err == nil {
			return "", xerrors.New(xerrors.CodeInvalidArgument,
				fmt.Sprintf("destination %s already exists", dst))
		}
	}

	in, err := os.Open(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", xerrors.Wrap(xerrors.CodeNotFound, err,
				fmt.Sprintf("source %s not found", src))
		}
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err,
			fmt.Sprintf("opening source %s failed", src))
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err,
			fmt.Sprintf("creating parent directories for %s failed", dst))
	}
	tmp, err := os.CreateTemp(filepath.Dir(dstPath), ".copy-*")
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "creating temp file failed")
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err,
			fmt.Sprintf("copying %s failed", src))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "flushing temp file failed")
	}
	if err := os.Rename(tmpName, dstPath); err != nil {
		os.Remove(tmpName)
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err,
			fmt.Sprintf("placing %s failed", dst))
	}
	return dstPath, nil
}

// Move implements capability.SafeOps.
func (p *Plugin) Move(ctx context.Context, src, dst string, overwrite bool) (string, error) {
	srcPath, err := p.confine(src)
	if err != nil {
		return "", err
	}
	dstPath, err := p.confine(dst)
	if err != nil {
		return "", err
	}
	if !overwrite {
		if _, err := os.Stat(dstPath); err == nil {
			return "", xerrors.New(xerrors.CodeInvalidArgument,
				fmt.Sprintf("destination %s already exists", dst))
		}
	}
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err,
			fmt.Sprintf("creating parent directories for %s failed", dst))
	}
	if err := os.Rename(srcPath, dstPath); err == nil {
		return dstPath, nil
	}
	// Rename across devices fails; fall back to copy then delete.
	if _, err := p.Copy(ctx, src, dst, overwrite); err != nil {
		return "", err
	}
	if err := os.Remove(srcPath); err != nil {
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err,
			fmt.Sprintf("removing source %s after move failed", src))
	}
	return dstPath, nil
}
