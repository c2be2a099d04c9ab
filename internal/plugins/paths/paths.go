// Package paths is the built-in path resolver plugin. It normalizes
// caller-supplied paths and locates the project root by marker files.
package paths

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	xerrors "quackcore/internal/errors"
	"quackcore/pkg/capability"
)

// PluginName is the registry name of the built-in path resolver.
const PluginName = "standard"

var defaultMarkers = []string{"go.mod", ".git", "quack_config.yaml", "pyproject.toml"}

// Plugin implements capability.PathResolver and capability.ProjectContext.
type Plugin struct {
	base    string
	markers []string
}

// New returns an unconfigured plugin instance, for use as a factory.
func New() capability.Instance { return &Plugin{} }

// Configure implements capability.Instance. "base" sets the directory that
// relative paths resolve against; "markers" overrides the project root
// marker files.
func (p *Plugin) Configure(cfg map[string]any) error {
	if base, ok := cfg["base"].(string); ok && base != "" {
		p.base = base
	}
	if raw, ok := cfg["markers"].([]any); ok {
		for _, item := range raw {
			if marker, ok := item.(string); ok && marker != "" {
				p.markers = append(p.markers, marker)
			}
		}
	}
	return nil
}

// Open implements capability.Instance.
func (p *Plugin) Open(_ context.Context) error {
	if p.base == "" {
		wd, err := os.Getwd()
		if err != nil {
			return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "resolving working directory failed")
		}
		p.base = wd
	}
	abs, err := filepath.Abs(p.base)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err,
			fmt.Sprintf("resolving base %s failed", p.base))
	}
	p.base = abs
	if len(p.markers) == 0 {
		p.markers = defaultMarkers
	}
	return nil
}

// Close implements capability.Instance.
func (p *Plugin) Close(_ context.Context) error { return nil }

// Resolve implements capability.PathResolver. Relative paths are anchored
// at the base directory; the result is absolute and cleaned.
func (p *Plugin) Resolve(_ context.Context, path string) (string, error) {
	if path == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "path must not be empty")
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}
	return filepath.Join(p.base, path), nil
}

// Normalize implements capability.PathResolver. It cleans the path and
// converts separators without touching the filesystem.
func (p *Plugin) Normalize(path string) (string, error) {
	if path == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "path must not be empty")
	}
	normalized := filepath.Clean(filepath.FromSlash(path))
	if strings.HasPrefix(normalized, ".."+string(filepath.Separator)) || normalized == ".." {
		return "", xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("path %s points outside its base", path))
	}
	return normalized, nil
}

// ProjectRoot implements capability.ProjectContext. It walks upward from
// start (or the base directory) until a marker file is found.
func (p *Plugin) ProjectRoot(ctx context.Context, start string) (string, error) {
	dir := start
	if dir == "" {
		dir = p.base
	} else {
		resolved, err := p.Resolve(ctx, dir)
		if err != nil {
			return "", err
		}
		dir = resolved
	}

	current := dir
	for {
		for _, marker := range p.markers {
			if _, err := os.Stat(filepath.Join(current, marker)); err == nil {
				return current, nil
			}
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", xerrors.New(xerrors.CodeNotFound,
				fmt.Sprintf("no project root found above %s", dir))
		}
		current = parent
	}
}
