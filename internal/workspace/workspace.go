package workspace

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Mode selects how case workspaces are produced.
type Mode string

const (
	ModeCopy    Mode = "copy"
	ModeInPlace Mode = "in-place"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.TrimSpace(strings.ToLower(s))) {
	case "", ModeCopy:
		return ModeCopy, nil
	case ModeInPlace, "inplace":
		return ModeInPlace, nil
	default:
		return "", fmt.Errorf("invalid workspace mode %q (expected copy|in-place)", s)
	}
}

// DefaultIgnoreNames are directories skipped wherever they appear in the tree.
// Files with these names are always copied.
var DefaultIgnoreNames = []string{
	".git", ".hg", ".svn",
	"node_modules", ".venv", "venv", "__pycache__",
	".pytest_cache", ".mypy_cache", ".ruff_cache", ".cache",
}

// DefaultOutputPaths are build output directories, relative to the source
// root. Nested directories with the same names (internal/build) are source.
var DefaultOutputPaths = []string{
	"dist", "build", "target", ".next", ".turbo", "coverage",
}

// DefaultStatePaths are the agent's mutable session/cache directories,
// relative to the workspace root.
var DefaultStatePaths = []string{
	".opencode/sessions",
	".opencode/cache",
	".opencode/state",
	".opencode/node_modules",
}

// Manager owns every workspace it creates. A workspace is never shared by two
// concurrently running cases.
type Manager struct {
	Mode        Mode
	TempRoot    string
	IgnoreNames []string
	OutputPaths []string
	StatePaths  []string
}

func NewManager(mode Mode, tempRoot string) *Manager {
	return &Manager{
		Mode:        mode,
		TempRoot:    tempRoot,
		IgnoreNames: DefaultIgnoreNames,
		OutputPaths: DefaultOutputPaths,
		StatePaths:  DefaultStatePaths,
	}
}

// Prepare returns a fresh copy of sourceRoot minus the ignore set. In
// in-place mode the source root itself is returned and nothing is copied.
func (m *Manager) Prepare(sourceRoot string) (string, error) {
	src, err := filepath.Abs(sourceRoot)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(src)
	if err != nil {
		return "", fmt.Errorf("workspace source: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("workspace source %s is not a directory", src)
	}
	if m.Mode == ModeInPlace {
		return src, nil
	}
	if m.TempRoot != "" {
		if err := os.MkdirAll(m.TempRoot, 0o755); err != nil {
			return "", err
		}
	}
	dir, err := os.MkdirTemp(m.TempRoot, "skilleval-ws-")
	if err != nil {
		return "", err
	}
	if err := m.copyTree(src, dir, true); err != nil {
		_ = os.RemoveAll(dir)
		return "", fmt.Errorf("copy workspace: %w", err)
	}
	return dir, nil
}

// Snapshot captures the current contents of workspace as a pristine copy
// that Reset can restore from.
func (m *Manager) Snapshot(workspace string) (string, error) {
	if m.TempRoot != "" {
		if err := os.MkdirAll(m.TempRoot, 0o755); err != nil {
			return "", err
		}
	}
	dir, err := os.MkdirTemp(m.TempRoot, "skilleval-pristine-")
	if err != nil {
		return "", err
	}
	if err := m.copyTree(workspace, dir, false); err != nil {
		_ = os.RemoveAll(dir)
		return "", fmt.Errorf("snapshot workspace: %w", err)
	}
	return dir, nil
}

// Reset deletes workspace, recreates it from pristine and clears the
// agent's state directories.
func (m *Manager) Reset(workspace, pristine string) error {
	if m.Mode == ModeInPlace {
		return m.ClearState(workspace)
	}
	if err := os.RemoveAll(workspace); err != nil {
		return fmt.Errorf("reset workspace: %w", err)
	}
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return fmt.Errorf("reset workspace: %w", err)
	}
	if err := m.copyTree(pristine, workspace, false); err != nil {
		return fmt.Errorf("reset workspace: %w", err)
	}
	return m.ClearState(workspace)
}

func (m *Manager) ClearState(workspace string) error {
	for _, rel := range m.StatePaths {
		if err := os.RemoveAll(filepath.Join(workspace, filepath.FromSlash(rel))); err != nil {
			return fmt.Errorf("clear agent state %s: %w", rel, err)
		}
	}
	return nil
}

// Teardown removes path. Missing paths are not an error. In-place workspaces
// are left alone.
func (m *Manager) Teardown(path string) error {
	if m.Mode == ModeInPlace || path == "" {
		return nil
	}
	if err := os.RemoveAll(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// copyTree copies src into dst. With filter set, the ignore set and agent
// state paths are skipped. Symlinks are recreated, never followed.
func (m *Manager) copyTree(src, dst string, filter bool) error {
	ignore := make(map[string]bool, len(m.IgnoreNames))
	for _, n := range m.IgnoreNames {
		ignore[n] = true
	}
	// Output and state paths are anchored at the root.
	anchored := make(map[string]bool, len(m.OutputPaths)+len(m.StatePaths))
	for _, p := range m.OutputPaths {
		anchored[filepath.FromSlash(p)] = true
	}
	for _, p := range m.StatePaths {
		anchored[filepath.FromSlash(p)] = true
	}

	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if filter && d.IsDir() && (ignore[d.Name()] || anchored[rel]) {
			return filepath.SkipDir
		}
		target := filepath.Join(dst, rel)

		switch {
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case d.IsDir():
			info, err := d.Info()
			if err != nil {
				return err
			}
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		case d.Type().IsRegular():
			info, err := d.Info()
			if err != nil {
				return err
			}
			return copyFile(path, target, info.Mode().Perm())
		default:
			// Sockets, fifos and devices are not part of a project tree.
			return nil
		}
	})
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
