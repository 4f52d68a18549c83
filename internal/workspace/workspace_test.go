package workspace

import (
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustWrite(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func newSource(t *testing.T) string {
	t.Helper()
	src := t.TempDir()
	mustWrite(t, src, "README.md", "hello\n")
	mustWrite(t, src, "skills/alpha/SKILL.md", "# alpha\n")
	mustWrite(t, src, ".git/HEAD", "ref: refs/heads/main\n")
	mustWrite(t, src, "web/node_modules/x/index.js", "x")
	mustWrite(t, src, "build/out.bin", "bin")
	mustWrite(t, src, ".opencode/sessions/s1.json", "{}")
	mustWrite(t, src, ".opencode/opencode.json", `{"permission":{}}`)
	return src
}

// tree returns relative path -> content for every regular file and
// relative path -> "->target" for symlinks.
func tree(t *testing.T, root string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		require.NoError(t, err)
		rel, _ := filepath.Rel(root, path)
		if d.Type()&fs.ModeSymlink != 0 {
			link, err := os.Readlink(path)
			require.NoError(t, err)
			out[filepath.ToSlash(rel)] = "->" + link
			return nil
		}
		if d.Type().IsRegular() {
			b, err := os.ReadFile(path)
			require.NoError(t, err)
			out[filepath.ToSlash(rel)] = string(b)
		}
		return nil
	})
	require.NoError(t, err)
	return out
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func TestPrepare_ExcludesIgnoreSetAndAgentState(t *testing.T) {
	src := newSource(t)
	m := NewManager(ModeCopy, t.TempDir())

	ws, err := m.Prepare(src)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Teardown(ws) })

	assert.Equal(t, []string{".opencode/opencode.json", "README.md", "skills/alpha/SKILL.md"}, keys(tree(t, ws)))
	// Source untouched.
	assert.FileExists(t, filepath.Join(src, ".opencode/sessions/s1.json"))
}

func TestPrepare_KeepsSourceNamedLikeIgnoredDirs(t *testing.T) {
	src := t.TempDir()
	mustWrite(t, src, "scripts/build", "#!/bin/sh\n")
	mustWrite(t, src, "internal/build/build.go", "package build\n")
	mustWrite(t, src, "pkg/target", "file named like an output dir")
	mustWrite(t, src, "build/out.bin", "bin")
	mustWrite(t, src, "dist/app.js", "x")
	mustWrite(t, src, "web/node_modules/x/index.js", "x")
	mustWrite(t, src, "docs/.git", "gitdir: ../.git/modules/docs\n")

	m := NewManager(ModeCopy, t.TempDir())
	ws, err := m.Prepare(src)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Teardown(ws) })

	assert.Equal(t, []string{
		"docs/.git",
		"internal/build/build.go",
		"pkg/target",
		"scripts/build",
	}, keys(tree(t, ws)))
}

func TestPrepare_PreservesSymlinks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	src := newSource(t)
	require.NoError(t, os.Symlink("README.md", filepath.Join(src, "LINK.md")))
	require.NoError(t, os.Symlink("/does/not/exist", filepath.Join(src, "dangling")))

	m := NewManager(ModeCopy, t.TempDir())
	ws, err := m.Prepare(src)
	require.NoError(t, err)

	got := tree(t, ws)
	assert.Equal(t, "->README.md", got["LINK.md"])
	assert.Equal(t, "->/does/not/exist", got["dangling"])
}

func TestReset_RoundTripMatchesPristine(t *testing.T) {
	src := newSource(t)
	m := NewManager(ModeCopy, t.TempDir())
	ws, err := m.Prepare(src)
	require.NoError(t, err)
	pristine, err := m.Snapshot(ws)
	require.NoError(t, err)
	want := tree(t, pristine)

	// Simulate an agent run mutating the workspace.
	mustWrite(t, ws, "report.md", "generated")
	mustWrite(t, ws, "README.md", "changed")
	mustWrite(t, ws, ".opencode/sessions/leak.json", "{}")
	require.NoError(t, os.Remove(filepath.Join(ws, "skills/alpha/SKILL.md")))

	require.NoError(t, m.Reset(ws, pristine))
	assert.Equal(t, want, tree(t, ws))

	require.NoError(t, m.Teardown(ws))
	require.NoError(t, m.Teardown(pristine))
	assert.NoDirExists(t, ws)
}

func TestReset_ClearsStateCapturedInSnapshot(t *testing.T) {
	m := NewManager(ModeCopy, t.TempDir())
	ws := t.TempDir()
	mustWrite(t, ws, "a.txt", "a")
	mustWrite(t, ws, ".opencode/cache/c", "c")
	pristine, err := m.Snapshot(ws)
	require.NoError(t, err)

	require.NoError(t, m.Reset(ws, pristine))
	assert.Equal(t, []string{"a.txt"}, keys(tree(t, ws)))
}

func TestTeardown_Idempotent(t *testing.T) {
	m := NewManager(ModeCopy, "")
	missing := filepath.Join(t.TempDir(), "gone")
	assert.NoError(t, m.Teardown(missing))
	assert.NoError(t, m.Teardown(missing))
	assert.NoError(t, m.Teardown(""))
}

func TestInPlace_UsesSourceAndNeverDeletes(t *testing.T) {
	src := newSource(t)
	m := NewManager(ModeInPlace, "")
	ws, err := m.Prepare(src)
	require.NoError(t, err)
	abs, _ := filepath.Abs(src)
	assert.Equal(t, abs, ws)

	require.NoError(t, m.Reset(ws, ""))
	assert.NoFileExists(t, filepath.Join(src, ".opencode/sessions/s1.json"))
	assert.FileExists(t, filepath.Join(src, "README.md"))

	require.NoError(t, m.Teardown(ws))
	assert.DirExists(t, src)
}

func TestPrepare_MissingSource(t *testing.T) {
	m := NewManager(ModeCopy, t.TempDir())
	_, err := m.Prepare(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": ModeCopy, "copy": ModeCopy, "in-place": ModeInPlace, "INPLACE": ModeInPlace} {
		got, err := ParseMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseMode("overlay")
	assert.Error(t, err)
}
