package agentconfig

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func readJSON(t *testing.T, path string) map[string]any {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestInstallRemove_RoundTripRestoresUserConfig(t *testing.T) {
	dir := t.TempDir()
	overlay := filepath.Join(dir, "repo", "opencode.json")
	target := filepath.Join(dir, "home", "opencode.json")
	state := filepath.Join(dir, "state.json")

	writeFile(t, overlay, `{"model":"m-repo","tools":{"skill":true,"web":false},"permission":{"skill":{"alpha":"allow"}}}`)
	writeFile(t, target, `{"model":"m-user","tools":{"bash":true},"theme":"dark"}`)

	res, err := Install(InstallOptions{Overlay: overlay, Target: target, State: state})
	require.NoError(t, err)
	assert.True(t, res.HadConfig)
	assert.Equal(t, 1, res.Overrode)
	assert.Equal(t, 3, res.Added)

	merged := readJSON(t, target)
	assert.Equal(t, "m-repo", merged["model"])
	assert.Equal(t, "dark", merged["theme"])
	assert.Equal(t, map[string]any{"bash": true, "skill": true, "web": false}, merged["tools"])

	var st State
	raw, err := os.ReadFile(state)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &st))
	assert.Equal(t, StateVersion, st.Version)
	assert.Equal(t, []string{"model"}, st.Config.Overrides[0].Path)
	assert.Equal(t, "m-user", st.Config.Overrides[0].Previous)

	rm, err := Remove(target, state)
	require.NoError(t, err)
	assert.Equal(t, 0, rm.Skipped)
	assert.False(t, rm.Deleted)
	assert.Equal(t, map[string]any{"model": "m-user", "tools": map[string]any{"bash": true}, "theme": "dark"}, readJSON(t, target))
	assert.NoFileExists(t, state)
}

func TestRemove_PreservesUserModifiedValues(t *testing.T) {
	dir := t.TempDir()
	overlay := filepath.Join(dir, "overlay.json")
	target := filepath.Join(dir, "target.json")
	state := filepath.Join(dir, "state.json")

	writeFile(t, overlay, `{"model":"m-repo","share":"disabled"}`)
	writeFile(t, target, `{"model":"m-user"}`)
	_, err := Install(InstallOptions{Overlay: overlay, Target: target, State: state})
	require.NoError(t, err)

	writeFile(t, target, `{"model":"m-edited","share":"manual"}`)
	rm, err := Remove(target, state)
	require.NoError(t, err)
	assert.Equal(t, 2, rm.Skipped)
	assert.Equal(t, map[string]any{"model": "m-edited", "share": "manual"}, readJSON(t, target))
}

func TestRemove_DeletesTargetCreatedByInstall(t *testing.T) {
	dir := t.TempDir()
	overlay := filepath.Join(dir, "overlay.json")
	target := filepath.Join(dir, "fresh", "target.json")
	state := filepath.Join(dir, "state.json")

	writeFile(t, overlay, `{"a":{"b":{"c":1}}}`)
	res, err := Install(InstallOptions{Overlay: overlay, Target: target, State: state})
	require.NoError(t, err)
	assert.False(t, res.HadConfig)

	rm, err := Remove(target, state)
	require.NoError(t, err)
	assert.True(t, rm.Deleted)
	assert.NoFileExists(t, target)
}

func TestRemove_KeepsEmptyTargetThatExistedBefore(t *testing.T) {
	dir := t.TempDir()
	overlay := filepath.Join(dir, "overlay.json")
	target := filepath.Join(dir, "target.json")
	state := filepath.Join(dir, "state.json")

	writeFile(t, overlay, `{"a":1}`)
	writeFile(t, target, "")
	_, err := Install(InstallOptions{Overlay: overlay, Target: target, State: state})
	require.NoError(t, err)

	rm, err := Remove(target, state)
	require.NoError(t, err)
	assert.False(t, rm.Deleted)
	assert.Equal(t, map[string]any{}, readJSON(t, target))
}

func TestRemove_MissingStateOrTargetIsANoop(t *testing.T) {
	dir := t.TempDir()
	rm, err := Remove(filepath.Join(dir, "t.json"), filepath.Join(dir, "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, "state file not found", rm.Note)

	state := filepath.Join(dir, "state.json")
	writeFile(t, state, `{"version":1,"config":{"path":"x","had_config":false,"additions":[],"overrides":[]}}`)
	rm, err = Remove(filepath.Join(dir, "t.json"), state)
	require.NoError(t, err)
	assert.Equal(t, "config file missing", rm.Note)
	assert.NoFileExists(t, state)
}

func TestInstall_FoldsOpencodeSkillPermissions(t *testing.T) {
	dir := t.TempDir()
	overlay := filepath.Join(dir, "overlay.yaml")
	opencode := filepath.Join(dir, "opencode.json")
	target := filepath.Join(dir, "target.yaml")
	state := filepath.Join(dir, "state.json")

	writeFile(t, overlay, "permission: allow-all\n")
	writeFile(t, opencode, `{"permission":{"skill":{"alpha":"allow","beta":"deny"}}}`)

	_, err := Install(InstallOptions{Overlay: overlay, Target: target, State: state, Opencode: opencode})
	require.NoError(t, err)

	doc, err := load(target)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"skill": map[string]any{"alpha": "allow", "beta": "deny"}}, doc["permission"])

	rm, err := Remove(target, state)
	require.NoError(t, err)
	assert.True(t, rm.Deleted)
}

func TestInstall_OverrideOfMappingWithScalar(t *testing.T) {
	dir := t.TempDir()
	overlay := filepath.Join(dir, "overlay.json")
	target := filepath.Join(dir, "target.json")
	state := filepath.Join(dir, "state.json")

	writeFile(t, overlay, `{"tools":false}`)
	writeFile(t, target, `{"tools":{"bash":true}}`)
	res, err := Install(InstallOptions{Overlay: overlay, Target: target, State: state})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Overrode)
	assert.Equal(t, false, readJSON(t, target)["tools"])

	_, err = Remove(target, state)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"tools": map[string]any{"bash": true}}, readJSON(t, target))
}

func TestPathDelete_PrunesEmptyParents(t *testing.T) {
	doc := map[string]any{"a": map[string]any{"b": map[string]any{"c": 1.0}}, "d": 2.0}
	assert.True(t, pathDelete(doc, []string{"a", "b", "c"}))
	assert.Equal(t, map[string]any{"d": 2.0}, doc)
	assert.False(t, pathDelete(doc, []string{"x", "y"}))
}
