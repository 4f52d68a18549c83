package doctor

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcohefti/skilleval/internal/config"
	"github.com/marcohefti/skilleval/internal/harness"
)

func checkByID(t *testing.T, res Result, id string) Check {
	t.Helper()
	for _, c := range res.Checks {
		if c.ID == id {
			return c
		}
	}
	t.Fatalf("missing check %q in %+v", id, res.Checks)
	return Check{}
}

func TestRun_HealthyEnvironment(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")
	res, err := Run(filepath.Join(t.TempDir(), "none.yaml"), config.Flags{Out: out, AgentBin: os.Args[0]})
	require.NoError(t, err)
	assert.True(t, res.OK, "%+v", res.Checks)
	assert.Equal(t, out, res.Out)
	assert.True(t, checkByID(t, res, "write_access").OK)
	assert.Equal(t, os.Args[0], checkByID(t, res, "agent_bin").Message)
	assert.True(t, checkByID(t, res, "out_lock").OK)
	assert.NoFileExists(t, filepath.Join(out, ".doctor.tmp"))
}

func TestRun_MissingAgentBinFails(t *testing.T) {
	res, err := Run("", config.Flags{Out: t.TempDir(), AgentBin: "skilleval-no-such-agent"})
	require.NoError(t, err)
	assert.False(t, res.OK)
	c := checkByID(t, res, "agent_bin")
	assert.False(t, c.OK)
	assert.Contains(t, c.Message, "not found")
}

func TestRun_HeldLockFails(t *testing.T) {
	out := t.TempDir()
	lockDir := filepath.Join(out, harness.LockName)
	require.NoError(t, os.MkdirAll(lockDir, 0o755))
	b, err := json.Marshal(map[string]any{"v": 1, "pid": os.Getpid(), "startedAt": time.Now().UTC().Format(time.RFC3339Nano)})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(lockDir, "owner.json"), b, 0o644))

	res, err := Run("", config.Flags{Out: out, AgentBin: os.Args[0]})
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Contains(t, checkByID(t, res, "out_lock").Message, "running pid")
}

func TestRun_BadProjectConfigIsError(t *testing.T) {
	p := filepath.Join(t.TempDir(), "skilleval.yaml")
	require.NoError(t, os.WriteFile(p, []byte("schema_version: 9\n"), 0o644))
	_, err := Run(p, config.Flags{})
	assert.Error(t, err)
}
