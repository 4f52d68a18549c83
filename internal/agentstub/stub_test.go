package agentstub

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespond_StatefulSwitchesSkill(t *testing.T) {
	t.Setenv(EnvStateful, "1")
	dir := t.TempDir()

	var first, second bytes.Buffer
	code, err := respond(dir, request{Prompt: "p", Title: "t1"}, &first)
	require.NoError(t, err)
	require.Equal(t, 0, code)
	code, err = respond(dir, request{Prompt: "p", Title: "t2"}, &second)
	require.NoError(t, err)
	require.Equal(t, 0, code)

	assert.Contains(t, first.String(), `"name":"alpha"`)
	assert.Contains(t, second.String(), `"name":"beta"`)
	assert.FileExists(t, filepath.Join(dir, filepath.FromSlash(sessionFile)))
}

func TestRespond_ScriptedFailureAndWrite(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvWrite, "report.md=# hi")
	var out bytes.Buffer
	code, err := respond(dir, request{Prompt: "p"}, &out)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	b, err := os.ReadFile(filepath.Join(dir, "report.md"))
	require.NoError(t, err)
	assert.Equal(t, "# hi", string(b))

	t.Setenv(EnvExit, "3")
	code, err = respond(dir, request{Prompt: "p"}, &out)
	assert.Error(t, err)
	assert.Equal(t, 3, code)
}

func TestMain_RejectsUnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 2, Main([]string{"bogus"}, &stdout, &stderr))
	assert.Equal(t, 2, Main(nil, &stdout, &stderr))
	assert.Equal(t, 2, Main([]string{"run", "--format", "text", "hi"}, &stdout, &stderr))
	assert.True(t, strings.Contains(stderr.String(), "--format json"))
}
