package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStart_ExportsSpansToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "otel", "spans.jsonl")
	tr, err := Start(context.Background(), path, "inv-1")
	require.NoError(t, err)

	ctx, run := tr.StartRun(context.Background(), "r1", "build", "m")
	_, span := tr.StartCase(ctx, "r1", "case-1", 0)
	EndCase(span, "FAIL", "forbidden tool invoked: webfetch", []string{"alpha"}, true)
	run.End()

	require.NoError(t, tr.Shutdown(context.Background()))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "skilleval.case")
	assert.Contains(t, string(raw), "case-1")
	assert.Contains(t, string(raw), "inv-1")
}

func TestDisabled_IsSafe(t *testing.T) {
	tr, err := Start(context.Background(), "", "inv")
	require.NoError(t, err)
	_, span := tr.StartCase(context.Background(), "r", "c", 1)
	EndCase(span, "PASS", "ok", nil, false)
	assert.False(t, span.SpanContext().IsValid())
	require.NoError(t, tr.Shutdown(context.Background()))

	var nilTracing *Tracing
	_, span = nilTracing.StartRun(context.Background(), "r", "a", "m")
	span.End()
	require.NoError(t, nilTracing.Shutdown(context.Background()))
}
