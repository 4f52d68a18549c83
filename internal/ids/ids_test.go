package ids

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInvocationID_Format(t *testing.T) {
	id, err := NewInvocationID(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "20260102-030405Z-"), id)
	assert.True(t, IsValidInvocationID(id), id)
}

func TestSanitizeComponent(t *testing.T) {
	cases := map[string]string{
		"  Build Plan ": "build-plan",
		"a/b\\c":        "a-b-c",
		"..hidden":      "hidden",
		"gpt-5.1_mini":  "gpt-5.1-mini",
		"---":           "",
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizeComponent(in), in)
	}
}

func TestNewRunTitle_Unique(t *testing.T) {
	a := NewRunTitle("build", "case-1")
	b := NewRunTitle("build", "case-1")
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "skilleval-build-case-1-"), a)
	assert.Equal(t, "skilleval-run-case-", NewRunTitle("", "")[:len("skilleval-run-case-")])
}
