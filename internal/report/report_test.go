package report

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_OrdersByIndexRegardlessOfCompletion(t *testing.T) {
	c := NewCollector("r1", 4)
	var wg sync.WaitGroup
	for _, idx := range []int{3, 1, 0, 2} {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Add(CaseResult{CaseID: []string{"a", "b", "c", "d"}[i], Index: i, Status: StatusPass})
		}(idx)
	}
	wg.Wait()

	got := c.Results()
	require.Len(t, got, 4)
	for i, r := range got {
		assert.Equal(t, i, r.Index)
		assert.Equal(t, "r1", r.Run)
		assert.NotNil(t, r.Skills)
		assert.NotNil(t, r.Tools)
	}
	assert.True(t, c.Has(2))
	assert.False(t, c.Has(7))
}

func TestCollector_RedactsOutputAndReason(t *testing.T) {
	c := NewCollector("r1", 1)
	c.Add(CaseResult{
		CaseID: "leak",
		Status: StatusError,
		Reason: "agent exited with code 2: token ghp_abcdefghijklmnop",
		Output: "key sk-ant-abcdefghijklmnop",
	})
	r := c.Results()[0]
	assert.NotContains(t, r.Output, "sk-ant-abcdefghijklmnop")
	assert.NotContains(t, r.Reason, "ghp_abcdefghijklmnop")
	assert.Equal(t, []string{"anthropic_key", "github_token"}, r.RedactionsApplied)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 0, ExitCode([]CaseResult{{Status: StatusPass}, {Status: StatusSkip}}))
	assert.Equal(t, 1, ExitCode([]CaseResult{{Status: StatusPass}, {Status: StatusFail}}))
	assert.Equal(t, 1, ExitCode([]CaseResult{{Status: StatusError}}))
}

func sampleResults() []CaseResult {
	return []CaseResult{
		{Run: "r1", CaseID: "tp", Category: "positive", Index: 0, Status: StatusPass, Skills: []string{"alpha"}, ExpectedSkills: []string{"alpha"}, ExpectsLoad: true, FirstSkillIndex: 1, DurationMs: 1000},
		{Run: "r1", CaseID: "wrong", Category: "positive", Index: 1, Status: StatusFail, Reason: "expected one of [alpha], loaded [beta]", Check: "expected_skills_any_of", Skills: []string{"beta"}, ExpectedSkills: []string{"alpha"}, ExpectsLoad: true, FirstSkillIndex: 3, DurationMs: 500},
		{Run: "r1", CaseID: "fp", Category: "negative", Index: 2, Status: StatusFail, Reason: "expected no skill load, but loaded: beta", Skills: []string{"beta"}, FirstSkillIndex: 2},
		{Run: "r1", CaseID: "fn", Index: 3, Status: StatusFail, Reason: "expected a skill load, but no skill was loaded", ExpectedSkills: []string{"alpha"}, ExpectsLoad: true, FirstSkillIndex: -1},
		{Run: "r1", CaseID: "skipped", Index: 4, Status: StatusSkip, Reason: "read-only agent", Skills: []string{"alpha"}, FirstSkillIndex: -1},
		{Run: "r1", CaseID: "broken", Index: 5, Status: StatusError, Reason: "agent exited with code 2", FirstSkillIndex: -1},
	}
}

func TestBuildSummary_RoutingStatistics(t *testing.T) {
	s := BuildSummary("suite", sampleResults())

	assert.Equal(t, Counts{Total: 6, Pass: 1, Fail: 3, Skip: 1, Error: 1}, s.Count)
	assert.Equal(t, 1, s.Exit)

	assert.Equal(t, 2, s.Overall.TP)
	assert.Equal(t, 1, s.Overall.FP)
	assert.Equal(t, 1, s.Overall.FN)
	require.NotNil(t, s.Overall.Precision)
	assert.InDelta(t, 2.0/3.0, *s.Overall.Precision, 1e-9)
	require.NotNil(t, s.Overall.Recall)
	assert.InDelta(t, 2.0/3.0, *s.Overall.Recall, 1e-9)

	alpha := s.Skills["alpha"]
	assert.Equal(t, 1, alpha.TP)
	assert.Equal(t, 0, alpha.FP)
	assert.Equal(t, 2, alpha.FN)
	beta := s.Skills["beta"]
	assert.Equal(t, 0, beta.TP)
	assert.Equal(t, 2, beta.FP)
	require.NotNil(t, beta.Precision)
	assert.Equal(t, 0.0, *beta.Precision)
	assert.Nil(t, beta.Recall)

	assert.Equal(t, []ConfusionPair{{Expected: "alpha", Loaded: "beta", Count: 1}}, s.Confusion)
	assert.Equal(t, []CaseRef{{Run: "r1", CaseID: "fp", Skills: []string{"beta"}}}, s.FalsePositiveCases)
	assert.Equal(t, []CaseRef{{Run: "r1", CaseID: "fn"}}, s.FalseNegativeCases)

	require.NotNil(t, s.AvgFirstSkillIndex)
	assert.InDelta(t, 2.0, *s.AvgFirstSkillIndex, 1e-9)
	assert.Equal(t, 3, s.FirstSkillIndexSeen)
	assert.Nil(t, s.Runs)
}

func TestBuildSummary_EmptyHasNilRates(t *testing.T) {
	s := BuildSummary("empty", nil)
	assert.Nil(t, s.Overall.Precision)
	assert.Nil(t, s.Overall.Recall)
	assert.Nil(t, s.AvgFirstSkillIndex)
	assert.Equal(t, 0, s.Exit)
	assert.NotNil(t, s.Confusion)
}

func TestBuildSummary_PerRunCountsWhenCombined(t *testing.T) {
	results := sampleResults()
	results = append(results, CaseResult{Run: "r2", CaseID: "tp", Status: StatusPass, Skills: []string{"alpha"}, ExpectedSkills: []string{"alpha"}, ExpectsLoad: true})
	s := BuildSummary("combined", results)
	require.Len(t, s.Runs, 2)
	assert.Equal(t, 1, s.Runs["r2"].Pass)
	assert.Equal(t, 6, s.Runs["r1"].Total)
}

func TestJUnit_CountsAndElements(t *testing.T) {
	results := sampleResults()
	results = append(results, CaseResult{Run: "r2", CaseID: "tp", Status: StatusPass, DurationMs: 250})
	doc := JUnit("suite", results)

	assert.Equal(t, 7, doc.Tests)
	assert.Equal(t, 3, doc.Failures)
	assert.Equal(t, 1, doc.Errors)
	assert.Equal(t, 1, doc.Skipped)
	require.Len(t, doc.Suites, 2)
	assert.Equal(t, "r1", doc.Suites[0].Name)
	assert.Equal(t, "1.500", doc.Suites[0].Time)
	assert.Equal(t, "1.750", doc.Time)

	first := doc.Suites[0].Cases[0]
	assert.Equal(t, "skilleval.r1.positive", first.Classname)
	assert.Nil(t, first.Failure)

	wrong := doc.Suites[0].Cases[1]
	require.NotNil(t, wrong.Failure)
	assert.Equal(t, "expected_skills_any_of", wrong.Failure.Type)
	assert.Contains(t, wrong.Failure.Body, "skills: [beta]")

	assert.Equal(t, "skilleval.r1", doc.Suites[0].Cases[3].Classname)
	require.NotNil(t, doc.Suites[0].Cases[4].Skipped)
	require.NotNil(t, doc.Suites[0].Cases[5].Error)

	out, err := xml.Marshal(doc)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(out), `<testsuites name="suite" tests="7"`))
}

func TestJUnit_TruncatesSystemOut(t *testing.T) {
	doc := JUnit("x", []CaseResult{{Run: "r", CaseID: "big", Status: StatusPass, Output: strings.Repeat("a", maxSystemOut+10)}})
	out := doc.Suites[0].Cases[0].SystemOut
	assert.True(t, strings.HasSuffix(out, "[truncated]"))
	assert.Less(t, len(out), maxSystemOut+20)
}

func TestJUnit_TruncationKeepsValidUTF8(t *testing.T) {
	// "é" is two bytes; the cut lands inside the rune at maxSystemOut.
	output := strings.Repeat("a", maxSystemOut-1) + strings.Repeat("é", 10)
	doc := JUnit("x", []CaseResult{{Run: "r", CaseID: "utf8", Status: StatusPass, Output: output}})
	out := doc.Suites[0].Cases[0].SystemOut
	assert.True(t, utf8.ValidString(out))
	assert.NotContains(t, out, "\uFFFD")
	assert.True(t, strings.HasPrefix(out, strings.Repeat("a", maxSystemOut-1)+"\n[truncated]"))
}

func TestArtifacts_Write(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	a := Build(now, "inv-1", "suite", sampleResults())
	require.NoError(t, a.Write(dir))

	var doc ResultsDoc
	b, err := os.ReadFile(filepath.Join(dir, ResultsFile))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, &doc))
	assert.Equal(t, "2026-01-02T03:04:05Z", doc.GeneratedAt)
	assert.Equal(t, "inv-1", doc.Invocation)
	require.Len(t, doc.Results, 6)
	assert.Equal(t, "tp", doc.Results[0].CaseID)

	x, err := os.ReadFile(filepath.Join(dir, JUnitFile))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(x), "<?xml"))
	var suites JUnitSuites
	require.NoError(t, xml.Unmarshal(x, &suites))
	assert.Equal(t, 6, suites.Tests)

	var sum Summary
	b, err = os.ReadFile(filepath.Join(dir, SummaryFile))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, &sum))
	assert.Equal(t, 1, sum.Exit)
	assert.Equal(t, 2, sum.Overall.TP)
}

func TestBuild_EmptyResultsSerializeAsArray(t *testing.T) {
	a := Build(time.Now(), "inv", "none", nil)
	b, err := json.Marshal(a.Results)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"results":[]`)
}

func TestProgressEmitter(t *testing.T) {
	var nilEmitter *ProgressEmitter
	require.NoError(t, nilEmitter.Emit(ProgressEvent{Kind: ProgressRunStart}))
	assert.Nil(t, NewProgressEmitter("", nil))

	var stderr bytes.Buffer
	e := NewProgressEmitter("-", &stderr)
	require.NoError(t, e.Emit(ProgressEvent{Kind: ProgressCaseEnd, CaseID: "a", Index: IntPtr(0), Status: StatusPass}))
	var ev ProgressEvent
	require.NoError(t, json.Unmarshal(stderr.Bytes(), &ev))
	assert.Equal(t, 1, ev.V)
	assert.Equal(t, StatusPass, ev.Status)
	assert.NotEmpty(t, ev.TS)

	path := filepath.Join(t.TempDir(), "nested", ProgressFile)
	f := NewProgressEmitter(path, nil)
	require.NoError(t, f.Emit(ProgressEvent{Kind: ProgressRunStart, Run: "r1"}))
	require.NoError(t, f.Emit(ProgressEvent{Kind: ProgressRunEnd, Run: "r1"}))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	assert.Len(t, lines, 2)
}
