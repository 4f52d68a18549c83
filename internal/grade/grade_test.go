package grade

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcohefti/skilleval/internal/dataset"
	"github.com/marcohefti/skilleval/internal/trace"
)

func tr(text string, tools []string, skills ...string) trace.Trace {
	if tools == nil {
		tools = []string{}
	}
	if skills == nil {
		skills = []string{}
	}
	first := -1
	if len(skills) > 0 {
		first = 0
	}
	return trace.Trace{Text: text, Tools: tools, Skills: skills, FirstSkillIndex: first}
}

func TestGrade_MustCallWithNoLoadFails(t *testing.T) {
	tc := dataset.TestCase{ID: "c", MustCallSkill: true, ExpectedSkillsAnyOf: []string{"alpha"}}
	out := Grade(tc, tr("I can help with that.", nil), t.TempDir())
	assert.False(t, out.Pass)
	assert.Equal(t, CheckMustCallSkill, out.Check)
	assert.Contains(t, out.Reason, "no skill was loaded")
}

func TestGrade_ExpectedMismatchNamesBothSides(t *testing.T) {
	tc := dataset.TestCase{ID: "c", MustCallSkill: true, ExpectedSkillsAnyOf: []string{"alpha"}}
	out := Grade(tc, tr("", []string{"skill"}, "beta"), "")
	assert.False(t, out.Pass)
	assert.Equal(t, CheckExpectedSkills, out.Check)
	assert.Equal(t, "expected one of [alpha], loaded [beta]", out.Reason)
}

func TestGrade_ForbiddenDominates(t *testing.T) {
	tc := dataset.TestCase{
		ID:                  "c",
		MustCallSkill:       true,
		ExpectedSkillsAnyOf: []string{"asu-discover"},
		ForbiddenSkills:     []string{"asu-discover"},
		Checks:              dataset.Checks{RequiredSubstrings: []string{"done"}},
	}
	out := Grade(tc, tr("done", []string{"skill"}, "asu-discover"), "")
	assert.False(t, out.Pass)
	assert.Equal(t, CheckForbiddenSkills, out.Check)
	assert.Equal(t, "forbidden skill loaded: asu-discover", out.Reason)

	// checks.forbidden_skills is merged into the same step.
	tc = dataset.TestCase{ID: "c", Checks: dataset.Checks{ForbiddenSkills: []string{"x"}}}
	out = Grade(tc, tr("", nil, "x"), "")
	assert.Equal(t, CheckForbiddenSkills, out.Check)
}

func TestGrade_OrderIsFixed(t *testing.T) {
	tc := dataset.TestCase{
		ID:              "c",
		ForbiddenSkills: []string{"beta"},
		Checks: dataset.Checks{
			ForbiddenTools:      []string{"webfetch"},
			MustNotCallAnySkill: true,
		},
	}
	out := Grade(tc, tr("", []string{"webfetch", "skill"}, "beta"), "")
	assert.Equal(t, CheckForbiddenTools, out.Check)
	assert.Equal(t, "forbidden tool invoked: webfetch", out.Reason)

	tc.Checks.ForbiddenTools = nil
	out = Grade(tc, tr("", []string{"skill"}, "beta"), "")
	assert.Equal(t, CheckForbiddenSkills, out.Check)

	tc.ForbiddenSkills = nil
	out = Grade(tc, tr("", []string{"skill"}, "beta", "alpha"), "")
	assert.Equal(t, CheckMustNotCallAny, out.Check)
	assert.Equal(t, "expected no skill load, but loaded: alpha, beta", out.Reason)
}

func TestGrade_MustNotCallAnyOverridesMustCall(t *testing.T) {
	tc := dataset.TestCase{ID: "c", MustCallSkill: true, Checks: dataset.Checks{MustNotCallAnySkill: true}}
	out := Grade(tc, tr("nothing to load", nil), "")
	assert.True(t, out.Pass, out.Reason)
}

func TestGrade_MustNotCallSpecific(t *testing.T) {
	tc := dataset.TestCase{ID: "c", Checks: dataset.Checks{MustNotCallSkills: []string{"gamma"}}}
	out := Grade(tc, tr("", nil, "alpha", "gamma"), "")
	assert.Equal(t, CheckMustNotCallSkills, out.Check)
	assert.Equal(t, "banned skill loaded: gamma", out.Reason)
}

func TestGrade_RequiredSubstringsCaseInsensitive(t *testing.T) {
	tc := dataset.TestCase{ID: "c", Checks: dataset.Checks{RequiredSubstrings: []string{"Discover", "json"}}}
	assert.True(t, Grade(tc, tr("run asu DISCOVER with --JSON", nil), "").Pass)

	out := Grade(tc, tr("run discover", nil), "")
	assert.Equal(t, CheckRequiredSubstrings, out.Check)
	assert.Equal(t, `missing required text: "json"`, out.Reason)
}

func TestGrade_CommandPatternsSearchShellInputs(t *testing.T) {
	tc := dataset.TestCase{ID: "c", Checks: dataset.Checks{RequiredCommandPatterns: []string{`asu\s+discover`, `--json\b`}}}
	t1 := tr("I ran the discovery.", []string{"bash"})
	t1.ShellCommands = []string{"asu discover --json"}
	assert.True(t, Grade(tc, t1, "").Pass)

	out := Grade(tc, tr("asu discover", nil), "")
	assert.Equal(t, CheckRequiredCommands, out.Check)
	assert.Contains(t, out.Reason, `"--json\\b"`)

	tc.Checks.RequiredCommandPatterns = []string{"("}
	out = Grade(tc, t1, "")
	assert.False(t, out.Pass)
	assert.Contains(t, out.Reason, "invalid required command pattern")
}

func TestGrade_SuggestedFirstNeedsOne(t *testing.T) {
	tc := dataset.TestCase{ID: "c", Checks: dataset.Checks{SuggestedFirstPatterns: []string{`asu init`, `asu login`}}}
	assert.True(t, Grade(tc, tr("first run `asu login`", nil), "").Pass)
	out := Grade(tc, tr("just start", nil), "")
	assert.Equal(t, CheckSuggestedFirst, out.Check)
}

func TestGrade_PermissionExplanation(t *testing.T) {
	tc := dataset.TestCase{
		ID:              "c",
		ForbiddenSkills: []string{"asu-admin"},
		Checks:          dataset.Checks{MustExplainPermission: true},
	}
	assert.True(t, Grade(tc, tr("The asu-admin skill is denied by the permission config.", nil), "").Pass)

	out := Grade(tc, tr("That skill is blocked.", nil), "")
	assert.Equal(t, CheckPermission, out.Check)
	assert.Contains(t, out.Reason, `"asu-admin"`)

	out = Grade(tc, tr("I used asu-admin knowledge instead.", nil), "")
	assert.Equal(t, CheckPermission, out.Check)
	assert.Contains(t, out.Reason, "no deny/permission/blocked phrase")

	tc.Checks.PermissionDeniedSkill = "asu-deploy"
	out = Grade(tc, tr("asu-admin is not allowed here.", nil), "")
	assert.Contains(t, out.Reason, `"asu-deploy"`)
}

func TestGrade_RequiredFiles(t *testing.T) {
	tc := dataset.TestCase{ID: "c", Checks: dataset.Checks{RequiredFiles: []string{"report.md"}}}
	ws := t.TempDir()

	out := Grade(tc, tr("", nil), ws)
	assert.False(t, out.Pass)
	assert.Equal(t, "required file missing: report.md", out.Reason)

	require.NoError(t, os.WriteFile(filepath.Join(ws, "report.md"), nil, 0o644))
	out = Grade(tc, tr("", nil), ws)
	assert.Equal(t, "required file empty: report.md", out.Reason)

	require.NoError(t, os.WriteFile(filepath.Join(ws, "report.md"), []byte("# Report\n"), 0o644))
	out = Grade(tc, tr("", nil), ws)
	assert.True(t, out.Pass)
	assert.Equal(t, ReasonOK, out.Reason)

	tc.Checks.RequiredFiles = []string{"../escape.md"}
	out = Grade(tc, tr("", nil), ws)
	assert.Contains(t, out.Reason, "outside the workspace")
}

func TestGrade_Expressions(t *testing.T) {
	tc := dataset.TestCase{ID: "c", Checks: dataset.Checks{Expressions: []string{
		`"alpha" in skills`,
		`first_skill_index >= 0 && first_skill_index < 3`,
		`all(shell, {not (# contains "rm -rf")})`,
	}}}
	good := tr("ok", []string{"skill", "bash"}, "alpha")
	good.ShellCommands = []string{"ls"}
	assert.True(t, Grade(tc, good, "").Pass)

	bad := good
	bad.ShellCommands = []string{"rm -rf /"}
	out := Grade(tc, bad, "")
	assert.Equal(t, CheckExpressions, out.Check)
	assert.True(t, strings.HasPrefix(out.Reason, "expression is false:"), out.Reason)

	tc.Checks.Expressions = []string{`len(skills) +`}
	out = Grade(tc, good, "")
	assert.Contains(t, out.Reason, "compile expression")
	assert.Error(t, CompileExpressions(tc))
	assert.NoError(t, CompileExpressions(dataset.TestCase{Checks: dataset.Checks{Expressions: []string{`len(tools) > 0`}}}))
}

func TestGrade_IsPure(t *testing.T) {
	tc := dataset.TestCase{
		ID:                  "c",
		MustCallSkill:       true,
		ExpectedSkillsAnyOf: []string{"b", "a"},
		Checks:              dataset.Checks{RequiredSubstrings: []string{"x"}},
	}
	in := tr("y", nil, "d", "c", "d")
	first := Grade(tc, in, "")
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Grade(tc, in, ""))
	}
	assert.Equal(t, "expected one of [a, b], loaded [c, d]", first.Reason)
}

func TestSkipReason(t *testing.T) {
	tc := dataset.TestCase{ID: "c", Checks: dataset.Checks{RequiredFiles: []string{"report.md"}}}
	reason, skip := SkipReason(tc, "plan", DefaultReadOnlyAgents)
	assert.True(t, skip)
	assert.Contains(t, reason, `"plan"`)

	_, skip = SkipReason(tc, "build", DefaultReadOnlyAgents)
	assert.False(t, skip)

	_, skip = SkipReason(dataset.TestCase{ID: "x"}, "plan", DefaultReadOnlyAgents)
	assert.False(t, skip)
}
