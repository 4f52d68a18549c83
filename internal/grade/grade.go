// Package grade scores one case execution against its rule set. Checks run in
// a fixed order and the first failure decides the reason, so grading is a
// pure function of the case, the trace and the workspace files.
package grade

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/marcohefti/skilleval/internal/dataset"
	"github.com/marcohefti/skilleval/internal/trace"
)

const ReasonOK = "ok"

// Check identifiers, in evaluation order.
const (
	CheckForbiddenTools     = "forbidden_tools"
	CheckForbiddenSkills    = "forbidden_skills"
	CheckMustCallSkill      = "must_call_skill"
	CheckMustNotCallAny     = "must_not_call_any_skill"
	CheckMustNotCallSkills  = "must_not_call_skills"
	CheckExpectedSkills     = "expected_skills_any_of"
	CheckRequiredSubstrings = "required_substrings"
	CheckRequiredCommands   = "required_command_patterns"
	CheckSuggestedFirst     = "suggested_first_patterns"
	CheckPermission         = "must_explain_permission"
	CheckRequiredFiles      = "required_files"
	CheckExpressions        = "expressions"
)

// Outcome is the verdict of Grade. Check is empty on pass.
type Outcome struct {
	Pass   bool   `json:"pass"`
	Reason string `json:"reason"`
	Check  string `json:"check,omitempty"`
}

type step struct {
	name string
	run  func(dataset.TestCase, trace.Trace, string) string
}

var steps = []step{
	{CheckForbiddenTools, checkForbiddenTools},
	{CheckForbiddenSkills, checkForbiddenSkills},
	{CheckMustCallSkill, checkMustCallSkill},
	{CheckMustNotCallAny, checkMustNotCallAny},
	{CheckMustNotCallSkills, checkMustNotCallSkills},
	{CheckExpectedSkills, checkExpectedSkills},
	{CheckRequiredSubstrings, checkRequiredSubstrings},
	{CheckRequiredCommands, checkRequiredCommands},
	{CheckSuggestedFirst, checkSuggestedFirst},
	{CheckPermission, checkPermission},
	{CheckRequiredFiles, checkRequiredFiles},
	{CheckExpressions, checkExpressions},
}

// Grade evaluates tc against tr. workspace is the directory the case ran in;
// required files are resolved against it, never against the source tree.
func Grade(tc dataset.TestCase, tr trace.Trace, workspace string) Outcome {
	for _, s := range steps {
		if reason := s.run(tc, tr, workspace); reason != "" {
			return Outcome{Pass: false, Reason: reason, Check: s.name}
		}
	}
	return Outcome{Pass: true, Reason: ReasonOK}
}

func checkForbiddenTools(tc dataset.TestCase, tr trace.Trace, _ string) string {
	if hit := intersect(tr.Tools, tc.Checks.ForbiddenTools); len(hit) > 0 {
		return "forbidden tool invoked: " + strings.Join(hit, ", ")
	}
	return ""
}

func checkForbiddenSkills(tc dataset.TestCase, tr trace.Trace, _ string) string {
	if hit := intersect(tr.Skills, tc.AllForbiddenSkills()); len(hit) > 0 {
		return "forbidden skill loaded: " + strings.Join(hit, ", ")
	}
	return ""
}

func checkMustCallSkill(tc dataset.TestCase, tr trace.Trace, _ string) string {
	if tc.RequiresSkill() && len(tr.Skills) == 0 {
		return "expected a skill load, but no skill was loaded"
	}
	return ""
}

func checkMustNotCallAny(tc dataset.TestCase, tr trace.Trace, _ string) string {
	if tc.ExpectsNoSkill() && len(tr.Skills) > 0 {
		return "expected no skill load, but loaded: " + strings.Join(sortedUnique(tr.Skills), ", ")
	}
	return ""
}

func checkMustNotCallSkills(tc dataset.TestCase, tr trace.Trace, _ string) string {
	if hit := intersect(tr.Skills, tc.Checks.MustNotCallSkills); len(hit) > 0 {
		return "banned skill loaded: " + strings.Join(hit, ", ")
	}
	return ""
}

func checkExpectedSkills(tc dataset.TestCase, tr trace.Trace, _ string) string {
	if len(tc.ExpectedSkillsAnyOf) == 0 {
		return ""
	}
	for _, want := range tc.ExpectedSkillsAnyOf {
		if tr.Loaded(want) {
			return ""
		}
	}
	loaded := "none"
	if len(tr.Skills) > 0 {
		loaded = "[" + strings.Join(sortedUnique(tr.Skills), ", ") + "]"
	}
	return fmt.Sprintf("expected one of [%s], loaded %s", strings.Join(sortedUnique(tc.ExpectedSkillsAnyOf), ", "), loaded)
}

func checkRequiredSubstrings(tc dataset.TestCase, tr trace.Trace, _ string) string {
	text := strings.ToLower(tr.Text)
	var missing []string
	for _, s := range tc.Checks.RequiredSubstrings {
		if !strings.Contains(text, strings.ToLower(s)) {
			missing = append(missing, fmt.Sprintf("%q", s))
		}
	}
	if len(missing) > 0 {
		return "missing required text: " + strings.Join(missing, ", ")
	}
	return ""
}

func checkRequiredCommands(tc dataset.TestCase, tr trace.Trace, _ string) string {
	var missing []string
	for _, p := range tc.Checks.RequiredCommandPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return fmt.Sprintf("invalid required command pattern %q: %v", p, err)
		}
		if !matchAny(re, tr) {
			missing = append(missing, fmt.Sprintf("%q", p))
		}
	}
	if len(missing) > 0 {
		return "required command pattern not found: " + strings.Join(missing, ", ")
	}
	return ""
}

func checkSuggestedFirst(tc dataset.TestCase, tr trace.Trace, _ string) string {
	patterns := tc.Checks.SuggestedFirstPatterns
	if len(patterns) == 0 {
		return ""
	}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return fmt.Sprintf("invalid suggested-first pattern %q: %v", p, err)
		}
		if matchAny(re, tr) {
			return ""
		}
	}
	quoted := make([]string, 0, len(patterns))
	for _, p := range patterns {
		quoted = append(quoted, fmt.Sprintf("%q", p))
	}
	return "none of the suggested first steps matched: " + strings.Join(quoted, ", ")
}

var reDenial = regexp.MustCompile(`(?i)\b(den(y|ies|ied|ial)|permission|permitted|block(s|ed|ing)?|not allowed|disallowed|forbidden|restricted)\b`)

func checkPermission(tc dataset.TestCase, tr trace.Trace, _ string) string {
	if !tc.Checks.MustExplainPermission {
		return ""
	}
	skill := tc.DeniedSkill()
	if skill != "" && !strings.Contains(strings.ToLower(tr.Text), strings.ToLower(skill)) {
		return fmt.Sprintf("permission explanation does not name the denied skill %q", skill)
	}
	if !reDenial.MatchString(tr.Text) {
		return "permission explanation missing: no deny/permission/blocked phrase in output"
	}
	return ""
}

func checkRequiredFiles(tc dataset.TestCase, _ trace.Trace, workspace string) string {
	for _, rel := range tc.Checks.RequiredFiles {
		p, ok := resolveInside(workspace, rel)
		if !ok {
			return fmt.Sprintf("required file %q resolves outside the workspace", rel)
		}
		info, err := os.Stat(p)
		switch {
		case err != nil:
			return fmt.Sprintf("required file missing: %s", rel)
		case info.IsDir():
			return fmt.Sprintf("required file is a directory: %s", rel)
		case info.Size() == 0:
			return fmt.Sprintf("required file empty: %s", rel)
		}
	}
	return ""
}

func resolveInside(root, rel string) (string, bool) {
	if filepath.IsAbs(rel) || root == "" {
		return "", false
	}
	p := filepath.Join(root, filepath.FromSlash(rel))
	r, err := filepath.Rel(root, p)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", false
	}
	return p, true
}

func matchAny(re *regexp.Regexp, tr trace.Trace) bool {
	if re.MatchString(tr.Text) {
		return true
	}
	for _, c := range tr.ShellCommands {
		if re.MatchString(c) {
			return true
		}
	}
	return false
}

// intersect returns the sorted distinct members of got that appear in want.
func intersect(got, want []string) []string {
	if len(got) == 0 || len(want) == 0 {
		return nil
	}
	set := make(map[string]bool, len(want))
	for _, w := range want {
		set[w] = true
	}
	var hit []string
	for _, g := range got {
		if set[g] {
			hit = append(hit, g)
		}
	}
	return sortedUnique(hit)
}

func sortedUnique(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}
