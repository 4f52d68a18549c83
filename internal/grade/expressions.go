package grade

import (
	"fmt"

	"github.com/expr-lang/expr"

	"github.com/marcohefti/skilleval/internal/dataset"
	"github.com/marcohefti/skilleval/internal/trace"
)

// exprEnv is the variable set visible to checks.expressions, e.g.
//
//	len(skills) == 1 && first_skill_index < 3
//	any(shell, {# contains "--json"})
func exprEnv(tr trace.Trace) map[string]any {
	shell := tr.ShellCommands
	if shell == nil {
		shell = []string{}
	}
	errs := tr.Errors
	if errs == nil {
		errs = []string{}
	}
	return map[string]any{
		"text":              tr.Text,
		"tools":             tr.Tools,
		"skills":            tr.Skills,
		"shell":             shell,
		"errors":            errs,
		"first_skill_index": tr.FirstSkillIndex,
	}
}

func checkExpressions(tc dataset.TestCase, tr trace.Trace, _ string) string {
	if len(tc.Checks.Expressions) == 0 {
		return ""
	}
	env := exprEnv(tr)
	for _, src := range tc.Checks.Expressions {
		ok, err := evalBool(src, env)
		if err != nil {
			return err.Error()
		}
		if !ok {
			return fmt.Sprintf("expression is false: %s", src)
		}
	}
	return ""
}

func evalBool(src string, env map[string]any) (bool, error) {
	program, err := expr.Compile(src, expr.Env(env), expr.AsBool())
	if err != nil {
		return false, fmt.Errorf("compile expression %q: %w", src, err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("eval expression %q: %w", src, err)
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q did not return bool (got %T)", src, out)
	}
	return b, nil
}

// CompileExpressions type-checks every expression of tc against an empty
// trace so broken datasets fail before any agent runs.
func CompileExpressions(tc dataset.TestCase) error {
	env := exprEnv(trace.Trace{Tools: []string{}, Skills: []string{}, FirstSkillIndex: -1})
	for _, src := range tc.Checks.Expressions {
		if _, err := expr.Compile(src, expr.Env(env), expr.AsBool()); err != nil {
			return fmt.Errorf("case %s: compile expression %q: %w", tc.ID, src, err)
		}
	}
	return nil
}
