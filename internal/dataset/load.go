package dataset

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Problem locates one invalid dataset record.
type Problem struct {
	Line    int    `json:"line"`
	CaseID  string `json:"caseId,omitempty"`
	Message string `json:"message"`
}

// LoadError collects every problem found in a dataset file so authors can fix
// them in one pass.
type LoadError struct {
	Path     string
	Problems []Problem
}

func (e *LoadError) Error() string {
	if len(e.Problems) == 0 {
		return fmt.Sprintf("invalid dataset %s", e.Path)
	}
	p := e.Problems[0]
	msg := fmt.Sprintf("invalid dataset %s: line %d: %s", e.Path, p.Line, p.Message)
	if len(e.Problems) > 1 {
		msg += fmt.Sprintf(" (and %d more)", len(e.Problems)-1)
	}
	return msg
}

// LoadCases reads a JSONL dataset. Blank lines are ignored; every other line
// must be a schema-valid test case.
func LoadCases(path string) ([]TestCase, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var (
		cases    []TestCase
		problems []Problem
		seen     = map[string]int{}
	)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		issues, err := ValidateRecord(line)
		if err != nil {
			return nil, err
		}
		if len(issues) > 0 {
			for _, is := range issues {
				problems = append(problems, Problem{Line: lineNo, Message: is.String()})
			}
			continue
		}
		var tc TestCase
		if err := json.Unmarshal(line, &tc); err != nil {
			problems = append(problems, Problem{Line: lineNo, Message: err.Error()})
			continue
		}
		normalizeCase(&tc)
		if tc.ID == "" || strings.TrimSpace(tc.Prompt) == "" {
			problems = append(problems, Problem{Line: lineNo, Message: "id and prompt must not be blank"})
			continue
		}
		if first, dup := seen[tc.ID]; dup {
			problems = append(problems, Problem{Line: lineNo, CaseID: tc.ID, Message: fmt.Sprintf("duplicate id (first seen on line %d)", first)})
			continue
		}
		seen[tc.ID] = lineNo
		for _, msg := range checkPatterns(tc) {
			problems = append(problems, Problem{Line: lineNo, CaseID: tc.ID, Message: msg})
		}
		tc.Index = len(cases)
		cases = append(cases, tc)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(problems) > 0 {
		return nil, &LoadError{Path: path, Problems: problems}
	}
	if len(cases) == 0 {
		return nil, &LoadError{Path: path, Problems: []Problem{{Message: "dataset has no cases"}}}
	}
	return cases, nil
}

func normalizeCase(tc *TestCase) {
	tc.ID = strings.TrimSpace(tc.ID)
	tc.Category = strings.TrimSpace(tc.Category)
	tc.ExpectedSkillsAnyOf = trimAll(tc.ExpectedSkillsAnyOf)
	tc.ForbiddenSkills = trimAll(tc.ForbiddenSkills)
	c := &tc.Checks
	c.ForbiddenTools = trimAll(c.ForbiddenTools)
	c.ForbiddenSkills = trimAll(c.ForbiddenSkills)
	c.MustNotCallSkills = trimAll(c.MustNotCallSkills)
	c.RequiredFiles = trimAll(c.RequiredFiles)
	c.PermissionDeniedSkill = strings.TrimSpace(c.PermissionDeniedSkill)
}

func trimAll(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func checkPatterns(tc TestCase) []string {
	var msgs []string
	for _, group := range []struct {
		field    string
		patterns []string
	}{
		{"checks.required_command_patterns", tc.Checks.RequiredCommandPatterns},
		{"checks.suggested_first_patterns", tc.Checks.SuggestedFirstPatterns},
	} {
		for _, p := range group.patterns {
			if _, err := regexp.Compile(p); err != nil {
				msgs = append(msgs, fmt.Sprintf("%s: invalid regex %q: %v", group.field, p, err))
			}
		}
	}
	return msgs
}
