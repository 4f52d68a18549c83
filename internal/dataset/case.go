package dataset

// TestCase is one dataset record. It is never mutated after loading.
type TestCase struct {
	ID       string `json:"id" jsonschema:"minLength=1"`
	Category string `json:"category,omitempty"`
	Prompt   string `json:"prompt" jsonschema:"minLength=1"`
	Notes    string `json:"notes,omitempty"`

	MustCallSkill       bool     `json:"must_call_skill,omitempty"`
	ExpectedSkillsAnyOf []string `json:"expected_skills_any_of,omitempty"`
	ForbiddenSkills     []string `json:"forbidden_skills,omitempty"`

	Checks Checks `json:"checks,omitempty"`

	// Index is the zero-based position in the dataset file after filtering.
	Index int `json:"-"`
}

// Checks is the optional rule bag. Each field maps to one grading step.
type Checks struct {
	ForbiddenTools          []string `json:"forbidden_tools,omitempty"`
	ForbiddenSkills         []string `json:"forbidden_skills,omitempty"`
	MustNotCallAnySkill     bool     `json:"must_not_call_any_skill,omitempty"`
	MustNotCallSkills       []string `json:"must_not_call_skills,omitempty"`
	RequiredSubstrings      []string `json:"required_substrings,omitempty"`
	RequiredCommandPatterns []string `json:"required_command_patterns,omitempty"`
	SuggestedFirstPatterns  []string `json:"suggested_first_patterns,omitempty"`
	MustExplainPermission   bool     `json:"must_explain_permission,omitempty"`
	PermissionDeniedSkill   string   `json:"permission_denied_skill,omitempty"`
	RequiredFiles           []string `json:"required_files,omitempty"`
	Expressions             []string `json:"expressions,omitempty"`
}

// RequiresSkill reports whether at least one skill load is mandatory.
// must_not_call_any_skill wins over must_call_skill.
func (c TestCase) RequiresSkill() bool {
	return c.MustCallSkill && !c.Checks.MustNotCallAnySkill
}

// AllForbiddenSkills merges the top-level and checks-level forbidden lists,
// de-duplicated, in declaration order.
func (c TestCase) AllForbiddenSkills() []string {
	return uniqueInOrder(append(append([]string(nil), c.ForbiddenSkills...), c.Checks.ForbiddenSkills...))
}

// DeniedSkill names the skill a permission explanation has to mention.
func (c TestCase) DeniedSkill() string {
	if c.Checks.PermissionDeniedSkill != "" {
		return c.Checks.PermissionDeniedSkill
	}
	if f := c.AllForbiddenSkills(); len(f) > 0 {
		return f[0]
	}
	if len(c.Checks.MustNotCallSkills) > 0 {
		return c.Checks.MustNotCallSkills[0]
	}
	return ""
}

// ExpectsNoSkill reports whether the case asserts that nothing is loaded.
func (c TestCase) ExpectsNoSkill() bool {
	return c.Checks.MustNotCallAnySkill
}

func uniqueInOrder(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
