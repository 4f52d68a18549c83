package report

import "sort"

type Counts struct {
	Total int `json:"total"`
	Pass  int `json:"pass"`
	Fail  int `json:"fail"`
	Skip  int `json:"skip"`
	Error int `json:"error"`
}

func (c *Counts) add(s Status) {
	c.Total++
	switch s {
	case StatusPass:
		c.Pass++
	case StatusFail:
		c.Fail++
	case StatusSkip:
		c.Skip++
	case StatusError:
		c.Error++
	}
}

// Rates holds precision and recall; nil means the denominator was zero.
type Rates struct {
	TP        int      `json:"tp"`
	FP        int      `json:"fp"`
	FN        int      `json:"fn"`
	Precision *float64 `json:"precision"`
	Recall    *float64 `json:"recall"`
}

func (r *Rates) finish() {
	r.Precision = ratio(r.TP, r.TP+r.FP)
	r.Recall = ratio(r.TP, r.TP+r.FN)
}

type CaseRef struct {
	Run    string   `json:"run"`
	CaseID string   `json:"caseId"`
	Skills []string `json:"skills,omitempty"`
}

type ConfusionPair struct {
	Expected string `json:"expected"`
	Loaded   string `json:"loaded"`
	Count    int    `json:"count"`
}

type Summary struct {
	V     int    `json:"v"`
	Name  string `json:"name"`
	Exit  int    `json:"exitCode"`
	Count Counts `json:"counts"`

	// Runs breaks counts down per run in combined summaries.
	Runs map[string]Counts `json:"runs,omitempty"`

	// Overall is case-level routing: did a case that should load a skill
	// load one, and did a case that names no skill at all stay quiet. Cases
	// with an optional allow-list only feed the per-skill rates.
	Overall Rates            `json:"overall"`
	Skills  map[string]Rates `json:"skills"`

	FalsePositives      int             `json:"falsePositives"`
	FalseNegatives      int             `json:"falseNegatives"`
	FalsePositiveCases  []CaseRef       `json:"falsePositiveCases,omitempty"`
	FalseNegativeCases  []CaseRef       `json:"falseNegativeCases,omitempty"`
	Confusion           []ConfusionPair `json:"confusion"`
	AvgFirstSkillIndex  *float64        `json:"avgFirstSkillIndex"`
	FirstSkillIndexSeen int             `json:"firstSkillIndexSamples"`
}

// BuildSummary computes diagnostics over results. SKIP and ERROR results are
// counted but excluded from routing statistics: the agent was never observed.
func BuildSummary(name string, results []CaseResult) Summary {
	s := Summary{V: 1, Name: name, Skills: map[string]Rates{}, Confusion: []ConfusionPair{}}
	runs := map[string]Counts{}
	pairs := map[[2]string]int{}
	firstSum := 0

	for _, r := range results {
		s.Count.add(r.Status)
		rc := runs[r.Run]
		rc.add(r.Status)
		runs[r.Run] = rc

		if r.Status != StatusPass && r.Status != StatusFail {
			continue
		}
		loaded := len(r.Skills) > 0
		switch {
		case r.ExpectsLoad && loaded:
			s.Overall.TP++
		case !r.ExpectsLoad && loaded && len(r.ExpectedSkills) == 0:
			s.Overall.FP++
			s.FalsePositiveCases = append(s.FalsePositiveCases, CaseRef{Run: r.Run, CaseID: r.CaseID, Skills: uniqueSorted(r.Skills)})
		case r.ExpectsLoad && !loaded:
			s.Overall.FN++
			s.FalseNegativeCases = append(s.FalseNegativeCases, CaseRef{Run: r.Run, CaseID: r.CaseID})
		}

		expected := toSet(r.ExpectedSkills)
		loadedSet := toSet(r.Skills)
		hitExpected := false
		for sk := range loadedSet {
			if expected[sk] {
				hitExpected = true
			}
		}
		for sk := range loadedSet {
			rt := s.Skills[sk]
			if expected[sk] {
				rt.TP++
			} else {
				rt.FP++
			}
			s.Skills[sk] = rt
		}
		if !hitExpected {
			for sk := range expected {
				rt := s.Skills[sk]
				rt.FN++
				s.Skills[sk] = rt
			}
			for e := range expected {
				for l := range loadedSet {
					pairs[[2]string{e, l}]++
				}
			}
		}

		if r.FirstSkillIndex >= 0 && loaded {
			firstSum += r.FirstSkillIndex
			s.FirstSkillIndexSeen++
		}
	}

	s.Overall.finish()
	for k, rt := range s.Skills {
		rt.finish()
		s.Skills[k] = rt
	}
	s.FalsePositives = s.Overall.FP
	s.FalseNegatives = s.Overall.FN
	if len(runs) > 1 {
		s.Runs = runs
	}
	for k, n := range pairs {
		s.Confusion = append(s.Confusion, ConfusionPair{Expected: k[0], Loaded: k[1], Count: n})
	}
	sort.Slice(s.Confusion, func(i, j int) bool {
		a, b := s.Confusion[i], s.Confusion[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		if a.Expected != b.Expected {
			return a.Expected < b.Expected
		}
		return a.Loaded < b.Loaded
	})
	if s.FirstSkillIndexSeen > 0 {
		avg := float64(firstSum) / float64(s.FirstSkillIndexSeen)
		s.AvgFirstSkillIndex = &avg
	}
	s.Exit = ExitCode(results)
	return s
}

func ratio(num, den int) *float64 {
	if den == 0 {
		return nil
	}
	v := float64(num) / float64(den)
	return &v
}

func toSet(in []string) map[string]bool {
	out := make(map[string]bool, len(in))
	for _, v := range in {
		out[v] = true
	}
	return out
}

func uniqueSorted(in []string) []string {
	set := toSet(in)
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
