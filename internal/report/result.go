package report

import (
	"sort"
	"sync"

	"github.com/marcohefti/skilleval/internal/redact"
)

type Status string

const (
	StatusPass  Status = "PASS"
	StatusFail  Status = "FAIL"
	StatusSkip  Status = "SKIP"
	StatusError Status = "ERROR"
)

// Blocking reports whether s makes the invocation exit non-zero.
func (s Status) Blocking() bool {
	return s == StatusFail || s == StatusError
}

// CaseResult is one case verdict for one run. It is never modified after it
// has been added to a Collector.
type CaseResult struct {
	Run      string `json:"run"`
	CaseID   string `json:"caseId"`
	Category string `json:"category,omitempty"`
	Index    int    `json:"index"`

	Status Status `json:"status"`
	Reason string `json:"reason"`
	Check  string `json:"check,omitempty"`

	Skills          []string `json:"skills"`
	Tools           []string `json:"tools"`
	FirstSkillIndex int      `json:"firstSkillIndex"`

	ExpectedSkills []string `json:"expectedSkills,omitempty"`
	ExpectsLoad    bool     `json:"expectsLoad"`

	Output     string `json:"output"`
	ExitCode   *int   `json:"exitCode,omitempty"`
	DurationMs int64  `json:"durationMs"`

	RedactionsApplied []string `json:"redactionsApplied,omitempty"`
}

// Collector gathers the results of one run. Slots are keyed by dataset index
// so artifact order never depends on completion order.
type Collector struct {
	mu    sync.Mutex
	run   string
	slots []*CaseResult
}

func NewCollector(run string, n int) *Collector {
	return &Collector{run: run, slots: make([]*CaseResult, n)}
}

func (c *Collector) Run() string { return c.run }

// Add records r in slot r.Index, scrubbing secrets from captured output.
func (c *Collector) Add(r CaseResult) {
	out, applied := redact.Text(r.Output)
	reason, appliedReason := redact.Text(r.Reason)
	r.Output, r.Reason = out, reason
	r.RedactionsApplied = mergeNames(applied.Names, appliedReason.Names)
	if r.Skills == nil {
		r.Skills = []string{}
	}
	if r.Tools == nil {
		r.Tools = []string{}
	}
	r.Run = c.run

	c.mu.Lock()
	defer c.mu.Unlock()
	if r.Index < 0 || r.Index >= len(c.slots) {
		c.slots = append(c.slots, &r)
		return
	}
	c.slots[r.Index] = &r
}

// Has reports whether a verdict has been recorded for slot idx.
func (c *Collector) Has(idx int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return idx >= 0 && idx < len(c.slots) && c.slots[idx] != nil
}

// Results returns the recorded results in dataset order.
func (c *Collector) Results() []CaseResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CaseResult, 0, len(c.slots))
	for _, r := range c.slots {
		if r != nil {
			out = append(out, *r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// ExitCode is 1 iff any result is FAIL or ERROR. SKIP never blocks.
func ExitCode(results []CaseResult) int {
	for _, r := range results {
		if r.Status.Blocking() {
			return 1
		}
	}
	return 0
}

func mergeNames(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	for _, n := range append(append([]string(nil), a...), b...) {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}
