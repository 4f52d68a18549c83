package report

import (
	"path/filepath"
	"time"

	"github.com/marcohefti/skilleval/internal/store"
)

const (
	ResultsFile  = "results.json"
	JUnitFile    = "junit.xml"
	SummaryFile  = "summary.json"
	ProgressFile = "progress.jsonl"
	EventsDir    = "events"
	CombinedDir  = "combined"
)

type ResultsDoc struct {
	V           int          `json:"v"`
	Invocation  string       `json:"invocationId"`
	Name        string       `json:"name"`
	GeneratedAt string       `json:"generatedAt"`
	Results     []CaseResult `json:"results"`
}

// Artifacts is the set of documents written for one run or for the combined
// view across runs.
type Artifacts struct {
	Results ResultsDoc
	JUnit   JUnitSuites
	Summary Summary
}

func Build(now time.Time, invocation, name string, results []CaseResult) Artifacts {
	if results == nil {
		results = []CaseResult{}
	}
	return Artifacts{
		Results: ResultsDoc{
			V:           1,
			Invocation:  invocation,
			Name:        name,
			GeneratedAt: now.UTC().Format(time.RFC3339),
			Results:     results,
		},
		JUnit:   JUnit(name, results),
		Summary: BuildSummary(name, results),
	}
}

// Write stores a into dir atomically, one file per document.
func (a Artifacts) Write(dir string) error {
	if err := store.WriteJSONAtomic(filepath.Join(dir, ResultsFile), a.Results); err != nil {
		return err
	}
	if err := store.WriteXMLAtomic(filepath.Join(dir, JUnitFile), a.JUnit); err != nil {
		return err
	}
	return store.WriteJSONAtomic(filepath.Join(dir, SummaryFile), a.Summary)
}
