package report

import (
	"encoding/xml"
	"fmt"
	"sort"
	"unicode/utf8"
)

const maxSystemOut = 64 << 10

type JUnitSuites struct {
	XMLName  xml.Name     `xml:"testsuites"`
	Name     string       `xml:"name,attr"`
	Tests    int          `xml:"tests,attr"`
	Failures int          `xml:"failures,attr"`
	Errors   int          `xml:"errors,attr"`
	Skipped  int          `xml:"skipped,attr"`
	Time     string       `xml:"time,attr"`
	Suites   []JUnitSuite `xml:"testsuite"`
}

type JUnitSuite struct {
	Name     string      `xml:"name,attr"`
	Tests    int         `xml:"tests,attr"`
	Failures int         `xml:"failures,attr"`
	Errors   int         `xml:"errors,attr"`
	Skipped  int         `xml:"skipped,attr"`
	Time     string      `xml:"time,attr"`
	Cases    []JUnitCase `xml:"testcase"`
}

type JUnitCase struct {
	Name      string        `xml:"name,attr"`
	Classname string        `xml:"classname,attr"`
	Time      string        `xml:"time,attr"`
	Failure   *JUnitMessage `xml:"failure,omitempty"`
	Error     *JUnitMessage `xml:"error,omitempty"`
	Skipped   *JUnitMessage `xml:"skipped,omitempty"`
	SystemOut string        `xml:"system-out,omitempty"`
}

type JUnitMessage struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr,omitempty"`
	Body    string `xml:",chardata"`
}

// JUnit renders results as one testsuite per run, runs in first-seen order.
func JUnit(name string, results []CaseResult) JUnitSuites {
	doc := JUnitSuites{Name: name}
	byRun := map[string]*JUnitSuite{}
	var order []string
	var totalMs int64
	suiteMs := map[string]int64{}

	for _, r := range results {
		s, ok := byRun[r.Run]
		if !ok {
			s = &JUnitSuite{Name: r.Run}
			byRun[r.Run] = s
			order = append(order, r.Run)
		}
		tc := JUnitCase{
			Name:      r.CaseID,
			Classname: classname(r),
			Time:      seconds(r.DurationMs),
		}
		switch r.Status {
		case StatusFail:
			tc.Failure = &JUnitMessage{Message: r.Reason, Type: r.Check, Body: detail(r)}
			s.Failures++
		case StatusError:
			tc.Error = &JUnitMessage{Message: r.Reason, Type: "error", Body: detail(r)}
			s.Errors++
		case StatusSkip:
			tc.Skipped = &JUnitMessage{Message: r.Reason}
			s.Skipped++
		}
		if r.Status != StatusSkip && r.Output != "" {
			out := r.Output
			if len(out) > maxSystemOut {
				cut := maxSystemOut
				for cut > 0 && !utf8.RuneStart(out[cut]) {
					cut--
				}
				out = out[:cut] + "\n[truncated]"
			}
			tc.SystemOut = out
		}
		s.Tests++
		s.Cases = append(s.Cases, tc)
		suiteMs[r.Run] += r.DurationMs
		totalMs += r.DurationMs
	}

	for _, run := range order {
		s := byRun[run]
		s.Time = seconds(suiteMs[run])
		doc.Tests += s.Tests
		doc.Failures += s.Failures
		doc.Errors += s.Errors
		doc.Skipped += s.Skipped
		doc.Suites = append(doc.Suites, *s)
	}
	doc.Time = seconds(totalMs)
	return doc
}

func classname(r CaseResult) string {
	if r.Category == "" {
		return "skilleval." + r.Run
	}
	return "skilleval." + r.Run + "." + r.Category
}

func detail(r CaseResult) string {
	skills := append([]string(nil), r.Skills...)
	sort.Strings(skills)
	return fmt.Sprintf("reason: %s\nskills: %v\ntools: %v\n", r.Reason, skills, r.Tools)
}

func seconds(ms int64) string {
	return fmt.Sprintf("%.3f", float64(ms)/1000)
}
