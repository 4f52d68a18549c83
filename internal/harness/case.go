package harness

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/marcohefti/skilleval/internal/dataset"
	"github.com/marcohefti/skilleval/internal/driver"
	"github.com/marcohefti/skilleval/internal/grade"
	"github.com/marcohefti/skilleval/internal/ids"
	"github.com/marcohefti/skilleval/internal/redact"
	"github.com/marcohefti/skilleval/internal/report"
	"github.com/marcohefti/skilleval/internal/telemetry"
	"github.com/marcohefti/skilleval/internal/trace"
)

// skip records a SKIP verdict when tc cannot run under this run's agent
// mode. It reports whether the case was skipped.
func (r *runner) skip(tc dataset.TestCase) bool {
	reason, ok := grade.SkipReason(tc, r.run.Agent, r.opts.ReadOnlyAgents)
	if !ok {
		return false
	}
	r.record(tc, report.CaseResult{Status: report.StatusSkip, Reason: reason, FirstSkillIndex: -1}, nil)
	return true
}

func (r *runner) setupError(tc dataset.TestCase, reason string) {
	r.record(tc, report.CaseResult{Status: report.StatusError, Reason: reason, Check: "setup", FirstSkillIndex: -1}, nil)
}

// failRemaining marks every case without a verdict as ERROR.
func (r *runner) failRemaining(reason string) {
	r.failRemainingAs(reason, "setup")
}

func (r *runner) failRemainingAs(reason, check string) {
	for _, tc := range r.opts.Cases {
		if !r.collector.Has(tc.Index) {
			r.record(tc, report.CaseResult{Status: report.StatusError, Reason: reason, Check: check, FirstSkillIndex: -1}, nil)
		}
	}
}

// abortRun fails the remaining cases after a run-level server failure. The
// check carries the driver error kind (startup, health, ...) when known.
func (r *runner) abortRun(what string, err error) {
	check := "setup"
	if derr, ok := driver.AsError(err); ok {
		check = string(derr.Kind)
	}
	r.log.Error(what, "err", err)
	r.failRemainingAs(fmt.Sprintf("%s: %v", what, err), check)
}

// executeCase runs one prompt in ws, grades the trace and records the
// verdict. attach is the server URL in server mode.
func (r *runner) executeCase(ctx context.Context, tc dataset.TestCase, ws, attach, scratch string) {
	ctx, span := r.tel.StartCase(ctx, r.run.Name, tc.ID, tc.Index)
	r.emit(report.ProgressEvent{Kind: report.ProgressCaseStart, CaseID: tc.ID, Index: report.IntPtr(tc.Index)})

	res := r.drv.Execute(ctx, driver.Invocation{
		Prompt:     tc.Prompt,
		Run:        r.run,
		Workdir:    ws,
		Timeout:    r.opts.Timeout,
		Title:      ids.NewRunTitle(r.run.Name, tc.ID),
		Attach:     attach,
		ScratchDir: scratch,
	})

	tr := trace.ParseWith(res.Stdout, r.opts.Trace)
	exit := res.ExitCode
	cr := report.CaseResult{
		Skills:          tr.Skills,
		Tools:           tr.Tools,
		FirstSkillIndex: tr.FirstSkillIndex,
		Output:          tr.Text,
		ExitCode:        &exit,
		DurationMs:      res.Duration.Milliseconds(),
	}
	if res.OK() {
		out := grade.Grade(tc, tr, ws)
		cr.Reason, cr.Check = out.Reason, out.Check
		cr.Status = report.StatusFail
		if out.Pass {
			cr.Status = report.StatusPass
		}
	} else {
		cr.Status = report.StatusError
		cr.Reason = res.FailureReason()
		cr.Check = string(res.Err.Kind)
		if cr.Output == "" {
			cr.Output = res.Stderr
		}
	}

	if r.opts.TraceDetail != TraceNone {
		path := filepath.Join(r.dir, report.EventsDir, timelineName(tc))
		if err := trace.WriteTimeline(path, tr); err != nil {
			r.log.Warn("timeline write", "case", tc.ID, "err", err)
		}
	}

	r.record(tc, cr, span)
}

func (r *runner) record(tc dataset.TestCase, cr report.CaseResult, span oteltrace.Span) {
	// Reasons can echo agent output; scrub before they reach spans and logs.
	cr.Reason, _ = redact.Text(cr.Reason)
	cr.CaseID = tc.ID
	cr.Category = tc.Category
	cr.Index = tc.Index
	cr.ExpectedSkills = tc.ExpectedSkillsAnyOf
	cr.ExpectsLoad = tc.RequiresSkill()
	r.collector.Add(cr)

	if span != nil {
		telemetry.EndCase(span, string(cr.Status), cr.Reason, cr.Skills, cr.Status.Blocking())
	}
	r.emit(report.ProgressEvent{
		Kind:       report.ProgressCaseEnd,
		CaseID:     tc.ID,
		Index:      report.IntPtr(tc.Index),
		Status:     cr.Status,
		Reason:     cr.Reason,
		DurationMs: cr.DurationMs,
	})
	level := r.log.Info
	if cr.Status.Blocking() {
		level = r.log.Warn
	}
	level("case finished", "case", tc.ID, "status", string(cr.Status), "reason", cr.Reason, "skills", cr.Skills, "duration", time.Duration(cr.DurationMs)*time.Millisecond)
}

func timelineName(tc dataset.TestCase) string {
	id := ids.SanitizeComponent(tc.ID)
	if id == "" {
		id = "case"
	}
	return fmt.Sprintf("%04d-%s.jsonl", tc.Index, id)
}

