package harness

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marcohefti/skilleval/internal/dataset"
	"github.com/marcohefti/skilleval/internal/driver"
	"github.com/marcohefti/skilleval/internal/ids"
	"github.com/marcohefti/skilleval/internal/report"
	"github.com/marcohefti/skilleval/internal/telemetry"
	"github.com/marcohefti/skilleval/internal/workspace"
)

const maxPort = 65535

// runner executes the dataset for one matrix entry.
type runner struct {
	opts       *Options
	drv        *driver.Driver
	tel        *telemetry.Tracing
	run        dataset.RunConfig
	runIndex   int
	dir        string
	invocation string
	tempRoot   string
	log        *slog.Logger

	ws        *workspace.Manager
	collector *report.Collector
	progress  *report.ProgressEmitter
}

func (r *runner) execute(ctx context.Context) (RunOutcome, error) {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return RunOutcome{}, err
	}
	r.ws = workspace.NewManager(r.opts.WorkspaceMode, filepath.Join(r.tempRoot, "ws"))
	r.collector = report.NewCollector(r.run.Name, len(r.opts.Cases))
	r.progress = report.NewProgressEmitter(filepath.Join(r.dir, report.ProgressFile), nil)

	ctx, span := r.tel.StartRun(ctx, r.run.Name, r.run.Agent, r.run.Model)
	defer span.End()

	start := time.Now()
	r.emit(report.ProgressEvent{Kind: report.ProgressRunStart, Details: map[string]any{
		"agent": r.run.Agent, "model": r.run.Model, "cases": len(r.opts.Cases),
	}})
	r.log.Info("run started", "agent", r.run.Agent, "model", r.run.Model, "cases", len(r.opts.Cases))

	switch {
	case r.run.Attach != "":
		r.runAttached(ctx)
	case r.opts.Server:
		r.runServer(ctx)
	default:
		if err := r.runSubprocess(ctx); err != nil {
			return RunOutcome{}, err
		}
	}
	// Cases never reached (canceled context, aborted run) still get a
	// verdict so every run reports the full dataset.
	r.failRemaining("run aborted before case executed")

	results := r.collector.Results()
	artifacts := report.Build(r.opts.Now(), r.invocation, r.run.Name, results)
	if err := artifacts.Write(r.dir); err != nil {
		return RunOutcome{}, fmt.Errorf("write run artifacts: %w", err)
	}
	r.emit(report.ProgressEvent{Kind: report.ProgressRunEnd, DurationMs: time.Since(start).Milliseconds(), Details: map[string]any{
		"exit": artifacts.Summary.Exit, "pass": artifacts.Summary.Count.Pass, "fail": artifacts.Summary.Count.Fail,
		"skip": artifacts.Summary.Count.Skip, "error": artifacts.Summary.Count.Error,
	}})
	r.log.Info("run finished", "exit", artifacts.Summary.Exit, "dir", r.dir)
	return RunOutcome{Run: r.run, Dir: r.dir, Results: results, Summary: artifacts.Summary}, nil
}

// runSubprocess gives every case its own workspace and agent process.
func (r *runner) runSubprocess(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Parallel)
	for i := range r.opts.Cases {
		tc := r.opts.Cases[i]
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			r.isolatedCase(gctx, tc)
			return nil
		})
	}
	return g.Wait()
}

// runAttached sends every case to the run's pre-existing endpoint. The
// endpoint is health-checked once and never reset; each case still gets its
// own workspace for file checks.
func (r *runner) runAttached(ctx context.Context) {
	url := strings.TrimRight(r.run.Attach, "/") + r.healthPath()
	if !driver.Probe(ctx, url) {
		r.failRemaining(fmt.Sprintf("attach endpoint not healthy: %s", url))
		return
	}
	for _, tc := range r.opts.Cases {
		if ctx.Err() != nil {
			return
		}
		r.isolatedCase(ctx, tc)
	}
}

// isolatedCase runs tc in a fresh workspace. Attached runs reach their
// endpoint through RunConfig.Attach.
func (r *runner) isolatedCase(ctx context.Context, tc dataset.TestCase) {
	if r.skip(tc) {
		return
	}
	ws, err := r.ws.Prepare(r.opts.SourceRoot)
	if err != nil {
		r.setupError(tc, fmt.Sprintf("workspace setup failed: %v", err))
		return
	}
	defer func() {
		if err := r.ws.Teardown(ws); err != nil {
			r.log.Warn("workspace teardown", "case", tc.ID, "dir", ws, "err", err)
		}
	}()
	scratch, err := r.scratchDir(tc)
	if err != nil {
		r.setupError(tc, fmt.Sprintf("scratch setup failed: %v", err))
		return
	}
	defer func() { _ = os.RemoveAll(scratch) }()
	r.executeCase(ctx, tc, ws, "", scratch)
}

// runServer executes all cases sequentially against one long-lived agent
// server, applying the reset policy before every case after the first.
func (r *runner) runServer(ctx context.Context) {
	ws, err := r.ws.Prepare(r.opts.SourceRoot)
	if err != nil {
		r.failRemaining(fmt.Sprintf("server workspace setup failed: %v", err))
		return
	}
	defer func() { _ = r.ws.Teardown(ws) }()

	var pristine string
	if r.opts.WorkspaceMode != workspace.ModeInPlace {
		if pristine, err = r.ws.Snapshot(ws); err != nil {
			r.failRemaining(fmt.Sprintf("server workspace snapshot failed: %v", err))
			return
		}
		defer func() { _ = os.RemoveAll(pristine) }()
	}

	scratch, err := os.MkdirTemp(r.tempRoot, "server-")
	if err != nil {
		r.failRemaining(fmt.Sprintf("server scratch setup failed: %v", err))
		return
	}
	defer func() { _ = os.RemoveAll(scratch) }()

	port := r.opts.ServerPort
	if port > 0 {
		port += r.runIndex
		if port > maxPort {
			r.failRemaining(fmt.Sprintf("server port %d for run %d is out of range (base %d)", port, r.runIndex, r.opts.ServerPort))
			return
		}
	} else if port, err = driver.FreePort(r.opts.ServerHost); err != nil {
		r.failRemaining(fmt.Sprintf("server port allocation failed: %v", err))
		return
	}

	srv := r.drv.NewServer(driver.ServerConfig{
		Host:          r.opts.ServerHost,
		Port:          port,
		HealthPath:    r.opts.HealthPath,
		HealthTimeout: r.opts.HealthTimeout,
	}, ws, scratch)
	if err := srv.Start(ctx); err != nil {
		r.abortRun("agent server failed to start", err)
		return
	}
	defer func() {
		if err := srv.Stop(); err != nil {
			r.log.Warn("agent server stop", "err", err)
		}
	}()
	r.emit(report.ProgressEvent{Kind: report.ProgressServerStart, Details: map[string]any{
		"url": srv.URL(), "policy": string(r.opts.ResetPolicy),
	}})

	for i, tc := range r.opts.Cases {
		if ctx.Err() != nil {
			return
		}
		if r.skip(tc) {
			continue
		}
		if i > 0 {
			if err := r.resetServer(ctx, srv, ws, pristine); err != nil {
				r.abortRun("server reset failed", err)
				return
			}
		}
		if !srv.Alive() {
			r.log.Warn("agent server died; restarting", "case", tc.ID, "stderr", tailLine(srv.Stderr()))
			if err := srv.Restart(ctx); err != nil {
				r.abortRun("agent server restart failed", err)
				return
			}
		}
		r.executeCase(ctx, tc, ws, srv.URL(), "")
	}
}

// resetServer restores the shared server to a pristine state. Reset and the
// following execution are never interleaved with another case because server
// runs are strictly sequential.
func (r *runner) resetServer(ctx context.Context, srv *driver.Server, ws, pristine string) error {
	policy := r.opts.ResetPolicy
	if policy == driver.PolicyNone {
		return nil
	}
	restore := func() error {
		if pristine != "" {
			return r.ws.Reset(ws, pristine)
		}
		return r.ws.ClearState(ws)
	}
	if err := srv.Reset(ctx, policy, restore); err != nil {
		return err
	}
	r.emit(report.ProgressEvent{Kind: report.ProgressServerReset, Details: map[string]any{"policy": string(policy)}})
	return nil
}

func (r *runner) healthPath() string {
	p := r.opts.HealthPath
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		return "/" + p
	}
	return p
}

func (r *runner) scratchDir(tc dataset.TestCase) (string, error) {
	if !r.opts.Driver.IsolateState && !r.opts.Driver.IsolateConfig {
		return "", nil
	}
	return os.MkdirTemp(r.tempRoot, "scratch-"+ids.SanitizeComponent(tc.ID)+"-")
}

func (r *runner) emit(ev report.ProgressEvent) {
	ev.Invocation = r.invocation
	ev.Run = r.run.Name
	if err := r.progress.Emit(ev); err != nil {
		r.log.Warn("progress write", "err", err)
	}
	if err := r.opts.Progress.Emit(ev); err != nil {
		r.log.Warn("progress stream write", "err", err)
	}
}

func tailLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
