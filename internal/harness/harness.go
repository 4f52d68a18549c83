// Package harness runs a dataset against every configuration of a matrix and
// writes per-run and combined artifacts.
package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marcohefti/skilleval/internal/agentconfig"
	"github.com/marcohefti/skilleval/internal/dataset"
	"github.com/marcohefti/skilleval/internal/driver"
	"github.com/marcohefti/skilleval/internal/gc"
	"github.com/marcohefti/skilleval/internal/ids"
	"github.com/marcohefti/skilleval/internal/logging"
	"github.com/marcohefti/skilleval/internal/report"
	"github.com/marcohefti/skilleval/internal/store"
	"github.com/marcohefti/skilleval/internal/telemetry"
	"github.com/marcohefti/skilleval/internal/trace"
	"github.com/marcohefti/skilleval/internal/workspace"
)

const (
	LockName       = ".skilleval.lock"
	OverlayDir     = ".agent-config"
	OtelSpansFile  = "otel-spans.jsonl"
	DefaultTimeout = 300 * time.Second
	lockWait       = 2 * time.Second
)

// TraceDetail selects how much per-case diagnostics are persisted beyond the
// results documents.
type TraceDetail string

const (
	TraceNone   TraceDetail = "none"
	TraceEvents TraceDetail = "events"
	TraceOtel   TraceDetail = "otel"
)

func ParseTraceDetail(s string) (TraceDetail, error) {
	switch TraceDetail(strings.ToLower(strings.TrimSpace(s))) {
	case "", TraceNone:
		return TraceNone, nil
	case TraceEvents:
		return TraceEvents, nil
	case TraceOtel:
		return TraceOtel, nil
	default:
		return "", fmt.Errorf("invalid trace detail %q (expected none|events|otel)", s)
	}
}

type Options struct {
	SourceRoot string
	Cases      []dataset.TestCase
	Matrix     dataset.Matrix
	OutDir     string

	Timeout       time.Duration
	WorkspaceMode workspace.Mode
	// TempRoot holds workspaces and scratch dirs; empty uses the OS default.
	TempRoot string

	Server        bool
	ResetPolicy   driver.ResetPolicy
	ServerHost    string
	ServerPort    int
	HealthPath    string
	HealthTimeout time.Duration

	Parallel    int
	RunParallel int

	ReadOnlyAgents []string
	Trace          trace.Options
	TraceDetail    TraceDetail

	Driver driver.Config
	// ConfigOverlay is merged into a managed agent config for the duration
	// of the invocation; OpencodeConfig contributes skill permissions.
	ConfigOverlay  string
	OpencodeConfig string

	// Progress, when set, receives every run's progress events in addition
	// to the per-run progress file.
	Progress *report.ProgressEmitter

	Logger *slog.Logger
	Now    func() time.Time
}

// Outcome is what an invocation produced. ExitCode follows report.ExitCode
// over every run.
type Outcome struct {
	InvocationID string
	Runs         []RunOutcome
	Combined     report.Summary
	ExitCode     int
}

type RunOutcome struct {
	Run     dataset.RunConfig
	Dir     string
	Results []report.CaseResult
	Summary report.Summary
}

func (o *Options) defaults() error {
	if strings.TrimSpace(o.SourceRoot) == "" {
		return errors.New("source root is required")
	}
	if strings.TrimSpace(o.OutDir) == "" {
		return errors.New("output directory is required")
	}
	if len(o.Cases) == 0 {
		return errors.New("no cases to run")
	}
	cases := make([]dataset.TestCase, len(o.Cases))
	for i, tc := range o.Cases {
		tc.Index = i
		cases[i] = tc
	}
	o.Cases = cases
	if err := dataset.ValidateMatrix(o.Matrix); err != nil {
		return err
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.WorkspaceMode == "" {
		o.WorkspaceMode = workspace.ModeCopy
	}
	if o.ResetPolicy == "" {
		o.ResetPolicy = driver.PolicyReset
	}
	if o.Parallel <= 0 || o.Server {
		o.Parallel = 1
	}
	if o.RunParallel <= 0 {
		o.RunParallel = 1
	}
	if o.Trace.SkillTool == "" {
		o.Trace = trace.DefaultOptions()
	}
	if o.TraceDetail == "" {
		o.TraceDetail = TraceNone
	}
	if o.Logger == nil {
		o.Logger = logging.Discard()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Driver.Logger == nil {
		o.Driver.Logger = o.Logger
	}
	return nil
}

// Run executes every matrix entry. The returned error is reserved for
// harness-level failures (bad options, output I/O, a held lock); agent and
// grading failures are verdicts inside the Outcome.
func Run(ctx context.Context, opts Options) (Outcome, error) {
	if err := opts.defaults(); err != nil {
		return Outcome{}, err
	}
	log := opts.Logger

	if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
		return Outcome{}, err
	}
	release, err := store.AcquireDirLock(filepath.Join(opts.OutDir, LockName), lockWait)
	if err != nil {
		if store.IsLockTimeout(err) {
			return Outcome{}, fmt.Errorf("output directory %s is in use by another invocation: %w", opts.OutDir, err)
		}
		return Outcome{}, err
	}
	defer func() { _ = release() }()

	invocationID, err := ids.NewInvocationID(opts.Now())
	if err != nil {
		return Outcome{}, err
	}
	if opts.TempRoot != "" {
		if err := os.MkdirAll(opts.TempRoot, 0o755); err != nil {
			return Outcome{}, err
		}
	}
	tempRoot, err := os.MkdirTemp(opts.TempRoot, gc.Prefix+invocationID+"-")
	if err != nil {
		return Outcome{}, err
	}
	defer func() { _ = os.RemoveAll(tempRoot) }()

	if !opts.ResetPolicy.Deterministic() && opts.Server {
		log.Warn("reset policy none leaks agent state between cases; verdicts may depend on case order", "policy", opts.ResetPolicy)
	}

	if opts.ConfigOverlay != "" {
		remove, err := installOverlay(&opts)
		if err != nil {
			return Outcome{}, err
		}
		defer remove()
	}

	tel := telemetry.Disabled()
	if opts.TraceDetail == TraceOtel {
		if tel, err = telemetry.Start(ctx, filepath.Join(opts.OutDir, OtelSpansFile), invocationID); err != nil {
			return Outcome{}, fmt.Errorf("start telemetry: %w", err)
		}
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			log.Warn("telemetry shutdown", "err", err)
		}
	}()

	drv := driver.New(opts.Driver)
	dirs := runDirs(opts.OutDir, opts.Matrix.Runs)
	runs := make([]RunOutcome, len(opts.Matrix.Runs))

	log.Info("invocation started",
		"invocation", invocationID,
		"matrix", opts.Matrix.Name,
		"runs", len(opts.Matrix.Runs),
		"cases", len(opts.Cases),
		"server", opts.Server,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.RunParallel)
	for i, rc := range opts.Matrix.Runs {
		i, rc := i, rc
		r := &runner{
			opts:       &opts,
			drv:        drv,
			tel:        tel,
			run:        rc,
			runIndex:   i,
			dir:        dirs[i],
			invocation: invocationID,
			tempRoot:   tempRoot,
			log:        log.With("run", rc.Name),
		}
		g.Go(func() error {
			out, err := r.execute(gctx)
			if err != nil {
				return fmt.Errorf("run %s: %w", rc.Name, err)
			}
			runs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Outcome{}, err
	}

	var all []report.CaseResult
	for _, ro := range runs {
		all = append(all, ro.Results...)
	}
	name := opts.Matrix.Name
	if name == "" {
		name = "skilleval"
	}
	combined := report.Build(opts.Now(), invocationID, name, all)
	if err := combined.Write(filepath.Join(opts.OutDir, report.CombinedDir)); err != nil {
		return Outcome{}, fmt.Errorf("write combined artifacts: %w", err)
	}

	out := Outcome{
		InvocationID: invocationID,
		Runs:         runs,
		Combined:     combined.Summary,
		ExitCode:     report.ExitCode(all),
	}
	log.Info("invocation finished",
		"invocation", invocationID,
		"exit", out.ExitCode,
		"pass", combined.Summary.Count.Pass,
		"fail", combined.Summary.Count.Fail,
		"skip", combined.Summary.Count.Skip,
		"error", combined.Summary.Count.Error,
	)
	return out, nil
}

// installOverlay merges the overlay into a managed config under the output
// dir, points the driver at it, and returns the matching removal.
func installOverlay(opts *Options) (func(), error) {
	dir := filepath.Join(opts.OutDir, OverlayDir)
	target := filepath.Join(dir, "opencode"+overlayExt(opts.ConfigOverlay))
	state := filepath.Join(dir, "state.json")
	res, err := agentconfig.Install(agentconfig.InstallOptions{
		Overlay:  opts.ConfigOverlay,
		Target:   target,
		State:    state,
		Opencode: opts.OpencodeConfig,
	})
	if err != nil {
		return nil, fmt.Errorf("install config overlay: %w", err)
	}
	opts.Driver.ConfigFile = target
	opts.Logger.Info("config overlay installed", "target", target, "added", res.Added, "overrode", res.Overrode)
	return func() {
		if _, err := agentconfig.Remove(target, state); err != nil {
			opts.Logger.Warn("config overlay removal", "err", err)
		}
	}, nil
}

func overlayExt(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ".yaml"
	default:
		return ".json"
	}
}

// runDirs maps each run to a path-safe artifact directory, disambiguating
// names that sanitize to the same component.
func runDirs(out string, runs []dataset.RunConfig) []string {
	used := map[string]bool{report.CombinedDir: true, OverlayDir: true}
	dirs := make([]string, len(runs))
	for i, rc := range runs {
		base := ids.SanitizeComponent(rc.Name)
		if base == "" {
			base = "run"
		}
		name := base
		for n := 2; used[name]; n++ {
			name = base + "-" + strconv.Itoa(n)
		}
		used[name] = true
		dirs[i] = filepath.Join(out, name)
	}
	return dirs
}
