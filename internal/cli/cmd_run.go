package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marcohefti/skilleval/internal/config"
	"github.com/marcohefti/skilleval/internal/dataset"
	"github.com/marcohefti/skilleval/internal/driver"
	"github.com/marcohefti/skilleval/internal/grade"
	"github.com/marcohefti/skilleval/internal/harness"
	"github.com/marcohefti/skilleval/internal/report"
	"github.com/marcohefti/skilleval/internal/trace"
	"github.com/marcohefti/skilleval/internal/workspace"
)

type runFlags struct {
	source        string
	datasetPath   string
	matrixPath    string
	workspaceMode string
	tempRoot      string
	server        bool
	categories    []string
	ids           []string
	isolateState  bool
	isolateConfig bool
	overlay       string
	opencode      string
	traceDetail   string
	parallel      int
	runParallel   int
	progress      string

	cfg config.Flags
}

func (r Runner) runCmd(g *globalFlags) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the dataset against every matrix entry and grade the results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return r.runRun(cmd, g, f)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.source, "source", "", "project directory copied into each workspace (required)")
	fl.StringVar(&f.datasetPath, "dataset", "", "JSONL test case file (required)")
	fl.StringVar(&f.matrixPath, "matrix", "", "YAML or JSON run matrix (required)")
	fl.StringVar(&f.cfg.Out, "out", "", "output directory (default .skilleval)")
	fl.DurationVar(&f.cfg.Timeout, "timeout", 0, "per-case agent timeout (default 300s)")
	fl.StringVar(&f.workspaceMode, "workspace", string(workspace.ModeCopy), "workspace mode: copy|in-place")
	fl.StringVar(&f.tempRoot, "temp-root", "", "directory for workspaces and scratch homes (default OS temp dir)")
	fl.BoolVar(&f.server, "server", false, "run cases against one long-lived agent server per run")
	fl.StringVar(&f.cfg.ResetPolicy, "reset-policy", "", "server reset policy between cases: reset|restart|none (default reset)")
	fl.StringVar(&f.cfg.ServerHost, "server-host", "", "agent server host (default 127.0.0.1)")
	fl.IntVar(&f.cfg.ServerPort, "server-port", 0, "agent server port; runs use consecutive ports (default 4096)")
	fl.StringVar(&f.cfg.HealthPath, "health-path", "", "agent server health path (default /)")
	fl.DurationVar(&f.cfg.HealthTimeout, "health-timeout", 0, "agent server health timeout (default 15s)")
	fl.StringArrayVar(&f.categories, "category", nil, "only run cases in this category (repeatable, comma-separated)")
	fl.StringArrayVar(&f.ids, "id", nil, "only run the case with this id (repeatable, comma-separated)")
	fl.BoolVar(&f.isolateState, "isolate-state", false, "give each case private agent state/cache/data homes")
	fl.BoolVar(&f.isolateConfig, "isolate-config", false, "give each case a private agent config home")
	fl.StringVar(&f.overlay, "config-overlay", "", "agent config merged into a managed config for this invocation")
	fl.StringVar(&f.opencode, "opencode-config", "", "opencode config whose skill permissions are folded into the overlay")
	fl.StringVar(&f.traceDetail, "trace-detail", string(harness.TraceNone), "extra diagnostics: none|events|otel")
	fl.IntVar(&f.parallel, "parallel", 1, "cases run concurrently within a run (subprocess mode only)")
	fl.IntVar(&f.runParallel, "run-parallel", 1, "matrix entries run concurrently")
	fl.StringVar(&f.progress, "progress", "", "also stream progress events as JSONL to this path (- for stderr)")
	fl.StringVar(&f.cfg.AgentBin, "agent-bin", "", "agent binary (default opencode)")
	fl.StringVar(&f.cfg.SkillTool, "skill-tool", "", "tool name that loads skills (default skill)")
	fl.StringSliceVar(&f.cfg.ShellTools, "shell-tool", nil, "tool names whose command input is searched by command patterns (default bash,shell)")
	fl.StringSliceVar(&f.cfg.ReadOnlyAgents, "read-only-agent", nil, "agent modes that cannot write files (default plan)")
	return cmd
}

func (r Runner) runRun(cmd *cobra.Command, g *globalFlags, f *runFlags) error {
	for _, req := range []struct{ name, value string }{
		{"source", f.source}, {"dataset", f.datasetPath}, {"matrix", f.matrixPath},
	} {
		if err := requireFlag(req.name, req.value); err != nil {
			return err
		}
	}
	if f.parallel < 1 || f.runParallel < 1 {
		return usageError("--parallel and --run-parallel must be >= 1")
	}
	if f.server && f.parallel > 1 {
		return usageError("--parallel > 1 is not supported with --server (cases share one server)")
	}

	f.cfg.LogLevel = g.logLevel
	merged, err := config.LoadMerged(g.config, f.cfg)
	if err != nil {
		return usageError(err.Error())
	}
	log, err := r.logger(merged.LogLevel, g.logFormat)
	if err != nil {
		return err
	}

	mode, err := workspace.ParseMode(f.workspaceMode)
	if err != nil {
		return usageError(err.Error())
	}
	policy, err := driver.ParseResetPolicy(merged.ResetPolicy)
	if err != nil {
		return usageError(err.Error())
	}
	detail, err := harness.ParseTraceDetail(f.traceDetail)
	if err != nil {
		return usageError(err.Error())
	}

	cases, matrix, err := loadInputs(f.datasetPath, f.matrixPath)
	if err != nil {
		return err
	}
	filter := dataset.Filter{Categories: f.categories, IDs: f.ids}
	if !filter.Empty() {
		cases = filter.Apply(cases)
		if len(cases) == 0 {
			return usageError("no cases match the --category/--id filters")
		}
	}

	opts := harness.Options{
		SourceRoot:     f.source,
		Cases:          cases,
		Matrix:         matrix,
		OutDir:         merged.Out,
		Timeout:        merged.Timeout,
		WorkspaceMode:  mode,
		TempRoot:       f.tempRoot,
		Server:         f.server,
		ResetPolicy:    policy,
		ServerHost:     merged.ServerHost,
		ServerPort:     merged.ServerPort,
		HealthPath:     merged.HealthPath,
		HealthTimeout:  merged.HealthTimeout,
		Parallel:       f.parallel,
		RunParallel:    f.runParallel,
		ReadOnlyAgents: merged.ReadOnlyAgents,
		Trace:          trace.Options{SkillTool: merged.SkillTool, ShellTools: merged.ShellTools},
		TraceDetail:    detail,
		Driver: driver.Config{
			Bin:           merged.AgentBin,
			IsolateState:  f.isolateState,
			IsolateConfig: f.isolateConfig,
		},
		ConfigOverlay:  f.overlay,
		OpencodeConfig: f.opencode,
		Progress:       report.NewProgressEmitter(f.progress, r.Stderr),
		Logger:         log,
		Now:            r.Now,
	}
	log.Debug("resolved config", "sources", merged.Sources)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	out, err := harness.Run(ctx, opts)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return &CliError{Code: codeRun, Message: "interrupted", Exit: 1}
		}
		return &CliError{Code: codeRun, Message: err.Error(), Exit: 1}
	}

	c := out.Combined.Count
	fmt.Fprintf(r.Stdout, "%s: %d cases, %d pass, %d fail, %d skip, %d error (out: %s)\n",
		out.InvocationID, c.Total, c.Pass, c.Fail, c.Skip, c.Error, merged.Out)
	if out.ExitCode != 0 {
		return exitStatus(out.ExitCode)
	}
	return nil
}

// loadInputs reads and validates the dataset and matrix. Invalid inputs are
// usage errors: nothing has run yet.
func loadInputs(datasetPath, matrixPath string) ([]dataset.TestCase, dataset.Matrix, error) {
	cases, err := dataset.LoadCases(datasetPath)
	if err != nil {
		return nil, dataset.Matrix{}, usageError(describeLoadError(err))
	}
	for _, tc := range cases {
		if err := grade.CompileExpressions(tc); err != nil {
			return nil, dataset.Matrix{}, usageError(fmt.Sprintf("case %s: %v", tc.ID, err))
		}
	}
	matrix, err := dataset.LoadMatrix(matrixPath)
	if err != nil {
		return nil, dataset.Matrix{}, usageError(err.Error())
	}
	return cases, matrix, nil
}

func describeLoadError(err error) string {
	var le *dataset.LoadError
	if !errors.As(err, &le) || len(le.Problems) <= 1 {
		return err.Error()
	}
	msg := fmt.Sprintf("invalid dataset %s: %d problems", le.Path, len(le.Problems))
	for _, p := range le.Problems {
		msg += fmt.Sprintf("\n  line %d: %s", p.Line, p.Message)
	}
	return msg
}
