package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/marcohefti/skilleval/internal/dataset"
	"github.com/marcohefti/skilleval/internal/redact"
)

const (
	DefaultBin          = "opencode"
	DefaultMaxStdout    = 64 << 20
	DefaultStderrTail   = 64 << 10
	DefaultWaitDelay    = 2 * time.Second
	MaxReasonStderrTail = 2000
)

type Config struct {
	Bin string

	// Env overrides the inherited host environment.
	Env map[string]string

	// IsolateState points the agent's state, cache and data homes at the
	// invocation's scratch dir. IsolateConfig does the same for its config
	// home; ConfigFile, when set, is exported as OPENCODE_CONFIG.
	IsolateState  bool
	IsolateConfig bool
	ConfigFile    string

	MaxStdout  int
	StderrTail int
	WaitDelay  time.Duration

	Logger *slog.Logger
}

// Invocation is one case execution against one run configuration.
type Invocation struct {
	Prompt  string
	Run     dataset.RunConfig
	Workdir string
	Timeout time.Duration
	Title   string

	// Attach overrides Run.Attach; set in server mode.
	Attach string

	// ScratchDir receives isolated agent state; empty disables isolation.
	ScratchDir string
}

type Result struct {
	ExitCode        int           `json:"exitCode"`
	Stdout          []byte        `json:"-"`
	StdoutBytes     int64         `json:"stdoutBytes"`
	StdoutTruncated bool          `json:"stdoutTruncated,omitempty"`
	Stderr          string        `json:"stderr,omitempty"`
	Duration        time.Duration `json:"duration"`
	TimedOut        bool          `json:"timedOut,omitempty"`

	// Err is set for every non-success outcome.
	Err *Error `json:"error,omitempty"`
}

func (r Result) OK() bool { return r.Err == nil }

// FailureReason renders r as a verdict reason: exit code or timeout plus the
// tail of stderr, bounded to MaxReasonStderrTail bytes.
func (r Result) FailureReason() string {
	if r.Err == nil {
		return ""
	}
	var head string
	switch r.Err.Kind {
	case ErrorTimeout:
		head = fmt.Sprintf("agent timed out after %s (killed)", r.Duration.Round(time.Millisecond))
	case ErrorExit:
		head = fmt.Sprintf("agent exited with code %d", r.ExitCode)
	default:
		head = r.Err.Error()
	}
	tail := strings.TrimSpace(r.Stderr)
	if tail == "" {
		return head
	}
	tail, _ = redact.Text(tail)
	if len(tail) > MaxReasonStderrTail {
		cut := len(tail) - MaxReasonStderrTail
		for cut < len(tail) && !utf8.RuneStart(tail[cut]) {
			cut++
		}
		tail = "…" + tail[cut:]
	}
	return head + ": " + tail
}

type Driver struct {
	cfg Config
}

func New(cfg Config) *Driver {
	if strings.TrimSpace(cfg.Bin) == "" {
		cfg.Bin = DefaultBin
	}
	if cfg.MaxStdout <= 0 {
		cfg.MaxStdout = DefaultMaxStdout
	}
	if cfg.StderrTail <= 0 {
		cfg.StderrTail = DefaultStderrTail
	}
	if cfg.WaitDelay <= 0 {
		cfg.WaitDelay = DefaultWaitDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Driver{cfg: cfg}
}

func (d *Driver) Bin() string { return d.cfg.Bin }

// Args builds the agent command line. The prompt is always last.
func (d *Driver) Args(inv Invocation) []string {
	args := []string{
		"run",
		"--format", "json",
		"--agent", inv.Run.Agent,
		"--model", inv.Run.Model,
		"--title", inv.Title,
	}
	attach := inv.Attach
	if attach == "" {
		attach = inv.Run.Attach
	}
	if attach != "" {
		args = append(args, "--attach", attach)
	}
	return append(args, inv.Prompt)
}

// Execute runs the agent to completion or until inv.Timeout, whichever comes
// first. It never returns a Go error: every failure is a Result with Err set.
func (d *Driver) Execute(ctx context.Context, inv Invocation) Result {
	runCtx := ctx
	if inv.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, inv.Timeout)
		defer cancel()
	}

	env, overrides, err := d.environ(inv)
	if err != nil {
		return Result{ExitCode: -1, Err: WrapError(ErrorStartup, "prepare agent environment", err)}
	}

	cmd := exec.CommandContext(runCtx, d.cfg.Bin, d.Args(inv)...)
	cmd.Dir = inv.Workdir
	cmd.Env = env
	cmd.WaitDelay = d.cfg.WaitDelay
	configureProcess(cmd)

	stdout := &boundedCapture{max: d.cfg.MaxStdout}
	stderr := newTailBuffer(d.cfg.StderrTail)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	d.cfg.Logger.Debug("agent exec",
		"bin", d.cfg.Bin,
		"run", inv.Run.Name,
		"title", inv.Title,
		"dir", inv.Workdir,
		"env", redact.Env(overrides),
	)

	start := time.Now()
	waitErr := cmd.Run()
	dur := time.Since(start)

	out, total, truncated := stdout.snapshot()
	res := Result{
		ExitCode:        0,
		Stdout:          out,
		StdoutBytes:     total,
		StdoutTruncated: truncated,
		Stderr:          stderr.String(),
		Duration:        dur,
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		res.TimedOut = true
		res.ExitCode = -1
		res.Err = NewError(ErrorTimeout, fmt.Sprintf("agent exceeded timeout %s", inv.Timeout))
	case ctx.Err() != nil:
		res.ExitCode = -1
		res.Err = WrapError(ErrorCanceled, "agent run canceled", ctx.Err())
	case waitErr != nil:
		var ee *exec.ExitError
		switch {
		case errors.As(waitErr, &ee):
			res.ExitCode = ee.ExitCode()
			res.Err = NewError(ErrorExit, fmt.Sprintf("agent exited with code %d", res.ExitCode))
		case errors.Is(waitErr, exec.ErrWaitDelay) && res.ExitCode == 0:
			// Exited cleanly; a grandchild held the pipes open past WaitDelay.
		case cmd.ProcessState == nil:
			res.ExitCode = -1
			res.Err = WrapError(ErrorStartup, "start agent "+d.cfg.Bin, waitErr)
		default:
			res.Err = WrapError(ErrorTransport, "wait for agent", waitErr)
		}
	case res.ExitCode != 0:
		res.Err = NewError(ErrorExit, fmt.Sprintf("agent exited with code %d", res.ExitCode))
	}
	return res
}

// environ returns the full child environment plus the overrides applied on
// top of the host environment (for logging).
func (d *Driver) environ(inv Invocation) ([]string, map[string]string, error) {
	overrides := map[string]string{}
	for k, v := range d.cfg.Env {
		overrides[k] = v
	}
	if inv.ScratchDir != "" && (d.cfg.IsolateState || d.cfg.IsolateConfig) {
		dirs := map[string]string{}
		if d.cfg.IsolateState {
			dirs["XDG_STATE_HOME"] = filepath.Join(inv.ScratchDir, "state")
			dirs["XDG_CACHE_HOME"] = filepath.Join(inv.ScratchDir, "cache")
			dirs["XDG_DATA_HOME"] = filepath.Join(inv.ScratchDir, "data")
		}
		if d.cfg.IsolateConfig {
			dirs["XDG_CONFIG_HOME"] = filepath.Join(inv.ScratchDir, "config")
		}
		for k, dir := range dirs {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, err
			}
			overrides[k] = dir
		}
	}
	if d.cfg.ConfigFile != "" {
		overrides["OPENCODE_CONFIG"] = d.cfg.ConfigFile
	}
	return mergeEnv(os.Environ(), overrides), overrides, nil
}

func mergeEnv(base []string, overrides map[string]string) []string {
	out := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		k, _, _ := strings.Cut(kv, "=")
		if _, ok := overrides[k]; ok {
			continue
		}
		out = append(out, kv)
	}
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+overrides[k])
	}
	return out
}
