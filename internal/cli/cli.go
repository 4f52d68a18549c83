package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcohefti/skilleval/internal/logging"
)

type Runner struct {
	Version string
	Now     func() time.Time
	Stdout  io.Writer
	Stderr  io.Writer

	// Logger overrides the logger built from --log-level/--log-format.
	Logger *slog.Logger
}

type globalFlags struct {
	config    string
	logLevel  string
	logFormat string
}

// Run executes one command line and returns the process exit code: 0 on
// success, 1 on failing verdicts or I/O errors, 2 on usage errors.
func (r Runner) Run(args []string) int {
	if r.Stdout == nil {
		r.Stdout = os.Stdout
	}
	if r.Stderr == nil {
		r.Stderr = os.Stderr
	}
	if r.Now == nil {
		r.Now = time.Now
	}

	root := r.rootCmd()
	root.SetArgs(args)
	err := root.Execute()
	if err == nil {
		return 0
	}

	var status exitStatus
	if errors.As(err, &status) {
		return int(status)
	}
	var ce *CliError
	if errors.As(err, &ce) {
		fmt.Fprintf(r.Stderr, "%s: %s\n", ce.Code, ce.Message)
		return ce.Exit
	}
	// Anything cobra rejects before RunE (unknown command or flag, bad
	// arity) is a usage error.
	fmt.Fprintf(r.Stderr, "%s: %s\n", codeUsage, err.Error())
	return 2
}

func (r Runner) rootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "skilleval",
		Short:         "Evaluate how an agent routes prompts to skills",
		Long:          "skilleval runs a JSONL dataset of prompts against a matrix of agent configurations, grades each trace against the case rules and writes results.json, junit.xml and summary.json per run.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(r.Stdout)
	root.SetErr(r.Stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError(err.Error())
	})

	pf := root.PersistentFlags()
	pf.StringVar(&g.config, "config", "", "project config file (default skilleval.yaml)")
	pf.StringVar(&g.logLevel, "log-level", "", "log level: debug|info|warn|error")
	pf.StringVar(&g.logFormat, "log-format", logging.FormatAuto, "log format: auto|text|json")

	root.AddCommand(
		r.runCmd(g),
		r.validateCmd(g),
		r.schemaCmd(),
		r.configCmd(),
		r.doctorCmd(g),
		r.gcCmd(),
		r.versionCmd(),
	)
	return root
}

func (r Runner) logger(level, format string) (*slog.Logger, error) {
	if r.Logger != nil {
		return r.Logger, nil
	}
	log, err := logging.New(r.Stderr, level, format)
	if err != nil {
		return nil, usageError(err.Error())
	}
	return log, nil
}

func (r Runner) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			fmt.Fprintf(r.Stdout, "%s\n", r.Version)
			return nil
		},
	}
}

func (r Runner) writeJSON(v any) error {
	enc := json.NewEncoder(r.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return ioError("failed to encode json")
	}
	return nil
}

func requireFlag(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return usageError("--" + name + " is required")
	}
	return nil
}
