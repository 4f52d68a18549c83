// Package agentstub is a scripted stand-in for the agent CLI. Test binaries
// re-exec themselves as the agent when EnvEnable is set, which lets driver and
// harness tests exercise real subprocess, timeout and server paths without the
// real agent installed.
package agentstub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const (
	EnvEnable = "SKILLEVAL_AGENT_STUB"

	// EnvSkill names the skill the stub loads (default "alpha").
	EnvSkill = "STUB_SKILL"
	// EnvExit makes the stub fail with the given exit code.
	EnvExit = "STUB_EXIT"
	// EnvSleep delays the response by a Go duration.
	EnvSleep = "STUB_SLEEP"
	// EnvText is appended as a final text record.
	EnvText = "STUB_TEXT"
	// EnvWrite creates the named file (relative to the workdir) with content.
	EnvWrite = "STUB_WRITE"
	// EnvStateful makes behavior depend on leftover session state: the
	// first run loads "alpha" and leaves a session file in the workdir and,
	// when set, under XDG_STATE_HOME; later runs that still see either
	// load "beta".
	EnvStateful = "STUB_STATEFUL"
	// EnvServeExit makes "serve" crash before listening.
	EnvServeExit = "STUB_SERVE_EXIT"
)

const sessionFile = ".opencode/sessions/stub-session.json"

func Enabled() bool {
	return os.Getenv(EnvEnable) == "1"
}

// Main dispatches "run" and "serve" and returns the process exit code.
func Main(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "stub: missing command")
		return 2
	}
	switch args[0] {
	case "run":
		return runCmd(args[1:], stdout, stderr)
	case "serve":
		return serveCmd(args[1:], stderr)
	default:
		fmt.Fprintf(stderr, "stub: unknown command %q\n", args[0])
		return 2
	}
}

type request struct {
	Prompt string `json:"prompt"`
	Agent  string `json:"agent"`
	Model  string `json:"model"`
	Title  string `json:"title"`
}

func runCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	format := fs.String("format", "", "")
	agent := fs.String("agent", "", "")
	model := fs.String("model", "", "")
	title := fs.String("title", "", "")
	attach := fs.String("attach", "", "")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *format != "json" {
		fmt.Fprintln(stderr, "stub: --format json required")
		return 2
	}
	req := request{Prompt: strings.Join(fs.Args(), " "), Agent: *agent, Model: *model, Title: *title}

	if *attach != "" {
		return attachRun(*attach, req, stdout, stderr)
	}
	wd, err := os.Getwd()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	code, err := respond(wd, req, stdout)
	if err != nil {
		fmt.Fprintln(stderr, err)
	}
	return code
}

func attachRun(base string, req request, stdout, stderr io.Writer) int {
	body, _ := json.Marshal(req)
	resp, err := http.Post(strings.TrimRight(base, "/")+"/stub/run", "application/json", bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(stderr, "stub: attach failed: %v\n", err)
		return 1
	}
	defer func() { _ = resp.Body.Close() }()
	if _, err := io.Copy(stdout, resp.Body); err != nil {
		fmt.Fprintf(stderr, "stub: read response: %v\n", err)
		return 1
	}
	if code, err := strconv.Atoi(resp.Header.Get("X-Stub-Exit")); err == nil && code != 0 {
		fmt.Fprintf(stderr, "stub: server reported failure %d\n", code)
		return code
	}
	return 0
}

// respond emits the scripted event stream for req, mutating dir as the real
// agent would.
func respond(dir string, req request, w io.Writer) (int, error) {
	if d, err := time.ParseDuration(os.Getenv(EnvSleep)); err == nil && d > 0 {
		time.Sleep(d)
	}
	if code, err := strconv.Atoi(os.Getenv(EnvExit)); err == nil && code != 0 {
		return code, fmt.Errorf("stub: scripted failure for %q", req.Title)
	}

	skill := os.Getenv(EnvSkill)
	if skill == "" {
		skill = "alpha"
	}
	if os.Getenv(EnvStateful) == "1" {
		markers := []string{filepath.Join(dir, filepath.FromSlash(sessionFile))}
		if home := os.Getenv("XDG_STATE_HOME"); home != "" {
			markers = append(markers, filepath.Join(home, "opencode", "stub-session.json"))
		}
		for _, marker := range markers {
			if _, err := os.Stat(marker); err == nil {
				skill = "beta"
			}
		}
		for _, marker := range markers {
			if err := os.MkdirAll(filepath.Dir(marker), 0o755); err != nil {
				return 1, err
			}
			if err := os.WriteFile(marker, []byte(`{"title":"`+req.Title+`"}`), 0o644); err != nil {
				return 1, err
			}
		}
	}
	if spec := os.Getenv(EnvWrite); spec != "" {
		name, content, _ := strings.Cut(spec, "=")
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			return 1, err
		}
	}

	fmt.Fprintln(w, "stub diagnostics: starting")
	emit(w, map[string]any{"type": "text", "part": map[string]any{"type": "text", "text": "Working on: " + req.Prompt}})
	if skill != "-" {
		emit(w, map[string]any{"type": "tool_use", "part": map[string]any{"type": "tool", "tool": "skill", "state": map[string]any{"status": "completed", "input": map[string]any{"name": skill}}}})
	}
	emit(w, map[string]any{"type": "tool_use", "part": map[string]any{"type": "tool", "tool": "bash", "state": map[string]any{"status": "completed", "input": map[string]any{"command": "echo " + skill}}}})
	if text := os.Getenv(EnvText); text != "" {
		emit(w, map[string]any{"type": "text", "part": map[string]any{"type": "text", "text": text}})
	}
	return 0, nil
}

func emit(w io.Writer, v any) {
	b, _ := json.Marshal(v)
	_, _ = w.Write(append(b, '\n'))
}

func serveCmd(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	host := fs.String("hostname", "127.0.0.1", "")
	port := fs.Int("port", 0, "")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if code, err := strconv.Atoi(os.Getenv(EnvServeExit)); err == nil && code != 0 {
		fmt.Fprintln(stderr, "stub: scripted server crash")
		return code
	}
	wd, err := os.Getwd()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/stub/run", func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var buf bytes.Buffer
		code, err := respond(wd, req, &buf)
		if err != nil {
			fmt.Fprintln(stderr, err)
		}
		w.Header().Set("X-Stub-Exit", strconv.Itoa(code))
		_, _ = w.Write(buf.Bytes())
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"ok":true}`)
	})

	ln, err := net.Listen("tcp", net.JoinHostPort(*host, strconv.Itoa(*port)))
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}
