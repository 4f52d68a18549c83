package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ResetPolicy decides what happens to a shared server between cases.
type ResetPolicy string

const (
	// PolicyReset restores the server workspace and clears session state,
	// keeping the process alive.
	PolicyReset ResetPolicy = "reset"
	// PolicyRestart resets and then relaunches the server process.
	PolicyRestart ResetPolicy = "restart"
	// PolicyNone does nothing between cases. State leaks from one case into
	// the next, so verdicts can depend on execution order.
	PolicyNone ResetPolicy = "none"
)

func ParseResetPolicy(s string) (ResetPolicy, error) {
	switch ResetPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyReset:
		return PolicyReset, nil
	case PolicyRestart:
		return PolicyRestart, nil
	case PolicyNone:
		return PolicyNone, nil
	default:
		return "", fmt.Errorf("invalid reset policy %q (expected reset|restart|none)", s)
	}
}

// Deterministic reports whether verdicts under p are independent of case order.
func (p ResetPolicy) Deterministic() bool {
	return p != PolicyNone
}

const (
	DefaultHealthTimeout   = 15 * time.Second
	DefaultHealthInterval  = 250 * time.Millisecond
	DefaultShutdownTimeout = 5 * time.Second
)

type ServerConfig struct {
	Host string
	Port int

	// HealthPath is polled until it answers with a non-5xx status.
	HealthPath      string
	HealthTimeout   time.Duration
	HealthInterval  time.Duration
	ShutdownTimeout time.Duration
}

// Server is a long-lived agent process serving attach-mode runs. It is owned
// by a single run and mutated only through Restart and Stop.
type Server struct {
	drv     *Driver
	cfg     ServerConfig
	workdir string
	scratch string
	log     *slog.Logger
	client  *http.Client

	mu   sync.Mutex
	proc *serverProc
}

type serverProc struct {
	cmd    *exec.Cmd
	done   chan struct{}
	err    error // valid after done is closed
	stderr *tailBuffer
}

func (d *Driver) NewServer(cfg ServerConfig, workdir, scratch string) *Server {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = "/"
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = DefaultHealthTimeout
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = DefaultHealthInterval
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	return &Server{
		drv:     d,
		cfg:     cfg,
		workdir: workdir,
		scratch: scratch,
		log:     d.cfg.Logger,
		client:  &http.Client{Timeout: 2 * time.Second},
	}
}

func (s *Server) URL() string {
	return "http://" + net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

// Start launches the server and blocks until it is healthy.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(ctx)
}

func (s *Server) startLocked(ctx context.Context) error {
	if s.proc != nil {
		return NewError(ErrorStartup, "server already running")
	}
	env, _, err := s.drv.environ(Invocation{ScratchDir: s.scratch})
	if err != nil {
		return WrapError(ErrorStartup, "prepare server environment", err)
	}
	cmd := exec.CommandContext(context.Background(), s.drv.cfg.Bin, "serve", "--hostname", s.cfg.Host, "--port", strconv.Itoa(s.cfg.Port))
	cmd.Dir = s.workdir
	cmd.Env = env
	configureProcess(cmd)
	stderr := newTailBuffer(s.drv.cfg.StderrTail)
	cmd.Stdout = stderr
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return WrapError(ErrorStartup, "start agent server", err)
	}
	p := &serverProc{cmd: cmd, done: make(chan struct{}), stderr: stderr}
	s.proc = p
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()

	s.log.Info("agent server started", "url", s.URL(), "pid", cmd.Process.Pid, "dir", s.workdir)
	if err := s.waitHealthy(ctx, p); err != nil {
		_ = s.stopLocked()
		return err
	}
	return nil
}

func (s *Server) waitHealthy(ctx context.Context, p *serverProc) error {
	deadline := time.NewTimer(s.cfg.HealthTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(s.cfg.HealthInterval)
	defer tick.Stop()

	url := s.URL() + s.cfg.HealthPath
	for {
		if s.healthy(ctx, url) {
			return nil
		}
		select {
		case <-ctx.Done():
			return WrapError(ErrorCanceled, "waiting for server health", ctx.Err())
		case <-p.done:
			return WrapError(ErrorHealth, "agent server exited before becoming healthy: "+strings.TrimSpace(p.stderr.String()), p.err)
		case <-deadline.C:
			return NewError(ErrorHealth, fmt.Sprintf("agent server not healthy at %s after %s", url, s.cfg.HealthTimeout))
		case <-tick.C:
		}
	}
}

// Reset returns the server to a clean state between cases. restore puts the
// workspace back; the isolated state, cache and data homes are emptied.
// PolicyRestart, or a dead process, also replaces the process, which is
// stopped before anything is cleared. The server must answer its health
// check afterwards.
func (s *Server) Reset(ctx context.Context, policy ResetPolicy, restore func() error) error {
	if policy == PolicyNone {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	replace := policy == PolicyRestart || !s.aliveLocked()
	if replace {
		if err := s.stopLocked(); err != nil {
			s.log.Warn("agent server stop during reset", "err", err)
		}
	}
	if restore != nil {
		if err := restore(); err != nil {
			return WrapError(ErrorStartup, "restore server workspace", err)
		}
	}
	if err := s.clearStateHomes(); err != nil {
		return WrapError(ErrorStartup, "clear isolated agent state", err)
	}
	if replace {
		return s.startLocked(ctx)
	}
	return s.waitHealthy(ctx, s.proc)
}

// clearStateHomes empties the isolated XDG state, cache and data homes. The
// config home is left alone: it carries the run's configuration, not session
// state.
func (s *Server) clearStateHomes() error {
	if s.scratch == "" || !s.drv.cfg.IsolateState {
		return nil
	}
	for _, name := range []string{"state", "cache", "data"} {
		dir := filepath.Join(s.scratch, name)
		if err := os.RemoveAll(dir); err != nil {
			return err
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) healthy(ctx context.Context, url string) bool {
	return probe(ctx, s.client, url)
}

// Probe reports whether an HTTP endpoint answers with a non-5xx status.
func Probe(ctx context.Context, url string) bool {
	return probe(ctx, &http.Client{Timeout: 2 * time.Second}, url)
}

func probe(ctx context.Context, client *http.Client, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode < 500
}

// Restart stops the running process and starts a fresh one, re-polling health.
func (s *Server) Restart(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.stopLocked(); err != nil {
		s.log.Warn("agent server stop during restart", "err", err)
	}
	return s.startLocked(ctx)
}

// Alive reports whether the server process is still running.
func (s *Server) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aliveLocked()
}

func (s *Server) aliveLocked() bool {
	p := s.proc
	if p == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Stop terminates the server, escalating to a kill after ShutdownTimeout.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

func (s *Server) stopLocked() error {
	p := s.proc
	if p == nil {
		return nil
	}
	s.proc = nil

	select {
	case <-p.done:
		return nil
	default:
	}

	_ = terminateProcess(p.cmd)
	timer := time.NewTimer(s.cfg.ShutdownTimeout)
	defer timer.Stop()
	select {
	case <-p.done:
		return nil
	case <-timer.C:
		_ = killProcess(p.cmd)
		select {
		case <-p.done:
			return NewError(ErrorTimeout, "forced agent server teardown on shutdown timeout")
		case <-time.After(750 * time.Millisecond):
			return NewError(ErrorTimeout, "agent server did not exit after forced teardown")
		}
	}
}

// Stderr returns the tail of the server's combined output.
func (s *Server) Stderr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return ""
	}
	return s.proc.stderr.String()
}

// FreePort asks the kernel for an unused TCP port on host.
func FreePort(host string) (int, error) {
	if host == "" {
		host = "127.0.0.1"
	}
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer func() { _ = l.Close() }()
	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		return 0, errors.New("unexpected listener address")
	}
	return addr.Port, nil
}
