package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultOut           = ".skilleval"
	DefaultAgentBin      = "opencode"
	DefaultTimeout       = 300 * time.Second
	DefaultSkillTool     = "skill"
	DefaultServerHost    = "127.0.0.1"
	DefaultServerPort    = 4096
	DefaultHealthPath    = "/"
	DefaultHealthTimeout = 15 * time.Second
	DefaultResetPolicy   = "reset"
	DefaultLogLevel      = "info"
)

func DefaultShellTools() []string     { return []string{"bash", "shell"} }
func DefaultReadOnlyAgents() []string { return []string{"plan"} }

// Flags carries values given on the command line. Zero values mean the flag
// was not set.
type Flags struct {
	Out            string
	AgentBin       string
	Timeout        time.Duration
	SkillTool      string
	ShellTools     []string
	ReadOnlyAgents []string
	LogLevel       string
	ServerHost     string
	ServerPort     int
	HealthPath     string
	HealthTimeout  time.Duration
	ResetPolicy    string
}

type Merged struct {
	Out            string
	AgentBin       string
	Timeout        time.Duration
	SkillTool      string
	ShellTools     []string
	ReadOnlyAgents []string
	LogLevel       string
	ServerHost     string
	ServerPort     int
	HealthPath     string
	HealthTimeout  time.Duration
	ResetPolicy    string

	// Sources maps each setting to where its value came from, for operator
	// UX/debugging: "default", "flag", "env:NAME", or the project file path.
	Sources map[string]string
}

// LoadMerged resolves settings with precedence:
// 1) CLI flags
// 2) env vars (SKILLEVAL_*)
// 3) project config (skilleval.yaml)
// 4) defaults
func LoadMerged(projectPath string, flags Flags) (Merged, error) {
	if strings.TrimSpace(projectPath) == "" {
		projectPath = DefaultProjectConfigPath
	}
	project, hasProject, err := loadProject(projectPath)
	if err != nil {
		return Merged{}, err
	}
	fileSrc := ""
	if hasProject {
		fileSrc = projectPath
	}

	m := Merged{Sources: map[string]string{}}
	r := resolver{m: &m, fileSrc: fileSrc}

	r.str("out", &m.Out, flags.Out, "SKILLEVAL_OUT", project.Out, DefaultOut)
	r.str("agent_bin", &m.AgentBin, flags.AgentBin, "SKILLEVAL_AGENT_BIN", project.AgentBin, DefaultAgentBin)
	r.str("skill_tool", &m.SkillTool, flags.SkillTool, "SKILLEVAL_SKILL_TOOL", project.SkillTool, DefaultSkillTool)
	r.str("log_level", &m.LogLevel, strings.ToLower(flags.LogLevel), "SKILLEVAL_LOG_LEVEL", strings.ToLower(project.LogLevel), DefaultLogLevel)
	r.str("server.host", &m.ServerHost, flags.ServerHost, "SKILLEVAL_SERVER_HOST", project.Server.Host, DefaultServerHost)
	r.str("server.health_path", &m.HealthPath, flags.HealthPath, "SKILLEVAL_HEALTH_PATH", project.Server.HealthPath, DefaultHealthPath)
	r.str("server.reset_policy", &m.ResetPolicy, strings.ToLower(flags.ResetPolicy), "SKILLEVAL_RESET_POLICY", strings.ToLower(project.Server.ResetPolicy), DefaultResetPolicy)
	r.list("shell_tools", &m.ShellTools, flags.ShellTools, "SKILLEVAL_SHELL_TOOLS", project.ShellTools, DefaultShellTools())
	r.list("read_only_agents", &m.ReadOnlyAgents, flags.ReadOnlyAgents, "SKILLEVAL_READ_ONLY_AGENTS", project.ReadOnlyAgents, DefaultReadOnlyAgents())
	r.duration("timeout", &m.Timeout, flags.Timeout, "SKILLEVAL_TIMEOUT", project.Timeout, DefaultTimeout)
	r.duration("server.health_timeout", &m.HealthTimeout, flags.HealthTimeout, "SKILLEVAL_HEALTH_TIMEOUT", project.Server.HealthTimeout, DefaultHealthTimeout)
	r.port("server.port", &m.ServerPort, flags.ServerPort, "SKILLEVAL_SERVER_PORT", project.Server.Port, DefaultServerPort)
	if r.err != nil {
		return Merged{}, r.err
	}
	return m, nil
}

type resolver struct {
	m       *Merged
	fileSrc string
	err     error
}

func (r *resolver) fail(key, src string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("config %s (%s): %w", key, src, err)
	}
}

func (r *resolver) str(key string, dst *string, flag, env, file, def string) {
	switch {
	case strings.TrimSpace(flag) != "":
		*dst, r.m.Sources[key] = strings.TrimSpace(flag), "flag"
	case strings.TrimSpace(os.Getenv(env)) != "":
		*dst, r.m.Sources[key] = strings.TrimSpace(os.Getenv(env)), "env:"+env
	case strings.TrimSpace(file) != "" && r.fileSrc != "":
		*dst, r.m.Sources[key] = strings.TrimSpace(file), r.fileSrc
	default:
		*dst, r.m.Sources[key] = def, "default"
	}
}

func (r *resolver) list(key string, dst *[]string, flag []string, env string, file, def []string) {
	if v := NormalizeList(flag); len(v) > 0 {
		*dst, r.m.Sources[key] = v, "flag"
	} else if v := ParseCSV(os.Getenv(env)); len(v) > 0 {
		*dst, r.m.Sources[key] = v, "env:"+env
	} else if v := NormalizeList(file); len(v) > 0 && r.fileSrc != "" {
		*dst, r.m.Sources[key] = v, r.fileSrc
	} else {
		*dst, r.m.Sources[key] = def, "default"
	}
}

func (r *resolver) duration(key string, dst *time.Duration, flag time.Duration, env, file string, def time.Duration) {
	if flag > 0 {
		*dst, r.m.Sources[key] = flag, "flag"
		return
	}
	if raw := strings.TrimSpace(os.Getenv(env)); raw != "" {
		d, err := parseDuration(raw)
		if err != nil {
			r.fail(key, "env:"+env, err)
			return
		}
		*dst, r.m.Sources[key] = d, "env:"+env
		return
	}
	if raw := strings.TrimSpace(file); raw != "" && r.fileSrc != "" {
		d, err := parseDuration(raw)
		if err != nil {
			r.fail(key, r.fileSrc, err)
			return
		}
		*dst, r.m.Sources[key] = d, r.fileSrc
		return
	}
	*dst, r.m.Sources[key] = def, "default"
}

func (r *resolver) port(key string, dst *int, flag int, env string, file, def int) {
	if flag != 0 {
		if !validPort(flag) {
			r.fail(key, "flag", fmt.Errorf("invalid port %d", flag))
			return
		}
		*dst, r.m.Sources[key] = flag, "flag"
		return
	}
	if raw := strings.TrimSpace(os.Getenv(env)); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || !validPort(n) {
			r.fail(key, "env:"+env, fmt.Errorf("invalid port %q", raw))
			return
		}
		*dst, r.m.Sources[key] = n, "env:"+env
		return
	}
	if file > 0 && r.fileSrc != "" {
		*dst, r.m.Sources[key] = file, r.fileSrc
		return
	}
	*dst, r.m.Sources[key] = def, "default"
}

func validPort(n int) bool { return n > 0 && n <= 65535 }

// parseDuration accepts Go duration syntax or a bare number of seconds.
func parseDuration(raw string) (time.Duration, error) {
	if n, err := strconv.Atoi(raw); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("duration must be positive: %q", raw)
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive: %q", raw)
	}
	return d, nil
}
