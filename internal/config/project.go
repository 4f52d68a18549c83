package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	ProjectConfigSchemaV1    = 1
	DefaultProjectConfigPath = "skilleval.yaml"
)

// ProjectConfigV1 is the per-repo settings file. Every field is optional;
// unset fields fall through to defaults.
type ProjectConfigV1 struct {
	SchemaVersion  int            `yaml:"schema_version"`
	Out            string         `yaml:"out,omitempty"`
	AgentBin       string         `yaml:"agent_bin,omitempty"`
	Timeout        string         `yaml:"timeout,omitempty"`
	SkillTool      string         `yaml:"skill_tool,omitempty"`
	ShellTools     []string       `yaml:"shell_tools,omitempty"`
	ReadOnlyAgents []string       `yaml:"read_only_agents,omitempty"`
	LogLevel       string         `yaml:"log_level,omitempty"`
	Server         ServerConfigV1 `yaml:"server,omitempty"`
}

type ServerConfigV1 struct {
	Host          string `yaml:"host,omitempty"`
	Port          int    `yaml:"port,omitempty"`
	HealthPath    string `yaml:"health_path,omitempty"`
	HealthTimeout string `yaml:"health_timeout,omitempty"`
	ResetPolicy   string `yaml:"reset_policy,omitempty"`
}

func loadProject(path string) (ProjectConfigV1, bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ProjectConfigV1{}, false, nil
		}
		return ProjectConfigV1{}, false, err
	}
	var cfg ProjectConfigV1
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return ProjectConfigV1{}, false, nil
		}
		return ProjectConfigV1{}, false, fmt.Errorf("%s: %w", path, err)
	}
	if cfg.SchemaVersion != 0 && cfg.SchemaVersion != ProjectConfigSchemaV1 {
		return ProjectConfigV1{}, false, fmt.Errorf("%s: unsupported schema_version=%d", path, cfg.SchemaVersion)
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return ProjectConfigV1{}, false, fmt.Errorf("%s: server.port out of range: %d", path, cfg.Server.Port)
	}
	cfg.Out = strings.TrimSpace(cfg.Out)
	return cfg, true, nil
}
