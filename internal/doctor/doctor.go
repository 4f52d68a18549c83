// Package doctor checks that the local environment can run an evaluation:
// the output directory is writable, the project config parses, the agent
// binary resolves and no other invocation holds the output lock.
package doctor

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/marcohefti/skilleval/internal/config"
	"github.com/marcohefti/skilleval/internal/harness"
	"github.com/marcohefti/skilleval/internal/store"
)

type Check struct {
	ID      string `json:"id"`
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

type Result struct {
	OK       bool    `json:"ok"`
	Out      string  `json:"out"`
	AgentBin string  `json:"agentBin"`
	Checks   []Check `json:"checks"`
}

func (r *Result) add(c Check) {
	if !c.OK {
		r.OK = false
	}
	r.Checks = append(r.Checks, c)
}

// Run resolves configuration the same way "run" does and reports each check.
// A config that fails to load is returned as an error.
func Run(projectPath string, flags config.Flags) (Result, error) {
	m, err := config.LoadMerged(projectPath, flags)
	if err != nil {
		return Result{}, err
	}
	res := Result{OK: true, Out: m.Out, AgentBin: m.AgentBin}

	if projectPath == "" {
		projectPath = config.DefaultProjectConfigPath
	}
	if _, err := os.Stat(projectPath); err == nil {
		res.add(Check{ID: "project_config", OK: true, Message: projectPath})
	} else {
		res.add(Check{ID: "project_config", OK: true, Message: "missing (ok)"})
	}

	// Write access: create and remove a temp file under the output dir.
	if err := os.MkdirAll(m.Out, 0o755); err != nil {
		res.add(Check{ID: "write_access", Message: err.Error()})
	} else {
		tmp := filepath.Join(m.Out, ".doctor.tmp")
		if err := os.WriteFile(tmp, []byte("ok\n"), 0o644); err != nil {
			res.add(Check{ID: "write_access", Message: err.Error()})
		} else {
			_ = os.Remove(tmp)
			res.add(Check{ID: "write_access", OK: true})
		}
	}

	if path, err := exec.LookPath(m.AgentBin); err != nil {
		res.add(Check{ID: "agent_bin", Message: fmt.Sprintf("%s not found on PATH", m.AgentBin)})
	} else {
		res.add(Check{ID: "agent_bin", OK: true, Message: path})
	}

	lockDir := filepath.Join(m.Out, harness.LockName)
	if _, err := os.Stat(lockDir); err != nil {
		res.add(Check{ID: "out_lock", OK: true})
	} else if pid, alive := store.LockHolder(lockDir); alive {
		res.add(Check{ID: "out_lock", Message: fmt.Sprintf("held by running pid %d", pid)})
	} else {
		res.add(Check{ID: "out_lock", OK: true, Message: "stale lock (broken on next run)"})
	}

	if _, err := os.Stat(filepath.Join(m.Out, harness.OverlayDir)); err == nil {
		res.add(Check{ID: "agent_config_overlay", OK: true, Message: "leftover managed overlay (replaced on next run)"})
	}
	return res, nil
}
