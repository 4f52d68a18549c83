package agentconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/marcohefti/skilleval/internal/store"
)

const StateVersion = 1

// Entry is one managed leaf. Previous is only meaningful for overrides.
type Entry struct {
	Path     []string `json:"path"`
	Repo     any      `json:"repo"`
	Previous any      `json:"previous,omitempty"`
}

type State struct {
	Version int         `json:"version"`
	Config  ConfigState `json:"config"`
}

type ConfigState struct {
	Path      string  `json:"path"`
	HadConfig bool    `json:"had_config"`
	Additions []Entry `json:"additions"`
	Overrides []Entry `json:"overrides"`
}

type InstallOptions struct {
	// Overlay is the repo-managed config merged into Target.
	Overlay string
	Target  string
	State   string
	// Opencode optionally names an opencode config whose permission.skill
	// entries are folded into the overlay before merging.
	Opencode string
}

type InstallResult struct {
	Target    string `json:"target"`
	State     string `json:"state"`
	HadConfig bool   `json:"hadConfig"`
	Added     int    `json:"added"`
	Overrode  int    `json:"overrode"`
}

type RemoveResult struct {
	Target string `json:"target"`
	// Skipped counts managed entries left alone because the user changed
	// them after install.
	Skipped int `json:"skipped"`
	// Deleted is true when the target was created by install and nothing
	// else remained in it.
	Deleted bool `json:"deleted"`
	// Note explains a no-op removal.
	Note string `json:"note,omitempty"`
}

func Install(opts InstallOptions) (InstallResult, error) {
	if strings.TrimSpace(opts.Overlay) == "" || strings.TrimSpace(opts.Target) == "" || strings.TrimSpace(opts.State) == "" {
		return InstallResult{}, fmt.Errorf("overlay, target and state paths are required")
	}
	overlay, err := load(opts.Overlay)
	if err != nil {
		return InstallResult{}, err
	}
	if err := applySkillPermissions(overlay, opts.Opencode); err != nil {
		return InstallResult{}, err
	}

	existing := map[string]any{}
	hadConfig := false
	if _, err := os.Stat(opts.Target); err == nil {
		hadConfig = true
		if existing, err = load(opts.Target); err != nil {
			return InstallResult{}, err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return InstallResult{}, err
	}

	var additions, overrides []Entry
	for _, k := range sortedKeys(overlay) {
		if ev, ok := existing[k]; ok {
			collectChanges([]string{k}, overlay[k], ev, &additions, &overrides)
		} else {
			collectAdditions([]string{k}, overlay[k], &additions)
		}
	}
	if additions == nil {
		additions = []Entry{}
	}
	if overrides == nil {
		overrides = []Entry{}
	}

	if err := save(opts.Target, mergeMaps(existing, overlay)); err != nil {
		return InstallResult{}, err
	}
	state := State{
		Version: StateVersion,
		Config: ConfigState{
			Path:      opts.Target,
			HadConfig: hadConfig,
			Additions: additions,
			Overrides: overrides,
		},
	}
	if err := store.WriteJSONAtomic(opts.State, state); err != nil {
		return InstallResult{}, err
	}
	return InstallResult{
		Target:    opts.Target,
		State:     opts.State,
		HadConfig: hadConfig,
		Added:     len(additions),
		Overrode:  len(overrides),
	}, nil
}

func Remove(target, statePath string) (RemoveResult, error) {
	res := RemoveResult{Target: target}
	raw, err := os.ReadFile(statePath)
	if errors.Is(err, os.ErrNotExist) {
		res.Note = "state file not found"
		return res, nil
	}
	if err != nil {
		return res, err
	}
	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		return res, fmt.Errorf("%s: %w", statePath, err)
	}
	if state.Version != StateVersion {
		return res, fmt.Errorf("%s: unsupported state version=%d", statePath, state.Version)
	}

	if _, err := os.Stat(target); errors.Is(err, os.ErrNotExist) {
		_ = os.Remove(statePath)
		res.Note = "config file missing"
		return res, nil
	}
	doc, err := load(target)
	if err != nil {
		return res, err
	}

	for _, e := range state.Config.Overrides {
		if len(e.Path) == 0 {
			continue
		}
		cur, ok := pathGet(doc, e.Path)
		if !ok {
			continue
		}
		if reflect.DeepEqual(cur, e.Repo) {
			pathSet(doc, e.Path, e.Previous)
		} else {
			res.Skipped++
		}
	}
	for _, e := range state.Config.Additions {
		if len(e.Path) == 0 {
			continue
		}
		cur, ok := pathGet(doc, e.Path)
		if !ok {
			continue
		}
		if reflect.DeepEqual(cur, e.Repo) {
			pathDelete(doc, e.Path)
		} else {
			res.Skipped++
		}
	}

	if len(doc) == 0 && !state.Config.HadConfig {
		if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
			return res, err
		}
		res.Deleted = true
	} else if err := save(target, doc); err != nil {
		return res, err
	}
	if err := os.Remove(statePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return res, err
	}
	return res, nil
}

// applySkillPermissions copies permission.skill from an opencode config into
// the overlay so the target agent is allowed to load the managed skills.
func applySkillPermissions(overlay map[string]any, opencodePath string) error {
	if strings.TrimSpace(opencodePath) == "" {
		return nil
	}
	if _, err := os.Stat(opencodePath); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	cfg, err := load(opencodePath)
	if err != nil {
		return err
	}
	perms, ok := pathGet(cfg, []string{"permission", "skill"})
	if !ok {
		return nil
	}
	permMap, ok := perms.(map[string]any)
	if !ok || len(permMap) == 0 {
		return nil
	}
	permission, ok := overlay["permission"].(map[string]any)
	if !ok {
		permission = map[string]any{}
		overlay["permission"] = permission
	}
	skill, ok := permission["skill"].(map[string]any)
	if !ok {
		skill = map[string]any{}
		permission["skill"] = skill
	}
	for k, v := range permMap {
		skill[k] = v
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
