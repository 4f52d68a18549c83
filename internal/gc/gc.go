// Package gc prunes invocation temp roots (workspaces, pristine snapshots and
// scratch homes) that a crashed or killed harness left behind.
package gc

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Prefix starts the name of every invocation temp root.
const Prefix = "skilleval-"

type Leftover struct {
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	ModifiedAt time.Time `json:"modifiedAt"`
	Bytes      int64     `json:"bytes"`
}

type Result struct {
	OK          bool       `json:"ok"`
	TempRoot    string     `json:"tempRoot"`
	DryRun      bool       `json:"dryRun"`
	Deleted     []Leftover `json:"deleted,omitempty"`
	Kept        []Leftover `json:"kept,omitempty"`
	Errors      []string   `json:"errors,omitempty"`
	TotalBefore int64      `json:"totalBeforeBytes"`
	TotalAfter  int64      `json:"totalAfterBytes"`
}

type Opts struct {
	// TempRoot is scanned for leftovers; empty uses os.TempDir().
	TempRoot string
	Now      time.Time
	// MaxAge keeps leftovers modified more recently; they may belong to a
	// live invocation.
	MaxAge        time.Duration
	MaxTotalBytes int64
	DryRun        bool
}

func Run(opts Opts) (Result, error) {
	root := opts.TempRoot
	if root == "" {
		root = os.TempDir()
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{OK: true, TempRoot: root, DryRun: opts.DryRun}, nil
		}
		return Result{}, err
	}

	var found []Leftover
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), Prefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		dir := filepath.Join(root, e.Name())
		size, _ := dirSize(dir)
		found = append(found, Leftover{Name: e.Name(), Path: dir, ModifiedAt: info.ModTime(), Bytes: size})
	}

	sort.Slice(found, func(i, j int) bool {
		if found[i].ModifiedAt.Equal(found[j].ModifiedAt) {
			return found[i].Name < found[j].Name
		}
		return found[i].ModifiedAt.Before(found[j].ModifiedAt)
	})

	var total int64
	for _, l := range found {
		total += l.Bytes
	}
	res := Result{OK: true, TempRoot: root, DryRun: opts.DryRun, TotalBefore: total, TotalAfter: total}

	cutoff := now.Add(-opts.MaxAge)
	eligible := func(l Leftover) bool { return l.ModifiedAt.Before(cutoff) }

	shouldDelete := make(map[string]bool)
	if opts.MaxTotalBytes <= 0 {
		for _, l := range found {
			if eligible(l) {
				shouldDelete[l.Name] = true
			}
		}
	} else {
		// Size-based: delete the oldest eligible leftovers until under the cap.
		for _, l := range found {
			if total <= opts.MaxTotalBytes {
				break
			}
			if !eligible(l) {
				continue
			}
			shouldDelete[l.Name] = true
			total -= l.Bytes
		}
	}

	for _, l := range found {
		if !shouldDelete[l.Name] {
			res.Kept = append(res.Kept, l)
			continue
		}
		if !opts.DryRun {
			if err := os.RemoveAll(l.Path); err != nil {
				res.OK = false
				res.Errors = append(res.Errors, err.Error())
				res.Kept = append(res.Kept, l)
				continue
			}
		}
		res.Deleted = append(res.Deleted, l)
		res.TotalAfter -= l.Bytes
	}
	return res, nil
}

func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}
