package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// LockTimeoutError reports that another harness invocation still holds lockDir.
type LockTimeoutError struct {
	LockDir string
	Owner   int
}

func (e *LockTimeoutError) Error() string {
	if e.Owner > 0 {
		return fmt.Sprintf("timeout acquiring lock: %s (held by pid %d)", e.LockDir, e.Owner)
	}
	return fmt.Sprintf("timeout acquiring lock: %s", e.LockDir)
}

func IsLockTimeout(err error) bool {
	var target *LockTimeoutError
	return errors.As(err, &target)
}

type lockOwnerV1 struct {
	V         int    `json:"v"`
	PID       int    `json:"pid"`
	StartedAt string `json:"startedAt"`
}

func readLockOwner(lockDir string) (lockOwnerV1, bool) {
	raw, err := os.ReadFile(filepath.Join(lockDir, "owner.json"))
	if err != nil {
		return lockOwnerV1{}, false
	}
	var owner lockOwnerV1
	if err := json.Unmarshal(raw, &owner); err != nil {
		return lockOwnerV1{}, false
	}
	if owner.PID <= 0 {
		return lockOwnerV1{}, false
	}
	return owner, true
}

func shouldBreakStaleLock(lockDir string, staleAfter time.Duration, now time.Time) bool {
	info, err := os.Stat(lockDir)
	if err != nil {
		return false
	}
	if owner, ok := readLockOwner(lockDir); ok {
		return !processAlive(owner.PID)
	}
	// No owner metadata yet (or unreadable): fall back to age.
	return now.Sub(info.ModTime()) > staleAfter
}

// AcquireDirLock creates lockDir exclusively and returns its release func.
// A lock left behind by a dead process is broken instead of waited on.
func AcquireDirLock(lockDir string, wait time.Duration) (func() error, error) {
	if err := os.MkdirAll(filepath.Dir(lockDir), 0o755); err != nil {
		return nil, err
	}
	deadline := time.Now().Add(wait)
	staleAfter := 2 * time.Minute
	for {
		if err := os.Mkdir(lockDir, 0o755); err == nil {
			owner := lockOwnerV1{V: 1, PID: os.Getpid(), StartedAt: time.Now().UTC().Format(time.RFC3339Nano)}
			if b, err := json.Marshal(owner); err == nil {
				_ = os.WriteFile(filepath.Join(lockDir, "owner.json"), b, 0o644)
			}
			return func() error { return os.RemoveAll(lockDir) }, nil
		} else if !os.IsExist(err) {
			return nil, err
		}

		if shouldBreakStaleLock(lockDir, staleAfter, time.Now()) {
			_ = os.RemoveAll(lockDir)
			continue
		}

		if time.Now().After(deadline) {
			owner, _ := readLockOwner(lockDir)
			return nil, &LockTimeoutError{LockDir: lockDir, Owner: owner.PID}
		}
		if runtime.GOOS == "windows" {
			time.Sleep(35 * time.Millisecond)
		} else {
			time.Sleep(25 * time.Millisecond)
		}
	}
}

// LockHolder reports the pid recorded in lockDir, if any, and whether that
// process is still running.
func LockHolder(lockDir string) (pid int, alive bool) {
	owner, ok := readLockOwner(lockDir)
	if !ok {
		return 0, false
	}
	return owner.PID, processAlive(owner.PID)
}
