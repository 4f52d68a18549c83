package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeOwner(t *testing.T, lockDir string, pid int) {
	t.Helper()
	b, err := json.Marshal(lockOwnerV1{V: 1, PID: pid, StartedAt: time.Now().UTC().Format(time.RFC3339Nano)})
	if err != nil {
		t.Fatalf("marshal owner: %v", err)
	}
	if err := os.WriteFile(filepath.Join(lockDir, "owner.json"), b, 0o644); err != nil {
		t.Fatalf("write owner: %v", err)
	}
}

func TestShouldBreakStaleLock_WithoutOwnerMetadata(t *testing.T) {
	lockDir := filepath.Join(t.TempDir(), "x.lock")
	if err := os.MkdirAll(lockDir, 0o755); err != nil {
		t.Fatalf("mkdir lock dir: %v", err)
	}
	if shouldBreakStaleLock(lockDir, 2*time.Minute, time.Now()) {
		t.Fatalf("fresh lock without owner must not be broken")
	}
	old := time.Now().Add(-3 * time.Minute)
	if err := os.Chtimes(lockDir, old, old); err != nil {
		t.Fatalf("chtimes lock dir: %v", err)
	}
	if !shouldBreakStaleLock(lockDir, 2*time.Minute, time.Now()) {
		t.Fatalf("expected stale lock without owner metadata to be breakable")
	}
}

func TestShouldBreakStaleLock_WithAliveOwner(t *testing.T) {
	lockDir := filepath.Join(t.TempDir(), "x.lock")
	if err := os.MkdirAll(lockDir, 0o755); err != nil {
		t.Fatalf("mkdir lock dir: %v", err)
	}
	writeOwner(t, lockDir, os.Getpid())
	old := time.Now().Add(-3 * time.Minute)
	if err := os.Chtimes(lockDir, old, old); err != nil {
		t.Fatalf("chtimes lock dir: %v", err)
	}
	if shouldBreakStaleLock(lockDir, 2*time.Minute, time.Now()) {
		t.Fatalf("expected lock with alive owner to not be breakable")
	}
}

func TestAcquireDirLock_TimeoutReturnsTypedError(t *testing.T) {
	lockDir := filepath.Join(t.TempDir(), "x.lock")
	if err := os.MkdirAll(lockDir, 0o755); err != nil {
		t.Fatalf("mkdir lock dir: %v", err)
	}
	writeOwner(t, lockDir, os.Getpid())
	_, err := AcquireDirLock(lockDir, 20*time.Millisecond)
	if err == nil {
		t.Fatalf("expected lock timeout error")
	}
	if !IsLockTimeout(err) {
		t.Fatalf("expected typed lock timeout error, got %v", err)
	}
	if pid, alive := LockHolder(lockDir); pid != os.Getpid() || !alive {
		t.Fatalf("unexpected holder pid=%d alive=%v", pid, alive)
	}
}

func TestAcquireDirLock_ReleaseRemovesLock(t *testing.T) {
	lockDir := filepath.Join(t.TempDir(), "out", ".skilleval.lock")
	release, err := AcquireDirLock(lockDir, time.Second)
	if err != nil {
		t.Fatalf("AcquireDirLock: %v", err)
	}
	if _, err := os.Stat(filepath.Join(lockDir, "owner.json")); err != nil {
		t.Fatalf("owner metadata missing while held: %v", err)
	}
	if err := release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := os.Stat(lockDir); !os.IsNotExist(err) {
		t.Fatalf("expected lock dir removed, stat err=%v", err)
	}
}
