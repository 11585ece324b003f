package lockfile

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAcquireAndReleaseLock(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}

	lockPath := filepath.Join(dir, LockFileName)
	if _, err := os.Stat(lockPath); err != nil {
		t.Errorf("expected lock file at %s: %v", lockPath, err)
	}

	if err := lock.Release(); err != nil {
		t.Errorf("Release failed: %v", err)
	}
	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Errorf("expected lock file removed after release, stat err=%v", err)
	}

	// Release is idempotent.
	if err := lock.Release(); err != nil {
		t.Errorf("second Release failed: %v", err)
	}
}

func TestAcquireLockConflict(t *testing.T) {
	dir := t.TempDir()

	first, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("first AcquireLock failed: %v", err)
	}
	defer first.Release()

	if _, err := AcquireLock(dir); err == nil {
		t.Fatal("expected second AcquireLock to fail while lock is held")
	}
}

func TestExtractPIDFromLockInfo(t *testing.T) {
	if pid := extractPIDFromLockInfo("pid=4242\n"); pid != 4242 {
		t.Errorf("expected 4242, got %d", pid)
	}
	if pid := extractPIDFromLockInfo("garbage"); pid != 0 {
		t.Errorf("expected 0 for missing pid, got %d", pid)
	}
}
