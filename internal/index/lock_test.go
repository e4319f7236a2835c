//go:build !windows

package index

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	ckerrors "squint/internal/errors"
)

func TestAcquireAndReleaseLock(t *testing.T) {
	stateDir := t.TempDir()

	lock, err := AcquireLock(stateDir)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}

	lockPath := filepath.Join(stateDir, lockFile)
	content, err := os.ReadFile(lockPath)
	if err != nil {
		t.Fatalf("failed to read lock file: %v", err)
	}
	pid, err := strconv.Atoi(string(content))
	if err != nil {
		t.Fatalf("lock file should contain PID: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("PID: got %d, want %d", pid, os.Getpid())
	}

	lock.Release()
	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Error("lock file should be removed after release")
	}
}

func TestAcquireLock_AlreadyLocked(t *testing.T) {
	stateDir := t.TempDir()

	lock1, err := AcquireLock(stateDir)
	if err != nil {
		t.Fatalf("first AcquireLock failed: %v", err)
	}
	defer lock1.Release()

	lock2, err := AcquireLock(stateDir)
	if err == nil {
		lock2.Release()
		t.Fatal("second AcquireLock should fail when already locked")
	}
	if !ckerrors.Is(err, ckerrors.DatabaseLocked) {
		t.Errorf("error = %v, want DATABASE_LOCKED", err)
	}
	if !ckerrors.IsRetryable(err) {
		t.Error("a held lock should be retryable")
	}
}

func TestAcquireLock_AfterRelease(t *testing.T) {
	stateDir := t.TempDir()
	lock, err := AcquireLock(stateDir)
	if err != nil {
		t.Fatal(err)
	}
	lock.Release()

	again, err := AcquireLock(stateDir)
	if err != nil {
		t.Fatalf("AcquireLock after release: %v", err)
	}
	again.Release()
}

func TestAcquireLock_CreatesDirectory(t *testing.T) {
	stateDir := filepath.Join(t.TempDir(), ".squint")

	lock, err := AcquireLock(stateDir)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	defer lock.Release()

	if _, err := os.Stat(stateDir); os.IsNotExist(err) {
		t.Error("state directory should be created by AcquireLock")
	}
}

func TestReleaseLock_NilSafe(t *testing.T) {
	var lock *Lock
	lock.Release()
}

func TestReleaseLock_Twice(t *testing.T) {
	stateDir := t.TempDir()
	first, err := AcquireLock(stateDir)
	if err != nil {
		t.Fatal(err)
	}
	first.Release()

	second, err := AcquireLock(stateDir)
	if err != nil {
		t.Fatal(err)
	}
	defer second.Release()

	first.Release()
	if _, err := os.Stat(filepath.Join(stateDir, lockFile)); err != nil {
		t.Errorf("second holder's lock file removed: %v", err)
	}
	if _, err := AcquireLock(stateDir); !ckerrors.Is(err, ckerrors.DatabaseLocked) {
		t.Errorf("expected DATABASE_LOCKED while held, got %v", err)
	}
}

func TestAcquireLock_ErrorNamesHolder(t *testing.T) {
	stateDir := t.TempDir()
	lock, err := AcquireLock(stateDir)
	if err != nil {
		t.Fatal(err)
	}
	defer lock.Release()

	if got, want := lock.Path(), filepath.Join(stateDir, lockFile); got != want {
		t.Errorf("Path() = %q, want %q", got, want)
	}
	_, err = AcquireLock(stateDir)
	if err == nil {
		t.Fatal("expected an error while locked")
	}
	if want := "PID " + strconv.Itoa(os.Getpid()); !strings.Contains(err.Error(), want) {
		t.Errorf("error %q should name %q", err.Error(), want)
	}
}
