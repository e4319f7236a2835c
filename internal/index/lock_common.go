// Package index guards the state directory against concurrent writers.
package index

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	ckerrors "squint/internal/errors"
)

const lockFile = "sync.lock"

// Lock is held by the one process allowed to write the state directory.
type Lock struct {
	path string
	file *os.File
}

// Path returns the lock file location.
func (l *Lock) Path() string {
	return l.path
}

func lockPath(stateDir string) (string, error) {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return "", fmt.Errorf("creating state directory: %w", err)
	}
	return filepath.Join(stateDir, lockFile), nil
}

// lockedError names the holder's PID when the lock file has one.
func lockedError(path string, cause error) error {
	msg := "index is locked by another process"
	if b, err := os.ReadFile(path); err == nil {
		if pid := strings.TrimSpace(string(b)); pid != "" {
			msg += " (PID " + pid + ")"
		}
	}
	return ckerrors.New(ckerrors.DatabaseLocked, msg+"; another squint command may be running", cause)
}

func writePID(file *os.File) error {
	if err := file.Truncate(0); err != nil {
		return fmt.Errorf("truncating lock file: %w", err)
	}
	if _, err := file.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0); err != nil {
		return fmt.Errorf("writing PID to lock file: %w", err)
	}
	return nil
}
