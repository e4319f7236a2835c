//go:build !windows

package index

import (
	"fmt"
	"os"
	"syscall"
)

// AcquireLock takes an advisory flock on stateDir/sync.lock without
// blocking. If another process holds it the error is DATABASE_LOCKED.
// The kernel drops the flock when a process dies, so a leftover file
// never blocks later runs.
func AcquireLock(stateDir string) (*Lock, error) {
	path, err := lockPath(stateDir)
	if err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	fd := int(file.Fd())
	if err := syscall.Flock(fd, syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = file.Close()
		return nil, lockedError(path, err)
	}
	if err := writePID(file); err != nil {
		_ = syscall.Flock(fd, syscall.LOCK_UN)
		_ = file.Close()
		return nil, err
	}
	return &Lock{path: path, file: file}, nil
}

// Release unlocks and removes the lock file. Later calls do nothing.
func (l *Lock) Release() {
	if l == nil || l.file == nil {
		return
	}
	_ = os.Remove(l.path)
	_ = syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	_ = l.file.Close()
	l.file = nil
}
