//go:build windows

package index

import (
	"fmt"
	"os"
)

// AcquireLock creates stateDir/sync.lock exclusively; its existence is the
// lock. A file left by a crashed process has to be removed by hand.
func AcquireLock(stateDir string) (*Lock, error) {
	path, err := lockPath(stateDir)
	if err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, lockedError(path, err)
		}
		return nil, fmt.Errorf("opening lock file: %w", err)
	}
	if err := writePID(file); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return nil, err
	}
	return &Lock{path: path, file: file}, nil
}

// Release closes and removes the lock file. Later calls do nothing.
func (l *Lock) Release() {
	if l == nil || l.file == nil {
		return
	}
	_ = l.file.Close()
	_ = os.Remove(l.path)
	l.file = nil
}
