// Package lock guards an output directory against concurrent runs.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// FileName is the lock file created inside the output directory.
const FileName = ".streamgrab.lock"

// ErrLocked means another run holds the directory.
var ErrLocked = errors.New("output directory is in use by another run")

// DirLock is an exclusive advisory lock on a directory.
type DirLock struct {
	path string
	lock *flock.Flock
}

// Acquire creates dir if needed and takes its lock without blocking.
func Acquire(dir string) (*DirLock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(dir, FileName)
	l := flock.New(path)

	ok, err := l.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w (%s)", ErrLocked, path)
	}
	return &DirLock{path: path, lock: l}, nil
}

// Path returns the lock file path.
func (d *DirLock) Path() string { return d.path }

// Release unlocks the directory. The lock file is left in place: unlinking
// it would let a waiting run hold a lock on a file no later run can see.
func (d *DirLock) Release() error {
	if err := d.lock.Unlock(); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}
