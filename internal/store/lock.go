package store

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// fileLock is the cross-process mutex guarding the collated blob. Writers in
// the refresh worker take it exclusively for the remove+rename swap; readers
// in connection-serving processes take it shared for the read. The scope is
// kept to just those operations so extension callbacks block for microseconds
// at most.
type fileLock struct {
	path string
}

func newFileLock(path string) *fileLock {
	return &fileLock{path: path}
}

func (l *fileLock) withLock(how int, fn func() error) error {
	f, err := os.OpenFile(l.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return errors.Wrapf(err, "opening lock file %s", l.path)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), how); err != nil {
		return errors.Wrapf(err, "locking %s", l.path)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	return fn()
}

// Exclusive runs fn while holding the lock exclusively.
func (l *fileLock) Exclusive(fn func() error) error {
	return l.withLock(unix.LOCK_EX, fn)
}

// Shared runs fn while holding the lock shared with other readers.
func (l *fileLock) Shared(fn func() error) error {
	return l.withLock(unix.LOCK_SH, fn)
}
