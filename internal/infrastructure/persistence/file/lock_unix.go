//go:build unix

package file

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// dirLock is an flock(2) on <dir>/.lock shared by every process that opens
// the same directory, e.g. the bot and a manual lessonctl pass.
type dirLock struct {
	f *os.File
}

func openDirLock(dir string) (*dirLock, error) {
	f, err := os.OpenFile(filepath.Join(dir, lockName), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("file store: open lock: %w", err)
	}
	return &dirLock{f: f}, nil
}

func (l *dirLock) lock() error {
	for {
		err := unix.Flock(int(l.f.Fd()), unix.LOCK_EX)
		if !errors.Is(err, unix.EINTR) {
			if err != nil {
				return fmt.Errorf("file store: lock: %w", err)
			}
			return nil
		}
	}
}

func (l *dirLock) unlock() error {
	return unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
}

func (l *dirLock) close() error {
	return l.f.Close()
}
