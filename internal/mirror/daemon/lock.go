package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// ErrLocked is returned by Acquire when another daemon holds the lock.
var ErrLocked = errors.New("another daemon holds the library lock")

// Lock is an exclusive advisory lock keeping one daemon per library.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes the daemon lockfile without blocking. The lock lives in
// the kernel and vanishes with the process, so a crashed daemon never
// wedges the library.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lockfile: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("lockfile %s: %w", path, ErrLocked)
		}
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}

	// Record the holder for anyone inspecting the state directory.
	_ = f.Truncate(0)
	_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())

	return &Lock{file: f, path: path}, nil
}

// Release unlocks and closes the lockfile. Safe to call more than once.
func (l *Lock) Release() error {
	if l.file == nil {
		return nil
	}
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		_ = l.file.Close()
		l.file = nil
		return fmt.Errorf("failed to unlock %s: %w", l.path, err)
	}
	err := l.file.Close()
	l.file = nil
	if err != nil {
		return fmt.Errorf("failed to close lockfile: %w", err)
	}
	return nil
}

// Path returns the lockfile location.
func (l *Lock) Path() string {
	return l.path
}
