// Package lock enforces the one-daemon-per-data-directory contract. The
// daemon records its PID in a flock(2)-guarded file so a second piston
// pointed at the same pidfile fails fast instead of sharing the task store.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// Guard holds the exclusive daemon lock. The flock lives on the open file
// descriptor, so the Guard must stay referenced until Release.
type Guard struct {
	path string
	f    *os.File
}

// Acquire takes a non-blocking exclusive lock on the pidfile and writes the
// current PID into it. When another daemon already holds the lock, the error
// names the PID recorded in the file.
func Acquire(path string) (*Guard, error) {
	if path == "" {
		return nil, fmt.Errorf("pidfile path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create pidfile directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open pidfile: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		holder := holderPID(f)
		_ = f.Close()
		if holder != "" {
			return nil, fmt.Errorf("pidfile %s is held by pid %s (is another piston running?)", path, holder)
		}
		return nil, fmt.Errorf("lock pidfile %s: %w", path, err)
	}

	if err := recordPID(f); err != nil {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
		return nil, err
	}

	return &Guard{path: path, f: f}, nil
}

// recordPID replaces the pidfile content with our PID.
func recordPID(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncate pidfile: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return fmt.Errorf("seek pidfile: %w", err)
	}
	if _, err := f.WriteString(strconv.Itoa(os.Getpid()) + "\n"); err != nil {
		return fmt.Errorf("write pid: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync pidfile: %w", err)
	}
	return nil
}

// holderPID reads the PID left by whichever process holds the lock.
// Returns "" when the file holds no parseable PID.
func holderPID(f *os.File) string {
	buf := make([]byte, 32)
	n, err := f.ReadAt(buf, 0)
	if n == 0 && err != nil {
		return ""
	}
	pid := strings.TrimSpace(string(buf[:n]))
	if _, err := strconv.Atoi(pid); err != nil {
		return ""
	}
	return pid
}

func (g *Guard) Path() string { return g.path }

// Release drops the lock and closes the pidfile. Safe on nil.
func (g *Guard) Release() error {
	if g == nil || g.f == nil {
		return nil
	}
	_ = syscall.Flock(int(g.f.Fd()), syscall.LOCK_UN)
	err := g.f.Close()
	g.f = nil
	return err
}
