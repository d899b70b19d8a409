// Package atomicfile implements the curated-file write discipline from
// spec.md §4.1: write to a pid-suffixed temp file, fsync, rename, all while
// holding a companion ".lock" file so concurrent processes serialize.
//
// No file-locking library appears anywhere in the retrieved corpus, so this
// package uses syscall.Flock directly rather than inventing a dependency.
package atomicfile

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
)

// Lock guards writes to a single target path across goroutines in this
// process (via mu) and across processes (via an flock'd ".lock" file).
type Lock struct {
	path string
	mu   sync.Mutex
}

// NewLock returns a lock for the given target path ("<target>.lock" is the
// backing file).
func NewLock(targetPath string) *Lock {
	return &Lock{path: targetPath + ".lock"}
}

// WithLock runs fn while holding both the in-process mutex and the
// cross-process flock on the target's lock file.
func (l *Lock) WithLock(fn func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("atomicfile: create lock dir: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("atomicfile: open lock file: %w", err)
	}
	defer f.Close()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("atomicfile: flock: %w", err)
	}
	defer syscall.Flock(int(f.Fd()), syscall.LOCK_UN)

	return fn()
}

// WriteFile atomically replaces target's content: write to
// "<target>.tmp.<pid>", fsync, rename over target. Callers that need
// cross-process serialization should wrap this in Lock.WithLock.
func WriteFile(target string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("atomicfile: create target dir: %w", err)
	}

	tmp := fmt.Sprintf("%s.tmp.%d", target, os.Getpid())
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("atomicfile: create temp file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("atomicfile: write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("atomicfile: fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("atomicfile: close temp file: %w", err)
	}

	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("atomicfile: rename temp file: %w", err)
	}
	return nil
}

// WriteFileLocked is WriteFile wrapped in a cross-process Lock on target.
func WriteFileLocked(target string, data []byte, perm os.FileMode) error {
	return NewLock(target).WithLock(func() error {
		return WriteFile(target, data, perm)
	})
}
