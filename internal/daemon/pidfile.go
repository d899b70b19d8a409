package daemon

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// pidFileContents is the two-line format spec.md §4.9 mandates: pid on
// line 1, start-time epoch on line 2.
type pidFileContents struct {
	PID       int
	StartedAt time.Time
}

// writePIDFile records this process's pid and start time so a second
// invocation (or an inspection CLI) can probe liveness without attaching
// to the process.
func writePIDFile(path string, pid int, startedAt time.Time) error {
	content := fmt.Sprintf("%d\n%d\n", pid, startedAt.Unix())
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("daemon: write pid file: %w", err)
	}
	return nil
}

// readPIDFile parses an existing pid file. A missing file is reported via
// the normal os.IsNotExist path, not specially wrapped.
func readPIDFile(path string) (*pidFileContents, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) < 2 {
		return nil, fmt.Errorf("daemon: malformed pid file %s", path)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return nil, fmt.Errorf("daemon: parse pid in %s: %w", path, err)
	}
	epoch, err := strconv.ParseInt(strings.TrimSpace(lines[1]), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("daemon: parse start time in %s: %w", path, err)
	}
	return &pidFileContents{PID: pid, StartedAt: time.Unix(epoch, 0)}, nil
}

// isProcessAlive probes liveness with a zero signal (spec.md §4.9):
// delivering signal 0 fails with ESRCH if the pid doesn't exist, but
// neither disturbs nor is observable by a live process.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// removePIDFile deletes the pid file, tolerating one that is already gone.
func removePIDFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("daemon: remove pid file: %w", err)
	}
	return nil
}

// IsRunning reports whether a daemon described by the pid file at path is
// still alive, for the inspection CLI / startup guard against a second
// instance.
func IsRunning(path string) (bool, int) {
	pf, err := readPIDFile(path)
	if err != nil {
		return false, 0
	}
	if isProcessAlive(pf.PID) {
		return true, pf.PID
	}
	return false, pf.PID
}
