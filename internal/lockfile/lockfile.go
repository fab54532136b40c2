// Package lockfile guards an EvaluBot state directory against a second
// process. Conversation state lives in process memory unless Redis is
// configured, so two servers on one SQLite file would disagree about every
// conversation in flight.
package lockfile

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// LockFileName is the name of the lock file created in the state directory
const LockFileName = "evalubot.lock"

// ErrLocked is wrapped by LockError.
var ErrLocked = errors.New("state directory is locked by another EvaluBot process")

// Lock is a held flock on a state directory. The kernel drops it when the process exits.
type Lock struct {
	file *os.File
	path string
}

// LockError describes the process that holds the lock.
type LockError struct {
	LockPath  string
	HolderPID int
	Running   bool
	Cause     error
}

func (e *LockError) Error() string {
	holder := "unknown process"
	if e.HolderPID > 0 {
		state := "not running, stale lock file"
		if e.Running {
			state = "running"
		}
		holder = fmt.Sprintf("PID %d (%s)", e.HolderPID, state)
	}
	return fmt.Sprintf("%v: %s held by %s; remove the file only if no other instance uses this directory", ErrLocked, e.LockPath, holder)
}

func (e *LockError) Unwrap() []error {
	return []error{ErrLocked, e.Cause}
}

// Acquire takes an exclusive, non-blocking lock on stateDir, creating it if needed.
func Acquire(stateDir string) (*Lock, error) {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}
	lockPath := filepath.Join(stateDir, LockFileName)

	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		pid := readHolderPID(lockPath)
		lockErr := &LockError{LockPath: lockPath, HolderPID: pid, Running: pid > 0 && isProcessRunning(pid), Cause: err}
		slog.Error("Failed to acquire state directory lock", "lock_path", lockPath, "holder_pid", pid)
		return nil, lockErr
	}

	// Only the holder may rewrite the PID.
	if err := file.Truncate(0); err == nil {
		_, err = file.WriteAt([]byte("pid="+strconv.Itoa(os.Getpid())+"\n"), 0)
		if err != nil {
			slog.Warn("Failed to record PID in lock file", "error", err, "lock_path", lockPath)
		}
	}

	slog.Info("Acquired state directory lock", "lock_path", lockPath, "pid", os.Getpid())
	return &Lock{file: file, path: lockPath}, nil
}

// Release unlocks and removes the lock file. It is safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	var errs []error
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		errs = append(errs, fmt.Errorf("failed to unlock: %w", err))
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("failed to remove lock file: %w", err))
	}
	if err := l.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close lock file: %w", err))
	}
	l.file = nil
	slog.Debug("Released state directory lock", "lock_path", l.path)
	return errors.Join(errs...)
}

// readHolderPID returns the PID recorded in the lock file, or 0.
func readHolderPID(lockPath string) int {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return 0
	}
	return parsePID(string(data))
}

// parsePID extracts N from a "pid=N" line.
func parsePID(content string) int {
	for _, line := range strings.Split(content, "\n") {
		v, ok := strings.CutPrefix(strings.TrimSpace(line), "pid=")
		if !ok {
			continue
		}
		if pid, err := strconv.Atoi(v); err == nil && pid > 0 {
			return pid
		}
	}
	return 0
}

// isProcessRunning sends signal 0 to pid.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
