package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

const (
	pidFilePermissions = 0o644
	pidDirPermissions  = 0o755
)

// writePIDFile claims path for this serve process. The flock is held for
// as long as the process lives, so a second serve against the same data
// directory fails here rather than double-scheduling requests. Call the
// returned func on exit.
func writePIDFile(path string) (cleanup func(), err error) {
	if path == "" {
		return nil, errors.New("no PID file path: the data directory is unknown")
	}

	if err := os.MkdirAll(filepath.Dir(path), pidDirPermissions); err != nil {
		return nil, fmt.Errorf("pid file: mkdir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, pidFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("pid file: open: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()

		return nil, fmt.Errorf("another replicad serve holds %s", path)
	}

	if err := recordPID(f); err != nil {
		f.Close()

		return nil, err
	}

	return func() {
		os.Remove(path)
		f.Close()
	}, nil
}

// recordPID overwrites f with this process's PID.
func recordPID(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("pid file: truncate: %w", err)
	}

	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		return fmt.Errorf("pid file: write: %w", err)
	}

	if err := f.Sync(); err != nil {
		return fmt.Errorf("pid file: sync: %w", err)
	}

	return nil
}

// readPIDFile parses the PID a running serve left at path.
func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("pid file: read: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("pid file %s: not a PID: %w", path, err)
	}

	return pid, nil
}

// sendSIGHUP is what "replicad reload" does: the daemon re-reads its config
// and swaps in the new admission patterns.
func sendSIGHUP(pidPath string) error {
	return signalDaemon(pidPath, syscall.SIGHUP)
}

// signalDaemon delivers sig to the serve process named in pidPath. When
// that process is gone its PID file is deleted and an error says so.
func signalDaemon(pidPath string, sig syscall.Signal) error {
	pid, err := readPIDFile(pidPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("replicad serve is not running: %s does not exist", pidPath)
		}

		return err
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}

	// Signal 0 only checks the process exists.
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		os.Remove(pidPath)

		return fmt.Errorf("replicad serve (pid %d) has exited; removed its pid file", pid)
	}

	if err := proc.Signal(sig); err != nil {
		return fmt.Errorf("signal %s to pid %d: %w", sig, pid, err)
	}

	return nil
}
