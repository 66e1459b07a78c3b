package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// FileName is the lock file name inside the data directory.
const FileName = "LOCK"

// LockHeldError is returned when another daemon holds the data directory.
type LockHeldError struct {
	PID  int
	Path string
}

func (e *LockHeldError) Error() string {
	return fmt.Sprintf("data dir lock held by PID %d (%s)", e.PID, e.Path)
}

// Info is what the running daemon records in its lock file.
type Info struct {
	PID      int
	Socket   string
	HTTPAddr string
	Started  time.Time
}

// Lock represents an acquired data directory lock file.
type Lock struct {
	file *os.File
	path string
}

// Acquire attempts to acquire an exclusive lock on dir and records info in it.
// Returns LockHeldError if another process already holds it.
func Acquire(dir string, info Info) (*Lock, error) {
	lockPath := filepath.Join(dir, FileName)

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	err = syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err != nil {
		// Read existing PID from file for diagnostics.
		data, _ := os.ReadFile(lockPath)
		held := parse(string(data))
		_ = f.Close()
		return nil, &LockHeldError{PID: held.PID, Path: lockPath}
	}

	if info.PID == 0 {
		info.PID = os.Getpid()
	}
	if info.Started.IsZero() {
		info.Started = time.Now()
	}
	if err := f.Truncate(0); err != nil {
		_ = f.Close()
		return nil, err
	}
	if _, err := f.Seek(0, 0); err != nil {
		_ = f.Close()
		return nil, err
	}
	if _, err := f.WriteString(format(info)); err != nil {
		_ = f.Close()
		return nil, err
	}

	return &Lock{file: f, path: lockPath}, nil
}

// Release releases the lock. Safe to call on nil receiver.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove lock file before closing to avoid stale files.
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

// Inspect reports the daemon holding dir. It returns nil, nil when no daemon
// holds the lock, including when a stale file was left behind.
func Inspect(dir string) (*Info, error) {
	lockPath := filepath.Join(dir, FileName)
	f, err := os.OpenFile(lockPath, os.O_RDONLY, 0)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	// Taking a shared lock succeeds only when nobody holds the exclusive one.
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_SH|syscall.LOCK_NB); err == nil {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		return nil, nil
	}
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return nil, err
	}
	info := parse(string(data))
	return &info, nil
}

func format(info Info) string {
	var b strings.Builder
	fmt.Fprintf(&b, "pid=%d\n", info.PID)
	fmt.Fprintf(&b, "time=%s\n", info.Started.UTC().Format(time.RFC3339))
	if info.Socket != "" {
		fmt.Fprintf(&b, "socket=%s\n", info.Socket)
	}
	if info.HTTPAddr != "" {
		fmt.Fprintf(&b, "http=%s\n", info.HTTPAddr)
	}
	return b.String()
}

func parse(content string) Info {
	var info Info
	for _, line := range strings.Split(content, "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			info.PID, _ = strconv.Atoi(value)
		case "time":
			info.Started, _ = time.Parse(time.RFC3339, value)
		case "socket":
			info.Socket = value
		case "http":
			info.HTTPAddr = value
		}
	}
	return info
}
