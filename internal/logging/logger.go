package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Printer is the minimal logging contract shared across the control plane.
// The signal router and the orchestrator accept any Printer so tests can
// capture output without touching the filesystem.
type Printer interface {
	Printf(format string, args ...any)
}

// Logger appends timestamped lines to <dir>/convoy.log so users can inspect
// failures after the process exits.
type Logger struct {
	file *os.File
}

// New creates (or reuses) the log file inside the given directory.
func New(dir string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: ensure log dir: %w", err)
	}
	path := filepath.Join(dir, "convoy.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}
	return &Logger{file: f}, nil
}

// Close releases the file handle.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Printf writes a single timestamped line to the log file.
func (l *Logger) Printf(format string, args ...any) {
	if l == nil || l.file == nil {
		return
	}
	line := fmt.Sprintf(format, args...)
	line = strings.TrimRight(line, "\n")
	timestamp := time.Now().Format(time.RFC3339)
	fmt.Fprintf(l.file, "[%s] %s\n", timestamp, line)
}
