// Package statuslog keeps the human-readable per-library index log.
package statuslog

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Log appends timestamped lines to a text file. It is safe for concurrent
// use; write failures are reported but never fatal to callers.
type Log struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// New returns a log writing to path. Nothing is created until the first
// write.
func New(path string) *Log {
	return &Log{path: path, now: time.Now}
}

// Path returns the log file location.
func (l *Log) Path() string { return l.path }

// Reset truncates the log and writes a first line.
func (l *Log) Reset(format string, args ...any) error {
	return l.write(os.O_CREATE|os.O_WRONLY|os.O_TRUNC, format, args...)
}

// Printf appends one line.
func (l *Log) Printf(format string, args ...any) error {
	return l.write(os.O_CREATE|os.O_WRONLY|os.O_APPEND, format, args...)
}

func (l *Log) write(flag int, format string, args ...any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("statuslog: mkdir: %w", err)
	}
	f, err := os.OpenFile(l.path, flag, 0o644)
	if err != nil {
		return fmt.Errorf("statuslog: open: %w", err)
	}
	msg := strings.TrimRight(fmt.Sprintf(format, args...), "\n")
	line := l.now().UTC().Format(time.RFC3339) + " " + msg + "\n"
	if _, err := f.WriteString(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("statuslog: write: %w", err)
	}
	return f.Close()
}

// Tail returns up to n of the most recent lines.
func (l *Log) Tail(n int) ([]string, error) {
	l.mu.Lock()
	data, err := os.ReadFile(l.path)
	l.mu.Unlock()
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("statuslog: read: %w", err)
	}

	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}
