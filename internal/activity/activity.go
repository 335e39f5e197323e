// Package activity implements the LOGify agent's own operational log: a
// human-tailable, size-rotated file distinct from the structured slog
// stream and entirely separate from the records persisted by internal/store.
// It mirrors original_source/cli/logify/activity_log.py's RotatingFileHandler
// semantics (5 MiB cap, 3 backups) with the single-writer, mutex-guarded
// append idiom of the teacher's internal/audit package.
package activity

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// Level is the severity tag written into each activity log line.
type Level string

// Activity log levels.
const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Component tags used throughout the pipeline, matching the Python
// convenience-function set (info/warn/error/debug/threat/sync_event/
// watcher_event/shell_event).
const (
	ComponentSync      = "SYNC"
	ComponentWatcher   = "WATCHER"
	ComponentShellHist = "SHELL-HIST"
	ComponentDetector  = "DETECTOR"
	ComponentLogify    = "LOGIFY"
)

// MaxBytes is the size at which the active log file is rotated.
const MaxBytes = 5 * 1024 * 1024

// BackupCount is the number of rotated backups retained (activity.log.1 .. .3).
const BackupCount = 3

const timeFormat = "2006-01-02 15:04:05"

// Logger is a size-rotated, mutex-guarded append-only writer. Create one
// with Open; do not copy after first use.
type Logger struct {
	mu   sync.Mutex
	path string
	file *os.File
	size int64
}

// Open opens (or creates) the activity log at path and seeks to its current
// end so that Append's size accounting starts correct for an existing file.
func Open(path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("activity: open %q: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("activity: stat %q: %w", path, err)
	}
	return &Logger{path: path, file: f, size: info.Size()}, nil
}

// Append writes one formatted line: "TIMESTAMP [LEVEL] [COMPONENT] message".
// It rotates the file first if the next write would exceed MaxBytes.
func (l *Logger) Append(level Level, component, message string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	line := fmt.Sprintf("%s [%s] [%s] %s\n", time.Now().Format(timeFormat), level, component, message)

	if l.size+int64(len(line)) > MaxBytes {
		if err := l.rotate(); err != nil {
			return fmt.Errorf("activity: rotate: %w", err)
		}
	}

	n, err := l.file.WriteString(line)
	if err != nil {
		return fmt.Errorf("activity: write: %w", err)
	}
	l.size += int64(n)
	return nil
}

// rotate shifts activity.log.2 -> .3, .1 -> .2, activity.log -> .1, and opens
// a fresh empty activity.log. Must be called with l.mu held.
func (l *Logger) rotate() error {
	if err := l.file.Close(); err != nil {
		return err
	}

	for i := BackupCount - 1; i >= 1; i-- {
		src := fmt.Sprintf("%s.%d", l.path, i)
		dst := fmt.Sprintf("%s.%d", l.path, i+1)
		if _, err := os.Stat(src); err == nil {
			if err := os.Rename(src, dst); err != nil {
				return err
			}
		}
	}
	if err := os.Rename(l.path, l.path+".1"); err != nil && !os.IsNotExist(err) {
		return err
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	l.file = f
	l.size = 0
	return nil
}

// Close flushes and closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// Debug appends a DEBUG-level line tagged with component.
func (l *Logger) Debug(component, format string, args ...any) {
	_ = l.Append(LevelDebug, component, fmt.Sprintf(format, args...))
}

// Info appends an INFO-level line tagged with component.
func (l *Logger) Info(component, format string, args ...any) {
	_ = l.Append(LevelInfo, component, fmt.Sprintf(format, args...))
}

// Warn appends a WARN-level line tagged with component.
func (l *Logger) Warn(component, format string, args ...any) {
	_ = l.Append(LevelWarn, component, fmt.Sprintf(format, args...))
}

// Error appends an ERROR-level line tagged with component.
func (l *Logger) Error(component, format string, args ...any) {
	_ = l.Append(LevelError, component, fmt.Sprintf(format, args...))
}

// Threat always logs at WARN with the DETECTOR component and the canonical
// "🚨 THREAT:" prefix, regardless of the threat's own severity — the
// activity log's job is to make a human skim and notice it, not to encode
// severity in the log level.
func (l *Logger) Threat(format string, args ...any) {
	_ = l.Append(LevelWarn, ComponentDetector, "🚨 THREAT: "+fmt.Sprintf(format, args...))
}

// SyncEvent appends an INFO line tagged SYNC.
func (l *Logger) SyncEvent(format string, args ...any) {
	l.Info(ComponentSync, format, args...)
}

// WatcherEvent appends an INFO line tagged WATCHER.
func (l *Logger) WatcherEvent(format string, args ...any) {
	l.Info(ComponentWatcher, format, args...)
}

// ShellEvent appends an INFO line tagged SHELL-HIST.
func (l *Logger) ShellEvent(format string, args ...any) {
	l.Info(ComponentShellHist, format, args...)
}
