package email

import (
	"fmt"
	"sync"

	"sandboxnotify/internal/types"
)

type logEntry struct {
	level string
	msg   string
	args  []any
}

// recordingLogger captures log lines, including those from loggers derived
// via With.
type recordingLogger struct {
	mu      *sync.Mutex
	entries *[]logEntry
	base    []any
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{mu: &sync.Mutex{}, entries: &[]logEntry{}}
}

func (l *recordingLogger) record(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	all := append(append([]any(nil), l.base...), args...)
	*l.entries = append(*l.entries, logEntry{level: level, msg: msg, args: all})
}

func (l *recordingLogger) Info(msg string, args ...any)  { l.record("INFO", msg, args) }
func (l *recordingLogger) Warn(msg string, args ...any)  { l.record("WARN", msg, args) }
func (l *recordingLogger) Error(msg string, args ...any) { l.record("ERROR", msg, args) }

func (l *recordingLogger) With(args ...any) types.Logger {
	return &recordingLogger{mu: l.mu, entries: l.entries, base: append(append([]any(nil), l.base...), args...)}
}

func (l *recordingLogger) has(level, msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range *l.entries {
		if e.level == level && e.msg == msg {
			return true
		}
	}
	return false
}

func (l *recordingLogger) find(level, msg string) (logEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range *l.entries {
		if e.level == level && e.msg == msg {
			return e, nil
		}
	}
	return logEntry{}, fmt.Errorf("no %s entry %q", level, msg)
}

func (e logEntry) arg(key string) any {
	for i := 0; i+1 < len(e.args); i += 2 {
		if e.args[i] == key {
			return e.args[i+1]
		}
	}
	return nil
}
