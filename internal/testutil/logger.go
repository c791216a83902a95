package testutil

import (
	"sync"

	"github.com/nkiryanov/homestay/internal/logger"
)

type LogEntry struct {
	Level string
	Msg   string
	Args  []any
}

// RecordingLogger keeps every entry in memory so tests may assert what was logged
type RecordingLogger struct {
	store *logStore
	args  []any
}

// Shared by the logger and every logger derived with With
type logStore struct {
	mu      sync.Mutex
	entries []LogEntry
}

func NewRecordingLogger() *RecordingLogger {
	return &RecordingLogger{store: &logStore{}}
}

func (l *RecordingLogger) record(level string, msg string, args ...any) {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()

	all := append(append([]any{}, l.args...), args...)
	l.store.entries = append(l.store.entries, LogEntry{Level: level, Msg: msg, Args: all})
}

func (l *RecordingLogger) Debug(msg string, args ...any) { l.record(logger.LevelDebug, msg, args...) }
func (l *RecordingLogger) Info(msg string, args ...any)  { l.record(logger.LevelInfo, msg, args...) }
func (l *RecordingLogger) Warn(msg string, args ...any)  { l.record(logger.LevelWarn, msg, args...) }
func (l *RecordingLogger) Error(msg string, args ...any) { l.record(logger.LevelError, msg, args...) }

func (l *RecordingLogger) With(args ...any) logger.Logger {
	return &RecordingLogger{store: l.store, args: append(append([]any{}, l.args...), args...)}
}

func (l *RecordingLogger) WithGroup(string) logger.Logger {
	return l
}

// Entries returns recorded entries with the given level (all entries if level is empty)
func (l *RecordingLogger) Entries(level string) []LogEntry {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()

	var res []LogEntry
	for _, e := range l.store.entries {
		if level == "" || e.Level == level {
			res = append(res, e)
		}
	}
	return res
}
