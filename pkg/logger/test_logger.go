package logger

import (
	"fmt"
	"sync"
)

// TestEntry is a single captured log record.
type TestEntry struct {
	Level   string
	Message string
	Fields  map[string]interface{}
}

// testSink collects entries from a TestLogger and all loggers derived from
// it via WithField/WithFields/WithError.
type testSink struct {
	mu      sync.Mutex
	entries []TestEntry
}

// TestLogger is a Logger implementation that captures entries in memory so
// tests can assert on what was logged.
type TestLogger struct {
	sink   *testSink
	fields map[string]interface{}
}

// NewTestLogger creates a capturing logger for tests.
func NewTestLogger() *TestLogger {
	return &TestLogger{
		sink:   &testSink{},
		fields: make(map[string]interface{}),
	}
}

func (l *TestLogger) record(level, msg string, fields map[string]interface{}) {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.entries = append(l.sink.entries, TestEntry{Level: level, Message: msg, Fields: merged})
}

func (l *TestLogger) Debug(msg string) { l.record("debug", msg, nil) }
func (l *TestLogger) Info(msg string)  { l.record("info", msg, nil) }
func (l *TestLogger) Warn(msg string)  { l.record("warn", msg, nil) }
func (l *TestLogger) Error(msg string) { l.record("error", msg, nil) }

func (l *TestLogger) WithField(key string, value interface{}) Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

func (l *TestLogger) WithFields(fields map[string]interface{}) Logger {
	child := &TestLogger{
		sink:   l.sink,
		fields: make(map[string]interface{}, len(l.fields)+len(fields)),
	}
	for k, v := range l.fields {
		child.fields[k] = v
	}
	for k, v := range fields {
		child.fields[k] = v
	}
	return child
}

func (l *TestLogger) WithError(err error) Logger {
	if err == nil {
		return l
	}
	return l.WithField("error", err.Error())
}

func (l *TestLogger) DebugWithFields(msg string, fields map[string]interface{}) {
	l.record("debug", msg, fields)
}

func (l *TestLogger) InfoWithFields(msg string, fields map[string]interface{}) {
	l.record("info", msg, fields)
}

func (l *TestLogger) WarnWithFields(msg string, fields map[string]interface{}) {
	l.record("warn", msg, fields)
}

func (l *TestLogger) ErrorWithFields(msg string, fields map[string]interface{}) {
	l.record("error", msg, fields)
}

// Entries returns a copy of all captured entries.
func (l *TestLogger) Entries() []TestEntry {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	out := make([]TestEntry, len(l.sink.entries))
	copy(out, l.sink.entries)
	return out
}

// CountLevel returns how many entries were recorded at the given level.
func (l *TestLogger) CountLevel(level string) int {
	n := 0
	for _, e := range l.Entries() {
		if e.Level == level {
			n++
		}
	}
	return n
}

// LastEntry returns the most recent entry, or nil if nothing was logged.
func (l *TestLogger) LastEntry() *TestEntry {
	entries := l.Entries()
	if len(entries) == 0 {
		return nil
	}
	return &entries[len(entries)-1]
}

// String renders captured entries for debugging failed tests.
func (l *TestLogger) String() string {
	s := ""
	for _, e := range l.Entries() {
		s += fmt.Sprintf("[%s] %s %v\n", e.Level, e.Message, e.Fields)
	}
	return s
}
