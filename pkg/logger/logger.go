package logger

import (
	"fmt"
	"sync"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"
)

const ServiceName = "aaswap"

// New builds the zap backed logger for env, tagged with the service name.
func New(env sdklogging.LogLevel) (Logger, error) {
	l, err := sdklogging.NewZapLogger(env)
	if err != nil {
		return nil, fmt.Errorf("cannot create %s logger: %w", env, err)
	}
	return l.With("service", ServiceName), nil
}

// ForRun scopes log to one pipeline run so every line of a swap or share
// carries the same run_id.
func ForRun(log Logger, kind, runID string) Logger {
	return EnsureLogger(log).With("run_id", runID, "kind", kind)
}

type Entry struct {
	Level  string
	Msg    string
	Fields map[string]interface{}
}

// MemoryLogger keeps every entry in memory. Tests use it to assert on what
// was logged.
type MemoryLogger struct {
	mu      *sync.Mutex
	entries *[]Entry
	fields  []interface{}
}

func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{mu: &sync.Mutex{}, entries: &[]Entry{}}
}

func (l *MemoryLogger) record(level, msg string, kv []interface{}) {
	fields := map[string]interface{}{}
	all := append(append([]interface{}{}, l.fields...), kv...)
	for i := 0; i+1 < len(all); i += 2 {
		fields[fmt.Sprint(all[i])] = all[i+1]
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	*l.entries = append(*l.entries, Entry{Level: level, Msg: msg, Fields: fields})
}

func (l *MemoryLogger) Info(msg string, kv ...interface{})  { l.record("info", msg, kv) }
func (l *MemoryLogger) Debug(msg string, kv ...interface{}) { l.record("debug", msg, kv) }
func (l *MemoryLogger) Warn(msg string, kv ...interface{})  { l.record("warn", msg, kv) }
func (l *MemoryLogger) Error(msg string, kv ...interface{}) { l.record("error", msg, kv) }
func (l *MemoryLogger) Fatal(msg string, kv ...interface{}) { l.record("fatal", msg, kv) }

func (l *MemoryLogger) Infof(format string, args ...interface{}) {
	l.record("info", fmt.Sprintf(format, args...), nil)
}
func (l *MemoryLogger) Debugf(format string, args ...interface{}) {
	l.record("debug", fmt.Sprintf(format, args...), nil)
}
func (l *MemoryLogger) Warnf(format string, args ...interface{}) {
	l.record("warn", fmt.Sprintf(format, args...), nil)
}
func (l *MemoryLogger) Errorf(format string, args ...interface{}) {
	l.record("error", fmt.Sprintf(format, args...), nil)
}
func (l *MemoryLogger) Fatalf(format string, args ...interface{}) {
	l.record("fatal", fmt.Sprintf(format, args...), nil)
}

// With returns a child sharing the same entry buffer.
func (l *MemoryLogger) With(kv ...interface{}) Logger {
	return &MemoryLogger{
		mu:      l.mu,
		entries: l.entries,
		fields:  append(append([]interface{}{}, l.fields...), kv...),
	}
}

// Entries returns a copy of everything logged so far.
func (l *MemoryLogger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), *l.entries...)
}

// Find returns the entries whose message is msg.
func (l *MemoryLogger) Find(msg string) []Entry {
	var out []Entry
	for _, e := range l.Entries() {
		if e.Msg == msg {
			out = append(out, e)
		}
	}
	return out
}
