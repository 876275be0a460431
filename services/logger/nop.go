package logsvc

import (
	"sync"

	"github.com/trezcool/coursekit/core"
)

type nopLogger struct{}

var _ core.Logger = (*nopLogger)(nil)

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() core.Logger { return nopLogger{} }

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

type Entry struct {
	Level string
	Msg   string
	Args  []interface{}
}

// MemoryLogger keeps entries in memory; tests use it to check what got logged.
type MemoryLogger struct {
	mu      sync.Mutex
	entries []Entry
}

var _ core.Logger = (*MemoryLogger)(nil)

func NewMemoryLogger() *MemoryLogger { return &MemoryLogger{} }

func (l *MemoryLogger) log(level, msg string, args []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, Entry{Level: level, Msg: msg, Args: args})
}

func (l *MemoryLogger) Entries(level ...string) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		if len(level) == 0 || e.Level == level[0] {
			out = append(out, e)
		}
	}
	return out
}

func (l *MemoryLogger) Debug(msg string, args ...interface{}) { l.log("debug", msg, args) }
func (l *MemoryLogger) Info(msg string, args ...interface{})  { l.log("info", msg, args) }
func (l *MemoryLogger) Warn(msg string, args ...interface{})  { l.log("warn", msg, args) }
func (l *MemoryLogger) Error(msg string, args ...interface{}) { l.log("error", msg, args) }
func (l *MemoryLogger) Fatal(msg string, args ...interface{}) { l.log("fatal", msg, args) }
