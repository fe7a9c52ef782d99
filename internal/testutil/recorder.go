package testutil

import (
	"sync"

	"github.com/topicquests/tqos-asr-api/pkg/logger"
)

var _ logger.LoggerInstance = (*Recorder)(nil)

// Entry is one call captured by a Recorder.
type Entry struct {
	Level   string
	Message string
	Keyvals []any
}

// Recorder is a logger.LoggerInstance that keeps every entry in memory. Tests
// install it with logger.Init to assert on reported conditions.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) add(level, message string, keyvals []any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{Level: level, Message: message, Keyvals: keyvals})
}

// Entries returns a copy of the captured entries, optionally filtered by level.
func (r *Recorder) Entries(level string) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		if level == "" || e.Level == level {
			out = append(out, e)
		}
	}
	return out
}

func (r *Recorder) Log(message string, keyvals ...any)   { r.add("log", message, keyvals) }
func (r *Recorder) Debug(message string, keyvals ...any) { r.add("debug", message, keyvals) }
func (r *Recorder) Info(message string, keyvals ...any)  { r.add("info", message, keyvals) }
func (r *Recorder) Warn(message string, keyvals ...any)  { r.add("warn", message, keyvals) }
func (r *Recorder) Error(message string, keyvals ...any) { r.add("error", message, keyvals) }

// Fatal records the entry. It does not exit.
func (r *Recorder) Fatal(message string, keyvals ...any) { r.add("fatal", message, keyvals) }
