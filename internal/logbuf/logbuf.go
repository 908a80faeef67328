// Package logbuf keeps a bounded in-memory window of recent log entries so
// the API can serve them without a log aggregation stack.
package logbuf

import (
	"log/slog"
	"sync"
	"time"
)

// Entry is a single log entry captured from slog. Agent is lifted out of the
// attrs when present so operators can follow one agent's trail.
type Entry struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Agent   string         `json:"agent,omitempty"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// Filter narrows a Query. Zero values mean no restriction, except Limit
// where <= 0 returns everything that matched.
type Filter struct {
	Since    time.Time
	MinLevel slog.Level
	Agent    string
	Limit    int
}

// Buffer is a thread-safe ring buffer for log entries. Once full, new
// entries overwrite the oldest.
type Buffer struct {
	mu      sync.Mutex
	entries []Entry
	pos     int
	count   int
}

// New creates a ring buffer holding up to size entries.
func New(size int) *Buffer {
	return &Buffer{entries: make([]Entry, size)}
}

// Append adds an entry, overwriting the oldest once the buffer is full.
func (b *Buffer) Append(e Entry) {
	b.mu.Lock()
	b.entries[b.pos] = e
	b.pos = (b.pos + 1) % len(b.entries)
	if b.count < len(b.entries) {
		b.count++
	}
	b.mu.Unlock()
}

// Query returns matching entries oldest first. When Limit trims the result,
// the newest matches win.
func (b *Buffer) Query(f Filter) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	start := 0
	if b.count == len(b.entries) {
		start = b.pos // oldest entry once the ring has wrapped
	}

	var result []Entry
	for i := 0; i < b.count; i++ {
		e := b.entries[(start+i)%len(b.entries)]

		if !f.Since.IsZero() && e.Time.Before(f.Since) {
			continue
		}
		if parseLevel(e.Level) < f.MinLevel {
			continue
		}
		if f.Agent != "" && e.Agent != f.Agent {
			continue
		}
		result = append(result, e)
	}

	if f.Limit > 0 && len(result) > f.Limit {
		result = result[len(result)-f.Limit:]
	}
	return result
}

func parseLevel(s string) slog.Level {
	switch s {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
