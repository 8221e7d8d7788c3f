// Package eventlog keeps a bounded, append-only view of recent run events.
package eventlog

import (
	"sync"
	"time"
)

// DefaultCap is the number of entries retained when no cap is configured.
const DefaultCap = 100

// timestampLayout renders ISO 8601 with fixed millisecond precision.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Entry is one logged run event. IDs increase monotonically per log; they
// survive Clear so readers can detect gaps, and restart only on Reset.
type Entry struct {
	ID        int64  `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	State     string `json:"state,omitempty"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
}

// Log is a bounded in-memory event log. When full, appending evicts the
// oldest entry first.
type Log struct {
	mu      sync.Mutex
	cap     int
	nextID  int64
	entries []Entry
	nowFn   func() time.Time
}

// New creates a log retaining at most max entries.
// Non-positive caps fall back to DefaultCap.
func New(max int) *Log {
	if max <= 0 {
		max = DefaultCap
	}
	return &Log{
		cap:    max,
		nextID: 1,
		nowFn:  time.Now,
	}
}

// Append records an event, assigning it the next id and the current
// timestamp, and returns the stored entry.
func (l *Log) Append(eventType, state, message, details string) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := Entry{
		ID:        l.nextID,
		Timestamp: l.nowFn().UTC().Format(timestampLayout),
		Type:      eventType,
		State:     state,
		Message:   message,
		Details:   details,
	}
	l.nextID++

	if len(l.entries) >= l.cap {
		l.entries = l.entries[1:]
	}
	l.entries = append(l.entries, entry)
	return entry
}

// Entries returns a copy of the retained entries, oldest first.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Cap returns the retention limit.
func (l *Log) Cap() int {
	return l.cap
}

// Clear drops all entries but keeps the id sequence running.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}

// Reset drops all entries and restarts the id sequence from 1.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
	l.nextID = 1
}
