// Package buffer provides a bounded ring of session log entries.
package buffer

import (
	"sync"

	"github.com/agent-console/backend/internal/model"
)

// LogRing is a thread-safe bounded buffer of log entries. Appends past
// capacity discard the oldest entries, so the ring always holds the most
// recent window of a session's output in append order.
//
// It backs both the "replay to a newly-subscribing client" path and the
// logs query of the session API.
type LogRing struct {
	entries  []model.LogEntry
	start    int
	count    int
	capacity int
	mu       sync.RWMutex
}

// NewLogRing creates a LogRing with the given capacity. A capacity below 1
// defaults to 1.
func NewLogRing(capacity int) *LogRing {
	if capacity <= 0 {
		capacity = 1
	}
	return &LogRing{
		entries:  make([]model.LogEntry, capacity),
		capacity: capacity,
	}
}

// Append adds an entry, evicting the oldest if the ring is full.
func (r *LogRing) Append(entry model.LogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := (r.start + r.count) % r.capacity
	r.entries[idx] = entry
	if r.count < r.capacity {
		r.count++
	} else {
		r.start = (r.start + 1) % r.capacity
	}
}

// Last returns a copy of the most recent limit entries in append order. A
// limit of zero or less returns all buffered entries.
func (r *LogRing) Last(limit int) []model.LogEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := r.count
	if limit > 0 && limit < n {
		n = limit
	}
	if n == 0 {
		return nil
	}

	result := make([]model.LogEntry, n)
	first := r.start + r.count - n
	for i := 0; i < n; i++ {
		result[i] = r.entries[(first+i)%r.capacity]
	}
	return result
}

// All returns a copy of every buffered entry in append order.
func (r *LogRing) All() []model.LogEntry {
	return r.Last(0)
}

// Len returns the number of buffered entries.
func (r *LogRing) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Cap returns the ring capacity.
func (r *LogRing) Cap() int {
	return r.capacity
}
