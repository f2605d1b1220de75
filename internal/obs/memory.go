package obs

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// MemoryHook is a logrus hook that keeps the most recent entries in a ring
// buffer. The CLI dumps it on failure; tests assert on it.
type MemoryHook struct {
	mu       sync.RWMutex
	entries  []*logrus.Entry
	writeIdx int
	count    int
}

// NewMemoryHook creates a hook holding at most capacity entries
func NewMemoryHook(capacity int) *MemoryHook {
	if capacity <= 0 {
		capacity = 1
	}
	return &MemoryHook{entries: make([]*logrus.Entry, capacity)}
}

// Levels returns the log levels this hook processes.
func (h *MemoryHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire stores a copy of entry, overwriting the oldest one when full
func (h *MemoryHook) Fire(entry *logrus.Entry) error {
	copied := &logrus.Entry{
		Logger:  entry.Logger,
		Data:    make(logrus.Fields, len(entry.Data)),
		Time:    entry.Time,
		Level:   entry.Level,
		Message: entry.Message,
	}
	for k, v := range entry.Data {
		copied.Data[k] = v
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[h.writeIdx] = copied
	h.writeIdx = (h.writeIdx + 1) % len(h.entries)
	if h.count < len(h.entries) {
		h.count++
	}
	return nil
}

// Entries returns the stored entries oldest first
func (h *MemoryHook) Entries() []*logrus.Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*logrus.Entry, 0, h.count)
	start := 0
	if h.count == len(h.entries) {
		start = h.writeIdx
	}
	for i := 0; i < h.count; i++ {
		out = append(out, h.entries[(start+i)%len(h.entries)])
	}
	return out
}

// EntriesAt returns the stored entries logged at level
func (h *MemoryHook) EntriesAt(level logrus.Level) []*logrus.Entry {
	var out []*logrus.Entry
	for _, e := range h.Entries() {
		if e.Level == level {
			out = append(out, e)
		}
	}
	return out
}

// Size returns the number of stored entries
func (h *MemoryHook) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Clear removes all entries
func (h *MemoryHook) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.entries {
		h.entries[i] = nil
	}
	h.writeIdx = 0
	h.count = 0
}
