package logger

import (
	"sync"
	"time"
)

// RecentEntry is one buffered warn/error log line.
type RecentEntry struct {
	Time    time.Time              `json:"time"`
	Level   string                 `json:"level"`
	Message string                 `json:"message"`
	Fields  map[string]interface{} `json:"fields,omitempty"`
}

// RecentBuffer keeps the last N warn/error entries in a ring so the ops
// surface can report them without tailing log files.
type RecentBuffer struct {
	mu      sync.Mutex
	entries []RecentEntry
	next    int
	full    bool
}

func NewRecentBuffer(size int) *RecentBuffer {
	if size <= 0 {
		size = 50
	}
	return &RecentBuffer{entries: make([]RecentEntry, size)}
}

func (b *RecentBuffer) Add(level, msg string, fields map[string]interface{}) {
	b.mu.Lock()
	b.entries[b.next] = RecentEntry{
		Time:    time.Now(),
		Level:   level,
		Message: msg,
		Fields:  fields,
	}
	b.next++
	if b.next == len(b.entries) {
		b.next = 0
		b.full = true
	}
	b.mu.Unlock()
}

// Entries returns buffered entries in insertion order, oldest first.
func (b *RecentBuffer) Entries() []RecentEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.full {
		out := make([]RecentEntry, b.next)
		copy(out, b.entries[:b.next])
		return out
	}
	out := make([]RecentEntry, 0, len(b.entries))
	out = append(out, b.entries[b.next:]...)
	out = append(out, b.entries[:b.next]...)
	return out
}
