package session

import (
	"sync"

	"github.com/quantfold/lobstream/internal/models"
)

// Buffer is a fixed-capacity FIFO of the most recent enriched
// snapshots. Appending past capacity evicts the oldest entry. Reads
// return copies, never live views.
type Buffer struct {
	mu       sync.RWMutex
	items    []models.EnrichedSnapshot
	capacity int
}

// NewBuffer creates a buffer holding at most capacity snapshots.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{
		items:    make([]models.EnrichedSnapshot, 0, capacity),
		capacity: capacity,
	}
}

// Append adds a snapshot, evicting the oldest if the buffer is full.
func (b *Buffer) Append(snap models.EnrichedSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, snap)
	if len(b.items) > b.capacity {
		b.items = b.items[1:]
	}
}

// Items returns a copy of the current contents, oldest first.
func (b *Buffer) Items() []models.EnrichedSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]models.EnrichedSnapshot, len(b.items))
	copy(out, b.items)
	return out
}

// Latest returns the most recent snapshot, if any.
func (b *Buffer) Latest() (models.EnrichedSnapshot, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.items) == 0 {
		return models.EnrichedSnapshot{}, false
	}
	return b.items[len(b.items)-1], true
}

// Tail returns a copy of the newest n snapshots, oldest first. n <= 0
// or n greater than the current length returns everything.
func (b *Buffer) Tail(n int) []models.EnrichedSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if n <= 0 || n > len(b.items) {
		n = len(b.items)
	}
	out := make([]models.EnrichedSnapshot, n)
	copy(out, b.items[len(b.items)-n:])
	return out
}

// Len reports the number of buffered snapshots.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.items)
}

// Anomalies flattens all anomalies currently in the buffer, tagging
// each with its snapshot timestamp, oldest first.
func (b *Buffer) Anomalies() []models.TimestampedAnomaly {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := []models.TimestampedAnomaly{}
	for _, snap := range b.items {
		for _, a := range snap.Anomalies {
			out = append(out, models.TimestampedAnomaly{
				Timestamp: snap.Timestamp,
				Type:      a.Type,
				Severity:  a.Severity,
				Message:   a.Message,
			})
		}
	}
	return out
}
