// Package history keeps a bounded, insertion-ordered record of recognized signs.
package history

import (
	"sync"
	"time"

	"github.com/signbridge/signbridge/pkg/recognition"
)

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 50

// History is a fixed-capacity FIFO of predictions. The oldest entry is
// evicted once the capacity is reached.
type History struct {
	mu    sync.RWMutex
	buf   []recognition.PredictionResult
	start int
	count int
}

// New creates an empty history holding at most capacity entries.
func New(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &History{buf: make([]recognition.PredictionResult, capacity)}
}

// Append adds p as the newest entry. When the history is full the oldest
// entry is removed and returned with evicted set to true.
func (h *History) Append(p recognition.PredictionResult) (removed recognition.PredictionResult, evicted bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	capacity := len(h.buf)
	if h.count < capacity {
		h.buf[(h.start+h.count)%capacity] = p
		h.count++
		return removed, false
	}

	removed = h.buf[h.start]
	h.buf[h.start] = p
	h.start = (h.start + 1) % capacity
	return removed, true
}

// Items returns a copy of all entries, oldest first.
func (h *History) Items() []recognition.PredictionResult {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.itemsLocked()
}

func (h *History) itemsLocked() []recognition.PredictionResult {
	out := make([]recognition.PredictionResult, h.count)
	for i := 0; i < h.count; i++ {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}

// Latest returns the newest entry, if any.
func (h *History) Latest() (recognition.PredictionResult, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.count == 0 {
		return recognition.PredictionResult{}, false
	}
	return h.buf[(h.start+h.count-1)%len(h.buf)], true
}

// Len returns the number of stored entries.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Cap returns the maximum number of entries.
func (h *History) Cap() int {
	return len(h.buf)
}

// Clear removes all entries and reports how many were dropped.
func (h *History) Clear() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := h.count
	clear(h.buf)
	h.start = 0
	h.count = 0
	return n
}

// Export is a serializable snapshot of the history.
type Export struct {
	GeneratedAt time.Time                      `json:"generated_at"`
	Capacity    int                            `json:"capacity"`
	Entries     []recognition.PredictionResult `json:"entries"`
}

// Export returns a snapshot of the current entries.
func (h *History) Export() Export {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Export{
		GeneratedAt: time.Now().UTC(),
		Capacity:    len(h.buf),
		Entries:     h.itemsLocked(),
	}
}
