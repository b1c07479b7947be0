// Package history keeps the rolling window of recent round outcomes.
package history

import (
	"sync"

	"github.com/betbot/dicebot/internal/domain"
)

// DefaultWindow 历史窗口大小
const DefaultWindow = 10

// Tracker 有界的结果历史，按时间顺序存储（旧 -> 新）
type Tracker struct {
	mu       sync.RWMutex
	capacity int
	items    []domain.Outcome
}

// NewTracker creates a tracker holding at most capacity outcomes.
// capacity <= 0 falls back to DefaultWindow.
func NewTracker(capacity int) *Tracker {
	if capacity <= 0 {
		capacity = DefaultWindow
	}
	return &Tracker{
		capacity: capacity,
		items:    make([]domain.Outcome, 0, capacity),
	}
}

// Append adds the newest outcome and evicts the oldest beyond capacity.
func (t *Tracker) Append(o domain.Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.items) == t.capacity {
		copy(t.items, t.items[1:])
		t.items = t.items[:len(t.items)-1]
	}
	t.items = append(t.items, o)
}

// Replace swaps the whole window for a server snapshot (chronological order).
// Only the newest capacity entries are kept.
func (t *Tracker) Replace(outcomes []domain.Outcome) {
	if len(outcomes) > t.capacity {
		outcomes = outcomes[len(outcomes)-t.capacity:]
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items = t.items[:0]
	t.items = append(t.items, outcomes...)
}

// Recent returns up to k outcomes, most recent first.
func (t *Tracker) Recent(k int) []domain.Outcome {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if k > len(t.items) {
		k = len(t.items)
	}
	if k <= 0 {
		return nil
	}
	out := make([]domain.Outcome, 0, k)
	for i := len(t.items) - 1; i >= len(t.items)-k; i-- {
		out = append(out, t.items[i])
	}
	return out
}

// All returns a chronological copy of the window.
func (t *Tracker) All() []domain.Outcome {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.Outcome, len(t.items))
	copy(out, t.items)
	return out
}

// Labels projects the chronological window onto one history channel.
func (t *Tracker) Labels(channel string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.items))
	for _, o := range t.items {
		out = append(out, o.Label(channel))
	}
	return out
}

func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.items)
}

func (t *Tracker) Cap() int { return t.capacity }

// Clear drops every outcome.
func (t *Tracker) Clear() {
	t.mu.Lock()
	t.items = t.items[:0]
	t.mu.Unlock()
}
