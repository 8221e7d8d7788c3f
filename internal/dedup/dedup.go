// Package dedup suppresses repeated run events inside a sliding time window.
package dedup

import (
	"container/heap"
	"sync"
	"time"
)

// DefaultWindow is the suppression window used when none is configured.
const DefaultWindow = 1000 * time.Millisecond

// Deduplicator records (type, message) signatures and suppresses events that
// repeat a signature recorded less than the window ago. Expired signatures
// are evicted through a min-heap ordered by record time, so memory stays
// proportional to the number of live signatures.
type Deduplicator struct {
	mu         sync.Mutex
	window     time.Duration
	seen       map[string]time.Time
	expiry     expiryHeap
	suppressed uint64
	nowFn      func() time.Time
}

// New creates a deduplicator with the given window.
// Non-positive windows fall back to DefaultWindow.
func New(window time.Duration) *Deduplicator {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Deduplicator{
		window: window,
		seen:   make(map[string]time.Time),
		nowFn:  time.Now,
	}
}

// ShouldSuppress reports whether an event with this type and message repeats
// one recorded less than the window ago. An event observed exactly at the
// window boundary is recorded again. Suppressed events do not refresh the
// window; it is always measured from the last recorded event.
func (d *Deduplicator) ShouldSuppress(eventType, message string) bool {
	key := eventType + "|" + message
	now := d.nowFn()

	d.mu.Lock()
	defer d.mu.Unlock()

	d.evict(now)

	if then, ok := d.seen[key]; ok && now.Sub(then) < d.window {
		d.suppressed++
		return true
	}
	d.seen[key] = now
	heap.Push(&d.expiry, expiryEntry{key: key, recordedAt: now})
	return false
}

// Suppressed returns the number of events suppressed since creation or the
// last Reset.
func (d *Deduplicator) Suppressed() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.suppressed
}

// Len returns the number of live signatures.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// Reset drops all recorded signatures and zeroes the suppressed counter.
func (d *Deduplicator) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen = make(map[string]time.Time)
	d.expiry = d.expiry[:0]
	d.suppressed = 0
}

// evict pops heap entries whose window has elapsed. A map entry is removed
// only when it still carries the timestamp the heap entry recorded.
func (d *Deduplicator) evict(now time.Time) {
	for len(d.expiry) > 0 {
		head := d.expiry[0]
		if now.Sub(head.recordedAt) < d.window {
			return
		}
		heap.Pop(&d.expiry)
		if ts, ok := d.seen[head.key]; ok && ts.Equal(head.recordedAt) {
			delete(d.seen, head.key)
		}
	}
}

type expiryEntry struct {
	key        string
	recordedAt time.Time
}

type expiryHeap []expiryEntry

func (h expiryHeap) Len() int           { return len(h) }
func (h expiryHeap) Less(i, j int) bool { return h[i].recordedAt.Before(h[j].recordedAt) }
func (h expiryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *expiryHeap) Push(x any) {
	*h = append(*h, x.(expiryEntry))
}

func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	*h = old[:n-1]
	return entry
}
