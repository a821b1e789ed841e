// Package threat holds the stateless signature matchers and the sliding-window
// counters used by the detection engine. Nothing in this package performs I/O.
package threat

import (
	"sync"
	"time"
)

// Window is an ordered history of event instants for one key. Entries older
// than the retention period are evicted lazily on each access; counting within
// any duration shorter than the retention stays exact regardless of how long
// stale entries remain physically present.
type Window struct {
	retention time.Duration
	events    []time.Time
}

// NewWindow creates a window that retains events for at most the given
// duration. Retention must cover the largest counting window in use.
func NewWindow(retention time.Duration) *Window {
	return &Window{retention: retention}
}

// Record appends an event at the given instant.
func (w *Window) Record(now time.Time) {
	w.evict(now)
	w.events = append(w.events, now)
}

// Count returns the number of events younger than d at the given instant.
func (w *Window) Count(d time.Duration, now time.Time) int {
	w.evict(now)
	n := 0
	for i := len(w.events) - 1; i >= 0; i-- {
		if now.Sub(w.events[i]) < d {
			n++
		} else {
			break
		}
	}
	return n
}

// Len returns the number of retained events.
func (w *Window) Len() int {
	return len(w.events)
}

// newest returns the most recent event instant, or the zero time when empty.
func (w *Window) newest() time.Time {
	if len(w.events) == 0 {
		return time.Time{}
	}
	return w.events[len(w.events)-1]
}

func (w *Window) evict(now time.Time) {
	cut := 0
	for cut < len(w.events) && now.Sub(w.events[cut]) >= w.retention {
		cut++
	}
	if cut > 0 {
		w.events = append(w.events[:0], w.events[cut:]...)
	}
}

// WindowMap is a keyed collection of Windows. It is safe for concurrent use;
// all operations are in-memory read-modify-write sequences under one lock.
type WindowMap struct {
	mu        sync.Mutex
	retention time.Duration
	windows   map[string]*Window
}

// NewWindowMap creates an empty keyed window collection.
func NewWindowMap(retention time.Duration) *WindowMap {
	return &WindowMap{
		retention: retention,
		windows:   make(map[string]*Window),
	}
}

// Record appends an event for key and returns the count of events for that
// key younger than d, the current event included.
func (m *WindowMap) Record(key string, d time.Duration, now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[key]
	if !ok {
		w = NewWindow(m.retention)
		m.windows[key] = w
	}
	w.Record(now)
	return w.Count(d, now)
}

// Count returns the number of events for key younger than d, without
// recording a new event.
func (m *WindowMap) Count(key string, d time.Duration, now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[key]
	if !ok {
		return 0
	}
	return w.Count(d, now)
}

// Newest returns the most recent event instant for key, or the zero time
// when the key has no retained events.
func (m *WindowMap) Newest(key string) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[key]
	if !ok {
		return time.Time{}
	}
	return w.newest()
}

// Clear drops all state for a key.
func (m *WindowMap) Clear(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.windows, key)
}

// Prune garbage-collects windows that have been empty past the grace period:
// a window whose newest event is older than retention+grace is dropped whole.
func (m *WindowMap) Prune(grace time.Duration, now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, w := range m.windows {
		if now.Sub(w.newest()) >= m.retention+grace {
			delete(m.windows, key)
			removed++
		}
	}
	return removed
}
