package threat

import (
	"sync"
	"time"
)

// MemberWindow tracks the set of distinct members observed per key within a
// sliding window. It backs endpoint-scan detection (members are paths),
// credential-stuffing detection (members are usernames) and bearer-token
// replay association (members are source IPs). Members unseen for longer than
// the window are evicted lazily, so the sets cannot grow without bound.
type MemberWindow struct {
	mu      sync.Mutex
	window  time.Duration
	members map[string]map[string]time.Time
}

// NewMemberWindow creates an empty member tracker with the given window.
func NewMemberWindow(window time.Duration) *MemberWindow {
	return &MemberWindow{
		window:  window,
		members: make(map[string]map[string]time.Time),
	}
}

// Observe records that member was seen for key at the given instant. It
// returns the number of distinct members currently within the window (the
// observed member included) and whether the member was already known for the
// key before this observation.
func (m *MemberWindow) Observe(key, member string, now time.Time) (count int, known bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.members[key]
	if !ok {
		set = make(map[string]time.Time)
		m.members[key] = set
	}

	for mem, last := range set {
		if now.Sub(last) >= m.window {
			delete(set, mem)
		}
	}

	_, known = set[member]
	set[member] = now
	return len(set), known
}

// Distinct returns the number of distinct members for key within the window
// without recording an observation.
func (m *MemberWindow) Distinct(key string, now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.members[key]
	if !ok {
		return 0
	}
	n := 0
	for _, last := range set {
		if now.Sub(last) < m.window {
			n++
		}
	}
	return n
}

// ObserveMembers records member for key like Observe, but returns the
// members that were within the window before this observation instead of a
// count. The snapshot and the recording share one critical section, so the
// listing is exactly the set the known result was decided against.
func (m *MemberWindow) ObserveMembers(key, member string, now time.Time) (prior []string, known bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.members[key]
	if !ok {
		set = make(map[string]time.Time)
		m.members[key] = set
	}

	for mem, last := range set {
		if now.Sub(last) >= m.window {
			delete(set, mem)
		}
	}

	prior = make([]string, 0, len(set))
	for mem := range set {
		prior = append(prior, mem)
	}
	_, known = set[member]
	set[member] = now
	return prior, known
}

// Prune garbage-collects keys whose every member has aged past the window
// plus the grace period.
func (m *MemberWindow) Prune(grace time.Duration, now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, set := range m.members {
		stale := true
		for _, last := range set {
			if now.Sub(last) < m.window+grace {
				stale = false
				break
			}
		}
		if stale {
			delete(m.members, key)
			removed++
		}
	}
	return removed
}
