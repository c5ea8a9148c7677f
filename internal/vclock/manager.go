package vclock

import (
	"sort"
	"sync"
	"time"
)

// Manager owns every node's vector clock and is the single source of
// truth for causal ordering in the coordinator. It is safe for
// concurrent use: all mutation goes through a write lock, and readers
// always receive a copy so they can never observe (or corrupt) another
// goroutine's in-flight update.
type Manager struct {
	mu     sync.RWMutex
	clocks map[string]Clock
}

// NewManager returns an empty clock manager.
func NewManager() *Manager {
	return &Manager{clocks: make(map[string]Clock)}
}

// Register adds nodeID to the known set. Its own clock starts at 1 (the
// registration is itself the node's first event); every other known
// node's clock gains a zero entry for nodeID so future comparisons see a
// consistent key set. Calling Register again for an already-known node
// is idempotent: it returns the existing clock unchanged.
func (m *Manager) Register(nodeID string) Clock {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.clocks[nodeID]; ok {
		return existing.Copy()
	}

	clock := New()
	for known := range m.clocks {
		clock[known] = 0
	}
	clock[nodeID] = 1
	m.clocks[nodeID] = clock

	for id, c := range m.clocks {
		if id == nodeID {
			continue
		}
		c[nodeID] = 0
	}

	return clock.Copy()
}

// IncrementLocal bumps nodeID's own counter — call this whenever nodeID
// originates a local event (an upload, a delete, a restore). A node that
// is not yet known gets a fresh empty clock (so its counter becomes 1);
// unlike Register, this does not add the node to other nodes' clocks.
func (m *Manager) IncrementLocal(nodeID string) Clock {
	m.mu.Lock()
	defer m.mu.Unlock()

	clock, ok := m.clocks[nodeID]
	if !ok {
		clock = New()
		m.clocks[nodeID] = clock
	}
	clock.Increment(nodeID)
	return clock.Copy()
}

// MergeOnReceive folds senderClock into receiverID's clock (elementwise
// max) and then increments the receiver's own counter — the increment is
// what distinguishes "I now know about your history" from "nothing
// changed for me". An unknown receiver starts from an empty clock;
// unlike Register, this does not add it to other nodes' clocks.
func (m *Manager) MergeOnReceive(receiverID string, senderClock Clock) Clock {
	m.mu.Lock()
	defer m.mu.Unlock()

	receiver, ok := m.clocks[receiverID]
	if !ok {
		receiver = New()
	}
	merged := receiver.Merge(senderClock)
	merged.Increment(receiverID)
	m.clocks[receiverID] = merged
	return merged.Copy()
}

// Clock returns a snapshot of nodeID's current clock, or nil if unknown.
func (m *Manager) Clock(nodeID string) (Clock, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clocks[nodeID]
	if !ok {
		return nil, false
	}
	return c.Copy(), true
}

// Forget removes nodeID's clock entirely. Used when a node is removed
// from the fleet (§3 Node invariant: removal cascades).
func (m *Manager) Forget(nodeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clocks, nodeID)
}

// Compare is a convenience wrapper so callers don't need to import the
// Clock methods directly when all they have are two clock snapshots.
func Compare(a, b Clock) Relation {
	return a.Compare(b)
}

// TimedEvent is the minimal shape CausalSort needs: a clock, a physical
// timestamp for tie-breaking concurrent events, and a stable ID for the
// final tie-break when even timestamps collide.
type TimedEvent struct {
	ID        string
	Clock     Clock
	Timestamp time.Time
}

// CausalSort returns events in causal order: if a happened-before b, a
// sorts first. Concurrent pairs are broken deterministically by physical
// timestamp, then by event ID, so the result is always a total order
// even though "happened-before" itself is only partial.
func CausalSort(events []TimedEvent) []TimedEvent {
	sorted := make([]TimedEvent, len(events))
	copy(sorted, events)

	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		switch a.Clock.Compare(b.Clock) {
		case Before:
			return true
		case After:
			return false
		default:
			if !a.Timestamp.Equal(b.Timestamp) {
				return a.Timestamp.Before(b.Timestamp)
			}
			return a.ID < b.ID
		}
	})
	return sorted
}

// ConflictPair names two concurrent events touching the same file.
type ConflictPair struct {
	A, B TimedEvent
}

// DetectConflicts returns every pair of events in window whose clocks are
// Concurrent. Callers are expected to have already filtered window down
// to modify-events for a single file_id.
func DetectConflicts(window []TimedEvent) []ConflictPair {
	var conflicts []ConflictPair
	for i := 0; i < len(window); i++ {
		for j := i + 1; j < len(window); j++ {
			if window[i].Clock.Compare(window[j].Clock) == Concurrent {
				conflicts = append(conflicts, ConflictPair{A: window[i], B: window[j]})
			}
		}
	}
	return conflicts
}
