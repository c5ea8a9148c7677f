package vclock

import (
	"testing"
	"time"
)

func TestRegisterSetsOwnCounterToOne(t *testing.T) {
	m := NewManager()
	clock := m.Register("n1")
	if clock.Get("n1") != 1 {
		t.Fatalf("expected n1's own counter to be 1, got %d", clock.Get("n1"))
	}
}

func TestRegisterExtendsExistingClocks(t *testing.T) {
	m := NewManager()
	m.Register("n1")
	m.Register("n2")

	c1, _ := m.Clock("n1")
	if _, ok := c1["n2"]; !ok {
		t.Fatal("n1's clock should have been extended with n2 at 0")
	}
	if c1["n2"] != 0 {
		t.Fatalf("n1's view of n2 should be 0, got %d", c1["n2"])
	}
}

func TestRegisterTwiceIsIdempotent(t *testing.T) {
	m := NewManager()
	first := m.Register("n1")
	second := m.Register("n1")

	if first.Compare(second) != Equal {
		t.Fatalf("second Register should return the same clock, got %v vs %v", first, second)
	}
}

func TestIncrementLocalStrictlyExceedsPriorValue(t *testing.T) {
	m := NewManager()
	m.Register("n1")
	before, _ := m.Clock("n1")

	after := m.IncrementLocal("n1")
	if after.Get("n1") <= before.Get("n1") {
		t.Fatalf("IncrementLocal must strictly increase n1's own entry: before=%d after=%d",
			before.Get("n1"), after.Get("n1"))
	}
}

func TestMergeOnReceiveDominatesSender(t *testing.T) {
	m := NewManager()
	m.Register("n1")
	m.Register("n2")

	sender := Clock{"n1": 1, "n2": 5}
	merged := m.MergeOnReceive("n1", sender)

	if !merged.Dominates(sender) {
		t.Fatalf("merged clock %v does not dominate sender clock %v", merged, sender)
	}
}

func TestCausalSortOrdersByHappensBeforeThenTiebreak(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e1 := TimedEvent{ID: "e1", Clock: Clock{"n1": 1}, Timestamp: base}
	e2 := TimedEvent{ID: "e2", Clock: Clock{"n1": 2}, Timestamp: base.Add(time.Second)}
	e3 := TimedEvent{ID: "e3", Clock: Clock{"n2": 1}, Timestamp: base.Add(2 * time.Second)}
	e4 := TimedEvent{ID: "e4", Clock: Clock{"n1": 2, "n2": 2}, Timestamp: base.Add(3 * time.Second)}

	sorted := CausalSort([]TimedEvent{e4, e3, e2, e1})

	pos := map[string]int{}
	for i, e := range sorted {
		pos[e.ID] = i
	}

	if !(pos["e1"] < pos["e2"]) {
		t.Fatal("e1 must sort before e2")
	}
	if !(pos["e1"] < pos["e3"]) {
		t.Fatal("e1 must sort before e3")
	}
	if !(pos["e2"] < pos["e4"]) {
		t.Fatal("e2 must sort before e4")
	}
	if !(pos["e3"] < pos["e4"]) {
		t.Fatal("e3 must sort before e4")
	}
	// e2 and e3 are concurrent; tie broken by timestamp, so e2 (earlier) first.
	if !(pos["e2"] < pos["e3"]) {
		t.Fatal("concurrent e2/e3 should tie-break by timestamp (e2 earlier)")
	}
}

func TestDetectConflictsFindsConcurrentPairs(t *testing.T) {
	now := time.Now()
	events := []TimedEvent{
		{ID: "a", Clock: Clock{"n1": 1}, Timestamp: now},
		{ID: "b", Clock: Clock{"n2": 1}, Timestamp: now},
		{ID: "c", Clock: Clock{"n1": 2, "n2": 1}, Timestamp: now},
	}

	conflicts := DetectConflicts(events)
	if len(conflicts) != 1 {
		t.Fatalf("expected exactly 1 conflicting pair (a,b), got %d", len(conflicts))
	}
	if conflicts[0].A.ID != "a" || conflicts[0].B.ID != "b" {
		t.Fatalf("expected conflict between a and b, got %s and %s", conflicts[0].A.ID, conflicts[0].B.ID)
	}
}
