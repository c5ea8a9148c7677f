package eventbus

import (
	"testing"
	"time"

	"filesync-coordinator/internal/model"
	"filesync-coordinator/internal/storage"
	"filesync-coordinator/internal/vclock"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	store, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store, nil, 0)
}

func TestSubscribeIsIdempotentPerID(t *testing.T) {
	b := newTestBus(t)
	s1 := b.SubscribeDashboard("dash-1")
	s2 := b.SubscribeDashboard("dash-1")
	if s1 != s2 {
		t.Fatal("expected the same subscription object on repeat registration")
	}
}

func TestNodeSubscriptionSuppressesOwnEvents(t *testing.T) {
	b := newTestBus(t)
	sub := b.SubscribeNode("n1")

	if _, err := b.Publish(model.Event{Kind: model.EventFileModified, SourceNodeID: "n1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Publish(model.Event{Kind: model.EventFileModified, SourceNodeID: "n2"}); err != nil {
		t.Fatal(err)
	}

	select {
	case e := <-sub.Events:
		if e.SourceNodeID != "n2" {
			t.Fatalf("expected only n2's event, got source %q", e.SourceNodeID)
		}
	case <-time.After(time.Second):
		t.Fatal("expected to receive n2's event")
	}

	select {
	case e := <-sub.Events:
		t.Fatalf("did not expect a second event (echo suppressed), got %+v", e)
	default:
	}
}

func TestDashboardSubscriptionReceivesAllEvents(t *testing.T) {
	b := newTestBus(t)
	sub := b.SubscribeDashboard("dash-1")

	if _, err := b.Publish(model.Event{Kind: model.EventFileModified, SourceNodeID: "n1"}); err != nil {
		t.Fatal(err)
	}

	select {
	case e := <-sub.Events:
		if e.SourceNodeID != "n1" {
			t.Fatalf("unexpected event %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("expected to receive the event")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := newTestBus(t)
	sub := b.SubscribeDashboard("dash-1")
	b.Unsubscribe(Dashboard, "dash-1")

	_, ok := <-sub.Events
	if ok {
		t.Fatal("expected channel to be closed after unsubscribe")
	}
}

// S6 — causal sort: E1@{n1:1}, E2@{n1:2}, E3@{n2:1}, E4@{n1:2,n2:2}.
// Expected: E1 < E2, E1 < E3, E2 < E4, E3 < E4; E2/E3 concurrent, broken
// by timestamp then event_id.
func TestCausalEventsOrdersS6Scenario(t *testing.T) {
	b := newTestBus(t)
	base := time.Now().UTC()

	events := []model.Event{
		{EventID: "E1", Kind: model.EventFileModified, Timestamp: base, VectorClock: vclock.Clock{"n1": 1}},
		{EventID: "E2", Kind: model.EventFileModified, Timestamp: base.Add(1 * time.Second), VectorClock: vclock.Clock{"n1": 2}},
		{EventID: "E3", Kind: model.EventFileModified, Timestamp: base.Add(2 * time.Second), VectorClock: vclock.Clock{"n2": 1}},
		{EventID: "E4", Kind: model.EventFileModified, Timestamp: base.Add(3 * time.Second), VectorClock: vclock.Clock{"n1": 2, "n2": 2}},
	}
	for _, e := range events {
		if _, err := b.Publish(e); err != nil {
			t.Fatal(err)
		}
	}

	sorted := b.CausalEvents(0)
	pos := make(map[string]int, len(sorted))
	for i, e := range sorted {
		pos[e.EventID] = i
	}

	if pos["E1"] >= pos["E2"] {
		t.Fatal("expected E1 before E2")
	}
	if pos["E1"] >= pos["E3"] {
		t.Fatal("expected E1 before E3")
	}
	if pos["E2"] >= pos["E4"] {
		t.Fatal("expected E2 before E4")
	}
	if pos["E3"] >= pos["E4"] {
		t.Fatal("expected E3 before E4")
	}
}

func TestDetectConflictsFindsConcurrentModifications(t *testing.T) {
	events := []model.Event{
		{EventID: "e1", Kind: model.EventFileModified, FileID: "f1", SourceNodeID: "n1", VectorClock: vclock.Clock{"n1": 1}},
		{EventID: "e2", Kind: model.EventFileModified, FileID: "f1", SourceNodeID: "n2", VectorClock: vclock.Clock{"n2": 1}},
	}
	conflicts := DetectConflicts(events, "f1")
	if len(conflicts) != 1 {
		t.Fatalf("expected one conflict pair, got %d", len(conflicts))
	}
	c := conflicts[0]
	if c.FileID != "f1" {
		t.Fatal("wrong file id on conflict")
	}
}
