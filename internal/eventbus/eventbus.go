// Package eventbus is the coordinator's causal spine: it durably
// records every state-changing event and fans it out to live
// subscribers, suppressing echo back to the node that originated an
// event.
//
// The fan-out follows the teacher's hub pattern — one goroutine-safe
// registry of subscriber channels, a single serialization point for
// publish order — generalized from a single broadcast-to-everyone
// channel to two subscription flavors (dashboard, node) with per-node
// echo suppression, and a bounded write deadline per subscriber instead
// of an unbounded buffered channel.
package eventbus

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"filesync-coordinator/internal/errs"
	"filesync-coordinator/internal/model"
	"filesync-coordinator/internal/storage"
	"filesync-coordinator/internal/vclock"
)

const subscriberBuffer = 32

// Bus is the coordinator's single event bus. All publish calls go
// through Publish, which durably appends before fanning out — so an
// event is never observed by a subscriber without also being in the
// durable log (spec §7: "no event is partially emitted").
type Bus struct {
	store *storage.Store
	log   *zap.Logger

	writeDeadline time.Duration

	subs subscriptionRegistry
}

// subscriptionRegistry holds both subscription flavors, keyed so that
// re-registering the same (kind, id) pair is idempotent.
type subscriptionRegistry struct {
	dashboard map[string]*Subscription
	node      map[string]*Subscription
	guard     chan struct{} // 1-buffered mutex; avoids importing sync just for this
}

func newRegistry() subscriptionRegistry {
	r := subscriptionRegistry{
		dashboard: make(map[string]*Subscription),
		node:      make(map[string]*Subscription),
		guard:     make(chan struct{}, 1),
	}
	r.guard <- struct{}{}
	return r
}

func (r *subscriptionRegistry) lock()   { <-r.guard }
func (r *subscriptionRegistry) unlock() { r.guard <- struct{}{} }

// New builds an event bus backed by store. writeDeadline bounds how long
// the bus waits on a slow subscriber before dropping it; zero (or a
// negative value) means the bus does not wait at all: a subscriber whose
// buffered channel is full is dropped at once.
func New(store *storage.Store, log *zap.Logger, writeDeadline time.Duration) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		store:         store,
		log:           log,
		writeDeadline: writeDeadline,
		subs:          newRegistry(),
	}
}

// Publish appends e to durable storage (assigning an event_id if unset)
// and fans it out to every live subscriber, skipping the node
// subscription whose ID equals e.SourceNodeID.
func (b *Bus) Publish(e model.Event) (model.Event, error) {
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	if err := b.store.AppendEvent(e); err != nil {
		return model.Event{}, err
	}

	b.fanOut(e)
	return e, nil
}

func (b *Bus) fanOut(e model.Event) {
	b.subs.lock()
	dashboards := make([]*Subscription, 0, len(b.subs.dashboard))
	for _, s := range b.subs.dashboard {
		dashboards = append(dashboards, s)
	}
	nodes := make([]*Subscription, 0, len(b.subs.node))
	for _, s := range b.subs.node {
		if s.ID == e.SourceNodeID {
			continue // echo suppression
		}
		nodes = append(nodes, s)
	}
	b.subs.unlock()

	for _, s := range dashboards {
		b.deliver(s, e)
	}
	for _, s := range nodes {
		b.deliver(s, e)
	}
}

// deliver sends e to s, respecting the bus's write deadline. A
// subscriber that can't drain its channel in time is dropped — the
// SubscriberDead failure mode is handled silently here, per §7.
func (b *Bus) deliver(s *Subscription, e model.Event) {
	if s.isClosed() {
		return
	}

	if b.writeDeadline <= 0 {
		select {
		case s.Events <- e:
		default:
			b.dropSubscriber(s)
		}
		return
	}

	timer := time.NewTimer(b.writeDeadline)
	defer timer.Stop()
	select {
	case s.Events <- e:
	case <-timer.C:
		b.log.Warn("subscriber write deadline exceeded, dropping",
			zap.String("kind", string(s.Kind)), zap.String("id", s.ID))
		b.dropSubscriber(s)
	}
}

func (b *Bus) dropSubscriber(s *Subscription) {
	b.subs.lock()
	switch s.Kind {
	case Dashboard:
		delete(b.subs.dashboard, s.ID)
	case Node:
		delete(b.subs.node, s.ID)
	}
	b.subs.unlock()
	s.Close()
}

// SubscribeDashboard registers (or returns the existing) dashboard
// subscription for id. Registration is idempotent per id.
func (b *Bus) SubscribeDashboard(id string) *Subscription {
	b.subs.lock()
	defer b.subs.unlock()

	if existing, ok := b.subs.dashboard[id]; ok {
		return existing
	}
	s := newSubscription(Dashboard, id, subscriberBuffer)
	b.subs.dashboard[id] = s
	return s
}

// SubscribeNode registers (or returns the existing) node subscription
// for nodeID.
func (b *Bus) SubscribeNode(nodeID string) *Subscription {
	b.subs.lock()
	defer b.subs.unlock()

	if existing, ok := b.subs.node[nodeID]; ok {
		return existing
	}
	s := newSubscription(Node, nodeID, subscriberBuffer)
	b.subs.node[nodeID] = s
	return s
}

// Unsubscribe drops id's subscription of the given kind and releases
// its resources.
func (b *Bus) Unsubscribe(kind Kind, id string) {
	b.subs.lock()
	var s *Subscription
	switch kind {
	case Dashboard:
		s = b.subs.dashboard[id]
		delete(b.subs.dashboard, id)
	case Node:
		s = b.subs.node[id]
		delete(b.subs.node, id)
	}
	b.subs.unlock()

	if s != nil {
		s.Close()
	}
}

// ListRecent returns the most recent events, newest first.
func (b *Bus) ListRecent(limit int) []model.Event {
	return b.store.ListRecentEvents(limit)
}

// ListUnprocessed returns every unprocessed event, oldest first.
func (b *Bus) ListUnprocessed() []model.Event {
	return b.store.ListUnprocessedEvents()
}

// MarkProcessed flips an event's processed flag.
func (b *Bus) MarkProcessed(eventID string) error {
	return b.store.MarkEventProcessed(eventID)
}

// CausalEvents returns up to limit recent events in causal order
// (vclock.CausalSort), rather than publish order.
func (b *Bus) CausalEvents(limit int) []model.Event {
	recent := b.store.ListRecentEvents(limit)

	timed := make([]vclock.TimedEvent, len(recent))
	byID := make(map[string]model.Event, len(recent))
	for i, e := range recent {
		timed[i] = e.ToTimedEvent()
		byID[e.EventID] = e
	}

	sorted := vclock.CausalSort(timed)
	out := make([]model.Event, len(sorted))
	for i, t := range sorted {
		out[i] = byID[t.ID]
	}
	return out
}

// DetectConflicts scans fileID's modify-events for concurrent pairs and
// returns them as Conflict records ready to persist. It does not persist
// them itself — callers decide whether a pair has already been reported.
func DetectConflicts(events []model.Event, fileID string) []model.Conflict {
	var modifyEvents []model.Event
	for _, e := range events {
		if e.FileID == fileID && (e.Kind == model.EventFileModified || e.Kind == model.EventFileCreated) {
			modifyEvents = append(modifyEvents, e)
		}
	}

	timed := make([]vclock.TimedEvent, len(modifyEvents))
	byID := make(map[string]model.Event, len(modifyEvents))
	for i, e := range modifyEvents {
		timed[i] = e.ToTimedEvent()
		byID[e.EventID] = e
	}

	pairs := vclock.DetectConflicts(timed)
	out := make([]model.Conflict, 0, len(pairs))
	for _, p := range pairs {
		a, b := byID[p.A.ID], byID[p.B.ID]
		out = append(out, model.Conflict{
			ConflictID: uuid.NewString(),
			FileID:     fileID,
			NodeA:      a.SourceNodeID,
			NodeB:      b.SourceNodeID,
			VersionA:   stringPayload(a.Payload, "version_id"),
			VersionB:   stringPayload(b.Payload, "version_id"),
			DetectedAt: time.Now().UTC(),
		})
	}
	return out
}

func stringPayload(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

// ErrUnknownEventKind surfaces the boundary validation the spec requires
// for an unrecognized event kind.
func ErrUnknownEventKind(kind model.EventKind) error {
	return errs.BadRequestf("unknown event kind %q", kind)
}
