// Package storage is the coordinator's persistence layer: durable tables
// for nodes, files, events, and conflicts (plus a network-metrics side
// table), backed by the same WAL-then-snapshot discipline a key-value
// store uses for a single table — generalized here to five logical
// tables sharing one log and one snapshot file.
//
// Every write durably appends to the WAL before the in-memory index is
// updated; on restart the last snapshot is loaded and the WAL entries
// written after it are replayed. Auxiliary index maps (by owner, by
// file, by node) are maintained in the same critical section as the
// primary table so a reader never observes an index out of sync with
// the row it points to.
package storage

import (
	"path/filepath"
	"sort"
	"sync"
	"time"

	"filesync-coordinator/internal/errs"
	"filesync-coordinator/internal/model"
)

// Store is the coordinator's single persistence engine.
type Store struct {
	mu  sync.RWMutex
	wal *wal
	dir string

	nodes map[string]model.Node

	files map[string]model.FileMetadata
	// indexes
	filesByOwner map[string]map[string]bool // owner_node_id -> set(file_id)
	filesByHash  map[string]map[string]bool // content_hash -> set(file_id)

	events      []model.Event // append order == published order
	eventByID   map[string]int
	eventsByNode map[string][]string
	eventsByFile map[string][]string

	conflicts       map[string]model.Conflict
	conflictsByFile map[string]map[string]bool

	metrics []model.NetworkMetric
}

// New opens (or creates) a storage engine rooted at dir: loads the most
// recent snapshot, then replays WAL entries written after it.
func New(dir string) (*Store, error) {
	s := &Store{
		dir:             dir,
		nodes:           make(map[string]model.Node),
		files:           make(map[string]model.FileMetadata),
		filesByOwner:    make(map[string]map[string]bool),
		filesByHash:     make(map[string]map[string]bool),
		eventByID:       make(map[string]int),
		eventsByNode:    make(map[string][]string),
		eventsByFile:    make(map[string][]string),
		conflicts:       make(map[string]model.Conflict),
		conflictsByFile: make(map[string]map[string]bool),
	}

	snapshotPath := filepath.Join(dir, "snapshot.json")
	snap, err := loadSnapshot(snapshotPath)
	if err != nil {
		return nil, errs.Wrap(errs.StorageUnavailable, "load snapshot", err)
	}
	s.restore(snap)

	w, err := openWAL(filepath.Join(dir, "wal.log"))
	if err != nil {
		return nil, errs.Wrap(errs.StorageUnavailable, "open wal", err)
	}
	s.wal = w

	entries, err := w.readAll()
	if err != nil {
		return nil, errs.Wrap(errs.StorageUnavailable, "replay wal", err)
	}
	for _, e := range entries {
		s.applyEntry(e)
	}

	return s, nil
}

func (s *Store) restore(snap snapshotData) {
	for id, n := range snap.Nodes {
		s.nodes[id] = n
	}
	for id, f := range snap.Files {
		s.files[id] = f
		s.indexFile(f)
	}
	for _, e := range snap.Events {
		s.indexEvent(e)
	}
	for id, c := range snap.Conflicts {
		s.conflicts[id] = c
		s.indexConflict(c)
	}
	s.metrics = append(s.metrics, snap.Metrics...)
}

// applyEntry replays a single WAL entry into memory without re-appending
// to the WAL — used only during startup recovery.
func (s *Store) applyEntry(e walEntry) {
	switch e.Op {
	case opPutNode:
		s.nodes[e.Node.NodeID] = *e.Node
	case opRemoveNode:
		s.removeNodeCascade(e.ID)
	case opPutFile:
		s.files[e.File.FileID] = *e.File
		s.indexFile(*e.File)
	case opSoftDeleteFile:
		if f, ok := s.files[e.ID]; ok {
			f.IsDeleted = true
			s.files[e.ID] = f
		}
	case opAppendEvent:
		s.indexEvent(*e.Event)
	case opMarkProcessed:
		if idx, ok := s.eventByID[e.ID]; ok {
			s.events[idx].Processed = true
		}
	case opPutConflict:
		s.conflicts[e.Conflict.ConflictID] = *e.Conflict
		s.indexConflict(*e.Conflict)
	case opResolveConflict:
		if c, ok := s.conflicts[e.ID]; ok {
			now := time.Now().UTC()
			c.IsResolved = true
			c.ResolvedAt = &now
			c.Strategy = e.Strategy
			c.ResolvedVersionID = e.Resolved
			s.conflicts[e.ID] = c
		}
	case opAppendMetric:
		s.metrics = append(s.metrics, *e.Metric)
	case opPurgeEventsUntil:
		s.purgeProcessedBefore(time.Unix(0, e.CutoffNS))
	}
}

func (s *Store) indexFile(f model.FileMetadata) {
	if s.filesByOwner[f.OwnerNodeID] == nil {
		s.filesByOwner[f.OwnerNodeID] = make(map[string]bool)
	}
	s.filesByOwner[f.OwnerNodeID][f.FileID] = true

	if s.filesByHash[f.ContentHash] == nil {
		s.filesByHash[f.ContentHash] = make(map[string]bool)
	}
	s.filesByHash[f.ContentHash][f.FileID] = true
}

func (s *Store) indexEvent(e model.Event) {
	s.eventByID[e.EventID] = len(s.events)
	s.events = append(s.events, e)
	if e.SourceNodeID != "" {
		s.eventsByNode[e.SourceNodeID] = append(s.eventsByNode[e.SourceNodeID], e.EventID)
	}
	if e.FileID != "" {
		s.eventsByFile[e.FileID] = append(s.eventsByFile[e.FileID], e.EventID)
	}
}

func (s *Store) indexConflict(c model.Conflict) {
	if s.conflictsByFile[c.FileID] == nil {
		s.conflictsByFile[c.FileID] = make(map[string]bool)
	}
	s.conflictsByFile[c.FileID][c.ConflictID] = true
}

// ── Node table ──────────────────────────────────────────────────────

// RegisterNode inserts or replaces a node record.
func (s *Store) RegisterNode(n model.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.wal.append(walEntry{Op: opPutNode, Node: &n}); err != nil {
		return errs.Wrap(errs.StorageUnavailable, "register node", err)
	}
	s.nodes[n.NodeID] = n
	return nil
}

func (s *Store) GetNode(id string) (model.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[id]
	if !ok {
		return model.Node{}, errs.NotFoundf("node %q not found", id)
	}
	return n, nil
}

func (s *Store) ListNodes() []model.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

func (s *Store) ListOnlineNodes() []model.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Node
	for _, n := range s.nodes {
		if n.Status == model.NodeOnline {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

// UpdateNodeStatus sets a node's status and last-seen timestamp.
func (s *Store) UpdateNodeStatus(id string, status model.NodeStatus, lastSeen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[id]
	if !ok {
		return errs.NotFoundf("node %q not found", id)
	}
	n.Status = status
	n.LastSeen = lastSeen

	if err := s.wal.append(walEntry{Op: opPutNode, Node: &n}); err != nil {
		return errs.Wrap(errs.StorageUnavailable, "update node status", err)
	}
	s.nodes[id] = n
	return nil
}

// RemoveNode deletes a node and cascades to every event, metric, and
// conflict that references it (§3 Node invariant).
func (s *Store) RemoveNode(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[id]; !ok {
		return errs.NotFoundf("node %q not found", id)
	}
	if err := s.wal.append(walEntry{Op: opRemoveNode, ID: id}); err != nil {
		return errs.Wrap(errs.StorageUnavailable, "remove node", err)
	}
	s.removeNodeCascade(id)
	return nil
}

func (s *Store) removeNodeCascade(id string) {
	delete(s.nodes, id)

	kept := s.events[:0:0]
	for _, e := range s.events {
		if e.SourceNodeID == id {
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	s.eventByID = make(map[string]int, len(s.events))
	delete(s.eventsByNode, id)
	for i, e := range s.events {
		s.eventByID[e.EventID] = i
	}
	s.eventsByFile = make(map[string][]string)
	for _, e := range s.events {
		if e.FileID != "" {
			s.eventsByFile[e.FileID] = append(s.eventsByFile[e.FileID], e.EventID)
		}
	}

	keptMetrics := s.metrics[:0:0]
	for _, m := range s.metrics {
		if m.NodeID != id {
			keptMetrics = append(keptMetrics, m)
		}
	}
	s.metrics = keptMetrics

	for cid, c := range s.conflicts {
		if c.NodeA == id || c.NodeB == id {
			delete(s.conflicts, cid)
			delete(s.conflictsByFile[c.FileID], cid)
		}
	}
}

// ── File table ──────────────────────────────────────────────────────

// UpsertFile inserts or replaces a file metadata record.
func (s *Store) UpsertFile(f model.FileMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.wal.append(walEntry{Op: opPutFile, File: &f}); err != nil {
		return errs.Wrap(errs.StorageUnavailable, "upsert file", err)
	}
	s.files[f.FileID] = f
	s.indexFile(f)
	return nil
}

func (s *Store) GetFile(id string) (model.FileMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.files[id]
	if !ok {
		return model.FileMetadata{}, errs.NotFoundf("file %q not found", id)
	}
	return f, nil
}

// ListFilesByOwner returns owner's files, excluding soft-deleted ones
// unless includeDeleted is set.
func (s *Store) ListFilesByOwner(owner string, includeDeleted bool) []model.FileMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.FileMetadata
	for id := range s.filesByOwner[owner] {
		f := s.files[id]
		if f.IsDeleted && !includeDeleted {
			continue
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FileID < out[j].FileID })
	return out
}

func (s *Store) ListFiles(includeDeleted bool) []model.FileMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.FileMetadata, 0, len(s.files))
	for _, f := range s.files {
		if f.IsDeleted && !includeDeleted {
			continue
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FileID < out[j].FileID })
	return out
}

// SoftDeleteFile marks a file deleted without removing any version.
func (s *Store) SoftDeleteFile(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[id]
	if !ok {
		return errs.NotFoundf("file %q not found", id)
	}
	if err := s.wal.append(walEntry{Op: opSoftDeleteFile, ID: id}); err != nil {
		return errs.Wrap(errs.StorageUnavailable, "soft delete file", err)
	}
	f.IsDeleted = true
	s.files[id] = f
	return nil
}

// ── Event table ─────────────────────────────────────────────────────

// AppendEvent durably records an event. Published order is the order
// events are accepted here — the bus's single serialization point.
func (s *Store) AppendEvent(e model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !model.KnownEventKinds[e.Kind] {
		return errs.BadRequestf("unknown event kind %q", e.Kind)
	}
	if err := s.wal.append(walEntry{Op: opAppendEvent, Event: &e}); err != nil {
		return errs.Wrap(errs.StorageUnavailable, "append event", err)
	}
	s.indexEvent(e)
	return nil
}

// ListRecentEvents returns up to limit events, newest first.
func (s *Store) ListRecentEvents(limit int) []model.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.events)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]model.Event, limit)
	for i := 0; i < limit; i++ {
		out[i] = s.events[n-1-i]
	}
	return out
}

// ListUnprocessedEvents returns every event with processed=false, oldest
// first (append order).
func (s *Store) ListUnprocessedEvents() []model.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Event
	for _, e := range s.events {
		if !e.Processed {
			out = append(out, e)
		}
	}
	return out
}

// ListEventsByFile returns every event referencing fileID, append order.
func (s *Store) ListEventsByFile(fileID string) []model.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.eventsByFile[fileID]
	out := make([]model.Event, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.events[s.eventByID[id]])
	}
	return out
}

// MarkEventProcessed flips processed false→true. Idempotent.
func (s *Store) MarkEventProcessed(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.eventByID[id]
	if !ok {
		return errs.NotFoundf("event %q not found", id)
	}
	if err := s.wal.append(walEntry{Op: opMarkProcessed, ID: id}); err != nil {
		return errs.Wrap(errs.StorageUnavailable, "mark event processed", err)
	}
	s.events[idx].Processed = true
	return nil
}

// PurgeProcessedOlderThan deletes processed events whose timestamp is
// before cutoff, returning the number removed.
func (s *Store) PurgeProcessedOlderThan(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.wal.append(walEntry{Op: opPurgeEventsUntil, CutoffNS: cutoff.UnixNano()}); err != nil {
		return 0, errs.Wrap(errs.StorageUnavailable, "purge events", err)
	}
	return s.purgeProcessedBefore(cutoff), nil
}

func (s *Store) purgeProcessedBefore(cutoff time.Time) int {
	kept := s.events[:0:0]
	removed := 0
	for _, e := range s.events {
		if e.Processed && e.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	s.eventByID = make(map[string]int, len(s.events))
	s.eventsByNode = make(map[string][]string)
	s.eventsByFile = make(map[string][]string)
	for i, e := range s.events {
		s.eventByID[e.EventID] = i
		if e.SourceNodeID != "" {
			s.eventsByNode[e.SourceNodeID] = append(s.eventsByNode[e.SourceNodeID], e.EventID)
		}
		if e.FileID != "" {
			s.eventsByFile[e.FileID] = append(s.eventsByFile[e.FileID], e.EventID)
		}
	}
	return removed
}

// ── Conflict table ──────────────────────────────────────────────────

func (s *Store) AppendConflict(c model.Conflict) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.wal.append(walEntry{Op: opPutConflict, Conflict: &c}); err != nil {
		return errs.Wrap(errs.StorageUnavailable, "append conflict", err)
	}
	s.conflicts[c.ConflictID] = c
	s.indexConflict(c)
	return nil
}

func (s *Store) GetConflict(id string) (model.Conflict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conflicts[id]
	if !ok {
		return model.Conflict{}, errs.NotFoundf("conflict %q not found", id)
	}
	return c, nil
}

func (s *Store) ListUnresolvedConflicts() []model.Conflict {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Conflict
	for _, c := range s.conflicts {
		if !c.IsResolved {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.Before(out[j].DetectedAt) })
	return out
}

// ResolveConflict is one-way: is_resolved false→true.
func (s *Store) ResolveConflict(id, strategy, resolvedVersionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conflicts[id]
	if !ok {
		return errs.NotFoundf("conflict %q not found", id)
	}
	if c.IsResolved {
		return errs.InvariantViolationf("conflict %q already resolved", id)
	}

	if err := s.wal.append(walEntry{Op: opResolveConflict, ID: id, Strategy: strategy, Resolved: resolvedVersionID}); err != nil {
		return errs.Wrap(errs.StorageUnavailable, "resolve conflict", err)
	}
	now := time.Now().UTC()
	c.IsResolved = true
	c.ResolvedAt = &now
	c.Strategy = strategy
	c.ResolvedVersionID = resolvedVersionID
	s.conflicts[id] = c
	return nil
}

// ── Metrics table ───────────────────────────────────────────────────

func (s *Store) AppendMetric(m model.NetworkMetric) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.wal.append(walEntry{Op: opAppendMetric, Metric: &m}); err != nil {
		return errs.Wrap(errs.StorageUnavailable, "append metric", err)
	}
	s.metrics = append(s.metrics, m)
	return nil
}

func (s *Store) ListMetrics() []model.NetworkMetric {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.NetworkMetric, len(s.metrics))
	copy(out, s.metrics)
	return out
}

// Stats is a point-in-time snapshot of table sizes, used by the
// operator-facing health endpoint.
type Stats struct {
	Nodes         int `json:"nodes"`
	Files         int `json:"files"`
	Events        int `json:"events"`
	UnresolvedConflicts int `json:"unresolved_conflicts"`
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	unresolved := 0
	for _, c := range s.conflicts {
		if !c.IsResolved {
			unresolved++
		}
	}
	return Stats{
		Nodes:               len(s.nodes),
		Files:               len(s.files),
		Events:              len(s.events),
		UnresolvedConflicts: unresolved,
	}
}

// ── Lifecycle ───────────────────────────────────────────────────────

// Snapshot writes the full in-memory state to disk and truncates the
// WAL, since the snapshot now captures everything it contained.
func (s *Store) Snapshot() error {
	// Held until the WAL is truncated, so no write can land in the WAL
	// after the copy is taken and then be truncated away.
	s.mu.Lock()
	defer s.mu.Unlock()
	data := snapshotData{
		Nodes:     make(map[string]model.Node, len(s.nodes)),
		Files:     make(map[string]model.FileMetadata, len(s.files)),
		Events:    append([]model.Event(nil), s.events...),
		Conflicts: make(map[string]model.Conflict, len(s.conflicts)),
		Metrics:   append([]model.NetworkMetric(nil), s.metrics...),
	}
	for k, v := range s.nodes {
		data.Nodes[k] = v
	}
	for k, v := range s.files {
		data.Files[k] = v
	}
	for k, v := range s.conflicts {
		data.Conflicts[k] = v
	}

	if err := saveSnapshot(filepath.Join(s.dir, "snapshot.json"), data); err != nil {
		return errs.Wrap(errs.StorageUnavailable, "save snapshot", err)
	}

	return s.wal.truncate()
}

// Close releases the WAL file handle.
func (s *Store) Close() error {
	return s.wal.close()
}
