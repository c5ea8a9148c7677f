// Package model holds the coordinator's entity types — the wire-stable
// shapes shared across storage, the synchronization kernel, and the
// request surface. None of these types carry behavior of their own;
// they are the nouns every other package operates on.
package model

import (
	"time"

	"filesync-coordinator/internal/vclock"
)

// NodeStatus is one of the four states a registered node can be in.
type NodeStatus string

const (
	NodeOnline  NodeStatus = "online"
	NodeOffline NodeStatus = "offline"
	NodeSyncing NodeStatus = "syncing"
	NodeError   NodeStatus = "error"
)

// Node is a registered client in the fleet.
type Node struct {
	NodeID      string        `json:"node_id"`
	DisplayName string        `json:"display_name"`
	Address     string        `json:"address"`
	Port        int           `json:"port"`
	Status      NodeStatus    `json:"status"`
	LastSeen    time.Time     `json:"last_seen"`
	Capabilities []string     `json:"capabilities"`
	WatchDirs   []string      `json:"watch_dirs"`
	VectorClock vclock.Clock  `json:"vector_clock"`
}

// FileMetadata is the authoritative record of one file known to the
// coordinator, or of one peer's advisory replica of that file (see
// ReplicaFileID).
type FileMetadata struct {
	FileID        string       `json:"file_id"`
	Name          string       `json:"name"`
	LogicalPath   string       `json:"logical_path"`
	Size          int64        `json:"size"`
	ContentHash   string       `json:"content_hash"`
	CreatedAt     time.Time    `json:"created_at"`
	ModifiedAt    time.Time    `json:"modified_at"`
	OwnerNodeID   string       `json:"owner_node_id"`
	VersionNumber int          `json:"version_number"`
	VectorClock   vclock.Clock `json:"vector_clock"`
	IsDeleted     bool         `json:"is_deleted"`
	ContentType   string       `json:"content_type"`
}

// ReplicaFileID derives the file_id of a peer's advisory replica record,
// per the spec's "<original_file_id>::replica::<peer_node_id>" convention.
func ReplicaFileID(originalFileID, peerNodeID string) string {
	return originalFileID + "::replica::" + peerNodeID
}

// FileVersion is one entry in a file's append-only version chain.
type FileVersion struct {
	VersionID       string       `json:"version_id"`
	FileID          string       `json:"file_id"`
	VersionNumber   int          `json:"version_number"`
	ContentHash     string       `json:"content_hash"`
	Size            int64        `json:"size"`
	CreatedAt       time.Time    `json:"created_at"`
	CreatedByNodeID string       `json:"created_by_node_id"`
	VectorClock     vclock.Clock `json:"vector_clock"`
	IsCurrent       bool         `json:"is_current"`
	ParentVersionID string       `json:"parent_version_id,omitempty"`
}

// EventKind is one of the closed set of event kinds the bus will accept.
type EventKind string

const (
	EventNodeRegistered    EventKind = "node_registered"
	EventNodeStatusChanged EventKind = "node_status_changed"
	EventNodeRemoved       EventKind = "node_removed"
	EventFileCreated       EventKind = "file_created"
	EventFileModified      EventKind = "file_modified"
	EventFileDeleted       EventKind = "file_deleted"
	EventSyncStarted       EventKind = "sync_started"
	EventSyncProgress      EventKind = "sync_progress"
	EventSyncCompleted     EventKind = "sync_completed"
	EventSyncError         EventKind = "sync_error"
	EventConflictDetected  EventKind = "conflict_detected"
	EventConflictResolved  EventKind = "conflict_resolved"
	EventVectorClockUpdate EventKind = "vector_clock_update"
)

// KnownEventKinds lists the closed set of kinds list_events callers may
// filter on and the bus will accept on append.
var KnownEventKinds = map[EventKind]bool{
	EventNodeRegistered:    true,
	EventNodeStatusChanged: true,
	EventNodeRemoved:       true,
	EventFileCreated:       true,
	EventFileModified:      true,
	EventFileDeleted:       true,
	EventSyncStarted:       true,
	EventSyncProgress:      true,
	EventSyncCompleted:     true,
	EventSyncError:         true,
	EventConflictDetected:  true,
	EventConflictResolved:  true,
	EventVectorClockUpdate: true,
}

// Event is an append-only record of something that happened.
type Event struct {
	EventID      string         `json:"event_id"`
	Kind         EventKind      `json:"kind"`
	SourceNodeID string         `json:"source_node_id"`
	FileID       string         `json:"file_id,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
	VectorClock  vclock.Clock   `json:"vector_clock"`
	Payload      map[string]any `json:"payload"`
	Processed    bool           `json:"processed"`
}

// ToTimedEvent projects the fields vclock.CausalSort and
// vclock.DetectConflicts need out of an Event. Those helpers take the
// concrete vclock.TimedEvent struct, not an interface, so callers
// convert to this type, sort or scan, then map results back by EventID.
func (e Event) ToTimedEvent() vclock.TimedEvent {
	return vclock.TimedEvent{ID: e.EventID, Clock: e.VectorClock, Timestamp: e.Timestamp}
}

// Conflict records two concurrent modifications to the same file that
// the vector-clock manager detected.
type Conflict struct {
	ConflictID        string     `json:"conflict_id"`
	FileID            string     `json:"file_id"`
	NodeA             string     `json:"node_a"`
	NodeB             string     `json:"node_b"`
	VersionA          string     `json:"version_a"`
	VersionB          string     `json:"version_b"`
	DetectedAt        time.Time  `json:"detected_at"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty"`
	Strategy          string     `json:"strategy,omitempty"`
	ResolvedVersionID string     `json:"resolved_version_id,omitempty"`
	IsResolved        bool       `json:"is_resolved"`
}

// NetworkMetric is one sample of a node's observed network activity,
// persisted for the topology and metrics endpoints.
type NetworkMetric struct {
	NodeID         string    `json:"node_id"`
	Timestamp      time.Time `json:"timestamp"`
	BytesSent      int64     `json:"bytes_sent"`
	BytesReceived  int64     `json:"bytes_received"`
	ActiveTransfers int      `json:"active_transfers"`
}
