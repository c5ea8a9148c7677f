// Package replication implements the coordinator's replication
// orchestrator: on every accepted upload, it produces advisory replica
// records for each online peer and streams per-peer progress events.
//
// Each peer's replication runs as an explicit state machine —
// queued → started → progressing(p) → (completed | error) — rather
// than an ad-hoc retry loop: one event is emitted per transition, and a
// single failing peer never affects the others (spec §4.6, §9
// "ad-hoc retry loops for peer propagation").
package replication

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"filesync-coordinator/internal/eventbus"
	"filesync-coordinator/internal/model"
	"filesync-coordinator/internal/storage"
	"filesync-coordinator/internal/vclock"
	"filesync-coordinator/internal/version"
)

// State is one stage of a single peer's replication state machine.
type State string

const (
	Queued      State = "queued"
	Started     State = "started"
	Progressing State = "progressing"
	Completed   State = "completed"
	Error       State = "error"
)

// progressSteps are the percentages the spec requires an intermediate
// sync_progress event for.
var progressSteps = []int{25, 50, 75}

// Orchestrator drives per-peer replication for accepted uploads.
type Orchestrator struct {
	store    *storage.Store
	versions *version.Store
	bus      *eventbus.Bus
	clocks   *vclock.Manager
	log      *zap.Logger

	// ProgressDelay is the configurable gap between progress events,
	// modeling a perceivable transfer. Tests set this to zero.
	ProgressDelay time.Duration
}

// New builds a replication orchestrator.
func New(store *storage.Store, versions *version.Store, bus *eventbus.Bus, clocks *vclock.Manager, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{store: store, versions: versions, bus: bus, clocks: clocks, log: log}
}

// Result is the outcome of one peer's replication attempt.
type Result struct {
	PeerNodeID string
	State      State
	ReplicaID  string
	Err        error
}

// Replicate enumerates every online peer other than owner and runs an
// independent replication task for each, returning once all tasks have
// reached a terminal state. Cancelling ctx aborts in-flight tasks: each
// already-started task emits sync_error instead of sync_completed.
func (o *Orchestrator) Replicate(ctx context.Context, orig model.FileMetadata, content []byte) []Result {
	peers := o.onlinePeers(orig.OwnerNodeID)

	var wg sync.WaitGroup
	results := make([]Result, len(peers))

	for i, peer := range peers {
		wg.Add(1)
		go func(i int, peer model.Node) {
			defer wg.Done()
			results[i] = o.replicateToPeer(ctx, orig, content, peer)
		}(i, peer)
	}
	wg.Wait()

	return results
}

func (o *Orchestrator) onlinePeers(ownerID string) []model.Node {
	var peers []model.Node
	for _, n := range o.store.ListOnlineNodes() {
		if n.NodeID != ownerID {
			peers = append(peers, n)
		}
	}
	return peers
}

func (o *Orchestrator) replicateToPeer(ctx context.Context, orig model.FileMetadata, content []byte, peer model.Node) Result {
	replicaID := model.ReplicaFileID(orig.FileID, peer.NodeID)

	o.emit(orig.FileID, orig.OwnerNodeID, model.EventSyncStarted, map[string]any{
		"peer_node_id": peer.NodeID, "progress": 0,
	})

	for _, pct := range progressSteps {
		if err := o.sleep(ctx); err != nil {
			o.emit(orig.FileID, orig.OwnerNodeID, model.EventSyncError, map[string]any{
				"peer_node_id": peer.NodeID, "reason": err.Error(),
			})
			return Result{PeerNodeID: peer.NodeID, State: Error, Err: err}
		}
		o.emit(orig.FileID, orig.OwnerNodeID, model.EventSyncProgress, map[string]any{
			"peer_node_id": peer.NodeID, "progress": pct,
		})
	}

	now := time.Now().UTC()
	replica := model.FileMetadata{
		FileID:        replicaID,
		Name:          orig.Name,
		LogicalPath:   "/" + peer.NodeID + "/replicas/" + orig.Name,
		Size:          orig.Size,
		ContentHash:   orig.ContentHash,
		CreatedAt:     now,
		ModifiedAt:    now,
		OwnerNodeID:   peer.NodeID,
		VersionNumber: 1,
		VectorClock:   orig.VectorClock.Copy(),
		ContentType:   orig.ContentType,
	}

	if err := o.store.UpsertFile(replica); err != nil {
		o.emit(orig.FileID, orig.OwnerNodeID, model.EventSyncError, map[string]any{
			"peer_node_id": peer.NodeID, "reason": err.Error(),
		})
		return Result{PeerNodeID: peer.NodeID, State: Error, Err: err}
	}
	o.versions.CreateVersion(replicaID, content, peer.NodeID, replica.VectorClock)

	o.emit(orig.FileID, orig.OwnerNodeID, model.EventSyncCompleted, map[string]any{
		"peer_node_id": peer.NodeID, "replica_id": replicaID, "bytes_transferred": len(content),
	})

	return Result{PeerNodeID: peer.NodeID, State: Completed, ReplicaID: replicaID}
}

func (o *Orchestrator) sleep(ctx context.Context) error {
	if o.ProgressDelay <= 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}

	timer := time.NewTimer(o.ProgressDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) emit(fileID, peerID string, kind model.EventKind, payload map[string]any) {
	if _, err := o.bus.Publish(model.Event{
		EventID:      uuid.NewString(),
		Kind:         kind,
		SourceNodeID: peerID,
		FileID:       fileID,
		Timestamp:    time.Now().UTC(),
		Payload:      payload,
	}); err != nil {
		o.log.Error("failed to publish replication event", zap.String("kind", string(kind)), zap.Error(err))
	}
}
