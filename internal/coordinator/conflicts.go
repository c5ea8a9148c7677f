package coordinator

import (
	"context"
	"time"

	"filesync-coordinator/internal/errs"
	"filesync-coordinator/internal/eventbus"
	"filesync-coordinator/internal/model"
)

func (c *Coordinator) ListConflicts(ctx context.Context) ([]model.Conflict, error) {
	if err := checkDeadline(ctx); err != nil {
		return nil, err
	}
	return c.store.ListUnresolvedConflicts(), nil
}

// DetectConflicts re-scans a file's recent event history for concurrent
// modifications, persists any pair not already on record, and emits
// conflict_detected for each newly found pair.
func (c *Coordinator) DetectConflicts(ctx context.Context, fileID string) ([]model.Conflict, error) {
	if err := checkDeadline(ctx); err != nil {
		return nil, err
	}
	events := c.store.ListEventsByFile(fileID)
	candidates := eventbus.DetectConflicts(events, fileID)

	existing := c.store.ListUnresolvedConflicts()
	seen := make(map[string]bool, len(existing))
	for _, ex := range existing {
		seen[conflictKey(ex.FileID, ex.VersionA, ex.VersionB)] = true
		seen[conflictKey(ex.FileID, ex.VersionB, ex.VersionA)] = true
	}

	var fresh []model.Conflict
	for _, cf := range candidates {
		if seen[conflictKey(cf.FileID, cf.VersionA, cf.VersionB)] {
			continue
		}
		if err := c.store.AppendConflict(cf); err != nil {
			return nil, err
		}
		if _, err := c.bus.Publish(model.Event{
			Kind:         model.EventConflictDetected,
			SourceNodeID: cf.NodeA,
			FileID:       cf.FileID,
			Timestamp:    cf.DetectedAt,
			Payload: map[string]any{
				"conflict_id": cf.ConflictID,
				"file_id":     cf.FileID,
				"node_a":      cf.NodeA,
				"node_b":      cf.NodeB,
			},
		}); err != nil {
			return nil, err
		}
		fresh = append(fresh, cf)
	}
	return fresh, nil
}

func conflictKey(fileID, a, b string) string { return fileID + "::" + a + "::" + b }

// ResolveConflict marks a conflict resolved in favor of resolvedVersionID
// under the given strategy (e.g. "last_writer_wins", "manual") and emits
// conflict_resolved. Resolution is one-way: an already-resolved conflict
// cannot be re-resolved.
func (c *Coordinator) ResolveConflict(ctx context.Context, conflictID, strategy, resolvedVersionID string) error {
	if err := checkDeadline(ctx); err != nil {
		return err
	}
	if strategy == "" {
		return errs.BadRequestf("resolution strategy is required")
	}
	cf, err := c.store.GetConflict(conflictID)
	if err != nil {
		return err
	}
	if err := c.store.ResolveConflict(conflictID, strategy, resolvedVersionID); err != nil {
		return err
	}

	_, err = c.bus.Publish(model.Event{
		Kind:         model.EventConflictResolved,
		SourceNodeID: cf.NodeA,
		FileID:       cf.FileID,
		Timestamp:    time.Now().UTC(),
		Payload: map[string]any{
			"conflict_id":         conflictID,
			"strategy":            strategy,
			"resolved_version_id": resolvedVersionID,
		},
	})
	return err
}
