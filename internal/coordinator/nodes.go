package coordinator

import (
	"context"
	"time"

	"filesync-coordinator/internal/errs"
	"filesync-coordinator/internal/model"
)

// RegisterNode registers a node-or-replaces its record, initializes its
// vector clock, and emits node_registered.
func (c *Coordinator) RegisterNode(ctx context.Context, req RegisterNodeRequest) (RegisterNodeResult, error) {
	if err := checkDeadline(ctx); err != nil {
		return RegisterNodeResult{}, err
	}
	if req.NodeID == "" {
		return RegisterNodeResult{}, errs.BadRequestf("node_id is required")
	}

	clock := c.clocks.Register(req.NodeID)

	n := model.Node{
		NodeID:       req.NodeID,
		DisplayName:  req.Name,
		Address:      req.Address,
		Port:         req.Port,
		Status:       model.NodeOnline,
		LastSeen:     time.Now().UTC(),
		Capabilities: req.Capabilities,
		WatchDirs:    req.WatchDirectories,
		VectorClock:  clock,
	}
	if err := c.store.RegisterNode(n); err != nil {
		return RegisterNodeResult{}, err
	}

	if _, err := c.bus.Publish(model.Event{
		Kind:         model.EventNodeRegistered,
		SourceNodeID: req.NodeID,
		Timestamp:    time.Now().UTC(),
		VectorClock:  clock,
		Payload:      map[string]any{"node_id": req.NodeID},
	}); err != nil {
		return RegisterNodeResult{}, err
	}

	return RegisterNodeResult{VectorClock: clock}, nil
}

func (c *Coordinator) ListNodes(ctx context.Context) ([]model.Node, error) {
	if err := checkDeadline(ctx); err != nil {
		return nil, err
	}
	return c.store.ListNodes(), nil
}

func (c *Coordinator) GetNode(ctx context.Context, id string) (model.Node, error) {
	if err := checkDeadline(ctx); err != nil {
		return model.Node{}, err
	}
	return c.store.GetNode(id)
}

// RemoveNode cascades per §4.1 and emits node_removed.
func (c *Coordinator) RemoveNode(ctx context.Context, id string) error {
	if err := checkDeadline(ctx); err != nil {
		return err
	}
	if _, err := c.store.GetNode(id); err != nil {
		return err
	}
	if err := c.store.RemoveNode(id); err != nil {
		return err
	}
	c.clocks.Forget(id)

	_, err := c.bus.Publish(model.Event{
		Kind:         model.EventNodeRemoved,
		SourceNodeID: id,
		Timestamp:    time.Now().UTC(),
		Payload:      map[string]any{"node_id": id},
	})
	return err
}

// UpdateNodeStatus sets a node's status and emits node_status_changed.
func (c *Coordinator) UpdateNodeStatus(ctx context.Context, id string, status model.NodeStatus) error {
	if err := checkDeadline(ctx); err != nil {
		return err
	}
	if err := c.store.UpdateNodeStatus(id, status, time.Now().UTC()); err != nil {
		return err
	}
	_, err := c.bus.Publish(model.Event{
		Kind:         model.EventNodeStatusChanged,
		SourceNodeID: id,
		Timestamp:    time.Now().UTC(),
		Payload:      map[string]any{"node_id": id, "status": string(status)},
	})
	return err
}

// Heartbeat records a liveness ping from id, flipping it back online if
// it had been marked offline.
func (c *Coordinator) Heartbeat(ctx context.Context, id string) error {
	if err := checkDeadline(ctx); err != nil {
		return err
	}
	n, err := c.store.GetNode(id)
	if err != nil {
		return err
	}
	if n.Status != model.NodeOnline {
		return c.UpdateNodeStatus(ctx, id, model.NodeOnline)
	}
	return c.store.UpdateNodeStatus(id, model.NodeOnline, time.Now().UTC())
}

// CheckHeartbeats transitions any node that has missed two heartbeat
// intervals to offline, cascading a node_status_changed event per node.
// Intended to be called periodically by the server's background loop —
// not a client operation, so it is not subject to a per-request deadline.
func (c *Coordinator) CheckHeartbeats(interval time.Duration) {
	if interval <= 0 {
		interval = HeartbeatInterval
	}
	cutoff := time.Now().UTC().Add(-2 * interval)

	for _, n := range c.store.ListOnlineNodes() {
		if n.LastSeen.Before(cutoff) {
			if err := c.UpdateNodeStatus(context.Background(), n.NodeID, model.NodeOffline); err != nil {
				c.log.Warn("failed to mark node offline", errZap(err))
			}
		}
	}
}
