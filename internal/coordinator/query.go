package coordinator

import (
	"context"

	"filesync-coordinator/internal/eventbus"
	"filesync-coordinator/internal/model"
	"filesync-coordinator/internal/storage"
)

func (c *Coordinator) ListEvents(ctx context.Context, limit int) ([]model.Event, error) {
	if err := checkDeadline(ctx); err != nil {
		return nil, err
	}
	return c.bus.ListRecent(limit), nil
}

// ListCausalEvents returns the most recent events ordered by vector-clock
// causality rather than arrival order.
func (c *Coordinator) ListCausalEvents(ctx context.Context, limit int) ([]model.Event, error) {
	if err := checkDeadline(ctx); err != nil {
		return nil, err
	}
	return c.bus.CausalEvents(limit), nil
}

func (c *Coordinator) GetMetrics(ctx context.Context) ([]model.NetworkMetric, error) {
	if err := checkDeadline(ctx); err != nil {
		return nil, err
	}
	return c.store.ListMetrics(), nil
}

// RecordMetric appends one network-activity sample, e.g. from a node's
// periodic self-report.
func (c *Coordinator) RecordMetric(ctx context.Context, m model.NetworkMetric) error {
	if err := checkDeadline(ctx); err != nil {
		return err
	}
	return c.store.AppendMetric(m)
}

// GetTopology summarizes every known node and how many non-deleted files
// each currently owns, for the dashboard's network view.
func (c *Coordinator) GetTopology(ctx context.Context) (Topology, error) {
	if err := checkDeadline(ctx); err != nil {
		return Topology{}, err
	}
	nodes := c.store.ListNodes()
	files := c.store.ListFiles(false)

	counts := make(map[string]int, len(nodes))
	for _, f := range files {
		counts[f.OwnerNodeID]++
	}
	return Topology{Nodes: nodes, Files: counts}, nil
}

func (c *Coordinator) SubscribeDashboard(id string) *eventbus.Subscription {
	return c.bus.SubscribeDashboard(id)
}

func (c *Coordinator) SubscribeNode(nodeID string) *eventbus.Subscription {
	return c.bus.SubscribeNode(nodeID)
}

func (c *Coordinator) Unsubscribe(kind eventbus.Kind, id string) {
	c.bus.Unsubscribe(kind, id)
}

// Snapshot forces a persistence checkpoint, truncating the WAL.
func (c *Coordinator) Snapshot() error {
	return c.store.Snapshot()
}

// Stats exposes the storage layer's summary counters.
func (c *Coordinator) Stats() storage.Stats {
	return c.store.Stats()
}
