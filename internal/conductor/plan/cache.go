package plan

import (
	"context"
	"sync"

	"github.com/dreamware/conductor/internal/topology"
)

// SnapshotCache holds a process-local copy of the Topology snapshot so the
// Planner doesn't round-trip to the Store on every statement. §4.4: "the
// cache must be invalidated on any DDL or index-status change observed in
// the same process" — callers (the Planner itself after a DDL fan-out, and
// the maintenance consumer after updateIndexStatus) call Invalidate
// explicitly; there is no TTL.
type SnapshotCache struct {
	mu    sync.RWMutex
	snap  topology.Snapshot
	valid bool
}

func NewSnapshotCache() *SnapshotCache {
	return &SnapshotCache{}
}

// Get returns the cached snapshot if valid, else loads and caches a fresh
// one from store.
func (c *SnapshotCache) Get(ctx context.Context, store topology.Store) (topology.Snapshot, error) {
	c.mu.RLock()
	if c.valid {
		snap := c.snap
		c.mu.RUnlock()
		return snap, nil
	}
	c.mu.RUnlock()

	snap, err := store.GetTopology(ctx)
	if err != nil {
		return topology.Snapshot{}, err
	}

	c.mu.Lock()
	// Only adopt the freshly loaded snapshot if nothing newer arrived
	// (or invalidated it) while we didn't hold the lock.
	if !c.valid || snap.Version > c.snap.Version {
		c.snap = snap
		c.valid = true
	}
	out := c.snap
	c.mu.Unlock()
	return out, nil
}

// Invalidate forces the next Get to reload from the Store.
func (c *SnapshotCache) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.mu.Unlock()
}
