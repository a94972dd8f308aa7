package topology

import "context"

// Store is the Topology contract consumed by the Planner and the
// maintenance consumer (§4.3/§6.3 of the design spec). Every mutating
// method is atomic with respect to other Store operations on the same
// database. Every method reports failure through a plain Go error return.
type Store interface {
	// Create bootstraps the catalog with numNodes storage nodes. Fails with
	// ErrAlreadyCreated if called twice, ErrInvalidArgument if numNodes < 1.
	Create(ctx context.Context, numNodes int) error

	// GetTopology returns a consistent snapshot of the whole catalog. Fails
	// with ErrNotCreated if Create has not been called.
	GetTopology(ctx context.Context) (Snapshot, error)

	// UpdateTopology applies table metadata deltas. On add, table_shards
	// rows are materialized with node_id = nodes[shard_id mod len(nodes)].
	UpdateTopology(ctx context.Context, delta TableDelta) error

	// SetNodeAddr records the network address a storage node is reachable
	// at, set when the node registers with the conductor. Fails with
	// ErrNotFound if nodeID was never created.
	SetNodeAddr(ctx context.Context, nodeID, addr string) error

	// CreateVirtualIndex registers a new index definition in the building
	// state. Fails with ErrAlreadyExists if the name is taken.
	CreateVirtualIndex(ctx context.Context, idx VirtualIndex) error

	// UpdateIndexStatus transitions an index's lifecycle state. Fails with
	// ErrInvalidTransition for a disallowed transition, ErrNotFound if the
	// index does not exist.
	UpdateIndexStatus(ctx context.Context, name string, status IndexStatus, errMsg string) error

	// BatchUpsertIndexEntries idempotently replaces entries for name. An
	// entry with an empty ShardIDs list deletes that key.
	BatchUpsertIndexEntries(ctx context.Context, name string, entries []VirtualIndexEntry) error

	// ApplyIndexDelta adds or removes exactly one shard from one entry's
	// shard set, linearized per (name, keyValue) against concurrent deltas
	// to the same tuple. Removes the entry outright when the set becomes
	// empty.
	ApplyIndexDelta(ctx context.Context, name string, shardID int, keyValue string, op IndexOp) error

	// GetIndexedShards returns the sorted shard IDs for keyValue, or nil if
	// absent.
	GetIndexedShards(ctx context.Context, name, keyValue string) ([]int, error)

	// DropVirtualIndex removes an index definition and all of its entries.
	DropVirtualIndex(ctx context.Context, name string) error

	// GetVirtualIndex returns the named index definition, or ErrNotFound.
	GetVirtualIndex(ctx context.Context, name string) (VirtualIndex, error)

	// CreateAsyncJob records a new job and returns its assigned ID.
	CreateAsyncJob(ctx context.Context, job AsyncJob) (string, error)

	// UpdateAsyncJob transitions a job's status.
	UpdateAsyncJob(ctx context.Context, id string, status JobStatus, errMsg string) error
}
