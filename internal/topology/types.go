// Package topology implements the cluster metadata catalog: the storage
// node roster, table and shard-map metadata, virtual secondary-index
// definitions and entries, and the async-job log that tracks index builds.
// Topology is the only globally mutable state in the system; every other
// component either owns purely local data or delegates writes here.
//
// The shape generalizes johnjansen-torua's internal/coordinator
// (ShardRegistry: RWMutex-guarded map, copy-out accessors) and
// internal/storage (Store interface, MemoryStore) from a flat key-value
// registry into a small relational catalog with six entity kinds and the
// invariants of §4.3/§3 of the design spec.
package topology

import "time"

// NodeStatus is a StorageNode's membership state.
type NodeStatus string

const (
	NodeActive   NodeStatus = "active"
	NodeDraining NodeStatus = "draining"
	NodeFailed   NodeStatus = "failed"
)

// StorageNode is one physical shard-hosting node.
type StorageNode struct {
	ID           string     `json:"id"`
	Addr         string     `json:"addr,omitempty"`
	Status       NodeStatus `json:"status"`
	CapacityUsed int64      `json:"capacity_used"`
	LastError    string     `json:"last_error,omitempty"`
}

// Table is the logical metadata for a sharded table.
type Table struct {
	Name           string `json:"name"`
	PrimaryKeyCol  string `json:"primary_key_col"`
	PrimaryKeyType string `json:"primary_key_type"`
	ShardKeyCol    string `json:"shard_key_col"`
	NumShards      int    `json:"num_shards"`
	BlockSize      int    `json:"block_size"`
	HashAlgo       string `json:"hash_algo"`
	Resharding     bool   `json:"resharding"`
}

// TableShard maps one logical shard of a table to its hosting node.
type TableShard struct {
	TableName string `json:"table_name"`
	ShardID   int    `json:"shard_id"`
	NodeID    string `json:"node_id"`
}

// IndexType enumerates the supported virtual-index kinds. Only equality
// lookups are supported — no range or ordered secondary indexes.
type IndexType string

const (
	IndexHash   IndexType = "hash"
	IndexUnique IndexType = "unique"
)

// IndexStatus is a VirtualIndex's lifecycle state.
type IndexStatus string

const (
	IndexBuilding   IndexStatus = "building"
	IndexReady      IndexStatus = "ready"
	IndexFailed     IndexStatus = "failed"
	IndexRebuilding IndexStatus = "rebuilding"
)

// VirtualIndex is a secondary-index definition over one or more columns of
// a table.
type VirtualIndex struct {
	Name         string      `json:"name"`
	Table        string      `json:"table"`
	Columns      []string    `json:"columns"`
	Type         IndexType   `json:"type"`
	Status       IndexStatus `json:"status"`
	ErrorMessage string      `json:"error_message,omitempty"`
}

// VirtualIndexEntry maps one canonical key value to the set of logical
// shards that currently hold at least one row with that key.
type VirtualIndexEntry struct {
	IndexName string `json:"index_name"`
	KeyValue  string `json:"key_value"`
	ShardIDs  []int  `json:"shard_ids"` // sorted, non-empty
}

// JobStatus is an AsyncJob's lifecycle state.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// AsyncJob records one index-build (or other asynchronous maintenance)
// task and its outcome.
type AsyncJob struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Table     string    `json:"table"`
	Status    JobStatus `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Error     string    `json:"error,omitempty"`
}

// Snapshot is a consistent point-in-time view of the entire catalog,
// returned by GetTopology. Version increases monotonically on every
// mutation and is used by callers (the Planner's cache) to detect
// staleness without re-reading the whole snapshot.
type Snapshot struct {
	Version             uint64
	Nodes               []StorageNode
	Tables              []Table
	TableShards         []TableShard
	VirtualIndexes      []VirtualIndex
	VirtualIndexEntries []VirtualIndexEntry
	AsyncJobs           []AsyncJob
}

// TableDelta describes additions, updates, and removals to apply to the
// tables collection in a single UpdateTopology call.
type TableDelta struct {
	Add    []Table
	Update []Table
	Remove []string // table names
}

// IndexOp is the operation kind of an applyIndexDelta call.
type IndexOp string

const (
	IndexOpAdd    IndexOp = "add"
	IndexOpRemove IndexOp = "remove"
)
