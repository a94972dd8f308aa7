// Package plan turns a parsed statement plus a Topology snapshot into a
// concrete set of shard targets, a possibly-rewritten per-shard statement,
// and a merge strategy for the executor to apply to the fanned-out
// results. It generalizes johnjansen-torua/internal/coordinator's
// GetShardForKey/GetNodeForKey routing (FNV hash, single-target lookup)
// into the five-rule target-selection order and virtual-index-aware
// routing this system needs, and borrows the point-lookup-vs-scatter-
// gather/aggregation branching shape from the PlanType enum in
// abiolaogu-tdb-fork's query planner.
package plan

import (
	"fmt"

	"github.com/dreamware/conductor/internal/sqlast"
	"github.com/dreamware/conductor/internal/topology"
)

// MergeStrategy tells the executor how to combine per-shard results.
type MergeStrategy int

const (
	// MergeFanoutAll is used for DDL: every target must succeed, no rows.
	MergeFanoutAll MergeStrategy = iota
	// MergeConcat concatenates SELECT rows in shard order and strips
	// _virtualShard unless it was explicitly projected.
	MergeConcat
	// MergeAggregate reduces an aggregate SELECT with no GROUP BY.
	MergeAggregate
	// MergeGroupBy builds a per-group-key multimap and aggregates within
	// each group; used when the GROUP BY columns are all projected.
	MergeGroupBy
	// MergeUnion returns the untouched union of all shard rows; used when
	// GROUP BY columns are not all projected and cannot be safely merged.
	MergeUnion
	// MergeWriteCount sums rowsAffected across shards with no rows.
	MergeWriteCount
	// MergeLocal is used for statements that never fan out to a shard at
	// all — CREATE INDEX (the scan happens later, asynchronously, via the
	// maintenance consumer) and PRAGMA (a per-connection directive with no
	// cluster-wide meaning). Targets is always empty; the executor's
	// batching already no-ops over an empty target list, so no special
	// case is needed there.
	MergeLocal
)

// IsWrite reports whether m is a write-path merge (no rows, only a
// rowsAffected/fanout-success result) as opposed to a read that returns rows.
func (m MergeStrategy) IsWrite() bool {
	return m == MergeWriteCount || m == MergeFanoutAll || m == MergeLocal
}

func (m MergeStrategy) String() string {
	switch m {
	case MergeFanoutAll:
		return "fanout_all"
	case MergeConcat:
		return "concat"
	case MergeAggregate:
		return "aggregate"
	case MergeGroupBy:
		return "group_by"
	case MergeUnion:
		return "union"
	case MergeWriteCount:
		return "write_count"
	case MergeLocal:
		return "local"
	default:
		return "unknown"
	}
}

// ShardTarget is one destination of a fanned-out statement.
type ShardTarget struct {
	ShardID int
	NodeID  string
	Addr    string
}

// Plan is the Planner's output: where to send the statement, what to send,
// and how to merge what comes back.
type Plan struct {
	Targets   []ShardTarget
	Statement *sqlast.Statement
	Params    []any
	Merge     MergeStrategy
	Table     string

	// Reshard is true when Statement was rewritten to carry a
	// _virtualShard filter/column because the table is mid-move.
	Reshard bool

	// AvgRewrites records every AVG(col) field that was split into a
	// SUM/COUNT pair before fan-out (see DESIGN.md's Open Question
	// decision: exact sum/count recombination instead of mean-of-means),
	// so the Merger can recombine sum/count and re-emit the result under
	// the original output alias.
	AvgRewrites []AvgRewrite

	// IndexJob is set when Statement is a CREATE INDEX that registered a
	// new virtual index and enqueued the async job that will populate it.
	// conductor.DB uses it to log/observe the job without a second round
	// trip to Topology; the maintenance consumer drives the job itself
	// purely from the queue message, not from this field.
	IndexJob *IndexJob
}

// IndexJob describes the async build_index job a CREATE INDEX plan kicked
// off, for observability at the call site.
type IndexJob struct {
	AsyncJobID string
	Table      string
	Column     string
	IndexName  string
}

// AvgRewrite maps one original AVG(col) select field to the aliases of the
// SUM and COUNT fields that replaced it in Plan.Statement.
type AvgRewrite struct {
	OutputAlias string
	SumAlias    string
	CountAlias  string
}

// ParamsForShard returns the parameter vector to send to a specific shard
// target. For every statement kind except a resharding rewrite this is
// simply p.Params; a resharding rewrite appends shardID as the value of
// the trailing placeholder the rewrite injected — once per value row for
// an INSERT (all rows go to the same shard), once otherwise.
func (p *Plan) ParamsForShard(shardID int) []any {
	if !p.Reshard || p.Statement == nil {
		return p.Params
	}
	if p.Statement.Insert != nil {
		numRows := len(p.Statement.Insert.Rows)
		out := make([]any, len(p.Params)+numRows)
		copy(out, p.Params)
		for i := 0; i < numRows; i++ {
			out[len(p.Params)+i] = shardID
		}
		return out
	}
	out := make([]any, len(p.Params)+1)
	copy(out, p.Params)
	out[len(p.Params)] = shardID
	return out
}

// Error is a planning-time failure — a PlanError in the taxonomy the
// design spec lays out in §7.
type Error struct {
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("plan: %s", e.Message) }

func planErr(format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...)}
}

func targetsFromShards(shards []topology.TableShard, nodeAddrs map[string]string) []ShardTarget {
	out := make([]ShardTarget, 0, len(shards))
	for _, ts := range shards {
		out = append(out, ShardTarget{ShardID: ts.ShardID, NodeID: ts.NodeID, Addr: nodeAddrs[ts.NodeID]})
	}
	return out
}

func nodeAddrIndex(snap topology.Snapshot) map[string]string {
	out := make(map[string]string, len(snap.Nodes))
	for _, n := range snap.Nodes {
		out[n.ID] = n.Addr
	}
	return out
}
