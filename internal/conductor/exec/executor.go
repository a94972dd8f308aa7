// Package exec fans a Plan out to its target shards and merges the
// results back into a single response, generalizing the batched,
// bounded-parallel RPC shape sketched by vitess's ScatterConn
// (mutex-protected result accumulation, attempt-everything error
// aggregation) to the shard set and merge strategies this system needs.
package exec

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dreamware/conductor/internal/conductor/plan"
)

// DefaultParallelism is N_parallel: the shard set is partitioned into
// batches of at most this many targets, batches run sequentially, and all
// calls within a batch run concurrently (§5).
const DefaultParallelism = 7

// DefaultShardTimeout bounds every single shard RPC. callShard applies it on
// top of the caller's ctx, so an earlier deadline on that ctx still wins.
const DefaultShardTimeout = 10 * time.Second

// ShardStat is one shard's contribution to a Result, for observability.
type ShardStat struct {
	ShardID      int
	NodeID       string
	RowsReturned int
	RowsAffected int64
	DurationMS   int64
}

// Result is the executor's output before merging: every shard's raw
// response plus per-shard stats.
type Result struct {
	Responses []ShardOutcome
	Stats     []ShardStat
}

// ShardOutcome pairs one target with the response or error it produced.
type ShardOutcome struct {
	Target plan.ShardTarget
	Resp   ShardResponse
	Err    error
}

// Error reports a ShardExecutionError: one or more shard RPCs failed.
// PartialWrite is set when the failing statement was a write and earlier
// or concurrent shard writes may have already taken effect — per §7,
// writes let outstanding requests finish rather than aborting them, so a
// failure never implies "nothing happened."
type Error struct {
	PartialWrite bool
	ShardErrors  map[int]error // shard ID -> error
}

func (e *Error) Error() string {
	if e.PartialWrite {
		return fmt.Sprintf("partial_write: %d shard(s) failed: %s", len(e.ShardErrors), e.firstMsg())
	}
	return fmt.Sprintf("%d shard(s) failed: %s", len(e.ShardErrors), e.firstMsg())
}

func (e *Error) firstMsg() string {
	for shardID, err := range e.ShardErrors {
		return fmt.Sprintf("shard %d: %v", shardID, err)
	}
	return ""
}

// Executor runs a Plan's fan-out against shard nodes.
type Executor struct {
	client      ShardClient
	parallelism int
	timeout     time.Duration
}

// Option configures an Executor.
type Option func(*Executor)

// WithParallelism overrides DefaultParallelism.
func WithParallelism(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.parallelism = n
		}
	}
}

// WithShardTimeout overrides DefaultShardTimeout.
func WithShardTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// New builds an Executor that issues shard RPCs through client.
func New(client ShardClient, opts ...Option) *Executor {
	e := &Executor{client: client, parallelism: DefaultParallelism, timeout: DefaultShardTimeout}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Run fans pl out to its targets and returns the raw per-shard outcomes.
// It never returns a nil Result, even on error, so callers can still
// inspect partial shardStats for observability after a partial_write.
func (e *Executor) Run(ctx context.Context, pl *plan.Plan) (*Result, error) {
	write := pl.Merge.IsWrite()
	batches := batchTargets(pl.Targets, e.parallelism)

	result := &Result{}
	shardErrs := make(map[int]error)

	for _, batch := range batches {
		outcomes := e.runBatch(ctx, pl, batch, write)
		for _, o := range outcomes {
			result.Responses = append(result.Responses, o)
			if o.Err != nil {
				shardErrs[o.Target.ShardID] = o.Err
				continue
			}
			result.Stats = append(result.Stats, ShardStat{
				ShardID:      o.Target.ShardID,
				NodeID:       o.Target.NodeID,
				RowsReturned: len(o.Resp.Rows),
				RowsAffected: o.Resp.RowsAffected,
			})
		}
	}

	if len(shardErrs) > 0 {
		return result, &Error{PartialWrite: write, ShardErrors: shardErrs}
	}
	return result, nil
}

// runBatch executes every target in batch concurrently. On the read path a
// timeout on any one call cancels the batch's shared context so the
// remaining in-flight calls stop promptly; on the write path every call
// runs to completion regardless of its siblings' outcome, since an
// in-flight write may already have taken effect (§5 cancellation rules).
func (e *Executor) runBatch(ctx context.Context, pl *plan.Plan, batch []plan.ShardTarget, write bool) []ShardOutcome {
	outcomes := make([]ShardOutcome, len(batch))

	batchCtx := ctx
	var cancel context.CancelFunc
	if !write {
		batchCtx, cancel = context.WithCancel(ctx)
		defer cancel()
	}

	// Each goroutine only ever writes its own index, so no mutex is needed
	// despite sharing outcomes; errgroup just gives structured Go/Wait over
	// a plain WaitGroup. Errors are recorded in outcomes, never returned to
	// the group itself, so Wait never short-circuits the batch.
	var g errgroup.Group
	for i, target := range batch {
		i, target := i, target
		g.Go(func() error {
			resp, err := e.callShard(batchCtx, pl, target)
			outcomes[i] = ShardOutcome{Target: target, Resp: resp, Err: err}
			if !write && cancel != nil && errors.Is(err, context.DeadlineExceeded) {
				cancel()
			}
			return nil
		})
	}
	g.Wait()
	return outcomes
}

func (e *Executor) callShard(ctx context.Context, pl *plan.Plan, target plan.ShardTarget) (ShardResponse, error) {
	if target.Addr == "" {
		return ShardResponse{}, fmt.Errorf("shard %d: node %q has no registered address", target.ShardID, target.NodeID)
	}
	reqCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	queryType := queryTypeRead
	if pl.Merge.IsWrite() {
		queryType = queryTypeWrite
	}
	req := ShardRequest{
		Query:     pl.Statement.String(),
		Params:    pl.ParamsForShard(target.ShardID),
		QueryType: queryType,
	}
	return e.client.Execute(reqCtx, target.Addr, req)
}

func batchTargets(targets []plan.ShardTarget, size int) [][]plan.ShardTarget {
	if size <= 0 {
		size = DefaultParallelism
	}
	var out [][]plan.ShardTarget
	for i := 0; i < len(targets); i += size {
		end := i + size
		if end > len(targets) {
			end = len(targets)
		}
		out = append(out, targets[i:end])
	}
	return out
}
