package exec

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dreamware/conductor/internal/conductor/plan"
)

type fakeClient struct {
	mu       sync.Mutex
	calls    int32
	delay    map[string]time.Duration
	fail     map[string]error
	response ShardResponse
}

func (f *fakeClient) Execute(ctx context.Context, addr string, req ShardRequest) (ShardResponse, error) {
	atomic.AddInt32(&f.calls, 1)
	if d, ok := f.delay[addr]; ok {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return ShardResponse{}, ctx.Err()
		}
	}
	f.mu.Lock()
	err := f.fail[addr]
	f.mu.Unlock()
	if err != nil {
		return ShardResponse{}, err
	}
	return f.response, nil
}

func targets(n int) []plan.ShardTarget {
	out := make([]plan.ShardTarget, n)
	for i := range out {
		out[i] = plan.ShardTarget{ShardID: i, NodeID: "node", Addr: "addr"}
	}
	return out
}

func samplePlan(targets []plan.ShardTarget, merge plan.MergeStrategy) *plan.Plan {
	return &plan.Plan{
		Targets: targets,
		Merge:   merge,
	}
}

func TestRunBatchesSequentiallyWithBoundedConcurrency(t *testing.T) {
	client := &fakeClient{response: ShardResponse{RowsAffected: 1}}
	ex := New(client, WithParallelism(2), WithShardTimeout(time.Second))

	ts := make([]plan.ShardTarget, 5)
	for i := range ts {
		ts[i] = plan.ShardTarget{ShardID: i, NodeID: "n", Addr: "a"}
	}
	pl := samplePlan(ts, plan.MergeWriteCount)
	pl.Statement = mustParseStmt(t, "DELETE FROM t WHERE id = ?")
	pl.Params = []any{"x"}

	res, err := ex.Run(context.Background(), pl)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Responses) != 5 {
		t.Fatalf("expected 5 responses, got %d", len(res.Responses))
	}
	if atomic.LoadInt32(&client.calls) != 5 {
		t.Fatalf("expected 5 calls, got %d", client.calls)
	}
}

func TestRunWritePathCollectsAllErrorsNoShortCircuit(t *testing.T) {
	client := &fakeClient{
		response: ShardResponse{RowsAffected: 1},
		fail:     map[string]error{"bad": errors.New("boom")},
	}
	ex := New(client, WithParallelism(4), WithShardTimeout(time.Second))

	ts := []plan.ShardTarget{
		{ShardID: 0, NodeID: "n0", Addr: "ok"},
		{ShardID: 1, NodeID: "n1", Addr: "bad"},
		{ShardID: 2, NodeID: "n2", Addr: "ok"},
	}
	pl := samplePlan(ts, plan.MergeWriteCount)
	pl.Statement = mustParseStmt(t, "UPDATE t SET v = ? WHERE id = ?")
	pl.Params = []any{"v", "x"}

	res, err := ex.Run(context.Background(), pl)
	if err == nil {
		t.Fatal("expected error from failing shard")
	}
	execErr, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *exec.Error, got %T", err)
	}
	if !execErr.PartialWrite {
		t.Error("expected PartialWrite=true for a failed write")
	}
	if len(execErr.ShardErrors) != 1 {
		t.Fatalf("expected exactly 1 shard error, got %d", len(execErr.ShardErrors))
	}
	if len(res.Responses) != 3 {
		t.Fatalf("expected all 3 shards attempted despite the failure, got %d", len(res.Responses))
	}
}

func TestRunReadPathCancelsSiblingsOnTimeout(t *testing.T) {
	client := &fakeClient{
		response: ShardResponse{Rows: []map[string]any{{"a": 1}}},
		delay:    map[string]time.Duration{"slow": 500 * time.Millisecond},
	}
	ex := New(client, WithParallelism(2), WithShardTimeout(20*time.Millisecond))

	ts := []plan.ShardTarget{
		{ShardID: 0, NodeID: "n0", Addr: "slow"},
		{ShardID: 1, NodeID: "n1", Addr: "fast"},
	}
	pl := samplePlan(ts, plan.MergeConcat)
	pl.Statement = mustParseStmt(t, "SELECT a FROM t")

	res, err := ex.Run(context.Background(), pl)
	if err == nil {
		t.Fatal("expected timeout error from slow shard")
	}
	execErr := err.(*Error)
	if execErr.PartialWrite {
		t.Error("read-path failure must not be reported as partial_write")
	}
	if len(res.Responses) != 2 {
		t.Fatalf("expected 2 responses, got %d", len(res.Responses))
	}
}

func TestBatchTargetsSplitsIntoBoundedGroups(t *testing.T) {
	ts := targets(10)
	batches := batchTargets(ts, 3)
	if len(batches) != 4 {
		t.Fatalf("expected 4 batches, got %d", len(batches))
	}
	total := 0
	for _, b := range batches {
		if len(b) > 3 {
			t.Fatalf("batch exceeds parallelism cap: %d", len(b))
		}
		total += len(b)
	}
	if total != 10 {
		t.Fatalf("expected all 10 targets covered, got %d", total)
	}
}
