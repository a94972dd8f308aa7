package maintenance

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/dreamware/conductor/internal/conductor/exec"
	"github.com/dreamware/conductor/internal/topology"
)

// fakeShardClient is this package's own stand-in for exec.ShardClient,
// distinct from the exec package's unexported fakeClient, keyed by node
// address so handleBuildIndex's per-shard scan can be driven independently.
type fakeShardClient struct {
	byAddr map[string]exec.ShardResponse
	failAt string
}

func (f *fakeShardClient) Execute(ctx context.Context, addr string, req exec.ShardRequest) (exec.ShardResponse, error) {
	if addr == f.failAt {
		return exec.ShardResponse{}, fmt.Errorf("shard %s unreachable", addr)
	}
	return f.byAddr[addr], nil
}

func seedTwoShardTable(t *testing.T, store topology.Store) {
	t.Helper()
	ctx := context.Background()
	if err := store.Create(ctx, 2); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.SetNodeAddr(ctx, "node-0", "addr-0"); err != nil {
		t.Fatalf("SetNodeAddr: %v", err)
	}
	if err := store.SetNodeAddr(ctx, "node-1", "addr-1"); err != nil {
		t.Fatalf("SetNodeAddr: %v", err)
	}
	err := store.UpdateTopology(ctx, topology.TableDelta{Add: []topology.Table{
		{Name: "users", PrimaryKeyCol: "id", ShardKeyCol: "id", NumShards: 2},
	}})
	if err != nil {
		t.Fatalf("UpdateTopology: %v", err)
	}
	if err := store.CreateVirtualIndex(ctx, topology.VirtualIndex{
		Name: "idx_email", Table: "users", Columns: []string{"email"}, Type: topology.IndexHash,
	}); err != nil {
		t.Fatalf("CreateVirtualIndex: %v", err)
	}
}

func TestHandleBuildIndexPopulatesEntriesAndMarksReady(t *testing.T) {
	ctx := context.Background()
	store := topology.NewMemoryStore()
	seedTwoShardTable(t, store)

	client := &fakeShardClient{byAddr: map[string]exec.ShardResponse{
		"addr-0": {Rows: []map[string]any{{"email": "a@example.com"}}},
		"addr-1": {Rows: []map[string]any{{"email": "a@example.com"}, {"email": "b@example.com"}}},
	}}

	msg := Message{Type: JobBuildIndex, TableName: "users", ColumnName: "email", IndexName: "idx_email"}
	if err := handleBuildIndex(ctx, store, client, time.Second, msg); err != nil {
		t.Fatalf("handleBuildIndex: %v", err)
	}

	idx, err := store.GetVirtualIndex(ctx, "idx_email")
	if err != nil {
		t.Fatalf("GetVirtualIndex: %v", err)
	}
	if idx.Status != topology.IndexReady {
		t.Fatalf("expected index ready, got %q (err=%s)", idx.Status, idx.ErrorMessage)
	}

	shards, err := store.GetIndexedShards(ctx, "idx_email", mustCanonicalKey(t, "a@example.com"))
	if err != nil {
		t.Fatalf("GetIndexedShards: %v", err)
	}
	if len(shards) != 2 {
		t.Fatalf("expected a@example.com to live on both shards, got %v", shards)
	}
	shards, err = store.GetIndexedShards(ctx, "idx_email", mustCanonicalKey(t, "b@example.com"))
	if err != nil {
		t.Fatalf("GetIndexedShards: %v", err)
	}
	if len(shards) != 1 || shards[0] != 1 {
		t.Fatalf("expected b@example.com to live only on shard 1, got %v", shards)
	}
}

func mustCanonicalKey(t *testing.T, v any) string {
	t.Helper()
	key, ok := topology.CanonicalKey([]any{v})
	if !ok {
		t.Fatalf("CanonicalKey(%v): not ok", v)
	}
	return key
}

func TestHandleBuildIndexMarksFailedOnShardError(t *testing.T) {
	ctx := context.Background()
	store := topology.NewMemoryStore()
	seedTwoShardTable(t, store)

	client := &fakeShardClient{failAt: "addr-0"}
	msg := Message{Type: JobBuildIndex, TableName: "users", ColumnName: "email", IndexName: "idx_email"}
	if err := handleBuildIndex(ctx, store, client, time.Second, msg); err == nil {
		t.Fatal("expected an error when a shard scan fails")
	}

	idx, err := store.GetVirtualIndex(ctx, "idx_email")
	if err != nil {
		t.Fatalf("GetVirtualIndex: %v", err)
	}
	if idx.Status != topology.IndexFailed {
		t.Fatalf("expected index failed, got %q", idx.Status)
	}
	if idx.ErrorMessage == "" {
		t.Fatal("expected a recorded failure reason")
	}
}

func TestHandleBuildIndexRequiresClient(t *testing.T) {
	ctx := context.Background()
	store := topology.NewMemoryStore()
	seedTwoShardTable(t, store)

	msg := Message{Type: JobBuildIndex, TableName: "users", ColumnName: "email", IndexName: "idx_email"}
	if err := handleBuildIndex(ctx, store, nil, time.Second, msg); err == nil {
		t.Fatal("expected an error for a nil shard client")
	}
}

func TestHandleMaintainIndexEventsAppliesEachDelta(t *testing.T) {
	ctx := context.Background()
	store := topology.NewMemoryStore()
	seedTwoShardTable(t, store)
	store.UpdateIndexStatus(ctx, "idx_email", topology.IndexReady, "")

	msg := Message{
		Type: JobMaintainIndexEvents,
		Events: []IndexEvent{
			{IndexName: "idx_email", KeyValue: "k1", ShardID: 0, Operation: "add"},
			{IndexName: "idx_email", KeyValue: "k1", ShardID: 1, Operation: "add"},
			{IndexName: "idx_email", KeyValue: "k1", ShardID: 0, Operation: "remove"},
		},
	}
	if err := handleMaintainIndexEvents(ctx, store, msg); err != nil {
		t.Fatalf("handleMaintainIndexEvents: %v", err)
	}

	shards, err := store.GetIndexedShards(ctx, "idx_email", "k1")
	if err != nil {
		t.Fatalf("GetIndexedShards: %v", err)
	}
	if len(shards) != 1 || shards[0] != 1 {
		t.Fatalf("expected k1 to remain only on shard 1 after the remove, got %v", shards)
	}
}
