package topology

import (
	"context"
	"testing"
)

func TestCreateTwiceFails(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.Create(ctx, 3); err != nil {
		t.Fatalf("Create: %v", err)
	}
	err := s.Create(ctx, 3)
	if !IsKind(err, ErrAlreadyCreated) {
		t.Fatalf("expected ErrAlreadyCreated, got %v", err)
	}
}

func TestSetNodeAddrUnknownNodeFails(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.Create(ctx, 2); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.SetNodeAddr(ctx, "node-0", "localhost:9000"); err != nil {
		t.Fatalf("SetNodeAddr: %v", err)
	}
	snap, err := s.GetTopology(ctx)
	if err != nil {
		t.Fatalf("GetTopology: %v", err)
	}
	for _, n := range snap.Nodes {
		if n.ID == "node-0" && n.Addr != "localhost:9000" {
			t.Fatalf("expected node-0 addr to be set, got %+v", n)
		}
	}
	if err := s.SetNodeAddr(ctx, "node-99", "x"); !IsKind(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown node, got %v", err)
	}
}

func TestGetTopologyBeforeCreate(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.GetTopology(context.Background())
	if !IsKind(err, ErrNotCreated) {
		t.Fatalf("expected ErrNotCreated, got %v", err)
	}
}

func TestUpdateTopologyMaterializesShards(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.Create(ctx, 2); err != nil {
		t.Fatalf("Create: %v", err)
	}
	err := s.UpdateTopology(ctx, TableDelta{Add: []Table{
		{Name: "users", PrimaryKeyCol: "id", ShardKeyCol: "id", NumShards: 4},
	}})
	if err != nil {
		t.Fatalf("UpdateTopology: %v", err)
	}
	snap, err := s.GetTopology(ctx)
	if err != nil {
		t.Fatalf("GetTopology: %v", err)
	}
	if len(snap.TableShards) != 4 {
		t.Fatalf("expected 4 table shards, got %d", len(snap.TableShards))
	}
	for _, ts := range snap.TableShards {
		wantNode := []string{"node-0", "node-1"}[ts.ShardID%2]
		if ts.NodeID != wantNode {
			t.Errorf("shard %d: got node %q, want %q", ts.ShardID, ts.NodeID, wantNode)
		}
	}
}

func TestUpdateTopologyDuplicateTableFails(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Create(ctx, 1)
	add := TableDelta{Add: []Table{{Name: "t", NumShards: 1}}}
	if err := s.UpdateTopology(ctx, add); err != nil {
		t.Fatalf("first add: %v", err)
	}
	err := s.UpdateTopology(ctx, add)
	if !IsKind(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestIndexLifecycleTransitions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Create(ctx, 1)
	idx := VirtualIndex{Name: "idx_email", Table: "users", Columns: []string{"email"}, Type: IndexUnique}
	if err := s.CreateVirtualIndex(ctx, idx); err != nil {
		t.Fatalf("CreateVirtualIndex: %v", err)
	}
	got, err := s.GetVirtualIndex(ctx, "idx_email")
	if err != nil || got.Status != IndexBuilding {
		t.Fatalf("expected building status, got %+v, err %v", got, err)
	}
	if err := s.UpdateIndexStatus(ctx, "idx_email", IndexReady, ""); err != nil {
		t.Fatalf("building->ready: %v", err)
	}
	if err := s.UpdateIndexStatus(ctx, "idx_email", IndexBuilding, ""); !IsKind(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition ready->building, got %v", err)
	}
	if err := s.UpdateIndexStatus(ctx, "idx_email", IndexRebuilding, ""); err != nil {
		t.Fatalf("ready->rebuilding: %v", err)
	}
	if err := s.UpdateIndexStatus(ctx, "idx_email", IndexFailed, "boom"); err != nil {
		t.Fatalf("rebuilding->failed: %v", err)
	}
}

func TestApplyIndexDeltaAddRemove(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Create(ctx, 1)
	s.CreateVirtualIndex(ctx, VirtualIndex{Name: "idx", Table: "t", Columns: []string{"c"}, Type: IndexHash})

	if err := s.ApplyIndexDelta(ctx, "idx", 2, "v1", IndexOpAdd); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.ApplyIndexDelta(ctx, "idx", 5, "v1", IndexOpAdd); err != nil {
		t.Fatalf("add: %v", err)
	}
	shards, err := s.GetIndexedShards(ctx, "idx", "v1")
	if err != nil {
		t.Fatalf("GetIndexedShards: %v", err)
	}
	if len(shards) != 2 || shards[0] != 2 || shards[1] != 5 {
		t.Fatalf("unexpected shards: %v", shards)
	}

	if err := s.ApplyIndexDelta(ctx, "idx", 2, "v1", IndexOpRemove); err != nil {
		t.Fatalf("remove: %v", err)
	}
	shards, _ = s.GetIndexedShards(ctx, "idx", "v1")
	if len(shards) != 1 || shards[0] != 5 {
		t.Fatalf("unexpected shards after remove: %v", shards)
	}

	if err := s.ApplyIndexDelta(ctx, "idx", 5, "v1", IndexOpRemove); err != nil {
		t.Fatalf("remove last: %v", err)
	}
	shards, _ = s.GetIndexedShards(ctx, "idx", "v1")
	if len(shards) != 0 {
		t.Fatalf("expected entry removed once empty, got %v", shards)
	}
}

func TestGetIndexedShardsAbsentKeyReturnsEmpty(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Create(ctx, 1)
	s.CreateVirtualIndex(ctx, VirtualIndex{Name: "idx", Table: "t", Columns: []string{"c"}, Type: IndexHash})
	shards, err := s.GetIndexedShards(ctx, "idx", "missing")
	if err != nil {
		t.Fatalf("GetIndexedShards: %v", err)
	}
	if len(shards) != 0 {
		t.Fatalf("expected no shards, got %v", shards)
	}
}

func TestDropVirtualIndexRemovesEntries(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Create(ctx, 1)
	s.CreateVirtualIndex(ctx, VirtualIndex{Name: "idx", Table: "t", Columns: []string{"c"}, Type: IndexHash})
	s.ApplyIndexDelta(ctx, "idx", 0, "v1", IndexOpAdd)

	if err := s.DropVirtualIndex(ctx, "idx"); err != nil {
		t.Fatalf("DropVirtualIndex: %v", err)
	}
	if _, err := s.GetVirtualIndex(ctx, "idx"); !IsKind(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after drop, got %v", err)
	}
	if _, err := s.GetIndexedShards(ctx, "idx", "v1"); !IsKind(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for entries after drop, got %v", err)
	}
}

func TestBatchUpsertIndexEntriesEmptyShardsDeletes(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Create(ctx, 1)
	s.CreateVirtualIndex(ctx, VirtualIndex{Name: "idx", Table: "t", Columns: []string{"c"}, Type: IndexHash})

	err := s.BatchUpsertIndexEntries(ctx, "idx", []VirtualIndexEntry{
		{KeyValue: "a", ShardIDs: []int{1, 1, 3}},
		{KeyValue: "b", ShardIDs: []int{2}},
	})
	if err != nil {
		t.Fatalf("BatchUpsertIndexEntries: %v", err)
	}
	shards, _ := s.GetIndexedShards(ctx, "idx", "a")
	if len(shards) != 2 || shards[0] != 1 || shards[1] != 3 {
		t.Fatalf("expected deduped [1 3], got %v", shards)
	}

	err = s.BatchUpsertIndexEntries(ctx, "idx", []VirtualIndexEntry{{KeyValue: "a", ShardIDs: nil}})
	if err != nil {
		t.Fatalf("BatchUpsertIndexEntries delete: %v", err)
	}
	shards, _ = s.GetIndexedShards(ctx, "idx", "a")
	if len(shards) != 0 {
		t.Fatalf("expected key 'a' deleted, got %v", shards)
	}
}

func TestAsyncJobLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	id, err := s.CreateAsyncJob(ctx, AsyncJob{Type: "build_index", Table: "users"})
	if err != nil || id == "" {
		t.Fatalf("CreateAsyncJob: id=%q err=%v", id, err)
	}
	if err := s.UpdateAsyncJob(ctx, id, JobRunning, ""); err != nil {
		t.Fatalf("UpdateAsyncJob running: %v", err)
	}
	if err := s.UpdateAsyncJob(ctx, id, JobCompleted, ""); err != nil {
		t.Fatalf("UpdateAsyncJob completed: %v", err)
	}
	if err := s.UpdateAsyncJob(ctx, "nope", JobFailed, "x"); !IsKind(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestApplyIndexDeltaConcurrentDifferentKeys(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Create(ctx, 1)
	s.CreateVirtualIndex(ctx, VirtualIndex{Name: "idx", Table: "t", Columns: []string{"c"}, Type: IndexHash})

	done := make(chan error, 50)
	for i := 0; i < 50; i++ {
		i := i
		go func() {
			key := StringifyValue(i % 5)
			done <- s.ApplyIndexDelta(ctx, "idx", i, key, IndexOpAdd)
		}()
	}
	for i := 0; i < 50; i++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent ApplyIndexDelta: %v", err)
		}
	}
	total := 0
	for k := 0; k < 5; k++ {
		shards, _ := s.GetIndexedShards(ctx, "idx", StringifyValue(k))
		total += len(shards)
	}
	if total != 50 {
		t.Fatalf("expected 50 total shard entries across keys, got %d", total)
	}
}
