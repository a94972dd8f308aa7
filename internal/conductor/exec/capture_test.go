package exec

import (
	"context"
	"testing"
	"time"

	"github.com/dreamware/conductor/internal/conductor/plan"
	"github.com/dreamware/conductor/internal/topology"
)

func singleColIndex(name, table, column string) topology.VirtualIndex {
	return topology.VirtualIndex{Name: name, Table: table, Columns: []string{column}, Type: topology.IndexHash, Status: topology.IndexReady}
}

func TestPrepareCaptureSkipsWhenNoSingleColumnIndex(t *testing.T) {
	pl := samplePlan(targets(1), plan.MergeWriteCount)
	pl.Table = "users"
	pl.Statement = mustParseStmt(t, "DELETE FROM users WHERE id = ?")
	pl.Params = []any{"u1"}

	capture, err := PrepareCapture(context.Background(), &fakeClient{}, time.Second, pl, nil)
	if err != nil {
		t.Fatalf("PrepareCapture: %v", err)
	}
	if capture != nil {
		t.Fatal("expected nil capture with no indexes")
	}
}

func TestPrepareCaptureSkipsForSelect(t *testing.T) {
	pl := samplePlan(targets(1), plan.MergeConcat)
	pl.Table = "users"
	pl.Statement = mustParseStmt(t, "SELECT id FROM users")

	capture, err := PrepareCapture(context.Background(), &fakeClient{}, time.Second, pl, []topology.VirtualIndex{singleColIndex("idx_email", "users", "email")})
	if err != nil {
		t.Fatalf("PrepareCapture: %v", err)
	}
	if capture != nil {
		t.Fatal("expected nil capture for a read statement")
	}
}

func TestInsertEventsAddsForTargetShard(t *testing.T) {
	ts := []plan.ShardTarget{{ShardID: 3, NodeID: "n3", Addr: "a3"}}
	pl := samplePlan(ts, plan.MergeWriteCount)
	pl.Table = "users"
	pl.Statement = mustParseStmt(t, "INSERT INTO users (id, email) VALUES (?, ?)")
	pl.Params = []any{"u1", "a@example.com"}

	capture, err := PrepareCapture(context.Background(), &fakeClient{}, time.Second, pl, []topology.VirtualIndex{singleColIndex("idx_email", "users", "email")})
	if err != nil {
		t.Fatalf("PrepareCapture: %v", err)
	}
	if capture == nil {
		t.Fatal("expected a capture for an indexed insert")
	}

	events := capture.Events(pl)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %+v", events)
	}
	e := events[0]
	if e.IndexName != "idx_email" || e.ShardID != 3 || e.Op != topology.IndexOpAdd {
		t.Fatalf("unexpected event: %+v", e)
	}
	wantKey, _ := topology.CanonicalKey([]any{"a@example.com"})
	if e.KeyValue != wantKey {
		t.Fatalf("expected key %q, got %q", wantKey, e.KeyValue)
	}
}

func TestDeleteEventsRemoveForEachBeforeRow(t *testing.T) {
	ts := []plan.ShardTarget{
		{ShardID: 0, NodeID: "n0", Addr: "a0"},
		{ShardID: 1, NodeID: "n1", Addr: "a1"},
	}
	client := &fakeClient{response: ShardResponse{Rows: []map[string]any{{"email": "a@example.com"}}}}
	pl := samplePlan(ts, plan.MergeWriteCount)
	pl.Table = "users"
	pl.Statement = mustParseStmt(t, "DELETE FROM users WHERE team = ?")
	pl.Params = []any{"blue"}

	capture, err := PrepareCapture(context.Background(), client, time.Second, pl, []topology.VirtualIndex{singleColIndex("idx_email", "users", "email")})
	if err != nil {
		t.Fatalf("PrepareCapture: %v", err)
	}
	if capture == nil {
		t.Fatal("expected a capture for an indexed delete")
	}

	events := capture.Events(pl)
	if len(events) != 2 {
		t.Fatalf("expected 2 remove events (one per shard), got %+v", events)
	}
	for _, e := range events {
		if e.Op != topology.IndexOpRemove {
			t.Errorf("expected IndexOpRemove, got %v", e.Op)
		}
	}
}

func TestUpdateEventsSkipsNoOpValueChange(t *testing.T) {
	client := &fakeClient{response: ShardResponse{Rows: []map[string]any{{"email": "a@example.com"}}}}
	ts := []plan.ShardTarget{{ShardID: 0, NodeID: "n0", Addr: "a0"}}
	pl := samplePlan(ts, plan.MergeWriteCount)
	pl.Table = "users"
	pl.Statement = mustParseStmt(t, "UPDATE users SET email = ? WHERE id = ?")
	pl.Params = []any{"a@example.com", "u1"}

	capture, err := PrepareCapture(context.Background(), client, time.Second, pl, []topology.VirtualIndex{singleColIndex("idx_email", "users", "email")})
	if err != nil {
		t.Fatalf("PrepareCapture: %v", err)
	}
	events := capture.Events(pl)
	if len(events) != 0 {
		t.Fatalf("expected no-op update to produce no events, got %+v", events)
	}
}

func TestUpdateEventsEmitsRemoveThenAddForValueChange(t *testing.T) {
	client := &fakeClient{response: ShardResponse{Rows: []map[string]any{{"email": "old@example.com"}}}}
	ts := []plan.ShardTarget{{ShardID: 0, NodeID: "n0", Addr: "a0"}}
	pl := samplePlan(ts, plan.MergeWriteCount)
	pl.Table = "users"
	pl.Statement = mustParseStmt(t, "UPDATE users SET email = ? WHERE id = ?")
	pl.Params = []any{"new@example.com", "u1"}

	capture, err := PrepareCapture(context.Background(), client, time.Second, pl, []topology.VirtualIndex{singleColIndex("idx_email", "users", "email")})
	if err != nil {
		t.Fatalf("PrepareCapture: %v", err)
	}
	events := capture.Events(pl)
	if len(events) != 2 {
		t.Fatalf("expected remove+add pair, got %+v", events)
	}
	var sawRemove, sawAdd bool
	for _, e := range events {
		switch e.Op {
		case topology.IndexOpRemove:
			sawRemove = true
		case topology.IndexOpAdd:
			sawAdd = true
		}
	}
	if !sawRemove || !sawAdd {
		t.Fatalf("expected both a remove and an add event, got %+v", events)
	}
}

func TestDedupEventsCancelsAddRemovePair(t *testing.T) {
	events := []IndexColumnEvent{
		{IndexName: "idx", KeyValue: "k", ShardID: 1, Op: topology.IndexOpAdd},
		{IndexName: "idx", KeyValue: "k", ShardID: 1, Op: topology.IndexOpRemove},
		{IndexName: "idx", KeyValue: "k", ShardID: 2, Op: topology.IndexOpAdd},
		{IndexName: "idx", KeyValue: "k", ShardID: 2, Op: topology.IndexOpAdd},
	}
	out := dedupEvents(events)
	if len(out) != 1 {
		t.Fatalf("expected 1 surviving event, got %+v", out)
	}
	if out[0].ShardID != 2 || out[0].Op != topology.IndexOpAdd {
		t.Fatalf("unexpected surviving event: %+v", out[0])
	}
}
