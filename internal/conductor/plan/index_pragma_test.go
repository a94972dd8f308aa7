package plan

import (
	"context"
	"testing"

	"github.com/dreamware/conductor/internal/topology"
)

func TestPlanCreateIndexRegistersBuildingIndexAndJob(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t, 2, topology.Table{Name: "users", ShardKeyCol: "id", NumShards: 4})
	p := New(store)
	stmt := mustParse(t, "CREATE INDEX idx_email ON users (email)")

	pl, err := p.Plan(ctx, stmt, nil)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if pl.Merge != MergeLocal {
		t.Fatalf("merge = %v, want MergeLocal", pl.Merge)
	}
	if len(pl.Targets) != 0 {
		t.Fatalf("expected zero targets for a CREATE INDEX plan, got %d", len(pl.Targets))
	}
	if pl.IndexJob == nil {
		t.Fatal("expected an IndexJob to be attached")
	}
	if pl.IndexJob.Table != "users" || pl.IndexJob.Column != "email" || pl.IndexJob.IndexName != "idx_email" {
		t.Fatalf("unexpected IndexJob: %+v", pl.IndexJob)
	}
	if pl.IndexJob.AsyncJobID == "" {
		t.Fatal("expected a non-empty AsyncJobID")
	}

	idx, err := store.GetVirtualIndex(ctx, "idx_email")
	if err != nil {
		t.Fatalf("GetVirtualIndex: %v", err)
	}
	if idx.Status != topology.IndexBuilding {
		t.Fatalf("expected index status building, got %q", idx.Status)
	}
	if idx.Type != topology.IndexHash {
		t.Fatalf("expected a non-unique CREATE INDEX to register IndexHash, got %q", idx.Type)
	}
}

func TestPlanCreateIndexUniqueRegistersUniqueType(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t, 1, topology.Table{Name: "users", ShardKeyCol: "id", NumShards: 2})
	p := New(store)
	stmt := mustParse(t, "CREATE UNIQUE INDEX idx_email ON users (email)")

	if _, err := p.Plan(ctx, stmt, nil); err != nil {
		t.Fatalf("Plan: %v", err)
	}
	idx, err := store.GetVirtualIndex(ctx, "idx_email")
	if err != nil {
		t.Fatalf("GetVirtualIndex: %v", err)
	}
	if idx.Type != topology.IndexUnique {
		t.Fatalf("expected IndexUnique, got %q", idx.Type)
	}
}

func TestPlanCreateIndexUnknownTableErrors(t *testing.T) {
	store := setupStore(t, 1, topology.Table{Name: "users", ShardKeyCol: "id", NumShards: 2})
	p := New(store)
	stmt := mustParse(t, "CREATE INDEX idx_x ON ghosts (x)")
	if _, err := p.Plan(context.Background(), stmt, nil); err == nil {
		t.Fatal("expected an error for an unregistered table")
	}
}

func TestPlanCreateIndexIfNotExistsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t, 1, topology.Table{Name: "users", ShardKeyCol: "id", NumShards: 2})
	p := New(store)

	first := mustParse(t, "CREATE INDEX idx_email ON users (email)")
	if _, err := p.Plan(ctx, first, nil); err != nil {
		t.Fatalf("first Plan: %v", err)
	}

	second := mustParse(t, "CREATE INDEX IF NOT EXISTS idx_email ON users (email)")
	pl, err := p.Plan(ctx, second, nil)
	if err != nil {
		t.Fatalf("second Plan: %v", err)
	}
	if pl.Merge != MergeLocal || pl.Table != "users" {
		t.Fatalf("expected a local no-op plan for the existing index, got %+v", pl)
	}
	if pl.IndexJob != nil {
		t.Fatal("expected no new build job for an already-existing index")
	}
}

func TestPlanCreateIndexWithoutIfNotExistsOnDuplicateErrors(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t, 1, topology.Table{Name: "users", ShardKeyCol: "id", NumShards: 2})
	p := New(store)

	stmt := mustParse(t, "CREATE INDEX idx_email ON users (email)")
	if _, err := p.Plan(ctx, stmt, nil); err != nil {
		t.Fatalf("first Plan: %v", err)
	}

	dup := mustParse(t, "CREATE INDEX idx_email ON users (email)")
	if _, err := p.Plan(ctx, dup, nil); err == nil {
		t.Fatal("expected an error recreating an existing index without IF NOT EXISTS")
	}
}

func TestPlanPragmaIsLocalWithNoTargets(t *testing.T) {
	store := setupStore(t, 2, topology.Table{Name: "users", ShardKeyCol: "id", NumShards: 4})
	p := New(store)
	stmt := mustParse(t, "PRAGMA journal_mode")

	pl, err := p.Plan(context.Background(), stmt, nil)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if pl.Merge != MergeLocal {
		t.Fatalf("merge = %v, want MergeLocal", pl.Merge)
	}
	if len(pl.Targets) != 0 {
		t.Fatalf("expected zero targets for PRAGMA, got %d", len(pl.Targets))
	}
	if !pl.Merge.IsWrite() {
		t.Fatal("expected MergeLocal to report IsWrite true")
	}
}
