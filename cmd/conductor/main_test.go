package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/dreamware/conductor/internal/maintenance"
	"github.com/dreamware/conductor/internal/topology"
	"github.com/dreamware/conductor/internal/topology/boltstore"
)

func newAdminTestStore(t *testing.T) *boltstore.Store {
	t.Helper()
	s, err := boltstore.Open(filepath.Join(t.TempDir(), "topology.db"))
	if err != nil {
		t.Fatalf("boltstore.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func postJSON(t *testing.T, handler http.HandlerFunc, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, _ := json.Marshal(body)
	r := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	w := httptest.NewRecorder()
	handler(w, r)
	return w
}

func TestHandleAdminCreateAndRegisterNode(t *testing.T) {
	store := newAdminTestStore(t)
	log := zerolog.Nop()

	w := postJSON(t, handleAdminCreate(store, log), "/admin/create", createRequest{NumNodes: 2})
	if w.Code != http.StatusNoContent {
		t.Fatalf("create: status = %d, body = %s", w.Code, w.Body.String())
	}

	snap, err := store.GetTopology(context.Background())
	if err != nil {
		t.Fatalf("GetTopology: %v", err)
	}
	if len(snap.Nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(snap.Nodes))
	}

	w = postJSON(t, handleAdminRegisterNode(store, log), "/admin/nodes/register",
		registerNodeRequest{NodeID: snap.Nodes[0].ID, Addr: "127.0.0.1:9001"})
	if w.Code != http.StatusNoContent {
		t.Fatalf("register: status = %d, body = %s", w.Code, w.Body.String())
	}

	snap, _ = store.GetTopology(context.Background())
	if snap.Nodes[0].Addr != "127.0.0.1:9001" {
		t.Fatalf("expected addr to be recorded, got %+v", snap.Nodes[0])
	}
}

func TestHandleAdminTablesAndTopology(t *testing.T) {
	store := newAdminTestStore(t)
	log := zerolog.Nop()
	store.Create(context.Background(), 2)

	delta := topology.TableDelta{Add: []topology.Table{{
		Name: "users", PrimaryKeyCol: "id", PrimaryKeyType: "TEXT",
		ShardKeyCol: "id", NumShards: 4, HashAlgo: "foldv1",
	}}}
	w := postJSON(t, handleAdminTables(store, log), "/admin/tables", delta)
	if w.Code != http.StatusNoContent {
		t.Fatalf("tables: status = %d, body = %s", w.Code, w.Body.String())
	}

	r := httptest.NewRequest(http.MethodGet, "/admin/topology", nil)
	w = httptest.NewRecorder()
	handleAdminTopology(store, log)(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("topology: status = %d, body = %s", w.Code, w.Body.String())
	}
	var snap topology.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(snap.Tables) != 1 || len(snap.TableShards) != 4 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestHandleAdminCreateRejectsInvalidBody(t *testing.T) {
	store := newAdminTestStore(t)
	r := httptest.NewRequest(http.MethodPost, "/admin/create", bytes.NewReader([]byte("not json")))
	w := httptest.NewRecorder()
	handleAdminCreate(store, zerolog.Nop())(w, r)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid body, got %d", w.Code)
	}
}

func TestHandleAdminMaintenanceDrainReportsDepth(t *testing.T) {
	store := newAdminTestStore(t)
	store.Create(context.Background(), 1)

	outbox, err := maintenance.OpenOutboxQueue(filepath.Join(t.TempDir(), "maintenance.db"))
	if err != nil {
		t.Fatalf("OpenOutboxQueue: %v", err)
	}
	t.Cleanup(func() { outbox.Close() })

	dlq, err := maintenance.NewBoltDeadLetterSink(outbox.DB())
	if err != nil {
		t.Fatalf("NewBoltDeadLetterSink: %v", err)
	}
	consumer := maintenance.NewConsumer(outbox, store, nil, dlq)

	w := postJSON(t, handleAdminMaintenanceDrain(consumer, outbox, zerolog.Nop()), "/admin/maintenance/drain", struct{}{})
	if w.Code != http.StatusOK {
		t.Fatalf("drain: status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp drainResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode drain response: %v", err)
	}
	if resp.QueueDepth != 0 {
		t.Fatalf("expected empty queue depth 0, got %d", resp.QueueDepth)
	}
}
