package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/dreamware/conductor/internal/shardstore"
)

func newTestStore(t *testing.T) *shardstore.Store {
	t.Helper()
	s, err := shardstore.Open(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("shardstore.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestHandleExecuteCreateAndSelect(t *testing.T) {
	store := newTestStore(t)
	log := zerolog.Nop()
	handler := handleExecute(store, log)

	post := func(req executeRequest) executeResponse {
		body, _ := json.Marshal(req)
		r := httptest.NewRequest(http.MethodPost, "/execute", bytes.NewReader(body))
		w := httptest.NewRecorder()
		handler(w, r)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
		}
		var resp executeResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		return resp
	}

	post(executeRequest{
		Query:     "CREATE TABLE t (_virtualShard INTEGER NOT NULL DEFAULT 0, id TEXT, PRIMARY KEY (_virtualShard, id))",
		QueryType: "write",
	})
	resp := post(executeRequest{
		Query:     "INSERT INTO t (_virtualShard, id) VALUES (?, ?)",
		Params:    []any{float64(0), "a"},
		QueryType: "write",
	})
	if resp.RowsAffected != 1 {
		t.Fatalf("expected 1 row affected, got %d", resp.RowsAffected)
	}

	resp = post(executeRequest{Query: "SELECT id FROM t", QueryType: "read"})
	if len(resp.Rows) != 1 || resp.Rows[0]["id"] != "a" {
		t.Fatalf("unexpected rows: %+v", resp.Rows)
	}
}

func TestHandleExecuteInvalidBodyFails(t *testing.T) {
	store := newTestStore(t)
	handler := handleExecute(store, zerolog.Nop())

	r := httptest.NewRequest(http.MethodPost, "/execute", bytes.NewReader([]byte("not json")))
	w := httptest.NewRecorder()
	handler(w, r)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid body, got %d", w.Code)
	}
}

func TestHandleBatchAtomic(t *testing.T) {
	store := newTestStore(t)
	handler := handleBatch(store, zerolog.Nop())

	create := handleExecute(store, zerolog.Nop())
	createBody, _ := json.Marshal(executeRequest{
		Query:     "CREATE TABLE t (_virtualShard INTEGER DEFAULT 0, id TEXT PRIMARY KEY)",
		QueryType: "write",
	})
	createReq := httptest.NewRequest(http.MethodPost, "/execute", bytes.NewReader(createBody))
	create(httptest.NewRecorder(), createReq)

	reqs := []executeRequest{
		{Query: "INSERT INTO t (id) VALUES ('a')", QueryType: "write"},
		{Query: "INSERT INTO nope VALUES (1)", QueryType: "write"},
	}
	body, _ := json.Marshal(reqs)
	r := httptest.NewRequest(http.MethodPost, "/batch", bytes.NewReader(body))
	w := httptest.NewRecorder()
	handler(w, r)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected batch failure to surface as 500, got %d", w.Code)
	}

	selectBody, _ := json.Marshal(executeRequest{Query: "SELECT id FROM t", QueryType: "read"})
	selectW := httptest.NewRecorder()
	create(selectW, httptest.NewRequest(http.MethodPost, "/execute", bytes.NewReader(selectBody)))
	var selected executeResponse
	if err := json.Unmarshal(selectW.Body.Bytes(), &selected); err != nil {
		t.Fatalf("decode select response: %v", err)
	}
	if len(selected.Rows) != 0 {
		t.Fatalf("expected the failed batch to roll back its first insert, got rows %+v", selected.Rows)
	}
}
