// Package shardstore is the storage-shard execution engine a shard node
// runs locally: one SQLite file per shard, reached through database/sql
// over a cgo or pure-Go driver selected at build time (driver_cgo.go,
// driver_purego.go). It knows nothing about sharding, hashing, or virtual
// indexes — the conductor's planner has already rewritten every statement
// it receives to carry the `_virtualShard` column and composite primary
// key this package's schema assumes; shardstore just executes SQL and
// reports rows/rows-affected, the same separation of concerns
// johnjansen-torua draws between internal/shard's in-memory KV engine and
// cmd/node's HTTP plumbing around it.
package shardstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
)

// Query is one statement to run against a shard's local database,
// matching the wire shape exec.ShardRequest sends over HTTP.
type Query struct {
	SQL    string
	Params []any
	Type   string // "read" or "write"; empty falls back to sniffing SQL
}

// Result is one statement's outcome.
type Result struct {
	Rows         []map[string]any
	RowsAffected int64
}

// Store is a shard's local SQLite-backed execution engine.
type Store struct {
	db      *sql.DB
	shardID int
}

// Open opens (creating if needed) the SQLite file for shardID under
// dataDir. SQLite only tolerates one writer at a time, so the pool is
// capped at a single connection — concurrent queries against one shard
// already serialize at the database/sql level with this setting, instead
// of failing with "database is locked" under concurrent writers.
func Open(dataDir string, shardID int) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("shardstore: create data dir: %w", err)
	}
	path := filepath.Join(dataDir, fmt.Sprintf("shard-%d.db", shardID))
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("shardstore: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	return &Store{db: db, shardID: shardID}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// ExecuteQuery runs one statement and returns its rows (read) or
// rows-affected count (write).
func (s *Store) ExecuteQuery(ctx context.Context, q Query) (Result, error) {
	if isRead(q) {
		return s.executeRead(ctx, q)
	}
	return s.executeWrite(ctx, q)
}

// ExecuteBatch runs queries in order inside a single transaction,
// preserving the order the caller submitted them in. A failure partway
// through rolls back every statement in the batch, so a batch is applied
// whole or not at all.
func (s *Store) ExecuteBatch(ctx context.Context, queries []Query) ([]Result, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("shardstore: begin batch: %w", err)
	}
	results := make([]Result, 0, len(queries))
	for i, q := range queries {
		res, err := executeQueryTx(ctx, tx, q)
		if err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("shardstore: batch statement %d: %w", i, err)
		}
		results = append(results, res)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("shardstore: commit batch: %w", err)
	}
	return results, nil
}

func isRead(q Query) bool {
	switch q.Type {
	case "read":
		return true
	case "write":
		return false
	default:
		return sniffRead(q.SQL)
	}
}

func (s *Store) executeRead(ctx context.Context, q Query) (Result, error) {
	rows, err := s.db.QueryContext(ctx, q.SQL, q.Params...)
	if err != nil {
		return Result{}, fmt.Errorf("shardstore: query: %w", err)
	}
	defer rows.Close()
	out, err := scanRows(rows)
	if err != nil {
		return Result{}, err
	}
	return Result{Rows: out}, nil
}

func (s *Store) executeWrite(ctx context.Context, q Query) (Result, error) {
	res, err := s.db.ExecContext(ctx, q.SQL, q.Params...)
	if err != nil {
		return Result{}, fmt.Errorf("shardstore: exec: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Result{}, fmt.Errorf("shardstore: rows affected: %w", err)
	}
	return Result{RowsAffected: affected}, nil
}

func executeQueryTx(ctx context.Context, tx *sql.Tx, q Query) (Result, error) {
	if isRead(q) {
		rows, err := tx.QueryContext(ctx, q.SQL, q.Params...)
		if err != nil {
			return Result{}, err
		}
		defer rows.Close()
		out, err := scanRows(rows)
		if err != nil {
			return Result{}, err
		}
		return Result{Rows: out}, nil
	}
	res, err := tx.ExecContext(ctx, q.SQL, q.Params...)
	if err != nil {
		return Result{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Result{}, err
	}
	return Result{RowsAffected: affected}, nil
}

// scanRows materializes every row as a column-name->value map, decoding
// []byte values the sqlite drivers hand back for TEXT columns into plain
// strings so a caller never has to special-case driver value types.
func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("shardstore: columns: %w", err)
	}
	var out []map[string]any
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("shardstore: scan: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = normalizeValue(vals[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("shardstore: rows: %w", err)
	}
	return out, nil
}

func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// sniffRead is the fallback used only when a caller omits Query.Type —
// the executor always sets it, so this only matters for ad hoc callers
// (tests, conductorctl) constructing a Query directly.
func sniffRead(sqlText string) bool {
	for _, r := range sqlText {
		switch r {
		case ' ', '\t', '\n', '\r':
			continue
		case 'S', 's':
			return true
		default:
			return false
		}
	}
	return false
}
