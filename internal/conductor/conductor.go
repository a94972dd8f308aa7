// Package conductor wires the Lexer/Parser, Planner, Executor, Merger, and
// result cache into the single programmatic entry point callers actually
// see: DB.Query. It plays the role the teacher's cmd/coordinator/main.go
// HTTP handlers play for a key/value PUT/GET — except here the handler-level
// sequencing (parse request, resolve targets, fan out, merge, respond) is
// factored into its own package so both cmd/conductor's HTTP surface and a
// future embedder can call it directly.
package conductor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dreamware/conductor/internal/conductor/cache"
	"github.com/dreamware/conductor/internal/conductor/exec"
	"github.com/dreamware/conductor/internal/conductor/plan"
	"github.com/dreamware/conductor/internal/logging"
	"github.com/dreamware/conductor/internal/maintenance"
	"github.com/dreamware/conductor/internal/sqlast"
	"github.com/dreamware/conductor/internal/topology"
)

// Result is the caller-facing shape of a query's outcome: rows for a read,
// rowsAffected for a write, and per-shard stats for observability either way.
type Result struct {
	Rows         []map[string]any
	RowsAffected int64
	ShardStats   []exec.ShardStat
}

// DB is the conductor's query surface: a Topology-backed Planner, a
// shard-fanning Executor, and a result cache, sequenced by Query.
type DB struct {
	store       topology.Store
	planner     *plan.Planner
	executor    *exec.Executor
	cache       *cache.Cache
	client      exec.ShardClient
	maintenance maintenance.Queue
	log         zerolog.Logger
}

// Option configures a DB at construction time.
type Option func(*options)

type options struct {
	execOpts    []exec.Option
	cache       *cache.Cache
	maintenance maintenance.Queue
}

// WithMaintenanceQueue supplies the queue CREATE INDEX jobs and
// post-write index-maintenance events are enqueued onto. Without one, DB
// plans CREATE INDEX and captures write events exactly as usual but has
// nowhere to send them, so it silently skips enqueueing — acceptable for
// callers that only exercise the query/planning path (most tests).
func WithMaintenanceQueue(q maintenance.Queue) Option {
	return func(o *options) { o.maintenance = q }
}

// WithParallelism overrides the executor's default shard-fanout batch size.
func WithParallelism(n int) Option {
	return func(o *options) { o.execOpts = append(o.execOpts, exec.WithParallelism(n)) }
}

// WithShardTimeout overrides the executor's default per-shard RPC timeout.
func WithShardTimeout(d time.Duration) Option {
	return func(o *options) { o.execOpts = append(o.execOpts, exec.WithShardTimeout(d)) }
}

// WithCache supplies a pre-built cache, e.g. one shared across multiple DBs
// or sized differently than cache.New's default. Tests use this to inject a
// cache they can inspect directly.
func WithCache(c *cache.Cache) Option {
	return func(o *options) { o.cache = c }
}

// New builds a DB over store (the Topology catalog) and client (how the
// executor reaches shard nodes — normally exec.NewHTTPShardClient()).
func New(store topology.Store, client exec.ShardClient, opts ...Option) *DB {
	cfg := &options{}
	for _, o := range opts {
		o(cfg)
	}
	c := cfg.cache
	if c == nil {
		c = cache.New()
	}
	return &DB{
		store:       store,
		planner:     plan.New(store),
		executor:    exec.New(client, cfg.execOpts...),
		cache:       c,
		client:      client,
		maintenance: cfg.maintenance,
		log:         logging.WithComponent("conductor"),
	}
}

// SQL builds the SQL text a tagged-template call like
// sql`SELECT * FROM t WHERE id = ${id}` would produce in the source system:
// parts joined with "?" in place of each interpolation. len(parts) must be
// len(args)+1. It does not execute anything — pass the result and args to
// Query.
func SQL(parts []string, args ...any) (string, []any) {
	var b strings.Builder
	for i, part := range parts {
		b.WriteString(part)
		if i < len(args) {
			b.WriteByte('?')
		}
	}
	return b.String(), args
}

// Query parses, plans, executes, and merges one statement. template/values
// follow SQL's parts/args convention: the query is template's parts with a
// `?` written after each of the first len(values) parts. A flat query string
// that already contains its `?` placeholders goes through QueryString
// instead; passed as []string{query} with non-empty values, it would get an
// extra `?` appended after it.
func (db *DB) Query(ctx context.Context, template []string, values ...any) (Result, error) {
	query, params := SQL(template, values...)
	return db.QueryString(ctx, query, params)
}

// QueryString runs a complete SQL string plus its already-ordered bound
// parameters, skipping the tagged-template assembly step Query performs.
func (db *DB) QueryString(ctx context.Context, query string, params []any) (Result, error) {
	stmt, err := sqlast.Parse(query)
	if err != nil {
		return Result{}, fmt.Errorf("conductor: %w", err)
	}

	pl, err := db.planner.Plan(ctx, stmt, params)
	if err != nil {
		return Result{}, err
	}

	if pl.IndexJob != nil {
		db.enqueueIndexJob(ctx, pl.IndexJob)
	}

	if !pl.Merge.IsWrite() {
		if entry, ok := db.cache.Get(query, params); ok {
			if cached, ok := entry.Value.(Result); ok {
				return cached, nil
			}
		}
	}

	capture := db.prepareCapture(ctx, stmt, pl)

	res, runErr := db.executor.Run(ctx, pl)
	if runErr != nil {
		db.log.Warn().Err(runErr).Str("table", pl.Table).Msg("shard fan-out reported errors")
	} else if capture != nil {
		db.enqueueIndexEvents(ctx, pl.Table, capture.Events(pl))
	}

	merged, mergeErr := exec.Merge(pl, res)
	if mergeErr != nil {
		if runErr != nil {
			return Result{}, runErr
		}
		return Result{}, mergeErr
	}

	out := Result{Rows: merged.Rows, RowsAffected: merged.RowsAffected, ShardStats: merged.ShardStats}

	if pl.Merge.IsWrite() {
		db.invalidateFor(stmt, pl.Table)
	} else if runErr == nil {
		db.cache.Put(query, params, pl.Table, sqlast.StatementColumns(stmt), out)
	}

	if runErr != nil {
		return out, runErr
	}
	return out, nil
}

// prepareCapture runs the before half of the batched index-maintenance
// capture protocol (§4.5) for an INSERT/UPDATE/DELETE against an indexed
// table. It returns nil whenever there's no maintenance queue to report
// to, the statement isn't a capturable write, or the table carries no
// single-column index — the common case, cheaply short-circuited.
func (db *DB) prepareCapture(ctx context.Context, stmt *sqlast.Statement, pl *plan.Plan) *exec.Capture {
	if db.maintenance == nil {
		return nil
	}
	switch stmt.Kind() {
	case sqlast.KindInsert, sqlast.KindUpdate, sqlast.KindDelete:
	default:
		return nil
	}
	snap, err := db.store.GetTopology(ctx)
	if err != nil {
		db.log.Warn().Err(err).Msg("index capture: failed to load topology, skipping")
		return nil
	}
	capture, err := exec.PrepareCapture(ctx, db.client, exec.DefaultShardTimeout, pl, snap.VirtualIndexes)
	if err != nil {
		db.log.Warn().Err(err).Str("table", pl.Table).Msg("index capture: before-scan failed, skipping index maintenance for this write")
		return nil
	}
	return capture
}

// enqueueIndexEvents fire-and-forgets a maintain_index_events message for
// a just-succeeded write's observed membership changes. A failure to
// enqueue is logged but never fails the write that already completed.
func (db *DB) enqueueIndexEvents(ctx context.Context, table string, events []exec.IndexColumnEvent) {
	if db.maintenance == nil || len(events) == 0 {
		return
	}
	wire := make([]maintenance.IndexEvent, len(events))
	for i, e := range events {
		wire[i] = maintenance.IndexEvent{IndexName: e.IndexName, KeyValue: e.KeyValue, ShardID: e.ShardID, Operation: string(e.Op)}
	}
	msg := maintenance.Message{
		Type:       maintenance.JobMaintainIndexEvents,
		DatabaseID: "default",
		TableName:  table,
		Events:     wire,
		CreatedAt:  time.Now(),
	}
	if err := db.maintenance.Enqueue(ctx, msg); err != nil {
		db.log.Warn().Err(err).Str("table", table).Msg("failed to enqueue index maintenance events")
	}
}

// enqueueIndexJob fire-and-forgets the build_index job a CREATE INDEX plan
// just registered in Topology.
func (db *DB) enqueueIndexJob(ctx context.Context, job *plan.IndexJob) {
	if db.maintenance == nil {
		return
	}
	msg := maintenance.Message{
		ID:         job.AsyncJobID,
		Type:       maintenance.JobBuildIndex,
		DatabaseID: "default",
		TableName:  job.Table,
		ColumnName: job.Column,
		IndexName:  job.IndexName,
		CreatedAt:  time.Now(),
	}
	if err := db.maintenance.Enqueue(ctx, msg); err != nil {
		db.log.Warn().Err(err).Str("index", job.IndexName).Msg("failed to enqueue build_index job")
	}
}

// invalidateFor evicts result-cache entries a just-committed write could
// have staled. An UPDATE only needs to evict entries that read one of its
// SET columns; INSERT/DELETE/DDL invalidate the whole table, since there's
// no narrower column list to check against. This never touches the
// Planner's topology snapshot cache — that's invalidated separately, by
// whatever observed the actual topology change (a DDL-applying admin call,
// or the maintenance consumer after an index build completes).
func (db *DB) invalidateFor(stmt *sqlast.Statement, table string) {
	if stmt.Kind() == sqlast.KindUpdate {
		cols := make([]string, 0, len(stmt.Update.Sets))
		for _, a := range stmt.Update.Sets {
			cols = append(cols, a.Column)
		}
		db.cache.InvalidateColumns(table, cols)
		return
	}
	db.cache.InvalidateTable(table)
}
