package exec

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dreamware/conductor/internal/conductor/plan"
	"github.com/dreamware/conductor/internal/sqlast"
	"github.com/dreamware/conductor/internal/topology"
)

// IndexColumnEvent is one observed add/remove of a row's indexed-column
// value from one shard — the unit the maintenance queue's
// maintain_index_events job carries (§4.5/§4.6).
type IndexColumnEvent struct {
	IndexName string
	KeyValue  string
	ShardID   int
	Op        topology.IndexOp
}

// indexedColumn is one single-column virtual index over a table that the
// capture protocol must keep in sync. Composite indexes aren't routable
// yet (the Planner's readyIndexFor only matches single-column indexes) so
// Capture skips them the same way.
type indexedColumn struct {
	name   string
	column string
}

func singleColumnIndexes(indexes []topology.VirtualIndex, table string) []indexedColumn {
	var out []indexedColumn
	for _, idx := range indexes {
		if idx.Table == table && len(idx.Columns) == 1 {
			out = append(out, indexedColumn{name: idx.Name, column: idx.Columns[0]})
		}
	}
	return out
}

type capturedRow struct {
	shardID int
	row     map[string]any
}

// Capture holds a write's before-image (for DELETE/UPDATE) so Events can
// diff it against the write's own statement once the write has actually
// succeeded.
type Capture struct {
	kind   sqlast.Kind
	cols   []indexedColumn
	before []capturedRow
}

// PrepareCapture runs the before half of the batched capture protocol
// (§4.5): for DELETE and UPDATE it selects every single-column index's
// current value, per shard, before the write executes, so Events can later
// tell which keys a row's write is about to add or remove. It returns nil
// (not an error) whenever pl's table carries no single-column index or the
// statement isn't one the capture protocol instruments, so callers can
// unconditionally check `capture != nil` rather than special-casing every
// statement kind themselves.
func PrepareCapture(ctx context.Context, client ShardClient, timeout time.Duration, pl *plan.Plan, indexes []topology.VirtualIndex) (*Capture, error) {
	cols := singleColumnIndexes(indexes, pl.Table)
	if len(cols) == 0 {
		return nil, nil
	}
	kind := pl.Statement.Kind()
	switch kind {
	case sqlast.KindInsert:
		return &Capture{kind: kind, cols: cols}, nil
	case sqlast.KindDelete, sqlast.KindUpdate:
	default:
		return nil, nil
	}

	before, err := selectBefore(ctx, client, timeout, pl, cols)
	if err != nil {
		return nil, err
	}
	return &Capture{kind: kind, cols: cols, before: before}, nil
}

func selectBefore(ctx context.Context, client ShardClient, timeout time.Duration, pl *plan.Plan, cols []indexedColumn) ([]capturedRow, error) {
	var where sqlast.Expr
	switch pl.Statement.Kind() {
	case sqlast.KindDelete:
		where = pl.Statement.Delete.Where
	case sqlast.KindUpdate:
		where = pl.Statement.Update.Where
	}

	selectCols := make([]string, len(cols))
	for i, c := range cols {
		selectCols[i] = c.column
	}
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(selectCols, ", "), pl.Table)
	if !where.IsZero() {
		query += " WHERE " + where.String()
	}

	var mu sync.Mutex
	var out []capturedRow
	g, gctx := errgroup.WithContext(ctx)
	for _, target := range pl.Targets {
		target := target
		g.Go(func() error {
			reqCtx, cancel := context.WithTimeout(gctx, timeout)
			defer cancel()
			// The before-scan renders only the WHERE clause, so it binds only
			// the WHERE's own placeholders, looked up by their source index.
			all := pl.ParamsForShard(target.ShardID)
			var params []any
			sqlast.WalkPlaceholders(where, func(ph *sqlast.PlaceholderRef) {
				if ph.Index < len(all) {
					params = append(params, all[ph.Index])
				}
			})
			resp, err := client.Execute(reqCtx, target.Addr, ShardRequest{
				Query:     query,
				Params:    params,
				QueryType: queryTypeRead,
			})
			if err != nil {
				return fmt.Errorf("index capture: before-scan shard %d: %w", target.ShardID, err)
			}
			mu.Lock()
			for _, row := range resp.Rows {
				out = append(out, capturedRow{shardID: target.ShardID, row: row})
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Events computes the final, deduplicated set of index events for a write
// that has just succeeded. Call this only after the write itself landed —
// never before, since an event must never claim a membership change that
// didn't actually happen.
func (c *Capture) Events(pl *plan.Plan) []IndexColumnEvent {
	if c == nil {
		return nil
	}
	var events []IndexColumnEvent
	switch c.kind {
	case sqlast.KindInsert:
		events = c.insertEvents(pl)
	case sqlast.KindDelete:
		events = c.deleteEvents()
	case sqlast.KindUpdate:
		events = c.updateEvents(pl)
	}
	return dedupEvents(events)
}

// insertEvents derives add events directly from the statement: INSERT
// always targets exactly one shard (planInsert resolves it from the shard
// key before fan-out), so every row's indexed-column values add to that
// same shard.
func (c *Capture) insertEvents(pl *plan.Plan) []IndexColumnEvent {
	ins := pl.Statement.Insert
	if ins == nil || len(pl.Targets) == 0 {
		return nil
	}
	shardID := pl.Targets[0].ShardID

	colPos := make(map[string]int, len(ins.Columns))
	for i, name := range ins.Columns {
		colPos[strings.ToLower(name)] = i
	}

	var out []IndexColumnEvent
	for _, ic := range c.cols {
		pos, ok := colPos[strings.ToLower(ic.column)]
		if !ok {
			continue
		}
		for _, row := range ins.Rows {
			if pos >= len(row) {
				continue
			}
			val, ok := plan.ValueFromExpr(row[pos], pl.Params)
			if !ok {
				continue
			}
			key, ok := topology.CanonicalKey([]any{val})
			if !ok {
				continue
			}
			out = append(out, IndexColumnEvent{IndexName: ic.name, KeyValue: key, ShardID: shardID, Op: topology.IndexOpAdd})
		}
	}
	return out
}

// deleteEvents removes every indexed column's pre-image value for every
// row the DELETE's WHERE matched.
func (c *Capture) deleteEvents() []IndexColumnEvent {
	var out []IndexColumnEvent
	for _, ic := range c.cols {
		for _, cr := range c.before {
			key, ok := topology.CanonicalKey([]any{cr.row[ic.column]})
			if !ok {
				continue
			}
			out = append(out, IndexColumnEvent{IndexName: ic.name, KeyValue: key, ShardID: cr.shardID, Op: topology.IndexOpRemove})
		}
	}
	return out
}

// updateEvents compares each row's pre-image against the UPDATE's own SET
// clause: every SET assignment binds the same value across every shard in
// a single statement invocation, so the new value can be resolved once
// from the assignment expr rather than re-querying the shards afterward —
// an explicit simplification of §4.5's SELECT+UPDATE+SELECT sketch. A
// column with no corresponding SET assignment is unaffected and emits
// nothing.
func (c *Capture) updateEvents(pl *plan.Plan) []IndexColumnEvent {
	upd := pl.Statement.Update
	if upd == nil {
		return nil
	}
	newVal := make(map[string]sqlast.Expr, len(upd.Sets))
	for _, a := range upd.Sets {
		newVal[strings.ToLower(a.Column)] = a.Value
	}

	var out []IndexColumnEvent
	for _, ic := range c.cols {
		expr, set := newVal[strings.ToLower(ic.column)]
		if !set {
			continue
		}
		newValue, ok := plan.ValueFromExpr(expr, pl.Params)
		if !ok {
			continue
		}
		newKey, ok := topology.CanonicalKey([]any{newValue})
		if !ok {
			continue
		}
		for _, cr := range c.before {
			oldKey, ok := topology.CanonicalKey([]any{cr.row[ic.column]})
			if ok && oldKey == newKey {
				continue // set to its own value: no membership change
			}
			if ok {
				out = append(out, IndexColumnEvent{IndexName: ic.name, KeyValue: oldKey, ShardID: cr.shardID, Op: topology.IndexOpRemove})
			}
			out = append(out, IndexColumnEvent{IndexName: ic.name, KeyValue: newKey, ShardID: cr.shardID, Op: topology.IndexOpAdd})
		}
	}
	return out
}

// dedupEvents applies §4.5's "global dedup of add/remove across shards":
// an exact duplicate collapses to one event, and an add/remove pair for
// the very same (index, key, shard) tuple cancels out as a pure no-op.
func dedupEvents(events []IndexColumnEvent) []IndexColumnEvent {
	type tuple struct {
		idx   string
		key   string
		shard int
	}
	seen := make(map[tuple]map[topology.IndexOp]bool)
	for _, e := range events {
		t := tuple{e.IndexName, e.KeyValue, e.ShardID}
		if seen[t] == nil {
			seen[t] = make(map[topology.IndexOp]bool)
		}
		seen[t][e.Op] = true
	}
	out := make([]IndexColumnEvent, 0, len(events))
	emitted := make(map[tuple]bool)
	for _, e := range events {
		t := tuple{e.IndexName, e.KeyValue, e.ShardID}
		if emitted[t] {
			continue
		}
		ops := seen[t]
		if ops[topology.IndexOpAdd] && ops[topology.IndexOpRemove] {
			emitted[t] = true // both seen for this tuple: net no-op
			continue
		}
		emitted[t] = true
		out = append(out, e)
	}
	return out
}
