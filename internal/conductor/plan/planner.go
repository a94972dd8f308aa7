package plan

import (
	"context"
	"sort"
	"strings"

	"github.com/dreamware/conductor/internal/sqlast"
	"github.com/dreamware/conductor/internal/topology"
)

// Planner turns a parsed statement into a Plan, consulting a cached
// Topology snapshot for table/shard/index metadata. One Planner is shared
// by every connection in a process; Invalidate is called whenever this
// process observes a DDL or index-status change so later plans see fresh
// metadata without a Store round trip on every statement.
type Planner struct {
	store topology.Store
	cache *SnapshotCache
}

// New builds a Planner backed by store, with its own process-local cache.
func New(store topology.Store) *Planner {
	return &Planner{store: store, cache: NewSnapshotCache()}
}

// Invalidate drops the cached snapshot; the next Plan call reloads it.
func (p *Planner) Invalidate() { p.cache.Invalidate() }

// Plan selects shard targets and a merge strategy for stmt, rewriting it
// for resharding or CREATE TABLE augmentation as needed. params is the
// caller's original argument vector, indexed by each Placeholder's Index.
func (p *Planner) Plan(ctx context.Context, stmt *sqlast.Statement, params []any) (*Plan, error) {
	snap, err := p.cache.Get(ctx, p.store)
	if err != nil {
		return nil, err
	}

	switch stmt.Kind() {
	case sqlast.KindCreateTable, sqlast.KindAlterTable, sqlast.KindDropTable:
		return p.planDDL(stmt, snap)
	case sqlast.KindCreateIndex:
		return p.planCreateIndex(ctx, stmt, snap)
	case sqlast.KindPragma:
		return p.planPragma(stmt), nil
	case sqlast.KindInsert:
		return p.planInsert(stmt, params, snap)
	case sqlast.KindSelect, sqlast.KindUpdate, sqlast.KindDelete:
		return p.planDML(ctx, stmt, params, snap)
	default:
		return nil, planErr("cannot plan statement kind %s", stmt.Kind())
	}
}

// planCreateIndex implements §4.6's index-creation path: CREATE INDEX never
// fans out to a shard at plan time. Instead it registers the index
// definition in Topology (building) and records the async build_index job
// that the maintenance consumer will pick up to scan every shard and
// populate entries; the statement itself resolves to a local no-op.
func (p *Planner) planCreateIndex(ctx context.Context, stmt *sqlast.Statement, snap topology.Snapshot) (*Plan, error) {
	ci := stmt.CreateIndex
	if _, ok := tableMeta(snap, ci.Table); !ok {
		return nil, planErr("table %q not registered", ci.Table)
	}
	if len(ci.Columns) == 0 {
		return nil, planErr("CREATE INDEX %q has no columns", ci.Name)
	}

	idxType := topology.IndexHash
	if ci.Unique {
		idxType = topology.IndexUnique
	}
	err := p.store.CreateVirtualIndex(ctx, topology.VirtualIndex{
		Name:    ci.Name,
		Table:   ci.Table,
		Columns: ci.Columns,
		Type:    idxType,
		Status:  topology.IndexBuilding,
	})
	if err != nil {
		if ci.IfNotExists && topology.IsKind(err, topology.ErrAlreadyExists) {
			return &Plan{Statement: stmt, Merge: MergeLocal, Table: ci.Table}, nil
		}
		return nil, err
	}

	jobID, err := p.store.CreateAsyncJob(ctx, topology.AsyncJob{Type: "build_index", Table: ci.Table})
	if err != nil {
		return nil, err
	}

	return &Plan{
		Statement: stmt,
		Merge:     MergeLocal,
		Table:     ci.Table,
		IndexJob: &IndexJob{
			AsyncJobID: jobID,
			Table:      ci.Table,
			Column:     ci.Columns[0],
			IndexName:  ci.Name,
		},
	}, nil
}

// planPragma treats every PRAGMA as a local, per-connection directive: it
// carries no shard key and no cluster-wide meaning, so it never fans out
// and always succeeds with zero rows.
func (p *Planner) planPragma(stmt *sqlast.Statement) *Plan {
	return &Plan{Statement: stmt, Merge: MergeLocal}
}

func tableMeta(snap topology.Snapshot, name string) (topology.Table, bool) {
	for _, t := range snap.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return topology.Table{}, false
}

func shardsForTable(snap topology.Snapshot, name string) []topology.TableShard {
	var out []topology.TableShard
	for _, ts := range snap.TableShards {
		if ts.TableName == name {
			out = append(out, ts)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ShardID < out[j].ShardID })
	return out
}

// planDDL implements rule 1: every DDL that spans a table fans out to
// every node currently hosting any of its shards, "all must succeed".
// CREATE TABLE is no exception to the fan-out: Topology registration
// happens first, via UpdateTopology, so table_shards already exist to fan
// out against, and its rewrite only adds the augmented column list.
func (p *Planner) planDDL(stmt *sqlast.Statement, snap topology.Snapshot) (*Plan, error) {
	table := stmt.Table()
	shards := shardsForTable(snap, table)
	if len(shards) == 0 {
		return nil, planErr("table %q has no registered shards", table)
	}

	out := stmt
	if stmt.Kind() == sqlast.KindCreateTable {
		rewritten := rewriteCreateTable(stmt.CreateTable)
		out = &sqlast.Statement{CreateTable: rewritten}
	}

	return &Plan{
		Targets:   targetsFromShards(shards, nodeAddrIndex(snap)),
		Statement: out,
		Merge:     MergeFanoutAll,
		Table:     table,
	}, nil
}

// planInsert implements rule 2.
func (p *Planner) planInsert(stmt *sqlast.Statement, params []any, snap topology.Snapshot) (*Plan, error) {
	ins := stmt.Insert
	table, ok := tableMeta(snap, ins.Table)
	if !ok {
		return nil, planErr("table %q not registered", ins.Table)
	}

	colPos := -1
	for i, c := range ins.Columns {
		if strings.EqualFold(c, table.ShardKeyCol) {
			colPos = i
			break
		}
	}
	if colPos == -1 {
		return nil, planErr("INSERT into %q must include shard key column %q", ins.Table, table.ShardKeyCol)
	}
	if len(ins.Rows) == 0 {
		return nil, planErr("INSERT into %q has no value rows", ins.Table)
	}
	val, ok := valueFromExpr(ins.Rows[0][colPos], params)
	if !ok {
		return nil, planErr("cannot resolve shard key value for INSERT into %q", ins.Table)
	}

	shardID := ShardFor(val, table.NumShards)
	target, ok := shardTarget(snap, ins.Table, shardID)
	if !ok {
		return nil, planErr("no table_shards entry for %q shard %d", ins.Table, shardID)
	}
	target.Addr = nodeAddrIndex(snap)[target.NodeID]

	plan := &Plan{
		Targets:   []ShardTarget{target},
		Statement: stmt,
		Params:    params,
		Merge:     MergeWriteCount,
		Table:     ins.Table,
	}
	if table.Resharding {
		nextPH := countPlaceholders(stmt)
		rewritten, _ := rewriteForResharding(stmt, nextPH)
		plan.Statement = rewritten
		plan.Reshard = true
	}
	return plan, nil
}

func shardTarget(snap topology.Snapshot, table string, shardID int) (ShardTarget, bool) {
	for _, ts := range snap.TableShards {
		if ts.TableName == table && ts.ShardID == shardID {
			return ShardTarget{ShardID: ts.ShardID, NodeID: ts.NodeID}, true
		}
	}
	return ShardTarget{}, false
}

// planDML implements rules 3-5 for SELECT/UPDATE/DELETE.
func (p *Planner) planDML(ctx context.Context, stmt *sqlast.Statement, params []any, snap topology.Snapshot) (*Plan, error) {
	table, where, err := dmlTableAndWhere(stmt)
	if err != nil {
		return nil, err
	}
	meta, ok := tableMeta(snap, table)
	if !ok {
		return nil, planErr("table %q not registered", table)
	}
	allShards := shardsForTable(snap, table)
	if len(allShards) == 0 {
		return nil, planErr("table %q has no registered shards", table)
	}

	eqs := topLevelEqualities(where)
	nodeAddrs := nodeAddrIndex(snap)

	var targets []ShardTarget
	var shardID int
	singleShard := false

	if eq, ok := eqs[meta.ShardKeyCol]; ok {
		if val, ok := valueFromExpr(eq, params); ok {
			shardID = ShardFor(val, meta.NumShards)
			if t, ok := shardTarget(snap, table, shardID); ok {
				t.Addr = nodeAddrs[t.NodeID]
				targets = []ShardTarget{t}
				singleShard = true
			}
		}
	}

	if !singleShard {
		for col, eq := range eqs {
			if strings.EqualFold(col, meta.ShardKeyCol) {
				continue
			}
			idx, err := p.readyIndexFor(ctx, snap, table, col)
			if err != nil {
				return nil, err
			}
			if idx == nil {
				continue
			}
			val, ok := valueFromExpr(eq, params)
			if !ok {
				continue
			}
			key, ok := topology.CanonicalKey([]any{val})
			if !ok {
				continue
			}
			shardIDs, err := p.store.GetIndexedShards(ctx, idx.Name, key)
			if err != nil {
				return nil, err
			}
			targets = indexedTargets(allShards, shardIDs, nodeAddrs)
			singleShard = true
			break
		}
	}

	if !singleShard {
		targets = targetsFromShards(allShards, nodeAddrs)
	}

	merge := mergeStrategyFor(stmt)
	workingStmt := stmt
	var avgRewrites []AvgRewrite
	if stmt.Kind() == sqlast.KindSelect && (merge == MergeAggregate || merge == MergeGroupBy) {
		rewrittenSel, rewrites := rewriteAvgFields(stmt.Select)
		if len(rewrites) > 0 {
			workingStmt = &sqlast.Statement{Select: rewrittenSel}
			avgRewrites = rewrites
		}
	}

	plan := &Plan{
		Targets:     targets,
		Statement:   workingStmt,
		Params:      params,
		Table:       table,
		Merge:       merge,
		AvgRewrites: avgRewrites,
	}

	if meta.Resharding {
		nextPH := countPlaceholders(workingStmt)
		rewritten, _ := rewriteForResharding(workingStmt, nextPH)
		plan.Statement = rewritten
		plan.Reshard = true
	}
	return plan, nil
}

func dmlTableAndWhere(stmt *sqlast.Statement) (string, sqlast.Expr, error) {
	switch stmt.Kind() {
	case sqlast.KindSelect:
		return stmt.Select.From, stmt.Select.Where, nil
	case sqlast.KindUpdate:
		return stmt.Update.Table, stmt.Update.Where, nil
	case sqlast.KindDelete:
		return stmt.Delete.Table, stmt.Delete.Where, nil
	default:
		return "", sqlast.Expr{}, planErr("not a SELECT/UPDATE/DELETE statement")
	}
}

// readyIndexFor returns the ready virtual index over exactly [col] on
// table, or nil if none exists or it isn't ready — "building" indexes must
// be ignored by the planner per §3.
func (p *Planner) readyIndexFor(ctx context.Context, snap topology.Snapshot, table, col string) (*topology.VirtualIndex, error) {
	for _, idx := range snap.VirtualIndexes {
		if idx.Table != table || idx.Status != topology.IndexReady {
			continue
		}
		if len(idx.Columns) == 1 && strings.EqualFold(idx.Columns[0], col) {
			cp := idx
			return &cp, nil
		}
	}
	return nil, nil
}

func indexedTargets(allShards []topology.TableShard, shardIDs []int, nodeAddrs map[string]string) []ShardTarget {
	if len(shardIDs) == 0 {
		return nil
	}
	byID := make(map[int]topology.TableShard, len(allShards))
	for _, ts := range allShards {
		byID[ts.ShardID] = ts
	}
	out := make([]ShardTarget, 0, len(shardIDs))
	for _, id := range shardIDs {
		if ts, ok := byID[id]; ok {
			out = append(out, ShardTarget{ShardID: ts.ShardID, NodeID: ts.NodeID, Addr: nodeAddrs[ts.NodeID]})
		}
	}
	return out
}

func mergeStrategyFor(stmt *sqlast.Statement) MergeStrategy {
	if stmt.Kind() != sqlast.KindSelect {
		return MergeWriteCount
	}
	sel := stmt.Select
	if len(sel.GroupBy) > 0 {
		if groupByColsProjected(sel) {
			return MergeGroupBy
		}
		return MergeUnion
	}
	if hasAggregate(sel) {
		return MergeAggregate
	}
	return MergeConcat
}

func hasAggregate(sel *sqlast.SelectStmt) bool {
	for _, f := range sel.Fields {
		if f.Expr.Kind() == sqlast.ExprCall && isAggregateName(f.Expr.Call.Name) {
			return true
		}
	}
	return false
}

func isAggregateName(name string) bool {
	switch strings.ToLower(name) {
	case "count", "sum", "min", "max", "avg":
		return true
	default:
		return false
	}
}

// groupByColsProjected reports whether every GROUP BY expression is a bare
// column reference that also appears, unmodified, in the select list —
// the condition under which a GROUP BY merge is safe (§4.5).
func groupByColsProjected(sel *sqlast.SelectStmt) bool {
	for _, g := range sel.GroupBy {
		if g.Kind() != sqlast.ExprColumn {
			return false
		}
		found := false
		for _, f := range sel.Fields {
			if f.Expr.Kind() == sqlast.ExprColumn && sameColumn(f.Expr.Column, g.Column) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func sameColumn(a, b *sqlast.ColumnRef) bool {
	return strings.EqualFold(a.Name, b.Name) && strings.EqualFold(a.Table, b.Table)
}
