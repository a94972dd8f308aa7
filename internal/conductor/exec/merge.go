package exec

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dreamware/conductor/internal/conductor/plan"
	"github.com/dreamware/conductor/internal/sqlast"
)

// MergedResult is the final shape handed back to the caller: the §6.1
// `sql()` operation's {rows, rowsAffected, shardStats} result.
type MergedResult struct {
	Rows         []map[string]any
	RowsAffected int64
	ShardStats   []ShardStat
}

// virtualShardKey is the row-map key a shard uses for the hidden column,
// matching plan's virtualShardCol.
const virtualShardKey = "_virtualShard"

// Merge reduces a Result per pl's merge strategy (§4.5).
func Merge(pl *plan.Plan, res *Result) (*MergedResult, error) {
	switch pl.Merge {
	case plan.MergeFanoutAll, plan.MergeLocal:
		return &MergedResult{ShardStats: res.Stats}, nil
	case plan.MergeWriteCount:
		return mergeWriteCount(res), nil
	case plan.MergeConcat:
		return mergeConcat(pl, res), nil
	case plan.MergeAggregate:
		return mergeAggregate(pl, res)
	case plan.MergeGroupBy:
		return mergeGroupBy(pl, res)
	case plan.MergeUnion:
		return mergeUnion(res), nil
	default:
		return nil, fmt.Errorf("exec: unknown merge strategy %v", pl.Merge)
	}
}

func mergeWriteCount(res *Result) *MergedResult {
	var total int64
	for _, o := range res.Responses {
		if o.Err == nil {
			total += o.Resp.RowsAffected
		}
	}
	return &MergedResult{RowsAffected: total, ShardStats: res.Stats}
}

func mergeUnion(res *Result) *MergedResult {
	var rows []map[string]any
	for _, o := range res.Responses {
		if o.Err == nil {
			rows = append(rows, o.Resp.Rows...)
		}
	}
	return &MergedResult{Rows: rows, ShardStats: res.Stats}
}

// mergeConcat concatenates rows in shard order and strips _virtualShard
// unless the caller explicitly projected it.
func mergeConcat(pl *plan.Plan, res *Result) *MergedResult {
	strip := !selectProjectsVirtualShard(pl.Statement.Select)
	var rows []map[string]any
	for _, o := range res.Responses {
		if o.Err != nil {
			continue
		}
		for _, row := range o.Resp.Rows {
			if strip {
				row = stripVirtualShard(row)
			}
			rows = append(rows, row)
		}
	}
	return &MergedResult{Rows: rows, ShardStats: res.Stats}
}

func selectProjectsVirtualShard(sel *sqlast.SelectStmt) bool {
	if sel == nil {
		return false
	}
	for _, f := range sel.Fields {
		if f.Star {
			return true
		}
		if f.Expr.Kind() == sqlast.ExprColumn && strings.EqualFold(f.Expr.Column.Name, virtualShardKey) {
			return true
		}
	}
	return false
}

func stripVirtualShard(row map[string]any) map[string]any {
	if _, ok := row[virtualShardKey]; !ok {
		return row
	}
	out := make(map[string]any, len(row))
	for k, v := range row {
		if k == virtualShardKey {
			continue
		}
		out[k] = v
	}
	return out
}

// mergeAggregate reduces an aggregate SELECT with no GROUP BY down to the
// single output row a non-sharded database would have produced.
func mergeAggregate(pl *plan.Plan, res *Result) (*MergedResult, error) {
	sel := pl.Statement.Select
	if sel == nil {
		return nil, fmt.Errorf("exec: aggregate merge requires a SELECT statement")
	}
	var rows []map[string]any
	for _, o := range res.Responses {
		if o.Err == nil {
			rows = append(rows, o.Resp.Rows...)
		}
	}
	out := reduceGroup(rows, sel, nil, pl.AvgRewrites)
	return &MergedResult{Rows: []map[string]any{out}, ShardStats: res.Stats}, nil
}

// mergeGroupBy builds a per-group-key multimap from every shard's rows and
// reduces each group independently, used when the GROUP BY columns are all
// projected and the planner has already confirmed grouping is safe.
func mergeGroupBy(pl *plan.Plan, res *Result) (*MergedResult, error) {
	sel := pl.Statement.Select
	if sel == nil {
		return nil, fmt.Errorf("exec: group-by merge requires a SELECT statement")
	}
	groupCols := groupByColumnNames(sel)

	groups := make(map[string][]map[string]any)
	var order []string
	for _, o := range res.Responses {
		if o.Err != nil {
			continue
		}
		for _, row := range o.Resp.Rows {
			key := groupKey(row, groupCols)
			if _, seen := groups[key]; !seen {
				order = append(order, key)
			}
			groups[key] = append(groups[key], row)
		}
	}

	out := make([]map[string]any, 0, len(order))
	for _, key := range order {
		out = append(out, reduceGroup(groups[key], sel, groupCols, pl.AvgRewrites))
	}
	return &MergedResult{Rows: out, ShardStats: res.Stats}, nil
}

func groupByColumnNames(sel *sqlast.SelectStmt) []string {
	out := make([]string, 0, len(sel.GroupBy))
	for _, g := range sel.GroupBy {
		if g.Kind() == sqlast.ExprColumn {
			out = append(out, g.Column.Name)
		}
	}
	return out
}

func groupKey(row map[string]any, cols []string) string {
	tuple := make([]any, len(cols))
	for i, c := range cols {
		tuple[i] = row[c]
	}
	b, err := json.Marshal(tuple)
	if err != nil {
		return fmt.Sprint(tuple)
	}
	return string(b)
}

// fieldKey is the column name a shard's query engine gives an unaliased
// select field: its own alias if declared, else its rendered expression
// text — matching default SQLite behavior for e.g. bare `count(*)`.
func fieldKey(f sqlast.SelectField) string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Expr.String()
}

type aggField struct {
	key string
	fn  string
}

func aggFieldsFromSelect(sel *sqlast.SelectStmt) []aggField {
	var out []aggField
	for _, f := range sel.Fields {
		if f.Star || f.Expr.Kind() != sqlast.ExprCall {
			continue
		}
		name := strings.ToLower(f.Expr.Call.Name)
		switch name {
		case "count", "sum", "min", "max":
			out = append(out, aggField{key: fieldKey(f), fn: name})
		}
	}
	return out
}

// reduceGroup collapses rows (every shard's contribution to one group, or
// to the whole result set when there's no GROUP BY) into a single output
// row: passthrough columns copied from the first row, aggregate columns
// reduced per their function, and any AVG split by rewriteAvgFields
// recombined from its SUM/COUNT pair.
func reduceGroup(rows []map[string]any, sel *sqlast.SelectStmt, passthroughCols []string, avgRewrites []plan.AvgRewrite) map[string]any {
	out := make(map[string]any)
	if len(rows) > 0 {
		for _, col := range passthroughCols {
			out[col] = rows[0][col]
		}
	}
	for _, af := range aggFieldsFromSelect(sel) {
		switch af.fn {
		case "count", "sum":
			var total float64
			for _, r := range rows {
				total += toFloat(r[af.key])
			}
			out[af.key] = total
		case "min":
			out[af.key] = reduceExtreme(rows, af.key, true)
		case "max":
			out[af.key] = reduceExtreme(rows, af.key, false)
		}
	}
	for _, rw := range avgRewrites {
		sum := toFloat(out[rw.SumAlias])
		count := toFloat(out[rw.CountAlias])
		delete(out, rw.SumAlias)
		delete(out, rw.CountAlias)
		if count == 0 {
			out[rw.OutputAlias] = nil
			continue
		}
		out[rw.OutputAlias] = sum / count
	}
	return out
}

func reduceExtreme(rows []map[string]any, key string, wantMin bool) any {
	var best any
	haveBest := false
	for _, r := range rows {
		v, ok := r[key]
		if !ok || v == nil {
			continue
		}
		if !haveBest {
			best, haveBest = v, true
			continue
		}
		if wantMin == lessValue(v, best) {
			best = v
		}
	}
	return best
}

func lessValue(a, b any) bool {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		return af < bf
	}
	return fmt.Sprint(a) < fmt.Sprint(b)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func toFloat(v any) float64 {
	f, _ := asFloat(v)
	return f
}
