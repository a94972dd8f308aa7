package plan

import (
	"fmt"
	"strings"

	"github.com/dreamware/conductor/internal/sqlast"
)

const virtualShardCol = "_virtualShard"
const constraintPrimaryKey = "primary_key"

// rewriteForResharding annotates stmt with a _virtualShard filter/column
// per §4.4 so rows don't leak across logical shards while a table has an
// in-flight move: reads must not see a row under its old logical shard
// once it also exists under the new one, and writes must not land without
// the column. It returns the rewritten statement and whether a rewrite
// happened. Existing Placeholder.Index values are untouched; the new
// placeholder is appended at the next index — its value is supplied later,
// per target shard, by Plan.ParamsForShard.
func rewriteForResharding(stmt *sqlast.Statement, nextPH int) (*sqlast.Statement, bool) {
	switch stmt.Kind() {
	case sqlast.KindInsert:
		return rewriteInsertReshard(stmt), true
	case sqlast.KindSelect:
		out := *stmt.Select
		out.Where = conjoinVirtualShard(out.Where, nextPH)
		return &sqlast.Statement{Select: &out}, true
	case sqlast.KindUpdate:
		out := *stmt.Update
		out.Where = conjoinVirtualShard(out.Where, nextPH)
		return &sqlast.Statement{Update: &out}, true
	case sqlast.KindDelete:
		out := *stmt.Delete
		out.Where = conjoinVirtualShard(out.Where, nextPH)
		return &sqlast.Statement{Delete: &out}, true
	default:
		return stmt, false
	}
}

func conjoinVirtualShard(where sqlast.Expr, ph int) sqlast.Expr {
	filter := sqlast.Expr{Binary: &sqlast.BinaryExpr{
		Op:    sqlast.OpEq,
		Left:  sqlast.Expr{Column: &sqlast.ColumnRef{Name: virtualShardCol}},
		Right: sqlast.Expr{Placeholder: &sqlast.PlaceholderRef{Index: ph}},
	}}
	if where.IsZero() {
		return filter
	}
	return sqlast.Expr{Binary: &sqlast.BinaryExpr{Op: sqlast.OpAnd, Left: where, Right: filter}}
}

// rewriteInsertReshard appends _virtualShard to the column list and one
// new trailing placeholder per value row. All rows are targeted at the
// same shard (the one selected for the statement as a whole), so every
// appended placeholder carries the identical value; Plan.ParamsForShard
// fills it in once the target shard is known.
func rewriteInsertReshard(stmt *sqlast.Statement) *sqlast.Statement {
	out := *stmt.Insert
	out.Columns = append(append([]string{}, out.Columns...), virtualShardCol)
	rows := make([][]sqlast.Expr, len(out.Rows))
	nextPH := countPlaceholders(stmt)
	for i, row := range out.Rows {
		newRow := append(append([]sqlast.Expr{}, row...), sqlast.Expr{Placeholder: &sqlast.PlaceholderRef{Index: nextPH + i}})
		rows[i] = newRow
	}
	out.Rows = rows
	return &sqlast.Statement{Insert: &out}
}

func countPlaceholders(stmt *sqlast.Statement) int {
	max := -1
	for _, ph := range sqlast.StatementPlaceholders(stmt) {
		if ph.Index > max {
			max = ph.Index
		}
	}
	return max + 1
}

// rewriteAvgFields splits every bare AVG(col) select field into a SUM(col)
// and COUNT(col) pair so each shard returns exact inputs for recombination,
// instead of a per-shard mean that can't be merged losslessly (§7 Open
// Question: exact sum/count recombination, not mean-of-means). The returned
// rewrites map each original AVG field to the aliases of its replacements.
func rewriteAvgFields(sel *sqlast.SelectStmt) (*sqlast.SelectStmt, []AvgRewrite) {
	var rewrites []AvgRewrite
	newFields := make([]sqlast.SelectField, 0, len(sel.Fields))
	n := 0
	for _, f := range sel.Fields {
		if f.Expr.Kind() == sqlast.ExprCall && strings.EqualFold(f.Expr.Call.Name, "avg") && len(f.Expr.Call.Args) == 1 {
			arg := f.Expr.Call.Args[0]
			outputAlias := f.Alias
			if outputAlias == "" {
				outputAlias = f.Expr.String()
			}
			sumAlias := fmt.Sprintf("__avg_sum_%d", n)
			countAlias := fmt.Sprintf("__avg_count_%d", n)
			n++
			newFields = append(newFields,
				sqlast.SelectField{Expr: sqlast.Expr{Call: &sqlast.CallExpr{Name: "sum", Args: []sqlast.Expr{arg}}}, Alias: sumAlias},
				sqlast.SelectField{Expr: sqlast.Expr{Call: &sqlast.CallExpr{Name: "count", Args: []sqlast.Expr{arg}}}, Alias: countAlias},
			)
			rewrites = append(rewrites, AvgRewrite{OutputAlias: outputAlias, SumAlias: sumAlias, CountAlias: countAlias})
			continue
		}
		newFields = append(newFields, f)
	}
	if len(rewrites) == 0 {
		return sel, nil
	}
	out := *sel
	out.Fields = newFields
	return &out, rewrites
}

// rewriteCreateTable augments a CREATE TABLE's column list with
// _virtualShard INTEGER NOT NULL DEFAULT 0 and demotes any declared
// PRIMARY KEY into a composite (_virtualShard, original_pk_cols…) table
// constraint, per §4.4.
func rewriteCreateTable(stmt *sqlast.CreateTableStmt) *sqlast.CreateTableStmt {
	out := *stmt
	out.Columns = append([]sqlast.ColumnDef{}, stmt.Columns...)
	out.Constraints = append([]sqlast.TableConstraint{}, stmt.Constraints...)

	var pkCols []string
	filteredCols := make([]sqlast.ColumnDef, 0, len(out.Columns))
	for _, c := range out.Columns {
		if c.PrimaryKey {
			pkCols = append(pkCols, c.Name)
			c.PrimaryKey = false
		}
		filteredCols = append(filteredCols, c)
	}
	filteredConstraints := make([]sqlast.TableConstraint, 0, len(out.Constraints))
	for _, c := range out.Constraints {
		if c.Kind == constraintPrimaryKey {
			pkCols = append(pkCols, c.Columns...)
			continue
		}
		filteredConstraints = append(filteredConstraints, c)
	}

	filteredCols = append(filteredCols, sqlast.ColumnDef{
		Name:    virtualShardCol,
		Type:    "INTEGER",
		NotNull: true,
		Default: sqlast.Expr{Literal: &sqlast.Literal{Kind: sqlast.LiteralNumber, Text: "0"}},
	})
	compositePK := append([]string{virtualShardCol}, pkCols...)
	filteredConstraints = append(filteredConstraints, sqlast.TableConstraint{
		Kind: constraintPrimaryKey, Columns: compositePK,
	})

	out.Columns = filteredCols
	out.Constraints = filteredConstraints
	return &out
}
