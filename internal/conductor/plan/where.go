package plan

import (
	"strconv"

	"github.com/dreamware/conductor/internal/sqlast"
)

// topLevelEqualities walks the AND-only spine of a WHERE expression and
// collects every `column = value` (or `value = column`) comparison found
// along it, keyed by column name. It never descends into an OR branch, so
// an equality that is only true in one arm of an `a = 1 OR b = 2` WHERE is
// never reported — matching §4.4's "WHERE containing shard_key = <value>
// at the top level (no OR)" rule. Descending into AND is always safe: if
// `x AND y` holds, both x and y hold.
func topLevelEqualities(where sqlast.Expr) map[string]sqlast.Expr {
	out := make(map[string]sqlast.Expr)
	collectEqualities(where, out)
	return out
}

func collectEqualities(e sqlast.Expr, out map[string]sqlast.Expr) {
	if e.IsZero() {
		return
	}
	switch e.Kind() {
	case sqlast.ExprBinary:
		b := e.Binary
		switch b.Op {
		case sqlast.OpAnd:
			collectEqualities(b.Left, out)
			collectEqualities(b.Right, out)
		case sqlast.OpEq:
			if col, val, ok := columnValuePair(b.Left, b.Right); ok {
				out[col.Name] = val
			}
		}
	}
}

// columnValuePair reports whether one side of an equality is a bare column
// reference and the other a value-bearing expr (literal or placeholder),
// regardless of which side the column appears on.
func columnValuePair(left, right sqlast.Expr) (col *sqlast.ColumnRef, val sqlast.Expr, ok bool) {
	if left.Kind() == sqlast.ExprColumn && isValueExpr(right) {
		return left.Column, right, true
	}
	if right.Kind() == sqlast.ExprColumn && isValueExpr(left) {
		return right.Column, left, true
	}
	return nil, sqlast.Expr{}, false
}

func isValueExpr(e sqlast.Expr) bool {
	switch e.Kind() {
	case sqlast.ExprLiteral, sqlast.ExprPlaceholder:
		return true
	default:
		return false
	}
}

// ValueFromExpr exports valueFromExpr for exec's batched capture protocol,
// which needs the same literal/placeholder resolution to turn an INSERT
// row's column exprs into concrete index-key values.
func ValueFromExpr(e sqlast.Expr, params []any) (any, bool) {
	return valueFromExpr(e, params)
}

// valueFromExpr resolves a literal or placeholder expr to its concrete Go
// value, given the caller's parameter vector. Reports false for anything
// else (the caller should treat this as "cannot route on this").
func valueFromExpr(e sqlast.Expr, params []any) (any, bool) {
	switch e.Kind() {
	case sqlast.ExprLiteral:
		return literalValue(e.Literal), true
	case sqlast.ExprPlaceholder:
		idx := e.Placeholder.Index
		if idx < 0 || idx >= len(params) {
			return nil, false
		}
		return params[idx], true
	default:
		return nil, false
	}
}

func literalValue(lit *sqlast.Literal) any {
	switch lit.Kind {
	case sqlast.LiteralNull:
		return nil
	case sqlast.LiteralBool:
		return lit.Bool
	case sqlast.LiteralNumber:
		f, err := strconv.ParseFloat(lit.Text, 64)
		if err != nil {
			return lit.Text
		}
		return f
	default: // LiteralString
		return lit.Text
	}
}
