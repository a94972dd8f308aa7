package sqlast

import (
	"strconv"
	"strings"
)

// String renders stmt back to SQL text. The output is deterministic and
// canonical — not necessarily byte-identical to the original source — which
// is what the Planner relies on when it rewrites a statement (injecting
// `_virtualShard` predicates, renumbering nothing) and hands the result to
// a shard's query engine.
func (s Statement) String() string {
	switch s.Kind() {
	case KindSelect:
		return s.Select.String()
	case KindInsert:
		return s.Insert.String()
	case KindUpdate:
		return s.Update.String()
	case KindDelete:
		return s.Delete.String()
	case KindCreateTable:
		return s.CreateTable.String()
	case KindCreateIndex:
		return s.CreateIndex.String()
	case KindAlterTable:
		return s.AlterTable.String()
	case KindDropTable:
		return s.DropTable.String()
	case KindPragma:
		return s.Pragma.String()
	default:
		return ""
	}
}

func (s *SelectStmt) String() string {
	var b strings.Builder
	b.WriteString("SELECT ")
	if s.Distinct {
		b.WriteString("DISTINCT ")
	}
	b.WriteString(joinFields(s.Fields))
	if s.From != "" {
		b.WriteString(" FROM ")
		b.WriteString(s.From)
		if s.FromAs != "" {
			b.WriteString(" AS ")
			b.WriteString(s.FromAs)
		}
	}
	for _, j := range s.Joins {
		b.WriteString(" ")
		b.WriteString(j.String())
	}
	if !s.Where.IsZero() {
		b.WriteString(" WHERE ")
		b.WriteString(s.Where.String())
	}
	if len(s.GroupBy) > 0 {
		b.WriteString(" GROUP BY ")
		b.WriteString(joinExprs(s.GroupBy))
	}
	if !s.Having.IsZero() {
		b.WriteString(" HAVING ")
		b.WriteString(s.Having.String())
	}
	if len(s.OrderBy) > 0 {
		b.WriteString(" ORDER BY ")
		parts := make([]string, len(s.OrderBy))
		for i, t := range s.OrderBy {
			if t.Desc {
				parts[i] = t.Expr.String() + " DESC"
			} else {
				parts[i] = t.Expr.String() + " ASC"
			}
		}
		b.WriteString(strings.Join(parts, ", "))
	}
	if s.Limit != nil {
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.Itoa(*s.Limit))
	}
	if s.Offset != nil {
		b.WriteString(" OFFSET ")
		b.WriteString(strconv.Itoa(*s.Offset))
	}
	return b.String()
}

func joinFields(fields []SelectField) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		if f.Star {
			parts[i] = "*"
			continue
		}
		if f.Alias != "" {
			parts[i] = f.Expr.String() + " AS " + f.Alias
		} else {
			parts[i] = f.Expr.String()
		}
	}
	return strings.Join(parts, ", ")
}

func joinExprs(exprs []Expr) string {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = e.String()
	}
	return strings.Join(parts, ", ")
}

func (j Join) String() string {
	var kw string
	switch j.Kind {
	case JoinLeft:
		kw = "LEFT JOIN"
	case JoinRight:
		kw = "RIGHT JOIN"
	case JoinOuter:
		kw = "OUTER JOIN"
	default:
		kw = "JOIN"
	}
	s := kw + " " + j.Table
	if j.As != "" {
		s += " AS " + j.As
	}
	if !j.On.IsZero() {
		s += " ON " + j.On.String()
	}
	return s
}

func (s *InsertStmt) String() string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(s.Table)
	if len(s.Columns) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(s.Columns, ", "))
		b.WriteString(")")
	}
	b.WriteString(" VALUES ")
	rows := make([]string, len(s.Rows))
	for i, row := range s.Rows {
		rows[i] = "(" + joinExprs(row) + ")"
	}
	b.WriteString(strings.Join(rows, ", "))
	return b.String()
}

func (s *UpdateStmt) String() string {
	var b strings.Builder
	b.WriteString("UPDATE ")
	b.WriteString(s.Table)
	b.WriteString(" SET ")
	parts := make([]string, len(s.Sets))
	for i, a := range s.Sets {
		parts[i] = a.Column + " = " + a.Value.String()
	}
	b.WriteString(strings.Join(parts, ", "))
	if !s.Where.IsZero() {
		b.WriteString(" WHERE ")
		b.WriteString(s.Where.String())
	}
	if len(s.Returning) > 0 {
		b.WriteString(" RETURNING ")
		b.WriteString(joinFields(s.Returning))
	}
	return b.String()
}

func (s *DeleteStmt) String() string {
	var b strings.Builder
	b.WriteString("DELETE FROM ")
	b.WriteString(s.Table)
	if !s.Where.IsZero() {
		b.WriteString(" WHERE ")
		b.WriteString(s.Where.String())
	}
	if len(s.Returning) > 0 {
		b.WriteString(" RETURNING ")
		b.WriteString(joinFields(s.Returning))
	}
	return b.String()
}

func (s *CreateTableStmt) String() string {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	if s.IfNotExists {
		b.WriteString("IF NOT EXISTS ")
	}
	b.WriteString(s.Name)
	b.WriteString(" (")
	var parts []string
	for _, c := range s.Columns {
		parts = append(parts, c.String())
	}
	for _, c := range s.Constraints {
		parts = append(parts, c.String())
	}
	b.WriteString(strings.Join(parts, ", "))
	b.WriteString(")")
	return b.String()
}

func (c ColumnDef) String() string {
	s := c.Name + " " + c.Type
	if c.PrimaryKey {
		s += " PRIMARY KEY"
	}
	if c.NotNull {
		s += " NOT NULL"
	}
	if !c.Default.IsZero() {
		s += " DEFAULT " + c.Default.String()
	}
	return s
}

func (c TableConstraint) String() string {
	switch c.Kind {
	case "primary_key":
		return "PRIMARY KEY (" + strings.Join(c.Columns, ", ") + ")"
	case "unique":
		return "UNIQUE (" + strings.Join(c.Columns, ", ") + ")"
	case "foreign_key":
		s := "FOREIGN KEY (" + strings.Join(c.Columns, ", ") + ")"
		if c.Raw != "" {
			s += " " + c.Raw
		}
		return s
	case "check":
		return "CHECK (" + c.Raw + ")"
	default:
		return c.Raw
	}
}

func (s *CreateIndexStmt) String() string {
	var b strings.Builder
	b.WriteString("CREATE ")
	if s.Unique {
		b.WriteString("UNIQUE ")
	}
	b.WriteString("INDEX ")
	if s.IfNotExists {
		b.WriteString("IF NOT EXISTS ")
	}
	b.WriteString(s.Name)
	b.WriteString(" ON ")
	b.WriteString(s.Table)
	b.WriteString(" (")
	b.WriteString(strings.Join(s.Columns, ", "))
	b.WriteString(")")
	return b.String()
}

func (s *AlterTableStmt) String() string {
	switch s.Op {
	case AlterAddColumn:
		return "ALTER TABLE " + s.Table + " ADD COLUMN " + s.Column.String()
	case AlterRenameTable:
		return "ALTER TABLE " + s.Table + " RENAME TO " + s.NewName
	case AlterRenameColumn:
		return "ALTER TABLE " + s.Table + " RENAME COLUMN " + s.OldName + " TO " + s.NewName
	case AlterDropColumn:
		return "ALTER TABLE " + s.Table + " DROP COLUMN " + s.OldName
	default:
		return "ALTER TABLE " + s.Table
	}
}

func (s *DropTableStmt) String() string {
	if s.IfExists {
		return "DROP TABLE IF EXISTS " + s.Name
	}
	return "DROP TABLE " + s.Name
}

func (s *PragmaStmt) String() string {
	if !s.Value.IsZero() {
		return "PRAGMA " + s.Name + " = " + s.Value.String()
	}
	if len(s.Args) > 0 {
		return "PRAGMA " + s.Name + "(" + joinExprs(s.Args) + ")"
	}
	return "PRAGMA " + s.Name
}

// String renders e back to SQL text. Placeholders render as `?` — the
// caller that needs to track which source index a rendered `?` corresponds
// to must walk the tree itself (see conductor/plan, which rewrites
// placeholder-bearing statements while preserving PlaceholderRef.Index).
func (e Expr) String() string {
	switch e.Kind() {
	case ExprColumn:
		if e.Column.Table != "" {
			return e.Column.Table + "." + e.Column.Name
		}
		return e.Column.Name
	case ExprLiteral:
		return e.Literal.String()
	case ExprPlaceholder:
		return "?"
	case ExprUnary:
		if e.Unary.Op == UnaryNot {
			return "NOT " + e.Unary.Operand.String()
		}
		return "-" + e.Unary.Operand.String()
	case ExprBinary:
		return "(" + e.Binary.Left.String() + " " + e.Binary.Op.String() + " " + e.Binary.Right.String() + ")"
	case ExprCall:
		return e.Call.String()
	case ExprCase:
		return e.Case.String()
	case ExprIn:
		return e.In.String()
	case ExprBetween:
		return e.Between.String()
	case ExprIsNull:
		return e.IsNull.String()
	case ExprSubquery:
		return "(" + e.Subquery.String() + ")"
	case ExprStar:
		return "*"
	default:
		return ""
	}
}

func (l *Literal) String() string {
	switch l.Kind {
	case LiteralNull:
		return "NULL"
	case LiteralBool:
		if l.Bool {
			return "TRUE"
		}
		return "FALSE"
	case LiteralString:
		return "'" + strings.ReplaceAll(l.Text, "'", "''") + "'"
	default:
		return l.Text
	}
}

func (c *CallExpr) String() string {
	var b strings.Builder
	b.WriteString(c.Name)
	b.WriteString("(")
	if c.Distinct {
		b.WriteString("DISTINCT ")
	}
	b.WriteString(joinExprs(c.Args))
	b.WriteString(")")
	return b.String()
}

func (c *CaseExpr) String() string {
	var b strings.Builder
	b.WriteString("CASE")
	if !c.Operand.IsZero() {
		b.WriteString(" ")
		b.WriteString(c.Operand.String())
	}
	for _, w := range c.Whens {
		b.WriteString(" WHEN ")
		b.WriteString(w.Cond.String())
		b.WriteString(" THEN ")
		b.WriteString(w.Result.String())
	}
	if !c.Else.IsZero() {
		b.WriteString(" ELSE ")
		b.WriteString(c.Else.String())
	}
	b.WriteString(" END")
	return b.String()
}

func (in *InExpr) String() string {
	var b strings.Builder
	b.WriteString(in.Operand.String())
	if in.Not {
		b.WriteString(" NOT")
	}
	b.WriteString(" IN (")
	if in.Subquery != nil {
		b.WriteString(in.Subquery.String())
	} else {
		b.WriteString(joinExprs(in.List))
	}
	b.WriteString(")")
	return b.String()
}

func (bt *BetweenExpr) String() string {
	s := bt.Operand.String()
	if bt.Not {
		s += " NOT"
	}
	return s + " BETWEEN " + bt.Low.String() + " AND " + bt.High.String()
}

func (n *IsNullExpr) String() string {
	if n.Not {
		return n.Operand.String() + " IS NOT NULL"
	}
	return n.Operand.String() + " IS NULL"
}
