package sqlast

// WalkPlaceholders calls fn for every PlaceholderRef reachable from e, in
// left-to-right source order, including those nested in subqueries. The
// Planner uses this to discover which source-index placeholders survive
// into a rewritten per-shard statement.
func WalkPlaceholders(e Expr, fn func(*PlaceholderRef)) {
	switch e.Kind() {
	case ExprPlaceholder:
		fn(e.Placeholder)
	case ExprUnary:
		WalkPlaceholders(e.Unary.Operand, fn)
	case ExprBinary:
		WalkPlaceholders(e.Binary.Left, fn)
		WalkPlaceholders(e.Binary.Right, fn)
	case ExprCall:
		for _, a := range e.Call.Args {
			WalkPlaceholders(a, fn)
		}
	case ExprCase:
		if !e.Case.Operand.IsZero() {
			WalkPlaceholders(e.Case.Operand, fn)
		}
		for _, w := range e.Case.Whens {
			WalkPlaceholders(w.Cond, fn)
			WalkPlaceholders(w.Result, fn)
		}
		if !e.Case.Else.IsZero() {
			WalkPlaceholders(e.Case.Else, fn)
		}
	case ExprIn:
		WalkPlaceholders(e.In.Operand, fn)
		for _, v := range e.In.List {
			WalkPlaceholders(v, fn)
		}
		if e.In.Subquery != nil {
			walkSelectPlaceholders(e.In.Subquery, fn)
		}
	case ExprBetween:
		WalkPlaceholders(e.Between.Operand, fn)
		WalkPlaceholders(e.Between.Low, fn)
		WalkPlaceholders(e.Between.High, fn)
	case ExprIsNull:
		WalkPlaceholders(e.IsNull.Operand, fn)
	case ExprSubquery:
		walkSelectPlaceholders(e.Subquery, fn)
	}
}

func walkSelectPlaceholders(s *SelectStmt, fn func(*PlaceholderRef)) {
	for _, f := range s.Fields {
		if !f.Star {
			WalkPlaceholders(f.Expr, fn)
		}
	}
	for _, j := range s.Joins {
		if !j.On.IsZero() {
			WalkPlaceholders(j.On, fn)
		}
	}
	if !s.Where.IsZero() {
		WalkPlaceholders(s.Where, fn)
	}
	for _, g := range s.GroupBy {
		WalkPlaceholders(g, fn)
	}
	if !s.Having.IsZero() {
		WalkPlaceholders(s.Having, fn)
	}
	for _, o := range s.OrderBy {
		WalkPlaceholders(o.Expr, fn)
	}
}

// WalkColumns calls fn for every ColumnRef reachable from e, including those
// nested in subqueries. Used where a caller needs to know which columns a
// statement depends on without caring about placeholder bookkeeping (e.g.
// cache invalidation tagging).
func WalkColumns(e Expr, fn func(*ColumnRef)) {
	switch e.Kind() {
	case ExprColumn:
		fn(e.Column)
	case ExprUnary:
		WalkColumns(e.Unary.Operand, fn)
	case ExprBinary:
		WalkColumns(e.Binary.Left, fn)
		WalkColumns(e.Binary.Right, fn)
	case ExprCall:
		for _, a := range e.Call.Args {
			WalkColumns(a, fn)
		}
	case ExprCase:
		if !e.Case.Operand.IsZero() {
			WalkColumns(e.Case.Operand, fn)
		}
		for _, w := range e.Case.Whens {
			WalkColumns(w.Cond, fn)
			WalkColumns(w.Result, fn)
		}
		if !e.Case.Else.IsZero() {
			WalkColumns(e.Case.Else, fn)
		}
	case ExprIn:
		WalkColumns(e.In.Operand, fn)
		for _, v := range e.In.List {
			WalkColumns(v, fn)
		}
		if e.In.Subquery != nil {
			walkSelectColumns(e.In.Subquery, fn)
		}
	case ExprBetween:
		WalkColumns(e.Between.Operand, fn)
		WalkColumns(e.Between.Low, fn)
		WalkColumns(e.Between.High, fn)
	case ExprIsNull:
		WalkColumns(e.IsNull.Operand, fn)
	case ExprSubquery:
		walkSelectColumns(e.Subquery, fn)
	}
}

func walkSelectColumns(s *SelectStmt, fn func(*ColumnRef)) {
	for _, f := range s.Fields {
		if !f.Star {
			WalkColumns(f.Expr, fn)
		}
	}
	if !s.Where.IsZero() {
		WalkColumns(s.Where, fn)
	}
	for _, g := range s.GroupBy {
		WalkColumns(g, fn)
	}
	if !s.Having.IsZero() {
		WalkColumns(s.Having, fn)
	}
	for _, o := range s.OrderBy {
		WalkColumns(o.Expr, fn)
	}
	for _, j := range s.Joins {
		if !j.On.IsZero() {
			WalkColumns(j.On, fn)
		}
	}
}

// StatementColumns returns the distinct column names referenced anywhere in
// stmt, in first-seen order. A SELECT * is not expanded (Star fields carry
// no ColumnRef); callers that need to invalidate on "any column" should
// treat an empty result for a star-select as "all columns."
func StatementColumns(stmt *Statement) []string {
	seen := make(map[string]struct{})
	var out []string
	collect := func(c *ColumnRef) {
		if _, ok := seen[c.Name]; ok {
			return
		}
		seen[c.Name] = struct{}{}
		out = append(out, c.Name)
	}
	switch stmt.Kind() {
	case KindSelect:
		walkSelectColumns(stmt.Select, collect)
	case KindInsert:
		out = append(out, stmt.Insert.Columns...)
	case KindUpdate:
		for _, a := range stmt.Update.Sets {
			collect(&ColumnRef{Name: a.Column})
			WalkColumns(a.Value, collect)
		}
		if !stmt.Update.Where.IsZero() {
			WalkColumns(stmt.Update.Where, collect)
		}
	case KindDelete:
		if !stmt.Delete.Where.IsZero() {
			WalkColumns(stmt.Delete.Where, collect)
		}
	}
	return out
}

// StatementPlaceholders returns every placeholder reachable from stmt, in
// source order.
func StatementPlaceholders(stmt *Statement) []*PlaceholderRef {
	var out []*PlaceholderRef
	collect := func(p *PlaceholderRef) { out = append(out, p) }
	switch stmt.Kind() {
	case KindSelect:
		walkSelectPlaceholders(stmt.Select, collect)
	case KindInsert:
		for _, row := range stmt.Insert.Rows {
			for _, e := range row {
				WalkPlaceholders(e, collect)
			}
		}
	case KindUpdate:
		for _, a := range stmt.Update.Sets {
			WalkPlaceholders(a.Value, collect)
		}
		if !stmt.Update.Where.IsZero() {
			WalkPlaceholders(stmt.Update.Where, collect)
		}
	case KindDelete:
		if !stmt.Delete.Where.IsZero() {
			WalkPlaceholders(stmt.Delete.Where, collect)
		}
	}
	return out
}
