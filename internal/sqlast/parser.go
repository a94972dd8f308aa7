// Package sqlast also houses the recursive-descent parser that turns a
// sqltoken.Token stream into a Statement tree. The grammar is a single
// top-level statement per Parse call; a caller that needs to split a
// semicolon-delimited batch is expected to do so before tokenizing (the
// lexer treats ';' as ordinary punctuation, matching how freeeve-machparse
// leaves statement splitting to its caller).
package sqlast

import (
	"strconv"

	"github.com/dreamware/conductor/internal/sqltoken"
)

// Parser consumes a fixed token slice and produces a Statement. It holds no
// I/O state — one Parser per statement, constructed fresh by Parse.
type Parser struct {
	toks   []sqltoken.Token
	pos    int
	src    string
	nextPH int // next placeholder source-index to assign
}

// Parse tokenizes and parses a single SQL statement.
func Parse(src string) (*Statement, error) {
	toks, err := sqltoken.Tokenize(src)
	if err != nil {
		return nil, err
	}
	return ParseTokens(toks, src)
}

// ParseTokens parses a single statement from an already-tokenized stream.
// src is retained only for ParserError diagnostics.
func ParseTokens(toks []sqltoken.Token, src string) (*Statement, error) {
	p := &Parser{toks: toks, src: src}
	stmt, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	if !p.atEnd() {
		return nil, p.errorf("end of statement")
	}
	return stmt, nil
}

func (p *Parser) atEnd() bool { return p.pos >= len(p.toks) }

func (p *Parser) peek() sqltoken.Token {
	if p.atEnd() {
		return sqltoken.Token{Type: sqltoken.Punctuation, Text: ""}
	}
	return p.toks[p.pos]
}

func (p *Parser) peekAt(n int) sqltoken.Token {
	i := p.pos + n
	if i < 0 || i >= len(p.toks) {
		return sqltoken.Token{Type: sqltoken.Punctuation, Text: ""}
	}
	return p.toks[i]
}

func (p *Parser) advance() sqltoken.Token {
	t := p.peek()
	if !p.atEnd() {
		p.pos++
	}
	return t
}

func (p *Parser) errorf(expected string) error {
	return &ParserError{Token: p.peek(), Expected: expected, Source: p.src}
}

// isKW reports whether the current token is a Keyword matching word
// (case-insensitively; the lexer already upper/lower-cases nothing, so we
// compare case-insensitively here).
func (p *Parser) isKW(word string) bool {
	t := p.peek()
	return t.Type == sqltoken.Keyword && eqFold(t.Text, word)
}

func (p *Parser) isPunct(text string) bool {
	t := p.peek()
	return t.Type == sqltoken.Punctuation && t.Text == text
}

func (p *Parser) isOp(text string) bool {
	t := p.peek()
	return t.Type == sqltoken.Operator && t.Text == text
}

func (p *Parser) acceptKW(word string) bool {
	if p.isKW(word) {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) acceptPunct(text string) bool {
	if p.isPunct(text) {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) expectKW(word string) error {
	if !p.acceptKW(word) {
		return p.errorf(word)
	}
	return nil
}

func (p *Parser) expectPunct(text string) error {
	if !p.acceptPunct(text) {
		return p.errorf(text)
	}
	return nil
}

func eqFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

func (p *Parser) parseStatement() (*Statement, error) {
	switch {
	case p.isKW("select"):
		s, err := p.parseSelect()
		if err != nil {
			return nil, err
		}
		return &Statement{Select: s}, nil
	case p.isKW("insert"):
		s, err := p.parseInsert()
		if err != nil {
			return nil, err
		}
		return &Statement{Insert: s}, nil
	case p.isKW("update"):
		s, err := p.parseUpdate()
		if err != nil {
			return nil, err
		}
		return &Statement{Update: s}, nil
	case p.isKW("delete"):
		s, err := p.parseDelete()
		if err != nil {
			return nil, err
		}
		return &Statement{Delete: s}, nil
	case p.isKW("create"):
		return p.parseCreate()
	case p.isKW("alter"):
		s, err := p.parseAlterTable()
		if err != nil {
			return nil, err
		}
		return &Statement{AlterTable: s}, nil
	case p.isKW("drop"):
		s, err := p.parseDropTable()
		if err != nil {
			return nil, err
		}
		return &Statement{DropTable: s}, nil
	case p.isKW("pragma"):
		s, err := p.parsePragma()
		if err != nil {
			return nil, err
		}
		return &Statement{Pragma: s}, nil
	default:
		return nil, p.errorf("a statement keyword (SELECT, INSERT, UPDATE, DELETE, CREATE, ALTER, DROP, PRAGMA)")
	}
}

// --- SELECT -----------------------------------------------------------

func (p *Parser) parseSelect() (*SelectStmt, error) {
	if err := p.expectKW("select"); err != nil {
		return nil, err
	}
	s := &SelectStmt{}
	if p.acceptKW("distinct") {
		s.Distinct = true
	}
	fields, err := p.parseSelectFieldList()
	if err != nil {
		return nil, err
	}
	s.Fields = fields

	if p.acceptKW("from") {
		name, alias, err := p.parseTableRef()
		if err != nil {
			return nil, err
		}
		s.From, s.FromAs = name, alias
		for p.isKW("join") || p.isKW("left") || p.isKW("right") || p.isKW("inner") || p.isKW("outer") {
			j, err := p.parseJoin()
			if err != nil {
				return nil, err
			}
			s.Joins = append(s.Joins, *j)
		}
	}
	if p.acceptKW("where") {
		w, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		s.Where = w
	}
	if p.acceptKW("group") {
		if err := p.expectKW("by"); err != nil {
			return nil, err
		}
		list, err := p.parseExprList()
		if err != nil {
			return nil, err
		}
		s.GroupBy = list
	}
	if p.acceptKW("having") {
		h, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		s.Having = h
	}
	if p.acceptKW("order") {
		if err := p.expectKW("by"); err != nil {
			return nil, err
		}
		terms, err := p.parseOrderByList()
		if err != nil {
			return nil, err
		}
		s.OrderBy = terms
	}
	if p.acceptKW("limit") {
		n, err := p.parseIntLiteral()
		if err != nil {
			return nil, err
		}
		s.Limit = &n
	}
	if p.acceptKW("offset") {
		n, err := p.parseIntLiteral()
		if err != nil {
			return nil, err
		}
		s.Offset = &n
	}
	return s, nil
}

func (p *Parser) parseIntLiteral() (int, error) {
	t := p.peek()
	if t.Type != sqltoken.Number {
		return 0, p.errorf("a number")
	}
	p.advance()
	n, err := strconv.Atoi(t.Text)
	if err != nil {
		return 0, &ParserError{Token: t, Expected: "an integer literal", Source: p.src}
	}
	return n, nil
}

func (p *Parser) parseSelectFieldList() ([]SelectField, error) {
	var fields []SelectField
	for {
		f, err := p.parseSelectField()
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
		if !p.acceptPunct(",") {
			break
		}
	}
	return fields, nil
}

func (p *Parser) parseSelectField() (SelectField, error) {
	if p.isOp("*") {
		p.advance()
		return SelectField{Star: true}, nil
	}
	// table.* form
	if p.peek().Type == sqltoken.Identifier && p.peekAt(1).Type == sqltoken.Operator && p.peekAt(1).Text == "." && p.peekAt(2).Type == sqltoken.Operator && p.peekAt(2).Text == "*" {
		p.advance()
		p.advance()
		p.advance()
		return SelectField{Star: true}, nil
	}
	e, err := p.parseExpr()
	if err != nil {
		return SelectField{}, err
	}
	alias := ""
	if p.acceptKW("as") {
		t := p.peek()
		if t.Type != sqltoken.Identifier {
			return SelectField{}, p.errorf("an alias identifier")
		}
		p.advance()
		alias = t.Text
	} else if p.peek().Type == sqltoken.Identifier {
		alias = p.advance().Text
	}
	return SelectField{Expr: e, Alias: alias}, nil
}

func (p *Parser) parseTableRef() (name, alias string, err error) {
	t := p.peek()
	if t.Type != sqltoken.Identifier && t.Type != sqltoken.Keyword {
		return "", "", p.errorf("a table name")
	}
	p.advance()
	name = t.Text
	if p.acceptKW("as") {
		a := p.peek()
		if a.Type != sqltoken.Identifier {
			return "", "", p.errorf("a table alias")
		}
		p.advance()
		alias = a.Text
	} else if p.peek().Type == sqltoken.Identifier {
		alias = p.advance().Text
	}
	return name, alias, nil
}

func (p *Parser) parseJoin() (*Join, error) {
	j := &Join{Kind: JoinInner}
	switch {
	case p.acceptKW("left"):
		j.Kind = JoinLeft
		p.acceptKW("outer")
	case p.acceptKW("right"):
		j.Kind = JoinRight
		p.acceptKW("outer")
	case p.acceptKW("inner"):
		j.Kind = JoinInner
	case p.acceptKW("outer"):
		j.Kind = JoinOuter
	}
	if err := p.expectKW("join"); err != nil {
		return nil, err
	}
	name, alias, err := p.parseTableRef()
	if err != nil {
		return nil, err
	}
	j.Table, j.As = name, alias
	if p.acceptKW("on") {
		on, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		j.On = on
	}
	return j, nil
}

func (p *Parser) parseOrderByList() ([]OrderTerm, error) {
	var terms []OrderTerm
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		term := OrderTerm{Expr: e}
		if p.acceptKW("desc") {
			term.Desc = true
		} else {
			p.acceptKW("asc")
		}
		terms = append(terms, term)
		if !p.acceptPunct(",") {
			break
		}
	}
	return terms, nil
}

func (p *Parser) parseExprList() ([]Expr, error) {
	var list []Expr
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		list = append(list, e)
		if !p.acceptPunct(",") {
			break
		}
	}
	return list, nil
}

// --- INSERT / UPDATE / DELETE ------------------------------------------

func (p *Parser) parseInsert() (*InsertStmt, error) {
	if err := p.expectKW("insert"); err != nil {
		return nil, err
	}
	if err := p.expectKW("into"); err != nil {
		return nil, err
	}
	t := p.peek()
	if t.Type != sqltoken.Identifier {
		return nil, p.errorf("a table name")
	}
	p.advance()
	stmt := &InsertStmt{Table: t.Text}

	if p.acceptPunct("(") {
		for {
			c := p.peek()
			if c.Type != sqltoken.Identifier {
				return nil, p.errorf("a column name")
			}
			p.advance()
			stmt.Columns = append(stmt.Columns, c.Text)
			if !p.acceptPunct(",") {
				break
			}
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
	}

	if err := p.expectKW("values"); err != nil {
		return nil, err
	}
	for {
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		row, err := p.parseExprList()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		stmt.Rows = append(stmt.Rows, row)
		if !p.acceptPunct(",") {
			break
		}
	}
	return stmt, nil
}

func (p *Parser) parseUpdate() (*UpdateStmt, error) {
	if err := p.expectKW("update"); err != nil {
		return nil, err
	}
	t := p.peek()
	if t.Type != sqltoken.Identifier {
		return nil, p.errorf("a table name")
	}
	p.advance()
	stmt := &UpdateStmt{Table: t.Text}
	if err := p.expectKW("set"); err != nil {
		return nil, err
	}
	for {
		c := p.peek()
		if c.Type != sqltoken.Identifier {
			return nil, p.errorf("a column name")
		}
		p.advance()
		if err := p.expectEq(); err != nil {
			return nil, err
		}
		v, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Sets = append(stmt.Sets, Assignment{Column: c.Text, Value: v})
		if !p.acceptPunct(",") {
			break
		}
	}
	if p.acceptKW("where") {
		w, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Where = w
	}
	if p.acceptKW("returning") {
		fields, err := p.parseSelectFieldList()
		if err != nil {
			return nil, err
		}
		stmt.Returning = fields
	}
	return stmt, nil
}

func (p *Parser) expectEq() error {
	if p.isOp("=") {
		p.advance()
		return nil
	}
	return p.errorf("=")
}

func (p *Parser) parseDelete() (*DeleteStmt, error) {
	if err := p.expectKW("delete"); err != nil {
		return nil, err
	}
	if err := p.expectKW("from"); err != nil {
		return nil, err
	}
	t := p.peek()
	if t.Type != sqltoken.Identifier {
		return nil, p.errorf("a table name")
	}
	p.advance()
	stmt := &DeleteStmt{Table: t.Text}
	if p.acceptKW("where") {
		w, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Where = w
	}
	if p.acceptKW("returning") {
		fields, err := p.parseSelectFieldList()
		if err != nil {
			return nil, err
		}
		stmt.Returning = fields
	}
	return stmt, nil
}

// --- DDL ----------------------------------------------------------------

func (p *Parser) parseCreate() (*Statement, error) {
	if err := p.expectKW("create"); err != nil {
		return nil, err
	}
	unique := p.acceptKW("unique")
	switch {
	case p.acceptKW("table"):
		s, err := p.parseCreateTableBody()
		if err != nil {
			return nil, err
		}
		return &Statement{CreateTable: s}, nil
	case p.acceptKW("index"):
		s, err := p.parseCreateIndexBody(unique)
		if err != nil {
			return nil, err
		}
		return &Statement{CreateIndex: s}, nil
	default:
		return nil, p.errorf("TABLE or INDEX")
	}
}

func (p *Parser) parseIfNotExists() bool {
	if p.acceptKW("if") {
		p.acceptKW("not")
		p.acceptKW("exists")
		return true
	}
	return false
}

func (p *Parser) parseCreateTableBody() (*CreateTableStmt, error) {
	ifNotExists := p.parseIfNotExists()
	t := p.peek()
	if t.Type != sqltoken.Identifier {
		return nil, p.errorf("a table name")
	}
	p.advance()
	stmt := &CreateTableStmt{Name: t.Text, IfNotExists: ifNotExists}
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	for {
		if p.isKW("primary") || p.isKW("unique") || p.isKW("foreign") || p.isKW("check") || p.isKW("constraint") {
			c, err := p.parseTableConstraint()
			if err != nil {
				return nil, err
			}
			stmt.Constraints = append(stmt.Constraints, *c)
		} else {
			col, err := p.parseColumnDef()
			if err != nil {
				return nil, err
			}
			stmt.Columns = append(stmt.Columns, *col)
		}
		if !p.acceptPunct(",") {
			break
		}
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *Parser) parseColumnDef() (*ColumnDef, error) {
	name := p.peek()
	if name.Type != sqltoken.Identifier {
		return nil, p.errorf("a column name")
	}
	p.advance()
	typTok := p.peek()
	if typTok.Type != sqltoken.Keyword && typTok.Type != sqltoken.Identifier {
		return nil, p.errorf("a column type")
	}
	p.advance()
	col := &ColumnDef{Name: name.Text, Type: typTok.Text}
	for {
		switch {
		case p.acceptKW("not"):
			if err := p.expectKW("null"); err != nil {
				return nil, err
			}
			col.NotNull = true
		case p.acceptKW("primary"):
			if err := p.expectKW("key"); err != nil {
				return nil, err
			}
			col.PrimaryKey = true
		case p.acceptKW("default"):
			d, err := p.parsePrimary()
			if err != nil {
				return nil, err
			}
			col.Default = d
		default:
			return col, nil
		}
	}
}

func (p *Parser) parseTableConstraint() (*TableConstraint, error) {
	if p.acceptKW("constraint") {
		name := p.peek()
		if name.Type == sqltoken.Identifier {
			p.advance()
		}
	}
	switch {
	case p.acceptKW("primary"):
		if err := p.expectKW("key"); err != nil {
			return nil, err
		}
		cols, err := p.parseColumnNameList()
		if err != nil {
			return nil, err
		}
		return &TableConstraint{Kind: "primary_key", Columns: cols}, nil
	case p.acceptKW("unique"):
		cols, err := p.parseColumnNameList()
		if err != nil {
			return nil, err
		}
		return &TableConstraint{Kind: "unique", Columns: cols}, nil
	case p.acceptKW("foreign"):
		if err := p.expectKW("key"); err != nil {
			return nil, err
		}
		cols, err := p.parseColumnNameList()
		if err != nil {
			return nil, err
		}
		raw := p.skipToConstraintBoundary()
		return &TableConstraint{Kind: "foreign_key", Columns: cols, Raw: raw}, nil
	case p.acceptKW("check"):
		raw := p.skipToConstraintBoundary()
		return &TableConstraint{Kind: "check", Raw: raw}, nil
	default:
		return nil, p.errorf("a table constraint")
	}
}

func (p *Parser) parseColumnNameList() ([]string, error) {
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	var cols []string
	for {
		c := p.peek()
		if c.Type != sqltoken.Identifier {
			return nil, p.errorf("a column name")
		}
		p.advance()
		cols = append(cols, c.Text)
		if !p.acceptPunct(",") {
			break
		}
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return cols, nil
}

// skipToConstraintBoundary consumes tokens verbatim (tracking paren depth)
// until the enclosing column/constraint list's top-level comma or closing
// paren, for constraint clauses this dialect records but does not model
// structurally (REFERENCES target, CHECK expressions).
func (p *Parser) skipToConstraintBoundary() string {
	start := p.pos
	depth := 0
	for !p.atEnd() {
		if p.isPunct("(") {
			depth++
		} else if p.isPunct(")") {
			if depth == 0 {
				break
			}
			depth--
		} else if p.isPunct(",") && depth == 0 {
			break
		}
		p.advance()
	}
	var sb []byte
	for i := start; i < p.pos; i++ {
		if i > start {
			sb = append(sb, ' ')
		}
		sb = append(sb, p.toks[i].Text...)
	}
	return string(sb)
}

func (p *Parser) parseCreateIndexBody(unique bool) (*CreateIndexStmt, error) {
	ifNotExists := p.parseIfNotExists()
	name := p.peek()
	if name.Type != sqltoken.Identifier {
		return nil, p.errorf("an index name")
	}
	p.advance()
	if err := p.expectKW("on"); err != nil {
		return nil, err
	}
	table := p.peek()
	if table.Type != sqltoken.Identifier {
		return nil, p.errorf("a table name")
	}
	p.advance()
	cols, err := p.parseColumnNameList()
	if err != nil {
		return nil, err
	}
	return &CreateIndexStmt{Name: name.Text, Table: table.Text, Columns: cols, Unique: unique, IfNotExists: ifNotExists}, nil
}

func (p *Parser) parseAlterTable() (*AlterTableStmt, error) {
	if err := p.expectKW("alter"); err != nil {
		return nil, err
	}
	if err := p.expectKW("table"); err != nil {
		return nil, err
	}
	table := p.peek()
	if table.Type != sqltoken.Identifier {
		return nil, p.errorf("a table name")
	}
	p.advance()
	stmt := &AlterTableStmt{Table: table.Text}
	switch {
	case p.acceptKW("add"):
		p.acceptKW("column")
		col, err := p.parseColumnDef()
		if err != nil {
			return nil, err
		}
		stmt.Op = AlterAddColumn
		stmt.Column = *col
	case p.acceptKW("rename"):
		if p.acceptKW("column") {
			old := p.peek()
			if old.Type != sqltoken.Identifier {
				return nil, p.errorf("a column name")
			}
			p.advance()
			if err := p.expectKW("to"); err != nil {
				return nil, err
			}
			next := p.peek()
			if next.Type != sqltoken.Identifier {
				return nil, p.errorf("a new column name")
			}
			p.advance()
			stmt.Op = AlterRenameColumn
			stmt.OldName = old.Text
			stmt.NewName = next.Text
		} else {
			if err := p.expectKW("to"); err != nil {
				return nil, err
			}
			next := p.peek()
			if next.Type != sqltoken.Identifier {
				return nil, p.errorf("a new table name")
			}
			p.advance()
			stmt.Op = AlterRenameTable
			stmt.NewName = next.Text
		}
	case p.acceptKW("drop"):
		p.acceptKW("column")
		col := p.peek()
		if col.Type != sqltoken.Identifier {
			return nil, p.errorf("a column name")
		}
		p.advance()
		stmt.Op = AlterDropColumn
		stmt.OldName = col.Text
	default:
		return nil, p.errorf("ADD, RENAME, or DROP")
	}
	return stmt, nil
}

func (p *Parser) parseDropTable() (*DropTableStmt, error) {
	if err := p.expectKW("drop"); err != nil {
		return nil, err
	}
	if err := p.expectKW("table"); err != nil {
		return nil, err
	}
	ifExists := false
	if p.acceptKW("if") {
		if err := p.expectKW("exists"); err != nil {
			return nil, err
		}
		ifExists = true
	}
	name := p.peek()
	if name.Type != sqltoken.Identifier {
		return nil, p.errorf("a table name")
	}
	p.advance()
	return &DropTableStmt{Name: name.Text, IfExists: ifExists}, nil
}

func (p *Parser) parsePragma() (*PragmaStmt, error) {
	if err := p.expectKW("pragma"); err != nil {
		return nil, err
	}
	name := p.peek()
	if name.Type != sqltoken.Identifier && name.Type != sqltoken.Keyword {
		return nil, p.errorf("a pragma name")
	}
	p.advance()
	stmt := &PragmaStmt{Name: name.Text}
	if p.isOp("=") {
		p.advance()
		v, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		stmt.Value = v
	} else if p.acceptPunct("(") {
		args, err := p.parseExprList()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		stmt.Args = args
	}
	return stmt, nil
}

// --- Expressions (precedence climbing) -----------------------------------
//
// or -> and (OR and)*
// and -> not (AND not)*
// not -> NOT not | comparison
// comparison -> additive ( (= != < <= > >= LIKE) additive
//             | IS [NOT] NULL
//             | [NOT] IN ( list | subquery )
//             | [NOT] BETWEEN additive AND additive )*
// additive -> multiplicative ((+ | - | ||) multiplicative)*
// multiplicative -> unary ((* | /) unary)*
// unary -> '-' unary | primary
// primary -> literal | placeholder | CASE | function call | ( expr | subquery ) | column ref

func (p *Parser) parseExpr() (Expr, error) { return p.parseOr() }

func (p *Parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return Expr{}, err
	}
	for p.acceptKW("or") {
		right, err := p.parseAnd()
		if err != nil {
			return Expr{}, err
		}
		left = Expr{Binary: &BinaryExpr{Op: OpOr, Left: left, Right: right}}
	}
	return left, nil
}

func (p *Parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return Expr{}, err
	}
	for p.acceptKW("and") {
		right, err := p.parseNot()
		if err != nil {
			return Expr{}, err
		}
		left = Expr{Binary: &BinaryExpr{Op: OpAnd, Left: left, Right: right}}
	}
	return left, nil
}

func (p *Parser) parseNot() (Expr, error) {
	if p.acceptKW("not") {
		operand, err := p.parseNot()
		if err != nil {
			return Expr{}, err
		}
		return Expr{Unary: &UnaryExpr{Op: UnaryNot, Operand: operand}}, nil
	}
	return p.parseComparison()
}

func (p *Parser) parseComparison() (Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return Expr{}, err
	}
	for {
		switch {
		case p.isOp("=") || p.isOp("!=") || p.isOp("<>") || p.isOp("<") || p.isOp("<=") || p.isOp(">") || p.isOp(">="):
			opTok := p.advance()
			right, err := p.parseAdditive()
			if err != nil {
				return Expr{}, err
			}
			left = Expr{Binary: &BinaryExpr{Op: binOpFor(opTok.Text), Left: left, Right: right}}
		case p.isKW("like"):
			p.advance()
			right, err := p.parseAdditive()
			if err != nil {
				return Expr{}, err
			}
			left = Expr{Binary: &BinaryExpr{Op: OpLike, Left: left, Right: right}}
		case p.isKW("is"):
			p.advance()
			not := p.acceptKW("not")
			if err := p.expectKW("null"); err != nil {
				return Expr{}, err
			}
			left = Expr{IsNull: &IsNullExpr{Operand: left, Not: not}}
		case p.isKW("in") || (p.isKW("not") && p.peekAt(1).Type == sqltoken.Keyword && eqFold(p.peekAt(1).Text, "in")):
			not := p.acceptKW("not")
			if err := p.expectKW("in"); err != nil {
				return Expr{}, err
			}
			in, err := p.parseInTail(left, not)
			if err != nil {
				return Expr{}, err
			}
			left = in
		case p.isKW("between") || (p.isKW("not") && p.peekAt(1).Type == sqltoken.Keyword && eqFold(p.peekAt(1).Text, "between")):
			not := p.acceptKW("not")
			if err := p.expectKW("between"); err != nil {
				return Expr{}, err
			}
			lo, err := p.parseAdditive()
			if err != nil {
				return Expr{}, err
			}
			if err := p.expectKW("and"); err != nil {
				return Expr{}, err
			}
			hi, err := p.parseAdditive()
			if err != nil {
				return Expr{}, err
			}
			left = Expr{Between: &BetweenExpr{Operand: left, Low: lo, High: hi, Not: not}}
		default:
			return left, nil
		}
	}
}

func binOpFor(text string) BinaryOp {
	switch text {
	case "=":
		return OpEq
	case "!=", "<>":
		return OpNeq
	case "<":
		return OpLt
	case "<=":
		return OpLte
	case ">":
		return OpGt
	case ">=":
		return OpGte
	default:
		return OpEq
	}
}

func (p *Parser) parseInTail(operand Expr, not bool) (Expr, error) {
	if err := p.expectPunct("("); err != nil {
		return Expr{}, err
	}
	if p.isKW("select") {
		sub, err := p.parseSelect()
		if err != nil {
			return Expr{}, err
		}
		if err := p.expectPunct(")"); err != nil {
			return Expr{}, err
		}
		return Expr{In: &InExpr{Operand: operand, Subquery: sub, Not: not}}, nil
	}
	list, err := p.parseExprList()
	if err != nil {
		return Expr{}, err
	}
	if err := p.expectPunct(")"); err != nil {
		return Expr{}, err
	}
	return Expr{In: &InExpr{Operand: operand, List: list, Not: not}}, nil
}

func (p *Parser) parseAdditive() (Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return Expr{}, err
	}
	for {
		var op BinaryOp
		switch {
		case p.isOp("+"):
			op = OpAdd
		case p.isOp("-"):
			op = OpSub
		default:
			return left, nil
		}
		p.advance()
		right, err := p.parseMultiplicative()
		if err != nil {
			return Expr{}, err
		}
		left = Expr{Binary: &BinaryExpr{Op: op, Left: left, Right: right}}
	}
}

func (p *Parser) parseMultiplicative() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return Expr{}, err
	}
	for {
		var op BinaryOp
		switch {
		case p.isOp("*"):
			op = OpMul
		case p.isOp("/"):
			op = OpDiv
		default:
			return left, nil
		}
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return Expr{}, err
		}
		left = Expr{Binary: &BinaryExpr{Op: op, Left: left, Right: right}}
	}
}

func (p *Parser) parseUnary() (Expr, error) {
	if p.isOp("-") {
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return Expr{}, err
		}
		return Expr{Unary: &UnaryExpr{Op: UnaryNeg, Operand: operand}}, nil
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() (Expr, error) {
	t := p.peek()
	switch {
	case t.Type == sqltoken.Placeholder:
		p.advance()
		idx := p.nextPH
		p.nextPH++
		return Expr{Placeholder: &PlaceholderRef{Index: idx}}, nil
	case t.Type == sqltoken.Number:
		p.advance()
		return Expr{Literal: &Literal{Kind: LiteralNumber, Text: t.Text}}, nil
	case t.Type == sqltoken.String:
		p.advance()
		return Expr{Literal: &Literal{Kind: LiteralString, Text: t.Text}}, nil
	case t.Type == sqltoken.Keyword && eqFold(t.Text, "null"):
		p.advance()
		return Expr{Literal: &Literal{Kind: LiteralNull}}, nil
	case t.Type == sqltoken.Keyword && eqFold(t.Text, "true"):
		p.advance()
		return Expr{Literal: &Literal{Kind: LiteralBool, Bool: true}}, nil
	case t.Type == sqltoken.Keyword && eqFold(t.Text, "false"):
		p.advance()
		return Expr{Literal: &Literal{Kind: LiteralBool, Bool: false}}, nil
	case t.Type == sqltoken.Keyword && eqFold(t.Text, "case"):
		return p.parseCase()
	case t.Type == sqltoken.Function:
		return p.parseCall()
	case t.Type == sqltoken.Punctuation && t.Text == "(":
		p.advance()
		if p.isKW("select") {
			sub, err := p.parseSelect()
			if err != nil {
				return Expr{}, err
			}
			if err := p.expectPunct(")"); err != nil {
				return Expr{}, err
			}
			return Expr{Subquery: sub}, nil
		}
		e, err := p.parseExpr()
		if err != nil {
			return Expr{}, err
		}
		if err := p.expectPunct(")"); err != nil {
			return Expr{}, err
		}
		return e, nil
	case t.Type == sqltoken.Identifier:
		return p.parseColumnRef()
	default:
		return Expr{}, p.errorf("an expression")
	}
}

func (p *Parser) parseColumnRef() (Expr, error) {
	first := p.advance()
	if p.isOp(".") {
		p.advance()
		col := p.peek()
		if col.Type != sqltoken.Identifier {
			return Expr{}, p.errorf("a column name")
		}
		p.advance()
		return Expr{Column: &ColumnRef{Table: first.Text, Name: col.Text}}, nil
	}
	return Expr{Column: &ColumnRef{Name: first.Text}}, nil
}

func (p *Parser) parseCall() (Expr, error) {
	name := p.advance()
	if err := p.expectPunct("("); err != nil {
		return Expr{}, err
	}
	call := &CallExpr{Name: name.Text}
	if p.acceptKW("distinct") {
		call.Distinct = true
	}
	if p.isOp("*") {
		p.advance()
		call.Args = append(call.Args, Expr{Star: true})
	} else if !p.isPunct(")") {
		args, err := p.parseExprList()
		if err != nil {
			return Expr{}, err
		}
		call.Args = args
	}
	if err := p.expectPunct(")"); err != nil {
		return Expr{}, err
	}
	return Expr{Call: call}, nil
}

func (p *Parser) parseCase() (Expr, error) {
	if err := p.expectKW("case"); err != nil {
		return Expr{}, err
	}
	ce := &CaseExpr{}
	if !p.isKW("when") {
		operand, err := p.parseExpr()
		if err != nil {
			return Expr{}, err
		}
		ce.Operand = operand
	}
	for p.acceptKW("when") {
		cond, err := p.parseExpr()
		if err != nil {
			return Expr{}, err
		}
		if err := p.expectKW("then"); err != nil {
			return Expr{}, err
		}
		result, err := p.parseExpr()
		if err != nil {
			return Expr{}, err
		}
		ce.Whens = append(ce.Whens, CaseWhen{Cond: cond, Result: result})
	}
	if len(ce.Whens) == 0 {
		return Expr{}, p.errorf("WHEN")
	}
	if p.acceptKW("else") {
		e, err := p.parseExpr()
		if err != nil {
			return Expr{}, err
		}
		ce.Else = e
	}
	if err := p.expectKW("end"); err != nil {
		return Expr{}, err
	}
	return Expr{Case: ce}, nil
}
