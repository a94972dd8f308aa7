// Package sqlast defines the statement and expression AST produced by the
// parser, plus a deterministic string renderer used by the Planner when it
// must emit a rewritten statement to a shard.
//
// The statement set is closed (§6.1 of the design spec): a Statement is a
// tagged variant with exactly one non-nil field, so adding a new statement
// kind is a compile-time exercise in every switch that handles it rather
// than a silent runtime gap — the shape mirrors the tagged `Statement`
// struct used by the query planner in the reference pack's lumadb cluster
// package, generalized to the full DDL/DML set this dialect supports.
package sqlast

// Statement is the root AST node. Exactly one field is non-nil for any
// parsed statement; Kind() reports which.
type Statement struct {
	Select      *SelectStmt
	Insert      *InsertStmt
	Update      *UpdateStmt
	Delete      *DeleteStmt
	CreateTable *CreateTableStmt
	CreateIndex *CreateIndexStmt
	AlterTable  *AlterTableStmt
	DropTable   *DropTableStmt
	Pragma      *PragmaStmt
}

// Kind identifies which statement variant is populated.
type Kind int

const (
	KindUnknown Kind = iota
	KindSelect
	KindInsert
	KindUpdate
	KindDelete
	KindCreateTable
	KindCreateIndex
	KindAlterTable
	KindDropTable
	KindPragma
)

func (k Kind) String() string {
	switch k {
	case KindSelect:
		return "SELECT"
	case KindInsert:
		return "INSERT"
	case KindUpdate:
		return "UPDATE"
	case KindDelete:
		return "DELETE"
	case KindCreateTable:
		return "CREATE TABLE"
	case KindCreateIndex:
		return "CREATE INDEX"
	case KindAlterTable:
		return "ALTER TABLE"
	case KindDropTable:
		return "DROP TABLE"
	case KindPragma:
		return "PRAGMA"
	default:
		return "UNKNOWN"
	}
}

// Kind returns the statement variant that is populated on s.
func (s Statement) Kind() Kind {
	switch {
	case s.Select != nil:
		return KindSelect
	case s.Insert != nil:
		return KindInsert
	case s.Update != nil:
		return KindUpdate
	case s.Delete != nil:
		return KindDelete
	case s.CreateTable != nil:
		return KindCreateTable
	case s.CreateIndex != nil:
		return KindCreateIndex
	case s.AlterTable != nil:
		return KindAlterTable
	case s.DropTable != nil:
		return KindDropTable
	case s.Pragma != nil:
		return KindPragma
	default:
		return KindUnknown
	}
}

// Table returns the primary table name this statement operates on, empty if
// none applies (e.g. a bare PRAGMA).
func (s Statement) Table() string {
	switch s.Kind() {
	case KindSelect:
		return s.Select.From
	case KindInsert:
		return s.Insert.Table
	case KindUpdate:
		return s.Update.Table
	case KindDelete:
		return s.Delete.Table
	case KindCreateTable:
		return s.CreateTable.Name
	case KindCreateIndex:
		return s.CreateIndex.Table
	case KindAlterTable:
		return s.AlterTable.Table
	case KindDropTable:
		return s.DropTable.Name
	default:
		return ""
	}
}

// SelectStmt is `SELECT [DISTINCT] select_list [FROM table] [joins] [WHERE
// expr] [GROUP BY list] [HAVING expr] [ORDER BY list] [LIMIT n] [OFFSET n]`.
type SelectStmt struct {
	Fields   []SelectField
	From     string
	FromAs   string
	Joins    []Join
	Where    Expr
	GroupBy  []Expr
	Having   Expr
	OrderBy  []OrderTerm
	Limit    *int
	Offset   *int
	Distinct bool
}

// SelectField is one projected expression, optionally aliased. A bare `*`
// is represented with Star=true and a nil Expr.
type SelectField struct {
	Expr  Expr
	Alias string
	Star  bool
}

// JoinKind enumerates the supported join forms.
type JoinKind int

const (
	JoinInner JoinKind = iota
	JoinLeft
	JoinRight
	JoinOuter
)

// Join is one `JOIN|LEFT|RIGHT|INNER|OUTER JOIN table [ON expr]` clause.
type Join struct {
	Kind  JoinKind
	Table string
	As    string
	On    Expr
}

// OrderTerm is one ORDER BY expression with its direction.
type OrderTerm struct {
	Expr Expr
	Desc bool
}

// InsertStmt is `INSERT INTO table [(cols)] VALUES (expr,…)[,…]`.
type InsertStmt struct {
	Table   string
	Columns []string
	Rows    [][]Expr
}

// UpdateStmt is `UPDATE table SET col=expr,… [WHERE expr] [RETURNING
// select_list]`.
type UpdateStmt struct {
	Table     string
	Sets      []Assignment
	Where     Expr
	Returning []SelectField
}

// Assignment is one `col = expr` pair inside a SET clause.
type Assignment struct {
	Column string
	Value  Expr
}

// DeleteStmt is `DELETE FROM table [WHERE expr] [RETURNING select_list]`.
type DeleteStmt struct {
	Table     string
	Where     Expr
	Returning []SelectField
}

// ColumnDef is one column in a CREATE TABLE column list.
type ColumnDef struct {
	Name       string
	Type       string
	NotNull    bool
	PrimaryKey bool
	Default    Expr
}

// TableConstraint is a table-level constraint such as a composite PRIMARY
// KEY or FOREIGN KEY clause.
type TableConstraint struct {
	Kind    string // "primary_key", "unique", "foreign_key", "check"
	Columns []string
	Raw     string // verbatim text for constraint kinds this dialect does not model structurally
}

// CreateTableStmt is `CREATE TABLE [IF NOT EXISTS] name(col_def,… [,
// table_constraint…])`.
type CreateTableStmt struct {
	Name        string
	Columns     []ColumnDef
	Constraints []TableConstraint
	IfNotExists bool
}

// CreateIndexStmt is `CREATE [UNIQUE] INDEX [IF NOT EXISTS] name ON
// table(col,…)`.
type CreateIndexStmt struct {
	Name        string
	Table       string
	Columns     []string
	Unique      bool
	IfNotExists bool
}

// AlterTableOp enumerates the ALTER TABLE sub-operations.
type AlterTableOp int

const (
	AlterAddColumn AlterTableOp = iota
	AlterRenameTable
	AlterRenameColumn
	AlterDropColumn
)

// AlterTableStmt is `ALTER TABLE name { ADD COLUMN col_def | RENAME TO new |
// RENAME COLUMN old TO new | DROP COLUMN col }`.
type AlterTableStmt struct {
	Table   string
	Op      AlterTableOp
	Column  ColumnDef // for ADD COLUMN
	OldName string    // for RENAME COLUMN / DROP COLUMN
	NewName string    // for RENAME TO / RENAME COLUMN
}

// DropTableStmt is `DROP TABLE [IF EXISTS] name`.
type DropTableStmt struct {
	Name     string
	IfExists bool
}

// PragmaStmt is `PRAGMA name [= value | (args)]`.
type PragmaStmt struct {
	Name  string
	Value Expr
	Args  []Expr
}
