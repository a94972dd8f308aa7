package exec

import (
	"testing"

	"github.com/dreamware/conductor/internal/sqlast"
)

func mustParseStmt(t *testing.T, sql string) *sqlast.Statement {
	t.Helper()
	stmt, err := sqlast.Parse(sql)
	if err != nil {
		t.Fatalf("parse %q: %v", sql, err)
	}
	return stmt
}
