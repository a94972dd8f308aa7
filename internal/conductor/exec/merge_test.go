package exec

import (
	"testing"

	"github.com/dreamware/conductor/internal/conductor/plan"
)

func TestMergeConcatStripsVirtualShardByDefault(t *testing.T) {
	pl := &plan.Plan{Merge: plan.MergeConcat, Statement: mustParseStmt(t, "SELECT a FROM t")}
	res := &Result{Responses: []ShardOutcome{
		{Resp: ShardResponse{Rows: []map[string]any{{"a": 1, "_virtualShard": 0}}}},
		{Resp: ShardResponse{Rows: []map[string]any{{"a": 2, "_virtualShard": 1}}}},
	}}
	merged, err := Merge(pl, res)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(merged.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(merged.Rows))
	}
	for _, r := range merged.Rows {
		if _, ok := r["_virtualShard"]; ok {
			t.Errorf("expected _virtualShard stripped, got %v", r)
		}
	}
}

func TestMergeConcatKeepsVirtualShardWhenExplicitlyProjected(t *testing.T) {
	pl := &plan.Plan{Merge: plan.MergeConcat, Statement: mustParseStmt(t, "SELECT _virtualShard FROM t")}
	res := &Result{Responses: []ShardOutcome{
		{Resp: ShardResponse{Rows: []map[string]any{{"_virtualShard": 0}}}},
	}}
	merged, err := Merge(pl, res)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if _, ok := merged.Rows[0]["_virtualShard"]; !ok {
		t.Error("expected _virtualShard to survive when explicitly projected")
	}
}

func TestMergeWriteCountSumsRowsAffected(t *testing.T) {
	pl := &plan.Plan{Merge: plan.MergeWriteCount}
	res := &Result{Responses: []ShardOutcome{
		{Resp: ShardResponse{RowsAffected: 3}},
		{Resp: ShardResponse{RowsAffected: 5}},
	}}
	merged, err := Merge(pl, res)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if merged.RowsAffected != 8 {
		t.Fatalf("expected 8, got %d", merged.RowsAffected)
	}
}

func TestMergeAggregateSumsCountAcrossShards(t *testing.T) {
	pl := &plan.Plan{Merge: plan.MergeAggregate, Statement: mustParseStmt(t, "SELECT count(*) FROM t")}
	res := &Result{Responses: []ShardOutcome{
		{Resp: ShardResponse{Rows: []map[string]any{{"count(*)": float64(4)}}}},
		{Resp: ShardResponse{Rows: []map[string]any{{"count(*)": float64(7)}}}},
	}}
	merged, err := Merge(pl, res)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(merged.Rows) != 1 {
		t.Fatalf("expected exactly 1 merged row, got %d", len(merged.Rows))
	}
	if merged.Rows[0]["count(*)"] != float64(11) {
		t.Fatalf("expected count(*) = 11, got %v", merged.Rows[0]["count(*)"])
	}
}

func TestMergeAggregateRecombinesAvgFromSumAndCount(t *testing.T) {
	pl := &plan.Plan{
		Merge:     plan.MergeAggregate,
		Statement: mustParseStmt(t, "SELECT sum(v) AS __avg_sum_0, count(v) AS __avg_count_0 FROM t"),
		AvgRewrites: []plan.AvgRewrite{
			{OutputAlias: "avg(v)", SumAlias: "__avg_sum_0", CountAlias: "__avg_count_0"},
		},
	}
	res := &Result{Responses: []ShardOutcome{
		{Resp: ShardResponse{Rows: []map[string]any{{"__avg_sum_0": float64(10), "__avg_count_0": float64(2)}}}},
		{Resp: ShardResponse{Rows: []map[string]any{{"__avg_sum_0": float64(20), "__avg_count_0": float64(3)}}}},
	}}
	merged, err := Merge(pl, res)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	row := merged.Rows[0]
	if _, ok := row["__avg_sum_0"]; ok {
		t.Error("expected internal sum alias removed from merged row")
	}
	got := row["avg(v)"].(float64)
	want := 30.0 / 5.0
	if got != want {
		t.Fatalf("avg(v) = %v, want %v", got, want)
	}
}

func TestMergeGroupByGroupsAcrossShards(t *testing.T) {
	pl := &plan.Plan{
		Merge:     plan.MergeGroupBy,
		Statement: mustParseStmt(t, "SELECT dept, count(*) FROM t GROUP BY dept"),
	}
	res := &Result{Responses: []ShardOutcome{
		{Resp: ShardResponse{Rows: []map[string]any{
			{"dept": "eng", "count(*)": float64(2)},
			{"dept": "sales", "count(*)": float64(1)},
		}}},
		{Resp: ShardResponse{Rows: []map[string]any{
			{"dept": "eng", "count(*)": float64(3)},
		}}},
	}}
	merged, err := Merge(pl, res)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(merged.Rows) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(merged.Rows))
	}
	byDept := map[string]float64{}
	for _, r := range merged.Rows {
		byDept[r["dept"].(string)] = r["count(*)"].(float64)
	}
	if byDept["eng"] != 5 {
		t.Errorf("eng count = %v, want 5", byDept["eng"])
	}
	if byDept["sales"] != 1 {
		t.Errorf("sales count = %v, want 1", byDept["sales"])
	}
}

func TestMergeUnionReturnsUntouchedRows(t *testing.T) {
	pl := &plan.Plan{Merge: plan.MergeUnion}
	res := &Result{Responses: []ShardOutcome{
		{Resp: ShardResponse{Rows: []map[string]any{{"count(*)": float64(2)}}}},
		{Resp: ShardResponse{Rows: []map[string]any{{"count(*)": float64(1)}}}},
	}}
	merged, err := Merge(pl, res)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(merged.Rows) != 2 {
		t.Fatalf("expected union of all rows untouched, got %d", len(merged.Rows))
	}
}

func TestMergeSkipsErroredShardResponses(t *testing.T) {
	pl := &plan.Plan{Merge: plan.MergeConcat, Statement: mustParseStmt(t, "SELECT a FROM t")}
	res := &Result{Responses: []ShardOutcome{
		{Resp: ShardResponse{Rows: []map[string]any{{"a": 1}}}},
		{Err: errStub{}},
	}}
	merged, err := Merge(pl, res)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(merged.Rows) != 1 {
		t.Fatalf("expected errored shard's rows excluded, got %d", len(merged.Rows))
	}
}

type errStub struct{}

func (errStub) Error() string { return "stub" }
