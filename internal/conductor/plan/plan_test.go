package plan

import "testing"

func TestMergeStrategyIsWrite(t *testing.T) {
	writes := []MergeStrategy{MergeFanoutAll, MergeWriteCount}
	reads := []MergeStrategy{MergeConcat, MergeAggregate, MergeGroupBy, MergeUnion}

	for _, m := range writes {
		if !m.IsWrite() {
			t.Errorf("%v.IsWrite() = false, want true", m)
		}
	}
	for _, m := range reads {
		if m.IsWrite() {
			t.Errorf("%v.IsWrite() = true, want false", m)
		}
	}
}
