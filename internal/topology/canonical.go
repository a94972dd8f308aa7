package topology

import (
	"encoding/json"
	"sort"
	"strconv"
)

// StringifyValue renders a single Go value the same way for hashing
// (plan.ShardHash) and for single-column index key canonicalization, so a
// shard-key lookup and an index lookup derived from the same literal value
// always agree on its string form.
func StringifyValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// CanonicalKey computes the canonical key_value for an index entry from
// its indexed column values, in declared column order. ok is false if any
// value is nil — NULLs are never indexed and never produce entries (§3),
// so a caller that receives ok=false must skip emitting any entry/delta
// for this row rather than indexing an empty or null-bearing key.
//
// Single-column indexes use the bare stringified value; composite indexes
// use a JSON array of the values in column order — but the NULL-suppression
// rule must hold for composite keys exactly as it does for single-column
// ones, so a nil anywhere in the tuple short-circuits before JSON encoding
// rather than serializing a `null` entry into the array.
func CanonicalKey(values []any) (key string, ok bool) {
	for _, v := range values {
		if v == nil {
			return "", false
		}
	}
	if len(values) == 1 {
		return StringifyValue(values[0]), true
	}
	b, err := json.Marshal(values)
	if err != nil {
		return "", false
	}
	return string(b), true
}

// SortShardIDs returns a sorted copy of ids, used whenever a
// VirtualIndexEntry's ShardIDs set is constructed or mutated — the field
// is documented as a sorted set and every reader relies on that ordering
// for deterministic comparison.
func SortShardIDs(ids []int) []int {
	out := make([]int, len(ids))
	copy(out, ids)
	sort.Ints(out)
	return out
}

// DedupSortShardIDs sorts and removes duplicate shard IDs.
func DedupSortShardIDs(ids []int) []int {
	seen := make(map[int]struct{}, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}
