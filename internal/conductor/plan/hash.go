package plan

import "github.com/dreamware/conductor/internal/topology"

// HashVersion identifies the shard-hash algorithm in use. Table metadata
// records which version produced its current shard assignment; changing
// the algorithm requires a version bump and a rehash, never a silent swap.
const HashVersion = "foldhash-v1"

// ShardHash computes the stable string-fold hash used for both shard
// routing and index key canonicalization: h starts at 0 and each UTF-16
// code unit c folds in as h = ((h<<5) - h + c) & 0xFFFFFFFF. Go strings are
// UTF-8; ranging with a plain for loop over []rune and widening each rune
// to its UTF-16 code unit(s) keeps this faithful to the spec for the BMP
// values shard keys realistically take, matching the JavaScript original's
// per-UTF-16-unit fold exactly for all non-surrogate-pair runes.
func ShardHash(s string) uint32 {
	var h uint32
	for _, r := range s {
		if r > 0xFFFF {
			hi, lo := utf16Surrogates(r)
			h = (h<<5 - h + uint32(hi)) & 0xFFFFFFFF
			h = (h<<5 - h + uint32(lo)) & 0xFFFFFFFF
			continue
		}
		h = (h<<5 - h + uint32(r)) & 0xFFFFFFFF
	}
	return h
}

func utf16Surrogates(r rune) (hi, lo uint16) {
	r -= 0x10000
	hi = uint16(0xD800 + (r >> 10))
	lo = uint16(0xDC00 + (r & 0x3FF))
	return
}

// ShardFor hashes value (stringified the same way index keys are
// canonicalized) and reduces it into [0, numShards).
func ShardFor(value any, numShards int) int {
	s := topology.StringifyValue(value)
	h := ShardHash(s)
	return int(h) % numShards
}
