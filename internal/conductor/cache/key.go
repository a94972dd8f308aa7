package cache

import (
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// hashKey folds a statement's SQL text and bound params into one 64-bit
// cache key. params are rendered as text rather than marshaled: paramToken
// formats nil, string, []byte, int64, int, float64 and bool directly and
// falls back to fmt.Sprint for any other type.
func hashKey(sql string, params []any) uint64 {
	h := xxhash.New()
	h.WriteString(sql)
	h.Write([]byte{0})
	for _, p := range params {
		h.WriteString(paramToken(p))
		h.Write([]byte{0})
	}
	return h.Sum64()
}

func paramToken(p any) string {
	switch v := p.(type) {
	case nil:
		return "\x01nil"
	case string:
		return v
	case []byte:
		return string(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}
