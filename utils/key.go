package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CanonicalKey renders an ordered entity key tuple as an opaque,
// deterministic string. Equal tuples render identically regardless of the
// integer or float width they arrive in, and tuples of different shapes can
// never collide because string components are quoted.
func CanonicalKey(values ...interface{}) string {
	var b strings.Builder
	for i, v := range values {
		if i > 0 {
			b.WriteByte('|')
		}
		writeCanonical(&b, v)
	}
	return b.String()
}

func writeCanonical(b *strings.Builder, value interface{}) {
	switch v := value.(type) {
	case nil:
		b.WriteString("<nil>")
	case string:
		b.WriteString(strconv.Quote(v))
	case []byte:
		b.WriteString(strconv.Quote(string(v)))
	case bool:
		b.WriteString(strconv.FormatBool(v))
	case float32:
		b.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 64))
	case float64:
		b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	case time.Time:
		b.WriteByte('t')
		b.WriteString(strconv.FormatInt(v.UnixNano(), 10))
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		b.WriteString(strconv.FormatInt(ToInt64(v, 0), 10))
	default:
		fmt.Fprintf(b, "%v", v)
	}
}
