package fixpoint

import (
	"fmt"
	"math"
)

// Compare orders two boxed values of the same kind. Returns -1, 0 or 1.
// Comparing values of different kinds is a bug: one unified position never
// carries more than one kind.
func Compare(a, b Boxed) int {
	if a.kind != b.kind {
		panic(fmt.Sprintf("fixpoint: comparing %s against %s", a.kind, b.kind))
	}
	switch a.kind {
	case KindNone:
		return 0
	case KindBool, KindChar, KindInt8, KindInt16, KindInt32, KindInt64:
		return compareInt64(a.num, b.num)
	case KindFloat32:
		return compareFloat64(
			float64(math.Float32frombits(uint32(a.num))),
			float64(math.Float32frombits(uint32(b.num))))
	case KindFloat64:
		return compareFloat64(
			math.Float64frombits(uint64(a.num)),
			math.Float64frombits(uint64(b.num)))
	case KindStr:
		return compareString(a.str, b.str)
	case KindObject:
		// Objects order by their printed form, which also defines their
		// identity in the boxing layer.
		return compareString(fmt.Sprint(a.obj), fmt.Sprint(b.obj))
	default:
		panic(fmt.Sprintf("fixpoint: comparing unknown kind %s", a.kind))
	}
}

// Equal reports whether two boxed values are the same kind and payload.
func Equal(a, b Boxed) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindStr:
		return a.str == b.str
	case KindObject:
		return fmt.Sprint(a.obj) == fmt.Sprint(b.obj)
	default:
		return a.num == b.num
	}
}

func compareInt64(a, b int64) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}

func compareFloat64(a, b float64) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}

func compareString(a, b string) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}

// CompareTuples orders two tuples lexicographically. Shorter tuples sort
// before longer ones sharing the same prefix.
func CompareTuples(a, b Tuple) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := compareInt64(a[i], b[i]); c != 0 {
			return c
		}
	}
	return compareInt64(int64(len(a)), int64(len(b)))
}
