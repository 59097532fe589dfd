// Package fixpoint holds the core value and symbol types shared by every
// stage of the engine: boxed values, predicate symbols, denotations, tuples
// and row variables.
package fixpoint

import (
	"fmt"
	"math"
)

// Kind tags the variant carried by a Boxed value.
type Kind uint8

const (
	// KindNone is the sentinel payload of relational (valueless) tuples.
	KindNone Kind = iota
	KindBool
	KindChar
	KindInt8
	KindInt16
	KindInt32
	KindInt64
	KindFloat32
	KindFloat64
	KindStr
	KindObject
)

// String returns the kind name
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "NoValue"
	case KindBool:
		return "Bool"
	case KindChar:
		return "Char"
	case KindInt8:
		return "Int8"
	case KindInt16:
		return "Int16"
	case KindInt32:
		return "Int32"
	case KindInt64:
		return "Int64"
	case KindFloat32:
		return "Float32"
	case KindFloat64:
		return "Float64"
	case KindStr:
		return "Str"
	case KindObject:
		return "Object"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Boxed is a tagged union over the value kinds a relation column may carry.
// Numeric kinds store their payload in num (floats as IEEE754 bits); strings
// and objects carry their own field. Mixing kinds in one column is a bug and
// is rejected by the boxing layer.
type Boxed struct {
	kind Kind
	num  int64
	str  string
	obj  interface{}
}

// NoValue is the payload used for relational tuples, which carry no lattice
// element.
var NoValue = Boxed{kind: KindNone}

// Bool boxes a bool
func Bool(v bool) Boxed {
	n := int64(0)
	if v {
		n = 1
	}
	return Boxed{kind: KindBool, num: n}
}

// Char boxes a rune
func Char(v rune) Boxed { return Boxed{kind: KindChar, num: int64(v)} }

// Int8 boxes an int8
func Int8(v int8) Boxed { return Boxed{kind: KindInt8, num: int64(v)} }

// Int16 boxes an int16
func Int16(v int16) Boxed { return Boxed{kind: KindInt16, num: int64(v)} }

// Int32 boxes an int32
func Int32(v int32) Boxed { return Boxed{kind: KindInt32, num: int64(v)} }

// Int64 boxes an int64
func Int64(v int64) Boxed { return Boxed{kind: KindInt64, num: v} }

// Float32 boxes a float32
func Float32(v float32) Boxed {
	return Boxed{kind: KindFloat32, num: int64(math.Float32bits(v))}
}

// Float64 boxes a float64
func Float64(v float64) Boxed {
	return Boxed{kind: KindFloat64, num: int64(math.Float64bits(v))}
}

// Str boxes a string
func Str(v string) Boxed { return Boxed{kind: KindStr, str: v} }

// Object boxes an arbitrary host value. Objects are identified by equality of
// their string form; the boxing layer assigns them incrementing ids.
func Object(v interface{}) Boxed { return Boxed{kind: KindObject, obj: v} }

// Kind returns the variant tag
func (b Boxed) Kind() Kind { return b.kind }

// IsNoValue reports whether b is the relational sentinel
func (b Boxed) IsNoValue() bool { return b.kind == KindNone }

// BoolVal unwraps a Bool
func (b Boxed) BoolVal() bool {
	b.mustBe(KindBool)
	return b.num != 0
}

// CharVal unwraps a Char
func (b Boxed) CharVal() rune {
	b.mustBe(KindChar)
	return rune(b.num)
}

// IntVal unwraps any integer kind, widened to int64
func (b Boxed) IntVal() int64 {
	switch b.kind {
	case KindInt8, KindInt16, KindInt32, KindInt64:
		return b.num
	}
	panic(fmt.Sprintf("fixpoint: IntVal on %s value", b.kind))
}

// Float64Val unwraps a Float64
func (b Boxed) Float64Val() float64 {
	b.mustBe(KindFloat64)
	return math.Float64frombits(uint64(b.num))
}

// Float32Val unwraps a Float32
func (b Boxed) Float32Val() float32 {
	b.mustBe(KindFloat32)
	return math.Float32frombits(uint32(b.num))
}

// StrVal unwraps a Str
func (b Boxed) StrVal() string {
	b.mustBe(KindStr)
	return b.str
}

// ObjectVal unwraps an Object
func (b Boxed) ObjectVal() interface{} {
	b.mustBe(KindObject)
	return b.obj
}

func (b Boxed) mustBe(k Kind) {
	if b.kind != k {
		panic(fmt.Sprintf("fixpoint: %s value used as %s", b.kind, k))
	}
}

// String returns a readable form of the value
func (b Boxed) String() string {
	switch b.kind {
	case KindNone:
		return "()"
	case KindBool:
		if b.num != 0 {
			return "true"
		}
		return "false"
	case KindChar:
		return fmt.Sprintf("'%c'", rune(b.num))
	case KindInt8, KindInt16, KindInt32, KindInt64:
		return fmt.Sprintf("%d", b.num)
	case KindFloat32:
		return fmt.Sprintf("%g", math.Float32frombits(uint32(b.num)))
	case KindFloat64:
		return fmt.Sprintf("%g", math.Float64frombits(uint64(b.num)))
	case KindStr:
		return fmt.Sprintf("%q", b.str)
	case KindObject:
		return fmt.Sprint(b.obj)
	default:
		return fmt.Sprintf("Boxed(%d)", uint8(b.kind))
	}
}
