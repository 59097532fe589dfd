package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbrown/janus-fixpoint/fixpoint"
)

func TestBoxingPrimitiveRoundTrip(t *testing.T) {
	bx := NewBoxing(8)
	cases := []fixpoint.Boxed{
		fixpoint.Bool(true),
		fixpoint.Char('λ'),
		fixpoint.Int8(-5),
		fixpoint.Int64(1 << 40),
		fixpoint.Float64(-2.75),
		fixpoint.Float32(1.5),
	}
	for pos, v := range cases {
		code := bx.UnboxWith(v, pos)
		back := bx.BoxWith(code, pos)
		assert.True(t, fixpoint.Equal(v, back), "kind %s", v.Kind())
	}
}

func TestBoxingObjectIds(t *testing.T) {
	bx := NewBoxing(1)
	a := bx.UnboxWith(fixpoint.Str("alpha"), 0)
	b := bx.UnboxWith(fixpoint.Str("beta"), 0)
	a2 := bx.UnboxWith(fixpoint.Str("alpha"), 0)

	assert.Equal(t, a, a2)
	assert.NotEqual(t, a, b)
	assert.Equal(t, "alpha", bx.BoxWith(a, 0).StrVal())
	assert.Equal(t, "beta", bx.BoxWith(b, 0).StrVal())
}

func TestBoxingPositionsAreIndependent(t *testing.T) {
	bx := NewBoxing(2)
	a := bx.UnboxWith(fixpoint.Str("x"), 0)
	b := bx.UnboxWith(fixpoint.Str("y"), 1)
	// Both are the first object of their position.
	assert.Equal(t, a, b)
	assert.Equal(t, "x", bx.BoxWith(a, 0).StrVal())
	assert.Equal(t, "y", bx.BoxWith(b, 1).StrVal())
}

func TestBoxingKindMismatchPanics(t *testing.T) {
	bx := NewBoxing(1)
	bx.UnboxWith(fixpoint.Int64(1), 0)
	require.Panics(t, func() {
		bx.UnboxWith(fixpoint.Str("no"), 0)
	})
}

func TestBoxingBeforeKindKnownPanics(t *testing.T) {
	bx := NewBoxing(1)
	require.Panics(t, func() {
		bx.BoxWith(0, 0)
	})
}

func TestUnboxRowsParallel(t *testing.T) {
	bx := NewBoxing(2)
	rows := make([][]fixpoint.Boxed, 0, 1000)
	for i := 0; i < 1000; i++ {
		rows = append(rows, []fixpoint.Boxed{fixpoint.Int64(int64(i)), fixpoint.Int64(int64(i * 2))})
	}
	tuples, err := bx.UnboxRows([]Pos{0, 1}, rows, 8)
	require.NoError(t, err)
	require.Len(t, tuples, 1000)
	for i, tu := range tuples {
		assert.Equal(t, int64(i), tu[0])
		assert.Equal(t, int64(i*2), tu[1])
	}
}

func TestUnboxRowsArityMismatch(t *testing.T) {
	bx := NewBoxing(2)
	_, err := bx.UnboxRows([]Pos{0, 1}, [][]fixpoint.Boxed{{fixpoint.Int64(1)}}, 1)
	require.Error(t, err)
}
