package solver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbrown/janus-fixpoint/fixpoint"
	"github.com/wbrown/janus-fixpoint/fixpoint/ast"
)

// Two disconnected derivation chains land in one pseudo-stratum and run
// under Par with per-worker environments.
func TestIndependentStrataRunInParallel(t *testing.T) {
	edgeA := NewPredSym("EdgeA")
	edgeB := NewPredSym("EdgeB")
	reachA := NewPredSym("ReachA")
	reachB := NewPredSym("ReachB")

	const n = 40
	rows := make([][]fixpoint.Boxed, 0, n)
	for i := int64(0); i < n; i++ {
		rows = append(rows, []fixpoint.Boxed{fixpoint.Int64(i), fixpoint.Int64(i + 1)})
	}
	fa, err := InjectInto(edgeA, rows)
	require.NoError(t, err)
	fb, err := InjectInto(edgeB, rows)
	require.NoError(t, err)

	tc := func(edge, reach fixpoint.PredSym) Program {
		return NewProgram(
			mkRule(reach, []ast.HeadTerm{hv("x"), hv("y")}, mkAtom(edge, v("x"), v("y"))),
			mkRule(reach, []ast.HeadTerm{hv("x"), hv("z")},
				mkAtom(reach, v("x"), v("y")), mkAtom(edge, v("y"), v("z"))),
		)
	}

	opts := DefaultOptions()
	opts.ParLevel = 2
	d := Union(Union(fa, fb), Union(tc(edgeA, reachA), tc(edgeB, reachB)))
	model, err := Solve(d, opts)
	require.NoError(t, err)

	want := n * (n + 1) / 2
	assert.Len(t, Facts(reachA, model), want)
	assert.Len(t, Facts(reachB, model), want)
}

// Sequential execution must agree with the parallel engine.
func TestParLevelZeroMatchesParallel(t *testing.T) {
	edge := NewPredSym("Edge")
	path := NewPredSym("Path")
	facts, err := InjectInto(edge, intRows([2]int64{1, 2}, [2]int64{2, 3}, [2]int64{3, 4}, [2]int64{2, 4}))
	require.NoError(t, err)
	rules := NewProgram(
		mkRule(path, []ast.HeadTerm{hv("x"), hv("y")}, mkAtom(edge, v("x"), v("y"))),
		mkRule(path, []ast.HeadTerm{hv("x"), hv("z")},
			mkAtom(path, v("x"), v("y")), mkAtom(edge, v("y"), v("z"))),
	)
	d := Union(facts, rules)

	seq := DefaultOptions()
	seq.ParLevel = 0
	par := DefaultOptions()
	par.ParLevel = 4

	m1, err := Solve(d, seq)
	require.NoError(t, err)
	m2, err := Solve(d, par)
	require.NoError(t, err)
	assert.True(t, m1.Equal(m2))
}
