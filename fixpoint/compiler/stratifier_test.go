package compiler

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbrown/janus-fixpoint/fixpoint"
	"github.com/wbrown/janus-fixpoint/fixpoint/ast"
)

func sym(name string, id int64) fixpoint.PredSym {
	return fixpoint.PredSym{Name: name, Id: id}
}

func rule(head fixpoint.PredSym, headVars []string, body ...ast.BodyStmt) ast.Constraint {
	terms := make([]ast.HeadTerm, len(headVars))
	for i, v := range headVars {
		terms[i] = ast.HeadVar{Name: v}
	}
	return ast.Constraint{
		Head: ast.HeadAtom{Sym: head, Terms: terms},
		Body: body,
	}
}

func atom(p fixpoint.PredSym, vars ...string) ast.Atom {
	terms := make([]ast.Term, len(vars))
	for i, v := range vars {
		terms[i] = ast.Var{Name: v}
	}
	return ast.Atom{Sym: p, Terms: terms}
}

func negAtom(p fixpoint.PredSym, vars ...string) ast.Atom {
	a := atom(p, vars...)
	a.Polarity = ast.Negative
	return a
}

func TestStratifyLinearChain(t *testing.T) {
	edge, path := sym("Edge", 0), sym("Path", 1)
	rules := []ast.Constraint{
		rule(path, []string{"x", "y"}, atom(edge, "x", "y")),
		rule(path, []string{"x", "z"}, atom(path, "x", "y"), atom(edge, "y", "z")),
	}
	g := NewPrecedenceGraph([]int64{0, 1}, rules)
	strat, err := g.Stratify()
	require.NoError(t, err)

	ep := strat.Place[0]
	pp := strat.Place[1]
	assert.Less(t, ep[0], pp[0], "Edge must run before Path")
}

func TestStratifyMutualRecursionSharesStratum(t *testing.T) {
	a, b := sym("A", 0), sym("B", 1)
	rules := []ast.Constraint{
		rule(a, []string{"x"}, atom(b, "x")),
		rule(b, []string{"x"}, atom(a, "x")),
	}
	g := NewPrecedenceGraph([]int64{0, 1}, rules)
	strat, err := g.Stratify()
	require.NoError(t, err)
	assert.Equal(t, strat.Place[0], strat.Place[1])
}

func TestStratifyNegativeCycleFails(t *testing.T) {
	a, b := sym("A", 0), sym("B", 1)
	rules := []ast.Constraint{
		rule(a, []string{"x"}, negAtom(b, "x")),
		rule(b, []string{"x"}, atom(a, "x")),
	}
	g := NewPrecedenceGraph([]int64{0, 1}, rules)
	_, err := g.Stratify()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStratification))
}

func TestStratifyNegationAcrossStrata(t *testing.T) {
	person, hasParent, orphan := sym("Person", 0), sym("HasParent", 1), sym("Orphan", 2)
	rules := []ast.Constraint{
		rule(orphan, []string{"c"}, atom(person, "c"), negAtom(hasParent, "c")),
	}
	g := NewPrecedenceGraph([]int64{0, 1, 2}, rules)
	strat, err := g.Stratify()
	require.NoError(t, err)
	assert.NotEqual(t, strat.Place[1], strat.Place[2])
}

func TestPseudoStrataMergeIndependentComponents(t *testing.T) {
	// Two disconnected derivation chains: their strata pair up into shared
	// pseudo-strata so they can run in parallel.
	ea, a := sym("EdgeA", 0), sym("A", 1)
	eb, b := sym("EdgeB", 2), sym("B", 3)
	rules := []ast.Constraint{
		rule(a, []string{"x", "y"}, atom(ea, "x", "y")),
		rule(b, []string{"x", "y"}, atom(eb, "x", "y")),
	}
	g := NewPrecedenceGraph([]int64{0, 1, 2, 3}, rules)
	strat, err := g.Stratify()
	require.NoError(t, err)

	// A and B are independent of each other.
	assert.Equal(t, strat.Place[1][0], strat.Place[3][0], "A and B should share a pseudo-stratum")
	assert.NotEqual(t, strat.Place[1][1], strat.Place[3][1], "but keep distinct strata within it")
}

func TestTarjanSelfLoop(t *testing.T) {
	p := sym("P", 0)
	rules := []ast.Constraint{
		rule(p, []string{"x"}, atom(p, "x")),
	}
	g := NewPrecedenceGraph([]int64{0}, rules)
	strat, err := g.Stratify()
	require.NoError(t, err)
	assert.Len(t, strat.PseudoStrata, 1)
}
