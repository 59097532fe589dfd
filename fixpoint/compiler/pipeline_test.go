package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbrown/janus-fixpoint/fixpoint"
	"github.com/wbrown/janus-fixpoint/fixpoint/ast"
	"github.com/wbrown/janus-fixpoint/fixpoint/ram"
)

// tcProgram is the transitive-closure program used across the phase tests.
func tcProgram() ast.Program {
	edge, path := sym("Edge", 0), sym("Path", 1)
	lit := func(v int64) ast.HeadTerm { return ast.HeadLit{Value: fixpoint.Int64(v)} }
	return ast.Program{Constraints: []ast.Constraint{
		{Head: ast.HeadAtom{Sym: edge, Terms: []ast.HeadTerm{lit(1), lit(2)}}},
		{Head: ast.HeadAtom{Sym: edge, Terms: []ast.HeadTerm{lit(2), lit(3)}}},
		rule(path, []string{"x", "y"}, atom(edge, "x", "y")),
		rule(path, []string{"x", "z"}, atom(path, "x", "y"), atom(edge, "y", "z")),
	}}
}

func compileTC(t *testing.T) (*Context, ram.Stmt) {
	t.Helper()
	ctx, err := Analyze(tcProgram())
	require.NoError(t, err)
	ctx.UnifyPositions()
	stmt, err := Compile(ctx)
	require.NoError(t, err)
	stmt = Simplify(stmt)
	stmt = Hoist(stmt)
	SelectIndexes(ctx, stmt)
	return ctx, stmt
}

func TestAnalyzeCollectsSchema(t *testing.T) {
	ctx, err := Analyze(tcProgram())
	require.NoError(t, err)
	assert.Len(t, ctx.Rels, 2)
	assert.Equal(t, 2, ctx.Rels[0].Arity)
	assert.True(t, ctx.IdbIds[1])
	assert.False(t, ctx.IdbIds[0])
	assert.Len(t, ctx.Facts, 2)
	assert.Len(t, ctx.Rules, 2)
}

func TestAnalyzeRejectsArityMismatch(t *testing.T) {
	edge := sym("Edge", 0)
	p := ast.Program{Constraints: []ast.Constraint{
		rule(edge, []string{"x", "y"}, atom(edge, "x", "y", "z")),
	}}
	_, err := Analyze(p)
	require.Error(t, err)
}

func TestCompileEmitsFixpointLoop(t *testing.T) {
	ctx, err := Analyze(tcProgram())
	require.NoError(t, err)
	ctx.UnifyPositions()
	stmt, err := Compile(ctx)
	require.NoError(t, err)

	var untils, inserts, merges int
	walkStmts(stmt, func(s ram.Stmt) {
		switch s.(type) {
		case ram.Until:
			untils++
		case ram.Insert:
			inserts++
		case ram.MergeInto:
			merges++
		}
	})
	assert.Equal(t, 1, untils, "one recursive stratum, one loop")
	// Phase A compiles both rules, phase B only the recursive copy.
	assert.Equal(t, 3, inserts)
	assert.NotZero(t, merges)
}

func TestCompileElidesConstantFalseGuard(t *testing.T) {
	edge, path := sym("Edge", 0), sym("Path", 1)
	p := ast.Program{Constraints: []ast.Constraint{
		rule(path, []string{"x", "y"},
			atom(edge, "x", "y"),
			ast.Guard{Fn: func([]fixpoint.Boxed) bool { return false }}),
	}}
	ctx, err := Analyze(p)
	require.NoError(t, err)
	ctx.UnifyPositions()
	stmt, err := Compile(ctx)
	require.NoError(t, err)

	var inserts int
	walkStmts(stmt, func(s ram.Stmt) {
		if _, ok := s.(ram.Insert); ok {
			inserts++
		}
	})
	assert.Zero(t, inserts)
}

func TestHoistFoldsJoinIntoQuery(t *testing.T) {
	_, stmt := compileTC(t)

	var queries int
	walkStmts(stmt, func(s ram.Stmt) {
		ins, ok := s.(ram.Insert)
		if !ok {
			return
		}
		walkOps(ins.Op, func(op ram.RelOp) {
			if q, ok := op.(ram.Query); ok {
				queries++
				require.NotEmpty(t, q.Prefix)
			}
		})
	})
	assert.NotZero(t, queries, "the recursive join must fold into an index query")
}

func TestHoistLiftsEmptinessGuards(t *testing.T) {
	_, stmt := compileTC(t)
	found := false
	walkStmts(stmt, func(s ram.Stmt) {
		ins, ok := s.(ram.Insert)
		if !ok {
			return
		}
		if iff, ok := ins.Op.(ram.If); ok {
			for _, c := range iff.Conds {
				if _, ok := c.(ram.NotEmpty); ok {
					found = true
				}
			}
		}
	})
	assert.True(t, found, "rules must short-circuit on empty inputs")
}

func TestHoistPrunesContradictoryRule(t *testing.T) {
	edge := sym("Edge", 0)

	// One attribute equated with two different constants can never bind.
	rv := fixpoint.RowVar{Name: "e", Id: 99}
	rel := fixpoint.RelSym{Sym: edge, Arity: 2}
	ins := ram.Insert{Op: ram.If{
		Conds: []ram.BoolExp{
			ram.Eq{A: ram.RowLoad{Rv: rv, Attr: 0}, B: ram.Lit{Value: fixpoint.Int64(1), Site: 1}},
			ram.Eq{A: ram.RowLoad{Rv: rv, Attr: 0}, B: ram.Lit{Value: fixpoint.Int64(2), Site: 2}},
		},
		Body: ram.Project{Terms: []ram.Term{ram.RowLoad{Rv: rv, Attr: 0}}, Rel: rel},
	}}
	tree := ram.Search{Rv: rv, Rel: rel, Body: ins.Op}
	out := Hoist(ram.Seq{Stmts: []ram.Stmt{ram.Insert{Op: tree}}})

	pruned := false
	walkStmts(out, func(s ram.Stmt) {
		if _, ok := s.(ram.Comment); ok {
			pruned = true
		}
	})
	assert.True(t, pruned)
}

func TestSelectIndexesCoversEveryQuery(t *testing.T) {
	ctx, stmt := compileTC(t)
	walkStmts(stmt, func(s ram.Stmt) {
		ins, ok := s.(ram.Insert)
		if !ok {
			return
		}
		walkOps(ins.Op, func(op ram.RelOp) {
			q, ok := op.(ram.Query)
			if !ok {
				return
			}
			set := make(map[int]bool)
			for _, p := range q.Prefix {
				set[p.Attr] = true
			}
			logical, _ := ctx.Registry.Logical(q.Rel.Sym.Id)
			covered := false
			for _, order := range ctx.Orders[logical] {
				if OrderAnswers(order, set) {
					covered = true
				}
			}
			assert.True(t, covered, "query on %s has no covering index", q.Rel)
		})
	})
}

func TestSelectIndexesDefaultsUnqueriedRelations(t *testing.T) {
	ctx, _ := compileTC(t)
	for id, rel := range ctx.Rels {
		orders := ctx.Orders[id]
		require.NotEmpty(t, orders, "relation %s has no index", rel)
		for _, order := range orders {
			assert.Len(t, order, rel.Arity)
		}
	}
}

func TestChainCover(t *testing.T) {
	// {0} ⊂ {0,1} chains; {1} stands alone.
	sets := []attrSet{attrSet(1), attrSet(2), attrSet(3)}
	chains := chainCover(sets)
	assert.Len(t, chains, 2)

	total := 0
	for _, c := range chains {
		total += len(c)
		for i := 1; i < len(c); i++ {
			assert.True(t, c[i-1].subsetOf(c[i]))
			assert.NotEqual(t, c[i-1], c[i])
		}
	}
	assert.Equal(t, 3, total)
}

func TestChainOrder(t *testing.T) {
	order := chainOrder([]attrSet{attrSet(2), attrSet(3)}, 3)
	// {1} first, then the difference {0}, then the missing column 2.
	assert.Equal(t, []int{1, 0, 2}, order)
}

func TestSimplifyDropsProgressFreeLoop(t *testing.T) {
	rel := fixpoint.RelSym{Sym: sym("R", 0), Arity: 1}
	loop := ram.Until{
		Conds: []ram.BoolExp{ram.Empty{Rel: rel}},
		Body:  []ram.Stmt{ram.MergeInto{Src: rel, Dst: rel}, ram.Purge{Rel: rel}},
	}
	out := Simplify(ram.Seq{Stmts: []ram.Stmt{loop}})
	var untils int
	walkStmts(out, func(s ram.Stmt) {
		if _, ok := s.(ram.Until); ok {
			untils++
		}
	})
	assert.Zero(t, untils)
}

func TestSimplifyDropsTautology(t *testing.T) {
	rv := fixpoint.RowVar{Name: "r", Id: 1}
	conds := simplifyConds([]ram.BoolExp{
		ram.Eq{A: ram.RowLoad{Rv: rv, Attr: 0}, B: ram.RowLoad{Rv: rv, Attr: 0}},
		ram.Eq{A: ram.RowLoad{Rv: rv, Attr: 0}, B: ram.RowLoad{Rv: rv, Attr: 1}},
	})
	assert.Len(t, conds, 1)
}

func TestSimplifyOrdersMembershipLast(t *testing.T) {
	rv := fixpoint.RowVar{Name: "r", Id: 1}
	rel := fixpoint.RelSym{Sym: sym("R", 0), Arity: 1}
	conds := simplifyConds([]ram.BoolExp{
		ram.NotMemberOf{Terms: []ram.Term{ram.RowLoad{Rv: rv, Attr: 0}}, Rel: rel},
		ram.Eq{A: ram.RowLoad{Rv: rv, Attr: 0}, B: ram.RowLoad{Rv: rv, Attr: 1}},
	})
	require.Len(t, conds, 2)
	_, isEq := conds[0].(ram.Eq)
	_, isMember := conds[1].(ram.NotMemberOf)
	assert.True(t, isEq)
	assert.True(t, isMember)
}

func walkStmts(s ram.Stmt, f func(ram.Stmt)) {
	f(s)
	switch st := s.(type) {
	case ram.Seq:
		for _, c := range st.Stmts {
			walkStmts(c, f)
		}
	case ram.Par:
		for _, c := range st.Stmts {
			walkStmts(c, f)
		}
	case ram.Until:
		for _, c := range st.Body {
			walkStmts(c, f)
		}
	}
}

func walkOps(op ram.RelOp, f func(ram.RelOp)) {
	f(op)
	switch o := op.(type) {
	case ram.Search:
		walkOps(o.Body, f)
	case ram.Query:
		walkOps(o.Body, f)
	case ram.Functional:
		walkOps(o.Body, f)
	case ram.If:
		walkOps(o.Body, f)
	}
}
