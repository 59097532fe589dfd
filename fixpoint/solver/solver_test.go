package solver

import (
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbrown/janus-fixpoint/fixpoint"
	"github.com/wbrown/janus-fixpoint/fixpoint/ast"
)

// ---- construction helpers ----------------------------------------------

func v(name string) ast.Term      { return ast.Var{Name: name} }
func hv(name string) ast.HeadTerm { return ast.HeadVar{Name: name} }

func mkRule(head fixpoint.PredSym, headTerms []ast.HeadTerm, body ...ast.BodyStmt) ast.Constraint {
	return ast.Constraint{Head: ast.HeadAtom{Sym: head, Terms: headTerms}, Body: body}
}

func mkLatRule(head fixpoint.PredSym, lat fixpoint.Lattice, headTerms []ast.HeadTerm, body ...ast.BodyStmt) ast.Constraint {
	return ast.Constraint{
		Head: ast.HeadAtom{Sym: head, Den: fixpoint.Latticenal(lat), Terms: headTerms},
		Body: body,
	}
}

func mkAtom(p fixpoint.PredSym, terms ...ast.Term) ast.Atom {
	return ast.Atom{Sym: p, Terms: terms}
}

func mkLatAtom(p fixpoint.PredSym, lat fixpoint.Lattice, terms ...ast.Term) ast.Atom {
	return ast.Atom{Sym: p, Den: fixpoint.Latticenal(lat), Terms: terms}
}

func mkNeg(p fixpoint.PredSym, terms ...ast.Term) ast.Atom {
	return ast.Atom{Sym: p, Polarity: ast.Negative, Terms: terms}
}

func intRows(pairs ...[2]int64) [][]fixpoint.Boxed {
	out := make([][]fixpoint.Boxed, len(pairs))
	for i, p := range pairs {
		out[i] = []fixpoint.Boxed{fixpoint.Int64(p[0]), fixpoint.Int64(p[1])}
	}
	return out
}

func pairSet(rows [][]fixpoint.Boxed) map[[2]int64]bool {
	out := make(map[[2]int64]bool)
	for _, r := range rows {
		out[[2]int64{r[0].IntVal(), r[1].IntVal()}] = true
	}
	return out
}

// ---- end-to-end scenarios ----------------------------------------------

func TestTransitiveClosure(t *testing.T) {
	edge := NewPredSym("Edge")
	path := NewPredSym("Path")

	facts, err := InjectInto(edge, intRows([2]int64{1, 2}, [2]int64{2, 3}, [2]int64{3, 4}))
	require.NoError(t, err)

	rules := NewProgram(
		mkRule(path, []ast.HeadTerm{hv("x"), hv("y")}, mkAtom(edge, v("x"), v("y"))),
		mkRule(path, []ast.HeadTerm{hv("x"), hv("z")},
			mkAtom(path, v("x"), v("y")), mkAtom(edge, v("y"), v("z"))),
	)

	model, err := Solve(Union(facts, rules), DefaultOptions())
	require.NoError(t, err)

	got := pairSet(Facts(path, model))
	want := map[[2]int64]bool{
		{1, 2}: true, {1, 3}: true, {1, 4}: true,
		{2, 3}: true, {2, 4}: true, {3, 4}: true,
	}
	assert.Equal(t, want, got)
}

func TestUndirectedTransitiveClosure(t *testing.T) {
	edge := NewPredSym("Edge")
	path := NewPredSym("Path")

	facts, err := InjectInto(edge, intRows([2]int64{1, 2}, [2]int64{2, 3}, [2]int64{3, 4}))
	require.NoError(t, err)

	rules := NewProgram(
		mkRule(edge, []ast.HeadTerm{hv("x"), hv("y")}, mkAtom(edge, v("y"), v("x"))),
		mkRule(path, []ast.HeadTerm{hv("x"), hv("y")}, mkAtom(edge, v("x"), v("y"))),
		mkRule(path, []ast.HeadTerm{hv("x"), hv("z")},
			mkAtom(path, v("x"), v("y")), mkAtom(edge, v("y"), v("z"))),
	)

	model, err := Solve(Union(facts, rules), DefaultOptions())
	require.NoError(t, err)

	// Symmetric closure doubles the edge relation.
	assert.Len(t, Facts(edge, model), 6)

	// Every cross pair is reachable in both directions.
	got := pairSet(Facts(path, model))
	for a := int64(1); a <= 4; a++ {
		for b := int64(1); b <= 4; b++ {
			if a != b {
				assert.True(t, got[[2]int64{a, b}], "missing Path(%d,%d)", a, b)
			}
		}
	}
}

func TestStratifiedNegationOrphans(t *testing.T) {
	person := NewPredSym("Person")
	parent := NewPredSym("Parent")
	hasParent := NewPredSym("HasParent")
	orphan := NewPredSym("Orphan")

	people, err := InjectInto(person, [][]fixpoint.Boxed{
		{fixpoint.Str("Child1")}, {fixpoint.Str("Parent1")},
	})
	require.NoError(t, err)
	parents, err := InjectInto(parent, [][]fixpoint.Boxed{
		{fixpoint.Str("Child1"), fixpoint.Str("Parent1")},
	})
	require.NoError(t, err)

	rules := NewProgram(
		mkRule(hasParent, []ast.HeadTerm{hv("c")}, mkAtom(parent, v("c"), ast.Wild{})),
		mkRule(orphan, []ast.HeadTerm{hv("c")}, mkAtom(person, v("c")), mkNeg(hasParent, v("c"))),
	)

	model, err := Solve(Union(Union(people, parents), rules), DefaultOptions())
	require.NoError(t, err)

	rows := Facts(orphan, model)
	require.Len(t, rows, 1)
	assert.Equal(t, "Parent1", rows[0][0].StrVal())
}

// ---- lattices -----------------------------------------------------------

// IntSet is a canonical (sorted) integer set used as a powerset-lattice
// element.
type IntSet []int64

func (s IntSet) String() string {
	parts := make([]string, len(s))
	for i, x := range s {
		parts[i] = fmt.Sprintf("%d", x)
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func setOf(xs ...int64) fixpoint.Boxed {
	s := append(IntSet(nil), xs...)
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
	return fixpoint.Object(s)
}

func asSet(b fixpoint.Boxed) IntSet { return b.ObjectVal().(IntSet) }

func setLattice() fixpoint.Lattice {
	union := func(a, b IntSet) IntSet {
		seen := make(map[int64]bool)
		var out IntSet
		for _, x := range append(append(IntSet(nil), a...), b...) {
			if !seen[x] {
				seen[x] = true
				out = append(out, x)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
		return out
	}
	intersect := func(a, b IntSet) IntSet {
		in := make(map[int64]bool)
		for _, x := range a {
			in[x] = true
		}
		var out IntSet
		for _, x := range b {
			if in[x] {
				out = append(out, x)
			}
		}
		return out
	}
	subset := func(a, b IntSet) bool {
		in := make(map[int64]bool)
		for _, x := range b {
			in[x] = true
		}
		for _, x := range a {
			if !in[x] {
				return false
			}
		}
		return true
	}
	return fixpoint.Lattice{
		Bot: setOf(),
		Leq: func(a, b fixpoint.Boxed) bool { return subset(asSet(a), asSet(b)) },
		Lub: func(a, b fixpoint.Boxed) fixpoint.Boxed { return fixpoint.Object(union(asSet(a), asSet(b))) },
		Glb: func(a, b fixpoint.Boxed) fixpoint.Boxed { return fixpoint.Object(intersect(asSet(a), asSet(b))) },
	}
}

func TestWinWithSetLattice(t *testing.T) {
	goal := NewPredSym("Goal")
	edge := NewPredSym("Edge")
	a := NewPredSym("A")
	lvl := NewPredSym("Lvl")
	win := NewPredSym("Win")
	lat := setLattice()

	goals, err := InjectInto(goal, [][]fixpoint.Boxed{{fixpoint.Str("x")}})
	require.NoError(t, err)
	edges, err := InjectInto(edge, [][]fixpoint.Boxed{
		{fixpoint.Str("y"), fixpoint.Str("x")},
		{fixpoint.Str("w"), fixpoint.Str("x")},
		{fixpoint.Str("z"), fixpoint.Str("y")},
		{fixpoint.Str("w"), fixpoint.Str("y")},
		{fixpoint.Str("z"), fixpoint.Str("v")},
		{fixpoint.Str("v"), fixpoint.Str("z")},
	})
	require.NoError(t, err)
	levels, err := InjectInto(a, [][]fixpoint.Boxed{
		{fixpoint.Str("x"), fixpoint.Int64(0)},
		{fixpoint.Str("y"), fixpoint.Int64(1)},
		{fixpoint.Str("z"), fixpoint.Int64(2)},
		{fixpoint.Str("w"), fixpoint.Int64(2)},
		{fixpoint.Str("v"), fixpoint.Int64(1)},
	})
	require.NoError(t, err)

	mkSingleton := func(args []fixpoint.Boxed) fixpoint.Boxed {
		return setOf(args[0].IntVal())
	}
	rules := NewProgram(
		// The goal node and every node with a move into the goal collect
		// their level into the set lattice.
		mkLatRule(lvl, lat, []ast.HeadTerm{hv("g"), ast.HeadApp{Fn: mkSingleton, Args: []string{"l"}}},
			mkAtom(goal, v("g")), mkAtom(a, v("g"), v("l"))),
		mkLatRule(lvl, lat, []ast.HeadTerm{hv("n"), ast.HeadApp{Fn: mkSingleton, Args: []string{"l"}}},
			mkAtom(edge, v("n"), v("g")), mkAtom(goal, v("g")), mkAtom(a, v("n"), v("l"))),
		mkRule(win, []ast.HeadTerm{hv("n")}, mkLatAtom(lvl, lat, v("n"), v("s"))),
	)

	d := Union(Union(Union(goals, edges), levels), rules)
	model, err := Solve(d, DefaultOptions())
	require.NoError(t, err)

	var got []string
	for _, row := range Facts(win, model) {
		got = append(got, row[0].StrVal())
	}
	assert.Equal(t, []string{"w", "x", "y"}, got)
}

// Const is a constant-propagation lattice element: bottom, a known constant,
// or top.
type Const struct {
	Tag int // 0 bottom, 1 constant, 2 top
	V   int64
}

func (c Const) String() string {
	switch c.Tag {
	case 0:
		return "⊥"
	case 1:
		return fmt.Sprintf("Cst(%d)", c.V)
	default:
		return "⊤"
	}
}

func constLattice() fixpoint.Lattice {
	leq := func(a, b Const) bool {
		switch {
		case a.Tag == 0 || b.Tag == 2:
			return true
		case a.Tag == 1 && b.Tag == 1:
			return a == b
		default:
			return false
		}
	}
	lub := func(a, b Const) Const {
		switch {
		case a.Tag == 0:
			return b
		case b.Tag == 0:
			return a
		case a == b:
			return a
		default:
			return Const{Tag: 2}
		}
	}
	glb := func(a, b Const) Const {
		switch {
		case a.Tag == 2:
			return b
		case b.Tag == 2:
			return a
		case a == b:
			return a
		default:
			return Const{Tag: 0}
		}
	}
	c := func(b fixpoint.Boxed) Const { return b.ObjectVal().(Const) }
	return fixpoint.Lattice{
		Bot: fixpoint.Object(Const{Tag: 0}),
		Leq: func(a, b fixpoint.Boxed) bool { return leq(c(a), c(b)) },
		Lub: func(a, b fixpoint.Boxed) fixpoint.Boxed { return fixpoint.Object(lub(c(a), c(b))) },
		Glb: func(a, b fixpoint.Boxed) fixpoint.Boxed { return fixpoint.Object(glb(c(a), c(b))) },
	}
}

func TestConstantPropagation(t *testing.T) {
	litStm := NewPredSym("LitStm")
	addStm := NewPredSym("AddStm")
	localVar := NewPredSym("LocalVar")
	lat := constLattice()

	lits, err := InjectInto(litStm, [][]fixpoint.Boxed{
		{fixpoint.Str("a"), fixpoint.Int64(39)},
		{fixpoint.Str("b"), fixpoint.Int64(12)},
	})
	require.NoError(t, err)
	adds, err := InjectInto(addStm, [][]fixpoint.Boxed{
		{fixpoint.Str("r"), fixpoint.Str("a"), fixpoint.Str("b")},
	})
	require.NoError(t, err)

	mkCst := func(args []fixpoint.Boxed) fixpoint.Boxed {
		return fixpoint.Object(Const{Tag: 1, V: args[0].IntVal()})
	}
	addCst := func(args []fixpoint.Boxed) fixpoint.Boxed {
		x := args[0].ObjectVal().(Const)
		y := args[1].ObjectVal().(Const)
		switch {
		case x.Tag == 0 || y.Tag == 0:
			return fixpoint.Object(Const{Tag: 0})
		case x.Tag == 2 || y.Tag == 2:
			return fixpoint.Object(Const{Tag: 2})
		default:
			return fixpoint.Object(Const{Tag: 1, V: x.V + y.V})
		}
	}

	rules := NewProgram(
		mkLatRule(localVar, lat, []ast.HeadTerm{hv("v"), ast.HeadApp{Fn: mkCst, Args: []string{"n"}}},
			mkAtom(litStm, v("v"), v("n"))),
		mkLatRule(localVar, lat, []ast.HeadTerm{hv("r"), ast.HeadApp{Fn: addCst, Args: []string{"c1", "c2"}}},
			mkAtom(addStm, v("r"), v("a"), v("b")),
			mkLatAtom(localVar, lat, v("a"), v("c1")),
			mkLatAtom(localVar, lat, v("b"), v("c2"))),
	)

	model, err := Solve(Union(Union(lits, adds), rules), DefaultOptions())
	require.NoError(t, err)

	rows := Facts(localVar, model)
	require.Len(t, rows, 3)
	byName := make(map[string]Const)
	for _, row := range rows {
		byName[row[0].StrVal()] = row[1].ObjectVal().(Const)
	}
	assert.Equal(t, Const{Tag: 1, V: 51}, byName["r"])
	assert.Equal(t, Const{Tag: 1, V: 39}, byName["a"])
	assert.Equal(t, Const{Tag: 1, V: 12}, byName["b"])
}

// Down is a dual-ordered integer: smaller values sit higher in the lattice,
// so the join keeps the minimum.
type Down struct {
	V int64
}

func (d Down) String() string { return fmt.Sprintf("Down(%d)", d.V) }

func downLattice() fixpoint.Lattice {
	const inf = int64(1) << 40
	d := func(b fixpoint.Boxed) Down { return b.ObjectVal().(Down) }
	return fixpoint.Lattice{
		Bot: fixpoint.Object(Down{V: inf}),
		Leq: func(a, b fixpoint.Boxed) bool { return d(a).V >= d(b).V },
		Lub: func(a, b fixpoint.Boxed) fixpoint.Boxed {
			if d(a).V <= d(b).V {
				return a
			}
			return b
		},
		Glb: func(a, b fixpoint.Boxed) fixpoint.Boxed {
			if d(a).V >= d(b).V {
				return a
			}
			return b
		},
	}
}

func TestShortestPathDualLattice(t *testing.T) {
	edge := NewPredSym("Edge")
	dist := NewPredSym("Dist")
	lat := downLattice()

	edges, err := InjectInto(edge, intRows([2]int64{1, 2}, [2]int64{2, 3}, [2]int64{3, 4}))
	require.NoError(t, err)
	seeds, err := InjectIntoLattice(dist, lat, [][]fixpoint.Boxed{
		{fixpoint.Int64(1), fixpoint.Object(Down{V: 0})},
	})
	require.NoError(t, err)

	inc := func(args []fixpoint.Boxed) fixpoint.Boxed {
		return fixpoint.Object(Down{V: args[0].ObjectVal().(Down).V + 1})
	}
	rules := NewProgram(
		mkLatRule(dist, lat, []ast.HeadTerm{hv("y"), ast.HeadApp{Fn: inc, Args: []string{"d"}}},
			mkAtom(edge, v("x"), v("y")),
			mkLatAtom(dist, lat, v("x"), v("d"))),
	)

	model, err := Solve(Union(Union(edges, seeds), rules), DefaultOptions())
	require.NoError(t, err)

	rows := Facts(dist, model)
	byNode := make(map[int64]Down)
	for _, row := range rows {
		byNode[row[0].IntVal()] = row[1].ObjectVal().(Down)
	}
	assert.Equal(t, Down{V: 3}, byNode[4])
	assert.Equal(t, Down{V: 0}, byNode[1])
}

// ---- invariants ---------------------------------------------------------

func TestInjectRoundTrip(t *testing.T) {
	p := NewPredSym("Nums")
	rows := intRows([2]int64{3, 4}, [2]int64{1, 2}, [2]int64{3, 4}, [2]int64{5, 6})
	d, err := InjectInto(p, rows)
	require.NoError(t, err)

	model, err := Solve(d, DefaultOptions())
	require.NoError(t, err)

	got := Facts(p, model)
	require.Len(t, got, 3) // duplicates collapse
	assert.Equal(t, int64(1), got[0][0].IntVal())
	assert.Equal(t, int64(3), got[1][0].IntVal())
	assert.Equal(t, int64(5), got[2][0].IntVal())
}

func TestProjection(t *testing.T) {
	p := NewPredSym("P")
	q := NewPredSym("Q")
	dp, err := InjectInto(p, intRows([2]int64{1, 1}))
	require.NoError(t, err)
	dq, err := InjectInto(q, intRows([2]int64{2, 2}))
	require.NoError(t, err)
	d := Union(dp, dq)

	proj := ProjectSym(p, d)
	model, err := Solve(proj, DefaultOptions())
	require.NoError(t, err)

	assert.Len(t, Facts(p, model), 1)
	assert.Empty(t, Facts(q, model))

	full, err := Solve(d, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, Facts(p, full), Facts(p, model))
}

func TestUnionCommutativity(t *testing.T) {
	edge := NewPredSym("Edge")
	path := NewPredSym("Path")
	facts, err := InjectInto(edge, intRows([2]int64{1, 2}, [2]int64{2, 3}))
	require.NoError(t, err)
	rules := NewProgram(
		mkRule(path, []ast.HeadTerm{hv("x"), hv("y")}, mkAtom(edge, v("x"), v("y"))),
		mkRule(path, []ast.HeadTerm{hv("x"), hv("z")},
			mkAtom(path, v("x"), v("y")), mkAtom(edge, v("y"), v("z"))),
	)

	m1, err := Solve(Union(facts, rules), DefaultOptions())
	require.NoError(t, err)
	m2, err := Solve(Union(rules, facts), DefaultOptions())
	require.NoError(t, err)

	assert.True(t, m1.Equal(m2))
	if !cmp.Equal(Facts(path, m1), Facts(path, m2), cmp.Comparer(fixpoint.Equal)) {
		t.Errorf("path relations differ: %s", cmp.Diff(Facts(path, m1), Facts(path, m2), cmp.Comparer(fixpoint.Equal)))
	}
}

func TestLatticeIdempotence(t *testing.T) {
	edge := NewPredSym("Edge")
	dist := NewPredSym("Dist")
	lat := downLattice()

	edges, err := InjectInto(edge, intRows([2]int64{1, 2}, [2]int64{2, 3}))
	require.NoError(t, err)
	seeds, err := InjectIntoLattice(dist, lat, [][]fixpoint.Boxed{
		{fixpoint.Int64(1), fixpoint.Object(Down{V: 0})},
	})
	require.NoError(t, err)
	inc := func(args []fixpoint.Boxed) fixpoint.Boxed {
		return fixpoint.Object(Down{V: args[0].ObjectVal().(Down).V + 1})
	}
	prog := Union(Union(edges, seeds), NewProgram(
		mkLatRule(dist, lat, []ast.HeadTerm{hv("y"), ast.HeadApp{Fn: inc, Args: []string{"d"}}},
			mkAtom(edge, v("x"), v("y")),
			mkLatAtom(dist, lat, v("x"), v("d"))),
	))

	m1, err := Solve(prog, DefaultOptions())
	require.NoError(t, err)
	m2, err := Solve(Union(prog, m1), DefaultOptions())
	require.NoError(t, err)
	assert.True(t, m1.Equal(m2))
}

func TestRenameAvoidsCapture(t *testing.T) {
	edge := NewPredSym("Edge")
	reach := NewPredSym("Reach")
	facts, err := InjectInto(edge, intRows([2]int64{1, 2}))
	require.NoError(t, err)
	rules := NewProgram(
		mkRule(reach, []ast.HeadTerm{hv("x"), hv("y")}, mkAtom(edge, v("x"), v("y"))),
	)
	d := Union(facts, rules)

	// Rename everything except Reach, then union with the original: the two
	// Edge relations stay separate.
	renamed := Rename([]fixpoint.PredSym{reach}, d)
	model, err := Solve(Union(d, renamed), DefaultOptions())
	require.NoError(t, err)
	assert.Len(t, Facts(edge, model), 1)
	assert.Len(t, Facts(reach, model), 1)
}

func TestGuardsFilterBindings(t *testing.T) {
	num := NewPredSym("Num")
	small := NewPredSym("Small")
	facts, err := InjectInto(num, [][]fixpoint.Boxed{
		{fixpoint.Int64(1)}, {fixpoint.Int64(2)}, {fixpoint.Int64(7)},
	})
	require.NoError(t, err)
	rules := NewProgram(
		mkRule(small, []ast.HeadTerm{hv("x")},
			mkAtom(num, v("x")),
			ast.Guard{Fn: func(args []fixpoint.Boxed) bool { return args[0].IntVal() < 3 }, Args: []string{"x"}}),
	)
	model, err := Solve(Union(facts, rules), DefaultOptions())
	require.NoError(t, err)
	assert.Len(t, Facts(small, model), 2)
}

func TestFunctionalBindsRows(t *testing.T) {
	num := NewPredSym("Num")
	split := NewPredSym("Split")
	facts, err := InjectInto(num, [][]fixpoint.Boxed{{fixpoint.Int64(4)}})
	require.NoError(t, err)

	halves := func(args []fixpoint.Boxed) [][]fixpoint.Boxed {
		n := args[0].IntVal()
		return [][]fixpoint.Boxed{
			{fixpoint.Int64(n / 2)},
			{fixpoint.Int64(n - n/2)},
		}
	}
	rules := NewProgram(
		mkRule(split, []ast.HeadTerm{hv("x"), hv("h")},
			mkAtom(num, v("x")),
			ast.Functional{OutVars: []string{"h"}, Fn: halves, InVars: []string{"x"}}),
	)
	model, err := Solve(Union(facts, rules), DefaultOptions())
	require.NoError(t, err)
	rows := Facts(split, model)
	require.Len(t, rows, 1) // both halves of 4 coincide
	assert.Equal(t, int64(2), rows[0][1].IntVal())
}

func TestJoinOptimizerMatchesUnoptimized(t *testing.T) {
	edge := NewPredSym("Edge")
	path := NewPredSym("Path")

	const n = 150
	rows := make([][]fixpoint.Boxed, 0, n)
	for i := int64(0); i < n; i++ {
		rows = append(rows, []fixpoint.Boxed{fixpoint.Int64(i), fixpoint.Int64(i + 1)})
	}
	facts, err := InjectInto(edge, rows)
	require.NoError(t, err)
	rules := NewProgram(
		mkRule(path, []ast.HeadTerm{hv("x"), hv("y")}, mkAtom(edge, v("x"), v("y"))),
		mkRule(path, []ast.HeadTerm{hv("x"), hv("z")},
			mkAtom(path, v("x"), v("y")), mkAtom(edge, v("y"), v("z"))),
	)
	d := Union(facts, rules)

	optimized, err := Solve(d, DefaultOptions())
	require.NoError(t, err)

	opts := DefaultOptions()
	opts.DisableJoinOptimizer = true
	plain, err := Solve(d, opts)
	require.NoError(t, err)

	assert.Equal(t, n*(n+1)/2, len(Facts(path, plain)))
	assert.True(t, optimized.Equal(plain))
}

// ---- model minimality against a naive reference evaluator ---------------

// naiveSolve evaluates a positive relational program by brute force.
func naiveSolve(prog ast.Program) map[int64]map[string][]fixpoint.Boxed {
	rels := make(map[int64]map[string][]fixpoint.Boxed)
	add := func(sym fixpoint.PredSym, vals []fixpoint.Boxed) bool {
		if rels[sym.Id] == nil {
			rels[sym.Id] = make(map[string][]fixpoint.Boxed)
		}
		key := fmt.Sprint(vals)
		if _, ok := rels[sym.Id][key]; ok {
			return false
		}
		rels[sym.Id][key] = vals
		return true
	}
	for _, c := range prog.Constraints {
		if !c.IsFact() {
			continue
		}
		vals := make([]fixpoint.Boxed, len(c.Head.Terms))
		for i, t := range c.Head.Terms {
			vals[i] = t.(ast.HeadLit).Value
		}
		add(c.Head.Sym, vals)
	}

	var matchBody func(body []ast.BodyStmt, i int, subst map[string]fixpoint.Boxed, fire func(map[string]fixpoint.Boxed) bool) bool
	matchBody = func(body []ast.BodyStmt, i int, subst map[string]fixpoint.Boxed, fire func(map[string]fixpoint.Boxed) bool) bool {
		if i == len(body) {
			return fire(subst)
		}
		atom := body[i].(ast.Atom)
		changed := false
		for _, vals := range rels[atom.Sym.Id] {
			next := make(map[string]fixpoint.Boxed, len(subst))
			for k, vv := range subst {
				next[k] = vv
			}
			ok := true
			for c, term := range atom.Terms {
				switch tt := term.(type) {
				case ast.Var:
					if prev, bound := next[tt.Name]; bound {
						if !fixpoint.Equal(prev, vals[c]) {
							ok = false
						}
					} else {
						next[tt.Name] = vals[c]
					}
				case ast.Lit:
					if !fixpoint.Equal(tt.Value, vals[c]) {
						ok = false
					}
				}
				if !ok {
					break
				}
			}
			if ok && matchBody(body, i+1, next, fire) {
				changed = true
			}
		}
		return changed
	}

	for {
		progress := false
		for _, c := range prog.Constraints {
			if c.IsFact() {
				continue
			}
			c := c
			matchBody(c.Body, 0, map[string]fixpoint.Boxed{}, func(subst map[string]fixpoint.Boxed) bool {
				vals := make([]fixpoint.Boxed, len(c.Head.Terms))
				for i, t := range c.Head.Terms {
					switch tt := t.(type) {
					case ast.HeadVar:
						vals[i] = subst[tt.Name]
					case ast.HeadLit:
						vals[i] = tt.Value
					}
				}
				if add(c.Head.Sym, vals) {
					progress = true
				}
				return true
			})
		}
		if !progress {
			return rels
		}
	}
}

func TestModelMinimalityAgainstNaive(t *testing.T) {
	edge := NewPredSym("Edge")
	path := NewPredSym("Path")
	same := NewPredSym("SameComponent")

	facts, err := InjectInto(edge, intRows(
		[2]int64{1, 2}, [2]int64{2, 3}, [2]int64{3, 1}, [2]int64{4, 5},
	))
	require.NoError(t, err)
	rules := NewProgram(
		mkRule(path, []ast.HeadTerm{hv("x"), hv("y")}, mkAtom(edge, v("x"), v("y"))),
		mkRule(path, []ast.HeadTerm{hv("x"), hv("z")},
			mkAtom(path, v("x"), v("y")), mkAtom(edge, v("y"), v("z"))),
		mkRule(same, []ast.HeadTerm{hv("x"), hv("y")},
			mkAtom(path, v("x"), v("y")), mkAtom(path, v("y"), v("x"))),
	)
	d := Union(facts, rules)

	model, err := Solve(d, DefaultOptions())
	require.NoError(t, err)

	prog, _ := split(d)
	want := naiveSolve(prog)

	for _, p := range []fixpoint.PredSym{edge, path, same} {
		got := Facts(p, model)
		assert.Len(t, got, len(want[p.Id]), "relation %s", p.Name)
		for _, row := range got {
			_, ok := want[p.Id][fmt.Sprint(row)]
			assert.True(t, ok, "%s%v not derivable naively", p.Name, row)
		}
	}
}
