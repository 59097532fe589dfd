// Package provenance rebuilds proof trees from a model solved with
// provenance columns: every derived fact carries its proof depth and the
// number of the rule that fired it, which is enough to replay one witness
// derivation per fact.
package provenance

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/wbrown/janus-fixpoint/fixpoint"
	"github.com/wbrown/janus-fixpoint/fixpoint/ast"
)

// Fact is one annotated tuple of the solved model.
type Fact struct {
	Vals  []fixpoint.Boxed
	Depth int64
	Rule  int64
}

// ProofTree is a witness derivation: an EDB leaf, a negative leaf asserting
// absence, or an IDB node with one subproof per body atom.
type ProofTree interface {
	isProofTree()
	Sym() fixpoint.PredSym
	Vals() []fixpoint.Boxed
}

// EdbLeaf is a given fact.
type EdbLeaf struct {
	PredSym fixpoint.PredSym
	Tuple   []fixpoint.Boxed
}

// NegLeaf asserts that a tuple is absent from the model.
type NegLeaf struct {
	PredSym fixpoint.PredSym
	Tuple   []fixpoint.Boxed
}

// Node is a derived fact with the rule that fired and its subproofs.
type Node struct {
	PredSym fixpoint.PredSym
	Tuple   []fixpoint.Boxed
	Rule    int
	Subs    []ProofTree
}

func (EdbLeaf) isProofTree() {}
func (NegLeaf) isProofTree() {}
func (Node) isProofTree()    {}

func (l EdbLeaf) Sym() fixpoint.PredSym  { return l.PredSym }
func (l EdbLeaf) Vals() []fixpoint.Boxed { return l.Tuple }
func (l NegLeaf) Sym() fixpoint.PredSym  { return l.PredSym }
func (l NegLeaf) Vals() []fixpoint.Boxed { return l.Tuple }
func (n Node) Sym() fixpoint.PredSym     { return n.PredSym }
func (n Node) Vals() []fixpoint.Boxed    { return n.Tuple }

// Goal is one (predicate, tuple) entry of a flattened proof.
type Goal struct {
	Sym  fixpoint.PredSym
	Vals []fixpoint.Boxed
}

// Flatten walks a proof tree pre-order.
func Flatten(t ProofTree) []Goal {
	var out []Goal
	var walk func(ProofTree)
	walk = func(t ProofTree) {
		out = append(out, Goal{Sym: t.Sym(), Vals: t.Vals()})
		if n, ok := t.(Node); ok {
			for _, s := range n.Subs {
				walk(s)
			}
		}
	}
	walk(t)
	return out
}

// Reconstructor answers proof queries against one solved model. Lookup
// indexes per (predicate, bound column set) are built lazily on first use
// and shared across queries.
type Reconstructor struct {
	facts map[int64][]Fact
	rels  map[int64]fixpoint.RelSym
	rules []ast.Constraint

	mu      sync.Mutex
	indexes map[indexKey]map[string][]int
}

type indexKey struct {
	sym  int64
	mask uint64
}

// NewReconstructor builds a reconstructor over the annotated facts, the
// schema and the numbered rule list of the solved program.
func NewReconstructor(facts map[int64][]Fact, rels map[int64]fixpoint.RelSym, rules []ast.Constraint) *Reconstructor {
	return &Reconstructor{
		facts:   facts,
		rels:    rels,
		rules:   rules,
		indexes: make(map[indexKey]map[string][]int),
	}
}

func valKey(vals []fixpoint.Boxed, cols []int) string {
	buf := make([]byte, 0, len(cols)*12)
	var n [8]byte
	for _, c := range cols {
		s := vals[c].String()
		binary.LittleEndian.PutUint64(n[:], uint64(len(s)))
		buf = append(buf, n[:]...)
		buf = append(buf, s...)
	}
	return string(buf)
}

// lookup returns the indexes of facts of sym whose columns in cols match the
// given values.
func (r *Reconstructor) lookup(sym int64, cols []int, vals []fixpoint.Boxed) []int {
	var mask uint64
	for _, c := range cols {
		mask |= 1 << uint(c)
	}
	key := indexKey{sym: sym, mask: mask}

	r.mu.Lock()
	idx, ok := r.indexes[key]
	if !ok {
		idx = make(map[string][]int)
		for i, f := range r.facts[sym] {
			idx[valKey(f.Vals, cols)] = append(idx[valKey(f.Vals, cols)], i)
		}
		r.indexes[key] = idx
	}
	r.mu.Unlock()
	return idx[valKey(vals, cols)]
}

// Prove reconstructs one witness derivation of the goal tuple.
func (r *Reconstructor) Prove(sym fixpoint.PredSym, vals []fixpoint.Boxed) (ProofTree, error) {
	rel, ok := r.rels[sym.Id]
	if !ok {
		return nil, errors.Errorf("unknown predicate %s", sym)
	}
	all := make([]int, rel.Arity)
	for i := range all {
		all[i] = i
	}
	hits := r.lookup(sym.Id, all, vals)
	if len(hits) == 0 {
		return nil, errors.Errorf("%s%v is not in the model", sym.Name, vals)
	}
	f := r.facts[sym.Id][hits[0]]
	return r.prove(sym, f)
}

func (r *Reconstructor) prove(sym fixpoint.PredSym, f Fact) (ProofTree, error) {
	if f.Rule < 0 {
		return EdbLeaf{PredSym: sym, Tuple: f.Vals}, nil
	}
	if int(f.Rule) >= len(r.rules) {
		panic(fmt.Sprintf("provenance: rule number %d out of range", f.Rule))
	}
	rule := r.rules[f.Rule]

	// Bind the head substitution against the goal values.
	subst := make(map[string]fixpoint.Boxed)
	for i, t := range rule.Head.Terms {
		switch ht := t.(type) {
		case ast.HeadVar:
			subst[ht.Name] = f.Vals[i]
		case ast.HeadLit:
			if !fixpoint.Equal(ht.Value, f.Vals[i]) {
				return nil, errors.Errorf("rule %d head does not cover %s%v", f.Rule, sym.Name, f.Vals)
			}
		case ast.HeadApp:
			// An application's inputs cannot be recovered from its output
			// column; such rules are rejected before a provenance solve runs.
			return nil, errors.Errorf("rule %d has a head application; its witnesses cannot be replayed", f.Rule)
		}
	}

	subs, ok := r.solveBody(rule.Body, 0, subst, f.Depth)
	if !ok {
		return nil, errors.Errorf("no witness derivation for %s%v via rule %d", sym.Name, f.Vals, f.Rule)
	}
	return Node{PredSym: sym, Tuple: f.Vals, Rule: int(f.Rule), Subs: subs}, nil
}

// solveBody matches body statements left to right with backtracking. Every
// positive atom must be witnessed by a fact of strictly smaller depth.
func (r *Reconstructor) solveBody(body []ast.BodyStmt, i int, subst map[string]fixpoint.Boxed, depth int64) ([]ProofTree, bool) {
	if i == len(body) {
		return nil, true
	}
	switch stmt := body[i].(type) {
	case ast.Atom:
		rel := r.rels[stmt.Sym.Id]
		keyArity := rel.Arity
		if stmt.Polarity == ast.Negative {
			vals := make([]fixpoint.Boxed, keyArity)
			for c := 0; c < keyArity; c++ {
				v, ok := termValue(stmt.Terms[c], subst)
				if !ok {
					return nil, false
				}
				vals[c] = v
			}
			all := make([]int, keyArity)
			for k := range all {
				all[k] = k
			}
			if len(r.lookup(stmt.Sym.Id, all, vals)) > 0 {
				return nil, false
			}
			rest, ok := r.solveBody(body, i+1, subst, depth)
			if !ok {
				return nil, false
			}
			return append([]ProofTree{NegLeaf{PredSym: stmt.Sym, Tuple: vals}}, rest...), true
		}

		// Columns already bound select the lazy index.
		var cols []int
		var bound []fixpoint.Boxed
		for c := 0; c < keyArity; c++ {
			if v, ok := termValue(stmt.Terms[c], subst); ok {
				cols = append(cols, c)
				bound = append(bound, v)
			}
		}
		for _, fi := range r.lookup(stmt.Sym.Id, cols, padSelection(bound, cols, keyArity)) {
			f := r.facts[stmt.Sym.Id][fi]
			if f.Depth >= depth {
				continue
			}
			// Extend the substitution with the newly bound variables.
			next := make(map[string]fixpoint.Boxed, len(subst))
			for k, v := range subst {
				next[k] = v
			}
			if !bindAtom(stmt, f.Vals, keyArity, next) {
				continue
			}
			sub, err := r.prove(stmt.Sym, f)
			if err != nil {
				continue
			}
			rest, ok := r.solveBody(body, i+1, next, depth)
			if !ok {
				continue
			}
			return append([]ProofTree{sub}, rest...), true
		}
		return nil, false

	case ast.Guard:
		if len(stmt.Args) > 0 {
			args := make([]fixpoint.Boxed, len(stmt.Args))
			for k, v := range stmt.Args {
				bv, ok := subst[v]
				if !ok {
					return nil, false
				}
				args[k] = bv
			}
			if !stmt.Fn(args) {
				return nil, false
			}
		} else if !stmt.Fn(nil) {
			return nil, false
		}
		return r.solveBody(body, i+1, subst, depth)

	default:
		// Functionals are rejected before a provenance solve ever runs.
		return nil, false
	}
}

// padSelection rebuilds a full-width value vector carrying only the bound
// columns; valKey reads just those columns.
func padSelection(sel []fixpoint.Boxed, cols []int, arity int) []fixpoint.Boxed {
	out := make([]fixpoint.Boxed, arity)
	for i, c := range cols {
		out[c] = sel[i]
	}
	return out
}

func termValue(t ast.Term, subst map[string]fixpoint.Boxed) (fixpoint.Boxed, bool) {
	switch tt := t.(type) {
	case ast.Lit:
		return tt.Value, true
	case ast.Var:
		v, ok := subst[tt.Name]
		return v, ok
	default:
		return fixpoint.NoValue, false
	}
}

// bindAtom checks literal columns and binds free variables of a matched
// atom. Returns false when the fact disagrees with the substitution.
func bindAtom(atom ast.Atom, vals []fixpoint.Boxed, keyArity int, subst map[string]fixpoint.Boxed) bool {
	for c := 0; c < keyArity; c++ {
		switch tt := atom.Terms[c].(type) {
		case ast.Lit:
			if !fixpoint.Equal(tt.Value, vals[c]) {
				return false
			}
		case ast.Var:
			if prev, ok := subst[tt.Name]; ok {
				if !fixpoint.Equal(prev, vals[c]) {
					return false
				}
			} else {
				subst[tt.Name] = vals[c]
			}
		case ast.Wild:
		}
	}
	return true
}
