// Package compiler lowers a Datalog program to RAM and optimizes the result.
//
// File organization:
//   - context.go: program analysis, schema collection, position unification
//   - stratifier.go: precedence graph, Tarjan SCCs, pseudo-strata
//   - codegen.go: semi-naive code generation per stratum
//   - simplify.go: tautology removal, guard ordering, dead-loop pruning
//   - hoist.go: guard pulling, Search+guards -> Query folding, rule pruning
//   - indexsel.go: minimum-chain-cover index selection
//   - profile.go: join-size instrumentation and profile data
//   - joinopt.go: Selinger dynamic-programming join reorder
//   - provenance.go: depth/rule-number augmentation
//
// Start with Analyze() then Compile() to follow the flow.
package compiler

import (
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/wbrown/janus-fixpoint/fixpoint"
	"github.com/wbrown/janus-fixpoint/fixpoint/ast"
	"github.com/wbrown/janus-fixpoint/fixpoint/store"
)

// Context carries everything the phases share for one compilation: the
// schema, the variant registry, the unified-position map, the stratification
// and the numbered rule list.
type Context struct {
	Rels      map[int64]fixpoint.RelSym
	Registry  *store.Registry
	Positions *store.PositionMap
	Strat     *Stratification
	Rules     []ast.Constraint
	Facts     []ast.Constraint

	// IdbIds is the set of predicate ids appearing in some rule head.
	IdbIds map[int64]bool

	// Orders is filled by index selection: physical key orders per logical
	// relation id.
	Orders map[int64][][]int

	siteCounter int64
	rowVarId    int32
}

// NextSite allocates a fresh identifier site for a literal or application.
func (c *Context) NextSite() int64 {
	return atomic.AddInt64(&c.siteCounter, 1)
}

func (c *Context) nextRowVar(name string) fixpoint.RowVar {
	return fixpoint.RowVar{Name: name, Id: int(atomic.AddInt32(&c.rowVarId, 1))}
}

// Analyze validates the program, collects the relation schema, and builds the
// registry and the stratification. It does not unify positions: that happens
// in UnifyPositions and during code generation.
func Analyze(p ast.Program) (*Context, error) {
	ctx := &Context{
		Rels:      make(map[int64]fixpoint.RelSym),
		Positions: store.NewPositionMap(),
		IdbIds:    make(map[int64]bool),
		Orders:    make(map[int64][][]int),
	}

	maxId := int64(0)
	note := func(sym fixpoint.PredSym, den fixpoint.Denotation, arity int) error {
		if sym.Id > maxId {
			maxId = sym.Id
		}
		if prev, ok := ctx.Rels[sym.Id]; ok {
			if prev.Arity != arity {
				return errors.Errorf("predicate %s used with arity %d and %d", sym.Name, prev.Arity, arity)
			}
			if prev.Den.IsLattice() != den.IsLattice() {
				return errors.Errorf("predicate %s used both relationally and as a lattice", sym.Name)
			}
			return nil
		}
		ctx.Rels[sym.Id] = fixpoint.RelSym{Sym: sym, Arity: arity, Den: den}
		return nil
	}

	for _, con := range p.Constraints {
		arity := headArity(con.Head)
		if err := note(con.Head.Sym, con.Head.Den, arity); err != nil {
			return nil, err
		}
		if con.IsFact() {
			for _, t := range con.Head.Terms {
				if _, ok := t.(ast.HeadLit); !ok {
					panic("compiler: fact head with non-literal term")
				}
			}
			ctx.Facts = append(ctx.Facts, con)
			continue
		}
		ctx.IdbIds[con.Head.Sym.Id] = true
		ctx.Rules = append(ctx.Rules, con)
		for _, b := range con.Body {
			atom, ok := b.(ast.Atom)
			if !ok {
				continue
			}
			if err := note(atom.Sym, atom.Den, atomKeyArity(atom)); err != nil {
				return nil, err
			}
		}
	}

	ctx.Registry = store.NewRegistry(maxId + 1)

	// Stratify over the full schema.
	ids := make([]int64, 0, len(ctx.Rels))
	for id := range ctx.Rels {
		ids = append(ids, id)
	}
	graph := NewPrecedenceGraph(ids, ctx.Rules)
	strat, err := graph.Stratify()
	if err != nil {
		return nil, err
	}
	ctx.Strat = strat

	return ctx, nil
}

// headArity counts the key columns of a head: lattice heads carry the
// element as an extra trailing term that is not a key column.
func headArity(h ast.HeadAtom) int {
	if h.Den.IsLattice() {
		return len(h.Terms) - 1
	}
	return len(h.Terms)
}

// atomKeyArity mirrors headArity for body atoms.
func atomKeyArity(a ast.Atom) int {
	if a.Den.IsLattice() {
		return len(a.Terms) - 1
	}
	return len(a.Terms)
}

// UnifyPositions registers the site (R, c) of every column of every relation
// so each one owns a position. The (rowVar, c) with (R, c) unions for each
// body-atom occurrence are made by rule compilation; variant relations share
// their logical relation's columns by construction (sites key on logical ids).
func (c *Context) UnifyPositions() {
	for id, rel := range c.Rels {
		for col := 0; col < rel.Arity; col++ {
			c.Positions.Touch(store.RelCol(id, col))
		}
	}
}

// FreezePositions closes the union-find and returns the position count.
func (c *Context) FreezePositions() int {
	return c.Positions.Freeze()
}

// StratumOf returns the (pseudoStratum, stratum) of a head predicate.
func (c *Context) StratumOf(id int64) [2]int {
	return c.Strat.Place[id]
}

// SameStratum reports whether two predicates share a stratum.
func (c *Context) SameStratum(a, b int64) bool {
	return c.Strat.Place[a] == c.Strat.Place[b]
}
