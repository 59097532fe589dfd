package solver

import (
	"github.com/pkg/errors"

	"github.com/wbrown/janus-fixpoint/fixpoint"
	"github.com/wbrown/janus-fixpoint/fixpoint/ast"
)

// InjectInto ingests rows as relational facts of p. Every row must share the
// arity of the first.
func InjectInto(p fixpoint.PredSym, rows [][]fixpoint.Boxed) (Program, error) {
	var out ast.Program
	arity := -1
	for _, row := range rows {
		if arity == -1 {
			arity = len(row)
		} else if len(row) != arity {
			return Program{}, errors.Errorf("inject into %s: row arity %d, want %d", p.Name, len(row), arity)
		}
		terms := make([]ast.HeadTerm, len(row))
		for i, v := range row {
			terms[i] = ast.HeadLit{Value: v}
		}
		out.Constraints = append(out.Constraints, ast.Constraint{
			Head: ast.HeadAtom{Sym: p, Den: fixpoint.Relational, Terms: terms},
		})
	}
	return Program{Prog: out}, nil
}

// InjectIntoLattice ingests rows whose last column is the lattice element.
func InjectIntoLattice(p fixpoint.PredSym, lat fixpoint.Lattice, rows [][]fixpoint.Boxed) (Program, error) {
	var out ast.Program
	arity := -1
	den := fixpoint.Latticenal(lat)
	for _, row := range rows {
		if len(row) == 0 {
			return Program{}, errors.Errorf("inject into %s: lattice rows need at least the element column", p.Name)
		}
		if arity == -1 {
			arity = len(row)
		} else if len(row) != arity {
			return Program{}, errors.Errorf("inject into %s: row arity %d, want %d", p.Name, len(row), arity)
		}
		terms := make([]ast.HeadTerm, len(row))
		for i, v := range row {
			terms[i] = ast.HeadLit{Value: v}
		}
		out.Constraints = append(out.Constraints, ast.Constraint{
			Head: ast.HeadAtom{Sym: p, Den: den, Terms: terms},
		})
	}
	return Program{Prog: out}, nil
}

// Facts extracts the solved rows of p as plain value vectors, sorted.
// Lattice relations carry the element as the trailing column.
func Facts(p fixpoint.PredSym, m *Model) [][]fixpoint.Boxed {
	rows := m.RowsOf(p)
	out := make([][]fixpoint.Boxed, 0, len(rows))
	mr := m.Rels[p.Id]
	for _, r := range rows {
		vals := append([]fixpoint.Boxed(nil), r.Vals...)
		if mr != nil && mr.Rel.Den.IsLattice() {
			vals = append(vals, r.Lat)
		}
		out = append(out, vals)
	}
	return out
}
