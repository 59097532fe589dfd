package solver

import (
	"sync/atomic"

	"github.com/wbrown/janus-fixpoint/fixpoint"
	"github.com/wbrown/janus-fixpoint/fixpoint/ast"
)

// Datalog is an evaluation input: a program, an already-solved model used as
// seed facts, or a join of both.
type Datalog interface {
	isDatalog()
}

// Program wraps a set of constraints as a Datalog input.
type Program struct {
	Prog ast.Program
}

// Join evaluates a program against a model's facts as extra EDB.
type Join struct {
	Seed *Model
	Prog ast.Program
}

func (Program) isDatalog() {}
func (Join) isDatalog()    {}

// NewProgram builds a Datalog input from constraints.
func NewProgram(cs ...ast.Constraint) Program {
	return Program{Prog: ast.Program{Constraints: cs}}
}

var predIds int64

// NewPredSym allocates a predicate symbol with a fresh globally unique id.
func NewPredSym(name string) fixpoint.PredSym {
	return fixpoint.PredSym{Name: name, Id: atomic.AddInt64(&predIds, 1) - 1}
}

// split decomposes any Datalog into its program and seed model parts.
func split(d Datalog) (ast.Program, *Model) {
	switch v := d.(type) {
	case Program:
		return v.Prog, nil
	case *Model:
		return ast.Program{}, v
	case Join:
		return v.Prog, v.Seed
	default:
		panic("solver: unknown Datalog variant")
	}
}

// Union combines two Datalog inputs: programs append, models merge with the
// lattice join per relation, and a program paired with a model becomes a
// Join that compiles with the model as seed facts.
func Union(a, b Datalog) Datalog {
	pa, ma := split(a)
	pb, mb := split(b)
	prog := ast.Append(pa, pb)
	var model *Model
	switch {
	case ma != nil && mb != nil:
		model = ma.Union(mb)
	case ma != nil:
		model = ma
	case mb != nil:
		model = mb
	}
	if model == nil {
		return Program{Prog: prog}
	}
	if len(prog.Constraints) == 0 {
		return model
	}
	return Join{Seed: model, Prog: prog}
}

// ProjectSym extracts the facts whose head predicate is p.
func ProjectSym(p fixpoint.PredSym, d Datalog) Datalog {
	prog, model := split(d)
	var out ast.Program
	for _, c := range prog.Constraints {
		if c.IsFact() && c.Head.Sym.Id == p.Id {
			out.Constraints = append(out.Constraints, c)
		}
	}
	if model != nil {
		model = model.Project(p)
		if len(out.Constraints) == 0 {
			return model
		}
		return Join{Seed: model, Prog: out}
	}
	return Program{Prog: out}
}

// Rename gives every predicate outside the keep list a fresh id, so unioning
// the result with another input cannot capture its internal relations.
func Rename(keep []fixpoint.PredSym, d Datalog) Datalog {
	kept := make(map[int64]bool, len(keep))
	for _, p := range keep {
		kept[p.Id] = true
	}
	fresh := make(map[int64]fixpoint.PredSym)
	renameSym := func(p fixpoint.PredSym) fixpoint.PredSym {
		if kept[p.Id] {
			return p
		}
		if np, ok := fresh[p.Id]; ok {
			return np
		}
		np := NewPredSym(p.Name)
		fresh[p.Id] = np
		return np
	}

	prog, model := split(d)
	var out ast.Program
	for _, c := range prog.Constraints {
		nc := c
		nc.Head.Sym = renameSym(c.Head.Sym)
		nc.Body = make([]ast.BodyStmt, len(c.Body))
		for i, b := range c.Body {
			if atom, ok := b.(ast.Atom); ok {
				atom.Sym = renameSym(atom.Sym)
				nc.Body[i] = atom
			} else {
				nc.Body[i] = b
			}
		}
		out.Constraints = append(out.Constraints, nc)
	}

	var nm *Model
	if model != nil {
		nm = NewModel()
		for _, mr := range model.Rels {
			rel := mr.Rel
			rel.Sym = renameSym(rel.Sym)
			for _, row := range mr.Rows {
				nm.Add(rel, row)
			}
		}
	}
	if nm != nil {
		if len(out.Constraints) == 0 {
			return nm
		}
		return Join{Seed: nm, Prog: out}
	}
	return Program{Prog: out}
}
