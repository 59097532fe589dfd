// Package ast is the Datalog surface tree the compiler consumes: facts and
// Horn-clause rules with guards, functionals, negation and lattice heads.
// The parser and the host-language embedding both produce this tree.
package ast

import (
	"fmt"
	"strings"

	"github.com/wbrown/janus-fixpoint/fixpoint"
)

// Polarity marks a body atom as positive or negated.
type Polarity int

const (
	Positive Polarity = iota
	Negative
)

// Fixity marks whether an atom may drive the semi-naive delta. Fixed atoms
// always read the Full relation and never get a Delta copy of the rule.
type Fixity int

const (
	Loose Fixity = iota
	Fixed
)

// MaxGuardArity bounds guard and head application arity.
const MaxGuardArity = 5

// Term is a body atom argument.
type Term interface {
	isTerm()
	String() string
}

// Var is a named variable occurrence.
type Var struct{ Name string }

// Lit is a literal value occurrence.
type Lit struct{ Value fixpoint.Boxed }

// Wild matches anything and binds nothing.
type Wild struct{}

func (Var) isTerm()  {}
func (Lit) isTerm()  {}
func (Wild) isTerm() {}

func (v Var) String() string  { return v.Name }
func (l Lit) String() string  { return l.Value.String() }
func (Wild) String() string   { return "_" }

// HeadTerm is a rule head argument: a variable, a literal, or a pure
// function applied to up to MaxGuardArity bound variables.
type HeadTerm interface {
	isHeadTerm()
	String() string
}

// HeadVar reads a body-bound variable.
type HeadVar struct{ Name string }

// HeadLit writes a constant.
type HeadLit struct{ Value fixpoint.Boxed }

// HeadApp applies Fn to the values of Args. Arity 0 through MaxGuardArity.
type HeadApp struct {
	Fn   func(args []fixpoint.Boxed) fixpoint.Boxed
	Args []string
}

func (HeadVar) isHeadTerm() {}
func (HeadLit) isHeadTerm() {}
func (HeadApp) isHeadTerm() {}

func (v HeadVar) String() string { return v.Name }
func (l HeadLit) String() string { return l.Value.String() }
func (a HeadApp) String() string { return fmt.Sprintf("<app>(%s)", strings.Join(a.Args, ", ")) }

// BodyStmt is one body element: an atom, a guard, or a functional.
type BodyStmt interface {
	isBodyStmt()
	String() string
}

// Atom is a predicate occurrence in a rule body.
type Atom struct {
	Sym      fixpoint.PredSym
	Den      fixpoint.Denotation
	Polarity Polarity
	Fixity   Fixity
	Terms    []Term
}

// Guard filters bindings with a pure predicate over up to MaxGuardArity
// variables. A zero-arity guard is a compile-time constant.
type Guard struct {
	Fn   func(args []fixpoint.Boxed) bool
	Args []string
}

// Functional binds OutVars to each output row of Fn applied to InVars.
type Functional struct {
	OutVars []string
	Fn      func(args []fixpoint.Boxed) [][]fixpoint.Boxed
	InVars  []string
}

func (Atom) isBodyStmt()       {}
func (Guard) isBodyStmt()      {}
func (Functional) isBodyStmt() {}

func (a Atom) String() string {
	var sb strings.Builder
	if a.Polarity == Negative {
		sb.WriteString("not ")
	}
	sb.WriteString(a.Sym.Name)
	sb.WriteString("(")
	for i, t := range a.Terms {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(t.String())
	}
	sb.WriteString(")")
	if a.Fixity == Fixed {
		sb.WriteString(" fix")
	}
	return sb.String()
}

func (g Guard) String() string {
	return fmt.Sprintf("if <guard>(%s)", strings.Join(g.Args, ", "))
}

func (f Functional) String() string {
	return fmt.Sprintf("let (%s) = <fn>(%s)",
		strings.Join(f.OutVars, ", "), strings.Join(f.InVars, ", "))
}

// HeadAtom is the head of a constraint.
type HeadAtom struct {
	Sym   fixpoint.PredSym
	Den   fixpoint.Denotation
	Terms []HeadTerm
}

func (h HeadAtom) String() string {
	var sb strings.Builder
	sb.WriteString(h.Sym.Name)
	sb.WriteString("(")
	for i, t := range h.Terms {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(t.String())
	}
	sb.WriteString(")")
	return sb.String()
}

// Constraint is a fact (empty body, literal head) or a rule.
type Constraint struct {
	Head HeadAtom
	Body []BodyStmt
}

// IsFact reports whether the constraint has no body. Fact heads must be all
// literals; a variable in a fact head is a schema bug caught at solve time.
func (c Constraint) IsFact() bool { return len(c.Body) == 0 }

func (c Constraint) String() string {
	if c.IsFact() {
		return c.Head.String() + "."
	}
	parts := make([]string, len(c.Body))
	for i, b := range c.Body {
		parts[i] = b.String()
	}
	return c.Head.String() + " :- " + strings.Join(parts, ", ") + "."
}

// Program is a set of constraints: the facts and rules of one Datalog input.
type Program struct {
	Constraints []Constraint
}

// Facts returns the constraints with empty bodies.
func (p Program) Facts() []Constraint {
	var out []Constraint
	for _, c := range p.Constraints {
		if c.IsFact() {
			out = append(out, c)
		}
	}
	return out
}

// Rules returns the constraints with non-empty bodies.
func (p Program) Rules() []Constraint {
	var out []Constraint
	for _, c := range p.Constraints {
		if !c.IsFact() {
			out = append(out, c)
		}
	}
	return out
}

// Append returns a program holding both inputs' constraints.
func Append(a, b Program) Program {
	out := Program{Constraints: make([]Constraint, 0, len(a.Constraints)+len(b.Constraints))}
	out.Constraints = append(out.Constraints, a.Constraints...)
	out.Constraints = append(out.Constraints, b.Constraints...)
	return out
}

func (p Program) String() string {
	var sb strings.Builder
	for _, c := range p.Constraints {
		sb.WriteString(c.String())
		sb.WriteString("\n")
	}
	return sb.String()
}
