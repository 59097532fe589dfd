package fixpoint

import (
	"fmt"
)

// PredSym names a predicate: a human-readable name plus a globally unique id.
// The id, not the name, identifies the predicate everywhere past the surface
// AST; Rename allocates fresh ids without touching names.
type PredSym struct {
	Name string
	Id   int64
}

// String returns "name#id"
func (p PredSym) String() string {
	return fmt.Sprintf("%s#%d", p.Name, p.Id)
}

// Lattice packages the operations of a bounded semi-lattice over Boxed
// elements: bottom, the partial order, join and meet.
type Lattice struct {
	Bot Boxed
	Leq func(a, b Boxed) bool
	Lub func(a, b Boxed) Boxed
	Glb func(a, b Boxed) Boxed
}

// Denotation selects set semantics or lattice semantics for a relation.
type Denotation struct {
	// Lat is nil for relational denotations.
	Lat *Lattice
}

// Relational is the set-semantics denotation.
var Relational = Denotation{}

// Latticenal wraps a lattice into a denotation.
func Latticenal(lat Lattice) Denotation {
	l := lat
	return Denotation{Lat: &l}
}

// IsLattice reports whether the denotation carries lattice semantics.
func (d Denotation) IsLattice() bool { return d.Lat != nil }

// String returns "Relational" or "Latticenal"
func (d Denotation) String() string {
	if d.IsLattice() {
		return "Latticenal"
	}
	return "Relational"
}

// RelSym is a predicate symbol together with its arity and denotation. For
// lattice relations the arity counts the key columns only; the lattice
// element rides as the index payload.
type RelSym struct {
	Sym   PredSym
	Arity int
	Den   Denotation
}

// String returns "name#id/arity"
func (r RelSym) String() string {
	return fmt.Sprintf("%s/%d", r.Sym, r.Arity)
}

// RowVar addresses one occurrence of an atom in a rule body; during a join it
// names the tuple currently bound for that occurrence.
type RowVar struct {
	Name string
	Id   int
}

// String returns "$name%id"
func (rv RowVar) String() string {
	return fmt.Sprintf("$%s%%%d", rv.Name, rv.Id)
}

// Tuple is a fixed-arity vector of boxed-value codes. Relational tuples have
// the declared arity; provenance augmentation appends depth and rule number.
type Tuple []int64

// CloneTuple copies a tuple
func CloneTuple(t Tuple) Tuple {
	out := make(Tuple, len(t))
	copy(out, t)
	return out
}

// String renders the tuple's raw codes
func (t Tuple) String() string {
	s := "("
	for i, v := range t {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%d", v)
	}
	return s + ")"
}
