package store

import (
	"fmt"

	"github.com/wbrown/janus-fixpoint/fixpoint"
)

// Variant selects which evaluation role of a predicate an id refers to.
// Full holds everything derived so far, Delta what the previous iteration
// added, New what the current iteration is adding.
type Variant int

const (
	Full Variant = iota
	Delta
	New
)

// String returns the variant name
func (v Variant) String() string {
	switch v {
	case Full:
		return "Full"
	case Delta:
		return "Delta"
	case New:
		return "New"
	default:
		return fmt.Sprintf("Variant(%d)", int(v))
	}
}

// Registry derives Full/Delta/New predicate ids from logical ids. The three
// variants of a logical predicate with id i are i, i+maxIds and i+2*maxIds,
// so variant resolution is arithmetic, never a lookup.
type Registry struct {
	maxIds int64
}

// NewRegistry creates a registry for logical ids in [0, maxIds).
func NewRegistry(maxIds int64) *Registry {
	if maxIds <= 0 {
		maxIds = 1
	}
	return &Registry{maxIds: maxIds}
}

// MaxIds returns the logical id ceiling.
func (r *Registry) MaxIds() int64 { return r.maxIds }

// Sym returns the PredSym of a variant of a logical predicate. Names are
// decorated so RAM dumps stay readable.
func (r *Registry) Sym(p fixpoint.PredSym, v Variant) fixpoint.PredSym {
	if p.Id < 0 || p.Id >= r.maxIds {
		panic(fmt.Sprintf("store: predicate id %d outside registry ceiling %d", p.Id, r.maxIds))
	}
	switch v {
	case Full:
		return p
	case Delta:
		return fixpoint.PredSym{Name: "Δ" + p.Name, Id: p.Id + r.maxIds}
	case New:
		return fixpoint.PredSym{Name: p.Name + "'", Id: p.Id + 2*r.maxIds}
	default:
		panic(fmt.Sprintf("store: unknown variant %d", int(v)))
	}
}

// Rel returns the RelSym of a variant, sharing arity and denotation with the
// logical relation.
func (r *Registry) Rel(rel fixpoint.RelSym, v Variant) fixpoint.RelSym {
	return fixpoint.RelSym{Sym: r.Sym(rel.Sym, v), Arity: rel.Arity, Den: rel.Den}
}

// Logical maps any variant id back to its logical predicate id and variant.
func (r *Registry) Logical(id int64) (int64, Variant) {
	switch {
	case id < r.maxIds:
		return id, Full
	case id < 2*r.maxIds:
		return id - r.maxIds, Delta
	case id < 3*r.maxIds:
		return id - 2*r.maxIds, New
	default:
		panic(fmt.Sprintf("store: id %d outside variant range (ceiling %d)", id, r.maxIds))
	}
}
