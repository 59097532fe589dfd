package store

import (
	"fmt"
	"sync"

	"github.com/wbrown/janus-fixpoint/fixpoint"
)

// CatEntry describes one physical index: its relation and the attribute
// order its keys follow.
type CatEntry struct {
	Rel   fixpoint.RelSym
	Order []int
}

// Catalogue assigns every (relation, search order) pair a dense slot number.
// Lowering resolves all index references through the catalogue once; the
// interpreter then addresses a flat slice and never hashes at runtime.
type Catalogue struct {
	mu      sync.Mutex
	slots   map[string]int
	entries []CatEntry
	byRel   map[int64][]int
}

// NewCatalogue creates an empty catalogue.
func NewCatalogue() *Catalogue {
	return &Catalogue{
		slots: make(map[string]int),
		byRel: make(map[int64][]int),
	}
}

func catKey(rel fixpoint.RelSym, order []int) string {
	return fmt.Sprintf("%d:%v", rel.Sym.Id, order)
}

// SlotFor returns the slot of (rel, order), allocating one on first sight.
func (c *Catalogue) SlotFor(rel fixpoint.RelSym, order []int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := catKey(rel, order)
	if slot, ok := c.slots[key]; ok {
		return slot
	}
	slot := len(c.entries)
	c.slots[key] = slot
	c.entries = append(c.entries, CatEntry{Rel: rel, Order: append([]int(nil), order...)})
	c.byRel[rel.Sym.Id] = append(c.byRel[rel.Sym.Id], slot)
	return slot
}

// Lookup returns the slot of (rel, order) without allocating.
func (c *Catalogue) Lookup(rel fixpoint.RelSym, order []int) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	slot, ok := c.slots[catKey(rel, order)]
	return slot, ok
}

// SlotsOf returns every slot belonging to a relation.
func (c *Catalogue) SlotsOf(rel fixpoint.RelSym) []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.byRel[rel.Sym.Id]...)
}

// PrimarySlot returns the first index slot of a relation; every relation the
// compiler emits has at least one. Missing indexes are structural bugs.
func (c *Catalogue) PrimarySlot(rel fixpoint.RelSym) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	slots := c.byRel[rel.Sym.Id]
	if len(slots) == 0 {
		panic(fmt.Sprintf("store: relation %s has no index", rel))
	}
	return slots[0]
}

// Entries returns the catalogue contents in slot order.
func (c *Catalogue) Entries() []CatEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]CatEntry(nil), c.entries...)
}

// Len returns the number of allocated slots.
func (c *Catalogue) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
