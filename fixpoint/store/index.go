// Package store holds the physical data layout of the engine: ordered tuple
// indexes, the boxing tables that map host values to Int64 codes, the
// predicate registry with its Full/Delta/New variants, and the catalogue that
// assigns every physical index a dense slot.
//
// File organization:
//   - index.go: OrderedIndex, a concurrent ordered Tuple -> Boxed map
//   - boxing.go: per-position value boxing and the parallel fact loader
//   - registry.go: predicate variant id allocation
//   - catalogue.go: (relation, search) -> slot numbering
//   - unify.go: union-find over unified positions
//
// Everything here lives in the region of one solve; nothing persists.
package store

import (
	"runtime"
	"sync"

	"github.com/google/btree"
	"golang.org/x/sync/errgroup"

	"github.com/wbrown/janus-fixpoint/fixpoint"
)

// Entry is one key/payload pair of an index. Relational relations carry
// fixpoint.NoValue as the payload; lattice relations carry the element.
type Entry struct {
	Key fixpoint.Tuple
	Val fixpoint.Boxed
}

func entryLess(a, b Entry) bool {
	return fixpoint.CompareTuples(a.Key, b.Key) < 0
}

// Visitor receives entries during a scan. Returning false stops the scan.
type Visitor func(key fixpoint.Tuple, val fixpoint.Boxed) bool

// OrderedIndex is a concurrent ordered map from Tuple to Boxed backed by a
// B-tree. Writes serialize on an internal lock; scans hold the read lock, so
// a ForEach or Range sees a consistent snapshot for one fixpoint sub-step.
// Concurrent mutation is only ever directed at distinct indexes (Par
// statements), never at an index being scanned by the same statement.
type OrderedIndex struct {
	mu     sync.RWMutex
	tree   *btree.BTreeG[Entry]
	order  []int // key order: permutation of attribute positions
	degree int
}

// NewOrderedIndex creates an empty index whose keys follow the given
// attribute order. The degree is the B-tree fan-out (Options.IndexArity).
func NewOrderedIndex(order []int, degree int) *OrderedIndex {
	if degree < 2 {
		degree = 64
	}
	return &OrderedIndex{
		tree:   btree.NewG[Entry](degree, entryLess),
		order:  append([]int(nil), order...),
		degree: degree,
	}
}

// Order returns the attribute order the index was built from.
func (ix *OrderedIndex) Order() []int { return ix.order }

// Put inserts or replaces the payload for key.
func (ix *OrderedIndex) Put(key fixpoint.Tuple, val fixpoint.Boxed) {
	ix.mu.Lock()
	ix.tree.ReplaceOrInsert(Entry{Key: key, Val: val})
	ix.mu.Unlock()
}

// PutWith inserts key, combining payloads with combine when the key already
// exists. Returns true when the stored payload changed. The combiner is the
// lattice join, so an insert that does not move the value up reports false
// and the fixpoint loop sees no progress.
func (ix *OrderedIndex) PutWith(combine func(a, b fixpoint.Boxed) fixpoint.Boxed, key fixpoint.Tuple, val fixpoint.Boxed) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	old, ok := ix.tree.Get(Entry{Key: key})
	if !ok {
		ix.tree.ReplaceOrInsert(Entry{Key: key, Val: val})
		return true
	}
	joined := combine(old.Val, val)
	if fixpoint.Equal(joined, old.Val) {
		return false
	}
	ix.tree.ReplaceOrInsert(Entry{Key: key, Val: joined})
	return true
}

// Get returns the payload stored for key.
func (ix *OrderedIndex) Get(key fixpoint.Tuple) (fixpoint.Boxed, bool) {
	ix.mu.RLock()
	e, ok := ix.tree.Get(Entry{Key: key})
	ix.mu.RUnlock()
	if !ok {
		return fixpoint.NoValue, false
	}
	return e.Val, true
}

// MemberOf reports whether key is present.
func (ix *OrderedIndex) MemberOf(key fixpoint.Tuple) bool {
	ix.mu.RLock()
	ok := ix.tree.Has(Entry{Key: key})
	ix.mu.RUnlock()
	return ok
}

// IsEmpty reports whether the index holds no entries.
func (ix *OrderedIndex) IsEmpty() bool {
	ix.mu.RLock()
	n := ix.tree.Len()
	ix.mu.RUnlock()
	return n == 0
}

// Len returns the entry count.
func (ix *OrderedIndex) Len() int {
	ix.mu.RLock()
	n := ix.tree.Len()
	ix.mu.RUnlock()
	return n
}

// Range visits every entry with lo <= key <= hi in key order. Both bounds are
// inclusive under lexicographic tuple comparison.
func (ix *OrderedIndex) Range(lo, hi fixpoint.Tuple, visit Visitor) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	ix.tree.AscendGreaterOrEqual(Entry{Key: lo}, func(e Entry) bool {
		if fixpoint.CompareTuples(e.Key, hi) > 0 {
			return false
		}
		return visit(e.Key, e.Val)
	})
}

// ForEach visits every entry in key order.
func (ix *OrderedIndex) ForEach(visit Visitor) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	ix.tree.Ascend(func(e Entry) bool {
		return visit(e.Key, e.Val)
	})
}

// ParForEachShard partitions the index into contiguous key ranges and hands
// each range to one worker, at most maxWorkers at a time. The worker
// receives a scan function that iterates its range; workers that need
// per-worker state (the interpreter clones its environment) set it up before
// calling scan. A panic in any worker surfaces as an error after all workers
// have joined.
func (ix *OrderedIndex) ParForEachShard(maxWorkers int, worker func(scan func(Visitor)) error) error {
	if maxWorkers <= 0 {
		maxWorkers = runtime.NumCPU()
	}

	// Clone is copy-on-write, so the snapshot is cheap and scans of it need
	// no lock.
	ix.mu.RLock()
	snap := ix.tree.Clone()
	n := ix.tree.Len()
	ix.mu.RUnlock()

	if n == 0 {
		return nil
	}
	runShard := func(lo, hi fixpoint.Tuple) error {
		return worker(func(visit Visitor) {
			if lo == nil {
				snap.Ascend(func(e Entry) bool { return visit(e.Key, e.Val) })
				return
			}
			if hi == nil {
				snap.AscendGreaterOrEqual(Entry{Key: lo}, func(e Entry) bool { return visit(e.Key, e.Val) })
				return
			}
			snap.AscendRange(Entry{Key: lo}, Entry{Key: hi}, func(e Entry) bool { return visit(e.Key, e.Val) })
		})
	}
	if n < maxWorkers*2 {
		return func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = recoveredError(r)
				}
			}()
			return runShard(nil, nil)
		}()
	}

	// One pass to collect range pivots, then one worker per range.
	stride := (n + maxWorkers - 1) / maxWorkers
	pivots := make([]fixpoint.Tuple, 0, maxWorkers+1)
	i := 0
	snap.Ascend(func(e Entry) bool {
		if i%stride == 0 {
			pivots = append(pivots, fixpoint.CloneTuple(e.Key))
		}
		i++
		return true
	})

	var g errgroup.Group
	g.SetLimit(maxWorkers)
	for w := 0; w < len(pivots); w++ {
		lo := pivots[w]
		var hi fixpoint.Tuple
		if w+1 < len(pivots) {
			hi = pivots[w+1]
		}
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = recoveredError(r)
				}
			}()
			return runShard(lo, hi)
		})
	}
	return g.Wait()
}

// ParForEach visits every entry with a shared visitor across the worker
// pool. The visitor must be safe to call concurrently.
func (ix *OrderedIndex) ParForEach(maxWorkers int, visit func(key fixpoint.Tuple, val fixpoint.Boxed)) error {
	return ix.ParForEachShard(maxWorkers, func(scan func(Visitor)) error {
		scan(func(k fixpoint.Tuple, v fixpoint.Boxed) bool {
			visit(k, v)
			return true
		})
		return nil
	})
}

// Merge scans src and inserts every entry into dst, replacing payloads.
func Merge(src, dst *OrderedIndex) {
	src.ForEach(func(key fixpoint.Tuple, val fixpoint.Boxed) bool {
		dst.Put(key, val)
		return true
	})
}

// MergeWith scans src and inserts every entry into dst, combining payloads
// for keys already present. Returns true when dst changed.
func MergeWith(combine func(a, b fixpoint.Boxed) fixpoint.Boxed, src, dst *OrderedIndex) bool {
	changed := false
	src.ForEach(func(key fixpoint.Tuple, val fixpoint.Boxed) bool {
		if dst.PutWith(combine, key, val) {
			changed = true
		}
		return true
	})
	return changed
}

// swapMu serializes SwapContents calls so two concurrent swaps cannot take
// the per-index locks in opposite orders.
var swapMu sync.Mutex

// SwapContents exchanges the entries of two indexes.
func SwapContents(a, b *OrderedIndex) {
	if a == b {
		return
	}
	swapMu.Lock()
	a.mu.Lock()
	b.mu.Lock()
	a.tree, b.tree = b.tree, a.tree
	b.mu.Unlock()
	a.mu.Unlock()
	swapMu.Unlock()
}

// Purge discards every entry.
func (ix *OrderedIndex) Purge() {
	ix.mu.Lock()
	ix.tree = btree.NewG[Entry](ix.degree, entryLess)
	ix.mu.Unlock()
}
