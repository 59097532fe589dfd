package compiler

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"github.com/wbrown/janus-fixpoint/fixpoint/ast"
)

// PrecedenceGraph is the predicate dependency graph: an edge src -> dst for
// every rule dst(..) :- .. src(..) .., with negated occurrences flagged.
// Vertices are logical predicate ids; adjacency is kept on ids so the graph
// has no pointer cycles.
type PrecedenceGraph struct {
	verts []int64
	index map[int64]int
	succ  [][]int
	pred  [][]int
	neg   map[[2]int]bool
}

// NewPrecedenceGraph builds the graph of a rule set over the given predicate
// ids.
func NewPrecedenceGraph(predIds []int64, rules []ast.Constraint) *PrecedenceGraph {
	g := &PrecedenceGraph{
		verts: append([]int64(nil), predIds...),
		index: make(map[int64]int, len(predIds)),
		neg:   make(map[[2]int]bool),
	}
	sort.Slice(g.verts, func(i, j int) bool { return g.verts[i] < g.verts[j] })
	for i, id := range g.verts {
		g.index[id] = i
	}
	g.succ = make([][]int, len(g.verts))
	g.pred = make([][]int, len(g.verts))

	seen := make(map[[2]int]bool)
	for _, r := range rules {
		dst, ok := g.index[r.Head.Sym.Id]
		if !ok {
			continue
		}
		for _, b := range r.Body {
			atom, ok := b.(ast.Atom)
			if !ok {
				continue
			}
			src, ok := g.index[atom.Sym.Id]
			if !ok {
				continue
			}
			e := [2]int{src, dst}
			if !seen[e] {
				seen[e] = true
				g.succ[src] = append(g.succ[src], dst)
				g.pred[dst] = append(g.pred[dst], src)
			}
			if atom.Polarity == ast.Negative {
				g.neg[e] = true
			}
		}
	}
	return g
}

// Stratification places every predicate in a pseudo-stratum and a stratum
// within it. Strata in one pseudo-stratum have no edges between them and may
// run in parallel.
type Stratification struct {
	// PseudoStrata[i][j] is the predicate ids of stratum j of pseudo-stratum i.
	PseudoStrata [][][]int64
	// Place maps a predicate id to its (pseudoStratum, stratumWithin) pair.
	Place map[int64][2]int
}

// ErrStratification is returned when a predicate depends negatively on its
// own stratum.
var ErrStratification = errors.New("program cannot be stratified")

// Stratify computes SCCs with Tarjan's algorithm, topologically sorts the
// condensation, checks negation against the strata and greedily merges
// adjacent independent strata into pseudo-strata.
func (g *PrecedenceGraph) Stratify() (*Stratification, error) {
	sccs := g.tarjan()

	// Condensation vertices in discovery order; map each graph vertex to its
	// component.
	comp := make([]int, len(g.verts))
	for ci, members := range sccs {
		for _, v := range members {
			comp[v] = ci
		}
	}

	// A negative edge inside one component is a negative cycle.
	for e := range g.neg {
		if comp[e[0]] == comp[e[1]] {
			return nil, errors.Wrapf(ErrStratification,
				"predicate %d reads its own stratum under negation", g.verts[e[1]])
		}
	}

	order, err := g.topoSortComponents(sccs, comp)
	if err != nil {
		return nil, err
	}

	// Greedy pseudo-stratum formation: a stratum joins the current
	// pseudo-stratum when no edge connects it to any stratum already inside.
	strat := &Stratification{Place: make(map[int64][2]int)}
	var current [][]int64
	var currentComps []int
	flush := func() {
		if len(current) > 0 {
			strat.PseudoStrata = append(strat.PseudoStrata, current)
			current = nil
			currentComps = nil
		}
	}
	for _, ci := range order {
		independent := true
		for _, prev := range currentComps {
			if g.componentsConnected(sccs, comp, prev, ci) {
				independent = false
				break
			}
		}
		if !independent {
			flush()
		}
		members := make([]int64, 0, len(sccs[ci]))
		for _, v := range sccs[ci] {
			members = append(members, g.verts[v])
		}
		sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
		current = append(current, members)
		currentComps = append(currentComps, ci)
	}
	flush()

	for pi, ps := range strat.PseudoStrata {
		for si, members := range ps {
			for _, id := range members {
				strat.Place[id] = [2]int{pi, si}
			}
		}
	}
	return strat, nil
}

func (g *PrecedenceGraph) componentsConnected(sccs [][]int, comp []int, a, b int) bool {
	for _, v := range sccs[a] {
		for _, w := range g.succ[v] {
			if comp[w] == b {
				return true
			}
		}
		for _, w := range g.pred[v] {
			if comp[w] == b {
				return true
			}
		}
	}
	return false
}

// tarjan computes strongly connected components iteratively. Components come
// out in reverse topological order and are reversed before return.
func (g *PrecedenceGraph) tarjan() [][]int {
	n := len(g.verts)
	const unvisited = -1
	index := make([]int, n)
	low := make([]int, n)
	onStack := make([]bool, n)
	for i := range index {
		index[i] = unvisited
	}
	var stack []int
	var sccs [][]int
	next := 0

	type frame struct {
		v, ei int
	}
	for root := 0; root < n; root++ {
		if index[root] != unvisited {
			continue
		}
		frames := []frame{{v: root}}
		index[root] = next
		low[root] = next
		next++
		stack = append(stack, root)
		onStack[root] = true

		for len(frames) > 0 {
			f := &frames[len(frames)-1]
			if f.ei < len(g.succ[f.v]) {
				w := g.succ[f.v][f.ei]
				f.ei++
				if index[w] == unvisited {
					index[w] = next
					low[w] = next
					next++
					stack = append(stack, w)
					onStack[w] = true
					frames = append(frames, frame{v: w})
				} else if onStack[w] && index[w] < low[f.v] {
					low[f.v] = index[w]
				}
				continue
			}
			v := f.v
			frames = frames[:len(frames)-1]
			if len(frames) > 0 {
				parent := &frames[len(frames)-1]
				if low[v] < low[parent.v] {
					low[parent.v] = low[v]
				}
			}
			if low[v] == index[v] {
				var members []int
				for {
					if len(stack) == 0 {
						panic(fmt.Sprintf("compiler: tarjan stack underflow at vertex %d", v))
					}
					w := stack[len(stack)-1]
					stack = stack[:len(stack)-1]
					onStack[w] = false
					members = append(members, w)
					if w == v {
						break
					}
				}
				sccs = append(sccs, members)
			}
		}
	}

	// Reverse into topological-friendly discovery order.
	for i, j := 0, len(sccs)-1; i < j; i, j = i+1, j-1 {
		sccs[i], sccs[j] = sccs[j], sccs[i]
	}
	return sccs
}

// topoSortComponents Kahn-sorts the condensation. A cycle here means tarjan
// produced inconsistent components, which is a bug.
func (g *PrecedenceGraph) topoSortComponents(sccs [][]int, comp []int) ([]int, error) {
	nc := len(sccs)
	indeg := make([]int, nc)
	succs := make([]map[int]bool, nc)
	for i := range succs {
		succs[i] = make(map[int]bool)
	}
	for v := range g.verts {
		for _, w := range g.succ[v] {
			a, b := comp[v], comp[w]
			if a != b && !succs[a][b] {
				succs[a][b] = true
				indeg[b]++
			}
		}
	}
	var queue []int
	for ci := 0; ci < nc; ci++ {
		if indeg[ci] == 0 {
			queue = append(queue, ci)
		}
	}
	sort.Ints(queue)
	var order []int
	for len(queue) > 0 {
		ci := queue[0]
		queue = queue[1:]
		order = append(order, ci)
		var unlocked []int
		for b := range succs[ci] {
			indeg[b]--
			if indeg[b] == 0 {
				unlocked = append(unlocked, b)
			}
		}
		sort.Ints(unlocked)
		queue = append(queue, unlocked...)
	}
	if len(order) != nc {
		panic("compiler: cycle in condensation topological sort")
	}
	return order, nil
}
