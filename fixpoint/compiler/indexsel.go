package compiler

import (
	"sort"

	"github.com/wbrown/janus-fixpoint/fixpoint/ram"
)

// SelectIndexes collects the primitive searches of every Query, solves a
// minimum chain cover over the subset order per relation, and records the
// resulting physical key orders in ctx.Orders. Any permutation of a
// primitive search that prefixes some order can answer the query, so fewer
// chains means fewer indexes.
func SelectIndexes(ctx *Context, s ram.Stmt) {
	searches := make(map[int64][]attrSet)
	collectSearches(ctx, s, searches)

	for id, rel := range ctx.Rels {
		sets := dedupeSets(searches[id])
		if len(sets) == 0 {
			ctx.Orders[id] = [][]int{defaultOrder(rel.Arity)}
			continue
		}
		chains := chainCover(sets)
		orders := make([][]int, 0, len(chains))
		for _, chain := range chains {
			orders = append(orders, chainOrder(chain, rel.Arity))
		}
		ctx.Orders[id] = orders
	}
}

// attrSet is a primitive search: the unordered set of bound attributes.
type attrSet uint64

func (a attrSet) has(i int) bool      { return a&(1<<uint(i)) != 0 }
func (a attrSet) with(i int) attrSet  { return a | (1 << uint(i)) }
func (a attrSet) subsetOf(b attrSet) bool {
	return a&b == a
}
func (a attrSet) count() int {
	n := 0
	for v := a; v != 0; v &= v - 1 {
		n++
	}
	return n
}

func collectSearches(ctx *Context, s ram.Stmt, into map[int64][]attrSet) {
	switch st := s.(type) {
	case ram.Seq:
		for _, c := range st.Stmts {
			collectSearches(ctx, c, into)
		}
	case ram.Par:
		for _, c := range st.Stmts {
			collectSearches(ctx, c, into)
		}
	case ram.Until:
		for _, c := range st.Body {
			collectSearches(ctx, c, into)
		}
	case ram.Insert:
		collectOpSearches(ctx, st.Op, into)
	}
}

func collectOpSearches(ctx *Context, op ram.RelOp, into map[int64][]attrSet) {
	switch o := op.(type) {
	case ram.Search:
		collectOpSearches(ctx, o.Body, into)
	case ram.Query:
		var set attrSet
		for _, p := range o.Prefix {
			set = set.with(p.Attr)
		}
		logical, _ := ctx.Registry.Logical(o.Rel.Sym.Id)
		into[logical] = append(into[logical], set)
		collectOpSearches(ctx, o.Body, into)
	case ram.Functional:
		collectOpSearches(ctx, o.Body, into)
	case ram.If:
		collectOpSearches(ctx, o.Body, into)
	}
}

func dedupeSets(sets []attrSet) []attrSet {
	seen := make(map[attrSet]bool)
	var out []attrSet
	for _, s := range sets {
		if s != 0 && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// chainCover partitions the poset (sets, ⊂) into the minimum number of
// chains. Per König's theorem the minimum equals |sets| minus a maximum
// matching of the bipartite graph with an edge (a, b) whenever a ⊊ b; each
// maximal matched path is one chain.
func chainCover(sets []attrSet) [][]attrSet {
	n := len(sets)
	// matchTo[a] = b means a is immediately followed by b in its chain.
	matchTo := make([]int, n)
	matchFrom := make([]int, n)
	for i := range matchTo {
		matchTo[i] = -1
		matchFrom[i] = -1
	}

	var try func(a int, visited []bool) bool
	try = func(a int, visited []bool) bool {
		for b := 0; b < n; b++ {
			if a == b || visited[b] {
				continue
			}
			if !(sets[a] != sets[b] && sets[a].subsetOf(sets[b])) {
				continue
			}
			visited[b] = true
			if matchFrom[b] == -1 || try(matchFrom[b], visited) {
				matchTo[a] = b
				matchFrom[b] = a
				return true
			}
		}
		return false
	}
	for a := 0; a < n; a++ {
		try(a, make([]bool, n))
	}

	var chains [][]attrSet
	for b := 0; b < n; b++ {
		if matchFrom[b] != -1 {
			continue
		}
		// b starts a chain.
		chain := []attrSet{sets[b]}
		for cur := b; matchTo[cur] != -1; cur = matchTo[cur] {
			chain = append(chain, sets[matchTo[cur]])
		}
		chains = append(chains, chain)
	}
	return chains
}

// chainOrder concatenates the successive set differences of a chain and
// extends the result to full arity.
func chainOrder(chain []attrSet, arity int) []int {
	var order []int
	var covered attrSet
	for _, s := range chain {
		for i := 0; i < arity; i++ {
			if s.has(i) && !covered.has(i) {
				order = append(order, i)
				covered = covered.with(i)
			}
		}
	}
	for i := 0; i < arity; i++ {
		if !covered.has(i) {
			order = append(order, i)
		}
	}
	return order
}

func defaultOrder(arity int) []int {
	order := make([]int, arity)
	for i := range order {
		order[i] = i
	}
	return order
}

// OrderAnswers reports whether an index order can answer a primitive search:
// the first len(set) attributes of the order must be exactly the set.
func OrderAnswers(order []int, set map[int]bool) bool {
	if len(set) > len(order) {
		return false
	}
	for i := 0; i < len(set); i++ {
		if !set[order[i]] {
			return false
		}
	}
	return true
}
