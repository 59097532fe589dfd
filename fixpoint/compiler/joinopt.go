package compiler

import (
	"math"

	"github.com/wbrown/janus-fixpoint/fixpoint"
	"github.com/wbrown/janus-fixpoint/fixpoint/ram"
)

// maxJoinVars bounds the Selinger subset enumeration.
const maxJoinVars = 12

// varEq is an equality between an attribute of one row variable and an
// attribute of another.
type varEq struct {
	attr    int
	partner int // row var id of the other side
}

// joinSpec is the optimizer's view of one search step.
type joinSpec struct {
	step       int
	rv         fixpoint.RowVar
	logical    int64
	arity      int
	constAttrs attrSet
	varEqs     []varEq
	varAttrs   attrSet
}

// ruleJoinSpecs extracts the join structure of a flattened rule.
func ruleJoinSpecs(ctx *Context, rt ruleTree) []joinSpec {
	var specs []joinSpec
	for i, st := range rt.steps {
		if st.search == nil {
			continue
		}
		logical, _ := ctx.Registry.Logical(st.search.Rel.Sym.Id)
		sp := joinSpec{
			step:    i,
			rv:      st.search.Rv,
			logical: logical,
			arity:   st.search.Rel.Arity,
		}
		for _, c := range rt.conds {
			eq, ok := c.(ram.Eq)
			if !ok {
				continue
			}
			// Both orientations: an equality binds whichever side scans
			// second.
			for _, or := range [][2]ram.Term{{eq.A, eq.B}, {eq.B, eq.A}} {
				load, isLoad := or[0].(ram.RowLoad)
				if !isLoad || load.Rv.Id != sp.rv.Id {
					continue
				}
				switch o := or[1].(type) {
				case ram.Lit:
					sp.constAttrs = sp.constAttrs.with(load.Attr)
				case ram.RowLoad:
					if o.Rv.Id != sp.rv.Id {
						sp.varEqs = append(sp.varEqs, varEq{attr: load.Attr, partner: o.Rv.Id})
						sp.varAttrs = sp.varAttrs.with(load.Attr)
					}
				}
			}
		}
		specs = append(specs, sp)
	}
	return specs
}

// ReorderJoins applies Selinger dynamic programming over the row variables
// of every rule, using the sampled profile to estimate the expected fan-out
// of each candidate join step. Functionals and If guards keep their binding
// requirements and are re-placed by a fresh hoist pass.
func ReorderJoins(ctx *Context, s ram.Stmt, prof *Profile, targets []ProfileTarget) ram.Stmt {
	lookup := make(map[int64]map[attrSet][]Obs)
	for _, t := range targets {
		logical, _ := ctx.Registry.Logical(t.Rel.Sym.Id)
		var set attrSet
		for _, a := range t.Attrs {
			set = set.with(a)
		}
		if lookup[logical] == nil {
			lookup[logical] = make(map[attrSet][]Obs)
		}
		lookup[logical][set] = prof.ObsOf(t.Id)
	}

	return rewriteInserts(s, func(ins ram.Insert) ram.Stmt {
		return reorderInsert(ctx, ins, lookup)
	})
}

func reorderInsert(ctx *Context, ins ram.Insert, lookup map[int64]map[attrSet][]Obs) ram.Stmt {
	rt := flattenRule(ins.Op)
	specs := ruleJoinSpecs(ctx, rt)
	if len(specs) < 2 || len(specs) > maxJoinVars {
		return ins
	}

	// Iteration count shared by the whole rule.
	iters := 1
	for _, sp := range specs {
		for _, obs := range lookup[sp.logical] {
			if len(obs) > iters {
				iters = len(obs)
			}
		}
	}

	obsAt := func(sp joinSpec, set attrSet, i int) Obs {
		obs := lookup[sp.logical][set]
		if len(obs) == 0 {
			return Obs{Size: 1, Distinct: 1}
		}
		if i >= len(obs) {
			i = len(obs) - 1
		}
		return obs[i]
	}

	// fanout estimates the tuples of sp matched per binding of the already
	// ordered row variables.
	fanout := func(sp joinSpec, boundRvs map[int]bool, i int) float64 {
		set := sp.constAttrs
		for _, eq := range sp.varEqs {
			if boundRvs[eq.partner] {
				set = set.with(eq.attr)
			}
		}
		o := obsAt(sp, set, i)
		if set == 0 {
			return float64(o.Size)
		}
		if o.Distinct == 0 {
			return 0
		}
		return float64(o.Size) / float64(o.Distinct)
	}

	n := len(specs)
	type state struct {
		cost   float64
		order  []int
		tuples []float64
	}
	best := make([]*state, 1<<uint(n))
	start := &state{tuples: make([]float64, iters)}
	for i := range start.tuples {
		start.tuples[i] = 1
	}
	best[0] = start

	for mask := 0; mask < 1<<uint(n); mask++ {
		cur := best[mask]
		if cur == nil {
			continue
		}
		boundRvs := make(map[int]bool)
		for i := 0; i < n; i++ {
			if mask&(1<<uint(i)) != 0 {
				boundRvs[specs[i].rv.Id] = true
			}
		}
		for v := 0; v < n; v++ {
			if mask&(1<<uint(v)) != 0 {
				continue
			}
			sp := specs[v]
			stepCost := 0.0
			tuples := make([]float64, iters)
			for i := 0; i < iters; i++ {
				e := fanout(sp, boundRvs, i)
				stepCost += cur.tuples[i] * e
				tuples[i] = cur.tuples[i] * e
			}
			cost := cur.cost + float64(sp.arity)*stepCost
			next := mask | 1<<uint(v)
			order := append(append([]int(nil), cur.order...), v)
			if best[next] == nil || cost < best[next].cost-1e-9 ||
				(math.Abs(cost-best[next].cost) <= 1e-9 && lexLess(order, best[next].order)) {
				best[next] = &state{cost: cost, order: order, tuples: tuples}
			}
		}
	}

	final := best[(1<<uint(n))-1]
	if final == nil {
		return ins
	}

	// Restack: searches in the chosen order, then the functionals in their
	// original order, then every condition; hoisting re-folds prefixes and
	// re-places guards at their binding points.
	var steps []ruleStep
	for _, v := range final.order {
		steps = append(steps, rt.steps[specs[v].step])
	}
	for _, st := range rt.steps {
		if st.fn != nil {
			steps = append(steps, st)
		}
	}

	var op ram.RelOp = rt.project
	if len(rt.conds) > 0 {
		op = ram.If{Conds: rt.conds, Body: op}
	}
	for i := len(steps) - 1; i >= 0; i-- {
		st := steps[i]
		if st.fn != nil {
			fn := *st.fn
			fn.Body = op
			op = fn
		} else {
			op = ram.Search{Rv: st.search.Rv, Rel: st.search.Rel, Body: op}
		}
	}
	return hoistInsert(ram.Insert{Op: op, RuleNo: ins.RuleNo})
}

func lexLess(a, b []int) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}
