package compiler

import (
	"github.com/wbrown/janus-fixpoint/fixpoint"
	"github.com/wbrown/janus-fixpoint/fixpoint/ram"
)

// Hoist pulls every guard of a rule to the earliest point its variables are
// ground, folds equality guards on a search into Query prefixes usable by an
// index range lookup, lifts fully ground guards to a top-level If that also
// short-circuits on empty inputs, and prunes rules with contradictory
// literal equalities.
func Hoist(s ram.Stmt) ram.Stmt {
	return rewriteInserts(s, hoistInsert)
}

// rewriteInserts applies f to every Insert in the tree.
func rewriteInserts(s ram.Stmt, f func(ram.Insert) ram.Stmt) ram.Stmt {
	switch st := s.(type) {
	case ram.Seq:
		out := make([]ram.Stmt, 0, len(st.Stmts))
		for _, c := range st.Stmts {
			if r := rewriteInserts(c, f); r != nil {
				out = append(out, r)
			}
		}
		return ram.Seq{Stmts: out}
	case ram.Par:
		out := make([]ram.Stmt, 0, len(st.Stmts))
		for _, c := range st.Stmts {
			if r := rewriteInserts(c, f); r != nil {
				out = append(out, r)
			}
		}
		return ram.Par{Stmts: out}
	case ram.Until:
		out := make([]ram.Stmt, 0, len(st.Body))
		for _, c := range st.Body {
			if r := rewriteInserts(c, f); r != nil {
				out = append(out, r)
			}
		}
		return ram.Until{Conds: st.Conds, Body: out}
	case ram.Insert:
		return f(st)
	default:
		return s
	}
}

// ruleTree is the flattened form of one rule's operation tree.
type ruleTree struct {
	steps   []ruleStep
	conds   []ram.BoolExp
	project ram.Project
}

// ruleStep is either a search (possibly already a query, which is unfolded
// back to search + equality conds) or a functional loop.
type ruleStep struct {
	search *ram.Search
	fn     *ram.Functional
}

// flattenRule decomposes a rule tree. Queries unfold so hoisting can be
// re-run after join reordering.
func flattenRule(op ram.RelOp) ruleTree {
	var rt ruleTree
	for {
		switch o := op.(type) {
		case ram.Search:
			s := o
			rt.steps = append(rt.steps, ruleStep{search: &ram.Search{Rv: s.Rv, Rel: s.Rel}})
			op = o.Body
		case ram.Query:
			rt.steps = append(rt.steps, ruleStep{search: &ram.Search{Rv: o.Rv, Rel: o.Rel}})
			for _, p := range o.Prefix {
				rt.conds = append(rt.conds, ram.Eq{A: ram.RowLoad{Rv: o.Rv, Attr: p.Attr}, B: p.T})
			}
			op = o.Body
		case ram.Functional:
			fn := o
			fn.Body = nil
			rt.steps = append(rt.steps, ruleStep{fn: &fn})
			op = o.Body
		case ram.If:
			rt.conds = append(rt.conds, o.Conds...)
			op = o.Body
		case ram.Project:
			rt.project = o
			return rt
		default:
			panic("compiler: unexpected relop in rule tree")
		}
	}
}

// termDeps collects the row variables a term reads.
func termDeps(t ram.Term, into map[int]bool) {
	switch tm := t.(type) {
	case ram.RowLoad:
		into[tm.Rv.Id] = true
	case ram.LatVar:
		into[tm.Rv.Id] = true
	case ram.Meet:
		termDeps(tm.A, into)
		termDeps(tm.B, into)
	case ram.App:
		for _, a := range tm.Args {
			termDeps(a, into)
		}
	case ram.ProvMax:
		for _, rv := range tm.Rvs {
			into[rv.Id] = true
		}
	}
}

func condDeps(c ram.BoolExp) map[int]bool {
	deps := make(map[int]bool)
	switch e := c.(type) {
	case ram.Eq:
		termDeps(e.A, deps)
		termDeps(e.B, deps)
	case ram.Leq:
		termDeps(e.A, deps)
		termDeps(e.B, deps)
	case ram.NotBot:
		termDeps(e.T, deps)
	case ram.GuardExp:
		for _, a := range e.Args {
			termDeps(a, deps)
		}
	case ram.MemberOf:
		for _, t := range e.Terms {
			termDeps(t, deps)
		}
	case ram.NotMemberOf:
		for _, t := range e.Terms {
			termDeps(t, deps)
		}
	case ram.NotSubsumed:
		for _, t := range e.Terms {
			termDeps(t, deps)
		}
		termDeps(e.Lat, deps)
	}
	return deps
}

func hoistInsert(ins ram.Insert) ram.Stmt {
	rt := flattenRule(ins.Op)

	// Contradictory literal equalities prune the whole rule: a row attribute
	// (one equivalence class) asked to equal two different constants can
	// never bind.
	litOf := make(map[ram.RowLoad]fixpoint.Boxed)
	for _, c := range rt.conds {
		eq, ok := c.(ram.Eq)
		if !ok {
			continue
		}
		a, aLoad := eq.A.(ram.RowLoad)
		bLit, bIsLit := eq.B.(ram.Lit)
		if aLoad && bIsLit {
			if prev, seen := litOf[a]; seen && !fixpoint.Equal(prev, bLit.Value) {
				return ram.Comment{Text: "rule pruned: contradictory constants"}
			}
			litOf[a] = bLit.Value
		}
		aLit, aIsLit := eq.A.(ram.Lit)
		if aIsLit && bIsLit && !fixpoint.Equal(aLit.Value, bLit.Value) {
			return ram.Comment{Text: "rule pruned: contradictory constants"}
		}
	}

	// Partition conditions: ground guards go top-level, equality guards on a
	// search become its query prefix, everything else sits at the innermost
	// point where its variables are bound.
	boundAt := make(map[int]int) // rv id -> step index binding it
	for i, st := range rt.steps {
		if st.search != nil {
			boundAt[st.search.Rv.Id] = i
		} else {
			boundAt[st.fn.Rv.Id] = i
		}
	}

	var topConds []ram.BoolExp
	prefixes := make(map[int][]ram.PrefixEq) // step index -> prefix
	prefixAttr := make(map[int]map[int]bool) // step index -> attrs already pinned
	inner := make(map[int][]ram.BoolExp)     // step index -> conds to run after it

	groundBefore := func(deps map[int]bool, step int) bool {
		for rv := range deps {
			at, ok := boundAt[rv]
			if !ok || at >= step {
				return false
			}
		}
		return true
	}

	for _, c := range rt.conds {
		deps := condDeps(c)
		if len(deps) == 0 {
			topConds = append(topConds, c)
			continue
		}

		// Equality on exactly one attribute of a search whose other side is
		// ground before the search binds becomes an index prefix; both
		// orientations are tried, since either side may bind later. Only
		// literals and attribute loads fold: lowering turns them into
		// constWrites and writeLists, which applications cannot become.
		if eq, ok := c.(ram.Eq); ok {
			folded := false
			for _, or := range [][2]ram.Term{{eq.A, eq.B}, {eq.B, eq.A}} {
				load, isLoad := or[0].(ram.RowLoad)
				other := or[1]
				if !isLoad || !prefixable(other) {
					continue
				}
				step, stepOk := boundAt[load.Rv.Id]
				if !stepOk || rt.steps[step].search == nil {
					continue
				}
				otherDeps := make(map[int]bool)
				termDeps(other, otherDeps)
				if !groundBefore(otherDeps, step) {
					continue
				}
				if prefixAttr[step] == nil {
					prefixAttr[step] = make(map[int]bool)
				}
				if prefixAttr[step][load.Attr] {
					continue
				}
				prefixAttr[step][load.Attr] = true
				prefixes[step] = append(prefixes[step], ram.PrefixEq{Attr: load.Attr, T: other})
				folded = true
				break
			}
			if folded {
				continue
			}
		}

		// Innermost step after which the condition is ground.
		last := 0
		for rv := range deps {
			if at, ok := boundAt[rv]; ok && at > last {
				last = at
			}
		}
		inner[last] = append(inner[last], c)
	}

	// Rebuild inside out.
	var op ram.RelOp = rt.project
	for i := len(rt.steps) - 1; i >= 0; i-- {
		if cs := simplifyConds(inner[i]); len(cs) > 0 {
			op = ram.If{Conds: cs, Body: op}
		}
		st := rt.steps[i]
		if st.fn != nil {
			fn := *st.fn
			fn.Body = op
			op = fn
			continue
		}
		if p := prefixes[i]; len(p) > 0 {
			op = ram.Query{Rv: st.search.Rv, Rel: st.search.Rel, Prefix: p, Body: op}
		} else {
			op = ram.Search{Rv: st.search.Rv, Rel: st.search.Rel, Body: op}
		}
	}

	// The top-level If carries the ground guards and short-circuits the rule
	// when any searched relation is empty.
	var guards []ram.BoolExp
	for _, st := range rt.steps {
		if st.search != nil {
			guards = append(guards, ram.NotEmpty{Rel: st.search.Rel})
		}
	}
	guards = append(guards, simplifyConds(topConds)...)
	if len(guards) > 0 {
		op = ram.If{Conds: guards, Body: op}
	}
	return ram.Insert{Op: op, RuleNo: ins.RuleNo}
}

// prefixable reports whether a term may appear in a query prefix.
func prefixable(t ram.Term) bool {
	switch t.(type) {
	case ram.Lit, ram.RowLoad, ram.RawInt:
		return true
	default:
		return false
	}
}

