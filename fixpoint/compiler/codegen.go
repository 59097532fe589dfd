package compiler

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/wbrown/janus-fixpoint/fixpoint"
	"github.com/wbrown/janus-fixpoint/fixpoint/ast"
	"github.com/wbrown/janus-fixpoint/fixpoint/ram"
	"github.com/wbrown/janus-fixpoint/fixpoint/store"
)

// Compile generates semi-naive RAM for the analyzed program: one Seq over
// pseudo-strata, each pseudo-stratum a Par over its independent strata, each
// stratum an initial step followed by a fixpoint loop over its Delta
// relations.
func Compile(ctx *Context) (ram.Stmt, error) {
	var stmts []ram.Stmt
	for pi, ps := range ctx.Strat.PseudoStrata {
		var roots []ram.Stmt
		for si, preds := range ps {
			s, err := compileStratum(ctx, preds, pi, si)
			if err != nil {
				return nil, err
			}
			if s != nil {
				roots = append(roots, s)
			}
		}
		switch len(roots) {
		case 0:
		case 1:
			stmts = append(stmts, roots[0])
		default:
			stmts = append(stmts, ram.Par{Stmts: roots})
		}
	}
	return ram.Seq{Stmts: stmts}, nil
}

// compileStratum emits phase A (all atoms read Full, results land in New)
// followed by the Until loop of phase B (each rule copied once per eligible
// delta atom).
func compileStratum(ctx *Context, preds []int64, pi, si int) (ram.Stmt, error) {
	inStratum := make(map[int64]bool, len(preds))
	names := make([]string, 0, len(preds))
	for _, id := range preds {
		inStratum[id] = true
		names = append(names, ctx.Rels[id].Sym.Name)
	}

	var rules []int
	for i, r := range ctx.Rules {
		if inStratum[r.Head.Sym.Id] {
			rules = append(rules, i)
		}
	}
	if len(rules) == 0 {
		return nil, nil
	}

	var heads []fixpoint.RelSym
	seenHead := make(map[int64]bool)
	for _, ri := range rules {
		id := ctx.Rules[ri].Head.Sym.Id
		if !seenHead[id] {
			seenHead[id] = true
			heads = append(heads, ctx.Rels[id])
		}
	}

	var stmts []ram.Stmt
	stmts = append(stmts, ram.Comment{
		Text: fmt.Sprintf("stratum (%d,%d): %s", pi, si, strings.Join(names, ", ")),
	})

	// Phase A.
	for _, ri := range rules {
		ins, err := compileRule(ctx, ri, -1, inStratum)
		if err != nil {
			return nil, err
		}
		if ins != nil {
			stmts = append(stmts, *ins)
		}
	}
	for _, h := range heads {
		stmts = append(stmts,
			ram.MergeInto{Src: ctx.Registry.Rel(h, store.New), Dst: ctx.Registry.Rel(h, store.Full)},
			ram.MergeInto{Src: ctx.Registry.Rel(h, store.New), Dst: ctx.Registry.Rel(h, store.Delta)},
			ram.Purge{Rel: ctx.Registry.Rel(h, store.New)},
		)
	}

	// Phase B: the fixpoint loop.
	var loop []ram.Stmt
	for _, ri := range rules {
		rule := ctx.Rules[ri]
		deltaIdx := 0
		for _, b := range rule.Body {
			atom, ok := b.(ast.Atom)
			if !ok {
				continue
			}
			if atom.Polarity == ast.Positive && atom.Fixity == ast.Loose &&
				inStratum[atom.Sym.Id] {
				ins, err := compileRule(ctx, ri, deltaIdx, inStratum)
				if err != nil {
					return nil, err
				}
				if ins != nil {
					loop = append(loop, *ins)
				}
			}
			deltaIdx++
		}
	}
	for _, h := range heads {
		loop = append(loop,
			ram.MergeInto{Src: ctx.Registry.Rel(h, store.New), Dst: ctx.Registry.Rel(h, store.Full)},
			ram.Swap{A: ctx.Registry.Rel(h, store.New), B: ctx.Registry.Rel(h, store.Delta)},
			ram.Purge{Rel: ctx.Registry.Rel(h, store.New)},
		)
	}
	// TODO: the upstream copy-loop to MergeInto rewrite is intentionally not
	// applied here; it is unsound for lattice merges (upstream issue #4719).
	var conds []ram.BoolExp
	for _, h := range heads {
		conds = append(conds, ram.Empty{Rel: ctx.Registry.Rel(h, store.Delta)})
	}
	stmts = append(stmts, ram.Until{Conds: conds, Body: loop})

	return ram.Seq{Stmts: stmts}, nil
}

// binding tracks how a rule variable is readable: as a key term and/or as a
// lattice element term. Lattice elements of several atoms meet pointwise.
type binding struct {
	key  ram.Term
	lat  ram.Term
	site store.Site
}

// compileRule builds one Insert. deltaIdx selects which positive atom (by
// body position) reads the Delta relation; -1 compiles the phase A copy.
// Returns nil when a constant guard eliminates the rule.
func compileRule(ctx *Context, ruleNo int, deltaIdx int, inStratum map[int64]bool) (*ram.Insert, error) {
	rule := ctx.Rules[ruleNo]
	env := make(map[string]binding)
	var conds []ram.BoolExp
	type search struct {
		rv  fixpoint.RowVar
		rel fixpoint.RelSym
	}
	var searches []search
	var fnLoops []ram.Functional

	bodyPos := -1
	for _, b := range rule.Body {
		switch stmt := b.(type) {
		case ast.Atom:
			bodyPos++
			if stmt.Polarity == ast.Negative {
				continue // negated atoms become guards once everything is bound
			}
			logical, ok := ctx.Rels[stmt.Sym.Id]
			if !ok {
				panic(fmt.Sprintf("compiler: body atom %s missing from schema", stmt.Sym))
			}
			variant := store.Full
			if bodyPos == deltaIdx {
				variant = store.Delta
			}
			rel := ctx.Registry.Rel(logical, variant)
			rv := ctx.nextRowVar(strings.ToLower(stmt.Sym.Name))
			searches = append(searches, search{rv: rv, rel: rel})

			keyArity := atomKeyArity(stmt)
			for col := 0; col < keyArity; col++ {
				site := store.RowCol(rv.Id, col)
				ctx.Positions.Union(site, store.RelCol(logical.Sym.Id, col))
				load := ram.RowLoad{Rv: rv, Attr: col}
				switch t := stmt.Terms[col].(type) {
				case ast.Wild:
				case ast.Lit:
					litSite := ctx.NextSite()
					ctx.Positions.Union(store.LitSite(litSite), site)
					conds = append(conds, ram.Eq{A: load, B: ram.Lit{Value: t.Value, Site: litSite}})
				case ast.Var:
					if bound, ok := env[t.Name]; ok && bound.key != nil {
						ctx.Positions.Union(site, bound.site)
						conds = append(conds, ram.Eq{A: load, B: bound.key})
					} else {
						bound.key = load
						bound.site = site
						env[t.Name] = bound
					}
				default:
					panic(fmt.Sprintf("compiler: unknown body term %T", t))
				}
			}

			if stmt.Den.IsLattice() {
				lat := stmt.Den.Lat
				latTerm := ram.Term(ram.LatVar{Rv: rv})
				conds = append(conds, ram.NotBot{T: latTerm, Lat: lat})
				last := stmt.Terms[len(stmt.Terms)-1]
				switch t := last.(type) {
				case ast.Wild:
				case ast.Lit:
					litSite := ctx.NextSite()
					conds = append(conds, ram.Leq{
						A:   ram.Lit{Value: t.Value, Site: litSite},
						B:   latTerm,
						Lat: lat,
					})
				case ast.Var:
					bound := env[t.Name]
					if bound.lat != nil {
						bound.lat = ram.Meet{A: bound.lat, B: latTerm, Lat: lat}
					} else {
						bound.lat = latTerm
					}
					env[t.Name] = bound
				}
			}

		case ast.Guard:
			if len(stmt.Args) == 0 {
				// Constant guard: decided now, never emitted.
				if !stmt.Fn(nil) {
					return nil, nil
				}
				continue
			}

		case ast.Functional:
			// handled after atoms so inputs are bound
		}
	}

	// Functional loops bind their outputs after every atom is bound.
	for _, b := range rule.Body {
		fn, ok := b.(ast.Functional)
		if !ok {
			continue
		}
		site := ctx.NextSite()
		args := make([]ram.Term, len(fn.InVars))
		for i, v := range fn.InVars {
			bound, ok := env[v]
			if !ok || bound.key == nil {
				return nil, errors.Errorf("rule %d: functional input %s is unbound", ruleNo, v)
			}
			ctx.Positions.Union(store.FnArg(site, i), bound.site)
			args[i] = bound.key
		}
		rv := ctx.nextRowVar("fn")
		fnLoops = append(fnLoops, ram.Functional{
			Rv:    rv,
			Fn:    fn.Fn,
			Args:  args,
			Arity: len(fn.OutVars),
		})
		for i, v := range fn.OutVars {
			outSite := store.RowCol(rv.Id, i)
			ctx.Positions.Touch(outSite)
			load := ram.RowLoad{Rv: rv, Attr: i}
			if bound, ok := env[v]; ok && bound.key != nil {
				ctx.Positions.Union(outSite, bound.site)
				conds = append(conds, ram.Eq{A: load, B: bound.key})
			} else {
				env[v] = binding{key: load, site: outSite}
			}
		}
	}

	// Negated atoms and remaining guards, now that bindings are complete.
	for _, b := range rule.Body {
		switch stmt := b.(type) {
		case ast.Atom:
			if stmt.Polarity != ast.Negative {
				continue
			}
			if stmt.Den.IsLattice() {
				return nil, errors.Errorf("rule %d: negation over lattice atom %s", ruleNo, stmt.Sym.Name)
			}
			logical := ctx.Rels[stmt.Sym.Id]
			rel := ctx.Registry.Rel(logical, store.Full)
			terms := make([]ram.Term, len(stmt.Terms))
			for i, t := range stmt.Terms {
				switch tt := t.(type) {
				case ast.Var:
					bound, ok := env[tt.Name]
					if !ok || bound.key == nil {
						return nil, errors.Errorf("rule %d: unbound variable %s in negated atom", ruleNo, tt.Name)
					}
					ctx.Positions.Union(store.RelCol(logical.Sym.Id, i), bound.site)
					terms[i] = bound.key
				case ast.Lit:
					litSite := ctx.NextSite()
					ctx.Positions.Union(store.LitSite(litSite), store.RelCol(logical.Sym.Id, i))
					terms[i] = ram.Lit{Value: tt.Value, Site: litSite}
				case ast.Wild:
					return nil, errors.Errorf("rule %d: wildcard in negated atom %s", ruleNo, stmt.Sym.Name)
				}
			}
			conds = append(conds, ram.NotMemberOf{Terms: terms, Rel: rel})

		case ast.Guard:
			if len(stmt.Args) == 0 {
				continue
			}
			if len(stmt.Args) > ast.MaxGuardArity {
				return nil, errors.Errorf("rule %d: guard arity %d exceeds %d", ruleNo, len(stmt.Args), ast.MaxGuardArity)
			}
			site := ctx.NextSite()
			args := make([]ram.Term, len(stmt.Args))
			for i, v := range stmt.Args {
				bound, ok := env[v]
				if !ok || bound.key == nil {
					return nil, errors.Errorf("rule %d: unbound variable %s in guard", ruleNo, v)
				}
				ctx.Positions.Union(store.FnArg(site, i), bound.site)
				args[i] = bound.key
			}
			conds = append(conds, ram.GuardExp{Fn: stmt.Fn, Args: args, Site: site})
		}
	}

	// Head projection into New(head).
	logicalHead := ctx.Rels[rule.Head.Sym.Id]
	target := ctx.Registry.Rel(logicalHead, store.New)
	keyArity := headArity(rule.Head)

	headTerm := func(t ast.HeadTerm, col int, headSite store.Site) (ram.Term, error) {
		switch tt := t.(type) {
		case ast.HeadVar:
			bound, ok := env[tt.Name]
			if !ok || bound.key == nil {
				return nil, errors.Errorf("rule %d: unbound head variable %s", ruleNo, tt.Name)
			}
			ctx.Positions.Union(headSite, bound.site)
			return bound.key, nil
		case ast.HeadLit:
			litSite := ctx.NextSite()
			ctx.Positions.Union(store.LitSite(litSite), headSite)
			return ram.Lit{Value: tt.Value, Site: litSite}, nil
		case ast.HeadApp:
			site := ctx.NextSite()
			args := make([]ram.Term, len(tt.Args))
			for i, v := range tt.Args {
				bound, ok := env[v]
				if !ok || bound.key == nil {
					return nil, errors.Errorf("rule %d: unbound variable %s in head application", ruleNo, v)
				}
				ctx.Positions.Union(store.FnArg(site, i), bound.site)
				args[i] = bound.key
			}
			ctx.Positions.Union(store.FnArg(site, ast.MaxGuardArity), headSite)
			return ram.App{Fn: tt.Fn, Args: args, Site: site}, nil
		default:
			panic(fmt.Sprintf("compiler: unknown head term %T", t))
		}
	}

	terms := make([]ram.Term, keyArity)
	for col := 0; col < keyArity; col++ {
		t, err := headTerm(rule.Head.Terms[col], col, store.RelCol(logicalHead.Sym.Id, col))
		if err != nil {
			return nil, err
		}
		terms[col] = t
	}

	var latTerm ram.Term
	if logicalHead.Den.IsLattice() {
		last := rule.Head.Terms[len(rule.Head.Terms)-1]
		switch tt := last.(type) {
		case ast.HeadVar:
			bound, ok := env[tt.Name]
			if !ok {
				return nil, errors.Errorf("rule %d: unbound head lattice variable %s", ruleNo, tt.Name)
			}
			if bound.lat != nil {
				latTerm = bound.lat
			} else if bound.key != nil {
				latTerm = bound.key
			} else {
				return nil, errors.Errorf("rule %d: unbound head lattice variable %s", ruleNo, tt.Name)
			}
		case ast.HeadLit:
			latTerm = ram.Lit{Value: tt.Value, Site: ctx.NextSite()}
		case ast.HeadApp:
			site := ctx.NextSite()
			args := make([]ram.Term, len(tt.Args))
			for i, v := range tt.Args {
				bound, ok := env[v]
				if !ok {
					return nil, errors.Errorf("rule %d: unbound variable %s in head application", ruleNo, v)
				}
				switch {
				case bound.lat != nil:
					args[i] = bound.lat
				case bound.key != nil:
					ctx.Positions.Union(store.FnArg(site, i), bound.site)
					args[i] = bound.key
				default:
					return nil, errors.Errorf("rule %d: unbound variable %s in head application", ruleNo, v)
				}
			}
			latTerm = ram.App{Fn: tt.Fn, Args: args, Site: site}
		}
		conds = append(conds, ram.NotSubsumed{
			Terms: terms,
			Lat:   latTerm,
			Rel:   ctx.Registry.Rel(logicalHead, store.Full),
		})
	} else {
		// Semi-naive dedup: a tuple already in Full is not new.
		conds = append(conds, ram.NotMemberOf{
			Terms: terms,
			Rel:   ctx.Registry.Rel(logicalHead, store.Full),
		})
	}

	// Assemble inside out: Project, guards, functional loops, searches.
	var op ram.RelOp = ram.Project{Terms: terms, Lat: latTerm, Rel: target}
	if len(conds) > 0 {
		op = ram.If{Conds: conds, Body: op}
	}
	for i := len(fnLoops) - 1; i >= 0; i-- {
		loop := fnLoops[i]
		loop.Body = op
		op = loop
	}
	for i := len(searches) - 1; i >= 0; i-- {
		op = ram.Search{Rv: searches[i].rv, Rel: searches[i].rel, Body: op}
	}
	return &ram.Insert{Op: op, RuleNo: ruleNo}, nil
}
