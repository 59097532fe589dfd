package solver

import (
	"math/rand"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/wbrown/janus-fixpoint/fixpoint"
	"github.com/wbrown/janus-fixpoint/fixpoint/ast"
	"github.com/wbrown/janus-fixpoint/fixpoint/compiler"
	"github.com/wbrown/janus-fixpoint/fixpoint/interp"
	"github.com/wbrown/janus-fixpoint/fixpoint/provenance"
	"github.com/wbrown/janus-fixpoint/fixpoint/ram"
	"github.com/wbrown/janus-fixpoint/fixpoint/store"
)

// Solve evaluates a Datalog input to its minimal model.
func Solve(d Datalog, opts Options) (*Model, error) {
	model, _, err := run(d, opts)
	return model, err
}

// Provenance pairs a solved model with enough of the compiled program to
// rebuild proof trees on demand.
type Provenance struct {
	Model *Model

	recon *provenance.Reconstructor
}

// Prove reconstructs one witness derivation of a goal tuple.
func (p *Provenance) Prove(sym fixpoint.PredSym, vals []fixpoint.Boxed) (provenance.ProofTree, error) {
	return p.recon.Prove(sym, vals)
}

// SolveWithProvenance evaluates the input with depth and rule annotations.
// Proof trees are only reconstructed for goals the caller asks about; the
// solver itself issues no probe queries.
// TODO: the original solver fired a hard-coded Path(0,10000) probe after a
// provenance solve; its purpose is unresolved and it is deliberately absent.
func SolveWithProvenance(d Datalog, opts Options) (*Provenance, error) {
	opts.UseProvenance = true
	model, ctx, err := run(d, opts)
	if err != nil {
		return nil, err
	}

	facts := make(map[int64][]provenance.Fact)
	for id, mr := range model.Rels {
		for _, row := range mr.Rows {
			facts[id] = append(facts[id], provenance.Fact{
				Vals:  row.Vals,
				Depth: row.Depth,
				Rule:  row.Rule,
			})
		}
	}
	return &Provenance{
		Model: model,
		recon: provenance.NewReconstructor(facts, ctx.Rels, ctx.Rules),
	}, nil
}

// ProvOf solves with provenance and returns the pre-order flattened proof of
// one goal, or ok=false when the goal is not in the model.
func ProvOf(goal []fixpoint.Boxed, p fixpoint.PredSym, d Datalog, opts Options) ([]provenance.Goal, bool, error) {
	prov, err := SolveWithProvenance(d, opts)
	if err != nil {
		return nil, false, err
	}
	tree, err := prov.Prove(p, goal)
	if err != nil {
		return nil, false, nil
	}
	return provenance.Flatten(tree), true, nil
}

// factGroup is the EDB of one relation, split into key rows and lattice
// elements.
type factGroup struct {
	rel  fixpoint.RelSym
	keys [][]fixpoint.Boxed
	lats []fixpoint.Boxed
}

// run drives the full pipeline: analyze, compile, simplify, hoist, select
// indexes, optionally profile and reorder, optionally augment provenance,
// lower, load, interpret and marshal.
func run(d Datalog, opts Options) (*Model, *compiler.Context, error) {
	dbg, err := newDebugger(opts)
	if err != nil {
		return nil, nil, err
	}
	defer dbg.close()

	prog, seed := split(d)
	if seed != nil {
		prog = ast.Append(prog, seedFacts(seed))
	}

	start := time.Now()
	ctx, err := compiler.Analyze(prog)
	if err != nil {
		return nil, nil, err
	}
	ctx.UnifyPositions()
	dbg.phase("analyze", start)

	start = time.Now()
	stmt, err := compiler.Compile(ctx)
	if err != nil {
		return nil, nil, err
	}
	dbg.phase("compile", start)
	dbg.dump("compile", stmt)

	stmt = compiler.Simplify(stmt)
	dbg.dump("simplify", stmt)

	// Hoisting can prune whole rules, so dead loops are swept once more.
	stmt = compiler.Simplify(compiler.Hoist(stmt))
	dbg.dump("hoist", stmt)

	compiler.SelectIndexes(ctx, stmt)
	ctx.FreezePositions()

	bx := store.NewBoxing(0)
	groups, total := groupFacts(ctx)

	if !opts.DisableJoinOptimizer && total >= opts.ProfilerMinimumFacts {
		start = time.Now()
		stmt = profileAndReorder(ctx, stmt, bx, groups, opts, dbg)
		compiler.SelectIndexes(ctx, stmt)
		dbg.phase("join optimizer", start)
		dbg.dump("reorder", stmt)
	}

	if opts.UseProvenance {
		stmt, err = compiler.AugmentProvenance(ctx, stmt)
		if err != nil {
			return nil, nil, err
		}
		dbg.dump("provenance", stmt)
	}

	start = time.Now()
	lw := interp.NewLowerer(ctx, bx, opts.UseProvenance)
	eprog, err := lw.Lower(stmt)
	if err != nil {
		return nil, nil, err
	}
	dbg.phase("lower", start)

	machine := interp.NewMachine(eprog, bx, interp.Config{
		IndexArity: opts.IndexArity,
		ParLevel:   opts.ParLevel,
		MaxWorkers: opts.MaxWorkers,
	})
	if err := loadFacts(machine, eprog, ctx, bx, groups, opts); err != nil {
		return nil, nil, err
	}

	start = time.Now()
	if err := machine.Run(); err != nil {
		return nil, nil, err
	}
	dbg.phase("interpret", start)

	model := marshal(machine, eprog, ctx, bx, opts.UseProvenance)
	if opts.EnableDebugPrintFacts {
		printModel(os.Stdout, model)
	}
	return model, ctx, nil
}

// seedFacts turns a model's rows back into fact constraints.
func seedFacts(m *Model) ast.Program {
	var out ast.Program
	for _, mr := range m.Rels {
		den := mr.Rel.Den
		for _, row := range mr.Rows {
			terms := make([]ast.HeadTerm, 0, len(row.Vals)+1)
			for _, v := range row.Vals {
				terms = append(terms, ast.HeadLit{Value: v})
			}
			if den.IsLattice() {
				terms = append(terms, ast.HeadLit{Value: row.Lat})
			}
			out.Constraints = append(out.Constraints, ast.Constraint{
				Head: ast.HeadAtom{Sym: mr.Rel.Sym, Den: den, Terms: terms},
			})
		}
	}
	return out
}

// groupFacts buckets the analyzed facts per relation.
func groupFacts(ctx *compiler.Context) (map[int64]*factGroup, int) {
	groups := make(map[int64]*factGroup)
	total := 0
	for _, fact := range ctx.Facts {
		rel := ctx.Rels[fact.Head.Sym.Id]
		g, ok := groups[rel.Sym.Id]
		if !ok {
			g = &factGroup{rel: rel}
			groups[rel.Sym.Id] = g
		}
		keys := make([]fixpoint.Boxed, rel.Arity)
		for i := 0; i < rel.Arity; i++ {
			keys[i] = fact.Head.Terms[i].(ast.HeadLit).Value
		}
		g.keys = append(g.keys, keys)
		if rel.Den.IsLattice() {
			g.lats = append(g.lats, fact.Head.Terms[rel.Arity].(ast.HeadLit).Value)
		}
		total++
	}
	return groups, total
}

// fullIndexesOf maps every logical relation to its Full index slots.
func fullIndexesOf(ctx *compiler.Context, eprog *interp.Program) map[int64][]int {
	out := make(map[int64][]int)
	for slot, spec := range eprog.Indexes {
		logical, variant := ctx.Registry.Logical(spec.Rel.Sym.Id)
		if variant == store.Full {
			out[logical] = append(out[logical], slot)
		}
	}
	return out
}

// loadFacts boxes the EDB in parallel shards and inserts the tuples into
// every Full index of their relation. Under provenance, EDB tuples carry
// depth 0 and the EDB rule sentinel.
func loadFacts(m *interp.Machine, eprog *interp.Program, ctx *compiler.Context, bx *store.Boxing, groups map[int64]*factGroup, opts Options) error {
	full := fullIndexesOf(ctx, eprog)
	for id, g := range groups {
		positions := make([]store.Pos, g.rel.Arity)
		for c := range positions {
			positions[c] = ctx.Positions.PosOf(store.RelCol(id, c))
		}
		tuples, err := bx.UnboxRows(positions, g.keys, opts.MaxWorkers)
		if err != nil {
			return errors.Wrapf(err, "loading facts of %s", g.rel.Sym.Name)
		}
		lattice := g.rel.Den.IsLattice()
		for i, t := range tuples {
			if opts.UseProvenance && !lattice {
				t = append(t, 0, compiler.EdbRule)
			}
			for _, slot := range full[id] {
				order := eprog.Indexes[slot].Order
				key := make(fixpoint.Tuple, len(order))
				for j, attr := range order {
					key[j] = t[attr]
				}
				if lattice {
					lat := g.rel.Den.Lat
					if fixpoint.Equal(g.lats[i], lat.Bot) {
						continue
					}
					m.Indexes[slot].PutWith(lat.Lub, key, g.lats[i])
				} else {
					m.Indexes[slot].Put(key, fixpoint.NoValue)
				}
			}
		}
	}
	return nil
}

// profileAndReorder samples the EDB, runs the instrumented program against
// the sample and feeds the recorded join sizes to the Selinger reorder.
func profileAndReorder(ctx *compiler.Context, stmt ram.Stmt, bx *store.Boxing, groups map[int64]*factGroup, opts Options, dbg *debugger) ram.Stmt {
	iStmt, targets := compiler.Instrument(ctx, stmt)
	prof := compiler.NewProfile()

	lw := interp.NewLowerer(ctx, bx, false)
	eprog, err := lw.Lower(iStmt)
	if err != nil {
		return stmt
	}
	machine := interp.NewMachine(eprog, bx, interp.Config{
		IndexArity: opts.IndexArity,
		MaxWorkers: opts.MaxWorkers,
		Profile:    prof,
	})
	sampled := sampleGroups(groups, opts)
	if err := loadFacts(machine, eprog, ctx, bx, sampled, opts); err != nil {
		return stmt
	}
	if err := machine.Run(); err != nil {
		dbg.log.WithError(err).Debug("profile run failed; keeping original order")
		return stmt
	}
	return compiler.ReorderJoins(ctx, stmt, prof, targets)
}

// sampleGroups keeps each fact with the configured Bernoulli probability
// under a fixed seed, enforcing a minimum sample per relation.
func sampleGroups(groups map[int64]*factGroup, opts Options) map[int64]*factGroup {
	rng := rand.New(rand.NewSource(opts.ProfilerSeed))
	out := make(map[int64]*factGroup, len(groups))
	for id, g := range groups {
		s := &factGroup{rel: g.rel}
		for i := range g.keys {
			if rng.Float64() >= opts.ProfilerDiscrimination {
				continue
			}
			s.keys = append(s.keys, g.keys[i])
			if len(g.lats) > 0 {
				s.lats = append(s.lats, g.lats[i])
			}
		}
		min := opts.ProfilerFactLowerBound
		if min > len(g.keys) {
			min = len(g.keys)
		}
		for i := 0; len(s.keys) < min; i++ {
			s.keys = append(s.keys, g.keys[i])
			if len(g.lats) > 0 {
				s.lats = append(s.lats, g.lats[i])
			}
		}
		out[id] = s
	}
	return out
}

// marshal copies the Full relations out of the interpreter region, boxing
// codes back into values and splitting off provenance columns.
func marshal(m *interp.Machine, eprog *interp.Program, ctx *compiler.Context, bx *store.Boxing, prov bool) *Model {
	model := NewModel()
	seen := make(map[int64]bool)
	for slot, spec := range eprog.Indexes {
		logical, variant := ctx.Registry.Logical(spec.Rel.Sym.Id)
		if variant != store.Full || seen[logical] {
			continue
		}
		seen[logical] = true
		rel := ctx.Rels[logical]
		order := spec.Order
		m.Indexes[slot].ForEach(func(key fixpoint.Tuple, val fixpoint.Boxed) bool {
			natural := make(fixpoint.Tuple, len(order))
			for j, attr := range order {
				natural[attr] = key[j]
			}
			vals := make([]fixpoint.Boxed, rel.Arity)
			for c := 0; c < rel.Arity; c++ {
				vals[c] = bx.BoxWith(natural[c], ctx.Positions.PosOf(store.RelCol(logical, c)))
			}
			row := FactRow{Vals: vals, Lat: val, Depth: -1, Rule: -1}
			if prov && !rel.Den.IsLattice() {
				row.Depth = natural[rel.Arity]
				row.Rule = natural[rel.Arity+1]
			}
			model.Add(rel, row)
			return true
		})
	}
	return model
}
