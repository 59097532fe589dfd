package compiler

import (
	"sort"
	"sync"

	"github.com/wbrown/janus-fixpoint/fixpoint"
	"github.com/wbrown/janus-fixpoint/fixpoint/ram"
	"github.com/wbrown/janus-fixpoint/fixpoint/store"
)

// ProfileTarget is one instrumented (relation, attribute set) pair.
type ProfileTarget struct {
	Id    int
	Rel   fixpoint.RelSym // Full variant
	Attrs []int
}

// Obs is one observation of a target: relation size and the number of
// distinct projections onto the target's attributes.
type Obs struct {
	Size     int64
	Distinct int64
}

// Profile accumulates observations across fixpoint iterations. The
// interpreter records into it when it executes EstimateJoinSize.
type Profile struct {
	mu  sync.Mutex
	obs map[int][]Obs
}

// NewProfile creates an empty profile.
func NewProfile() *Profile {
	return &Profile{obs: make(map[int][]Obs)}
}

// Record appends one observation for a target.
func (p *Profile) Record(id int, size, distinct int64) {
	p.mu.Lock()
	p.obs[id] = append(p.obs[id], Obs{Size: size, Distinct: distinct})
	p.mu.Unlock()
}

// ObsOf returns the recorded observations of a target.
func (p *Profile) ObsOf(id int) []Obs {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Obs(nil), p.obs[id]...)
}

// Instrument returns a copy of the program with EstimateJoinSize statements
// at the end of every fixpoint iteration and once at the end of the run, one
// per (relation, attribute set) the join optimizer may ask about. The
// attribute sets per row variable are every subset of its variable-equality
// attributes unioned with its constant-equality attributes.
func Instrument(ctx *Context, s ram.Stmt) (ram.Stmt, []ProfileTarget) {
	sets := make(map[int64]map[attrSet]bool)
	collectProfileSets(ctx, s, sets)

	var targets []ProfileTarget
	targetId := make(map[int64]map[attrSet]int)
	ids := make([]int64, 0, len(sets))
	for id := range sets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		rel := ctx.Registry.Rel(ctx.Rels[id], store.Full)
		var setList []attrSet
		for set := range sets[id] {
			setList = append(setList, set)
		}
		sort.Slice(setList, func(i, j int) bool { return setList[i] < setList[j] })
		for _, set := range setList {
			t := ProfileTarget{Id: len(targets), Rel: rel, Attrs: setAttrs(set, rel.Arity)}
			targets = append(targets, t)
			if targetId[id] == nil {
				targetId[id] = make(map[attrSet]int)
			}
			targetId[id][set] = t.Id
		}
	}

	estimates := func() []ram.Stmt {
		out := make([]ram.Stmt, 0, len(targets))
		for _, t := range targets {
			out = append(out, ram.EstimateJoinSize{ProfileId: t.Id, Rel: t.Rel, Attrs: t.Attrs})
		}
		return out
	}

	instrumented := appendEstimates(s, estimates)
	final := append([]ram.Stmt{instrumented}, estimates()...)
	return ram.Seq{Stmts: final}, targets
}

func appendEstimates(s ram.Stmt, estimates func() []ram.Stmt) ram.Stmt {
	switch st := s.(type) {
	case ram.Seq:
		out := make([]ram.Stmt, len(st.Stmts))
		for i, c := range st.Stmts {
			out[i] = appendEstimates(c, estimates)
		}
		return ram.Seq{Stmts: out}
	case ram.Par:
		out := make([]ram.Stmt, len(st.Stmts))
		for i, c := range st.Stmts {
			out[i] = appendEstimates(c, estimates)
		}
		return ram.Par{Stmts: out}
	case ram.Until:
		body := make([]ram.Stmt, len(st.Body))
		for i, c := range st.Body {
			body[i] = appendEstimates(c, estimates)
		}
		body = append(body, estimates()...)
		return ram.Until{Conds: st.Conds, Body: body}
	default:
		return s
	}
}

// collectProfileSets walks every rule and records, per logical relation, the
// attribute sets the optimizer's cost function can query.
func collectProfileSets(ctx *Context, s ram.Stmt, into map[int64]map[attrSet]bool) {
	forEachInsert(s, func(ins ram.Insert) {
		rt := flattenRule(ins.Op)
		specs := ruleJoinSpecs(ctx, rt)
		for _, sp := range specs {
			if into[sp.logical] == nil {
				into[sp.logical] = make(map[attrSet]bool)
			}
			// Every subset of the variable-bound attrs, each together with
			// the always-bound constant attrs.
			varAttrs := setAttrs(sp.varAttrs, 64)
			for sub := 0; sub < (1 << uint(len(varAttrs))); sub++ {
				set := sp.constAttrs
				for i, a := range varAttrs {
					if sub&(1<<uint(i)) != 0 {
						set = set.with(a)
					}
				}
				into[sp.logical][set] = true
			}
		}
	})
}

func forEachInsert(s ram.Stmt, f func(ram.Insert)) {
	switch st := s.(type) {
	case ram.Seq:
		for _, c := range st.Stmts {
			forEachInsert(c, f)
		}
	case ram.Par:
		for _, c := range st.Stmts {
			forEachInsert(c, f)
		}
	case ram.Until:
		for _, c := range st.Body {
			forEachInsert(c, f)
		}
	case ram.Insert:
		f(st)
	}
}

func setAttrs(s attrSet, arity int) []int {
	var out []int
	for i := 0; i < arity && i < 64; i++ {
		if s.has(i) {
			out = append(out, i)
		}
	}
	return out
}
