package interp

import (
	"fmt"

	"github.com/wbrown/janus-fixpoint/fixpoint"
	"github.com/wbrown/janus-fixpoint/fixpoint/ast"
	"github.com/wbrown/janus-fixpoint/fixpoint/compiler"
	"github.com/wbrown/janus-fixpoint/fixpoint/ram"
	"github.com/wbrown/janus-fixpoint/fixpoint/store"
)

// Lowerer rewrites high-level RAM into the executable form: it allocates the
// index catalogue, numbers row variable registers, resolves every attribute
// reference to a key position, and turns query prefixes into constWrites and
// writeLists.
type Lowerer struct {
	ctx  *compiler.Context
	bx   *store.Boxing
	cat  *store.Catalogue
	prov bool

	specs   []IndexSpec
	rvSlot  map[int]int
	rvOrder map[int][]int
	widths  []int
	writes  map[int][]Write
	consts  []ConstWrite
}

// NewLowerer prepares lowering for an analyzed and index-selected program.
// The boxing table is shared with fact loading so literal constants land in
// the same code space as the data.
func NewLowerer(ctx *compiler.Context, bx *store.Boxing, prov bool) *Lowerer {
	return &Lowerer{
		ctx:     ctx,
		bx:      bx,
		cat:     store.NewCatalogue(),
		prov:    prov,
		rvSlot:  make(map[int]int),
		rvOrder: make(map[int][]int),
		writes:  make(map[int][]Write),
	}
}

// Catalogue returns the index catalogue built during lowering.
func (lw *Lowerer) Catalogue() *store.Catalogue { return lw.cat }

// Lower produces the executable program.
func (lw *Lowerer) Lower(s ram.Stmt) (*Program, error) {
	lw.allocateIndexes()
	root := lw.lowerStmt(s)
	return &Program{
		Root:        root,
		Indexes:     lw.specs,
		RowVarWidth: lw.widths,
		ConstWrites: lw.consts,
	}, nil
}

// keyOrder extends a logical order with the provenance columns when those
// are in play for the relation.
func (lw *Lowerer) keyOrder(rel fixpoint.RelSym, order []int) []int {
	if lw.prov && !rel.Den.IsLattice() {
		ext := append(append([]int(nil), order...), rel.Arity, rel.Arity+1)
		return ext
	}
	return order
}

// allocateIndexes assigns a slot to every (relation variant, order) pair the
// index selection chose. Full, Delta and New share their logical relation's
// schema.
func (lw *Lowerer) allocateIndexes() {
	variants := func(id int64) []store.Variant {
		if lw.ctx.IdbIds[id] {
			return []store.Variant{store.Full, store.Delta, store.New}
		}
		return []store.Variant{store.Full}
	}
	ids := make([]int64, 0, len(lw.ctx.Rels))
	for id := range lw.ctx.Rels {
		ids = append(ids, id)
	}
	// Deterministic slot numbering keeps dumps stable across runs.
	sortInt64s(ids)
	for _, id := range ids {
		logical := lw.ctx.Rels[id]
		orders := lw.ctx.Orders[id]
		if len(orders) == 0 {
			orders = [][]int{seqOrder(logical.Arity)}
		}
		for _, v := range variants(id) {
			rel := lw.ctx.Registry.Rel(logical, v)
			for _, order := range orders {
				key := lw.keyOrder(rel, order)
				slot := lw.cat.SlotFor(rel, key)
				for slot >= len(lw.specs) {
					lw.specs = append(lw.specs, IndexSpec{})
				}
				lw.specs[slot] = IndexSpec{Rel: rel, Order: key, Lat: rel.Den.Lat}
			}
		}
	}
}

func (lw *Lowerer) ordersOf(rel fixpoint.RelSym) [][]int {
	logical, _ := lw.ctx.Registry.Logical(rel.Sym.Id)
	orders := lw.ctx.Orders[logical]
	if len(orders) == 0 {
		orders = [][]int{seqOrder(lw.ctx.Rels[logical].Arity)}
	}
	return orders
}

func (lw *Lowerer) slotOf(rel fixpoint.RelSym, order []int) int {
	slot, ok := lw.cat.Lookup(rel, lw.keyOrder(rel, order))
	if !ok {
		panic(fmt.Sprintf("interp: missing index for %s order %v", rel, order))
	}
	return slot
}

func (lw *Lowerer) primaryOf(rel fixpoint.RelSym) (int, []int) {
	order := lw.ordersOf(rel)[0]
	return lw.slotOf(rel, order), lw.keyOrder(rel, order)
}

func (lw *Lowerer) newRv(rvId, width int, order []int) int {
	slot := len(lw.widths)
	lw.rvSlot[rvId] = slot
	lw.widths = append(lw.widths, width)
	lw.rvOrder[rvId] = order
	return slot
}

func keyPosOf(order []int, attr int) int {
	for i, a := range order {
		if a == attr {
			return i
		}
	}
	panic(fmt.Sprintf("interp: attribute %d not in order %v", attr, order))
}

func seqOrder(arity int) []int {
	out := make([]int, arity)
	for i := range out {
		out[i] = i
	}
	return out
}

func sameOrder(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sortInt64s(xs []int64) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j] < xs[j-1]; j-- {
			xs[j], xs[j-1] = xs[j-1], xs[j]
		}
	}
}

func (lw *Lowerer) lowerStmt(s ram.Stmt) EStmt {
	switch st := s.(type) {
	case ram.Seq:
		out := make([]EStmt, 0, len(st.Stmts))
		for _, c := range st.Stmts {
			if e := lw.lowerStmt(c); e != nil {
				out = append(out, e)
			}
		}
		return ESeq{Stmts: out}
	case ram.Par:
		out := make([]EStmt, 0, len(st.Stmts))
		for _, c := range st.Stmts {
			if e := lw.lowerStmt(c); e != nil {
				out = append(out, e)
			}
		}
		return EPar{Stmts: out}
	case ram.Until:
		conds := make([]EBoolExp, len(st.Conds))
		for i, c := range st.Conds {
			conds[i] = lw.lowerBoolExp(c)
		}
		body := make([]EStmt, 0, len(st.Body))
		for _, c := range st.Body {
			if e := lw.lowerStmt(c); e != nil {
				body = append(body, e)
			}
		}
		return EUntil{Conds: conds, Body: body}
	case ram.Insert:
		return EInsert{Op: lw.lowerInsert(st)}
	case ram.MergeInto:
		return lw.lowerMerge(st)
	case ram.Swap:
		return lw.lowerSwap(st)
	case ram.Purge:
		return EPurge{Slots: lw.slotsOfVariant(st.Rel)}
	case ram.Comment:
		return nil
	case ram.EstimateJoinSize:
		slot, order := lw.primaryOf(st.Rel)
		pos := make([]int, len(st.Attrs))
		for i, a := range st.Attrs {
			pos[i] = keyPosOf(order, a)
		}
		return EEstimate{ProfileId: st.ProfileId, Slot: slot, KeyPos: pos}
	default:
		panic(fmt.Sprintf("interp: cannot lower %T", s))
	}
}

func (lw *Lowerer) slotsOfVariant(rel fixpoint.RelSym) []int {
	var slots []int
	for _, order := range lw.ordersOf(rel) {
		slots = append(slots, lw.slotOf(rel, order))
	}
	return slots
}

func (lw *Lowerer) lowerMerge(st ram.MergeInto) EStmt {
	srcSlot, srcOrder := lw.primaryOf(st.Src)
	var dsts []MergeTarget
	for _, order := range lw.ordersOf(st.Dst) {
		key := lw.keyOrder(st.Dst, order)
		perm := make([]int, len(key))
		for j, attr := range key {
			perm[j] = keyPosOf(srcOrder, attr)
		}
		dsts = append(dsts, MergeTarget{Slot: lw.slotOf(st.Dst, order), Perm: perm})
	}
	return EMergeInto{Src: srcSlot, Dsts: dsts, Lat: st.Dst.Den.Lat}
}

func (lw *Lowerer) lowerSwap(st ram.Swap) EStmt {
	var pairs [][2]int
	for _, order := range lw.ordersOf(st.A) {
		pairs = append(pairs, [2]int{lw.slotOf(st.A, order), lw.slotOf(st.B, order)})
	}
	return ESwap{Pairs: pairs}
}

// lowerInsert walks one rule tree twice: the first pass numbers registers
// and picks indexes, the second attaches write lists and emits operations.
func (lw *Lowerer) lowerInsert(ins ram.Insert) ERelOp {
	lw.prepareOp(ins.Op)
	return lw.lowerOp(ins.Op)
}

// prepareOp allocates registers and collects the writeList and constWrite
// entries of every query prefix.
func (lw *Lowerer) prepareOp(op ram.RelOp) {
	switch o := op.(type) {
	case ram.Search:
		_, order := lw.primaryOf(o.Rel)
		lw.newRv(o.Rv.Id, len(order), order)
		lw.prepareOp(o.Body)
	case ram.Query:
		set := make(map[int]bool, len(o.Prefix))
		for _, p := range o.Prefix {
			set[p.Attr] = true
		}
		var chosen []int
		for _, order := range lw.ordersOf(o.Rel) {
			if compiler.OrderAnswers(order, set) {
				chosen = order
				break
			}
		}
		if chosen == nil {
			panic(fmt.Sprintf("interp: no index of %s answers %v", o.Rel, set))
		}
		key := lw.keyOrder(o.Rel, chosen)
		slot := lw.newRv(o.Rv.Id, len(key), key)
		for _, p := range o.Prefix {
			dstPos := keyPosOf(key, p.Attr)
			switch t := p.T.(type) {
			case ram.Lit:
				code := lw.bx.UnboxWith(t.Value, lw.ctx.Positions.PosOf(store.LitSite(t.Site)))
				lw.consts = append(lw.consts, ConstWrite{Rv: slot, Pos: dstPos, V: code})
			case ram.RawInt:
				lw.consts = append(lw.consts, ConstWrite{Rv: slot, Pos: dstPos, V: t.V})
			case ram.RowLoad:
				srcOrder := lw.rvOrder[t.Rv.Id]
				srcPos := t.Attr
				if srcOrder != nil {
					srcPos = keyPosOf(srcOrder, t.Attr)
				}
				lw.writes[t.Rv.Id] = append(lw.writes[t.Rv.Id], Write{
					SrcPos: srcPos,
					DstRv:  slot,
					DstPos: dstPos,
				})
			default:
				panic(fmt.Sprintf("interp: query prefix term %T cannot lower", p.T))
			}
		}
		lw.prepareOp(o.Body)
	case ram.Functional:
		lw.newRv(o.Rv.Id, o.Arity, nil)
		lw.prepareOp(o.Body)
	case ram.If:
		lw.prepareOp(o.Body)
	case ram.Project:
	}
}

func (lw *Lowerer) lowerOp(op ram.RelOp) ERelOp {
	switch o := op.(type) {
	case ram.Search:
		slot, _ := lw.primaryOf(o.Rel)
		return ESearch{
			Rv:     lw.rvSlot[o.Rv.Id],
			Slot:   slot,
			Lat:    o.Rel.Den.IsLattice(),
			Writes: lw.writes[o.Rv.Id],
			Body:   lw.lowerOp(o.Body),
		}
	case ram.Query:
		order := lw.rvOrder[o.Rv.Id]
		rel := o.Rel
		var slot int
		found := false
		for _, cand := range lw.ordersOf(rel) {
			if sameOrder(lw.keyOrder(rel, cand), order) {
				slot = lw.slotOf(rel, cand)
				found = true
				break
			}
		}
		if !found {
			panic(fmt.Sprintf("interp: lost index for %s", rel))
		}
		return EQuery{
			Rv:     lw.rvSlot[o.Rv.Id],
			Slot:   slot,
			Lat:    rel.Den.IsLattice(),
			Writes: lw.writes[o.Rv.Id],
			Body:   lw.lowerOp(o.Body),
		}
	case ram.Functional:
		args := make([]ETerm, len(o.Args))
		argPos := make([]int, len(o.Args))
		for i, a := range o.Args {
			args[i] = lw.lowerTerm(a)
			argPos[i] = lw.termBoxPos(a)
		}
		outPos := make([]int, o.Arity)
		for i := range outPos {
			outPos[i] = lw.ctx.Positions.PosOf(store.RowCol(o.Rv.Id, i))
		}
		return EFunctional{
			Rv:     lw.rvSlot[o.Rv.Id],
			Fn:     o.Fn,
			Args:   args,
			ArgPos: argPos,
			OutPos: outPos,
			Arity:  o.Arity,
			Writes: lw.writes[o.Rv.Id],
			Body:   lw.lowerOp(o.Body),
		}
	case ram.If:
		conds := make([]EBoolExp, len(o.Conds))
		for i, c := range o.Conds {
			conds[i] = lw.lowerBoolExp(c)
		}
		return EIf{Conds: conds, Body: lw.lowerOp(o.Body)}
	case ram.Project:
		terms := make([]ETerm, len(o.Terms))
		for i, t := range o.Terms {
			terms[i] = lw.lowerTerm(t)
		}
		var targets []ProjTarget
		for _, order := range lw.ordersOf(o.Rel) {
			key := lw.keyOrder(o.Rel, order)
			targets = append(targets, ProjTarget{Slot: lw.slotOf(o.Rel, order), Perm: key})
		}
		var lat ELatTerm
		if o.Lat != nil {
			lat = lw.lowerLatTerm(o.Lat)
		}
		return EProject{Terms: terms, Targets: targets, Lat: lat, LatOps: o.Rel.Den.Lat}
	default:
		panic(fmt.Sprintf("interp: cannot lower relop %T", op))
	}
}

// termBoxPos resolves the unified position a key term boxes through when it
// feeds a function argument.
func (lw *Lowerer) termBoxPos(t ram.Term) int {
	switch tm := t.(type) {
	case ram.RowLoad:
		return lw.ctx.Positions.PosOf(store.RowCol(tm.Rv.Id, tm.Attr))
	case ram.Lit:
		return lw.ctx.Positions.PosOf(store.LitSite(tm.Site))
	case ram.App:
		return lw.ctx.Positions.PosOf(store.FnArg(tm.Site, ast.MaxGuardArity))
	default:
		panic(fmt.Sprintf("interp: no box position for term %T", t))
	}
}

func (lw *Lowerer) lowerTerm(t ram.Term) ETerm {
	switch tm := t.(type) {
	case ram.RowLoad:
		order := lw.rvOrder[tm.Rv.Id]
		pos := tm.Attr
		if order != nil {
			pos = keyPosOf(order, tm.Attr)
		}
		return ELoad{Rv: lw.rvSlot[tm.Rv.Id], Pos: pos}
	case ram.Lit:
		code := lw.bx.UnboxWith(tm.Value, lw.ctx.Positions.PosOf(store.LitSite(tm.Site)))
		return EConst{V: code}
	case ram.RawInt:
		return EConst{V: tm.V}
	case ram.App:
		args := make([]ETerm, len(tm.Args))
		argPos := make([]int, len(tm.Args))
		for i, a := range tm.Args {
			args[i] = lw.lowerTerm(a)
			argPos[i] = lw.termBoxPos(a)
		}
		return EApp{
			Fn:     tm.Fn,
			Args:   args,
			ArgPos: argPos,
			ResPos: lw.ctx.Positions.PosOf(store.FnArg(tm.Site, ast.MaxGuardArity)),
		}
	case ram.ProvMax:
		rvs := make([]int, len(tm.Rvs))
		pos := make([]int, len(tm.Rvs))
		for i, rv := range tm.Rvs {
			rvs[i] = lw.rvSlot[rv.Id]
			order := lw.rvOrder[rv.Id]
			pos[i] = keyPosOf(order, tm.Depth[i])
		}
		return EProvMax{Rvs: rvs, Pos: pos}
	default:
		panic(fmt.Sprintf("interp: cannot lower term %T", t))
	}
}

func (lw *Lowerer) lowerLatTerm(t ram.Term) ELatTerm {
	switch tm := t.(type) {
	case ram.LatVar:
		return ELatLoad{Rv: lw.rvSlot[tm.Rv.Id]}
	case ram.Lit:
		return ELatConst{V: tm.Value}
	case ram.Meet:
		return ELatMeet{A: lw.lowerLatTerm(tm.A), B: lw.lowerLatTerm(tm.B), Lat: tm.Lat}
	case ram.App:
		args := make([]ELatTerm, len(tm.Args))
		for i, a := range tm.Args {
			args[i] = lw.lowerLatTerm(a)
		}
		return ELatApp{Fn: tm.Fn, Args: args}
	case ram.RowLoad:
		return ELatFromKey{
			T:   lw.lowerTerm(tm),
			Pos: lw.ctx.Positions.PosOf(store.RowCol(tm.Rv.Id, tm.Attr)),
		}
	default:
		panic(fmt.Sprintf("interp: cannot lower lattice term %T", t))
	}
}

// keyedTerms permutes natural-order terms into an index's key order. Under
// provenance the stored keys are wider than the tested terms and the test
// becomes a prefix probe.
func (lw *Lowerer) keyedTerms(terms []ram.Term, rel fixpoint.RelSym) (int, []ETerm, int, bool) {
	slot, order := lw.primaryOf(rel)
	prefix := len(order) > len(terms)
	out := make([]ETerm, len(terms))
	for j := 0; j < len(terms); j++ {
		out[j] = lw.lowerTerm(terms[order[j]])
	}
	return slot, out, len(order), prefix
}

func (lw *Lowerer) lowerBoolExp(c ram.BoolExp) EBoolExp {
	switch e := c.(type) {
	case ram.Empty:
		slot, _ := lw.primaryOf(e.Rel)
		return EEmpty{Slot: slot}
	case ram.NotEmpty:
		slot, _ := lw.primaryOf(e.Rel)
		return ENotEmpty{Slot: slot}
	case ram.MemberOf:
		slot, terms, width, prefix := lw.keyedTerms(e.Terms, e.Rel)
		return EMemberOf{Slot: slot, Terms: terms, Width: width, Prefix: prefix}
	case ram.NotMemberOf:
		slot, terms, width, prefix := lw.keyedTerms(e.Terms, e.Rel)
		return ENotMemberOf{Slot: slot, Terms: terms, Width: width, Prefix: prefix}
	case ram.Eq:
		return EEq{A: lw.lowerTerm(e.A), B: lw.lowerTerm(e.B)}
	case ram.Leq:
		return ELeq{A: lw.lowerLatTerm(e.A), B: lw.lowerLatTerm(e.B), Lat: e.Lat}
	case ram.NotBot:
		return ENotBot{T: lw.lowerLatTerm(e.T), Lat: e.Lat}
	case ram.NotSubsumed:
		slot, terms, _, _ := lw.keyedTerms(e.Terms, e.Rel)
		return ENotSubsumed{Slot: slot, Terms: terms, Lat: lw.lowerLatTerm(e.Lat), Ops: e.Rel.Den.Lat}
	case ram.GuardExp:
		args := make([]ETerm, len(e.Args))
		argPos := make([]int, len(e.Args))
		for i, a := range e.Args {
			args[i] = lw.lowerTerm(a)
			argPos[i] = lw.termBoxPos(a)
		}
		return EGuard{Fn: e.Fn, Args: args, ArgPos: argPos}
	default:
		panic(fmt.Sprintf("interp: cannot lower test %T", c))
	}
}
