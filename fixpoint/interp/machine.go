package interp

import (
	"encoding/binary"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/wbrown/janus-fixpoint/fixpoint"
	"github.com/wbrown/janus-fixpoint/fixpoint/compiler"
	"github.com/wbrown/janus-fixpoint/fixpoint/store"
)

// Config carries the runtime knobs of one machine.
type Config struct {
	// IndexArity is the B-tree fan-out of every index.
	IndexArity int
	// ParLevel caps how many enclosing searches may still shard across
	// workers. At zero every search runs sequentially.
	ParLevel int
	// MaxWorkers bounds every worker pool; zero means NumCPU.
	MaxWorkers int
	// Profile receives EstimateJoinSize observations when set.
	Profile *compiler.Profile
}

// Machine executes a lowered program. Indexes are shared across workers;
// the tuple, search-bound and lattice environments are cloned at every
// worker-spawn point so each worker owns its own.
type Machine struct {
	prog    *Program
	bx      *store.Boxing
	cfg     Config
	Indexes []*store.OrderedIndex
}

// NewMachine allocates the index region of one execution.
func NewMachine(prog *Program, bx *store.Boxing, cfg Config) *Machine {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = runtime.NumCPU()
	}
	m := &Machine{prog: prog, bx: bx, cfg: cfg}
	m.Indexes = make([]*store.OrderedIndex, len(prog.Indexes))
	for i, spec := range prog.Indexes {
		m.Indexes[i] = store.NewOrderedIndex(spec.Order, cfg.IndexArity)
	}
	return m
}

// env is the per-worker machine state: the bound tuple, the min and max
// search tuples and the bound lattice element of every row variable.
type env struct {
	tuple [][]int64
	min   [][]int64
	max   [][]int64
	lat   []fixpoint.Boxed
}

func newEnv(widths []int) *env {
	e := &env{
		tuple: make([][]int64, len(widths)),
		min:   make([][]int64, len(widths)),
		max:   make([][]int64, len(widths)),
		lat:   make([]fixpoint.Boxed, len(widths)),
	}
	for i, w := range widths {
		e.min[i] = make([]int64, w)
		e.max[i] = make([]int64, w)
		for j := 0; j < w; j++ {
			e.min[i][j] = math.MinInt64
			e.max[i][j] = math.MaxInt64
		}
	}
	return e
}

func (e *env) clone() *env {
	c := &env{
		tuple: make([][]int64, len(e.tuple)),
		min:   make([][]int64, len(e.min)),
		max:   make([][]int64, len(e.max)),
		lat:   append([]fixpoint.Boxed(nil), e.lat...),
	}
	copy(c.tuple, e.tuple)
	for i := range e.min {
		c.min[i] = append([]int64(nil), e.min[i]...)
		c.max[i] = append([]int64(nil), e.max[i]...)
	}
	return c
}

// Run executes the program to completion.
func (m *Machine) Run() error {
	e := newEnv(m.prog.RowVarWidth)
	for _, cw := range m.prog.ConstWrites {
		e.min[cw.Rv][cw.Pos] = cw.V
		e.max[cw.Rv][cw.Pos] = cw.V
	}
	return m.execStmt(e, m.prog.Root, m.cfg.ParLevel)
}

func (m *Machine) execStmt(e *env, s EStmt, budget int) error {
	switch st := s.(type) {
	case ESeq:
		for _, c := range st.Stmts {
			if err := m.execStmt(e, c, budget); err != nil {
				return err
			}
		}
		return nil
	case EPar:
		var g errgroup.Group
		g.SetLimit(m.cfg.MaxWorkers)
		for _, c := range st.Stmts {
			c := c
			we := e.clone()
			g.Go(func() (err error) {
				defer func() {
					if r := recover(); r != nil {
						err = fmt.Errorf("worker panic: %v", r)
					}
				}()
				return m.execStmt(we, c, budget)
			})
		}
		return g.Wait()
	case EUntil:
		for {
			done := true
			for _, c := range st.Conds {
				if !m.evalBool(e, c) {
					done = false
					break
				}
			}
			if done {
				return nil
			}
			for _, c := range st.Body {
				if err := m.execStmt(e, c, budget); err != nil {
					return err
				}
			}
		}
	case EInsert:
		return m.execOp(e, st.Op, budget)
	case EMergeInto:
		src := m.Indexes[st.Src]
		src.ForEach(func(key fixpoint.Tuple, val fixpoint.Boxed) bool {
			for _, dst := range st.Dsts {
				out := make(fixpoint.Tuple, len(dst.Perm))
				for j, p := range dst.Perm {
					out[j] = key[p]
				}
				if st.Lat != nil {
					m.Indexes[dst.Slot].PutWith(st.Lat.Lub, out, val)
				} else {
					m.Indexes[dst.Slot].Put(out, val)
				}
			}
			return true
		})
		return nil
	case ESwap:
		for _, p := range st.Pairs {
			store.SwapContents(m.Indexes[p[0]], m.Indexes[p[1]])
		}
		return nil
	case EPurge:
		for _, slot := range st.Slots {
			m.Indexes[slot].Purge()
		}
		return nil
	case EEstimate:
		m.estimate(st)
		return nil
	default:
		panic(fmt.Sprintf("interp: cannot execute %T", s))
	}
}

// estimate counts the index size and the distinct projections onto the
// target attributes, feeding the join profiler.
func (m *Machine) estimate(st EEstimate) {
	if m.cfg.Profile == nil {
		return
	}
	idx := m.Indexes[st.Slot]
	size := int64(idx.Len())
	distinct := make(map[string]struct{})
	buf := make([]byte, 8*len(st.KeyPos))
	idx.ForEach(func(key fixpoint.Tuple, _ fixpoint.Boxed) bool {
		for i, p := range st.KeyPos {
			binary.LittleEndian.PutUint64(buf[i*8:], uint64(key[p]))
		}
		distinct[string(buf)] = struct{}{}
		return true
	})
	m.cfg.Profile.Record(st.ProfileId, size, int64(len(distinct)))
}

func (m *Machine) bindAndRecurse(e *env, rv int, lat bool, writes []Write, body ERelOp, budget int,
	key fixpoint.Tuple, val fixpoint.Boxed) error {
	e.tuple[rv] = key
	if lat {
		e.lat[rv] = val
	}
	for _, w := range writes {
		v := key[w.SrcPos]
		e.min[w.DstRv][w.DstPos] = v
		e.max[w.DstRv][w.DstPos] = v
	}
	return m.execOp(e, body, budget)
}

func (m *Machine) execOp(e *env, op ERelOp, budget int) error {
	switch o := op.(type) {
	case ESearch:
		idx := m.Indexes[o.Slot]
		if budget > 0 {
			return idx.ParForEachShard(m.cfg.MaxWorkers, func(scan func(store.Visitor)) error {
				we := e.clone()
				var visitErr error
				scan(func(key fixpoint.Tuple, val fixpoint.Boxed) bool {
					if err := m.bindAndRecurse(we, o.Rv, o.Lat, o.Writes, o.Body, budget-1, key, val); err != nil {
						visitErr = err
						return false
					}
					return true
				})
				return visitErr
			})
		}
		var visitErr error
		idx.ForEach(func(key fixpoint.Tuple, val fixpoint.Boxed) bool {
			if err := m.bindAndRecurse(e, o.Rv, o.Lat, o.Writes, o.Body, budget, key, val); err != nil {
				visitErr = err
				return false
			}
			return true
		})
		return visitErr
	case EQuery:
		idx := m.Indexes[o.Slot]
		lo := append(fixpoint.Tuple(nil), e.min[o.Rv]...)
		hi := append(fixpoint.Tuple(nil), e.max[o.Rv]...)
		var visitErr error
		idx.Range(lo, hi, func(key fixpoint.Tuple, val fixpoint.Boxed) bool {
			if err := m.bindAndRecurse(e, o.Rv, o.Lat, o.Writes, o.Body, budget, key, val); err != nil {
				visitErr = err
				return false
			}
			return true
		})
		return visitErr
	case EFunctional:
		args := make([]fixpoint.Boxed, len(o.Args))
		for i, a := range o.Args {
			args[i] = m.bx.BoxWith(m.evalKey(e, a), o.ArgPos[i])
		}
		for _, row := range o.Fn(args) {
			if len(row) != o.Arity {
				return fmt.Errorf("interp: functional returned %d columns, want %d", len(row), o.Arity)
			}
			key := make(fixpoint.Tuple, o.Arity)
			for i, v := range row {
				key[i] = m.bx.UnboxWith(v, o.OutPos[i])
			}
			if err := m.bindAndRecurse(e, o.Rv, false, o.Writes, o.Body, budget, key, fixpoint.NoValue); err != nil {
				return err
			}
		}
		return nil
	case EIf:
		for _, c := range o.Conds {
			if !m.evalBool(e, c) {
				return nil
			}
		}
		return m.execOp(e, o.Body, budget)
	case EProject:
		vals := make(fixpoint.Tuple, len(o.Terms))
		for i, t := range o.Terms {
			vals[i] = m.evalKey(e, t)
		}
		if o.LatOps != nil {
			v := m.evalLat(e, o.Lat)
			if fixpoint.Equal(v, o.LatOps.Bot) {
				return nil
			}
			for _, tgt := range o.Targets {
				key := make(fixpoint.Tuple, len(tgt.Perm))
				for j, p := range tgt.Perm {
					key[j] = vals[p]
				}
				m.Indexes[tgt.Slot].PutWith(o.LatOps.Lub, key, v)
			}
			return nil
		}
		for _, tgt := range o.Targets {
			key := make(fixpoint.Tuple, len(tgt.Perm))
			for j, p := range tgt.Perm {
				key[j] = vals[p]
			}
			m.Indexes[tgt.Slot].Put(key, fixpoint.NoValue)
		}
		return nil
	default:
		panic(fmt.Sprintf("interp: cannot execute relop %T", op))
	}
}

func (m *Machine) evalKey(e *env, t ETerm) int64 {
	switch tm := t.(type) {
	case ELoad:
		return e.tuple[tm.Rv][tm.Pos]
	case EConst:
		return tm.V
	case EApp:
		args := make([]fixpoint.Boxed, len(tm.Args))
		for i, a := range tm.Args {
			args[i] = m.bx.BoxWith(m.evalKey(e, a), tm.ArgPos[i])
		}
		return m.bx.UnboxWith(tm.Fn(args), tm.ResPos)
	case EProvMax:
		if len(tm.Rvs) == 0 {
			return 0
		}
		best := int64(math.MinInt64)
		for i, rv := range tm.Rvs {
			if d := e.tuple[rv][tm.Pos[i]]; d > best {
				best = d
			}
		}
		return best + 1
	default:
		panic(fmt.Sprintf("interp: cannot evaluate term %T", t))
	}
}

func (m *Machine) evalLat(e *env, t ELatTerm) fixpoint.Boxed {
	switch tm := t.(type) {
	case ELatLoad:
		return e.lat[tm.Rv]
	case ELatConst:
		return tm.V
	case ELatMeet:
		return tm.Lat.Glb(m.evalLat(e, tm.A), m.evalLat(e, tm.B))
	case ELatApp:
		args := make([]fixpoint.Boxed, len(tm.Args))
		for i, a := range tm.Args {
			args[i] = m.evalLat(e, a)
		}
		return tm.Fn(args)
	case ELatFromKey:
		return m.bx.BoxWith(m.evalKey(e, tm.T), tm.Pos)
	default:
		panic(fmt.Sprintf("interp: cannot evaluate lattice term %T", t))
	}
}

func (m *Machine) probe(e *env, slot int, terms []ETerm, width int, prefix bool) (bool, fixpoint.Boxed) {
	idx := m.Indexes[slot]
	key := make(fixpoint.Tuple, len(terms))
	for i, t := range terms {
		key[i] = m.evalKey(e, t)
	}
	if !prefix {
		v, ok := idx.Get(key)
		return ok, v
	}
	lo := make(fixpoint.Tuple, width)
	hi := make(fixpoint.Tuple, width)
	copy(lo, key)
	copy(hi, key)
	for i := len(key); i < width; i++ {
		lo[i] = math.MinInt64
		hi[i] = math.MaxInt64
	}
	found := false
	idx.Range(lo, hi, func(fixpoint.Tuple, fixpoint.Boxed) bool {
		found = true
		return false
	})
	return found, fixpoint.NoValue
}

func (m *Machine) evalBool(e *env, c EBoolExp) bool {
	switch b := c.(type) {
	case EEmpty:
		return m.Indexes[b.Slot].IsEmpty()
	case ENotEmpty:
		return !m.Indexes[b.Slot].IsEmpty()
	case EMemberOf:
		ok, _ := m.probe(e, b.Slot, b.Terms, b.Width, b.Prefix)
		return ok
	case ENotMemberOf:
		ok, _ := m.probe(e, b.Slot, b.Terms, b.Width, b.Prefix)
		return !ok
	case EEq:
		return m.evalKey(e, b.A) == m.evalKey(e, b.B)
	case ELeq:
		return b.Lat.Leq(m.evalLat(e, b.A), m.evalLat(e, b.B))
	case ENotBot:
		return !fixpoint.Equal(m.evalLat(e, b.T), b.Lat.Bot)
	case ENotSubsumed:
		ok, stored := m.probe(e, b.Slot, b.Terms, len(b.Terms), false)
		if !ok {
			return true
		}
		return !b.Ops.Leq(m.evalLat(e, b.Lat), stored)
	case EGuard:
		args := make([]fixpoint.Boxed, len(b.Args))
		for i, a := range b.Args {
			args[i] = m.bx.BoxWith(m.evalKey(e, a), b.ArgPos[i])
		}
		return b.Fn(args)
	default:
		panic(fmt.Sprintf("interp: cannot evaluate test %T", c))
	}
}
