package solver

import (
	"encoding/binary"
	"sort"
	"strings"

	"github.com/wbrown/janus-fixpoint/fixpoint"
)

// FactRow is one solved tuple: its key values, its lattice element (NoValue
// for relational relations) and, under provenance, its proof depth and rule
// number (-1, -1 otherwise).
type FactRow struct {
	Vals  []fixpoint.Boxed
	Lat   fixpoint.Boxed
	Depth int64
	Rule  int64
}

// ModelRel is the solved content of one relation.
type ModelRel struct {
	Rel   fixpoint.RelSym
	Rows  []FactRow
	byKey map[string]int
}

// Model is the minimal model of a solved program: the Full relations copied
// out of the interpreter's region.
type Model struct {
	Rels map[int64]*ModelRel
}

func (*Model) isDatalog() {}

// NewModel creates an empty model.
func NewModel() *Model {
	return &Model{Rels: make(map[int64]*ModelRel)}
}

func rowKey(vals []fixpoint.Boxed) string {
	var sb strings.Builder
	var n [8]byte
	for _, v := range vals {
		s := v.String()
		binary.LittleEndian.PutUint64(n[:], uint64(len(s)))
		sb.Write(n[:])
		sb.WriteString(s)
	}
	return sb.String()
}

func (m *Model) rel(rel fixpoint.RelSym) *ModelRel {
	mr, ok := m.Rels[rel.Sym.Id]
	if !ok {
		mr = &ModelRel{Rel: rel, byKey: make(map[string]int)}
		m.Rels[rel.Sym.Id] = mr
	}
	return mr
}

// Add inserts a row, joining lattice elements of duplicate keys and keeping
// the smaller depth for duplicate relational rows.
func (m *Model) Add(rel fixpoint.RelSym, row FactRow) {
	mr := m.rel(rel)
	if mr.byKey == nil {
		mr.byKey = make(map[string]int)
		for i, r := range mr.Rows {
			mr.byKey[rowKey(r.Vals)] = i
		}
	}
	key := rowKey(row.Vals)
	if i, ok := mr.byKey[key]; ok {
		prev := &mr.Rows[i]
		if rel.Den.IsLattice() {
			prev.Lat = rel.Den.Lat.Lub(prev.Lat, row.Lat)
		}
		if row.Depth >= 0 && (prev.Depth < 0 || row.Depth < prev.Depth) {
			prev.Depth = row.Depth
			prev.Rule = row.Rule
		}
		return
	}
	mr.byKey[key] = len(mr.Rows)
	mr.Rows = append(mr.Rows, row)
}

// RowsOf returns the rows of a predicate sorted by key values.
func (m *Model) RowsOf(p fixpoint.PredSym) []FactRow {
	mr, ok := m.Rels[p.Id]
	if !ok {
		return nil
	}
	rows := append([]FactRow(nil), mr.Rows...)
	sort.Slice(rows, func(i, j int) bool {
		return compareVals(rows[i].Vals, rows[j].Vals) < 0
	})
	return rows
}

func compareVals(a, b []fixpoint.Boxed) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := fixpoint.Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return len(a) - len(b)
}

// Union merges two models, joining lattice elements per relation.
func (m *Model) Union(o *Model) *Model {
	out := NewModel()
	for _, src := range []*Model{m, o} {
		if src == nil {
			continue
		}
		for _, mr := range src.Rels {
			for _, row := range mr.Rows {
				out.Add(mr.Rel, row)
			}
		}
	}
	return out
}

// Project keeps only the named predicate.
func (m *Model) Project(p fixpoint.PredSym) *Model {
	out := NewModel()
	if mr, ok := m.Rels[p.Id]; ok {
		for _, row := range mr.Rows {
			out.Add(mr.Rel, row)
		}
	}
	return out
}

// Equal compares two models as sets of annotated facts, ignoring provenance
// columns.
func (m *Model) Equal(o *Model) bool {
	if m == nil || o == nil {
		return m == o
	}
	if len(nonEmpty(m)) != len(nonEmpty(o)) {
		return false
	}
	for id, mr := range m.Rels {
		if len(mr.Rows) == 0 {
			continue
		}
		or, ok := o.Rels[id]
		if !ok || len(or.Rows) != len(mr.Rows) {
			return false
		}
		a := m.RowsOf(mr.Rel.Sym)
		b := o.RowsOf(mr.Rel.Sym)
		for i := range a {
			if compareVals(a[i].Vals, b[i].Vals) != 0 {
				return false
			}
			if mr.Rel.Den.IsLattice() && !fixpoint.Equal(a[i].Lat, b[i].Lat) {
				return false
			}
		}
	}
	return true
}

func nonEmpty(m *Model) map[int64]bool {
	out := make(map[int64]bool)
	for id, mr := range m.Rels {
		if len(mr.Rows) > 0 {
			out[id] = true
		}
	}
	return out
}
