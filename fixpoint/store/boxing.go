package store

import (
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/wbrown/janus-fixpoint/fixpoint"
)

// Pos is a unified position: an equivalence class of identifier sites that
// must share one value kind and one encoding. See unify.go.
type Pos = int

// kindUnset marks a position whose kind has not been observed yet.
const kindUnset fixpoint.Kind = 0xFF

// valueStore holds the encoding state of one unified position. Primitive
// kinds encode reversibly at bit level and never touch the tables; strings
// and objects get incrementing ids under the store's lock.
type valueStore struct {
	mu       sync.RWMutex
	kind     fixpoint.Kind
	toCode   map[string]int64
	fromCode []fixpoint.Boxed
}

func newValueStore() *valueStore {
	return &valueStore{kind: kindUnset}
}

// Boxing maps boxed values to Int64 codes per unified position and back.
// It grows while facts are injected. During execution the interpreter boxes
// guard, application and functional arguments through it, and unboxing their
// results can still assign new string and object ids.
type Boxing struct {
	mu        sync.RWMutex
	positions []*valueStore
}

// NewBoxing creates a boxing table with room for n unified positions.
func NewBoxing(n int) *Boxing {
	bx := &Boxing{positions: make([]*valueStore, n)}
	for i := range bx.positions {
		bx.positions[i] = newValueStore()
	}
	return bx
}

func (bx *Boxing) store(pos Pos) *valueStore {
	bx.mu.RLock()
	if pos < len(bx.positions) {
		vs := bx.positions[pos]
		bx.mu.RUnlock()
		return vs
	}
	bx.mu.RUnlock()

	bx.mu.Lock()
	for len(bx.positions) <= pos {
		bx.positions = append(bx.positions, newValueStore())
	}
	vs := bx.positions[pos]
	bx.mu.Unlock()
	return vs
}

// checkKind sets the position's kind on first use and rejects later
// mismatches. A mismatch means two incompatible columns were unified, which
// is a type-inference bug, not a user error.
func (vs *valueStore) checkKind(k fixpoint.Kind, pos Pos) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if vs.kind == kindUnset {
		vs.kind = k
		return
	}
	if vs.kind != k {
		panic(fmt.Sprintf("store: position %d holds %s values, got %s", pos, vs.kind, k))
	}
}

// UnboxWith returns the Int64 code of b at position pos, allocating an id
// for strings and objects on first sight.
func (bx *Boxing) UnboxWith(b fixpoint.Boxed, pos Pos) int64 {
	vs := bx.store(pos)
	vs.checkKind(b.Kind(), pos)

	switch b.Kind() {
	case fixpoint.KindNone:
		return 0
	case fixpoint.KindBool:
		if b.BoolVal() {
			return 1
		}
		return 0
	case fixpoint.KindChar:
		return int64(b.CharVal())
	case fixpoint.KindInt8, fixpoint.KindInt16, fixpoint.KindInt32, fixpoint.KindInt64:
		return b.IntVal()
	case fixpoint.KindFloat32:
		return int64(floatBits32(b.Float32Val()))
	case fixpoint.KindFloat64:
		return int64(floatBits64(b.Float64Val()))
	case fixpoint.KindStr, fixpoint.KindObject:
		return vs.internObject(b)
	default:
		panic(fmt.Sprintf("store: cannot unbox kind %s", b.Kind()))
	}
}

// internObject assigns incrementing ids to strings and objects. Readers run
// concurrently; only writers exclude each other.
func (vs *valueStore) internObject(b fixpoint.Boxed) int64 {
	key := objectKey(b)

	vs.mu.RLock()
	if vs.toCode != nil {
		if id, ok := vs.toCode[key]; ok {
			vs.mu.RUnlock()
			return id
		}
	}
	vs.mu.RUnlock()

	vs.mu.Lock()
	defer vs.mu.Unlock()
	if vs.toCode == nil {
		vs.toCode = make(map[string]int64)
	}
	if id, ok := vs.toCode[key]; ok {
		return id
	}
	id := int64(len(vs.fromCode))
	vs.toCode[key] = id
	vs.fromCode = append(vs.fromCode, b)
	return id
}

func objectKey(b fixpoint.Boxed) string {
	if b.Kind() == fixpoint.KindStr {
		return b.StrVal()
	}
	return fmt.Sprint(b.ObjectVal())
}

// BoxWith reverses UnboxWith. The position's kind must have been set by a
// prior unbox; asking for an unset position is a bug.
func (bx *Boxing) BoxWith(code int64, pos Pos) fixpoint.Boxed {
	vs := bx.store(pos)
	vs.mu.RLock()
	kind := vs.kind
	vs.mu.RUnlock()

	switch kind {
	case kindUnset:
		panic(fmt.Sprintf("store: boxing at position %d before its kind is known", pos))
	case fixpoint.KindNone:
		return fixpoint.NoValue
	case fixpoint.KindBool:
		return fixpoint.Bool(code != 0)
	case fixpoint.KindChar:
		return fixpoint.Char(rune(code))
	case fixpoint.KindInt8:
		return fixpoint.Int8(int8(code))
	case fixpoint.KindInt16:
		return fixpoint.Int16(int16(code))
	case fixpoint.KindInt32:
		return fixpoint.Int32(int32(code))
	case fixpoint.KindInt64:
		return fixpoint.Int64(code)
	case fixpoint.KindFloat32:
		return fixpoint.Float32(floatFrom32(uint32(code)))
	case fixpoint.KindFloat64:
		return fixpoint.Float64(floatFrom64(uint64(code)))
	case fixpoint.KindStr, fixpoint.KindObject:
		vs.mu.RLock()
		defer vs.mu.RUnlock()
		if code < 0 || code >= int64(len(vs.fromCode)) {
			panic(fmt.Sprintf("store: no object with id %d at position %d", code, pos))
		}
		return vs.fromCode[code]
	default:
		panic(fmt.Sprintf("store: cannot box kind %s", kind))
	}
}

// KindAt returns the kind observed at a position, or false when unset.
func (bx *Boxing) KindAt(pos Pos) (fixpoint.Kind, bool) {
	vs := bx.store(pos)
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	if vs.kind == kindUnset {
		return 0, false
	}
	return vs.kind, true
}

// UnboxRows boxes a vector of fact rows into tuples, sharded across workers.
// positions[i] is the unified position of column i.
func (bx *Boxing) UnboxRows(positions []Pos, rows [][]fixpoint.Boxed, maxWorkers int) ([]fixpoint.Tuple, error) {
	out := make([]fixpoint.Tuple, len(rows))
	if len(rows) == 0 {
		return out, nil
	}
	if maxWorkers <= 0 {
		maxWorkers = runtime.NumCPU()
	}
	shard := (len(rows) + maxWorkers - 1) / maxWorkers

	var g errgroup.Group
	g.SetLimit(maxWorkers)
	for lo := 0; lo < len(rows); lo += shard {
		lo, hi := lo, lo+shard
		if hi > len(rows) {
			hi = len(rows)
		}
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = recoveredError(r)
				}
			}()
			for i := lo; i < hi; i++ {
				row := rows[i]
				if len(row) != len(positions) {
					return fmt.Errorf("store: row %d has %d columns, want %d", i, len(row), len(positions))
				}
				t := make(fixpoint.Tuple, len(row))
				for c, v := range row {
					t[c] = bx.UnboxWith(v, positions[c])
				}
				out[i] = t
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
