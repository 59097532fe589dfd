// Package interp holds the executable form of RAM and the machine that runs
// it. Lowering resolves every symbolic reference — row variables, indexes,
// constants, write-throughs — to dense slots so the interpreter's hot loop
// never consults a dictionary.
//
// File organization:
//   - lowered.go: executable statement, operation, term and test types
//   - lower.go: the rewrite from ram to the executable form
//   - machine.go: the interpreter with its parallel search engine
package interp

import (
	"github.com/wbrown/janus-fixpoint/fixpoint"
)

// EStmt is an executable statement.
type EStmt interface {
	isEStmt()
}

// ESeq runs statements in order.
type ESeq struct {
	Stmts []EStmt
}

// EPar runs statements on independent workers, each owning a deep clone of
// the environment; indexes are shared.
type EPar struct {
	Stmts []EStmt
}

// EUntil loops its body until every condition holds.
type EUntil struct {
	Conds []EBoolExp
	Body  []EStmt
}

// EInsert runs one rule's operation tree.
type EInsert struct {
	Op ERelOp
}

// MergeTarget is one destination index of a merge: Perm maps destination key
// positions to source key positions.
type MergeTarget struct {
	Slot int
	Perm []int
}

// EMergeInto scans the source index and inserts into every destination
// index, joining lattice payloads when Lat is set.
type EMergeInto struct {
	Src  int
	Dsts []MergeTarget
	Lat  *fixpoint.Lattice
}

// ESwap exchanges the contents of paired index slots.
type ESwap struct {
	Pairs [][2]int
}

// EPurge empties the given index slots.
type EPurge struct {
	Slots []int
}

// EEstimate records (size, distinct-on-KeyPos) of an index into the profile.
type EEstimate struct {
	ProfileId int
	Slot      int
	KeyPos    []int
}

func (ESeq) isEStmt()       {}
func (EPar) isEStmt()       {}
func (EUntil) isEStmt()     {}
func (EInsert) isEStmt()    {}
func (EMergeInto) isEStmt() {}
func (ESwap) isEStmt()      {}
func (EPurge) isEStmt()     {}
func (EEstimate) isEStmt()  {}

// ERelOp is an executable operation inside an insert.
type ERelOp interface {
	isERelOp()
}

// Write copies key position SrcPos of the tuple just bound into position
// DstPos of another row variable's min and max search tuples. Write lists
// replace the runtime dictionary lookups a naive interpreter would do.
type Write struct {
	SrcPos int
	DstRv  int
	DstPos int
}

// ESearch scans every entry of the index, binding tuples to the row
// variable's register. While the parallel budget lasts the scan shards
// across workers, each with a cloned environment.
type ESearch struct {
	Rv     int
	Slot   int
	Lat    bool
	Writes []Write
	Body   ERelOp
}

// EQuery range-scans the index between the row variable's min and max search
// tuples, both inclusive.
type EQuery struct {
	Rv     int
	Slot   int
	Lat    bool
	Writes []Write
	Body   ERelOp
}

// EFunctional binds the row variable to each output row of Fn.
type EFunctional struct {
	Rv     int
	Fn     func(args []fixpoint.Boxed) [][]fixpoint.Boxed
	Args   []ETerm
	ArgPos []int
	OutPos []int
	Arity  int
	Writes []Write
	Body   ERelOp
}

// EIf runs its body when every test passes, short-circuiting on the first
// failure.
type EIf struct {
	Conds []EBoolExp
	Body  ERelOp
}

// ProjTarget is one index of the projected relation; Perm maps key positions
// to positions in the evaluated term vector.
type ProjTarget struct {
	Slot int
	Perm []int
}

// EProject evaluates Terms, permutes the result per target index and
// inserts. Lattice projections join with the stored element and drop bottom.
type EProject struct {
	Terms   []ETerm
	Targets []ProjTarget
	Lat     ELatTerm
	LatOps  *fixpoint.Lattice
}

func (ESearch) isERelOp()     {}
func (EQuery) isERelOp()      {}
func (EFunctional) isERelOp() {}
func (EIf) isERelOp()         {}
func (EProject) isERelOp()    {}

// ETerm evaluates to an Int64 key code.
type ETerm interface {
	isETerm()
}

// ELoad reads key position Pos of the tuple bound to a row variable.
type ELoad struct {
	Rv  int
	Pos int
}

// EConst is a pre-unboxed constant.
type EConst struct {
	V int64
}

// EApp boxes its arguments, applies Fn and unboxes the result.
type EApp struct {
	Fn     func(args []fixpoint.Boxed) fixpoint.Boxed
	Args   []ETerm
	ArgPos []int
	ResPos int
}

// EProvMax is one more than the maximum depth among the bound row variables,
// or zero with no row variables.
type EProvMax struct {
	Rvs []int
	Pos []int
}

func (ELoad) isETerm()    {}
func (EConst) isETerm()   {}
func (EApp) isETerm()     {}
func (EProvMax) isETerm() {}

// ELatTerm evaluates to a boxed lattice element.
type ELatTerm interface {
	isELatTerm()
}

// ELatLoad reads the lattice element bound to a row variable.
type ELatLoad struct {
	Rv int
}

// ELatConst is a literal lattice element.
type ELatConst struct {
	V fixpoint.Boxed
}

// ELatMeet is the greatest lower bound of two elements.
type ELatMeet struct {
	A, B ELatTerm
	Lat  *fixpoint.Lattice
}

// ELatApp applies a function over boxed arguments, producing an element.
type ELatApp struct {
	Fn   func(args []fixpoint.Boxed) fixpoint.Boxed
	Args []ELatTerm
}

// ELatFromKey boxes a key term's code through its unified position.
type ELatFromKey struct {
	T   ETerm
	Pos int
}

func (ELatLoad) isELatTerm()    {}
func (ELatConst) isELatTerm()   {}
func (ELatMeet) isELatTerm()    {}
func (ELatApp) isELatTerm()     {}
func (ELatFromKey) isELatTerm() {}

// EBoolExp is an executable test.
type EBoolExp interface {
	isEBoolExp()
}

// EEmpty holds when the index is empty.
type EEmpty struct {
	Slot int
}

// ENotEmpty holds when the index has entries.
type ENotEmpty struct {
	Slot int
}

// EMemberOf holds when the key built from Terms (already in index key order)
// is present. Prefix membership range-scans instead of point-probing; it is
// used when provenance columns widen the stored keys past the tested terms.
type EMemberOf struct {
	Slot   int
	Terms  []ETerm
	Width  int
	Prefix bool
}

// ENotMemberOf is the negation of EMemberOf.
type ENotMemberOf struct {
	Slot   int
	Terms  []ETerm
	Width  int
	Prefix bool
}

// EEq holds when both key terms agree.
type EEq struct {
	A, B ETerm
}

// ELeq holds when A is below B in the lattice order.
type ELeq struct {
	A, B ELatTerm
	Lat  *fixpoint.Lattice
}

// ENotBot holds when the element is strictly above bottom.
type ENotBot struct {
	T   ELatTerm
	Lat *fixpoint.Lattice
}

// ENotSubsumed holds when the key is absent, or present with an element the
// candidate is not below.
type ENotSubsumed struct {
	Slot  int
	Terms []ETerm
	Lat   ELatTerm
	Ops   *fixpoint.Lattice
}

// EGuard applies a boxed predicate to its arguments.
type EGuard struct {
	Fn     func(args []fixpoint.Boxed) bool
	Args   []ETerm
	ArgPos []int
}

func (EEmpty) isEBoolExp()       {}
func (ENotEmpty) isEBoolExp()    {}
func (EMemberOf) isEBoolExp()    {}
func (ENotMemberOf) isEBoolExp() {}
func (EEq) isEBoolExp()          {}
func (ELeq) isEBoolExp()         {}
func (ENotBot) isEBoolExp()      {}
func (ENotSubsumed) isEBoolExp() {}
func (EGuard) isEBoolExp()       {}

// IndexSpec describes one physical index slot.
type IndexSpec struct {
	Rel   fixpoint.RelSym
	Order []int
	Lat   *fixpoint.Lattice
}

// ConstWrite stamps a literal into a row variable's min and max search
// tuples once at machine start-up.
type ConstWrite struct {
	Rv  int
	Pos int
	V   int64
}

// Program is a fully lowered RAM program.
type Program struct {
	Root        EStmt
	Indexes     []IndexSpec
	RowVarWidth []int
	ConstWrites []ConstWrite
}
