// Package ram defines the Relational Algebra Machine tree the compiler emits
// and every optimization phase rewrites: statements, relation operations,
// value terms and boolean tests. The lowered executable form lives in
// package interp.
package ram

import (
	"github.com/wbrown/janus-fixpoint/fixpoint"
)

// Stmt is a machine statement.
type Stmt interface {
	isStmt()
}

// RelOp is the operation tree of a single rule: nested searches ending in a
// projection.
type RelOp interface {
	isRelOp()
}

// Insert runs one rule's operation tree. RuleNo is the originating rule's
// number, carried for provenance augmentation.
type Insert struct {
	Op     RelOp
	RuleNo int
}

// MergeInto copies every tuple of Src into Dst, combining lattice payloads
// with the join when the denotation is lattice.
type MergeInto struct {
	Src, Dst fixpoint.RelSym
}

// Swap exchanges the contents of two relations.
type Swap struct {
	A, B fixpoint.RelSym
}

// Purge empties a relation.
type Purge struct {
	Rel fixpoint.RelSym
}

// Seq runs statements in order.
type Seq struct {
	Stmts []Stmt
}

// Par runs statements on independent workers and joins them all.
type Par struct {
	Stmts []Stmt
}

// Until runs its body repeatedly until every condition holds. The compiler
// emits Empty tests over the Delta relations of a stratum.
type Until struct {
	Conds []BoolExp
	Body  []Stmt
}

// Comment is carried through every phase and shows up in debug dumps.
type Comment struct {
	Text string
}

// EstimateJoinSize instruments one relation for the join profiler: it counts
// tuples and duplicates over Attrs each time it runs.
type EstimateJoinSize struct {
	ProfileId int
	Rel       fixpoint.RelSym
	Attrs     []int
}

func (Insert) isStmt()           {}
func (MergeInto) isStmt()        {}
func (Swap) isStmt()             {}
func (Purge) isStmt()            {}
func (Seq) isStmt()              {}
func (Par) isStmt()              {}
func (Until) isStmt()            {}
func (Comment) isStmt()          {}
func (EstimateJoinSize) isStmt() {}

// Search scans every tuple of Rel, binding each to Rv in turn.
type Search struct {
	Rv   fixpoint.RowVar
	Rel  fixpoint.RelSym
	Body RelOp
}

// Query scans the tuples of Rel whose attributes match Prefix, binding each
// to Rv. The prefix must be answerable by some physical index of Rel.
type Query struct {
	Rv     fixpoint.RowVar
	Rel    fixpoint.RelSym
	Prefix []PrefixEq
	Body   RelOp
}

// PrefixEq pins one attribute of a queried relation to a term value.
type PrefixEq struct {
	Attr int
	T    Term
}

// Functional binds Rv to each output row of Fn applied to Args. Arity is the
// output row width.
type Functional struct {
	Rv    fixpoint.RowVar
	Fn    func(args []fixpoint.Boxed) [][]fixpoint.Boxed
	Args  []Term
	Arity int
	Body  RelOp
}

// If runs Body only when every condition holds.
type If struct {
	Conds []BoolExp
	Body  RelOp
}

// Project evaluates Terms into a tuple and inserts it into Rel. For lattice
// relations Lat evaluates the element; joins with the existing element
// happen in the index. Bottom elements are dropped.
type Project struct {
	Terms []Term
	Lat   Term
	Rel   fixpoint.RelSym
}

func (Search) isRelOp()     {}
func (Query) isRelOp()      {}
func (Functional) isRelOp() {}
func (If) isRelOp()         {}
func (Project) isRelOp()    {}

// Term computes a value from the current row bindings.
type Term interface {
	isTerm()
}

// RowLoad reads attribute Attr of the tuple bound to Rv.
type RowLoad struct {
	Rv   fixpoint.RowVar
	Attr int
}

// Lit is a literal occurrence. Site identifies this occurrence for position
// unification; lowering stamps the unboxed code.
type Lit struct {
	Value fixpoint.Boxed
	Site  int64
}

// RawInt is an already-encoded Int64, used for rule numbers and depths.
type RawInt struct {
	V int64
}

// App applies a pure function to argument terms; the result feeds a head
// column or a lattice element. Site identifies the application for position
// unification of its arguments and result.
type App struct {
	Fn   func(args []fixpoint.Boxed) fixpoint.Boxed
	Args []Term
	Site int64
}

// LatVar reads the lattice element currently bound for Rv.
type LatVar struct {
	Rv fixpoint.RowVar
}

// Meet is the greatest lower bound of two lattice terms.
type Meet struct {
	A, B Term
	Lat  *fixpoint.Lattice
}

// ProvMax is one more than the maximum proof depth among the bound row
// variables; zero when Rvs is empty. Only present under provenance.
type ProvMax struct {
	Rvs   []fixpoint.RowVar
	Depth []int // depth column index per row variable
}

func (RowLoad) isTerm() {}
func (Lit) isTerm()     {}
func (RawInt) isTerm()  {}
func (App) isTerm()     {}
func (LatVar) isTerm()  {}
func (Meet) isTerm()    {}
func (ProvMax) isTerm() {}

// BoolExp is a condition testable against the current bindings.
type BoolExp interface {
	isBoolExp()
}

// Empty holds when Rel has no tuples.
type Empty struct {
	Rel fixpoint.RelSym
}

// NotEmpty holds when Rel has at least one tuple.
type NotEmpty struct {
	Rel fixpoint.RelSym
}

// MemberOf holds when the tuple built from Terms is present in Rel.
type MemberOf struct {
	Terms []Term
	Rel   fixpoint.RelSym
}

// NotMemberOf holds when the tuple built from Terms is absent from Rel.
// Negated body atoms lower to this test.
type NotMemberOf struct {
	Terms []Term
	Rel   fixpoint.RelSym
}

// Eq holds when both terms evaluate to the same value.
type Eq struct {
	A, B Term
}

// Leq holds when A is below B in the lattice order.
type Leq struct {
	A, B Term
	Lat  *fixpoint.Lattice
}

// NotBot holds when the lattice term is strictly above bottom.
type NotBot struct {
	T   Term
	Lat *fixpoint.Lattice
}

// NotSubsumed holds when the key built from Terms is absent from Rel, or
// present with a stored element the Lat term is not below. It is the lattice
// counterpart of the NotMemberOf guard on relational projections: a
// derivation that adds no information fails the test and the fixpoint loop
// sees no progress.
type NotSubsumed struct {
	Terms []Term
	Lat   Term
	Rel   fixpoint.RelSym
}

// GuardExp applies a pure boolean function to argument terms. Zero-argument
// guards never reach RAM: code generation evaluates them once and drops the
// rule when one is false.
type GuardExp struct {
	Fn   func(args []fixpoint.Boxed) bool
	Args []Term
	Site int64
}

func (Empty) isBoolExp()       {}
func (NotEmpty) isBoolExp()    {}
func (MemberOf) isBoolExp()    {}
func (NotMemberOf) isBoolExp() {}
func (Eq) isBoolExp()          {}
func (Leq) isBoolExp()         {}
func (NotBot) isBoolExp()      {}
func (NotSubsumed) isBoolExp() {}
func (GuardExp) isBoolExp()    {}
