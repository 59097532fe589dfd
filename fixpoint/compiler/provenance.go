package compiler

import (
	"github.com/pkg/errors"

	"github.com/wbrown/janus-fixpoint/fixpoint"
	"github.com/wbrown/janus-fixpoint/fixpoint/ram"
)

// EdbRule and NegativeRule are the rule-number sentinels written into
// provenance columns.
const (
	EdbRule      = int64(-1)
	NegativeRule = int64(-2)
)

// AugmentProvenance appends a proof-depth term and a rule-number term to
// every projection: depth is one more than the maximum depth among the bound
// body tuples (zero for rules with no body searches), the rule number is the
// Insert's originating rule. EDB tuples receive depth 0 and rule -1 when
// facts load. Functional atoms cannot be replayed during reconstruction and
// are rejected here; the same holds for lattice heads, whose elements are
// joins of many derivations rather than single witnesses, and for head
// applications, whose output column cannot constrain the witness search.
func AugmentProvenance(ctx *Context, s ram.Stmt) (ram.Stmt, error) {
	var augErr error
	out := rewriteInserts(s, func(ins ram.Insert) ram.Stmt {
		op, err := augmentOp(ins.Op, nil, ins.RuleNo)
		if err != nil && augErr == nil {
			augErr = errors.Wrapf(err, "rule %d", ins.RuleNo)
		}
		return ram.Insert{Op: op, RuleNo: ins.RuleNo}
	})
	if augErr != nil {
		return nil, augErr
	}
	return out, nil
}

type boundSearch struct {
	rv    fixpoint.RowVar
	arity int
}

func augmentOp(op ram.RelOp, path []boundSearch, ruleNo int) (ram.RelOp, error) {
	switch o := op.(type) {
	case ram.Search:
		body, err := augmentOp(o.Body, append(path, boundSearch{rv: o.Rv, arity: o.Rel.Arity}), ruleNo)
		if err != nil {
			return nil, err
		}
		return ram.Search{Rv: o.Rv, Rel: o.Rel, Body: body}, nil
	case ram.Query:
		body, err := augmentOp(o.Body, append(path, boundSearch{rv: o.Rv, arity: o.Rel.Arity}), ruleNo)
		if err != nil {
			return nil, err
		}
		return ram.Query{Rv: o.Rv, Rel: o.Rel, Prefix: o.Prefix, Body: body}, nil
	case ram.Functional:
		return nil, errors.New("functional atoms are incompatible with provenance")
	case ram.If:
		body, err := augmentOp(o.Body, path, ruleNo)
		if err != nil {
			return nil, err
		}
		return ram.If{Conds: o.Conds, Body: body}, nil
	case ram.Project:
		if o.Rel.Den.IsLattice() {
			return nil, errors.New("lattice relations are incompatible with provenance")
		}
		for _, t := range o.Terms {
			if _, ok := t.(ram.App); ok {
				return nil, errors.New("head applications are incompatible with provenance")
			}
		}
		rvs := make([]fixpoint.RowVar, len(path))
		depths := make([]int, len(path))
		for i, b := range path {
			rvs[i] = b.rv
			depths[i] = b.arity // depth column follows the key columns
		}
		terms := append(append([]ram.Term(nil), o.Terms...),
			ram.ProvMax{Rvs: rvs, Depth: depths},
			ram.RawInt{V: int64(ruleNo)},
		)
		return ram.Project{Terms: terms, Rel: o.Rel}, nil
	default:
		return op, nil
	}
}
