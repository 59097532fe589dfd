package compiler

import (
	"github.com/wbrown/janus-fixpoint/fixpoint/ram"
)

// Simplify removes tautologies, orders guard lists so membership tests run
// last, collapses empty Ifs, drops fixpoint loops that cannot make progress
// and flattens degenerate Seq/Par nests.
func Simplify(s ram.Stmt) ram.Stmt {
	out := simplifyStmt(s)
	if out == nil {
		return ram.Seq{}
	}
	return out
}

func simplifyStmt(s ram.Stmt) ram.Stmt {
	switch st := s.(type) {
	case ram.Seq:
		flat := flattenStmts(st.Stmts, false)
		switch len(flat) {
		case 0:
			return nil
		case 1:
			return flat[0]
		}
		return ram.Seq{Stmts: flat}
	case ram.Par:
		flat := flattenStmts(st.Stmts, true)
		switch len(flat) {
		case 0:
			return nil
		case 1:
			return flat[0]
		}
		return ram.Par{Stmts: flat}
	case ram.Until:
		body := flattenStmts(st.Body, false)
		// A loop whose body only merges, swaps and purges makes no progress
		// and derives nothing, so it is dropped.
		if !anyInsert(body) {
			return nil
		}
		return ram.Until{Conds: st.Conds, Body: body}
	case ram.Insert:
		op := simplifyRelOp(st.Op)
		if op == nil {
			return nil
		}
		return ram.Insert{Op: op, RuleNo: st.RuleNo}
	default:
		return s
	}
}

func flattenStmts(stmts []ram.Stmt, inPar bool) []ram.Stmt {
	var out []ram.Stmt
	for _, s := range stmts {
		s = simplifyStmt(s)
		switch st := s.(type) {
		case nil:
		case ram.Seq:
			if !inPar {
				out = append(out, st.Stmts...)
			} else {
				out = append(out, st)
			}
		default:
			out = append(out, s)
		}
	}
	return out
}

func anyInsert(stmts []ram.Stmt) bool {
	for _, s := range stmts {
		switch st := s.(type) {
		case ram.Insert:
			return true
		case ram.Seq:
			if anyInsert(st.Stmts) {
				return true
			}
		case ram.Par:
			if anyInsert(st.Stmts) {
				return true
			}
		case ram.Until:
			if anyInsert(st.Body) {
				return true
			}
		}
	}
	return false
}

func simplifyRelOp(op ram.RelOp) ram.RelOp {
	switch o := op.(type) {
	case ram.Search:
		body := simplifyRelOp(o.Body)
		if body == nil {
			return nil
		}
		return ram.Search{Rv: o.Rv, Rel: o.Rel, Body: body}
	case ram.Query:
		body := simplifyRelOp(o.Body)
		if body == nil {
			return nil
		}
		return ram.Query{Rv: o.Rv, Rel: o.Rel, Prefix: o.Prefix, Body: body}
	case ram.Functional:
		body := simplifyRelOp(o.Body)
		if body == nil {
			return nil
		}
		out := o
		out.Body = body
		return out
	case ram.If:
		conds := simplifyConds(o.Conds)
		body := simplifyRelOp(o.Body)
		if body == nil {
			return nil
		}
		if len(conds) == 0 {
			return body
		}
		return ram.If{Conds: conds, Body: body}
	default:
		return op
	}
}

// simplifyConds drops x == x tautologies and moves membership tests to the
// end of the list so cheap scalar tests run first.
func simplifyConds(conds []ram.BoolExp) []ram.BoolExp {
	var scalar, member []ram.BoolExp
	for _, c := range conds {
		switch e := c.(type) {
		case ram.Eq:
			if a, ok := e.A.(ram.RowLoad); ok {
				if b, ok := e.B.(ram.RowLoad); ok && a == b {
					continue
				}
			}
			scalar = append(scalar, c)
		case ram.MemberOf, ram.NotMemberOf, ram.NotSubsumed:
			member = append(member, c)
		default:
			scalar = append(scalar, c)
		}
	}
	return append(scalar, member...)
}
