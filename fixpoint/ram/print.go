package ram

import (
	"fmt"
	"strings"
)

// Print renders a statement tree with two-space indentation, the format the
// debug dump writes after each phase.
func Print(s Stmt) string {
	var sb strings.Builder
	printStmt(&sb, s, 0)
	return sb.String()
}

func indent(sb *strings.Builder, depth int) {
	for i := 0; i < depth; i++ {
		sb.WriteString("  ")
	}
}

func printStmt(sb *strings.Builder, s Stmt, depth int) {
	switch st := s.(type) {
	case Insert:
		indent(sb, depth)
		sb.WriteString("insert\n")
		printRelOp(sb, st.Op, depth+1)
	case MergeInto:
		indent(sb, depth)
		fmt.Fprintf(sb, "merge %s into %s\n", st.Src, st.Dst)
	case Swap:
		indent(sb, depth)
		fmt.Fprintf(sb, "swap %s, %s\n", st.A, st.B)
	case Purge:
		indent(sb, depth)
		fmt.Fprintf(sb, "purge %s\n", st.Rel)
	case Seq:
		for _, c := range st.Stmts {
			printStmt(sb, c, depth)
		}
	case Par:
		indent(sb, depth)
		sb.WriteString("par\n")
		for _, c := range st.Stmts {
			printStmt(sb, c, depth+1)
		}
	case Until:
		indent(sb, depth)
		sb.WriteString("until (")
		for i, c := range st.Conds {
			if i > 0 {
				sb.WriteString(" && ")
			}
			sb.WriteString(boolExpString(c))
		}
		sb.WriteString(")\n")
		for _, c := range st.Body {
			printStmt(sb, c, depth+1)
		}
	case Comment:
		indent(sb, depth)
		fmt.Fprintf(sb, "// %s\n", st.Text)
	case EstimateJoinSize:
		indent(sb, depth)
		fmt.Fprintf(sb, "estimate join size %s on %v (#%d)\n", st.Rel, st.Attrs, st.ProfileId)
	default:
		indent(sb, depth)
		fmt.Fprintf(sb, "?stmt %T\n", s)
	}
}

func printRelOp(sb *strings.Builder, op RelOp, depth int) {
	switch o := op.(type) {
	case Search:
		indent(sb, depth)
		fmt.Fprintf(sb, "search %s ∈ %s\n", o.Rv, o.Rel)
		printRelOp(sb, o.Body, depth+1)
	case Query:
		indent(sb, depth)
		fmt.Fprintf(sb, "query {%s ∈ %s | %s}\n", o.Rv, o.Rel, prefixString(o.Prefix, o))
		printRelOp(sb, o.Body, depth+1)
	case Functional:
		indent(sb, depth)
		fmt.Fprintf(sb, "loop(%s <- f(%s))\n", o.Rv, termsString(o.Args))
		printRelOp(sb, o.Body, depth+1)
	case If:
		indent(sb, depth)
		sb.WriteString("if (")
		for i, c := range o.Conds {
			if i > 0 {
				sb.WriteString(" && ")
			}
			sb.WriteString(boolExpString(c))
		}
		sb.WriteString(") then\n")
		printRelOp(sb, o.Body, depth+1)
	case Project:
		indent(sb, depth)
		if o.Lat != nil {
			fmt.Fprintf(sb, "project (%s; %s) into %s\n", termsString(o.Terms), TermString(o.Lat), o.Rel)
		} else {
			fmt.Fprintf(sb, "project (%s) into %s\n", termsString(o.Terms), o.Rel)
		}
	default:
		indent(sb, depth)
		fmt.Fprintf(sb, "?relop %T\n", op)
	}
}

func prefixString(prefix []PrefixEq, o Query) string {
	parts := make([]string, len(prefix))
	for i, p := range prefix {
		parts[i] = fmt.Sprintf("%s[%d] == %s", o.Rv, p.Attr, TermString(p.T))
	}
	return strings.Join(parts, ", ")
}

func termsString(ts []Term) string {
	parts := make([]string, len(ts))
	for i, t := range ts {
		parts[i] = TermString(t)
	}
	return strings.Join(parts, ", ")
}

// TermString renders one term.
func TermString(t Term) string {
	switch tm := t.(type) {
	case RowLoad:
		return fmt.Sprintf("%s[%d]", tm.Rv, tm.Attr)
	case Lit:
		return tm.Value.String()
	case RawInt:
		return fmt.Sprintf("#%d", tm.V)
	case App:
		return fmt.Sprintf("<app@%d>(%s)", tm.Site, termsString(tm.Args))
	case LatVar:
		return fmt.Sprintf("lat(%s)", tm.Rv)
	case Meet:
		return fmt.Sprintf("(%s ⊓ %s)", TermString(tm.A), TermString(tm.B))
	case ProvMax:
		parts := make([]string, len(tm.Rvs))
		for i, rv := range tm.Rvs {
			parts[i] = rv.String()
		}
		return fmt.Sprintf("1+max-depth(%s)", strings.Join(parts, ", "))
	default:
		return fmt.Sprintf("?term %T", t)
	}
}

func boolExpString(b BoolExp) string {
	switch e := b.(type) {
	case Empty:
		return fmt.Sprintf("isEmpty(%s)", e.Rel)
	case NotEmpty:
		return fmt.Sprintf("!isEmpty(%s)", e.Rel)
	case MemberOf:
		return fmt.Sprintf("(%s) ∈ %s", termsString(e.Terms), e.Rel)
	case NotMemberOf:
		return fmt.Sprintf("(%s) ∉ %s", termsString(e.Terms), e.Rel)
	case Eq:
		return fmt.Sprintf("%s == %s", TermString(e.A), TermString(e.B))
	case Leq:
		return fmt.Sprintf("%s ⊑ %s", TermString(e.A), TermString(e.B))
	case NotBot:
		return fmt.Sprintf("%s != ⊥", TermString(e.T))
	case NotSubsumed:
		return fmt.Sprintf("(%s; %s) ⋢ %s", termsString(e.Terms), TermString(e.Lat), e.Rel)
	case GuardExp:
		return fmt.Sprintf("<guard@%d>(%s)", e.Site, termsString(e.Args))
	default:
		return fmt.Sprintf("?bexp %T", b)
	}
}
