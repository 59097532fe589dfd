package ram

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wbrown/janus-fixpoint/fixpoint"
)

func TestPrintRendersNestedProgram(t *testing.T) {
	edge := fixpoint.RelSym{Sym: fixpoint.PredSym{Name: "Edge", Id: 0}, Arity: 2}
	delta := fixpoint.RelSym{Sym: fixpoint.PredSym{Name: "ΔPath", Id: 11}, Arity: 2}
	full := fixpoint.RelSym{Sym: fixpoint.PredSym{Name: "Path", Id: 1}, Arity: 2}
	neu := fixpoint.RelSym{Sym: fixpoint.PredSym{Name: "Path'", Id: 21}, Arity: 2}
	p := fixpoint.RowVar{Name: "p", Id: 1}
	e := fixpoint.RowVar{Name: "e", Id: 2}

	prog := Seq{Stmts: []Stmt{
		Comment{Text: "stratum (0,0): Path"},
		Until{
			Conds: []BoolExp{Empty{Rel: delta}},
			Body: []Stmt{
				Insert{Op: Search{Rv: p, Rel: delta, Body: Query{
					Rv:  e,
					Rel: edge,
					Prefix: []PrefixEq{
						{Attr: 0, T: RowLoad{Rv: p, Attr: 1}},
					},
					Body: If{
						Conds: []BoolExp{NotMemberOf{
							Terms: []Term{RowLoad{Rv: p, Attr: 0}, RowLoad{Rv: e, Attr: 1}},
							Rel:   full,
						}},
						Body: Project{
							Terms: []Term{RowLoad{Rv: p, Attr: 0}, RowLoad{Rv: e, Attr: 1}},
							Rel:   neu,
						},
					},
				}}},
				MergeInto{Src: neu, Dst: full},
				Swap{A: neu, B: delta},
				Purge{Rel: neu},
			},
		},
	}}

	out := Print(prog)
	assert.Contains(t, out, "// stratum (0,0): Path")
	assert.Contains(t, out, "until (isEmpty(ΔPath#11/2))")
	assert.Contains(t, out, "search $p%1 ∈ ΔPath#11/2")
	assert.Contains(t, out, "query {$e%2 ∈ Edge#0/2 | $e%2[0] == $p%1[1]}")
	assert.Contains(t, out, "project ($p%1[0], $e%2[1]) into Path'#21/2")
	assert.Contains(t, out, "merge Path'#21/2 into Path#1/2")
	assert.Contains(t, out, "swap Path'#21/2, ΔPath#11/2")
	assert.Contains(t, out, "purge Path'#21/2")
}
