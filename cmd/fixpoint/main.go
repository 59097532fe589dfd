package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/wbrown/janus-fixpoint/fixpoint"
	"github.com/wbrown/janus-fixpoint/fixpoint/ast"
	"github.com/wbrown/janus-fixpoint/fixpoint/solver"
)

func main() {
	var verbose bool
	var dumpFile string
	var useProvenance bool
	var noJoinOpt bool
	var edges int

	flag.BoolVar(&verbose, "verbose", false, "verbose mode (log compilation phases)")
	flag.StringVar(&dumpFile, "dump", "", "write a RAM dump after each phase to this file")
	flag.BoolVar(&useProvenance, "provenance", false, "annotate tuples with proof depth and rule number")
	flag.BoolVar(&noJoinOpt, "no-join-opt", false, "disable the profile-driven join reorder")
	flag.IntVar(&edges, "edges", 64, "chain length of the demo edge relation")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Runs the transitive-closure demo through the fixpoint engine.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	opts := solver.DefaultOptions()
	opts.EnableDebugging = verbose
	opts.EnableDebugPrintFacts = true
	opts.DebugFileName = dumpFile
	opts.UseProvenance = useProvenance
	opts.DisableJoinOptimizer = noJoinOpt

	edge := solver.NewPredSym("Edge")
	path := solver.NewPredSym("Path")

	rows := make([][]fixpoint.Boxed, 0, edges)
	for i := 0; i < edges; i++ {
		rows = append(rows, []fixpoint.Boxed{fixpoint.Int64(int64(i)), fixpoint.Int64(int64(i + 1))})
	}
	facts, err := solver.InjectInto(edge, rows)
	if err != nil {
		log.Fatalf("inject: %v", err)
	}

	rules := solver.NewProgram(
		ast.Constraint{
			Head: ast.HeadAtom{Sym: path, Terms: []ast.HeadTerm{ast.HeadVar{Name: "x"}, ast.HeadVar{Name: "y"}}},
			Body: []ast.BodyStmt{
				ast.Atom{Sym: edge, Terms: []ast.Term{ast.Var{Name: "x"}, ast.Var{Name: "y"}}},
			},
		},
		ast.Constraint{
			Head: ast.HeadAtom{Sym: path, Terms: []ast.HeadTerm{ast.HeadVar{Name: "x"}, ast.HeadVar{Name: "z"}}},
			Body: []ast.BodyStmt{
				ast.Atom{Sym: path, Terms: []ast.Term{ast.Var{Name: "x"}, ast.Var{Name: "y"}}},
				ast.Atom{Sym: edge, Terms: []ast.Term{ast.Var{Name: "y"}, ast.Var{Name: "z"}}},
			},
		},
	)

	start := time.Now()
	model, err := solver.Solve(solver.Union(facts, rules), opts)
	if err != nil {
		log.Fatalf("solve: %v", err)
	}
	fmt.Printf("solved %d-edge chain in %s: %d path tuples\n",
		edges, time.Since(start), len(model.RowsOf(path)))
}
