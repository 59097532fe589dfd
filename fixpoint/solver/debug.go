package solver

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/sirupsen/logrus"

	"github.com/wbrown/janus-fixpoint/fixpoint/ram"
)

// debugger owns the solver's logging and RAM dump channel for one solve.
type debugger struct {
	log  *logrus.Logger
	file io.WriteCloser
}

func newDebugger(opts Options) (*debugger, error) {
	d := &debugger{log: logrus.New()}
	d.log.SetOutput(os.Stderr)
	d.log.SetLevel(logrus.WarnLevel)
	if opts.EnableDebugging {
		d.log.SetLevel(logrus.DebugLevel)
	}
	if opts.DebugFileName != "" {
		f, err := os.Create(opts.DebugFileName)
		if err != nil {
			return nil, fmt.Errorf("open debug file: %w", err)
		}
		d.file = f
	}
	return d, nil
}

func (d *debugger) close() {
	if d.file != nil {
		d.file.Close()
	}
}

// phase logs the duration of one compilation phase.
func (d *debugger) phase(name string, start time.Time) {
	d.log.WithField("phase", name).Debugf("completed in %s", time.Since(start))
}

// dump writes the RAM tree after a phase to the debug file.
func (d *debugger) dump(phase string, stmt ram.Stmt) {
	if d.file == nil {
		return
	}
	fmt.Fprintf(d.file, "=== after %s ===\n%s\n", phase, ram.Print(stmt))
}

// printModel renders every non-empty relation of a model as a table, the
// format the annotation output of query results uses.
func printModel(w io.Writer, m *Model) {
	header := color.New(color.FgCyan, color.Bold)
	for _, mr := range m.Rels {
		if len(mr.Rows) == 0 {
			continue
		}
		header.Fprintf(w, "%s/%d (%s, %d rows)\n", mr.Rel.Sym.Name, mr.Rel.Arity, mr.Rel.Den, len(mr.Rows))

		cols := mr.Rel.Arity
		alignment := make([]tw.Align, cols+1)
		for i := range alignment {
			alignment[i] = tw.AlignNone
		}
		table := tablewriter.NewTable(w,
			tablewriter.WithRenderer(renderer.NewMarkdown()),
			tablewriter.WithAlignment(alignment),
			tablewriter.WithHeaderAutoFormat(tw.Off),
		)
		headers := make([]string, 0, cols+1)
		for i := 0; i < cols; i++ {
			headers = append(headers, fmt.Sprintf("c%d", i))
		}
		if mr.Rel.Den.IsLattice() {
			headers = append(headers, "element")
		}
		table.Header(headers)
		for _, row := range m.RowsOf(mr.Rel.Sym) {
			cells := make([]string, 0, cols+1)
			for _, v := range row.Vals {
				cells = append(cells, strings.Trim(v.String(), `"`))
			}
			if mr.Rel.Den.IsLattice() {
				cells = append(cells, row.Lat.String())
			}
			table.Append(cells)
		}
		table.Render()
		fmt.Fprintln(w)
	}
}
