// Package render writes freshness view-models for terminals.
package render

import (
	"fmt"
	"io"
	"math"
	"strings"
	"text/tabwriter"

	"github.com/franckalain/freshness/internal/analysis"
	"github.com/franckalain/freshness/internal/report"
)

const barWidth = 20

// Status writes the view for the given analysis phase. Only a succeeded phase renders vm.
func Status(w io.Writer, phase analysis.Phase, message string, vm report.ViewModel) error {
	switch phase {
	case analysis.Loading:
		_, err := fmt.Fprint(w, "Analyzing your produce...\nThis may take a few seconds\n")
		return err
	case analysis.Failed:
		_, err := fmt.Fprintf(w, "Error: %s\n", message)
		return err
	case analysis.Succeeded:
		return Text(w, vm)
	default:
		_, err := fmt.Fprint(w, "No Results Yet\nUpload an image and select a produce type to see freshness analysis results\n")
		return err
	}
}

// Text writes the full report
func Text(w io.Writer, vm report.ViewModel) error {
	if vm.Empty {
		_, err := fmt.Fprintln(w, "No Results Yet")
		return err
	}

	p := &printer{w: w}
	p.printf("%s\n\n", vm.Title)
	p.printf("Initial Freshness Score: %s  %s  (%d)\n\n", vm.Initial.Display, bar(vm.Initial.Progress), vm.Initial.Rounded)

	tw := tabwriter.NewWriter(p, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CONDITION\tFRESHNESS\tREMAINING")
	for _, c := range vm.Cards {
		fmt.Fprintf(tw, "%s %s\t%s\t%s\n", c.Icon, c.Title, c.Value, c.Subtitle)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(vm.ShelfLife) > 0 {
		cells := make([]string, 0, len(vm.ShelfLife))
		for _, s := range vm.ShelfLife {
			cells = append(cells, s.Title+" "+s.Value)
		}
		p.printf("\nShelf life: %s\n", strings.Join(cells, " | "))
	}

	st := vm.Status
	p.printf("\nFinal Status: %s %s (%s)\n", st.Icon, st.Label, st.Color)
	p.printf("%s\n", st.Message)
	if len(st.Tips) > 0 {
		p.printf("Recommendations:\n")
		for _, tip := range st.Tips {
			p.printf("  - %s\n", tip)
		}
	}

	if vm.Chart != nil && len(vm.Chart.Labels) > 0 {
		p.printf("\nDecay chart:\n")
		tw = tabwriter.NewWriter(p, 0, 0, 1, ' ', 0)
		for i, label := range vm.Chart.Labels {
			fresh := at(vm.Chart.Freshness, i)
			fmt.Fprintf(tw, "%s\t%s\t%s%%\t%s days left\n", label, bar(fresh),
				report.FormatNumber(fresh), report.FormatNumber(at(vm.Chart.DaysLeft, i)))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	return p.err
}

// printer remembers the first write error so rendering reads straight through
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) Write(b []byte) (int, error) {
	if p.err != nil {
		return 0, p.err
	}
	n, err := p.w.Write(b)
	p.err = err
	return n, err
}

func (p *printer) printf(format string, args ...interface{}) {
	fmt.Fprintf(p, format, args...)
}

func bar(pct float64) string {
	pct = math.Max(0, math.Min(100, pct))
	filled := int(math.Round(pct / 100 * barWidth))
	return "[" + strings.Repeat("#", filled) + strings.Repeat("-", barWidth-filled) + "]"
}

func at(xs []float64, i int) float64 {
	if i < len(xs) {
		return xs[i]
	}
	return 0
}
