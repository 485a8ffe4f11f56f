package report

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"benchtrack/internal/detector"

	"github.com/charmbracelet/lipgloss"
)

var (
	regressedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")). // Red
			Bold(true)
	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("46")) // Green
	insufficientStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("244")) // Gray
	summaryStyle = lipgloss.NewStyle().Bold(true)
)

// WriteTable writes a human-readable table of the report. The styled status
// is the last column so escape sequences do not disturb alignment.
func WriteTable(w io.Writer, r Report) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tCURRENT\tBASELINE\tCHANGE\tITERATIONS\tSTATUS")
	for _, d := range r.Details {
		baseline, change, iterations := "-", "-", "-"
		if d.Kind != detector.InsufficientHistory {
			baseline = formatValue(d.Baseline, d.Unit)
			change = formatPercent(d.RelativeChange)
		}
		if d.Iterations > 0 {
			iterations = strconv.FormatUint(d.Iterations, 10)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			d.Name, formatValue(d.Current, d.Unit), baseline, change, iterations, status(d))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	line := fmt.Sprintf("%d benchmarks: %d ok, %d regressed, %d without baseline",
		r.Summary.Total, r.Summary.OK, r.Summary.Regressed, r.Summary.Insufficient)
	_, err := fmt.Fprintln(w, summaryStyle.Render(line))
	return err
}

func status(d Detail) string {
	switch d.Kind {
	case detector.Regressed:
		return regressedStyle.Render("REGRESSED")
	case detector.OK:
		return okStyle.Render("ok")
	default:
		return insufficientStyle.Render(d.Reason)
	}
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatValue(v float64, unit string) string {
	if unit == "" {
		return formatNumber(v)
	}
	return formatNumber(v) + " " + unit
}

func formatPercent(rc float64) string {
	return fmt.Sprintf("%+.2f%%", rc*100)
}
