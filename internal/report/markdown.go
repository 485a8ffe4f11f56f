package report

import (
	"fmt"
	"strings"

	"benchtrack/internal/benchmark"
	"benchtrack/internal/detector"

	"github.com/charmbracelet/glamour"
)

// Meta is the context printed around a markdown report.
type Meta struct {
	Tool      string
	Series    string
	Commit    benchmark.Commit
	Mode      string
	RepoURL   string
	Threshold float64
}

// Markdown renders the report as a comment body. A report with regressions
// starts with the performance alert header and lists the regressions first.
func Markdown(r Report, meta Meta) string {
	var b strings.Builder

	series := meta.Series
	if series == "" {
		series = meta.Tool
	}
	if r.AnyRegression {
		b.WriteString("# :warning: Performance Alert :warning:\n\n")
		fmt.Fprintf(&b, "Possible performance regression was detected for benchmark **'%s'**.\n", series)
		fmt.Fprintf(&b, "Benchmark result of this commit is worse than the baseline (%s) exceeding threshold `%s%%`.\n\n",
			modeName(meta.Mode), formatNumber(meta.Threshold))
		writeMarkdownTable(&b, r.Regressions(), meta)
		b.WriteString("\n")
	} else {
		fmt.Fprintf(&b, "# Benchmark results for '%s'\n\n", series)
	}

	if r.AnyRegression {
		b.WriteString("<details><summary>All results</summary>\n\n")
	}
	writeMarkdownTable(&b, r.Details, meta)
	if r.AnyRegression {
		b.WriteString("\n</details>\n")
	}

	fmt.Fprintf(&b, "\n%d benchmarks: %d ok, %d regressed, %d without baseline.\n",
		r.Summary.Total, r.Summary.OK, r.Summary.Regressed, r.Summary.Insufficient)
	return b.String()
}

func modeName(mode string) string {
	if mode == "" {
		return "previous-run"
	}
	return mode
}

func writeMarkdownTable(b *strings.Builder, details []Detail, meta Meta) {
	fmt.Fprintf(b, "| Benchmark suite | Current: %s | Baseline | Ratio | Change | Status |\n", commitLink(meta))
	b.WriteString("|-|-|-|-|-|-|\n")
	for _, d := range details {
		baseline, ratio, change := "-", "-", "-"
		if d.Kind != detector.InsufficientHistory {
			baseline = "`" + formatValue(d.Baseline, d.Unit) + "`"
			ratio = "`" + fmt.Sprintf("%.2f", d.Ratio) + "`"
			change = formatPercent(d.RelativeChange)
		}
		fmt.Fprintf(b, "| `%s` | `%s` | %s | %s | %s | %s |\n",
			escapeCell(d.Name), formatValue(d.Current, d.Unit), baseline, ratio, change, markdownStatus(d))
	}
}

func commitLink(meta Meta) string {
	id := meta.Commit.ID
	if id == "" {
		return "this run"
	}
	short := id
	if len(short) > 7 {
		short = short[:7]
	}
	if meta.Commit.URL != "" {
		return fmt.Sprintf("[%s](%s)", short, meta.Commit.URL)
	}
	return short
}

func markdownStatus(d Detail) string {
	switch d.Kind {
	case detector.Regressed:
		return ":x: regressed"
	case detector.OK:
		return ":white_check_mark:"
	default:
		return ":grey_question: " + d.Reason
	}
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

// Render formats markdown for a terminal.
func Render(markdown string, width int) (string, error) {
	if width <= 0 {
		width = 100
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithEmoji(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", err
	}
	return renderer.Render(markdown)
}
