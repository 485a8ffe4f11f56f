package report

import (
	"fmt"
	"io"
	"os"
	"strings"

	"benchtrack/internal/detector"
)

// WriteAnnotations writes GitHub Actions workflow commands for the report.
// Regressions are errors when failing is set and warnings otherwise; names
// without a baseline become notices.
func WriteAnnotations(w io.Writer, r Report, failing bool) error {
	level := "warning"
	if failing {
		level = "error"
	}
	for _, d := range r.Regressions() {
		msg := fmt.Sprintf("%s changed %s (%s -> %s), threshold %s%%",
			d.Name, formatPercent(d.RelativeChange),
			formatValue(d.Baseline, d.Unit), formatValue(d.Current, d.Unit),
			formatNumber(d.ThresholdPercent))
		if _, err := fmt.Fprintf(w, "::%s title=%s::%s\n",
			level, escapeProperty("Performance regression: "+d.Name), escapeData(msg)); err != nil {
			return err
		}
	}
	for _, d := range r.Details {
		if d.Kind != detector.InsufficientHistory {
			continue
		}
		msg := fmt.Sprintf("%s has no usable baseline (%s)", d.Name, d.Reason)
		if _, err := fmt.Fprintf(w, "::notice title=%s::%s\n",
			escapeProperty("No baseline: "+d.Name), escapeData(msg)); err != nil {
			return err
		}
	}
	return nil
}

func escapeData(s string) string {
	return strings.NewReplacer("%", "%25", "\r", "%0D", "\n", "%0A").Replace(s)
}

func escapeProperty(s string) string {
	return strings.NewReplacer("%", "%25", "\r", "%0D", "\n", "%0A", ":", "%3A", ",", "%2C").Replace(s)
}

// AppendStepSummary appends markdown to the job summary file at path, as
// named by $GITHUB_STEP_SUMMARY.
func AppendStepSummary(path, markdown string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open step summary: %w", err)
	}
	if _, err := f.WriteString(markdown + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("failed to write step summary: %w", err)
	}
	return f.Close()
}
