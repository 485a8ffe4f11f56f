package report

import (
	"encoding/json"
	"io"
	"math"
	"sort"

	"benchtrack/internal/detector"
)

// Detail is one line of a report.
type Detail struct {
	Name             string            `json:"name"`
	Kind             detector.Kind     `json:"verdictKind"`
	RelativeChange   float64           `json:"relativeChange"`
	Ratio            float64           `json:"ratio"`
	Current          float64           `json:"current"`
	Baseline         float64           `json:"baseline"`
	Unit             string            `json:"unit"`
	Polarity         detector.Polarity `json:"polarity"`
	ThresholdPercent float64           `json:"thresholdPercent"`
	Reason           string            `json:"reason,omitempty"`
	BaselineCommit   string            `json:"baselineCommit,omitempty"`
	Iterations       uint64            `json:"iterations,omitempty"`
	CPUTimeNs        float64           `json:"cpuTimeNs,omitempty"`
}

// Summary counts details per verdict kind.
type Summary struct {
	Total        int `json:"total"`
	OK           int `json:"ok"`
	Regressed    int `json:"regressed"`
	Insufficient int `json:"insufficientHistory"`
}

// Report aggregates the verdicts of one ingestion.
type Report struct {
	AnyRegression bool     `json:"anyRegression"`
	Details       []Detail `json:"details"`
	Summary       Summary  `json:"summary"`
}

// Emit builds a report from verdicts, keeping their order. Only Regressed
// verdicts set AnyRegression.
func Emit(verdicts []detector.Verdict) Report {
	r := Report{Details: make([]Detail, 0, len(verdicts))}
	for _, v := range verdicts {
		r.Details = append(r.Details, Detail{
			Name:             v.Name,
			Kind:             v.Kind,
			RelativeChange:   v.RelativeChange,
			Ratio:            v.Ratio,
			Current:          v.Current,
			Baseline:         v.Baseline,
			Unit:             v.Unit,
			Polarity:         v.Polarity,
			ThresholdPercent: v.ThresholdPercent,
			Reason:           v.Reason,
			BaselineCommit:   v.BaselineCommit,
			Iterations:       v.Iterations,
			CPUTimeNs:        v.CPUTimeNs,
		})
		r.Summary.Total++
		switch v.Kind {
		case detector.Regressed:
			r.Summary.Regressed++
			r.AnyRegression = true
		case detector.OK:
			r.Summary.OK++
		default:
			r.Summary.Insufficient++
		}
	}
	return r
}

// Regressions returns the regressed details, worst first.
func (r Report) Regressions() []Detail {
	var out []Detail
	for _, d := range r.Details {
		if d.Kind == detector.Regressed {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return math.Abs(out[i].RelativeChange) > math.Abs(out[j].RelativeChange)
	})
	return out
}

// WriteJSON writes the report as indented JSON.
func WriteJSON(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(r)
}
