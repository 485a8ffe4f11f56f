package detector

import (
	"math"
	"sort"

	"benchtrack/internal/benchmark"
	"benchtrack/internal/history"

	"gonum.org/v1/gonum/stat"
)

// Kind classifies a verdict.
type Kind string

const (
	OK                  Kind = "ok"
	Regressed           Kind = "regressed"
	InsufficientHistory Kind = "insufficient-history"
)

// Reasons attached to InsufficientHistory verdicts.
const (
	ReasonNoBaseline   = "no-baseline"
	ReasonZeroBaseline = "zero-baseline"
	ReasonInvalidValue = "invalid-value"
)

// Verdict is the outcome of comparing one benchmark name against its baseline.
type Verdict struct {
	Name             string   `json:"name"`
	Unit             string   `json:"unit"`
	Kind             Kind     `json:"kind"`
	Current          float64  `json:"current"`
	Baseline         float64  `json:"baseline"`
	RelativeChange   float64  `json:"relativeChange"`
	Ratio            float64  `json:"ratio"`
	Polarity         Polarity `json:"polarity"`
	ThresholdPercent float64  `json:"thresholdPercent"`
	Reason           string   `json:"reason,omitempty"`
	BaselineCommit   string   `json:"baselineCommit,omitempty"`
	BaselineSamples  int      `json:"baselineSamples,omitempty"`
	Iterations       uint64   `json:"iterations,omitempty"`
	CPUTimeNs        float64  `json:"cpuTimeNs,omitempty"`
}

// Detect compares every distinct result name in newRun against the history
// in series and returns one verdict per name, in first-occurrence order.
// When a name repeats within newRun, its last value is used. Runs in series
// recorded for newRun's commit are not part of the baseline. Neither series
// nor newRun is modified.
func Detect(series history.Series, newRun benchmark.Run, cfg Config) []Verdict {
	window := series.Without(newRun.Commit.ID)
	if cfg.Mode.Kind != PreviousRun {
		window = window.Suffix(cfg.Mode.Window)
	}

	names := newRun.Names()
	verdicts := make([]Verdict, 0, len(names))
	for _, name := range names {
		current, _ := newRun.Lookup(name)
		verdicts = append(verdicts, judge(window, newRun.Tool, current, cfg))
	}
	return verdicts
}

func judge(window history.Series, tool string, current benchmark.Result, cfg Config) Verdict {
	v := Verdict{
		Name:             current.Name,
		Unit:             current.Unit,
		Current:          current.Value,
		Polarity:         cfg.PolarityFor(tool, current),
		ThresholdPercent: cfg.ThresholdFor(current.Name),
	}
	if extra := current.Details(); extra.Parsed {
		v.Iterations = extra.Iterations
		if finite(extra.CPUTimeNs) {
			v.CPUTimeNs = extra.CPUTimeNs
		}
	}
	if !finite(current.Value) {
		return insufficient(v, ReasonInvalidValue)
	}

	base, ok := baseline(window, current.Name, cfg.Mode, &v)
	if !ok {
		return insufficient(v, ReasonNoBaseline)
	}
	v.Baseline = base
	if !finite(base) {
		return insufficient(v, ReasonInvalidValue)
	}
	if base == 0 {
		return insufficient(v, ReasonZeroBaseline)
	}

	v.RelativeChange = (current.Value - base) / base
	v.Ratio = current.Value / base

	limit := v.ThresholdPercent / 100
	v.Kind = OK
	switch v.Polarity {
	case HigherIsBetter:
		if v.RelativeChange < -limit {
			v.Kind = Regressed
		}
	default:
		if v.RelativeChange > limit {
			v.Kind = Regressed
		}
	}
	return v
}

func insufficient(v Verdict, reason string) Verdict {
	v.Kind = InsufficientHistory
	v.Reason = reason
	v.RelativeChange = 0
	v.Ratio = 0
	// keep the verdict encodable as JSON
	if !finite(v.Current) {
		v.Current = 0
	}
	if !finite(v.Baseline) {
		v.Baseline = 0
	}
	return v
}

// baseline derives the reference value for name from window.
func baseline(window history.Series, name string, mode Mode, v *Verdict) (float64, bool) {
	if mode.Kind == PreviousRun {
		var (
			best  benchmark.Result
			date  int64
			found bool
		)
		for i := 0; i < window.Len(); i++ {
			run := window.Run(i)
			r, ok := run.Lookup(name)
			if !ok {
				continue
			}
			// later storage position wins a date tie
			if !found || run.Date >= date {
				best, date, found = r, run.Date, true
				v.BaselineCommit = run.Commit.ID
			}
		}
		if found {
			v.BaselineSamples = 1
		}
		return best.Value, found
	}

	var values []float64
	for i := 0; i < window.Len(); i++ {
		if r, ok := window.Run(i).Lookup(name); ok {
			values = append(values, r.Value)
		}
	}
	if len(values) == 0 {
		return 0, false
	}
	v.BaselineSamples = len(values)
	for _, x := range values {
		if !finite(x) {
			return math.NaN(), true
		}
	}

	if mode.Kind == TrailingMean {
		return stat.Mean(values, nil), true
	}
	sort.Float64s(values)
	return stat.Quantile(0.5, stat.Empirical, values, nil), true
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
