package detector

import (
	"math"
	"testing"

	"benchtrack/internal/benchmark"
	"benchtrack/internal/history"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(id string, date int64, benches ...benchmark.Result) benchmark.Run {
	return benchmark.Run{
		Commit:  benchmark.Commit{ID: id},
		Date:    date,
		Tool:    benchmark.ToolGoogleCpp,
		Benches: benches,
	}
}

func res(name string, value float64) benchmark.Result {
	return benchmark.Result{Name: name, Value: value, Unit: "ns/iter"}
}

func seriesOf(t *testing.T, runs ...benchmark.Run) history.Series {
	t.Helper()
	s, err := history.NewSeries(benchmark.ToolGoogleCpp, runs...)
	require.NoError(t, err)
	return s
}

func withThreshold(pct float64) Config {
	cfg := DefaultConfig()
	cfg.ThresholdPercent = pct
	return cfg
}

func TestDetect_FindServicesScenario(t *testing.T) {
	series := seriesOf(t, run("c1", 1000, res("FindServices/1/1", 1676.3)))
	newRun := run("c2", 2000, res("FindServices/1/1", 2100.0))

	verdicts := Detect(series, newRun, withThreshold(20))
	require.Len(t, verdicts, 1)
	v := verdicts[0]
	assert.Equal(t, Regressed, v.Kind)
	assert.InDelta(t, 0.2528, v.RelativeChange, 0.0001)
	assert.InDelta(t, 1.2528, v.Ratio, 0.0001)
	assert.Equal(t, 1676.3, v.Baseline)
	assert.Equal(t, 2100.0, v.Current)
	assert.Equal(t, "c1", v.BaselineCommit)
	assert.Equal(t, HigherIsWorse, v.Polarity)

	verdicts = Detect(series, newRun, withThreshold(30))
	assert.Equal(t, OK, verdicts[0].Kind)
}

func TestDetect_ThresholdBoundary(t *testing.T) {
	series := seriesOf(t, run("c1", 1000, res("X", 100)))
	tests := []struct {
		name     string
		value    float64
		polarity Polarity
		want     Kind
	}{
		{"exactly at threshold", 120, HigherIsWorse, OK},
		{"just above threshold", 120.0001, HigherIsWorse, Regressed},
		{"just below threshold", 119.9999, HigherIsWorse, OK},
		{"improvement", 50, HigherIsWorse, OK},
		{"throughput exactly at threshold", 80, HigherIsBetter, OK},
		{"throughput just below threshold", 79.9999, HigherIsBetter, Regressed},
		{"throughput gain", 500, HigherIsBetter, OK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := withThreshold(20)
			cfg.Overrides = map[string]Override{"X": {Polarity: tt.polarity}}
			v := Detect(series, run("c2", 2000, res("X", tt.value)), cfg)
			require.Len(t, v, 1)
			assert.Equal(t, tt.want, v[0].Kind)
		})
	}
}

func TestDetect_ZeroThreshold(t *testing.T) {
	series := seriesOf(t, run("c1", 1000, res("X", 100)))
	assert.Equal(t, OK, Detect(series, run("c2", 2000, res("X", 100)), withThreshold(0))[0].Kind)
	assert.Equal(t, Regressed, Detect(series, run("c2", 2000, res("X", 100.5)), withThreshold(0))[0].Kind)
}

func TestDetect_NewBenchmark(t *testing.T) {
	series := seriesOf(t, run("c1", 1000, res("Old", 10)))
	verdicts := Detect(series, run("c2", 2000, res("Old", 10), res("Brand/New", 99)), DefaultConfig())

	require.Len(t, verdicts, 2)
	assert.Equal(t, OK, verdicts[0].Kind)
	assert.Equal(t, InsufficientHistory, verdicts[1].Kind)
	assert.Equal(t, ReasonNoBaseline, verdicts[1].Reason)
	assert.Equal(t, "Brand/New", verdicts[1].Name)
}

func TestDetect_EmptyHistory(t *testing.T) {
	verdicts := Detect(history.Series{}, run("c1", 1000, res("A", 1), res("B", 2)), DefaultConfig())
	require.Len(t, verdicts, 2)
	for _, v := range verdicts {
		assert.Equal(t, InsufficientHistory, v.Kind)
	}
}

func TestDetect_NoCrossNameLeakage(t *testing.T) {
	series := seriesOf(t,
		run("c1", 1000, res("A", 100), res("B", 1)),
		run("c2", 2000, res("A", 100)),
	)
	// B is only compared with B's history, even though the latest run lacks it
	verdicts := Detect(series, run("c3", 3000, res("A", 100), res("B", 10)), DefaultConfig())
	require.Len(t, verdicts, 2)
	assert.Equal(t, OK, verdicts[0].Kind)
	assert.Equal(t, Regressed, verdicts[1].Kind)
	assert.Equal(t, 1.0, verdicts[1].Baseline)
	assert.Equal(t, "c1", verdicts[1].BaselineCommit)
}

func TestDetect_PreviousRunUsesLatestDate(t *testing.T) {
	series := seriesOf(t,
		run("c1", 1000, res("A", 10)),
		run("c2", 3000, res("A", 30)),
		run("c3", 3000, res("A", 20)),
	)
	v := Detect(series, run("c4", 4000, res("A", 20)), DefaultConfig())
	assert.Equal(t, 20.0, v[0].Baseline, "a date tie goes to the later stored run")
	assert.Equal(t, "c3", v[0].BaselineCommit)
}

func TestDetect_ExcludesOwnCommit(t *testing.T) {
	series := seriesOf(t,
		run("c1", 1000, res("A", 100)),
		run("c2", 2000, res("A", 1000)),
	)
	v := Detect(series, run("c2", 3000, res("A", 110)), DefaultConfig())
	assert.Equal(t, 100.0, v[0].Baseline)
	assert.Equal(t, OK, v[0].Kind)
}

func TestDetect_ZeroBaseline(t *testing.T) {
	series := seriesOf(t, run("c1", 1000, res("A", 0)))
	v := Detect(series, run("c2", 2000, res("A", 5)), DefaultConfig())
	assert.Equal(t, InsufficientHistory, v[0].Kind)
	assert.Equal(t, ReasonZeroBaseline, v[0].Reason)
}

func TestDetect_InvalidValue(t *testing.T) {
	series := seriesOf(t, run("c1", 1000, res("A", 10)))
	v := Detect(series, run("c2", 2000, res("A", math.Inf(1))), DefaultConfig())
	assert.Equal(t, InsufficientHistory, v[0].Kind)
	assert.Equal(t, ReasonInvalidValue, v[0].Reason)
	assert.Zero(t, v[0].Current)
}

func TestDetect_DuplicateNamesInRun(t *testing.T) {
	series := seriesOf(t, run("c1", 1000, res("A", 100), res("B", 1)))
	newRun := run("c2", 2000, res("A", 500), res("B", 1), res("A", 105))

	verdicts := Detect(series, newRun, DefaultConfig())
	require.Len(t, verdicts, 2)
	assert.Equal(t, "A", verdicts[0].Name)
	assert.Equal(t, 105.0, verdicts[0].Current)
	assert.Equal(t, OK, verdicts[0].Kind)
	assert.Equal(t, "B", verdicts[1].Name)
}

func TestDetect_DuplicateCommitsInHistory(t *testing.T) {
	// stores refuse duplicates, but hand-edited files may still carry them
	a := run("c1", 1000, res("A", 100))
	b := run("c1", 2000, res("A", 200))
	series := seriesOf(t, a, b)

	v := Detect(series, run("c2", 3000, res("A", 210)), DefaultConfig())
	assert.Equal(t, 200.0, v[0].Baseline)
	assert.Equal(t, OK, v[0].Kind)
}

func TestDetect_TrailingModes(t *testing.T) {
	series := seriesOf(t,
		run("c1", 1000, res("A", 1000)),
		run("c2", 2000, res("A", 100)),
		run("c3", 3000, res("A", 110)),
		run("c4", 4000, res("B", 5)),
		run("c5", 5000, res("A", 300)),
	)
	newRun := run("c6", 6000, res("A", 200))

	mean := DefaultConfig()
	mean.Mode = Mode{Kind: TrailingMean, Window: 4}
	v := Detect(series, newRun, mean)
	assert.InDelta(t, 170.0, v[0].Baseline, 1e-9) // c2, c3, c5; c1 is outside the window
	assert.Equal(t, 3, v[0].BaselineSamples)
	assert.Equal(t, OK, v[0].Kind)

	median := DefaultConfig()
	median.Mode = Mode{Kind: TrailingMedian, Window: 4}
	v = Detect(series, newRun, median)
	assert.Equal(t, 110.0, v[0].Baseline)
	assert.Equal(t, Regressed, v[0].Kind)

	narrow := DefaultConfig()
	narrow.Mode = Mode{Kind: TrailingMean, Window: 1}
	v = Detect(series, run("c6", 6000, res("B", 5)), narrow)
	assert.Equal(t, InsufficientHistory, v[0].Kind, "B is not in the last run")
}

func TestDetect_DoesNotMutateInputs(t *testing.T) {
	series := seriesOf(t, run("c1", 1000, res("A", 100)))
	newRun := run("c2", 2000, res("A", 300), res("A", 150))
	before := append([]benchmark.Result(nil), newRun.Benches...)

	first := Detect(series, newRun, DefaultConfig())
	second := Detect(series, newRun, DefaultConfig())

	assert.Equal(t, first, second)
	assert.Equal(t, before, newRun.Benches)
	assert.Equal(t, 1, series.Len())
}

func TestDetect_BiggerIsBetterTool(t *testing.T) {
	prev := benchmark.Run{Commit: benchmark.Commit{ID: "c1"}, Date: 1, Tool: benchmark.ToolCustomBiggerIsBetter,
		Benches: []benchmark.Result{{Name: "throughput", Value: 1000, Unit: "ns"}}}
	s, err := history.NewSeries(benchmark.ToolCustomBiggerIsBetter, prev)
	require.NoError(t, err)

	newRun := benchmark.Run{Commit: benchmark.Commit{ID: "c2"}, Date: 2, Tool: benchmark.ToolCustomBiggerIsBetter,
		Benches: []benchmark.Result{{Name: "throughput", Value: 700, Unit: "ns"}}}
	v := Detect(s, newRun, DefaultConfig())
	assert.Equal(t, HigherIsBetter, v[0].Polarity)
	assert.Equal(t, Regressed, v[0].Kind)
}

func TestDetect_CarriesExtraDetails(t *testing.T) {
	series := seriesOf(t, run("c1", 1000, res("FindServices/1/1", 1676.3)))
	current := res("FindServices/1/1", 2100.0)
	current.Extra = "iterations: 417634\ncpu: 1.67595 us\nthreads: 1"
	withoutExtra := res("Plain", 5)
	gibberish := res("Odd", 5)
	gibberish.Extra = "warm cache"

	verdicts := Detect(series, run("c2", 2000, current, withoutExtra, gibberish), withThreshold(20))
	require.Len(t, verdicts, 3)

	assert.Equal(t, uint64(417634), verdicts[0].Iterations)
	assert.InDelta(t, 1675.95, verdicts[0].CPUTimeNs, 1e-9)
	for _, v := range verdicts[1:] {
		assert.Zero(t, v.Iterations, v.Name)
		assert.Zero(t, v.CPUTimeNs, v.Name)
	}
}
