package benchmark

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/perf/benchfmt"
)

// ParseError reports malformed benchmark output. It aborts an ingestion
// before the store is touched.
type ParseError struct {
	Tool string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s output: %v", e.Tool, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parse normalizes the raw output of tool into results.
func Parse(tool string, data []byte) ([]Result, error) {
	var (
		results []Result
		err     error
	)
	switch tool {
	case ToolGoogleCpp:
		results, err = parseGoogleCpp(data)
	case ToolGo:
		results, err = ParseGoOutput(string(data))
	case ToolCustomSmallerIsBetter, ToolCustomBiggerIsBetter:
		results, err = parseCustom(data)
	default:
		err = fmt.Errorf("unsupported tool %q", tool)
	}
	if err != nil {
		return nil, &ParseError{Tool: tool, Err: err}
	}
	if len(results) == 0 {
		return nil, &ParseError{Tool: tool, Err: errors.New("no benchmark results found")}
	}
	return results, nil
}

type googleBenchmarkOutput struct {
	Context    json.RawMessage   `json:"context"`
	Benchmarks []googleBenchmark `json:"benchmarks"`
}

type googleBenchmark struct {
	Name          string      `json:"name"`
	RunType       string      `json:"run_type"`
	Iterations    json.Number `json:"iterations"`
	RealTime      *float64    `json:"real_time"`
	CPUTime       *float64    `json:"cpu_time"`
	TimeUnit      string      `json:"time_unit"`
	Threads       json.Number `json:"threads"`
	ErrorOccurred bool        `json:"error_occurred"`
}

func parseGoogleCpp(data []byte) ([]Result, error) {
	var out googleBenchmarkOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("invalid Google Benchmark JSON: %w", err)
	}
	if out.Benchmarks == nil {
		return nil, errors.New(`missing "benchmarks" array`)
	}

	results := make([]Result, 0, len(out.Benchmarks))
	for i, b := range out.Benchmarks {
		if b.ErrorOccurred {
			continue
		}
		if b.Name == "" {
			return nil, fmt.Errorf("benchmark #%d has no name", i)
		}
		if b.RealTime == nil || b.CPUTime == nil {
			return nil, fmt.Errorf("benchmark %q is missing real_time or cpu_time", b.Name)
		}
		unit := b.TimeUnit
		if unit == "" {
			unit = "ns"
		}
		threads := b.Threads.String()
		if threads == "" {
			threads = "1"
		}
		results = append(results, Result{
			Name:  b.Name,
			Value: *b.RealTime,
			Unit:  unit + "/iter",
			Extra: fmt.Sprintf("iterations: %s\ncpu: %s %s\nthreads: %s",
				b.Iterations.String(), formatNumber(*b.CPUTime), unit, threads),
		})
	}
	return results, nil
}

// ParseGoOutput parses `go test -bench` output. The first metric of each line
// (normally ns/op) is reported under the benchmark name, the others as
// "<name> - <unit>".
//
// A trailing "-N" is taken as the GOMAXPROCS suffix only when every result
// line ends in the same one. Output of -cpu=1,4 or of GOMAXPROCS=1 runs keeps
// full names, so distinct benchmarks never share a name.
func ParseGoOutput(output string) ([]Result, error) {
	type line struct {
		name   string
		iters  int
		values []benchfmt.Value
	}
	var lines []line

	reader := benchfmt.NewReader(strings.NewReader(output), "go test -bench")
	for reader.Scan() {
		switch rec := reader.Result().(type) {
		case *benchfmt.Result:
			// the reader reuses rec between scans
			name := string(rec.Name)
			if !strings.HasPrefix(name, "Benchmark") {
				name = "Benchmark" + name
			}
			lines = append(lines, line{
				name:   name,
				iters:  rec.Iters,
				values: append([]benchfmt.Value(nil), rec.Values...),
			})
		case *benchfmt.SyntaxError:
			return nil, rec
		}
	}
	if err := reader.Err(); err != nil {
		return nil, err
	}

	procs := ""
	for i, l := range lines {
		_, p := splitProcs(l.name)
		if p == "" || (i > 0 && p != procs) {
			procs = ""
			break
		}
		procs = p
	}

	var results []Result
	for _, l := range lines {
		name := l.name
		extra := strconv.Itoa(l.iters) + " times"
		if procs != "" {
			name, _ = splitProcs(name)
			extra += "\n" + procs + " procs"
		}
		for i, v := range l.values {
			value, unit := v.Value, v.Unit
			if v.OrigUnit != "" {
				value, unit = v.OrigValue, v.OrigUnit
			}
			res := Result{Name: name, Value: value, Unit: unit, Extra: extra}
			if i > 0 {
				res.Name = name + " - " + unit
			}
			results = append(results, res)
		}
	}
	return results, nil
}

// splitProcs splits a trailing "-N" off name.
func splitProcs(name string) (string, string) {
	i := strings.LastIndexByte(name, '-')
	if i < 0 || i == len(name)-1 {
		return name, ""
	}
	for _, c := range name[i+1:] {
		if c < '0' || c > '9' {
			return name, ""
		}
	}
	return name[:i], name[i+1:]
}

func parseCustom(data []byte) ([]Result, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var results []Result
	if err := dec.Decode(&results); err != nil {
		return nil, fmt.Errorf("expected a JSON array of {name, value, unit}: %w", err)
	}
	for i, r := range results {
		if r.Name == "" {
			return nil, fmt.Errorf("result #%d has no name", i)
		}
		if r.Unit == "" {
			return nil, fmt.Errorf("result %q has no unit", r.Name)
		}
		if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
			return nil, fmt.Errorf("result %q has a non-finite value", r.Name)
		}
	}
	return results, nil
}

// formatNumber prints v the way a JavaScript number is stringified, which is
// what existing history files contain.
func formatNumber(v float64) string {
	abs := math.Abs(v)
	if abs != 0 && (abs < 1e-6 || abs >= 1e21) {
		s := strconv.FormatFloat(v, 'e', -1, 64)
		// Go writes e-07 / e+21, JavaScript e-7 / e+21.
		mant, exp, _ := strings.Cut(s, "e")
		sign := exp[:1]
		digits := strings.TrimLeft(exp[1:], "0")
		return mant + "e" + sign + digits
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
