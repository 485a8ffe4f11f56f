package benchmark

import (
	"regexp"
	"strconv"
	"strings"
)

// Extra is the typed view of a result's free-form extra text.
// When the text does not follow a known layout Parsed is false and only Raw is set.
type Extra struct {
	Iterations uint64
	CPUTime    float64
	CPUUnit    string
	CPUTimeNs  float64
	Threads    uint32
	Procs      uint32
	Raw        string
	Parsed     bool
}

var (
	// "1000 times" / "8 procs" as written for go benchmarks
	goTimesRegex = regexp.MustCompile(`^(\d+) times$`)
	goProcsRegex = regexp.MustCompile(`^(\d+) procs$`)
)

var nsPerUnit = map[string]float64{
	"ns": 1,
	"us": 1e3,
	"ms": 1e6,
	"s":  1e9,
}

// ParseExtra parses the extra text of a result.
//
// Two layouts are recognized: the Google Benchmark one
// ("iterations: N\ncpu: X ns\nthreads: T") and the go one ("N times\nP procs").
func ParseExtra(s string) Extra {
	e := Extra{Raw: s}
	if strings.TrimSpace(s) == "" {
		return e
	}

	lines := strings.Split(strings.TrimSpace(s), "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if m := goTimesRegex.FindStringSubmatch(line); m != nil {
			n, err := strconv.ParseUint(m[1], 10, 64)
			if err != nil {
				return Extra{Raw: s}
			}
			e.Iterations = n
			continue
		}
		if m := goProcsRegex.FindStringSubmatch(line); m != nil {
			n, err := strconv.ParseUint(m[1], 10, 32)
			if err != nil {
				return Extra{Raw: s}
			}
			e.Procs = uint32(n)
			continue
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return Extra{Raw: s}
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "iterations":
			n, err := strconv.ParseUint(value, 10, 64)
			if err != nil {
				return Extra{Raw: s}
			}
			e.Iterations = n
		case "cpu":
			fields := strings.Fields(value)
			if len(fields) == 0 || len(fields) > 2 {
				return Extra{Raw: s}
			}
			v, err := strconv.ParseFloat(fields[0], 64)
			if err != nil {
				return Extra{Raw: s}
			}
			e.CPUTime = v
			if len(fields) == 2 {
				e.CPUUnit = fields[1]
				if mult, ok := nsPerUnit[fields[1]]; ok {
					e.CPUTimeNs = v * mult
				}
			}
		case "threads":
			n, err := strconv.ParseUint(value, 10, 32)
			if err != nil {
				return Extra{Raw: s}
			}
			e.Threads = uint32(n)
		default:
			return Extra{Raw: s}
		}
	}

	e.Parsed = true
	return e
}
