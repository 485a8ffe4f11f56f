package detector

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"benchtrack/internal/benchmark"
)

// DefaultThresholdPercent is the relative change tolerated before a result
// counts as regressed.
const DefaultThresholdPercent = 20.0

// Polarity says which direction of change is a regression.
type Polarity string

const (
	HigherIsWorse  Polarity = "higher-is-worse"
	HigherIsBetter Polarity = "higher-is-better"
)

// ParsePolarity accepts the canonical names and a few common aliases.
func ParsePolarity(s string) (Polarity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "higher-is-worse", "smaller-is-better", "lower-is-better", "lower":
		return HigherIsWorse, nil
	case "higher-is-better", "bigger-is-better", "higher":
		return HigherIsBetter, nil
	}
	return "", fmt.Errorf("unknown polarity %q", s)
}

// DefaultUnits maps well-known units to their polarity. Time per operation
// grows when things get slower; throughput shrinks.
var DefaultUnits = map[string]Polarity{
	"ns/iter":   HigherIsWorse,
	"us/iter":   HigherIsWorse,
	"ms/iter":   HigherIsWorse,
	"s/iter":    HigherIsWorse,
	"ns/op":     HigherIsWorse,
	"B/op":      HigherIsWorse,
	"allocs/op": HigherIsWorse,
	"ns":        HigherIsWorse,
	"us":        HigherIsWorse,
	"ms":        HigherIsWorse,
	"s":         HigherIsWorse,
	"ops/sec":   HigherIsBetter,
	"ops/s":     HigherIsBetter,
	"op/s":      HigherIsBetter,
	"MB/s":      HigherIsBetter,
	"GB/s":      HigherIsBetter,
	"items/s":   HigherIsBetter,
	"req/s":     HigherIsBetter,
}

// ModeKind selects how the baseline is derived from history.
type ModeKind int

const (
	PreviousRun ModeKind = iota
	TrailingMean
	TrailingMedian
)

// Mode is a comparison mode. Window is only used by the trailing modes.
type Mode struct {
	Kind   ModeKind
	Window int
}

func (m Mode) String() string {
	switch m.Kind {
	case TrailingMean:
		return fmt.Sprintf("trailing-mean(%d)", m.Window)
	case TrailingMedian:
		return fmt.Sprintf("trailing-median(%d)", m.Window)
	default:
		return "previous-run"
	}
}

var reTrailing = regexp.MustCompile(`^trailing-(mean|median)\((\d+)\)$`)

// ParseMode parses "previous-run", "trailing-mean(N)" or "trailing-median(N)".
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.ReplaceAll(s, " ", ""))
	if s == "" || s == "previous-run" {
		return Mode{Kind: PreviousRun}, nil
	}
	m := reTrailing.FindStringSubmatch(s)
	if m == nil {
		return Mode{}, fmt.Errorf("unknown comparison mode %q", s)
	}
	n, err := strconv.Atoi(m[2])
	if err != nil || n < 1 {
		return Mode{}, fmt.Errorf("invalid window in %q: must be a positive integer", s)
	}
	if m[1] == "mean" {
		return Mode{Kind: TrailingMean, Window: n}, nil
	}
	return Mode{Kind: TrailingMedian, Window: n}, nil
}

// Override adjusts detection for one benchmark name. Zero fields inherit.
type Override struct {
	Polarity         Polarity
	ThresholdPercent *float64
}

// Config drives Detect.
type Config struct {
	ThresholdPercent float64
	Mode             Mode
	// Units extends DefaultUnits; entries here win.
	Units     map[string]Polarity
	Overrides map[string]Override
}

// DefaultConfig returns a previous-run comparison at the default threshold.
func DefaultConfig() Config {
	return Config{ThresholdPercent: DefaultThresholdPercent, Mode: Mode{Kind: PreviousRun}}
}

// Validate reports all configuration problems at once.
func (c Config) Validate() error {
	var errs []error
	if !validThreshold(c.ThresholdPercent) {
		errs = append(errs, fmt.Errorf("threshold must be a non-negative number, got %v", c.ThresholdPercent))
	}
	if c.Mode.Kind != PreviousRun && c.Mode.Window < 1 {
		errs = append(errs, fmt.Errorf("%s: window must be at least 1", c.Mode))
	}
	for name, o := range c.Overrides {
		if o.ThresholdPercent != nil && !validThreshold(*o.ThresholdPercent) {
			errs = append(errs, fmt.Errorf("override %q: threshold must be a non-negative number", name))
		}
		if o.Polarity != "" && o.Polarity != HigherIsWorse && o.Polarity != HigherIsBetter {
			errs = append(errs, fmt.Errorf("override %q: unknown polarity %q", name, o.Polarity))
		}
	}
	return errors.Join(errs...)
}

func validThreshold(t float64) bool {
	return t >= 0 && !math.IsInf(t, 0) && !math.IsNaN(t)
}

// PolarityFor resolves the polarity of a result: per-name override, then
// the polarity a custom tool declares, then the unit table.
func (c Config) PolarityFor(tool string, r benchmark.Result) Polarity {
	if o, ok := c.Overrides[r.Name]; ok && o.Polarity != "" {
		return o.Polarity
	}
	switch tool {
	case benchmark.ToolCustomBiggerIsBetter:
		return HigherIsBetter
	case benchmark.ToolCustomSmallerIsBetter:
		return HigherIsWorse
	}
	if p, ok := c.Units[r.Unit]; ok {
		return p
	}
	if p, ok := DefaultUnits[r.Unit]; ok {
		return p
	}
	return HigherIsWorse
}

// ThresholdFor returns the threshold percent that applies to name.
func (c Config) ThresholdFor(name string) float64 {
	if o, ok := c.Overrides[name]; ok && o.ThresholdPercent != nil {
		return *o.ThresholdPercent
	}
	return c.ThresholdPercent
}
