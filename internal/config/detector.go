package config

import (
	"fmt"

	"benchtrack/internal/detector"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// OverrideSpec is one entry of the overrides list in bench-track.yaml:
//
//	overrides:
//	  - name: Throughput/Encode
//	    polarity: higher-is-better
//	    threshold_pct: 5
type OverrideSpec struct {
	Name         string   `mapstructure:"name"`
	Polarity     string   `mapstructure:"polarity"`
	ThresholdPct *float64 `mapstructure:"threshold_pct"`
}

// UnitSpec adds a unit to the polarity table. Units are a list rather than a
// map because config keys are case-insensitive and units are not.
type UnitSpec struct {
	Unit     string `mapstructure:"unit"`
	Polarity string `mapstructure:"polarity"`
}

// DetectorConfig builds the regression detector configuration from the
// loaded settings.
func DetectorConfig() (detector.Config, error) {
	cfg := detector.DefaultConfig()
	threshold, err := cast.ToFloat64E(viper.Get(KeyThresholdPct))
	if err != nil {
		return cfg, fmt.Errorf("invalid threshold_pct %v: %w", viper.Get(KeyThresholdPct), err)
	}
	cfg.ThresholdPercent = threshold

	mode, err := detector.ParseMode(viper.GetString(KeyMode))
	if err != nil {
		return cfg, err
	}
	cfg.Mode = mode

	var specs []OverrideSpec
	if err := viper.UnmarshalKey(KeyOverrides, &specs); err != nil {
		return cfg, fmt.Errorf("invalid overrides: %w", err)
	}
	if len(specs) > 0 {
		cfg.Overrides = make(map[string]detector.Override, len(specs))
	}
	for i, s := range specs {
		if s.Name == "" {
			return cfg, fmt.Errorf("overrides[%d]: name is required", i)
		}
		o := detector.Override{ThresholdPercent: s.ThresholdPct}
		if s.Polarity != "" {
			if o.Polarity, err = detector.ParsePolarity(s.Polarity); err != nil {
				return cfg, fmt.Errorf("overrides[%d]: %w", i, err)
			}
		}
		cfg.Overrides[s.Name] = o
	}

	var unitSpecs []UnitSpec
	if err := viper.UnmarshalKey(KeyUnits, &unitSpecs); err != nil {
		return cfg, fmt.Errorf("invalid units: %w", err)
	}
	if len(unitSpecs) > 0 {
		cfg.Units = make(map[string]detector.Polarity, len(unitSpecs))
	}
	for i, u := range unitSpecs {
		if u.Unit == "" {
			return cfg, fmt.Errorf("units[%d]: unit is required", i)
		}
		pol, err := detector.ParsePolarity(u.Polarity)
		if err != nil {
			return cfg, fmt.Errorf("units[%d]: %w", i, err)
		}
		cfg.Units[u.Unit] = pol
	}

	return cfg, cfg.Validate()
}
