package config

import (
	"fmt"
	"math"
	"slices"

	"benchtrack/internal/detector"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// ValidateConfig validates configuration values and returns an error listing
// every invalid one. Call it after Load and after flags are bound.
func ValidateConfig() error {
	var errors []string

	if viper.IsSet(KeyThresholdPct) {
		t, err := cast.ToFloat64E(viper.Get(KeyThresholdPct))
		if err != nil || t < 0 || math.IsNaN(t) || math.IsInf(t, 0) {
			errors = append(errors, fmt.Sprintf("threshold_pct must be a non-negative number, got: %v", viper.Get(KeyThresholdPct)))
		}
	}

	_, modeErr := detector.ParseMode(viper.GetString(KeyMode))
	if modeErr != nil {
		errors = append(errors, fmt.Sprintf("mode: %v", modeErr))
	}

	if viper.IsSet(KeyWriteTimeout) {
		if d, err := cast.ToDurationE(viper.Get(KeyWriteTimeout)); err != nil || d <= 0 {
			errors = append(errors, fmt.Sprintf("write_timeout must be a positive duration, got: %v", viper.Get(KeyWriteTimeout)))
		}
	}

	if viper.IsSet(KeyMaxRetries) {
		if n, err := cast.ToIntE(viper.Get(KeyMaxRetries)); err != nil || n < 0 {
			errors = append(errors, fmt.Sprintf("max_retries must be a non-negative integer, got: %v", viper.Get(KeyMaxRetries)))
		}
	}

	if viper.IsSet(KeyFailOnRegression) {
		if _, err := cast.ToBoolE(viper.Get(KeyFailOnRegression)); err != nil {
			errors = append(errors, fmt.Sprintf("fail_on_regression must be a boolean, got: %v", viper.Get(KeyFailOnRegression)))
		}
	}

	if f := viper.GetString(KeyFormat); f != "" && !slices.Contains(Formats, f) {
		errors = append(errors, fmt.Sprintf("format must be one of %v, got: %q", Formats, f))
	}

	if modeErr == nil && len(errors) == 0 {
		if _, err := DetectorConfig(); err != nil {
			errors = append(errors, err.Error())
		}
	}

	if len(errors) > 0 {
		errorMsg := errors[0]
		for i := 1; i < len(errors); i++ {
			errorMsg += "\n  " + errors[i]
		}
		return fmt.Errorf("configuration validation failed:\n  %s", errorMsg)
	}
	return nil
}
