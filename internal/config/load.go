package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Configuration keys. Each can be set in bench-track.yaml or as BENCH_<KEY>.
const (
	KeyStoreURI         = "store_uri"
	KeyThresholdPct     = "threshold_pct"
	KeyMode             = "mode"
	KeyWriteTimeout     = "write_timeout"
	KeyMaxRetries       = "max_retries"
	KeyFormat           = "format"
	KeyFailOnRegression = "fail_on_regression"
	KeyRepoURL          = "repo_url"
	KeyPushgateway      = "pushgateway"
	KeyStepSummary      = "step_summary"
	KeyDebug            = "debug"
	KeyLogFile          = "log_file"
	KeyOverrides        = "overrides"
	KeyUnits            = "units"
)

// Output formats for the ingest report.
var Formats = []string{"table", "json", "markdown"}

// SetDefaults registers the default value of every key.
func SetDefaults() {
	viper.SetDefault(KeyThresholdPct, 20.0)
	viper.SetDefault(KeyMode, "previous-run")
	viper.SetDefault(KeyWriteTimeout, 30*time.Second)
	viper.SetDefault(KeyMaxRetries, 3)
	viper.SetDefault(KeyFormat, "table")
	viper.SetDefault(KeyFailOnRegression, true)
	viper.SetDefault(KeyDebug, false)
}

// Load initializes the configuration from .env, the config file and
// environment variables. Without cfgFile, bench-track.yaml in the working
// directory is used when present.
func Load(cfgFile string) error {
	// a missing .env is fine
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("bench-track")
	}

	viper.SetEnvPrefix("BENCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	SetDefaults()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	slog.Debug("Using config file", "path", viper.ConfigFileUsed())
	return nil
}
