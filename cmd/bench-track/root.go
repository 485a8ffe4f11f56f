package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"benchtrack/internal/config"
	"benchtrack/internal/telemetry"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Process exit codes.
const (
	exitOK         = 0
	exitRegression = 1
	exitError      = 2
)

// errRegression is returned by ingest when a regression was found and the
// run is configured to fail on it.
var errRegression = errors.New("performance regression detected")

var exit = os.Exit

type rootOptions struct {
	cfgFile string
	noColor bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "bench-track",
		Short: "Track benchmark history and detect performance regressions",
		Long: `bench-track ingests the results of one benchmark run, compares them with the
stored history of the series and records the run. It exits with status 1 when a
benchmark regressed beyond the configured threshold and 2 on any error.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			bindFlags(cmd)
			return initConfig(opts)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (default is ./bench-track.yaml)")
	cmd.PersistentFlags().BoolP("debug", "v", false, "Enable debug logging")
	cmd.PersistentFlags().String("log-file", "", "Also write logs to this file")
	cmd.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	cmd.AddCommand(newIngestCmd(), newHistoryCmd(), newExportCmd())
	return cmd
}

// flagKeys maps flag names to the configuration keys they override.
var flagKeys = map[string]string{
	"store":              config.KeyStoreURI,
	"threshold":          config.KeyThresholdPct,
	"mode":               config.KeyMode,
	"repo-url":           config.KeyRepoURL,
	"fail-on-regression": config.KeyFailOnRegression,
	"format":             config.KeyFormat,
	"step-summary":       config.KeyStepSummary,
	"max-retries":        config.KeyMaxRetries,
	"write-timeout":      config.KeyWriteTimeout,
	"pushgateway":        config.KeyPushgateway,
	"debug":              config.KeyDebug,
	"log-file":           config.KeyLogFile,
}

// bindFlags binds the flags of the command being run, so several commands
// can declare the same flag.
func bindFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok {
			viper.BindPFlag(key, f)
		}
	})
}

// initConfig loads the config file, environment and .env, then sets up logging.
func initConfig(opts *rootOptions) error {
	if err := config.Load(opts.cfgFile); err != nil {
		return err
	}
	if err := config.ValidateConfig(); err != nil {
		return err
	}
	if opts.noColor || os.Getenv("NO_COLOR") != "" {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
	telemetry.InitLogger(viper.GetBool(config.KeyDebug), viper.GetString(config.KeyLogFile))
	return nil
}

// Execute runs the root command and exits with the mapped status code.
// This is called by main.main().
func Execute() {
	// Wrap Execute in panic recovery for graceful shutdown
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "\n=== CRITICAL ERROR: Command Execution Panic ===\n")
			fmt.Fprintf(os.Stderr, "Error: %v\n", r)
			exit(exitError)
		}
	}()

	exit(run(newRootCmd(), os.Args[1:], os.Stderr))
}

// run executes cmd with args and maps the outcome to an exit code.
func run(cmd *cobra.Command, args []string, stderr io.Writer) int {
	cmd.SetArgs(args)
	err := cmd.Execute()
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errRegression):
		fmt.Fprintln(stderr, err)
		return exitRegression
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
}
