package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"benchtrack/internal/benchmark"
	"benchtrack/internal/ci"
	"benchtrack/internal/config"
	"benchtrack/internal/history"
	"benchtrack/internal/ingest"
	"benchtrack/internal/metrics"
	"benchtrack/internal/notify"
	"benchtrack/internal/report"
	"benchtrack/internal/telemetry"

	"github.com/cenkalti/backoff/v5"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const pushJob = "bench-track"

type ingestOptions struct {
	tool        string
	input       string
	series      string
	commitFile  string
	dryRun      bool
	render      bool
	annotations bool
}

func newIngestCmd() *cobra.Command {
	opts := &ingestOptions{}
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Record a benchmark run and check it for regressions",
		Long: `Parses the benchmark output in --input, compares every result with the stored
history of the series and appends the run. Concurrent writers are detected and
the ingestion is retried against the fresh history.

Supported tools: googlecpp, go, customSmallerIsBetter, customBiggerIsBetter.`,
		Example: `  bench-track ingest --tool googlecpp --input bench.json --store gh-pages/dev/bench/data.js
  go test -bench . | bench-track ingest --tool go --input - --store sqlite:///var/lib/bench.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.tool, "tool", "", "Benchmark output format (required)")
	f.StringVarP(&opts.input, "input", "i", "", "Benchmark output file, - for stdin (required)")
	f.StringVar(&opts.series, "series", "", "History key for the run (default is the tool name)")
	f.StringVar(&opts.commitFile, "commit-file", "", "JSON file with the commit metadata")
	f.BoolVar(&opts.dryRun, "dry-run", false, "Detect regressions without recording the run")
	f.BoolVar(&opts.render, "render", false, "Render the markdown report for the terminal")
	f.BoolVar(&opts.annotations, "annotations", false, "Emit GitHub Actions annotations for regressions")
	f.String("store", "", "History location (path, sqlite://, postgres://, git+file://)")
	f.Float64("threshold", 20, "Regression threshold in percent")
	f.String("mode", "previous-run", "Baseline: previous-run, trailing-mean(N) or trailing-median(N)")
	f.String("repo-url", "", "Repository URL recorded in new history files")
	f.Bool("fail-on-regression", true, "Exit with status 1 when a regression is detected")
	f.String("format", "table", "Report format: table, json or markdown")
	f.String("step-summary", "", "Append the markdown report to this file (e.g. $GITHUB_STEP_SUMMARY)")
	f.Int("max-retries", 3, "Retries after a concurrent modification")
	f.Duration("write-timeout", 30*time.Second, "Timeout for recording the run")
	f.String("pushgateway", "", "Prometheus Pushgateway URL for ingestion metrics")

	cmd.MarkFlagRequired("tool")
	cmd.MarkFlagRequired("input")

	return cmd
}

func runIngest(cmd *cobra.Command, opts *ingestOptions) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if !benchmark.IsKnownTool(opts.tool) {
		return fmt.Errorf("unsupported tool %q", opts.tool)
	}
	data, err := readInput(cmd.InOrStdin(), opts.input)
	if err != nil {
		return err
	}

	cfg, err := config.DetectorConfig()
	if err != nil {
		return err
	}

	resolver := ci.NewResolverFromEnv(opts.commitFile)
	commit, err := resolver.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("failed to determine commit: %w", err)
	}
	telemetry.LogDebug("Resolved commit", "id", commit.ID, "url", commit.URL)
	repoURL := viper.GetString(config.KeyRepoURL)
	if repoURL == "" {
		repoURL = resolver.RepoURL(ctx)
	}

	storeURI := viper.GetString(config.KeyStoreURI)
	if storeURI == "" {
		return errors.New("no history store configured: use --store or BENCH_STORE_URI")
	}
	store, err := history.Open(storeURI, history.WithRepoURL(repoURL))
	if err != nil {
		return err
	}
	defer store.Close()

	m := metrics.NewMetrics()
	pipeline := ingest.NewPipeline(store, cfg)
	pipeline.Writer = ingest.NewWriter(store, viper.GetDuration(config.KeyWriteTimeout))
	pipeline.Metrics = m

	req := ingest.Request{
		Tool:   opts.tool,
		Series: opts.series,
		Data:   data,
		Commit: commit,
		DryRun: opts.dryRun,
	}
	res, err := ingestWithRetry(ctx, pipeline, req, viper.GetInt(config.KeyMaxRetries))
	pushMetrics(ctx, m, req)
	if err != nil {
		return err
	}

	telemetry.LogInfo("Ingestion finished",
		"ingestion_id", res.ID,
		"tool", opts.tool,
		"appended", res.Appended,
		"regression", res.Report.AnyRegression)

	meta := report.Meta{
		Tool:      opts.tool,
		Series:    opts.series,
		Commit:    commit,
		Mode:      cfg.Mode.String(),
		RepoURL:   repoURL,
		Threshold: cfg.ThresholdPercent,
	}
	failOnRegression := viper.GetBool(config.KeyFailOnRegression)
	if err := writeReport(cmd.OutOrStdout(), res.Report, meta, viper.GetString(config.KeyFormat), opts.render); err != nil {
		return err
	}
	if opts.annotations {
		if err := report.WriteAnnotations(cmd.OutOrStdout(), res.Report, failOnRegression); err != nil {
			return err
		}
	}
	if path := viper.GetString(config.KeyStepSummary); path != "" {
		if err := report.AppendStepSummary(path, report.Markdown(res.Report, meta)); err != nil {
			return err
		}
	}

	if !opts.dryRun {
		if err := notify.NewManagerFromEnv().NotifyRegression(ctx, res.Report, meta); err != nil {
			telemetry.LogError("Failed to send regression alert", err)
		}
	}

	if res.Report.AnyRegression && failOnRegression {
		return errRegression
	}
	return nil
}

// ingestWithRetry reruns the pipeline, which reloads the history, while the
// store reports a concurrent modification.
func ingestWithRetry(ctx context.Context, p *ingest.Pipeline, req ingest.Request, maxRetries int) (*ingest.Result, error) {
	attempts := 0
	res, err := backoff.Retry(ctx, func() (*ingest.Result, error) {
		attempts++
		res, err := p.Ingest(ctx, req)
		if err != nil && !errors.Is(err, history.ErrConcurrentModification) {
			return nil, backoff.Permanent(err)
		}
		return res, err
	},
		backoff.WithBackOff(newRetryBackOff()),
		backoff.WithMaxTries(uint(maxRetries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			telemetry.LogWarn("History changed during ingestion, retrying", "attempt", attempts, "retry_in", next)
		}),
	)
	if err != nil && errors.Is(err, history.ErrConcurrentModification) {
		return nil, fmt.Errorf("giving up after %d attempts: %w", attempts, err)
	}
	return res, err
}

func newRetryBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	return b
}

func writeReport(w io.Writer, r report.Report, meta report.Meta, format string, render bool) error {
	switch format {
	case "json":
		return report.WriteJSON(w, r)
	case "markdown":
		md := report.Markdown(r, meta)
		if render {
			out, err := report.Render(md, 100)
			if err != nil {
				return err
			}
			md = out
		}
		_, err := io.WriteString(w, md)
		return err
	default:
		return report.WriteTable(w, r)
	}
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read benchmark output from stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read benchmark output: %w", err)
	}
	return data, nil
}

func pushMetrics(ctx context.Context, m *metrics.Metrics, req ingest.Request) {
	url := viper.GetString(config.KeyPushgateway)
	if url == "" {
		return
	}
	key := req.Series
	if key == "" {
		key = req.Tool
	}
	if err := m.Push(ctx, url, pushJob, key); err != nil {
		telemetry.LogError("Failed to push metrics", err, "gateway", url)
	}
}
