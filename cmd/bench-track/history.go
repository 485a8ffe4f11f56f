package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"benchtrack/internal/config"
	"benchtrack/internal/history"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type historyOptions struct {
	series string
	window int
	names  bool
	json   bool
}

func newHistoryCmd() *cobra.Command {
	opts := &historyOptions{}
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the recorded runs of a series",
		Long: `Lists the runs stored for a series, oldest first. With --window only the most
recent runs are shown; with --names the distinct benchmark names are listed instead.
Without --series the available series are listed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.series, "series", "", "History key to show")
	f.StringVar(&opts.series, "tool", "", "Alias for --series")
	f.IntVarP(&opts.window, "window", "n", 0, "Only show the last N runs (0 shows all)")
	f.BoolVar(&opts.names, "names", false, "List benchmark names instead of runs")
	f.BoolVar(&opts.json, "json", false, "Output in JSON format")
	f.String("store", "", "History location (path, sqlite://, postgres://, git+file://)")

	return cmd
}

func runHistory(cmd *cobra.Command, opts *historyOptions) error {
	if opts.window < 0 {
		return fmt.Errorf("--window must not be negative, got %d", opts.window)
	}
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if opts.series == "" {
		tools, err := store.Tools(ctx)
		if err != nil {
			return err
		}
		if opts.json {
			return writeIndentedJSON(out, tools)
		}
		for _, t := range tools {
			fmt.Fprintln(out, t)
		}
		return nil
	}

	snap, err := store.Load(ctx, opts.series)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			return fmt.Errorf("no history for %q", opts.series)
		}
		return err
	}
	series := snap.Series
	if opts.window > 0 {
		series = series.Suffix(opts.window)
	}

	if opts.names {
		names := seriesNames(series)
		if opts.json {
			return writeIndentedJSON(out, names)
		}
		for _, n := range names {
			fmt.Fprintln(out, n)
		}
		return nil
	}

	if opts.json {
		runs := make([]json.RawMessage, series.Len())
		for i := range runs {
			runs[i] = series.Raw(i)
		}
		return writeIndentedJSON(out, runs)
	}
	return writeRunTable(out, series)
}

func openStore() (history.Store, error) {
	uri := viper.GetString(config.KeyStoreURI)
	if uri == "" {
		return nil, errors.New("no history store configured: use --store or BENCH_STORE_URI")
	}
	return history.Open(uri)
}

// seriesNames returns the distinct benchmark names of the series in
// first-seen order.
func seriesNames(s history.Series) []string {
	seen := make(map[string]bool)
	names := []string{}
	for _, run := range s.Runs() {
		for _, n := range run.Names() {
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}
	return names
}

func writeRunTable(w io.Writer, s history.Series) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "COMMIT\tDATE\tTOOL\tBENCHMARKS\tMESSAGE")
	for _, run := range s.Runs() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			shortSHA(run.Commit.ID),
			time.UnixMilli(run.Date).UTC().Format(time.RFC3339),
			run.Tool,
			len(run.Benches),
			firstLine(run.Commit.Message))
	}
	return tw.Flush()
}

func shortSHA(id string) string {
	if len(id) > 7 {
		return id[:7]
	}
	return id
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}

func writeIndentedJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
