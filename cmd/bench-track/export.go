package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"benchtrack/internal/config"
	"benchtrack/internal/history"
	"benchtrack/internal/telemetry"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type exportOptions struct {
	out string
}

func newExportCmd() *cobra.Command {
	opts := &exportOptions{}
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the whole history as a data.js or JSON file",
		Long: `Copies every series of the store into one history document, the format
published for benchmark dashboards. Files ending in .js get the
"window.BENCHMARK_DATA = " prefix. Stored runs are copied byte for byte.`,
		Example: `  bench-track export --store sqlite:///var/lib/bench.db --out gh-pages/dev/bench/data.js`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.out, "out", "o", "", "Output file, - for stdout (required)")
	f.String("store", "", "History location (path, sqlite://, postgres://, git+file://)")
	f.String("repo-url", "", "Repository URL written into the document")
	cmd.MarkFlagRequired("out")

	return cmd
}

func runExport(cmd *cobra.Command, opts *exportOptions) error {
	if opts.out == "" {
		return errors.New("--out is required")
	}
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	js := opts.out == "-" || strings.HasSuffix(opts.out, ".js")
	doc, err := history.Export(cmd.Context(), store, js, history.WithRepoURL(viper.GetString(config.KeyRepoURL)))
	if err != nil {
		return err
	}
	data, err := doc.Encode()
	if err != nil {
		return err
	}

	if opts.out == "-" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.MkdirAll(filepath.Dir(opts.out), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(opts.out, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", opts.out, err)
	}
	telemetry.LogInfof("Exported %d series to %s", len(doc.Tools()), opts.out)
	fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d series to %s\n", len(doc.Tools()), opts.out)
	return nil
}
