package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"econpanel/internal/metrics"
	"econpanel/internal/pipeline"
	"econpanel/internal/report"
)

type buildOptions struct {
	out        string
	minYears   int
	threshold  float64
	yearPolicy string
	noWorkbook bool
}

func newBuildCmd(root *rootOptions) *cobra.Command {
	opts := &buildOptions{}
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Align, derive, filter and aggregate the trade indicators",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.cfg
			flags := cmd.Flags()
			if flags.Changed("out") {
				cfg.Output.Dir = opts.out
			}
			if flags.Changed("min-years") {
				cfg.Analysis.MinValidYears = opts.minYears
			}
			if flags.Changed("threshold") {
				cfg.Analysis.NetExporterThreshold = opts.threshold
			}
			if flags.Changed("year-policy") {
				cfg.Analysis.YearPolicy = opts.yearPolicy
			}
			if opts.noWorkbook {
				cfg.Output.Workbook = false
			}
			return build(cmd, root)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.out, "out", "out", "output directory")
	flags.IntVar(&opts.minYears, "min-years", 10, "minimum complete years for a country to be kept")
	flags.Float64Var(&opts.threshold, "threshold", 0, "mean balance above which a country is a net exporter")
	flags.StringVar(&opts.yearPolicy, "year-policy", "intersection", "year alignment: intersection or union")
	flags.BoolVar(&opts.noWorkbook, "no-workbook", false, "skip the XLSX workbook")
	return cmd
}

func build(cmd *cobra.Command, root *rootOptions) error {
	cfg := root.cfg
	logger := root.logger

	analysis, err := analysisOptions(cfg)
	if err != nil {
		return err
	}

	source, release, err := root.openSource()
	if err != nil {
		return err
	}
	defer release()

	recorder := metrics.New()
	runner := pipeline.NewRunner(source,
		pipeline.WithLogger(logger),
		pipeline.WithRecorder(recorder),
	)
	result, err := runner.Run(cmd.Context(), analysis)
	if err != nil {
		return err
	}

	meta := report.NewMeta(result, analysis, source.Name(), time.Now())
	writer := report.NewWriter(cfg.Output.Dir,
		report.WithWorkbook(cfg.Output.Workbook),
		report.WithDetail(cfg.Output.DetailCSV),
		report.WithLogger(logger),
	)
	paths, err := writer.Write(result, meta)
	if err != nil {
		return err
	}
	if err := recorder.WriteTextfile(cfg.Metrics.Textfile); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}

	logger.Debug("publisher build finished", zap.String("run_id", meta.RunID), zap.Int("files", len(paths)))
	fmt.Fprintf(cmd.OutOrStdout(), "publisher build complete (out=%s retained=%d excluded=%d)\n",
		cfg.Output.Dir, len(result.Reliability.Retained), len(result.Reliability.Excluded),
	)
	return nil
}
