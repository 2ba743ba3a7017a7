package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"econpanel/internal/missing"
	"econpanel/internal/model"
)

type missingOptions struct {
	indicator string
	method    string
	fraction  float64
}

func newMissingCmd(root *rootOptions) *cobra.Command {
	opts := &missingOptions{}
	cmd := &cobra.Command{
		Use:   "missing",
		Short: "Report missing values for one indicator, optionally previewing an imputation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return reportMissing(cmd, root, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.indicator, "indicator", "imports", "indicator name or World Bank code")
	flags.StringVar(&opts.method, "method", "", "imputation preview: "+joinMethods())
	flags.Float64Var(&opts.fraction, "fraction", 0.5, "list countries missing more than this share of their years")
	return cmd
}

func joinMethods() string {
	names := make([]string, 0, len(missing.Methods()))
	for _, method := range missing.Methods() {
		names = append(names, string(method))
	}
	return strings.Join(names, ", ")
}

func reportMissing(cmd *cobra.Command, root *rootOptions, opts *missingOptions) error {
	indicator, err := model.LookupIndicator(opts.indicator)
	if err != nil {
		return err
	}
	source, release, err := root.openSource()
	if err != nil {
		return err
	}
	defer release()

	observations, err := source.FetchIndicator(cmd.Context(), indicator, nil, root.cfg.Analysis.StartYear, root.cfg.Analysis.EndYear)
	if err != nil {
		return err
	}

	column := indicator.Name
	table := missing.FromObservations(column, observations)
	summary, err := missing.Report(table, column)
	if err != nil {
		return err
	}
	byYear, err := missing.ByYear(table, column)
	if err != nil {
		return err
	}
	sparse, err := missing.CountriesAbove(table, column, opts.fraction)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, summary.String())
	for _, count := range byYear {
		fmt.Fprintf(out, "%d\t%d\n", count.Year, count.Missing)
	}
	fmt.Fprintf(out, "countries missing more than %.0f%%: %d\n", opts.fraction*100, len(sparse))
	if len(sparse) > 0 {
		fmt.Fprintln(out, strings.Join(sparse, ","))
	}

	if opts.method == "" {
		return nil
	}
	method := missing.Method(strings.ToLower(strings.TrimSpace(opts.method)))
	if !method.Known() {
		root.logger.Warn("unknown imputation method, values left as is", zap.String("method", opts.method))
	}
	imputed, err := missing.Impute(table, column, method)
	if err != nil {
		return err
	}
	after, err := missing.Report(imputed, column)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "after %s: %s\n", method, after.String())
	return nil
}
