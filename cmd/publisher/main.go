package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"econpanel/internal/config"
	"econpanel/internal/logging"
	"econpanel/internal/panel"
	"econpanel/internal/pipeline"
	"econpanel/internal/providers"
	"econpanel/internal/snapshot"
	"econpanel/internal/store"
	"econpanel/internal/store/sqlite"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "publisher:", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath  string
	metricsFile string
	verbose     bool

	db         string
	fromBackup string
	start      int
	end        int

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "publisher",
		Short:         "Build trade indicator reports from stored observations",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("metrics-file") {
				cfg.Metrics.Textfile = opts.metricsFile
			}
			if flags.Changed("db") {
				cfg.Store.DBPath = opts.db
			}
			if flags.Changed("start") {
				cfg.Analysis.StartYear = opts.start
			}
			if flags.Changed("end") {
				cfg.Analysis.EndYear = opts.end
			}
			logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Development, opts.verbose)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			opts.cfg = cfg
			opts.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "YAML config file (overrides ECONPANEL_* env)")
	flags.StringVar(&opts.metricsFile, "metrics-file", "", "write prometheus metrics to this textfile after the run")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	flags.StringVar(&opts.db, "db", "", "sqlite database path")
	flags.StringVar(&opts.fromBackup, "from-backup", "", "read the latest panel backups in this directory instead of the database")
	flags.IntVar(&opts.start, "start", 0, "first year")
	flags.IntVar(&opts.end, "end", 0, "last year")

	root.AddCommand(newBuildCmd(opts), newMissingCmd(opts))
	return root
}

// openSource returns the observation source and a function releasing it.
func (o *rootOptions) openSource() (providers.Source, func() error, error) {
	if strings.TrimSpace(o.fromBackup) != "" {
		return snapshot.NewSource(o.fromBackup), func() error { return nil }, nil
	}
	if strings.TrimSpace(o.cfg.Store.DBPath) == "" {
		return nil, nil, errors.New("db path is required")
	}
	st, err := sqlite.New(o.cfg.Store.DBPath)
	if err != nil {
		return nil, nil, err
	}
	return store.SourceFrom(st, o.cfg.Analysis.Provider), st.Close, nil
}

func analysisOptions(cfg *config.Config) (pipeline.Options, error) {
	if err := cfg.Validate(); err != nil {
		return pipeline.Options{}, err
	}
	imports, exports, gdp, err := cfg.Analysis.Indicators()
	if err != nil {
		return pipeline.Options{}, err
	}
	policy, err := panel.ParseYearPolicy(cfg.Analysis.YearPolicy)
	if err != nil {
		return pipeline.Options{}, err
	}
	return pipeline.Options{
		Imports:              imports,
		Exports:              exports,
		GDP:                  gdp,
		StartYear:            cfg.Analysis.StartYear,
		EndYear:              cfg.Analysis.EndYear,
		MinValidYears:        cfg.Analysis.MinValidYears,
		NetExporterThreshold: cfg.Analysis.NetExporterThreshold,
		YearPolicy:           policy,
	}, nil
}
