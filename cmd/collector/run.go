package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"econpanel/internal/metrics"
	"econpanel/internal/model"
	"econpanel/internal/panel"
	"econpanel/internal/pipeline"
	"econpanel/internal/providers"
	"econpanel/internal/providers/fallback"
	"econpanel/internal/providers/worldbank"
	"econpanel/internal/snapshot"
	"econpanel/internal/store"
)

type runOptions struct {
	db          string
	indicators  string
	countries   string
	start       int
	end         int
	allowlist   string
	backupDir   string
	limit       int
	incremental bool
	concurrency int
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Fetch indicators from the World Bank and store them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.cfg
			if cmd.Flags().Changed("db") {
				cfg.Store.DBPath = opts.db
			}
			if cmd.Flags().Changed("allowlist") {
				cfg.Store.AllowlistPath = opts.allowlist
			}
			if cmd.Flags().Changed("backup-dir") {
				cfg.Store.BackupDir = opts.backupDir
			}
			if cmd.Flags().Changed("start") {
				cfg.Analysis.StartYear = opts.start
			}
			if cmd.Flags().Changed("end") {
				cfg.Analysis.EndYear = opts.end
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			provider, err := newProvider(root.logger)
			if err != nil {
				return err
			}
			return runCollector(cmd.Context(), cmd.OutOrStdout(), root, opts, provider, provider)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.db, "db", "", "sqlite database path (empty disables persistence)")
	flags.StringVar(&opts.indicators, "indicators", defaultIndicators(), "comma-separated indicator names or World Bank codes")
	flags.StringVar(&opts.countries, "countries", "", "comma-separated ISO3 list (skips the country reference)")
	flags.IntVar(&opts.start, "start", 0, "first year to fetch")
	flags.IntVar(&opts.end, "end", 0, "last year to fetch")
	flags.StringVar(&opts.allowlist, "allowlist", "", "path to allowlist file (empty = no filter)")
	flags.StringVar(&opts.backupDir, "backup-dir", "", "also write CSV/JSON panel backups here")
	flags.IntVar(&opts.limit, "limit", 0, "limit number of countries (0 = all)")
	flags.BoolVar(&opts.incremental, "incremental", false, "start from the latest year already stored")
	flags.IntVar(&opts.concurrency, "concurrency", 2, "indicators fetched in parallel")
	return cmd
}

func newProvider(logger *zap.Logger) (*worldbank.Provider, error) {
	wbConfig, err := worldbank.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return worldbank.NewWithConfig(wbConfig, worldbank.WithLogger(logger))
}

func defaultIndicators() string {
	names := make([]string, 0)
	for _, indicator := range model.Indicators() {
		names = append(names, indicator.Name)
	}
	return strings.Join(names, ",")
}

func parseIndicators(value string) ([]model.Indicator, error) {
	seen := make(map[string]struct{})
	indicators := make([]model.Indicator, 0)
	for _, item := range strings.Split(value, ",") {
		if strings.TrimSpace(item) == "" {
			continue
		}
		indicator, err := model.LookupIndicator(item)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[indicator.Name]; ok {
			continue
		}
		seen[indicator.Name] = struct{}{}
		indicators = append(indicators, indicator)
	}
	if len(indicators) == 0 {
		return nil, errors.New("no indicators provided")
	}
	return indicators, nil
}

func runCollector(ctx context.Context, out io.Writer, root *rootOptions, opts *runOptions, primary providers.Source, reference providers.CountryReference) error {
	cfg := root.cfg
	logger := root.logger
	started := time.Now().UTC()
	runID := uuid.NewString()
	recorder := metrics.New()

	indicators, err := parseIndicators(opts.indicators)
	if err != nil {
		return err
	}

	st, err := openStore(cfg.Store.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	allowed := map[string]struct{}{}
	if strings.TrimSpace(cfg.Store.AllowlistPath) != "" {
		loaded, err := providers.LoadAllowlist(cfg.Store.AllowlistPath)
		if err != nil {
			return err
		}
		allowed = loaded
	}

	backups := []providers.Source{store.SourceFrom(st, primary.Name())}
	if cfg.Store.BackupDir != "" {
		backups = append(backups, snapshot.NewSource(cfg.Store.BackupDir))
	}
	source := fallback.New(primary, backups,
		fallback.WithSink(newSink(st, primary.Name(), runID, cfg.Store.BackupDir, cfg.Analysis.StartYear, cfg.Analysis.EndYear, logger)),
		fallback.WithEvents(recorder),
		fallback.WithLogger(logger),
	)

	runnerOpts := []pipeline.RunnerOption{
		pipeline.WithAllowlist(allowed),
		pipeline.WithLogger(logger),
		pipeline.WithConcurrency(opts.concurrency),
	}
	if reference != nil {
		runnerOpts = append(runnerOpts, pipeline.WithCountryReference(reference))
	}
	runner := pipeline.NewRunner(source, runnerOpts...)

	countries := providers.ParseList(opts.countries)
	if len(countries) == 0 {
		countries, err = runner.ResolveCountries(ctx)
		if err != nil {
			return err
		}
	}
	if opts.limit > 0 && len(countries) > opts.limit {
		countries = countries[:opts.limit]
	}

	start := cfg.Analysis.StartYear
	if opts.incremental {
		start, err = incrementalStart(ctx, st, primary.Name(), indicators, start)
		if err != nil {
			return err
		}
	}
	logger.Info("collector run started",
		zap.String("run_id", runID),
		zap.Int("indicators", len(indicators)),
		zap.Int("countries", len(countries)),
		zap.Int("start", start),
		zap.Int("end", cfg.Analysis.EndYear),
	)

	fetched, err := runner.FetchAll(ctx, indicators, countries, start, cfg.Analysis.EndYear)
	if err != nil {
		return err
	}

	total := 0
	names := make([]string, 0, len(indicators))
	for _, indicator := range indicators {
		total += len(fetched[indicator.Name])
		names = append(names, indicator.Name)
	}

	finished := time.Now().UTC()
	if err := st.RecordRun(ctx, store.Run{
		ID:           runID,
		Command:      "collector run",
		StartedAt:    started,
		FinishedAt:   finished,
		Indicators:   names,
		Countries:    len(countries),
		Observations: total,
	}); err != nil {
		return err
	}
	recorder.RunFinished(finished.Sub(started))
	if err := recorder.WriteTextfile(cfg.Metrics.Textfile); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}

	fmt.Fprintf(out, "collector run complete (run=%s indicators=%d countries=%d observations=%d)\n",
		runID, len(indicators), len(countries), total,
	)
	return nil
}

// newSink persists primary fetches to the store and, when dir is set, to
// panel backups. A backup covers every stored year in [start, end] for the
// fetched countries, so an incremental fetch never shrinks it.
func newSink(st store.Store, provider, runID, dir string, start, end int, logger *zap.Logger) fallback.Sink {
	return fallback.SinkFunc(func(ctx context.Context, indicator model.Indicator, observations []model.Observation) error {
		if err := st.UpsertObservations(ctx, runID, observations); err != nil {
			return err
		}
		if dir == "" {
			return nil
		}
		stored, err := st.LoadObservations(ctx, store.Query{
			Provider:  provider,
			Indicator: indicator.Name,
			Countries: observedCountries(observations),
			Start:     start,
			End:       end,
		})
		if err != nil {
			return err
		}
		p, err := panel.FromObservations(mergeObservations(stored, observations))
		if err != nil {
			return err
		}
		csvPath, jsonPath, err := snapshot.Save(dir, indicator.Name, p, time.Now())
		if err != nil {
			return err
		}
		logger.Debug("backup written",
			zap.String("indicator", indicator.Name),
			zap.Int("years", len(p.Years())),
			zap.String("csv", csvPath),
			zap.String("json", jsonPath),
		)
		return nil
	})
}

func observedCountries(observations []model.Observation) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, observation := range observations {
		key := observation.Key()
		if _, ok := seen[key]; ok || key == "" {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

// mergeObservations overlays fetched on stored by country and year.
func mergeObservations(stored, fetched []model.Observation) []model.Observation {
	type key struct {
		country string
		year    int
	}
	index := make(map[key]int, len(stored)+len(fetched))
	out := make([]model.Observation, 0, len(stored)+len(fetched))
	for _, batch := range [][]model.Observation{stored, fetched} {
		for _, observation := range batch {
			k := key{country: observation.Key(), year: observation.Year}
			if i, ok := index[k]; ok {
				out[i] = observation
				continue
			}
			index[k] = len(out)
			out = append(out, observation)
		}
	}
	return out
}

// incrementalStart moves start up to the latest stored year across
// indicators. That year is fetched again since published values get revised.
// An indicator with nothing stored keeps start as is.
func incrementalStart(ctx context.Context, st store.Store, provider string, indicators []model.Indicator, start int) (int, error) {
	earliest := 0
	for _, indicator := range indicators {
		keys, err := st.ListObservationKeys(ctx, provider, indicator.Name)
		if err != nil {
			return 0, err
		}
		latest := 0
		for _, key := range keys {
			if key.Year > latest {
				latest = key.Year
			}
		}
		if latest == 0 {
			return start, nil
		}
		if earliest == 0 || latest < earliest {
			earliest = latest
		}
	}
	if earliest > start {
		return earliest, nil
	}
	return start, nil
}
