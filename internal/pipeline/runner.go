package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"econpanel/internal/model"
	"econpanel/internal/providers"
)

// Recorder receives run-level counts. metrics.Recorder satisfies it.
type Recorder interface {
	CountryStates(retained, excluded int)
	RunFinished(elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) CountryStates(int, int) {}
func (nopRecorder) RunFinished(time.Duration) {}

// Runner fetches inputs from a Source and hands them to Analyze.
type Runner struct {
	source      providers.Source
	reference   providers.CountryReference
	allowlist   map[string]struct{}
	logger      *zap.Logger
	recorder    Recorder
	concurrency int
	now         func() time.Time
}

type RunnerOption func(*Runner)

func WithCountryReference(reference providers.CountryReference) RunnerOption {
	return func(r *Runner) { r.reference = reference }
}

// WithAllowlist restricts resolved countries to ISO3 codes in allowed. It is
// also the country list when the reference cannot be reached.
func WithAllowlist(allowed map[string]struct{}) RunnerOption {
	return func(r *Runner) { r.allowlist = allowed }
}

func WithLogger(logger *zap.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithRecorder(recorder Recorder) RunnerOption {
	return func(r *Runner) {
		if recorder != nil {
			r.recorder = recorder
		}
	}
}

// WithConcurrency caps parallel indicator fetches. Zero or less means one
// goroutine per indicator.
func WithConcurrency(limit int) RunnerOption {
	return func(r *Runner) { r.concurrency = limit }
}

func NewRunner(source providers.Source, opts ...RunnerOption) *Runner {
	r := &Runner{
		source:   source,
		logger:   zap.NewNop(),
		recorder: nopRecorder{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveCountries returns the ISO3 codes to request. An empty result means
// every country the source knows.
func (r *Runner) ResolveCountries(ctx context.Context) ([]string, error) {
	if r.reference == nil {
		return providers.ISO3Codes(providers.CountriesFromAllowlist(r.allowlist)), nil
	}

	countries, err := r.reference.ListCountries(ctx)
	if err != nil {
		if ctx.Err() != nil || len(r.allowlist) == 0 {
			return nil, fmt.Errorf("pipeline: list countries: %w", err)
		}
		r.logger.Warn("country reference unavailable, using allowlist",
			zap.Error(err),
			zap.Int("countries", len(r.allowlist)),
		)
		return providers.ISO3Codes(providers.CountriesFromAllowlist(r.allowlist)), nil
	}

	filtered := providers.FilterCountries(countries, r.allowlist)
	if len(filtered) == 0 {
		return nil, errors.New("pipeline: no countries left after filtering")
	}
	r.logger.Debug("countries resolved",
		zap.Int("listed", len(countries)),
		zap.Int("countries", len(filtered)),
	)
	return providers.ISO3Codes(filtered), nil
}

// FetchAll fetches every indicator concurrently. The first failure cancels
// the others and is returned.
func (r *Runner) FetchAll(ctx context.Context, indicators []model.Indicator, countries []string, start, end int) (map[string][]model.Observation, error) {
	if r.source == nil {
		return nil, errors.New("pipeline: no indicator source configured")
	}

	var mu sync.Mutex
	results := make(map[string][]model.Observation, len(indicators))

	g, gctx := errgroup.WithContext(ctx)
	if r.concurrency > 0 {
		g.SetLimit(r.concurrency)
	}
	for _, indicator := range indicators {
		g.Go(func() error {
			observations, err := r.source.FetchIndicator(gctx, indicator, countries, start, end)
			if err != nil {
				return fmt.Errorf("pipeline: fetch %s: %w", indicator.Name, err)
			}
			r.logger.Info("indicator fetched",
				zap.String("indicator", indicator.Name),
				zap.String("source", r.source.Name()),
				zap.Int("observations", len(observations)),
			)
			mu.Lock()
			results[indicator.Name] = observations
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Fetch resolves countries and fetches the three inputs named in opts.
func (r *Runner) Fetch(ctx context.Context, opts Options) (Inputs, error) {
	countries, err := r.ResolveCountries(ctx)
	if err != nil {
		return Inputs{}, err
	}
	fetched, err := r.FetchAll(ctx, []model.Indicator{opts.Imports, opts.Exports, opts.GDP}, countries, opts.StartYear, opts.EndYear)
	if err != nil {
		return Inputs{}, err
	}
	return Inputs{
		Imports: fetched[opts.Imports.Name],
		Exports: fetched[opts.Exports.Name],
		GDP:     fetched[opts.GDP.Name],
	}, nil
}

// Run fetches and analyzes in one go.
func (r *Runner) Run(ctx context.Context, opts Options) (Result, error) {
	started := r.now()
	if err := opts.Validate(); err != nil {
		return Result{}, err
	}

	inputs, err := r.Fetch(ctx, opts)
	if err != nil {
		return Result{}, err
	}
	result, err := Analyze(inputs, opts)
	if err != nil {
		return Result{}, err
	}

	retained := len(result.Reliability.Retained)
	excluded := len(result.Reliability.Excluded)
	r.recorder.CountryStates(retained, excluded)
	r.recorder.RunFinished(r.now().Sub(started))
	r.logger.Info("reliability filter applied",
		zap.Int("min_valid_years", opts.MinValidYears),
		zap.Int("retained", retained),
		zap.Int("excluded", excluded),
		zap.Int("years", len(result.Years())),
	)
	return result, nil
}
