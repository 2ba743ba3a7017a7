package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"econpanel/internal/model"
	"econpanel/internal/providers"
)

var ErrNoObservations = errors.New("store: no observations")

type Store interface {
	UpsertObservations(ctx context.Context, runID string, observations []model.Observation) error
	LoadObservations(ctx context.Context, query Query) ([]model.Observation, error)
	ListObservationKeys(ctx context.Context, provider, indicator string) ([]ObservationKey, error)
	RecordRun(ctx context.Context, run Run) error
	Close() error
}

// Query filters stored observations. Zero fields do not filter; Start and
// End are inclusive.
type Query struct {
	Provider  string
	Indicator string
	Countries []string
	Start     int
	End       int
}

type ObservationKey struct {
	CountryISO3 string
	Year        int
}

type Run struct {
	ID           string
	Command      string
	StartedAt    time.Time
	FinishedAt   time.Time
	Indicators   []string
	Countries    int
	Observations int
}

type NopStore struct{}

func (s *NopStore) UpsertObservations(ctx context.Context, runID string, observations []model.Observation) error {
	_ = ctx
	_ = runID
	_ = observations
	return nil
}

func (s *NopStore) LoadObservations(ctx context.Context, query Query) ([]model.Observation, error) {
	_ = ctx
	_ = query
	return nil, nil
}

func (s *NopStore) ListObservationKeys(ctx context.Context, provider, indicator string) ([]ObservationKey, error) {
	_ = ctx
	_ = provider
	_ = indicator
	return nil, nil
}

func (s *NopStore) RecordRun(ctx context.Context, run Run) error {
	_ = ctx
	_ = run
	return nil
}

func (s *NopStore) Close() error {
	return nil
}

// Source serves cached observations through the providers.Source contract.
type Source struct {
	store    Store
	provider string
}

// SourceFrom reads observations saved under provider; an empty provider
// reads every provider's rows.
func SourceFrom(st Store, provider string) *Source {
	return &Source{store: st, provider: strings.TrimSpace(provider)}
}

func (s *Source) Name() string {
	return "store"
}

func (s *Source) FetchIndicator(ctx context.Context, indicator model.Indicator, countries []string, start, end int) ([]model.Observation, error) {
	observations, err := s.store.LoadObservations(ctx, Query{
		Provider:  s.provider,
		Indicator: indicator.Name,
		Countries: countries,
		Start:     start,
		End:       end,
	})
	if err != nil {
		return nil, err
	}
	if len(observations) == 0 {
		return nil, fmt.Errorf("%w: indicator=%s", ErrNoObservations, indicator.Name)
	}
	return observations, nil
}

var _ providers.Source = (*Source)(nil)
