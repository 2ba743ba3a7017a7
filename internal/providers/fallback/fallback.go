// Package fallback chains indicator sources: the primary is tried first and
// cached sources answer only when it fails.
package fallback

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"econpanel/internal/model"
	"econpanel/internal/providers"
)

var ErrNoFallback = errors.New("fallback: every source failed")

// Sink receives observations fetched from the primary source, typically a
// store or a backup writer. Sink failures are logged, not returned.
type Sink interface {
	Save(ctx context.Context, indicator model.Indicator, observations []model.Observation) error
}

type SinkFunc func(ctx context.Context, indicator model.Indicator, observations []model.Observation) error

func (f SinkFunc) Save(ctx context.Context, indicator model.Indicator, observations []model.Observation) error {
	return f(ctx, indicator, observations)
}

// Events lets callers count attempts and fallbacks.
type Events interface {
	FetchResult(indicator, source string, err error)
	Fallback(indicator, source string)
}

type Source struct {
	primary providers.Source
	backups []providers.Source
	sink    Sink
	events  Events
	logger  *zap.Logger
}

type Option func(*Source)

func WithSink(sink Sink) Option {
	return func(s *Source) { s.sink = sink }
}

func WithEvents(events Events) Option {
	return func(s *Source) { s.events = events }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Source) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(primary providers.Source, backups []providers.Source, opts ...Option) *Source {
	s := &Source{
		primary: primary,
		backups: append([]providers.Source(nil), backups...),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Source) Name() string {
	if s.primary == nil {
		return "fallback"
	}
	return s.primary.Name()
}

func (s *Source) FetchIndicator(ctx context.Context, indicator model.Indicator, countries []string, start, end int) ([]model.Observation, error) {
	var errs []error
	if s.primary != nil {
		observations, err := s.primary.FetchIndicator(ctx, indicator, countries, start, end)
		s.report(indicator, s.primary, err)
		if err == nil {
			s.save(ctx, indicator, observations)
			return observations, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("primary source failed",
			zap.String("indicator", indicator.Name),
			zap.String("source", s.primary.Name()),
			zap.Error(err),
		)
		errs = append(errs, fmt.Errorf("%s: %w", s.primary.Name(), err))
	}

	for _, backup := range s.backups {
		observations, err := backup.FetchIndicator(ctx, indicator, countries, start, end)
		s.report(indicator, backup, err)
		if err == nil {
			if s.events != nil {
				s.events.Fallback(indicator.Name, backup.Name())
			}
			s.logger.Info("served indicator from fallback",
				zap.String("indicator", indicator.Name),
				zap.String("source", backup.Name()),
				zap.Int("observations", len(observations)),
			)
			return observations, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		errs = append(errs, fmt.Errorf("%s: %w", backup.Name(), err))
	}

	return nil, fmt.Errorf("%w: indicator=%s: %w", ErrNoFallback, indicator.Name, errors.Join(errs...))
}

func (s *Source) report(indicator model.Indicator, source providers.Source, err error) {
	if s.events != nil {
		s.events.FetchResult(indicator.Name, source.Name(), err)
	}
}

func (s *Source) save(ctx context.Context, indicator model.Indicator, observations []model.Observation) {
	if s.sink == nil || len(observations) == 0 {
		return
	}
	if err := s.sink.Save(ctx, indicator, observations); err != nil {
		s.logger.Warn("failed to cache fetched observations",
			zap.String("indicator", indicator.Name),
			zap.Error(err),
		)
	}
}

var _ providers.Source = (*Source)(nil)
