// Package pipeline wires the trade indicator steps together: observations
// become panels, panels are aligned, indicators derived, unreliable countries
// dropped, and the rest averaged and classified.
package pipeline

import (
	"errors"
	"fmt"

	"econpanel/internal/model"
	"econpanel/internal/panel"
	"econpanel/internal/trade"
)

type Options struct {
	Imports              model.Indicator
	Exports              model.Indicator
	GDP                  model.Indicator
	StartYear            int
	EndYear              int
	MinValidYears        int
	NetExporterThreshold float64
	YearPolicy           panel.YearPolicy
}

func DefaultOptions() Options {
	return Options{
		Imports:              model.IndicatorImports,
		Exports:              model.IndicatorExports,
		GDP:                  model.IndicatorGDPReal,
		StartYear:            2000,
		EndYear:              2024,
		MinValidYears:        trade.DefaultMinValidYears,
		NetExporterThreshold: trade.DefaultNetExporterThreshold,
		YearPolicy:           panel.YearsIntersection,
	}
}

func (o Options) Validate() error {
	if o.Imports.Code == "" || o.Exports.Code == "" || o.GDP.Code == "" {
		return errors.New("pipeline: imports, exports and gdp indicators are required")
	}
	if o.StartYear > 0 && o.EndYear > 0 && o.StartYear > o.EndYear {
		return fmt.Errorf("pipeline: start year %d is after end year %d", o.StartYear, o.EndYear)
	}
	if o.MinValidYears < 0 {
		return fmt.Errorf("pipeline: %w: %d", trade.ErrInvalidThreshold, o.MinValidYears)
	}
	return nil
}

// Inputs are the raw observations of the three input indicators.
type Inputs struct {
	Imports []model.Observation
	Exports []model.Observation
	GDP     []model.Observation
}

type Result struct {
	Aligned         panel.AlignedSet
	Reliability     trade.FilterResult
	Indicators      trade.Indicators
	Aggregates      []trade.CountryAggregate
	Classifications []trade.Classification
	Detail          []trade.DetailRow
}

func (r Result) Years() []int {
	return r.Aligned.Years()
}

// Analyze runs every step after fetching. It does not touch in.
func Analyze(in Inputs, opts Options) (Result, error) {
	if err := opts.Validate(); err != nil {
		return Result{}, err
	}

	imports, err := toPanel(opts.Imports, in.Imports, opts)
	if err != nil {
		return Result{}, err
	}
	exports, err := toPanel(opts.Exports, in.Exports, opts)
	if err != nil {
		return Result{}, err
	}
	gdp, err := toPanel(opts.GDP, in.GDP, opts)
	if err != nil {
		return Result{}, err
	}

	aligned, err := panel.Align(imports, exports, gdp, opts.YearPolicy)
	if err != nil {
		return Result{}, fmt.Errorf("pipeline: %w", err)
	}

	derived, err := trade.Derive(aligned)
	if err != nil {
		return Result{}, fmt.Errorf("pipeline: %w", err)
	}

	reliability, err := trade.FilterReliable(aligned, opts.MinValidYears)
	if err != nil {
		return Result{}, fmt.Errorf("pipeline: %w", err)
	}

	retained := derived.Restrict(reliability.Retained)
	aggregates := trade.Aggregate(retained)
	return Result{
		Aligned:         aligned,
		Reliability:     reliability,
		Indicators:      retained,
		Aggregates:      aggregates,
		Classifications: trade.Classify(aggregates, opts.NetExporterThreshold),
		Detail:          trade.Combine(aligned, retained),
	}, nil
}

func toPanel(indicator model.Indicator, observations []model.Observation, opts Options) (*panel.Panel, error) {
	inRange := make([]model.Observation, 0, len(observations))
	for _, observation := range observations {
		if opts.StartYear > 0 && observation.Year < opts.StartYear {
			continue
		}
		if opts.EndYear > 0 && observation.Year > opts.EndYear {
			continue
		}
		inRange = append(inRange, observation)
	}
	p, err := panel.FromObservations(inRange)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %s: %w", indicator.Name, err)
	}
	return p, nil
}
