package providers

import (
	"context"

	"econpanel/internal/model"
)

// Source returns one indicator as (country, year, value) observations for
// the given ISO3 codes and inclusive year range. Fresh and cached sources
// are interchangeable.
type Source interface {
	Name() string
	FetchIndicator(ctx context.Context, indicator model.Indicator, countries []string, start, end int) ([]model.Observation, error)
}

type CountryReference interface {
	ListCountries(ctx context.Context) ([]model.Country, error)
}

func ISO3Codes(countries []model.Country) []string {
	codes := make([]string, 0, len(countries))
	for _, country := range countries {
		if country.ISO3 != "" {
			codes = append(codes, country.ISO3)
		}
	}
	return codes
}
