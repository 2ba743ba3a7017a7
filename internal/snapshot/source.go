package snapshot

import (
	"context"
	"strings"

	"econpanel/internal/model"
	"econpanel/internal/providers"
)

// Source serves the latest backup of each indicator from Dir.
type Source struct {
	Dir string
}

func NewSource(dir string) *Source {
	return &Source{Dir: dir}
}

func (s *Source) Name() string {
	return "snapshot"
}

func (s *Source) FetchIndicator(ctx context.Context, indicator model.Indicator, countries []string, start, end int) ([]model.Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, _, err := LoadLatest(s.Dir, indicator.Name)
	if err != nil {
		return nil, err
	}
	if len(countries) > 0 {
		wanted := make([]string, 0, len(countries))
		for _, country := range countries {
			wanted = append(wanted, strings.ToUpper(strings.TrimSpace(country)))
		}
		p = p.Restrict(wanted)
	}

	observations := make([]model.Observation, 0)
	for _, observation := range p.Observations(indicator.Name) {
		if start > 0 && observation.Year < start {
			continue
		}
		if end > 0 && observation.Year > end {
			continue
		}
		observation.Provider = s.Name()
		observations = append(observations, observation)
	}
	return observations, nil
}

var _ providers.Source = (*Source)(nil)
