package trade

import (
	"encoding/json"
	"math"

	"econpanel/internal/model"
)

const DefaultNetExporterThreshold = 0.0

type CountryAggregate struct {
	Country      string
	BalanceMean  float64
	RatioMean    float64
	OpennessMean float64
}

type aggregateJSON struct {
	Country      string   `json:"country"`
	BalanceMean  *float64 `json:"Balance_mean"`
	RatioMean    *float64 `json:"Ratio_mean"`
	OpennessMean *float64 `json:"Openness_mean"`
}

// MarshalJSON writes missing means as null.
func (a CountryAggregate) MarshalJSON() ([]byte, error) {
	return json.Marshal(aggregateJSON{
		Country:      a.Country,
		BalanceMean:  nullable(a.BalanceMean),
		RatioMean:    nullable(a.RatioMean),
		OpennessMean: nullable(a.OpennessMean),
	})
}

func (a *CountryAggregate) UnmarshalJSON(data []byte) error {
	var raw aggregateJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	a.Country = raw.Country
	a.BalanceMean = orMissing(raw.BalanceMean)
	a.RatioMean = orMissing(raw.RatioMean)
	a.OpennessMean = orMissing(raw.OpennessMean)
	return nil
}

type Classification struct {
	Country     string
	BalanceMean float64
	NetExporter int
}

func (c Classification) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Country     string   `json:"country"`
		BalanceMean *float64 `json:"Balance_mean"`
		NetExporter int      `json:"net_exporter"`
	}{c.Country, nullable(c.BalanceMean), c.NetExporter})
}

// Aggregate averages each indicator over the year axis, one row per country
// in column order. Missing years are skipped rather than counted as zero; a
// country with no observed year gets a missing mean.
func Aggregate(ind Indicators) []CountryAggregate {
	countries := ind.Countries()
	out := make([]CountryAggregate, 0, len(countries))
	for _, country := range countries {
		out = append(out, CountryAggregate{
			Country:      country,
			BalanceMean:  Mean(ind.Balance.Column(country)),
			RatioMean:    Mean(ind.Ratio.Column(country)),
			OpennessMean: Mean(ind.Openness.Column(country)),
		})
	}
	return out
}

// Classify labels a country a net exporter when its mean balance is strictly
// above threshold.
func Classify(aggregates []CountryAggregate, threshold float64) []Classification {
	out := make([]Classification, 0, len(aggregates))
	for _, agg := range aggregates {
		label := 0
		if agg.BalanceMean > threshold {
			label = 1
		}
		out = append(out, Classification{
			Country:     agg.Country,
			BalanceMean: agg.BalanceMean,
			NetExporter: label,
		})
	}
	return out
}

// Mean ignores missing values and returns missing when nothing is left or
// the sum overflows.
func Mean(values []float64) float64 {
	sum := 0.0
	count := 0
	for _, value := range values {
		if model.IsMissing(value) {
			continue
		}
		sum += value
		count++
	}
	if count == 0 {
		return model.Missing()
	}
	return finite(sum / float64(count))
}

func nullable(value float64) *float64 {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return nil
	}
	return &value
}

func orMissing(value *float64) float64 {
	if value == nil {
		return model.Missing()
	}
	return *value
}
