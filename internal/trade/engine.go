// Package trade derives balance, ratio and openness panels from an aligned
// imports/exports/GDP set, filters countries with too little history, and
// reduces the result to one row per country.
package trade

import (
	"fmt"
	"math"

	"econpanel/internal/model"
	"econpanel/internal/panel"
)

type Indicators struct {
	Balance  *panel.Panel
	Ratio    *panel.Panel
	Openness *panel.Panel
}

func (ind Indicators) Countries() []string {
	if ind.Balance == nil {
		return nil
	}
	return ind.Balance.Countries()
}

func (ind Indicators) Restrict(countries []string) Indicators {
	return Indicators{
		Balance:  ind.Balance.Restrict(countries),
		Ratio:    ind.Ratio.Restrict(countries),
		Openness: ind.Openness.Restrict(countries),
	}
}

// Derive computes the three indicator panels. Any missing operand yields a
// missing cell. A zero import value makes the ratio missing, and openness is
// missing wherever GDP is missing even though GDP is not part of the sum.
func Derive(set panel.AlignedSet) (Indicators, error) {
	balance, err := panel.Combine(func(v []float64) float64 {
		return Balance(v[0], v[1])
	}, set.Exports, set.Imports)
	if err != nil {
		return Indicators{}, fmt.Errorf("trade: balance: %w", err)
	}

	ratio, err := panel.Combine(func(v []float64) float64 {
		return Ratio(v[0], v[1])
	}, set.Exports, set.Imports)
	if err != nil {
		return Indicators{}, fmt.Errorf("trade: ratio: %w", err)
	}

	openness, err := panel.Combine(func(v []float64) float64 {
		return Openness(v[0], v[1], v[2])
	}, set.Exports, set.Imports, set.GDP)
	if err != nil {
		return Indicators{}, fmt.Errorf("trade: openness: %w", err)
	}

	return Indicators{Balance: balance, Ratio: ratio, Openness: openness}, nil
}

func Balance(exports, imports float64) float64 {
	if model.IsMissing(exports) || model.IsMissing(imports) {
		return model.Missing()
	}
	return finite(exports - imports)
}

func Ratio(exports, imports float64) float64 {
	if model.IsMissing(exports) || model.IsMissing(imports) {
		return model.Missing()
	}
	// == 0 also matches -0.
	if imports == 0 {
		return model.Missing()
	}
	return finite(exports / imports)
}

// Openness is gated on GDP being present; a GDP of zero does not gate.
func Openness(exports, imports, gdp float64) float64 {
	if model.IsMissing(gdp) || model.IsMissing(exports) || model.IsMissing(imports) {
		return model.Missing()
	}
	return finite(imports + exports)
}

// finite maps an overflowed result to missing.
func finite(value float64) float64 {
	if math.IsInf(value, 0) {
		return model.Missing()
	}
	return value
}
