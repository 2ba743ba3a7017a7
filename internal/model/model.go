package model

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

var ErrUnknownIndicator = errors.New("model: unknown indicator")

type Indicator struct {
	Name string
	Code string
}

var (
	IndicatorGDPReal      = Indicator{Name: "gdp_real", Code: "NY.GDP.MKTP.KD"}
	IndicatorGDPNominal   = Indicator{Name: "gdp_nominal", Code: "NY.GDP.MKTP.CD"}
	IndicatorGDPPerCapita = Indicator{Name: "gdp_per_capita", Code: "NY.GDP.PCAP.KD"}
	IndicatorUnemployment = Indicator{Name: "unemployment", Code: "SL.UEM.TOTL.ZS"}
	IndicatorExports      = Indicator{Name: "exports", Code: "NE.EXP.GNFS.ZS"}
	IndicatorImports      = Indicator{Name: "imports", Code: "NE.IMP.GNFS.ZS"}
)

var knownIndicators = []Indicator{
	IndicatorGDPReal,
	IndicatorGDPNominal,
	IndicatorGDPPerCapita,
	IndicatorUnemployment,
	IndicatorExports,
	IndicatorImports,
}

// Indicators returns the catalog sorted by name.
func Indicators() []Indicator {
	out := append([]Indicator(nil), knownIndicators...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// LookupIndicator resolves a catalog entry by name or World Bank code.
func LookupIndicator(value string) (Indicator, error) {
	trimmed := strings.TrimSpace(value)
	for _, indicator := range knownIndicators {
		if strings.EqualFold(indicator.Name, trimmed) || strings.EqualFold(indicator.Code, trimmed) {
			return indicator, nil
		}
	}
	return Indicator{}, fmt.Errorf("%w: %q", ErrUnknownIndicator, value)
}

type Country struct {
	Name        string
	ISO2        string
	ISO3        string
	Region      string
	IsAggregate bool
	IsUNMember  bool
}

type Observation struct {
	Provider    string
	Indicator   string
	CountryISO3 string
	CountryName string
	Year        int
	Value       float64
	IngestedAt  time.Time
}

// Key is the identifier used for panel columns: ISO3 when known, otherwise
// the display name.
func (o Observation) Key() string {
	if iso3 := strings.ToUpper(strings.TrimSpace(o.CountryISO3)); iso3 != "" {
		return iso3
	}
	return strings.TrimSpace(o.CountryName)
}

func (o Observation) HasValue() bool {
	return !IsMissing(o.Value)
}

func Missing() float64 {
	return math.NaN()
}

func IsMissing(value float64) bool {
	return math.IsNaN(value)
}
