package worldbank

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"econpanel/internal/model"
)

// Every response is a two-element array: paging metadata, then rows. Errors
// arrive as a one-element array holding a message list.
type pageMeta struct {
	Page    flexInt      `json:"page"`
	Pages   flexInt      `json:"pages"`
	PerPage flexInt      `json:"per_page"`
	Total   flexInt      `json:"total"`
	Message []apiMessage `json:"message"`
}

type apiMessage struct {
	ID    string `json:"id"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

// flexInt accepts both 3 and "3"; the API mixes them across endpoints.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	trimmed := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if trimmed == "" || trimmed == "null" {
		*f = 0
		return nil
	}
	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return fmt.Errorf("worldbank: invalid integer %s", data)
	}
	*f = flexInt(value)
	return nil
}

func splitEnvelope(body []byte) (pageMeta, json.RawMessage, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(body, &parts); err != nil {
		return pageMeta{}, nil, fmt.Errorf("worldbank: unexpected response shape: %w", err)
	}
	if len(parts) == 0 {
		return pageMeta{}, nil, fmt.Errorf("worldbank: empty response")
	}

	var meta pageMeta
	if err := json.Unmarshal(parts[0], &meta); err != nil {
		return pageMeta{}, nil, fmt.Errorf("worldbank: decode page meta: %w", err)
	}
	if len(meta.Message) > 0 {
		messages := make([]string, 0, len(meta.Message))
		for _, message := range meta.Message {
			messages = append(messages, strings.TrimSpace(message.ID+" "+message.Key+": "+message.Value))
		}
		return pageMeta{}, nil, fmt.Errorf("%w: %s", ErrAPIMessage, strings.Join(messages, "; "))
	}
	if len(parts) < 2 {
		return meta, nil, nil
	}
	return meta, parts[1], nil
}

type idValue struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

type indicatorRow struct {
	Indicator       idValue  `json:"indicator"`
	Country         idValue  `json:"country"`
	CountryISO3Code string   `json:"countryiso3code"`
	Date            string   `json:"date"`
	Value           *float64 `json:"value"`
}

func (r indicatorRow) observation(indicator model.Indicator) (model.Observation, bool) {
	year, ok := parseYear(r.Date)
	if !ok {
		return model.Observation{}, false
	}
	iso3 := strings.ToUpper(strings.TrimSpace(r.CountryISO3Code))
	name := strings.TrimSpace(r.Country.Value)
	if iso3 == "" && name == "" {
		return model.Observation{}, false
	}
	value := model.Missing()
	if r.Value != nil {
		value = *r.Value
	}
	return model.Observation{
		Indicator:   indicator.Name,
		CountryISO3: iso3,
		CountryName: name,
		Year:        year,
		Value:       value,
	}, true
}

type countryRow struct {
	ID       string  `json:"id"`
	ISO2Code string  `json:"iso2Code"`
	Name     string  `json:"name"`
	Region   idValue `json:"region"`
}

func (r countryRow) country() model.Country {
	region := strings.TrimSpace(r.Region.Value)
	return model.Country{
		Name:        strings.TrimSpace(r.Name),
		ISO2:        strings.ToUpper(strings.TrimSpace(r.ISO2Code)),
		ISO3:        strings.ToUpper(strings.TrimSpace(r.ID)),
		Region:      region,
		IsAggregate: strings.EqualFold(region, aggregatesRegionName),
	}
}

func parseYear(value string) (int, bool) {
	value = strings.TrimSpace(value)
	if len(value) != 4 || !isDigits(value) {
		return 0, false
	}
	year, err := strconv.Atoi(value)
	if err != nil {
		return 0, false
	}
	return year, true
}

func isDigits(value string) bool {
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
